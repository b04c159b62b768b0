package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Technical Director":    "technical_director",
		"technical-director":    "technical_director",
		"  TECHNICAL__director": "technical_director",
		"site - engineer":       "site_engineer",
		"_pm_":                  "pm",
		"":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestMatcherDefaults(t *testing.T) {
	m := NewMatcher(nil)

	assert.True(t, m.Match("td", "Technical Director"))
	assert.True(t, m.Match("technical_director", "TD"))
	assert.True(t, m.Match("Site Supervisor", "site-engineer"))
	assert.False(t, m.Match("pm", "td"))
	assert.False(t, m.Match("", ""))
}

func TestMatcherConfiguredAliases(t *testing.T) {
	m := NewMatcher(map[string][]string{
		"quantity_surveyor": {"qs"},
		"estimator":         {"cost engineer"},
	})

	assert.True(t, m.Match("QS", "quantity surveyor"))
	assert.True(t, m.Match("Cost-Engineer", "est"))
	assert.Equal(t, "quantity_surveyor", m.Canonical("qs"))
	assert.Equal(t, "unknown_role", m.Canonical("Unknown Role"))
}
