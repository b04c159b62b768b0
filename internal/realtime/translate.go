package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/sitenotify/internal/model"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event names the server emits.
const (
	EventNotification = "notification"
	EventJoin         = "join"
)

// domainEvent is the payload shared by the workflow events.
type domainEvent struct {
	NotificationID model.ID  `json:"notification_id"`
	EntityID       model.ID  `json:"id"`
	Reference      string    `json:"reference"`
	ProjectName    string    `json:"project_name"`
	ActorName      string    `json:"actor_name"`
	ActorID        model.ID  `json:"actor_id"`
	TargetUserID   model.ID  `json:"target_user_id"`
	TargetRole     string    `json:"target_role"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

type domainRule struct {
	kind     string // human name of the entity
	verb     string
	typ      model.NotificationType
	priority model.Priority
	category string
	path     string // action URL prefix
}

var domainRules = map[string]domainRule{
	"pr:submitted": {"purchase request", "submitted", model.TypeApproval, model.PriorityHigh, "procurement", "/procurement/purchase-requests/"},
	"pr:approved":  {"purchase request", "approved", model.TypeSuccess, model.PriorityMedium, "procurement", "/procurement/purchase-requests/"},
	"pr:rejected":  {"purchase request", "rejected", model.TypeRejection, model.PriorityHigh, "procurement", "/procurement/purchase-requests/"},
	"pr:forwarded": {"purchase request", "forwarded", model.TypeApproval, model.PriorityHigh, "procurement", "/procurement/purchase-requests/"},
	"cr:submitted": {"change request", "submitted", model.TypeApproval, model.PriorityHigh, "change_request", "/change-requests/"},
	"cr:approved":  {"change request", "approved", model.TypeSuccess, model.PriorityMedium, "change_request", "/change-requests/"},
	"cr:rejected":  {"change request", "rejected", model.TypeRejection, model.PriorityHigh, "change_request", "/change-requests/"},
	"boq:approved": {"BOQ", "approved", model.TypeSuccess, model.PriorityMedium, "boq", "/boq/"},
	"boq:rejected": {"BOQ", "rejected", model.TypeRejection, model.PriorityHigh, "boq", "/boq/"},
}

// IsDomainEvent reports whether event is a workflow event Translate knows.
func IsDomainEvent(event string) bool {
	_, ok := domainRules[event]
	return ok
}

// Translate converts a frame into the generic notification shape. It
// returns false for events that carry no notification. A workflow event
// without notification_id yields a notification with an empty ID: only the
// server assigns ids, so the caller has to fetch the stored copy instead of
// ingesting this one.
func Translate(env Envelope) (model.Notification, bool, error) {
	if env.Event == EventNotification {
		var n model.Notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			return model.Notification{}, false, fmt.Errorf("decoding notification: %w", err)
		}
		n.Normalize()
		return n, n.ID != "", nil
	}

	rule, ok := domainRules[env.Event]
	if !ok {
		return model.Notification{}, false, nil
	}
	var ev domainEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return model.Notification{}, false, fmt.Errorf("decoding %s: %w", env.Event, err)
	}

	if ev.NotificationID == "" && ev.EntityID == "" {
		return model.Notification{}, false, nil
	}

	ref := ev.Reference
	if ref == "" {
		ref = "#" + string(ev.EntityID)
	}

	var msg strings.Builder
	if ev.ActorName != "" {
		fmt.Fprintf(&msg, "%s %s %s %s", ev.ActorName, rule.verb, rule.kind, ref)
	} else {
		fmt.Fprintf(&msg, "%s %s was %s", capitalize(rule.kind), ref, rule.verb)
	}
	if ev.ProjectName != "" {
		fmt.Fprintf(&msg, " for %s", ev.ProjectName)
	}
	if ev.Reason != "" {
		fmt.Fprintf(&msg, ": %s", ev.Reason)
	}

	n := model.Notification{
		ID:           ev.NotificationID,
		Type:         rule.typ,
		Title:        fmt.Sprintf("%s %s", capitalize(rule.kind), rule.verb),
		Message:      msg.String(),
		Priority:     rule.priority,
		CreatedAt:    ev.CreatedAt,
		Category:     rule.category,
		ActionLabel:  "View " + rule.kind,
		SenderName:   ev.ActorName,
		SenderID:     ev.ActorID,
		TargetUserID: ev.TargetUserID,
		TargetRole:   ev.TargetRole,
		Metadata: map[string]any{
			"event":     env.Event,
			"entity_id": string(ev.EntityID),
		},
	}
	if ev.EntityID != "" {
		n.ActionURL = rule.path + string(ev.EntityID)
	}
	n.Normalize()
	return n, true, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
