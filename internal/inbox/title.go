package inbox

import "fmt"

// FormatTitle renders the window title for an unread count using the
// "(N) AppName" pattern. A zero count renders the bare app name.
func FormatTitle(unread int, appName string) string {
	if unread <= 0 {
		return appName
	}
	return fmt.Sprintf("(%d) %s", unread, appName)
}
