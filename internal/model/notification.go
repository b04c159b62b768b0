package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Priority orders notifications by urgency. The zero value is invalid and
// normalizes to PriorityMedium.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// ParsePriority maps a server priority label to a Priority. Unknown or
// missing labels default to PriorityMedium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "urgent", "critical":
		return PriorityUrgent
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "medium"
	}
}

// MarshalJSON encodes the priority as its label.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a label or a null/missing value.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*p = PriorityMedium
		return nil
	}
	*p = ParsePriority(s)
	return nil
}

// NotificationType is the categorical kind of a notification.
type NotificationType string

const (
	TypeInfo      NotificationType = "info"
	TypeSuccess   NotificationType = "success"
	TypeError     NotificationType = "error"
	TypeWarning   NotificationType = "warning"
	TypeApproval  NotificationType = "approval"
	TypeAlert     NotificationType = "alert"
	TypeRejection NotificationType = "rejection"
	TypeUpdate    NotificationType = "update"
	TypeReminder  NotificationType = "reminder"
)

var knownTypes = map[NotificationType]bool{
	TypeInfo: true, TypeSuccess: true, TypeError: true, TypeWarning: true,
	TypeApproval: true, TypeAlert: true, TypeRejection: true,
	TypeUpdate: true, TypeReminder: true,
}

// Origin identifies the channel a notification arrived through.
type Origin string

const (
	OriginRealtime   Origin = "realtime"
	OriginPoll       Origin = "poll"
	OriginBackground Origin = "background"
	OriginLocal      Origin = "local"
)

// ID is a server-assigned notification identifier. The backend emits both
// numeric and string ids, so decoding accepts either.
type ID string

// UnmarshalJSON decodes a JSON string or number into its canonical string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// Notification is the canonical notification entity shared by every channel.
type Notification struct {
	ID           ID               `json:"id"`
	Type         NotificationType `json:"type"`
	Title        string           `json:"title"`
	Message      string           `json:"message"`
	Priority     Priority         `json:"priority"`
	CreatedAt    time.Time        `json:"created_at"`
	Read         bool             `json:"read"`
	Category     string           `json:"category,omitempty"`
	ActionURL    string           `json:"action_url,omitempty"`
	ActionLabel  string           `json:"action_label,omitempty"`
	SenderName   string           `json:"sender_name,omitempty"`
	SenderID     ID               `json:"sender_id,omitempty"`
	TargetUserID ID               `json:"target_user_id,omitempty"`
	TargetRole   string           `json:"target_role,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`

	// SenderConfirmation marks a "confirm your own action" notification.
	SenderConfirmation bool `json:"sender_confirmation,omitempty"`
}

// Normalize fills defaults for fields a malformed payload left empty.
func (n *Notification) Normalize() {
	n.ID = ID(strings.TrimSpace(string(n.ID)))
	if n.Priority < PriorityLow || n.Priority > PriorityUrgent {
		n.Priority = PriorityMedium
	}
	n.Type = NotificationType(strings.ToLower(strings.TrimSpace(string(n.Type))))
	if !knownTypes[n.Type] {
		n.Type = TypeInfo
	}
	if strings.TrimSpace(n.Title) == "" {
		n.Title = "Notification"
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
}

// Clone returns a copy with its own metadata map.
func (n Notification) Clone() Notification {
	if n.Metadata != nil {
		md := make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			md[k] = v
		}
		n.Metadata = md
	}
	return n
}

// ListResponse is the body of GET /notifications.
type ListResponse struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	Notifications []Notification `json:"notifications"`
	Total         int            `json:"total"`
	UnreadCount   int            `json:"unread_count"`
}
