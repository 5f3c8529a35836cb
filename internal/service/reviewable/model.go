package reviewable

import (
	"fmt"
	"time"
)

// Status is the resolution state of a reviewable item.
type Status int

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
	StatusIgnored
	StatusDeleted
)

var statusLabels = map[Status]string{
	StatusPending:  "pending",
	StatusApproved: "approved",
	StatusRejected: "rejected",
	StatusIgnored:  "ignored",
	StatusDeleted:  "deleted",
}

// Statuses lists every status in storage order.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRejected, StatusIgnored, StatusDeleted}
}

func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Resolved reports whether the item has left the queue.
func (s Status) Resolved() bool {
	return s != StatusPending
}

// MarshalText encodes the status as its label.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status label.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus resolves a status label. Unknown labels are an InvalidFilterError.
func ParseStatus(label string) (Status, error) {
	for s, l := range statusLabels {
		if l == label {
			return s, nil
		}
	}
	return 0, &InvalidFilterError{Param: "status", Value: label}
}

// Kind names a registered variant of reviewable item.
type Kind string

// TargetRef points at the entity under review.
type TargetRef struct {
	Type string `json:"target_type"`
	ID   int64  `json:"target_id"`
}

// IsZero reports whether the reference is unset.
func (t TargetRef) IsZero() bool {
	return t.Type == "" || t.ID == 0
}

func (t TargetRef) String() string {
	return fmt.Sprintf("%s:%d", t.Type, t.ID)
}

// TargetState mirrors the moderation state of the entity under review.
type TargetState string

const (
	TargetUnknown   TargetState = ""
	TargetVisible   TargetState = "visible"
	TargetHidden    TargetState = "hidden"
	TargetDeleted   TargetState = "deleted"
	TargetPublished TargetState = "published"
	TargetActive    TargetState = "active"
	TargetSuspended TargetState = "suspended"
)

// Item is a reviewable item. Kind is immutable after creation and Version is the
// optimistic-lock token.
type Item struct {
	ID              int64                  `json:"id"`
	Kind            Kind                   `json:"type"`
	Status          Status                 `json:"status"`
	Version         int64                  `json:"version"`
	Payload         map[string]interface{} `json:"payload"`
	Target          TargetRef              `json:"target"`
	TopicID         *int64                 `json:"topic_id,omitempty"`
	CategoryID      *int64                 `json:"category_id,omitempty"`
	CreatedBy       int64                  `json:"created_by_id"`
	TargetCreatedBy *int64                 `json:"target_created_by_id,omitempty"`
	Score           float64                `json:"score"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	out.Payload = ClonePayload(i.Payload)
	out.TopicID = cloneInt64(i.TopicID)
	out.CategoryID = cloneInt64(i.CategoryID)
	out.TargetCreatedBy = cloneInt64(i.TargetCreatedBy)
	return &out
}

// ClonePayload deep-copies nested maps and slices of a payload.
func ClonePayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return ClonePayload(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// NewItem describes a triggering event that needs review.
type NewItem struct {
	Kind            Kind
	Target          TargetRef
	Payload         map[string]interface{}
	TopicID         *int64
	CategoryID      *int64
	CreatedBy       int64
	TargetCreatedBy *int64
}

// Score is one user's contribution to an item's score.
type Score struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"reviewable_id"`
	UserID    int64     `json:"user_id"`
	Weight    float64   `json:"score"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryType classifies moderation history rows.
type HistoryType string

const (
	HistoryCreated      HistoryType = "created"
	HistoryTransitioned HistoryType = "transitioned"
)

// HistoryEntry is one moderation history row.
type HistoryEntry struct {
	ItemID    int64       `json:"reviewable_id"`
	Type      HistoryType `json:"type"`
	Status    Status      `json:"status"`
	ActorID   int64       `json:"created_by_id"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
}

// Notification is a message enqueued in the outbox within an action's transaction.
type Notification struct {
	ID          string                 `json:"id"`
	ItemID      int64                  `json:"reviewable_id"`
	Type        string                 `json:"type"`
	RecipientID int64                  `json:"recipient_id"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
}

// TopicStats is the per-topic rollup of pending items visible to a viewer.
type TopicStats struct {
	TopicID         int64   `json:"id"`
	Score           float64 `json:"reviewable_score"`
	PendingCount    int     `json:"reviewable_count"`
	UniqueReporters int     `json:"unique_users"`
}
