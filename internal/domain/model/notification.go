package model

import "time"

// NotificationKind classifies a notification.
type NotificationKind string

// Notification kinds.
const (
	KindWatch    NotificationKind = "watch"
	KindCritical NotificationKind = "critical"
	KindResolved NotificationKind = "resolved"
)

// Notification is the payload handed to a notifier.
type Notification struct {
	Key           string           `json:"key"`
	MachineID     string           `json:"machine_id"`
	Kind          NotificationKind `json:"kind"`
	NewState      State            `json:"new_state"`
	PreviousState State            `json:"previous_state"`
	Score         float64          `json:"score"`
	PeakScore     float64          `json:"peak_score"`
	Timestamp     time.Time        `json:"timestamp"`
	MessageText   string           `json:"message_text"`
}

// NotificationKey builds the idempotency key machine|state|timestamp.
func NotificationKey(machineID string, state State, ts time.Time) string {
	return machineID + "|" + state.String() + "|" + ts.UTC().Format(time.RFC3339Nano)
}
