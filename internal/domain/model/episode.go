package model

import (
	"fmt"
	"strings"
	"time"
)

// State is the escalation state of a machine.
type State uint8

// Escalation states.
const (
	StateNormal State = iota
	StateWatch
	StateCritical
	StateRecovering
)

var stateNames = [...]string{"NORMAL", "WATCH", "CRITICAL", "RECOVERING"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToUpper(strings.TrimSpace(string(b)))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// AlertEpisode tracks a period during which a machine is above NORMAL.
// Owned by exactly one worker; readers get copies.
type AlertEpisode struct {
	MachineID      string    `json:"machine_id"`
	State          State     `json:"state"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	LastScore      float64   `json:"last_score"`
	PeakScore      float64   `json:"peak_score"`
	LastNotifiedAt time.Time `json:"last_notified_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
	RecoveryCount  int       `json:"recovery_count"`
	Notifications  int       `json:"notifications"`
}

// Active reports whether the episode is open.
func (e AlertEpisode) Active() bool { return e.State != StateNormal }
