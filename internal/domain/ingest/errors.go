package ingest

import (
	"errors"
	"fmt"
)

// Sentinel kinds for ingest errors.
var (
	ErrValidation = errors.New("validation error")
	ErrEmptyBatch = errors.New("empty batch")
)

// Validation reasons, also used as metric labels.
const (
	ReasonMissingMachine = "missing_machine_id"
	ReasonMissingChannel = "missing_channel"
	ReasonMissingTime    = "missing_timestamp"
	ReasonUnparseable    = "unparseable_field"
	ReasonNonFinite      = "non_finite_value"
	ReasonFuture         = "future_timestamp"
	ReasonUnitMismatch   = "unit_mismatch"
)

// ValidationError rejects a single record of a batch.
type ValidationError struct {
	Index     int    `json:"index"`
	MachineID string `json:"machine_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("record %d (%s/%s): %s", e.Index, e.MachineID, e.Channel, e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets callers match with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }
