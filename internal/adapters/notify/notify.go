// Package notify delivers alert notifications to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
)

// ErrDispatch reports a notification that could not be delivered.
var ErrDispatch = errors.New("dispatch failure")

// Notifier delivers one notification. Implementations return errors and
// never panic; wrap non-retryable failures with Permanent.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n model.Notification) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// statusError classifies an HTTP response: 429 and 5xx are retryable,
// other non-2xx statuses are permanent.
func statusError(target string, resp *http.Response, body string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("%s responded %d: %s", target, resp.StatusCode, body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return Permanent(err)
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier logging through log.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(ctx context.Context, n model.Notification) error {
	l.log.Warn(ctx, "alert notification",
		logger.String("key", n.Key),
		logger.String("machine_id", n.MachineID),
		logger.String("kind", string(n.Kind)),
		logger.String("from", n.PreviousState.String()),
		logger.String("to", n.NewState.String()),
		logger.Float64("score", n.Score),
		logger.Float64("peak", n.PeakScore),
	)
	return nil
}
