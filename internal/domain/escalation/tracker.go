package escalation

import (
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// Decision is the outcome of feeding one assessment to a tracker.
type Decision struct {
	MachineID string
	From      model.State
	To        model.State
	// Notification is nil when nothing should be sent.
	Notification *model.Notification
	// Suppressed names why a notification was withheld, if one was due.
	Suppressed string
	Episode    model.AlertEpisode
}

// Transitioned reports whether the state changed.
func (d Decision) Transitioned() bool { return d.From != d.To }

type mark struct {
	at   time.Time
	peak float64
}

// Tracker is the state machine of one machine. It is not safe for
// concurrent use; a single worker owns it.
type Tracker struct {
	policy  Policy
	episode model.AlertEpisode
	last    time.Time
	// last notification per state, kept across episodes
	marks map[model.State]mark
}

// NewTracker starts a machine in NORMAL.
func NewTracker(machineID string, policy Policy) *Tracker {
	return &Tracker{
		policy:  policy,
		episode: model.AlertEpisode{MachineID: machineID, State: model.StateNormal},
		marks:   make(map[model.State]mark),
	}
}

// Episode returns a copy of the current episode.
func (t *Tracker) Episode() model.AlertEpisode { return t.episode }

// LastAssessed returns the timestamp of the latest assessment applied.
func (t *Tracker) LastAssessed() time.Time { return t.last }

// Step applies one assessment. Assessments not newer than the last one are
// ignored so replays never rewind the machine.
func (t *Tracker) Step(a model.RiskAssessment) Decision {
	ep := &t.episode
	d := Decision{MachineID: ep.MachineID, From: ep.State, To: ep.State}
	if !t.last.IsZero() && !a.Timestamp.After(t.last) {
		d.Suppressed = SuppressedStale
		d.Episode = *ep
		return d
	}
	t.last = a.Timestamp

	p := t.policy
	score := a.Score
	ep.LastScore = score
	ep.UpdatedAt = a.Timestamp
	if ep.Active() && score > ep.PeakScore {
		ep.PeakScore = score
	}

	switch ep.State {
	case model.StateNormal:
		switch {
		case score >= p.Critical:
			t.open(a)
			t.enter(&d, a, model.StateCritical)
		case score >= p.Watch:
			t.open(a)
			t.enter(&d, a, model.StateWatch)
		}

	case model.StateWatch:
		switch {
		case score >= p.Critical:
			ep.RecoveryCount = 0
			t.enter(&d, a, model.StateCritical)
		case score < p.Watch:
			ep.RecoveryCount++
			if ep.RecoveryCount >= p.RecoveryWindows {
				t.resolve(&d, a)
			}
		default:
			ep.RecoveryCount = 0
			t.stay(&d, a)
		}

	case model.StateCritical:
		if score >= p.Critical {
			t.stay(&d, a)
			break
		}
		ep.State = model.StateRecovering
		ep.RecoveryCount = 0
		if score < p.Watch {
			ep.RecoveryCount = 1
		}

	case model.StateRecovering:
		switch {
		case score >= p.Critical:
			ep.RecoveryCount = 0
			t.enter(&d, a, model.StateCritical)
		case score >= p.Watch:
			ep.RecoveryCount = 0
		default:
			ep.RecoveryCount++
			if ep.RecoveryCount >= p.RecoveryWindows {
				t.resolve(&d, a)
			}
		}
	}

	d.To = ep.State
	d.Episode = *ep
	return d
}

func (t *Tracker) open(a model.RiskAssessment) {
	t.episode.OpenedAt = a.Timestamp
	t.episode.PeakScore = a.Score
	t.episode.Notifications = 0
	t.episode.RecoveryCount = 0
	t.episode.LastNotifiedAt = time.Time{}
}

// enter moves to an alerting state, notifying unless debounced.
func (t *Tracker) enter(d *Decision, a model.RiskAssessment, to model.State) {
	prev := t.episode.State
	t.episode.State = to
	if m, ok := t.marks[to]; ok &&
		a.Timestamp.Sub(m.at) < t.policy.Debounce &&
		t.episode.PeakScore-m.peak <= t.policy.RenotifyDelta {
		d.Suppressed = SuppressedDebounce
		return
	}
	t.notify(d, a, prev, to, kindOf(to))
}

// stay re-notifies within a state only on a significant peak increase.
func (t *Tracker) stay(d *Decision, a model.RiskAssessment) {
	st := t.episode.State
	m, ok := t.marks[st]
	if !ok {
		return
	}
	if t.episode.PeakScore-m.peak <= t.policy.RenotifyDelta {
		if a.Score > m.peak {
			d.Suppressed = SuppressedNoIncrease
		}
		return
	}
	t.notify(d, a, st, st, kindOf(st))
}

func (t *Tracker) resolve(d *Decision, a model.RiskAssessment) {
	prev := t.episode.State
	sent := t.episode.Notifications
	if sent > 0 {
		t.notify(d, a, prev, model.StateNormal, model.KindResolved)
	} else {
		d.Suppressed = SuppressedSilent
	}
	// close the episode; marks survive
	t.episode = model.AlertEpisode{
		MachineID:      t.episode.MachineID,
		State:          model.StateNormal,
		LastScore:      a.Score,
		LastNotifiedAt: t.episode.LastNotifiedAt,
		UpdatedAt:      a.Timestamp,
	}
}

func (t *Tracker) notify(d *Decision, a model.RiskAssessment, from, to model.State, kind model.NotificationKind) {
	ep := &t.episode
	ep.Notifications++
	ep.LastNotifiedAt = a.Timestamp
	if to != model.StateNormal {
		t.marks[to] = mark{at: a.Timestamp, peak: ep.PeakScore}
	}
	n := &model.Notification{
		Key:           model.NotificationKey(ep.MachineID, to, a.Timestamp),
		MachineID:     ep.MachineID,
		Kind:          kind,
		NewState:      to,
		PreviousState: from,
		Score:         a.Score,
		PeakScore:     ep.PeakScore,
		Timestamp:     a.Timestamp,
	}
	n.MessageText = Message(*n, a)
	d.Notification = n
	d.Suppressed = ""
}

func kindOf(s model.State) model.NotificationKind {
	if s == model.StateCritical {
		return model.KindCritical
	}
	return model.KindWatch
}
