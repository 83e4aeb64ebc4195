package escalation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/guardian/internal/domain/model"
)

// abnormalDeviation is the deviation above which a channel is listed.
const abnormalDeviation = 0.5

func header(k model.NotificationKind) (level, action string) {
	switch k {
	case model.KindCritical:
		return "CRITICAL", "Immediate inspection required."
	case model.KindWatch:
		return "WATCH", "Schedule maintenance within 24 hours."
	default:
		return "RESOLVED", "All parameters back within baseline."
	}
}

// Message renders the operator-facing text of a notification.
func Message(n model.Notification, a model.RiskAssessment) string {
	level, action := header(n.Kind)

	var b strings.Builder
	fmt.Fprintf(&b, "%s machine alert\n\n", level)
	fmt.Fprintf(&b, "Machine: %s\n", n.MachineID)
	fmt.Fprintf(&b, "Time: %s\n", n.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "State: %s -> %s\n", n.PreviousState, n.NewState)
	fmt.Fprintf(&b, "Risk score: %.1f (peak %.1f)\n", n.Score, n.PeakScore)
	if a.InsufficientBaseline {
		b.WriteString("Baseline: insufficient history\n")
	}

	channels := make([]string, 0, len(a.Deviations))
	for ch, d := range a.Deviations {
		if d >= abnormalDeviation {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		di, dj := a.Deviations[channels[i]], a.Deviations[channels[j]]
		if di != dj {
			return di > dj
		}
		return channels[i] < channels[j]
	})
	if len(channels) > 0 && n.Kind != model.KindResolved {
		b.WriteString("\nAbnormal parameters:\n")
		for _, ch := range channels {
			w, base := a.Windows[ch], a.Baselines[ch]
			fmt.Fprintf(&b, "- %s: %.3f (baseline %.3f +/- %.3f), deviation %.2f",
				ch, w.Mean, base.Mean, base.StdDev, a.Deviations[ch])
			if base.Mean != 0 {
				fmt.Fprintf(&b, ", change %+.1f%%", 100*(w.Mean-base.Mean)/base.Mean)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nAction: %s", action)
	return b.String()
}
