package narrative_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/okian/guardian/internal/adapters/narrative"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var ts = time.Date(2026, 3, 1, 6, 10, 0, 0, time.UTC)

func request() narrative.Request {
	return narrative.Request{
		State: model.StateCritical,
		Assessment: model.RiskAssessment{
			MachineID:  "FRN-001",
			Timestamp:  ts,
			Score:      88,
			Deviations: map[string]float64{"vibration_g": 1},
			Windows:    map[string]model.FeatureWindow{"vibration_g": {Mean: 1.2, Last: 1.3}},
			Baselines:  map[string]model.Baseline{"vibration_g": {Mean: 0.5, StdDev: 0.05, Samples: 720}},
		},
	}
}

func TestClient(t *testing.T) {
	Convey("Given a fake chat-completions endpoint", t, func() {
		var (
			got    map[string]any
			auth   string
			status = http.StatusOK
			reply  = `{"choices":[{"message":{"role":"assistant","content":"  Bearing wear is likely.  "}}]}`
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(reply))
		}))
		defer srv.Close()

		c := narrative.NewClient("sk-test", narrative.WithBaseURL(srv.URL))

		Convey("When a narrative is generated", func() {
			text, err := c.Generate(context.Background(), request())

			Convey("Then the trimmed completion should be returned", func() {
				So(err, ShouldBeNil)
				So(text, ShouldEqual, "Bearing wear is likely.")
				So(auth, ShouldEqual, "Bearer sk-test")
				So(got["model"], ShouldEqual, "llama-3.3-70b-versatile")
				So(got["temperature"], ShouldEqual, 0.3)
			})
		})

		Convey("When the API returns an error", func() {
			status = http.StatusUnauthorized
			reply = `{"error":{"message":"invalid api key"}}`
			_, err := c.Generate(context.Background(), request())

			Convey("Then it should be reported as unavailable", func() {
				So(errors.Is(err, narrative.ErrUnavailable), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "invalid api key")
			})
		})

		Convey("When the completion is empty", func() {
			reply = `{"choices":[]}`
			_, err := c.Generate(context.Background(), request())
			So(errors.Is(err, narrative.ErrUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given an assessment", t, func() {
		p := narrative.Prompt(request())

		Convey("Then the prompt should carry baseline and current statistics", func() {
			So(p, ShouldContainSubstring, "Machine FRN-001 is in state CRITICAL")
			So(p, ShouldContainSubstring, "Baseline average: 0.500")
			So(p, ShouldContainSubstring, "Current average: 1.200")
		})
	})
}

type genFunc func(ctx context.Context, req narrative.Request) (string, error)

func (f genFunc) Generate(ctx context.Context, req narrative.Request) (string, error) { return f(ctx, req) }

func TestRunner(t *testing.T) {
	Convey("Given a runner over a slow generator", t, func() {
		release := make(chan struct{})
		done := make(chan struct{}, 4)
		var (
			mu       sync.Mutex
			attached []string
		)
		gen := genFunc(func(ctx context.Context, _ narrative.Request) (string, error) {
			select {
			case <-release:
				return "explained", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})
		attach := func(machine string, _ time.Time, text string) error {
			mu.Lock()
			defer mu.Unlock()
			attached = append(attached, machine+":"+text)
			done <- struct{}{}
			return nil
		}
		r := narrative.NewRunner(gen, attach, narrative.WithMaxInFlight(1), narrative.WithTimeout(time.Second))

		Convey("When more requests arrive than may run", func() {
			first := r.Submit(request())
			second := r.Submit(request())
			close(release)
			<-done
			r.Stop()

			Convey("Then the extra request should be dropped without blocking", func() {
				So(first, ShouldBeTrue)
				So(second, ShouldBeFalse)
				So(attached, ShouldResemble, []string{"FRN-001:explained"})
			})
		})

		Convey("When the generator outlives the timeout", func() {
			r := narrative.NewRunner(gen, attach, narrative.WithTimeout(20*time.Millisecond))
			So(r.Submit(request()), ShouldBeTrue)
			time.Sleep(100 * time.Millisecond)
			r.Stop()

			Convey("Then nothing should be attached", func() {
				So(attached, ShouldBeEmpty)
			})
		})

		Convey("When the runner is stopped", func() {
			r.Stop()
			So(r.Submit(request()), ShouldBeFalse)
		})
	})
}
