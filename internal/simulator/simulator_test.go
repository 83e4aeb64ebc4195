package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func baseConfig() *Config {
	return &Config{
		BaseURL:   "http://127.0.0.1:0",
		Transport: TransportHTTP,
		Machines:  4,
		Degrading: 1,
		History:   2 * time.Hour,
		Interval:  time.Minute,
		Fault:     30 * time.Minute,
		BatchSize: 100,
		Workers:   2,
		Timeout:   time.Second,
		Seed:      7,
		End:       time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestConfigValidate(t *testing.T) {
	Convey("Given a valid configuration", t, func() {
		cfg := baseConfig()
		So(cfg.Validate(), ShouldBeNil)

		Convey("Then broken fields should be reported", func() {
			for _, mutate := range []func(*Config){
				func(c *Config) { c.Machines = 0 },
				func(c *Config) { c.Degrading = 5 },
				func(c *Config) { c.Interval = 0 },
				func(c *Config) { c.Fault = 3 * time.Hour },
				func(c *Config) { c.Workers = 0 },
				func(c *Config) { c.Transport = "carrier-pigeon" },
				func(c *Config) { c.Transport = TransportMQTT },
			} {
				c := baseConfig()
				mutate(c)
				So(c.Validate(), ShouldNotBeNil)
			}
		})
	})
}

func TestGenerate(t *testing.T) {
	Convey("Given a small fleet", t, func() {
		cfg := baseConfig()
		fleet := Machines(cfg)

		Convey("Then machines should alternate profiles and degrade first", func() {
			So(fleet, ShouldHaveLength, 4)
			So(fleet[0].ID, ShouldEqual, "PMP-001")
			So(fleet[1].ID, ShouldEqual, "CMP-002")
			So(fleet[0].Degrading, ShouldBeTrue)
			So(fleet[1].Degrading, ShouldBeFalse)
		})

		Convey("When history is generated", func() {
			recs := Generate(cfg, fleet[0], cfg.End, cfg.Seed)

			Convey("Then every channel should be sampled each interval up to the end", func() {
				So(recs, ShouldHaveLength, 121*5)
				So(recs[0].Timestamp, ShouldEqual, cfg.End.Add(-2*time.Hour))
				So(recs[len(recs)-1].Timestamp, ShouldEqual, cfg.End)
				for i := 1; i < len(recs); i++ {
					So(recs[i].Timestamp.Before(recs[i-1].Timestamp), ShouldBeFalse)
				}
			})

			Convey("Then the same seed should reproduce the same values", func() {
				again := Generate(cfg, fleet[0], cfg.End, cfg.Seed)
				So(again, ShouldResemble, recs)
			})

			Convey("Then the faulty machine should run hot at the end", func() {
				last := lastValue(recs, "temperature_c")
				healthy := lastValue(Generate(cfg, fleet[2], cfg.End, cfg.Seed), "temperature_c")
				So(last, ShouldBeGreaterThan, 85)
				So(healthy, ShouldBeLessThan, 75)
			})
		})
	})

	Convey("Given records to split", t, func() {
		recs := make([]model.RawRecord, 250)
		batches := Batches(recs, 100)
		So(batches, ShouldHaveLength, 3)
		So(batches[2], ShouldHaveLength, 50)
		So(Batches(nil, 100), ShouldBeEmpty)
	})
}

func lastValue(recs []model.RawRecord, channel string) float64 {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Channel == channel {
			return recs[i].Value
		}
	}
	return 0
}

type fakeService struct {
	mu       sync.Mutex
	received int
	ranking  []Entry
}

func (f *fakeService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.received
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /readings", func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.received += len(env.Readings)
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": len(env.Readings), "rejected": []any{}})
	})
	mux.HandleFunc("GET /machines", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(f.ranking)
	})
	return mux
}

func TestRun(t *testing.T) {
	Convey("Given a service ranking the faulty machine first", t, func() {
		fake := &fakeService{ranking: []Entry{
			{Rank: 1, MachineID: "PMP-001", Score: 91, State: "CRITICAL"},
			{Rank: 2, MachineID: "CMP-002", Score: 4, State: "NORMAL"},
			{Rank: 3, MachineID: "PMP-003", Score: 3, State: "NORMAL"},
			{Rank: 4, MachineID: "CMP-004", Score: 1, State: "NORMAL"},
		}}
		srv := httptest.NewServer(fake.handler())
		defer srv.Close()

		cfg := baseConfig()
		cfg.BaseURL = srv.URL

		Convey("When the simulation runs", func() {
			stats, err := Run(context.Background(), cfg)

			Convey("Then every record should be delivered and the ranking accepted", func() {
				So(err, ShouldBeNil)
				So(fake.count(), ShouldEqual, stats.RecordsGenerated)
				So(stats.RecordsGenerated, ShouldEqual, 4*121*5)
				So(stats.BatchesFailed, ShouldEqual, 0)
				So(stats.FaultsDetected, ShouldEqual, 1)
				So(stats.Ranked, ShouldEqual, 4)
			})
		})

		Convey("When a healthy machine outranks the faulty one", func() {
			fake.ranking[0], fake.ranking[1] = fake.ranking[1], fake.ranking[0]
			_, err := Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
		})

		Convey("When a machine is missing from the ranking", func() {
			fake.ranking = fake.ranking[:3]
			_, err := Run(context.Background(), cfg)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given no service", t, func() {
		_, err := Run(context.Background(), baseConfig())
		So(err, ShouldNotBeNil)
	})
}
