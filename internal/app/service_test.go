package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/guardian/internal/app"
	"github.com/okian/guardian/internal/domain/escalation"
	"github.com/okian/guardian/internal/domain/features"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/internal/domain/scoring"
	"github.com/okian/guardian/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc, err := service.New()

		Convey("Then it should be created with sensible defaults", func() {
			So(err, ShouldBeNil)
			So(svc, ShouldNotBeNil)
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["machines"], ShouldEqual, 0)
		})
	})

	Convey("Given weights that do not sum to one", t, func() {
		_, err := service.New(service.WithScoring(map[string]float64{"rpm": 0.4}, 3, 0.5))

		Convey("Then construction should fail with a config error", func() {
			So(errors.Is(err, scoring.ErrConfig), ShouldBeTrue)
		})
	})

	Convey("Given a window stride larger than its size", t, func() {
		_, err := service.New(service.WithWindow(features.WindowSpec{Size: time.Minute, Stride: time.Hour}))

		Convey("Then construction should fail", func() {
			So(errors.Is(err, features.ErrInvalidWindow), ShouldBeTrue)
			So(errors.Is(err, scoring.ErrConfig), ShouldBeTrue)
		})
	})

	Convey("Given a policy with watch above critical", t, func() {
		p := escalation.DefaultPolicy()
		p.Watch = 90
		_, err := service.New(service.WithPolicy(p))
		So(errors.Is(err, escalation.ErrInvalidPolicy), ShouldBeTrue)
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc, err := service.New(service.WithWorkerCount(2))
		So(err, ShouldBeNil)

		Convey("When starting it twice and stopping it twice", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()
			svc.Stop()

			Convey("Then it should end stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
}

func TestService_Ingest(t *testing.T) {
	Convey("Given a service with a fixed clock", t, func() {
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		svc, err := service.New(service.WithClock(func() time.Time { return now }))
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("When a batch mixes good and bad records", func() {
			report, err := svc.Ingest(ctx, "http", []model.RawRecord{
				{MachineID: "FRN-001", Channel: "rpm", Timestamp: now.Add(-time.Minute), Value: 1480, Unit: "rpm"},
				{MachineID: "FRN-001", Channel: "rpm", Timestamp: now.Add(-time.Minute), Value: 1481, Unit: "rpm"},
				{MachineID: "", Channel: "rpm", Timestamp: now, Value: 1},
				{MachineID: "FRN-001", Channel: "rpm", Timestamp: now.Add(time.Hour), Value: 1},
			})

			Convey("Then the good record should be kept and the rest reported", func() {
				So(err, ShouldBeNil)
				So(report.Accepted, ShouldEqual, 1)
				So(report.Duplicates, ShouldEqual, 1)
				So(report.Rejected, ShouldHaveLength, 2)
				So(report.Machines, ShouldResemble, []string{"FRN-001"})
				So(svc.Baseline("FRN-001", now).Covers("FRN-001"), ShouldBeFalse)
			})
		})

		Convey("When every record of a dropped batch is invalid", func() {
			err := svc.IngestBatch(ctx, "watch_dir", []model.RawRecord{{Channel: "rpm", Timestamp: now, Value: 1}})
			So(err, ShouldNotBeNil)
		})

		Convey("When the batch is empty", func() {
			err := svc.IngestBatch(ctx, "mqtt", nil)
			So(err, ShouldNotBeNil)
		})
	})
}
