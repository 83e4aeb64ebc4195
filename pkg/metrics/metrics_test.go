package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithConstLabels(map[string]string{"plant": "sangli"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then its collectors should be registered there", func() {
				So(manager, ShouldNotBeNil)
				manager.assessments.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_unit_assessments_total"], ShouldBeTrue)
			})
		})

		Convey("When creating two managers on separate registries", func() {
			Convey("Then registration should not conflict", func() {
				So(func() {
					NewManager(WithPrometheusRegistry(prometheus.NewRegistry()))
					NewManager(WithPrometheusRegistry(prometheus.NewRegistry()))
				}, ShouldNotPanic)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording ingest metrics", func() {
			before := testutil.ToFloat64(globalManager.readingsAccepted)
			RecordReadingsAccepted(3)
			RecordReadingsDuplicate(1)
			RecordReadingRejected("non_finite")
			RecordBatchIngested("http")

			Convey("Then the counters should advance", func() {
				So(testutil.ToFloat64(globalManager.readingsAccepted), ShouldEqual, before+3)
				So(testutil.ToFloat64(globalManager.readingsRejected.WithLabelValues("non_finite")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording an assessment without baseline", func() {
			before := testutil.ToFloat64(globalManager.insufficientBaseline)
			RecordAssessment(0, true)

			Convey("Then the insufficient baseline counter should advance", func() {
				So(testutil.ToFloat64(globalManager.insufficientBaseline), ShouldEqual, before+1)
			})
		})

		Convey("When recording a state transition", func() {
			RecordMachineTracked("NORMAL")
			watchBefore := testutil.ToFloat64(globalManager.machinesByState.WithLabelValues("WATCH"))
			RecordStateTransition("NORMAL", "WATCH")

			Convey("Then the per-state gauge should move", func() {
				So(testutil.ToFloat64(globalManager.machinesByState.WithLabelValues("WATCH")), ShouldEqual, watchBefore+1)
			})
		})

		Convey("When recording the remaining helpers", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					UpdateSeriesTracked(4)
					RecordWindowExtracted(true)
					RecordWindowExtracted(false)
					RecordBaselineRefresh(2, 20, 3.5)
					RecordScoringError("config")
					RecordNotificationSent("watch")
					RecordNotificationDropped("watch", "suppressed")
					RecordDispatchAttempt("ok")
					RecordDispatchLatency(12)
					RecordNarrative("ok", 800)
					UpdateQueueSize("0", 2)
					UpdateQueueCapacity(1024)
					RecordQueueRejected("full")
					UpdateWorkerCount(4)
					RecordWorkerProcessingLatency(1.5)
					RecordWorkerError("scoring")
					RecordHTTPRequest("/readings", "POST", "202")
					RecordHTTPRequestDuration("/readings", "POST", "202", 4)
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.2)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			Convey("Then it should be the custom registry", func() {
				So(GetRegistry(), ShouldEqual, customRegistry)
			})
		})
	})
}
