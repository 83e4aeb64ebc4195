package baseline_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/guardian/internal/domain/baseline"
	"github.com/okian/guardian/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var asOf = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func hourly(machine, channel string, hours int, f func(i int) float64) model.TimeSeries {
	ts := model.TimeSeries{Key: model.SeriesKey{MachineID: machine, Channel: channel}}
	for i := 0; i < hours; i++ {
		ts.Readings = append(ts.Readings, model.SensorReading{
			MachineID: machine,
			Channel:   channel,
			Timestamp: asOf.Add(-time.Duration(hours-i) * time.Hour),
			Value:     f(i),
		})
	}
	return ts
}

func TestBuild(t *testing.T) {
	Convey("Given a day of hourly readings on two channels", t, func() {
		temp := hourly("FRN-001", "temperature_c", 24, func(i int) float64 { return 800 + float64(i%2)*10 })
		flat := hourly("FRN-001", "rpm", 24, func(int) float64 { return 1480 })
		sparse := hourly("FRN-001", "pressure_bar", 5, func(int) float64 { return 3 })

		Convey("When the snapshot is built with defaults", func() {
			snap := baseline.Build(asOf, 0, 0, temp, flat, sparse)

			Convey("Then mean and sample stddev should be computed", func() {
				b, ok := snap.Get("FRN-001", "temperature_c")
				So(ok, ShouldBeTrue)
				So(b.Samples, ShouldEqual, 24)
				So(b.Mean, ShouldAlmostEqual, 805, 1e-9)
				// 24 values at +-5 around the mean: 600 / 23
				So(b.StdDev, ShouldAlmostEqual, 5.107539184552492, 1e-9)
				So(b.From, ShouldEqual, asOf.Add(-24*time.Hour))
				So(b.To, ShouldEqual, asOf.Add(-time.Hour))
			})

			Convey("Then a constant channel should have zero stddev", func() {
				b, _ := snap.Get("FRN-001", "rpm")
				So(b.StdDev, ShouldEqual, 0)
				So(b.Mean, ShouldEqual, 1480)
			})

			Convey("Then a channel below the minimum should have no baseline", func() {
				_, ok := snap.Get("FRN-001", "pressure_bar")
				So(ok, ShouldBeFalse)
				So(snap.Len(), ShouldEqual, 2)
				So(snap.Machine("FRN-001"), ShouldHaveLength, 2)
				So(snap.Covers("FRN-001"), ShouldBeTrue)
				So(snap.Covers("PMP-002"), ShouldBeFalse)
			})
		})

		Convey("When the trailing window is short", func() {
			snap := baseline.Build(asOf, 12*time.Hour, 10, temp)
			b, _ := snap.Get("FRN-001", "temperature_c")
			So(b.Samples, ShouldEqual, 12)
		})

		Convey("When asOf excludes later readings", func() {
			snap := baseline.Build(asOf.Add(-12*time.Hour), 0, 10, temp)
			b, _ := snap.Get("FRN-001", "temperature_c")
			So(b.Samples, ShouldEqual, 12)
			So(b.To.Before(asOf.Add(-12*time.Hour)), ShouldBeTrue)
		})
	})
}

func TestCache(t *testing.T) {
	Convey("Given a machine with two days of hourly readings", t, func() {
		temp := hourly("FRN-001", "temperature_c", 48, func(i int) float64 { return 800 + float64(i) })
		var (
			mu    sync.Mutex
			calls int
		)
		src := func(machineID string, from, to time.Time) []model.TimeSeries {
			mu.Lock()
			calls++
			mu.Unlock()
			var part model.TimeSeries
			part.Key = temp.Key
			for _, r := range temp.Readings {
				if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
					part.Readings = append(part.Readings, r)
				}
			}
			return []model.TimeSeries{part}
		}
		c := baseline.NewCache(src, 0, 3, time.Hour)
		start := asOf.Add(-48 * time.Hour)

		Convey("Then a window at the start of history should have no baseline", func() {
			snap, built := c.For("FRN-001", start.Add(10*time.Minute))
			So(built, ShouldBeTrue)
			So(snap.Covers("FRN-001"), ShouldBeFalse)
			So(snap.AsOf, ShouldEqual, start)
		})

		Convey("Then a later window should only see readings before its bucket", func() {
			snap, _ := c.For("FRN-001", start.Add(5*time.Hour+20*time.Minute))
			b, ok := snap.Get("FRN-001", "temperature_c")
			So(ok, ShouldBeTrue)
			So(b.Samples, ShouldEqual, 5)
			So(b.To, ShouldEqual, start.Add(4*time.Hour))
			So(b.Mean, ShouldEqual, 802)
		})

		Convey("When windows share a refresh bucket", func() {
			first, _ := c.For("FRN-001", start.Add(6*time.Hour+5*time.Minute))
			second, built := c.For("FRN-001", start.Add(6*time.Hour+45*time.Minute))

			Convey("Then the snapshot should be reused", func() {
				So(built, ShouldBeFalse)
				So(second, ShouldEqual, first)
				So(calls, ShouldEqual, 1)
				So(c.Machines(), ShouldEqual, 1)
			})

			Convey("Then the next bucket should get a newer version", func() {
				next, built := c.For("FRN-001", start.Add(7*time.Hour))
				So(built, ShouldBeTrue)
				So(next.Version, ShouldBeGreaterThan, first.Version)
				So(c.Version(), ShouldEqual, next.Version)
			})
		})

		Convey("When snapshots are built concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					c.For(fmt.Sprintf("PMP-%03d", i), start.Add(time.Duration(i)*time.Hour))
				}(i)
			}
			wg.Wait()

			Convey("Then versions should increase without gaps", func() {
				So(c.Version(), ShouldEqual, 20)
				So(c.Machines(), ShouldEqual, 20)
			})
		})
	})
}
