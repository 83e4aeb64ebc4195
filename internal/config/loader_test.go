package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/guardian/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

const sampleYAML = `
server:
  addr: ":8080"
  log_format: json
pipeline:
  workers: 4
  cycle_interval: 30s
window:
  size: 10m
  stride: 5m
scoring:
  weights:
    vibration_g: 0.6
    temperature_c: 0.4
escalation:
  watch: 50
  critical: 80
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
  readings_topic: plant.readings
channels:
  oil_temp_c: C
`

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		t.Setenv(config.EnvConfigPath, "")

		convey.Convey("When loading with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Server.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Scoring.Weights, convey.ShouldHaveLength, 5)
		})

		convey.Convey("When loading a YAML file", func() {
			path := filepath.Join(t.TempDir(), "guardian.yaml")
			convey.So(os.WriteFile(path, []byte(sampleYAML), 0o600), convey.ShouldBeNil)
			t.Setenv(config.EnvConfigPath, path)

			cfg, err := config.Load(ctx)

			convey.Convey("Then file values should override defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Server.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.Server.LogFormat, convey.ShouldEqual, "json")
				convey.So(cfg.Pipeline.Workers, convey.ShouldEqual, 4)
				convey.So(cfg.Pipeline.CycleInterval, convey.ShouldEqual, 30*time.Second)
				convey.So(cfg.Window.Size, convey.ShouldEqual, 10*time.Minute)
				convey.So(cfg.Escalation.Watch, convey.ShouldEqual, 50)
				convey.So(cfg.Kafka.Brokers, convey.ShouldResemble, []string{"kafka-1:9092", "kafka-2:9092"})
			})

			convey.Convey("Then the weight table should be replaced, not merged", func() {
				convey.So(cfg.Scoring.Weights, convey.ShouldResemble, map[string]float64{
					"vibration_g": 0.6, "temperature_c": 0.4,
				})
			})

			convey.Convey("Then channel units should be merged", func() {
				convey.So(cfg.Channels["oil_temp_c"], convey.ShouldEqual, "C")
				convey.So(cfg.Channels["rpm"], convey.ShouldEqual, "rpm")
			})
		})

		convey.Convey("When environment variables are set", func() {
			t.Setenv("GUARDIAN_SERVER__ADDR", ":7070")
			t.Setenv("GUARDIAN_PIPELINE__WORKERS", "12")
			t.Setenv("GUARDIAN_ESCALATION__DEBOUNCE", "2h")
			t.Setenv("GUARDIAN_WATCH_DIR", "/var/spool/guardian")

			cfg, err := config.Load(ctx)

			convey.Convey("Then they should take precedence", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Server.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.Pipeline.Workers, convey.ShouldEqual, 12)
				convey.So(cfg.Escalation.Debounce, convey.ShouldEqual, 2*time.Hour)
				convey.So(cfg.WatchDir, convey.ShouldEqual, "/var/spool/guardian")
			})
		})

		convey.Convey("When the environment makes the config invalid", func() {
			t.Setenv("GUARDIAN_ESCALATION__WATCH", "95")

			_, err := config.Load(ctx)

			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the file is missing", func() {
			t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "nope.yaml"))

			_, err := config.Load(ctx)

			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}
