package config_test

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/okian/guardian/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Server.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Pipeline.Workers, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.Pipeline.CycleInterval, convey.ShouldEqual, time.Minute)
			convey.So(cfg.Window.Size, convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.Baseline.Trailing, convey.ShouldEqual, 30*24*time.Hour)
			convey.So(cfg.Escalation.Watch, convey.ShouldEqual, 60)
			convey.So(cfg.Escalation.Critical, convey.ShouldEqual, 85)
			convey.So(cfg.Dispatch.Attempts, convey.ShouldEqual, 3)
			convey.So(cfg.Channels["temperature_c"], convey.ShouldEqual, "C")
			convey.So(cfg.Narrative.Enabled(), convey.ShouldBeFalse)
			convey.So(cfg.Telegram.Enabled(), convey.ShouldBeFalse)
		})

		convey.Convey("Then the defaults should validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty addr", func(c *config.Config) { c.Server.Addr = " " }},
		{"bad log format", func(c *config.Config) { c.Server.LogFormat = "xml" }},
		{"no workers", func(c *config.Config) { c.Pipeline.Workers = 0 }},
		{"no queue", func(c *config.Config) { c.Pipeline.QueueSize = -1 }},
		{"stride above size", func(c *config.Config) { c.Window.Stride = time.Hour }},
		{"watch above critical", func(c *config.Config) { c.Escalation.Watch = 90 }},
		{"weights off by a tenth", func(c *config.Config) { c.Scoring.Weights["rpm"] = 0.25 }},
		{"negative weight", func(c *config.Config) { c.Scoring.Weights = map[string]float64{"rpm": 1.5, "power_kw": -0.5} }},
		{"baseline too small", func(c *config.Config) { c.Baseline.MinSamples = 1 }},
		{"backoff inverted", func(c *config.Config) { c.Dispatch.MaxBackoff = time.Millisecond }},
		{"kafka without brokers", func(c *config.Config) { c.Kafka.ReadingsTopic = "readings" }},
		{"mqtt without broker", func(c *config.Config) { c.MQTT.Topic = "plant/+/readings" }},
		{"narrative without timeout", func(c *config.Config) {
			c.Narrative.APIKey = "k"
			c.Narrative.Timeout = 0
		}},
	}

	convey.Convey("Given invalid configurations", t, func() {
		for _, tc := range cases {
			convey.Convey("When "+tc.name, func() {
				cfg := config.New(context.Background())
				tc.mutate(cfg)
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
