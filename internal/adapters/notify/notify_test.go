package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/okian/guardian/internal/adapters/notify"
	"github.com/okian/guardian/internal/domain/model"
	"github.com/okian/guardian/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

var ts = time.Date(2026, 3, 1, 6, 10, 0, 0, time.UTC)

func notification() model.Notification {
	return model.Notification{
		Key:           model.NotificationKey("FRN-001", model.StateCritical, ts),
		MachineID:     "FRN-001",
		Kind:          model.KindCritical,
		NewState:      model.StateCritical,
		PreviousState: model.StateWatch,
		Score:         88,
		PeakScore:     88,
		Timestamp:     ts,
		MessageText:   "CRITICAL machine alert",
	}
}

// flaky fails the first failures calls with err.
type flaky struct {
	name      string
	mu        sync.Mutex
	failures  int
	err       error
	calls     int
	delivered []model.Notification
}

func (f *flaky) Name() string {
	if f.name == "" {
		return "flaky"
	}
	return f.name
}

func (f *flaky) Notify(_ context.Context, n model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	f.delivered = append(f.delivered, n)
	return nil
}

func noSleep(waits *[]time.Duration) notify.Option {
	return notify.WithSleep(func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	})
}

func TestDispatcher(t *testing.T) {
	ctx := context.Background()

	Convey("Given a target that fails once then succeeds", t, func() {
		target := &flaky{failures: 1, err: errors.New("connection reset")}
		var waits []time.Duration
		d := notify.NewDispatcher([]notify.Notifier{target}, noSleep(&waits))

		Convey("When the notification is dispatched twice", func() {
			err1 := d.Dispatch(ctx, notification())
			err2 := d.Dispatch(ctx, notification())

			Convey("Then it should be delivered exactly once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(target.delivered, ShouldHaveLength, 1)
				So(target.calls, ShouldEqual, 2)
				So(waits, ShouldResemble, []time.Duration{500 * time.Millisecond})
			})
		})
	})

	Convey("Given a target that always fails transiently", t, func() {
		target := &flaky{failures: 100, err: errors.New("timeout")}
		var waits []time.Duration
		d := notify.NewDispatcher([]notify.Notifier{target}, noSleep(&waits))

		Convey("When dispatching", func() {
			err := d.Dispatch(ctx, notification())

			Convey("Then it should give up after three attempts and release the key", func() {
				So(errors.Is(err, notify.ErrDispatch), ShouldBeTrue)
				So(target.calls, ShouldEqual, 3)
				So(waits, ShouldResemble, []time.Duration{500 * time.Millisecond, time.Second})

				target.failures = 0
				So(d.Dispatch(ctx, notification()), ShouldBeNil)
				So(target.delivered, ShouldHaveLength, 1)
			})
		})
	})

	Convey("Given a permanent failure", t, func() {
		target := &flaky{failures: 100, err: notify.Permanent(errors.New("chat not found"))}
		var waits []time.Duration
		d := notify.NewDispatcher([]notify.Notifier{target}, noSleep(&waits))

		err := d.Dispatch(ctx, notification())

		Convey("Then it should not retry", func() {
			So(errors.Is(err, notify.ErrDispatch), ShouldBeTrue)
			So(target.calls, ShouldEqual, 1)
			So(waits, ShouldBeEmpty)
		})
	})

	Convey("Given two targets where one fails", t, func() {
		good := &flaky{name: "log"}
		bad := &flaky{name: "telegram", failures: 100, err: notify.Permanent(errors.New("bad request"))}
		d := notify.NewDispatcher([]notify.Notifier{good, bad})

		err := d.Dispatch(ctx, notification())

		Convey("Then the healthy target should be served and keep its key", func() {
			So(errors.Is(err, notify.ErrDispatch), ShouldBeTrue)
			So(good.delivered, ShouldHaveLength, 1)
			So(bad.calls, ShouldEqual, 1)
		})

		Convey("When the failed target recovers and the key is dispatched again", func() {
			bad.failures = 0
			err := d.Dispatch(ctx, notification())

			Convey("Then only the target that missed it should receive it", func() {
				So(err, ShouldBeNil)
				So(good.delivered, ShouldHaveLength, 1)
				So(bad.delivered, ShouldHaveLength, 1)
				So(d.Dispatch(ctx, notification()), ShouldBeNil)
				So(bad.calls, ShouldEqual, 2)
			})
		})
	})

	Convey("Given a dispatcher with a large backoff", t, func() {
		d := notify.NewDispatcher(nil, notify.WithRetry(6, time.Second, 5*time.Second))

		Convey("Then the backoff should double up to the cap", func() {
			So(d.Backoff(1), ShouldEqual, time.Second)
			So(d.Backoff(2), ShouldEqual, 2*time.Second)
			So(d.Backoff(3), ShouldEqual, 4*time.Second)
			So(d.Backoff(4), ShouldEqual, 5*time.Second)
			So(d.Backoff(5), ShouldEqual, 5*time.Second)
		})
	})
}

func TestTelegram(t *testing.T) {
	Convey("Given a fake Bot API", t, func() {
		var (
			mu       sync.Mutex
			texts    []string
			paths    []string
			calls    int
			failCall int
			status   = http.StatusOK
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == failCall {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			texts = append(texts, body["text"])
			paths = append(paths, r.URL.Path)
			w.WriteHeader(status)
		}))
		defer srv.Close()

		tg := notify.NewTelegram("TOKEN", "42", notify.WithTelegramBaseURL(srv.URL))

		Convey("When a long message is sent", func() {
			n := notification()
			n.MessageText = strings.Repeat("a", 9000)
			err := tg.Notify(context.Background(), n)

			Convey("Then it should arrive in 4000-character chunks", func() {
				So(err, ShouldBeNil)
				So(texts, ShouldHaveLength, 3)
				So(len(texts[0]), ShouldEqual, 4000)
				So(len(texts[2]), ShouldEqual, 1000)
				So(paths[0], ShouldEqual, "/botTOKEN/sendMessage")
			})
		})

		Convey("When the second chunk fails once and the call is retried", func() {
			failCall = 2
			n := notification()
			n.MessageText = strings.Repeat("a", 4000) + strings.Repeat("b", 4000) + strings.Repeat("c", 10)
			first := tg.Notify(context.Background(), n)
			second := tg.Notify(context.Background(), n)

			Convey("Then every chunk should be delivered exactly once", func() {
				So(first, ShouldNotBeNil)
				So(notify.IsPermanent(first), ShouldBeFalse)
				So(second, ShouldBeNil)
				So(texts, ShouldHaveLength, 3)
				So(texts[0], ShouldStartWith, "a")
				So(texts[1], ShouldStartWith, "b")
				So(texts[2], ShouldEqual, "cccccccccc")
			})
		})

		Convey("When the API rejects the chat", func() {
			status = http.StatusBadRequest
			err := tg.Notify(context.Background(), notification())
			So(notify.IsPermanent(err), ShouldBeTrue)
		})

		Convey("When the API is rate limiting", func() {
			status = http.StatusTooManyRequests
			err := tg.Notify(context.Background(), notification())
			So(err, ShouldNotBeNil)
			So(notify.IsPermanent(err), ShouldBeFalse)
		})
	})
}

func TestTelegramTransportError(t *testing.T) {
	Convey("Given a Bot API host that refuses connections", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()
		tg := notify.NewTelegram("123456:SECRET-TOKEN", "42", notify.WithTelegramBaseURL(base))

		err := tg.Notify(context.Background(), notification())

		Convey("Then the error should not reveal the bot token", func() {
			So(err, ShouldNotBeNil)
			So(notify.IsPermanent(err), ShouldBeFalse)
			So(err.Error(), ShouldNotContainSubstring, "SECRET-TOKEN")
			So(err.Error(), ShouldContainSubstring, "sendMessage")
		})
	})
}

func TestChunk(t *testing.T) {
	Convey("Given text with line breaks", t, func() {
		text := strings.Repeat("line\n", 10)

		Convey("Then chunks should break after a newline and rejoin losslessly", func() {
			parts := notify.Chunk(text, 12)
			So(strings.Join(parts, ""), ShouldEqual, text)
			for _, p := range parts {
				So(len([]rune(p)), ShouldBeLessThanOrEqualTo, 12)
				So(p, ShouldEndWith, "\n")
			}
		})

		Convey("Then multi-byte text should be split on runes", func() {
			parts := notify.Chunk(strings.Repeat("é", 10), 4)
			So(parts, ShouldHaveLength, 3)
			So(parts[2], ShouldEqual, "éé")
		})
	})
}

func TestWebhook(t *testing.T) {
	Convey("Given a webhook receiver", t, func() {
		var got model.Notification
		var headers http.Header
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers = r.Header.Clone()
			b, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(b, &got)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		wh := notify.NewWebhook(srv.URL, map[string]string{"X-Plant": "sangli"}, nil)
		err := wh.Notify(context.Background(), notification())

		Convey("Then the notification should be posted as JSON", func() {
			So(err, ShouldBeNil)
			So(got.Key, ShouldEqual, notification().Key)
			So(got.NewState, ShouldEqual, model.StateCritical)
			So(headers.Get("Idempotency-Key"), ShouldEqual, notification().Key)
			So(headers.Get("X-Plant"), ShouldEqual, "sangli")
		})
	})
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafka(t *testing.T) {
	Convey("Given a Kafka notifier over a fake writer", t, func() {
		w := &fakeWriter{}
		k := notify.NewKafkaWithWriter(w)

		Convey("When a notification is published", func() {
			So(k.Notify(context.Background(), notification()), ShouldBeNil)

			Convey("Then it should be keyed by machine with the notification key header", func() {
				So(w.msgs, ShouldHaveLength, 1)
				So(string(w.msgs[0].Key), ShouldEqual, "FRN-001")
				So(string(w.msgs[0].Headers[0].Value), ShouldEqual, notification().Key)
			})
		})

		Convey("When the broker is down", func() {
			w.err = errors.New("dial tcp: refused")
			err := k.Notify(context.Background(), notification())
			So(err, ShouldNotBeNil)
			So(notify.IsPermanent(err), ShouldBeFalse)
		})
	})

	Convey("Given the log notifier", t, func() {
		So(notify.NewLogNotifier(logger.Get()).Notify(context.Background(), notification()), ShouldBeNil)
	})
}
