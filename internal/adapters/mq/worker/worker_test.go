package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/guardian/internal/adapters/mq/queue"
	"github.com/okian/guardian/internal/adapters/mq/worker"
	"github.com/okian/guardian/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// recordingProcessor remembers which machines reached its partition.
type recordingProcessor struct {
	partition int
	mu        *sync.Mutex
	seen      map[string][]int
	fail      string
}

func (r *recordingProcessor) Process(_ context.Context, j queue.Job) error {
	r.mu.Lock()
	r.seen[j.MachineID] = append(r.seen[j.MachineID], r.partition)
	r.mu.Unlock()
	if j.MachineID == r.fail {
		return errors.New("boom")
	}
	return nil
}

func TestPoolRouting(t *testing.T) {
	Convey("Given a pool of four partitions", t, func() {
		var mu sync.Mutex
		seen := make(map[string][]int)
		pool := worker.NewPool(4, func(i int) worker.Processor {
			return &recordingProcessor{partition: i, mu: &mu, seen: seen, fail: "m-3"}
		}, worker.WithQueueCapacity(64))
		ctx := context.Background()
		pool.Start(ctx)

		Convey("When jobs for many machines are submitted repeatedly", func() {
			for round := 0; round < 3; round++ {
				for i := 0; i < 20; i++ {
					So(pool.Submit(ctx, queue.Job{MachineID: fmt.Sprintf("m-%d", i), Reason: "cycle"}), ShouldBeNil)
				}
				time.Sleep(20 * time.Millisecond)
			}
			So(pool.Shutdown(ctx), ShouldBeNil)

			Convey("Then each machine should always land on the same partition", func() {
				mu.Lock()
				defer mu.Unlock()
				So(seen, ShouldHaveLength, 20)
				for m, parts := range seen {
					So(parts, ShouldNotBeEmpty)
					for _, p := range parts {
						So(p, ShouldEqual, pool.Partition(m))
					}
				}
			})
		})

		Convey("Then partitioning should be stable and in range", func() {
			So(pool.Partitions(), ShouldEqual, 4)
			p := pool.Partition("FRN-001")
			So(p, ShouldBeBetweenOrEqual, 0, 3)
			So(pool.Partition("FRN-001"), ShouldEqual, p)
			So(pool.Shutdown(ctx), ShouldBeNil)
		})
	})
}

func TestPoolShutdownDrains(t *testing.T) {
	Convey("Given a started pool with queued jobs", t, func() {
		var mu sync.Mutex
		n := 0
		release := make(chan struct{})
		pool := worker.NewPool(1, func(int) worker.Processor {
			return worker.ProcessorFunc(func(context.Context, queue.Job) error {
				<-release
				mu.Lock()
				n++
				mu.Unlock()
				return nil
			})
		})
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			So(pool.Submit(ctx, queue.Job{MachineID: fmt.Sprintf("m-%d", i)}), ShouldBeNil)
		}
		pool.Start(ctx)

		Convey("When the pool shuts down", func() {
			close(release)
			err := pool.Shutdown(ctx)

			Convey("Then every queued job should have been processed", func() {
				So(err, ShouldBeNil)
				mu.Lock()
				defer mu.Unlock()
				So(n, ShouldEqual, 5)
			})

			Convey("Then later submissions should be refused", func() {
				err := pool.Submit(ctx, queue.Job{MachineID: "late"})
				So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestWorkerShutdown(t *testing.T) {
	Convey("Given a worker on an idle queue", t, func() {
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, worker.ProcessorFunc(func(context.Context, queue.Job) error { return nil }),
			worker.WithName("worker-test"))
		go w.Run(context.Background())

		Convey("Then Shutdown should stop it", func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(w.Shutdown(ctx), ShouldBeNil)
		})
	})
}

func TestPoolWaitIdle(t *testing.T) {
	Convey("Given a pool with slow jobs", t, func() {
		var mu sync.Mutex
		done := 0
		pool := worker.NewPool(2, func(int) worker.Processor {
			return worker.ProcessorFunc(func(context.Context, queue.Job) error {
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				done++
				mu.Unlock()
				return nil
			})
		})
		ctx := context.Background()
		pool.Start(ctx)
		defer func() { _ = pool.Shutdown(ctx) }()

		for i := 0; i < 6; i++ {
			So(pool.Submit(ctx, queue.Job{MachineID: fmt.Sprintf("m-%d", i)}), ShouldBeNil)
		}

		Convey("Then WaitIdle should return once every job finished", func() {
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			So(pool.WaitIdle(waitCtx), ShouldBeNil)
			So(pool.Idle(), ShouldBeTrue)
			mu.Lock()
			defer mu.Unlock()
			So(done, ShouldEqual, 6)
		})
	})
}
