package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
	"github.com/papercomputeco/chronicle/pkg/worker"
)

var errPermanent = errors.New("permanent")

// classify retries everything except errPermanent.
func classify(err error) (bool, map[string]any) {
	if errors.Is(err, errPermanent) {
		return false, map[string]any{"reason": "permanent"}
	}
	return true, nil
}

var _ = Describe("Pool", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		store     *inmemory.Driver
		publisher *testutils.RecordingPublisher
		pool      *worker.Pool
	)

	newPool := func(handler worker.Handler, mutate ...func(*worker.Config)) *worker.Pool {
		cfg := &worker.Config{
			Store:         store,
			Handlers:      map[jobs.Type]worker.Handler{jobs.TypeTranscription: handler},
			NumWorkers:    2,
			PollInterval:  10 * time.Millisecond,
			LeaseDuration: time.Minute,
			SweepInterval: -1,
			NodeID:        "node-a",
			Backoff:       jobs.Backoff{Base: time.Millisecond, Max: time.Millisecond},
			Classify:      classify,
			Publisher:     publisher,
			Logger:        logger.Nop(),
		}
		for _, m := range mutate {
			m(cfg)
		}
		p, err := worker.NewPool(cfg)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	enqueue := func(opts ...jobs.EnqueueOption) *jobs.Job {
		j, err := store.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{ConversationID: "conv-1"}, opts...)
		Expect(err).NotTo(HaveOccurred())
		return j
	}

	jobStatus := func(id string) func() jobs.Status {
		return func() jobs.Status {
			j, err := store.GetJob(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			return j.Status
		}
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		store = inmemory.NewDriver()
		publisher = testutils.NewRecordingPublisher()
		pool = nil
	})

	AfterEach(func() {
		if pool != nil {
			pool.Close()
		}
		cancel()
	})

	Describe("NewPool", func() {
		It("requires a store and handlers", func() {
			_, err := worker.NewPool(&worker.Config{})
			Expect(err).To(HaveOccurred())

			_, err = worker.NewPool(&worker.Config{Store: store})
			Expect(err).To(HaveOccurred())
		})

		It("rejects handlers for unknown job types", func() {
			_, err := worker.NewPool(&worker.Config{
				Store: store,
				Handlers: map[jobs.Type]worker.Handler{
					jobs.Type("bogus"): worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }),
				},
			})
			Expect(err).To(HaveOccurred())
		})

		It("refuses to start twice", func() {
			pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }))
			Expect(pool.Start(ctx)).To(Succeed())
			Expect(pool.Start(ctx)).NotTo(Succeed())
		})
	})

	It("completes jobs and records the handler result", func() {
		pool = newPool(worker.HandlerFunc(func(_ context.Context, j *jobs.Job) (map[string]any, error) {
			return map[string]any{"conversation": j.Payload.ConversationID}, nil
		}))
		j := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusCompleted))
		got, err := store.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Result).To(HaveKeyWithValue("conversation", "conv-1"))
		Expect(got.AttemptCount).To(Equal(1))
		Eventually(publisher.Types).Should(ContainElement(eventstream.EventTypeJobCompleted))
	})

	It("runs every job exactly once across workers", func() {
		var runs sync.Map
		var total atomic.Int32
		pool = newPool(worker.HandlerFunc(func(_ context.Context, j *jobs.Job) (map[string]any, error) {
			n, _ := runs.LoadOrStore(j.ID, new(atomic.Int32))
			n.(*atomic.Int32).Add(1)
			total.Add(1)
			return nil, nil
		}), func(c *worker.Config) { c.NumWorkers = 4 })

		for i := 0; i < 25; i++ {
			enqueue()
		}
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(func() int {
			stats, err := store.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			return stats.Completed
		}).Should(Equal(25))
		Expect(total.Load()).To(BeEquivalentTo(25))
		runs.Range(func(_, v any) bool {
			Expect(v.(*atomic.Int32).Load()).To(BeEquivalentTo(1))
			return true
		})
	})

	It("retries transient failures with backoff until they succeed", func() {
		var attempts atomic.Int32
		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("provider timeout")
			}
			return nil, nil
		}))
		j := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusCompleted))
		got, err := store.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AttemptCount).To(Equal(2))
		Eventually(publisher.Types).Should(Equal([]string{
			eventstream.EventTypeJobRetrying,
			eventstream.EventTypeJobCompleted,
		}))
	})

	It("fails after the attempt budget is spent", func() {
		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) {
			return nil, errors.New("provider timeout")
		}))
		j := enqueue(jobs.WithMaxAttempts(3))
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusFailed))
		got, err := store.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AttemptCount).To(Equal(3))
		Expect(got.LastError).To(Equal("provider timeout"))
	})

	It("fails permanent errors on the first attempt with the diagnostic", func() {
		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) {
			return nil, errPermanent
		}))
		j := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusFailed))
		got, err := store.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AttemptCount).To(Equal(1))
		Expect(got.Result).To(HaveKeyWithValue("reason", "permanent"))
		Eventually(publisher.Types).Should(Equal([]string{eventstream.EventTypeJobFailed}))
	})

	It("survives a panicking handler and keeps working", func() {
		pool = newPool(worker.HandlerFunc(func(_ context.Context, j *jobs.Job) (map[string]any, error) {
			if j.Payload.Params["panic"] == "yes" {
				panic("boom")
			}
			return nil, nil
		}))
		bad, err := store.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{Params: map[string]string{"panic": "yes"}})
		Expect(err).NotTo(HaveOccurred())
		good := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(bad.ID)).Should(Equal(jobs.StatusFailed))
		Eventually(jobStatus(good.ID)).Should(Equal(jobs.StatusCompleted))

		got, err := store.GetJob(ctx, bad.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastError).To(ContainSubstring("handler panic: boom"))
		Expect(got.AttemptCount).To(Equal(1))
	})

	It("requeues its own abandoned claims at startup", func() {
		j := enqueue()
		claimed, err := store.ClaimNext(ctx, "node-a/worker-0", jobs.AllTypes(), time.Hour)
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed.ID).To(Equal(j.ID))

		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }))
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusCompleted))
		got, err := store.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AttemptCount).To(Equal(2))
	})

	It("leaves live claims of other nodes alone at startup", func() {
		j := enqueue()
		_, err := store.ClaimNext(ctx, "node-b/worker-0", jobs.AllTypes(), time.Hour)
		Expect(err).NotTo(HaveOccurred())

		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }))
		Expect(pool.Start(ctx)).To(Succeed())

		Consistently(jobStatus(j.ID), 100*time.Millisecond).Should(Equal(jobs.StatusProcessing))
	})

	It("sweeps expired leases of other nodes periodically", func() {
		j := enqueue()
		_, err := store.ClaimNext(ctx, "node-b/worker-0", jobs.AllTypes(), time.Millisecond)
		Expect(err).NotTo(HaveOccurred())

		pool = newPool(
			worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }),
			func(c *worker.Config) { c.SweepInterval = 10 * time.Millisecond },
		)
		Expect(pool.Start(ctx)).To(Succeed())

		Eventually(jobStatus(j.ID)).Should(Equal(jobs.StatusCompleted))
	})

	It("claims immediately on Wake", func() {
		pool = newPool(
			worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }),
			func(c *worker.Config) { c.PollInterval = time.Hour },
		)
		Expect(pool.Start(ctx)).To(Succeed())
		// Let both workers go idle before the job exists.
		time.Sleep(20 * time.Millisecond)

		j := enqueue()
		pool.Wake()

		Eventually(jobStatus(j.ID), time.Second).Should(Equal(jobs.StatusCompleted))
	})

	It("waits for in-flight handlers on Close", func() {
		started := make(chan struct{})
		release := make(chan struct{})
		pool = newPool(worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) {
			close(started)
			<-release
			return nil, nil
		}), func(c *worker.Config) { c.NumWorkers = 1 })
		j := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())
		Eventually(started).Should(BeClosed())

		closed := make(chan struct{})
		go func() {
			pool.Close()
			close(closed)
		}()
		Consistently(closed, 50*time.Millisecond).ShouldNot(BeClosed())

		close(release)
		Eventually(closed).Should(BeClosed())
		Expect(jobStatus(j.ID)()).To(Equal(jobs.StatusCompleted))
	})

	It("abandons the job when the run context is cancelled", func() {
		started := make(chan struct{})
		pool = newPool(worker.HandlerFunc(func(hctx context.Context, _ *jobs.Job) (map[string]any, error) {
			close(started)
			<-hctx.Done()
			return nil, hctx.Err()
		}), func(c *worker.Config) { c.NumWorkers = 1 })
		j := enqueue()
		Expect(pool.Start(ctx)).To(Succeed())
		Eventually(started).Should(BeClosed())

		cancel()
		pool.Close()

		got, err := store.GetJob(context.Background(), j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(jobs.StatusProcessing))
		Expect(got.WorkerID).To(Equal("node-a/worker-0"))
	})
})
