package worker_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/storage/sqlite"
	"github.com/papercomputeco/chronicle/pkg/worker"
)

var _ = Describe("Pools sharing a SQLite file", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		dbPath string
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
		dbPath = filepath.Join(GinkgoT().TempDir(), "chronicle.db")
	})

	open := func() *sqlite.SQLiteDriver {
		d, err := sqlite.NewSQLiteDriver(dbPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(d.Close)
		return d
	}

	start := func(d *sqlite.SQLiteDriver, nodeID string, h worker.Handler) *worker.Pool {
		p, err := worker.NewPool(&worker.Config{
			Store:         d,
			Handlers:      map[jobs.Type]worker.Handler{jobs.TypeTranscription: h},
			NumWorkers:    1,
			PollInterval:  10 * time.Millisecond,
			LeaseDuration: time.Minute,
			SweepInterval: 10 * time.Millisecond,
			NodeID:        nodeID,
			Logger:        logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Start(ctx)).To(Succeed())
		return p
	}

	It("generates a distinct node id per pool when none is configured", func() {
		d := open()
		h := worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil })

		a := start(d, "", h)
		DeferCleanup(a.Close)
		b := start(d, "", h)
		DeferCleanup(b.Close)

		Expect(a.NodeID()).NotTo(BeEmpty())
		Expect(a.NodeID()).NotTo(Equal(b.NodeID()))
	})

	It("never hands a live claim to a second process started later", func() {
		var runs atomic.Int32
		started := make(chan struct{}, 2)
		release := make(chan struct{})
		blocking := worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) {
			runs.Add(1)
			started <- struct{}{}
			<-release
			return map[string]any{"ok": true}, nil
		})

		first := open()
		j, err := first.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{ConversationID: "conv-1"})
		Expect(err).NotTo(HaveOccurred())

		a := start(first, "", blocking)
		Eventually(started).Should(Receive())

		second := open()
		b := start(second, "", blocking)
		Consistently(func() int32 { return runs.Load() }, 200*time.Millisecond).Should(Equal(int32(1)))

		close(release)
		Eventually(func() jobs.Status {
			got, err := second.GetJob(ctx, j.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}).Should(Equal(jobs.StatusCompleted))

		a.Close()
		b.Close()

		got, err := first.GetJob(ctx, j.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AttemptCount).To(Equal(1))
		Expect(runs.Load()).To(Equal(int32(1)))
	})

	It("reclaims the jobs of a restarted node with a configured id", func() {
		first := open()
		j, err := first.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{ConversationID: "conv-1"})
		Expect(err).NotTo(HaveOccurred())
		_, err = first.ClaimNext(ctx, "node-a/worker-0", jobs.AllTypes(), time.Hour)
		Expect(err).NotTo(HaveOccurred())

		p := start(open(), "node-a", worker.HandlerFunc(func(context.Context, *jobs.Job) (map[string]any, error) { return nil, nil }))
		DeferCleanup(p.Close)

		Eventually(func() jobs.Status {
			got, err := first.GetJob(ctx, j.ID)
			Expect(err).NotTo(HaveOccurred())
			return got.Status
		}).Should(Equal(jobs.StatusCompleted))
	})
})
