package jobscmder

import (
	"context"
	"errors"
	"strings"
	"time"

	bubbletea "github.com/charmbracelet/bubbletea"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/jobs"
)

type fakeSource struct {
	stats   jobs.Stats
	list    []*jobs.Job
	err     error
	filters []jobs.Filter
}

func (f *fakeSource) QueueStats(context.Context) (jobs.Stats, error) {
	return f.stats, f.err
}

func (f *fakeSource) ListJobs(_ context.Context, filter jobs.Filter) ([]*jobs.Job, error) {
	f.filters = append(f.filters, filter)
	return f.list, f.err
}

var _ = Describe("Jobs top TUI", func() {
	var (
		source *fakeSource
		model  topModel
	)

	keyMsg := func(s string) bubbletea.KeyMsg {
		return bubbletea.KeyMsg{Type: bubbletea.KeyRunes, Runes: []rune(s)}
	}

	update := func(msg bubbletea.Msg) bubbletea.Cmd {
		next, cmd := model.Update(msg)
		model = next.(topModel)
		return cmd
	}

	BeforeEach(func() {
		now := time.Now()
		source = &fakeSource{
			stats: jobs.Stats{Queued: 1, Failed: 1},
			list: []*jobs.Job{
				{ID: "job-aaaaaaaa-1", Type: jobs.TypeTranscription, Status: jobs.StatusQueued, MaxAttempts: 3, EnqueuedAt: now},
				{ID: "job-bbbbbbbb-2", Type: jobs.TypeMemoryExtraction, Status: jobs.StatusFailed, AttemptCount: 3, MaxAttempts: 3, EnqueuedAt: now, LastError: "model returned invalid JSON"},
			},
		}
		model = newTopModel(context.Background(), source, time.Second)
		update(model.load()())
	})

	It("loads a snapshot", func() {
		Expect(model.list).To(HaveLen(2))
		Expect(model.stats.Total()).To(Equal(2))
		Expect(model.updated).NotTo(BeZero())
	})

	It("keeps the last snapshot when a refresh fails", func() {
		update(snapshotMsg{err: errors.New("database is locked")})
		Expect(model.list).To(HaveLen(2))
		Expect(model.View()).To(ContainSubstring("database is locked"))
	})

	It("moves the cursor within bounds", func() {
		update(keyMsg("j"))
		update(keyMsg("j"))
		Expect(model.cursor).To(Equal(1))
		update(keyMsg("k"))
		update(keyMsg("k"))
		Expect(model.cursor).To(Equal(0))
	})

	It("cycles the status and type filters", func() {
		cmd := update(keyMsg("f"))
		Expect(cmd).NotTo(BeNil())
		cmd()
		Expect(source.filters[len(source.filters)-1].Statuses).To(Equal([]jobs.Status{jobs.StatusQueued}))

		update(keyMsg("t"))()
		last := source.filters[len(source.filters)-1]
		Expect(last.Types).To(Equal([]jobs.Type{jobs.TypeTranscription}))
		Expect(last.Statuses).To(Equal([]jobs.Status{jobs.StatusQueued}))
		Expect(last.Limit).To(Equal(topLimit))
	})

	It("shows the selected job's last error", func() {
		update(keyMsg("j"))
		view := model.View()
		Expect(view).To(ContainSubstring("job-bbbbbbbb-2"))
		Expect(view).To(ContainSubstring("model returned invalid JSON"))
	})

	It("quits on q", func() {
		cmd := update(keyMsg("q"))
		Expect(cmd()).To(Equal(bubbletea.Quit()))
	})

	Describe("helpers", func() {
		It("fits cells to a width", func() {
			Expect(fitCell("abc", 5)).To(Equal("abc  "))
			Expect(fitCell("abcdef", 4)).To(Equal("abc…"))
		})

		It("keeps the cursor in the visible window", func() {
			start, end := visibleRange(100, 50, 10)
			Expect(end - start).To(Equal(10))
			Expect(50).To(BeNumerically(">=", start))
			Expect(50).To(BeNumerically("<", end))

			start, end = visibleRange(100, 99, 10)
			Expect([]int{start, end}).To(Equal([]int{90, 100}))
		})

		It("formats ages", func() {
			Expect(formatAge(30 * time.Second)).To(Equal("30s"))
			Expect(formatAge(5 * time.Minute)).To(Equal("5m"))
			Expect(formatAge(3 * time.Hour)).To(Equal("3h"))
			Expect(formatAge(72 * time.Hour)).To(Equal("3d"))
		})

		It("renders a header padded to the width", func() {
			line := renderHeaderLine(20, "left", "right")
			Expect(strings.HasPrefix(line, "left")).To(BeTrue())
			Expect(strings.HasSuffix(line, "right")).To(BeTrue())
			Expect(len(line)).To(Equal(20))
		})
	})
})
