package jobs_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/jobs"
)

var _ = Describe("CanTransition", func() {
	DescribeTable("status edges",
		func(from, to jobs.Status, allowed bool) {
			Expect(jobs.CanTransition(from, to)).To(Equal(allowed))
		},
		Entry("queued to processing", jobs.StatusQueued, jobs.StatusProcessing, true),
		Entry("processing to completed", jobs.StatusProcessing, jobs.StatusCompleted, true),
		Entry("processing to failed", jobs.StatusProcessing, jobs.StatusFailed, true),
		Entry("processing to queued", jobs.StatusProcessing, jobs.StatusQueued, true),
		Entry("queued to completed", jobs.StatusQueued, jobs.StatusCompleted, false),
		Entry("queued to failed", jobs.StatusQueued, jobs.StatusFailed, false),
		Entry("completed to queued", jobs.StatusCompleted, jobs.StatusQueued, false),
		Entry("failed to processing", jobs.StatusFailed, jobs.StatusProcessing, false),
		Entry("completed to failed", jobs.StatusCompleted, jobs.StatusFailed, false),
	)
})

var _ = Describe("Filter", func() {
	job := &jobs.Job{
		Type:    jobs.TypeTranscription,
		Status:  jobs.StatusQueued,
		Payload: jobs.Payload{ConversationID: "conv-1"},
	}

	It("matches everything when empty", func() {
		Expect(jobs.Filter{}.Matches(job)).To(BeTrue())
	})

	It("filters by type, status and conversation", func() {
		Expect(jobs.Filter{Types: []jobs.Type{jobs.TypeMemoryExtraction}}.Matches(job)).To(BeFalse())
		Expect(jobs.Filter{Statuses: []jobs.Status{jobs.StatusQueued, jobs.StatusFailed}}.Matches(job)).To(BeTrue())
		Expect(jobs.Filter{ConversationID: "conv-2"}.Matches(job)).To(BeFalse())
	})
})

var _ = Describe("Job", func() {
	It("deep copies payload params and results", func() {
		started := time.Now()
		j := &jobs.Job{
			Payload:   jobs.Payload{Params: map[string]string{"k": "v"}},
			Result:    map[string]any{"n": 1},
			StartedAt: &started,
		}

		c := j.Clone()
		c.Payload.Params["k"] = "changed"
		c.Result["n"] = 2
		*c.StartedAt = started.Add(time.Hour)

		Expect(j.Payload.Params["k"]).To(Equal("v"))
		Expect(j.Result["n"]).To(Equal(1))
		Expect(*j.StartedAt).To(Equal(started))
	})

	It("reports remaining attempts", func() {
		j := &jobs.Job{AttemptCount: 2, MaxAttempts: 3}
		Expect(j.AttemptsRemaining()).To(BeTrue())
		j.AttemptCount = 3
		Expect(j.AttemptsRemaining()).To(BeFalse())
	})
})

var _ = Describe("Stats", func() {
	It("adds counts per status", func() {
		var s jobs.Stats
		s.Add(jobs.StatusQueued, 2)
		s.Add(jobs.StatusFailed, 1)
		Expect(s.Queued).To(Equal(2))
		Expect(s.Failed).To(Equal(1))
		Expect(s.Total()).To(Equal(3))
	})
})

var _ = Describe("Backoff", func() {
	It("doubles per attempt up to the cap", func() {
		b := jobs.Backoff{Base: time.Second, Max: 5 * time.Second}
		Expect(b.Delay(1)).To(Equal(time.Second))
		Expect(b.Delay(2)).To(Equal(2 * time.Second))
		Expect(b.Delay(3)).To(Equal(4 * time.Second))
		Expect(b.Delay(4)).To(Equal(5 * time.Second))
		Expect(b.Delay(40)).To(Equal(5 * time.Second))
	})

	It("falls back to defaults for zero values", func() {
		var b jobs.Backoff
		Expect(b.Delay(1)).To(Equal(jobs.DefaultBackoff().Base))
	})
})
