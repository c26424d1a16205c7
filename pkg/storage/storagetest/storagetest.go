// Package storagetest holds the behavior every storage.Driver must share.
// Driver test suites call DescribeDriver with a constructor for a fresh,
// empty driver.
package storagetest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage"
)

const lease = time.Minute

var allTypes = jobs.AllTypes()

// DescribeDriver registers the shared driver specs. newDriver must return an
// empty driver; it is closed after every spec.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		ctx    context.Context
		driver storage.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = nil
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	enqueue := func(conversationID string, opts ...jobs.EnqueueOption) *jobs.Job {
		j, err := driver.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{ConversationID: conversationID}, opts...)
		Expect(err).NotTo(HaveOccurred())
		return j
	}

	claim := func(workerID string) *jobs.Job {
		j, err := driver.ClaimNext(ctx, workerID, allTypes, lease)
		Expect(err).NotTo(HaveOccurred())
		return j
	}

	newConversation := func(userID string) *conversation.Conversation {
		c, err := driver.CreateConversation(ctx, &conversation.Conversation{UserID: userID})
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	segments := []conversation.Segment{
		{SpeakerID: "0", StartTime: 0, EndTime: 1.5, Text: "hello there"},
		{SpeakerID: "1", StartTime: 1.5, EndTime: 3, Text: "hi"},
	}

	Describe("job store", func() {
		Describe("Enqueue", func() {
			It("stores a queued job with defaults", func() {
				j := enqueue("conv-1")
				Expect(j.ID).NotTo(BeEmpty())
				Expect(j.Status).To(Equal(jobs.StatusQueued))
				Expect(j.MaxAttempts).To(Equal(jobs.DefaultMaxAttempts))

				got, err := driver.GetJob(ctx, j.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Type).To(Equal(jobs.TypeTranscription))
				Expect(got.Payload.ConversationID).To(Equal("conv-1"))
				Expect(got.AttemptCount).To(Equal(0))
				Expect(got.EnqueuedAt).To(BeTemporally("==", j.EnqueuedAt))
				Expect(got.StartedAt).To(BeNil())
			})

			It("round trips payload params", func() {
				j, err := driver.Enqueue(ctx, jobs.TypeMemoryExtraction, jobs.Payload{
					ConversationID:  "conv-1",
					SourceVersionID: "tv-1",
					Params:          map[string]string{"activate": "true"},
				}, jobs.WithMaxAttempts(5))
				Expect(err).NotTo(HaveOccurred())

				got, err := driver.GetJob(ctx, j.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Payload.SourceVersionID).To(Equal("tv-1"))
				Expect(got.Payload.Params).To(HaveKeyWithValue("activate", "true"))
				Expect(got.MaxAttempts).To(Equal(5))
			})

			It("rejects unknown job types", func() {
				_, err := driver.Enqueue(ctx, jobs.Type("bogus"), jobs.Payload{})
				Expect(err).To(HaveOccurred())
			})
		})

		Describe("ClaimNext", func() {
			It("returns nil when nothing is queued", func() {
				Expect(claim("w1")).To(BeNil())
			})

			It("claims the oldest job and marks it processing", func() {
				first := enqueue("a")
				enqueue("b")

				j := claim("w1")
				Expect(j).NotTo(BeNil())
				Expect(j.ID).To(Equal(first.ID))
				Expect(j.Status).To(Equal(jobs.StatusProcessing))
				Expect(j.WorkerID).To(Equal("w1"))
				Expect(j.AttemptCount).To(Equal(1))
				Expect(j.StartedAt).NotTo(BeNil())
				Expect(j.LeaseExpiresAt).NotTo(BeNil())
			})

			It("only claims the requested types", func() {
				enqueue("a")
				j, err := driver.ClaimNext(ctx, "w1", []jobs.Type{jobs.TypeMemoryExtraction}, lease)
				Expect(err).NotTo(HaveOccurred())
				Expect(j).To(BeNil())
			})

			It("skips jobs that are not yet available", func() {
				enqueue("a", jobs.WithAvailableAt(time.Now().Add(time.Hour)))
				Expect(claim("w1")).To(BeNil())
			})

			It("never hands the same job to two workers", func() {
				const total = 20
				for i := 0; i < total; i++ {
					enqueue("conv")
				}

				var (
					mu      sync.Mutex
					claimed = map[string]int{}
					wg      sync.WaitGroup
				)
				for w := 0; w < 5; w++ {
					wg.Add(1)
					go func(workerID string) {
						defer GinkgoRecover()
						defer wg.Done()
						for {
							j, err := driver.ClaimNext(ctx, workerID, allTypes, lease)
							Expect(err).NotTo(HaveOccurred())
							if j == nil {
								return
							}
							mu.Lock()
							claimed[j.ID]++
							mu.Unlock()
						}
					}(string(rune('a' + w)))
				}
				wg.Wait()

				Expect(claimed).To(HaveLen(total))
				for id, n := range claimed {
					Expect(n).To(Equal(1), "job %s claimed %d times", id, n)
				}
			})
		})

		Describe("Complete", func() {
			It("completes a job owned by the worker", func() {
				enqueue("a")
				j := claim("w1")

				Expect(driver.Complete(ctx, j.ID, "w1", map[string]any{"version_id": "v1"})).To(Succeed())

				got, err := driver.GetJob(ctx, j.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusCompleted))
				Expect(got.FinishedAt).NotTo(BeNil())
				Expect(got.WorkerID).To(BeEmpty())
				Expect(got.Result).To(HaveKeyWithValue("version_id", "v1"))
			})

			It("rejects a worker that does not own the claim", func() {
				enqueue("a")
				j := claim("w1")

				err := driver.Complete(ctx, j.ID, "w2", nil)
				Expect(storage.IsConflict(err)).To(BeTrue())
			})

			It("rejects completing a terminal job", func() {
				enqueue("a")
				j := claim("w1")
				Expect(driver.Complete(ctx, j.ID, "w1", nil)).To(Succeed())

				err := driver.Complete(ctx, j.ID, "w1", nil)
				Expect(errors.Is(err, storage.ErrInvalidTransition)).To(BeTrue())
			})

			It("reports unknown jobs as not found", func() {
				err := driver.Complete(ctx, "missing", "w1", nil)
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})
		})

		Describe("Fail", func() {
			It("requeues a retryable failure with attempts remaining", func() {
				enqueue("a")
				j := claim("w1")
				retryAt := time.Now().Add(time.Hour)

				got, err := driver.Fail(ctx, j.ID, "w1", jobs.Failure{Error: "timeout", Retryable: true, RetryAt: retryAt})
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusQueued))
				Expect(got.LastError).To(Equal("timeout"))
				Expect(got.AvailableAt).To(BeTemporally("~", retryAt, time.Millisecond))
				Expect(got.WorkerID).To(BeEmpty())

				Expect(claim("w1")).To(BeNil())
			})

			It("fails a non-retryable failure immediately", func() {
				enqueue("a")
				j := claim("w1")

				got, err := driver.Fail(ctx, j.ID, "w1", jobs.Failure{
					Error:      "bad audio",
					Diagnostic: map[string]any{"stage": "transcription"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusFailed))
				Expect(got.FinishedAt).NotTo(BeNil())
				Expect(got.Result).To(HaveKeyWithValue("stage", "transcription"))
			})

			It("fails a retryable failure once attempts are exhausted", func() {
				enqueue("a", jobs.WithMaxAttempts(1))
				j := claim("w1")

				got, err := driver.Fail(ctx, j.ID, "w1", jobs.Failure{Error: "timeout", Retryable: true})
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusFailed))
			})

			It("rejects a worker that does not own the claim", func() {
				enqueue("a")
				j := claim("w1")

				_, err := driver.Fail(ctx, j.ID, "w2", jobs.Failure{Error: "x"})
				Expect(storage.IsConflict(err)).To(BeTrue())
			})
		})

		Describe("Heartbeat and RequeueStale", func() {
			It("leaves live claims alone", func() {
				enqueue("a")
				claim("w1")

				n, err := driver.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now()})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
			})

			It("requeues claims whose lease expired", func() {
				enqueue("a")
				j := claim("w1")

				n, err := driver.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now().Add(2 * lease)})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))

				got, err := driver.GetJob(ctx, j.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusQueued))
				Expect(got.WorkerID).To(BeEmpty())
				Expect(got.AttemptCount).To(Equal(1))
			})

			It("requeues claims held by a restarted owner", func() {
				enqueue("a")
				claim("node-1/worker-0")
				enqueue("b")
				claim("node-2/worker-0")

				n, err := driver.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now(), OwnerPrefix: "node-1/"})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(1))

				stats, err := driver.Stats(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Queued).To(Equal(1))
				Expect(stats.Processing).To(Equal(1))
			})

			It("fails stale claims that used their last attempt", func() {
				enqueue("a", jobs.WithMaxAttempts(1))
				j := claim("w1")

				_, err := driver.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now().Add(2 * lease)})
				Expect(err).NotTo(HaveOccurred())

				got, err := driver.GetJob(ctx, j.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Status).To(Equal(jobs.StatusFailed))
				Expect(got.LastError).To(Equal(jobs.StaleClaimExhausted))
			})

			It("extends the lease on heartbeat", func() {
				enqueue("a")
				j := claim("w1")

				Expect(driver.Heartbeat(ctx, j.ID, "w1", 10*lease)).To(Succeed())

				n, err := driver.RequeueStale(ctx, jobs.StaleQuery{Now: time.Now().Add(2 * lease)})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(0))
			})

			It("rejects heartbeats from a non-owner", func() {
				enqueue("a")
				j := claim("w1")

				Expect(storage.IsConflict(driver.Heartbeat(ctx, j.ID, "w2", lease))).To(BeTrue())
			})
		})

		Describe("ListJobs and Stats", func() {
			It("filters by conversation and status", func() {
				enqueue("a")
				enqueue("b")
				enqueue("a")
				claim("w1")

				list, err := driver.ListJobs(ctx, jobs.Filter{ConversationID: "a"})
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(2))

				queued, err := driver.ListJobs(ctx, jobs.Filter{Statuses: []jobs.Status{jobs.StatusQueued}})
				Expect(err).NotTo(HaveOccurred())
				Expect(queued).To(HaveLen(2))
			})

			It("pages with limit and offset", func() {
				for i := 0; i < 5; i++ {
					enqueue("a")
				}
				page, err := driver.ListJobs(ctx, jobs.Filter{Limit: 2, Offset: 4})
				Expect(err).NotTo(HaveOccurred())
				Expect(page).To(HaveLen(1))
			})

			It("pages with an offset and no limit", func() {
				for i := 0; i < 5; i++ {
					enqueue("a")
				}
				all, err := driver.ListJobs(ctx, jobs.Filter{})
				Expect(err).NotTo(HaveOccurred())

				page, err := driver.ListJobs(ctx, jobs.Filter{Offset: 3})
				Expect(err).NotTo(HaveOccurred())
				Expect(page).To(HaveLen(2))
				Expect(page[0].ID).To(Equal(all[3].ID))

				page, err = driver.ListJobs(ctx, jobs.Filter{Offset: 5})
				Expect(err).NotTo(HaveOccurred())
				Expect(page).To(BeEmpty())
			})

			It("counts jobs per status", func() {
				enqueue("a")
				enqueue("b")
				j := claim("w1")
				Expect(driver.Complete(ctx, j.ID, "w1", nil)).To(Succeed())
				enqueue("c")
				claim("w1")

				stats, err := driver.Stats(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats).To(Equal(jobs.Stats{Queued: 1, Processing: 1, Completed: 1}))
			})
		})
	})

	Describe("conversation store", func() {
		It("creates and retrieves a conversation", func() {
			c, err := driver.CreateConversation(ctx, &conversation.Conversation{
				UserID:         "user-1",
				AudioReference: "audio/abc.wav",
				Title:          conversation.DefaultTitle,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).NotTo(BeEmpty())

			got, err := driver.GetConversation(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UserID).To(Equal("user-1"))
			Expect(got.AudioReference).To(Equal("audio/abc.wav"))
			Expect(got.ActiveTranscriptVersionID).To(BeEmpty())
			Expect(got.EndedAt).To(BeNil())
		})

		It("rejects duplicate ids", func() {
			c := newConversation("u")
			_, err := driver.CreateConversation(ctx, &conversation.Conversation{ID: c.ID, UserID: "u"})
			Expect(storage.IsConflict(err)).To(BeTrue())
		})

		It("reports missing conversations", func() {
			_, err := driver.GetConversation(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("lists a user's conversations without fixtures by default", func() {
			newConversation("u1")
			newConversation("u2")
			_, err := driver.CreateConversation(ctx, &conversation.Conversation{UserID: "u1", IsFixture: true})
			Expect(err).NotTo(HaveOccurred())

			list, err := driver.ListConversations(ctx, conversation.Filter{UserID: "u1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))

			all, err := driver.ListConversations(ctx, conversation.Filter{UserID: "u1", IncludeFixtures: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})

		It("ends a conversation once", func() {
			c := newConversation("u")

			ended, err := driver.EndConversation(ctx, c.ID, conversation.EndReasonUserStopped)
			Expect(err).NotTo(HaveOccurred())
			Expect(ended.EndedAt).NotTo(BeNil())
			Expect(ended.EndReason).To(Equal(conversation.EndReasonUserStopped))

			_, err = driver.EndConversation(ctx, c.ID, conversation.EndReasonUserStopped)
			Expect(storage.IsConflict(err)).To(BeTrue())
		})

		It("updates title and summaries", func() {
			c := newConversation("u")
			detailed := "Ada proposes a hike.\n\n" + strings.Repeat("Bo agrees to camp. ", 200)
			Expect(driver.UpdateConversationDetails(ctx, c.ID, conversation.Details{
				Title:           "Trip",
				Summary:         "Planning a trip",
				DetailedSummary: detailed,
			})).To(Succeed())

			got, err := driver.GetConversation(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("Trip"))
			Expect(got.Summary).To(Equal("Planning a trip"))
			Expect(got.DetailedSummary).To(Equal(detailed))

			listed, err := driver.ListConversations(ctx, conversation.Filter{UserID: "u"})
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
			Expect(listed[0].DetailedSummary).To(Equal(detailed))

			Expect(storage.IsNotFound(driver.UpdateConversationDetails(ctx, "missing", conversation.Details{Title: "a"}))).To(BeTrue())
		})
	})

	Describe("version store", func() {
		var c *conversation.Conversation

		BeforeEach(func() {
			c = newConversation("user-1")
		})

		newTranscript := func() *conversation.TranscriptVersion {
			v, err := driver.CreateTranscriptVersion(ctx, c.ID, segments, conversation.SourceOriginal)
			Expect(err).NotTo(HaveOccurred())
			return v
		}

		newMemoryVersion := func(tv string, keep []string, contents ...string) *conversation.MemoryVersion {
			draft := conversation.MemoryVersionDraft{ConversationID: c.ID, TranscriptVersionID: tv, Keep: keep}
			for _, content := range contents {
				draft.New = append(draft.New, &conversation.Memory{UserID: c.UserID, Content: content})
			}
			v, err := driver.CreateMemoryVersion(ctx, draft)
			Expect(err).NotTo(HaveOccurred())
			return v
		}

		Describe("transcript versions", func() {
			It("stores segments and derived full text", func() {
				v := newTranscript()
				Expect(v.FullText).To(Equal("hello there hi"))

				got, err := driver.GetTranscriptVersion(ctx, c.ID, v.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Segments).To(Equal(segments))
				Expect(got.Source).To(Equal(conversation.SourceOriginal))
			})

			It("does not change the active pointer on create", func() {
				newTranscript()
				got, err := driver.GetConversation(ctx, c.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ActiveTranscriptVersionID).To(BeEmpty())
			})

			It("activates a version of the same conversation only", func() {
				v := newTranscript()
				Expect(driver.ActivateTranscriptVersion(ctx, c.ID, v.ID)).To(Succeed())

				got, err := driver.GetConversation(ctx, c.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.ActiveTranscriptVersionID).To(Equal(v.ID))

				other := newConversation("user-2")
				err = driver.ActivateTranscriptVersion(ctx, other.ID, v.ID)
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})

			It("requires the conversation to exist", func() {
				_, err := driver.CreateTranscriptVersion(ctx, "missing", segments, conversation.SourceOriginal)
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})
		})

		Describe("memory versions", func() {
			It("inserts new memories with lineage", func() {
				tv := newTranscript()
				mv := newMemoryVersion(tv.ID, nil, "likes tea", "lives in Oslo")

				Expect(mv.TranscriptVersionID).To(Equal(tv.ID))
				Expect(mv.MemoryIDs).To(HaveLen(2))
				Expect(mv.Memories).To(HaveLen(2))
				Expect(mv.Memories[0].Content).To(Equal("likes tea"))
				Expect(mv.Memories[0].SourceMemoryVersionID).To(Equal(mv.ID))
				Expect(mv.Memories[0].SourceConversationID).To(Equal(c.ID))
			})

			It("carries kept memories into a new version", func() {
				tv := newTranscript()
				first := newMemoryVersion(tv.ID, nil, "likes tea", "lives in Oslo")
				second := newMemoryVersion(tv.ID, []string{first.MemoryIDs[1]}, "likes coffee")

				Expect(second.MemoryIDs).To(HaveLen(2))
				Expect(second.MemoryIDs[0]).To(Equal(first.MemoryIDs[1]))
				Expect(second.Memories[1].Content).To(Equal("likes coffee"))
			})

			It("rejects unknown kept memories", func() {
				tv := newTranscript()
				_, err := driver.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
					ConversationID: c.ID, TranscriptVersionID: tv.ID, Keep: []string{"missing"},
				})
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})

			It("rejects a transcript from another conversation", func() {
				other := newConversation("user-2")
				tv, err := driver.CreateTranscriptVersion(ctx, other.ID, segments, conversation.SourceOriginal)
				Expect(err).NotTo(HaveOccurred())

				_, err = driver.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
					ConversationID: c.ID, TranscriptVersionID: tv.ID,
				})
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})

			It("allows an empty version", func() {
				tv := newTranscript()
				mv := newMemoryVersion(tv.ID, nil)
				Expect(mv.MemoryIDs).To(BeEmpty())
			})

			It("returns the active memory set", func() {
				tv := newTranscript()
				active, err := driver.ActiveMemories(ctx, c.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(active).To(BeEmpty())

				mv := newMemoryVersion(tv.ID, nil, "likes tea")
				Expect(driver.ActivateMemoryVersion(ctx, c.ID, mv.ID)).To(Succeed())

				active, err = driver.ActiveMemories(ctx, c.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(active).To(HaveLen(1))
				Expect(active[0].Content).To(Equal("likes tea"))
			})

			It("keeps metadata and supersedes links", func() {
				tv := newTranscript()
				first := newMemoryVersion(tv.ID, nil, "likes tea")
				mv, err := driver.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
					ConversationID:      c.ID,
					TranscriptVersionID: tv.ID,
					New: []*conversation.Memory{{
						UserID:     c.UserID,
						Content:    "likes green tea",
						Metadata:   map[string]any{"category": "preference"},
						Supersedes: first.MemoryIDs[0],
					}},
				})
				Expect(err).NotTo(HaveOccurred())

				m, err := driver.GetMemory(ctx, mv.MemoryIDs[0])
				Expect(err).NotTo(HaveOccurred())
				Expect(m.Supersedes).To(Equal(first.MemoryIDs[0]))
				Expect(m.Metadata).To(HaveKeyWithValue("category", "preference"))
			})
		})

		Describe("ListVersions", func() {
			It("lists transcript versions oldest first with the active flag", func() {
				v1 := newTranscript()
				v2, err := driver.CreateTranscriptVersion(ctx, c.ID, segments[:1], conversation.SourceReprocess)
				Expect(err).NotTo(HaveOccurred())
				Expect(driver.ActivateTranscriptVersion(ctx, c.ID, v2.ID)).To(Succeed())

				list, err := driver.ListVersions(ctx, c.ID, conversation.KindTranscript)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(2))
				Expect(list[0].ID).To(Equal(v1.ID))
				Expect(list[0].Active).To(BeFalse())
				Expect(list[0].SegmentCount).To(Equal(2))
				Expect(list[1].Active).To(BeTrue())
				Expect(list[1].Source).To(Equal(conversation.SourceReprocess))
			})

			It("lists memory versions with member counts", func() {
				tv := newTranscript()
				newMemoryVersion(tv.ID, nil, "a", "b")
				newMemoryVersion(tv.ID, nil)

				list, err := driver.ListVersions(ctx, c.ID, conversation.KindMemory)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(2))
				counts := []int{list[0].MemoryCount, list[1].MemoryCount}
				Expect(counts).To(ConsistOf(2, 0))
				Expect(list[0].TranscriptVersionID).To(Equal(tv.ID))
			})
		})

		Describe("DeleteVersion", func() {
			It("refuses to delete the active version", func() {
				v := newTranscript()
				Expect(driver.ActivateTranscriptVersion(ctx, c.ID, v.ID)).To(Succeed())

				err := driver.DeleteVersion(ctx, c.ID, conversation.KindTranscript, v.ID)
				Expect(storage.IsConflict(err)).To(BeTrue())
			})

			It("refuses to delete a transcript a memory version derives from", func() {
				v := newTranscript()
				newMemoryVersion(v.ID, nil, "a")

				err := driver.DeleteVersion(ctx, c.ID, conversation.KindTranscript, v.ID)
				Expect(storage.IsConflict(err)).To(BeTrue())
			})

			It("deletes an inactive memory version but keeps its memories", func() {
				tv := newTranscript()
				mv := newMemoryVersion(tv.ID, nil, "a")

				Expect(driver.DeleteVersion(ctx, c.ID, conversation.KindMemory, mv.ID)).To(Succeed())

				_, err := driver.GetMemoryVersion(ctx, c.ID, mv.ID)
				Expect(storage.IsNotFound(err)).To(BeTrue())

				m, err := driver.GetMemory(ctx, mv.MemoryIDs[0])
				Expect(err).NotTo(HaveOccurred())
				Expect(m.Content).To(Equal("a"))

				Expect(driver.DeleteVersion(ctx, c.ID, conversation.KindTranscript, tv.ID)).To(Succeed())
			})

			It("reports unknown versions", func() {
				err := driver.DeleteVersion(ctx, c.ID, conversation.KindMemory, "missing")
				Expect(storage.IsNotFound(err)).To(BeTrue())
			})
		})
	})
}
