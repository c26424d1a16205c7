package pipeline_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/eventstream"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
	"github.com/papercomputeco/chronicle/pkg/stt"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
)

var _ = Describe("Service", func() {
	var (
		ctx context.Context
		e   *env
	)

	BeforeEach(func() {
		ctx = context.Background()
		e = newEnv()
	})

	It("requires a store", func() {
		_, err := pipeline.New(pipeline.Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("Upload", func() {
		It("stores audio, ends the conversation and enqueues transcription", func() {
			res := e.upload(ctx, "user-1")

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.UserID).To(Equal("user-1"))
			Expect(conv.AudioReference).To(Equal(res.AudioReference))
			Expect(conv.EndReason).To(Equal(conversation.EndReasonUploadComplete))

			job := e.job(ctx, res.JobID)
			Expect(job.Type).To(Equal(jobs.TypeTranscription))
			Expect(job.Status).To(Equal(jobs.StatusQueued))
			Expect(job.Payload.AudioReference).To(Equal(res.AudioReference))
			Expect(job.MaxAttempts).To(Equal(jobs.DefaultMaxAttempts))
			Expect(e.waker.n.Load()).To(BeEquivalentTo(1))

			rc, err := e.files.Open(ctx, res.AudioReference)
			Expect(err).NotTo(HaveOccurred())
			rc.Close()
		})

		It("assigns the default user", func() {
			res := e.upload(ctx, "")
			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.UserID).To(Equal(pipeline.DefaultUserID))
		})

		It("rejects unsupported formats before storing anything", func() {
			_, err := e.svc.Upload(ctx, pipeline.UploadRequest{Filename: "notes.txt", Reader: strings.NewReader("x")})
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
			Expect(err).To(MatchError(audio.ErrUnsupportedFormat))

			convs, err := e.svc.ListConversations(ctx, conversation.Filter{IncludeFixtures: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(convs).To(BeEmpty())
		})

		It("reports the stored conversation when queueing fails", func() {
			q := &refusingQueue{err: errors.New("queue unavailable")}
			e = newEnv(func(c *pipeline.Config) {
				q.Driver = c.Store.(*inmemory.Driver)
				c.Store = q
			})

			_, err := e.svc.Upload(ctx, pipeline.UploadRequest{
				UserID:   "user-1",
				Filename: "meeting.wav",
				Reader:   strings.NewReader("RIFF....WAVE"),
			})
			var incomplete *pipeline.IncompleteUploadError
			Expect(errors.As(err, &incomplete)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("queue unavailable")))
			Expect(incomplete.AudioReference).NotTo(BeEmpty())

			conv, err := e.svc.GetConversation(ctx, incomplete.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.EndReason).To(Equal(conversation.EndReasonUploadComplete))

			q.err = nil
			job, err := e.svc.EnqueueTranscription(ctx, incomplete.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			out := e.runTranscription(ctx, job.ID)
			Expect(out).To(HaveKeyWithValue("has_speech", true))
		})

		It("rejects missing files", func() {
			_, err := e.svc.Upload(ctx, pipeline.UploadRequest{Filename: "a.wav"})
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
		})
	})

	Describe("transcription", func() {
		It("creates and activates a transcript version, then enqueues extraction", func() {
			res := e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)

			tvID := out["transcript_version_id"].(string)
			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ActiveTranscriptVersionID).To(Equal(tvID))
			Expect(out).To(HaveKeyWithValue("segment_count", 1))
			Expect(out).To(HaveKeyWithValue("has_speech", true))

			memJob := e.job(ctx, out["memory_job_id"].(string))
			Expect(memJob.Type).To(Equal(jobs.TypeMemoryExtraction))
			Expect(memJob.Payload.SourceVersionID).To(Equal(tvID))

			Expect(e.stt.Calls()).To(ConsistOf(res.AudioReference))
			Expect(e.publisher.Types()).To(ContainElement(eventstream.EventTypeVersionActivated))
		})

		It("appends a new version when re-run", func() {
			res := e.upload(ctx, "user-1")
			e.runTranscription(ctx, res.JobID)
			e.runTranscription(ctx, res.JobID)

			versions, err := e.svc.ListVersions(ctx, res.ConversationID, conversation.KindTranscript)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(HaveLen(2))
		})

		It("fails permanently on unsupported audio without calling the provider", func() {
			conv, err := e.store.CreateConversation(ctx, &conversation.Conversation{UserID: "u", AudioReference: "notes.txt"})
			Expect(err).NotTo(HaveOccurred())
			job, err := e.svc.EnqueueTranscription(ctx, conv.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = e.svc.HandleTranscription(ctx, job)
			Expect(err).To(MatchError(stt.ErrUnsupportedAudio))
			retryable, _ := pipeline.Classify(err)
			Expect(retryable).To(BeFalse())
			Expect(e.stt.Calls()).To(BeEmpty())
		})

		It("surfaces provider timeouts as retryable", func() {
			e.stt.Errs = []error{stt.ErrProviderTimeout}
			res := e.upload(ctx, "user-1")

			_, err := e.svc.HandleTranscription(ctx, e.job(ctx, res.JobID))
			Expect(err).To(MatchError(stt.ErrProviderTimeout))
			retryable, _ := pipeline.Classify(err)
			Expect(retryable).To(BeTrue())
		})

		It("stores generated titles and summaries", func() {
			e = newEnv(func(c *pipeline.Config) {
				c.Summarizer = &testutils.MockSummarizer{
					TitleText:    "Morning coffee",
					SummaryText:  "Ada talks about coffee.",
					DetailedText: "Ada drinks coffee every morning.\n\nShe drinks it before work.",
				}
			})
			res := e.upload(ctx, "user-1")
			e.runTranscription(ctx, res.JobID)

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.Title).To(Equal("Morning coffee"))
			Expect(conv.Summary).To(Equal("Ada talks about coffee."))
			Expect(conv.DetailedSummary).To(Equal("Ada drinks coffee every morning.\n\nShe drinks it before work."))
		})

		It("falls back to default details when summarisation fails", func() {
			e = newEnv(func(c *pipeline.Config) {
				c.Summarizer = &testutils.MockSummarizer{Err: llm.ErrProviderTimeout}
			})
			res := e.upload(ctx, "user-1")
			e.runTranscription(ctx, res.JobID)

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.Title).To(Equal(conversation.DefaultTitle))
			Expect(conv.Summary).To(Equal(conversation.DefaultSummary))
			Expect(conv.DetailedSummary).To(Equal("Ada drinks coffee every single morning before work"))
		})

		It("stores the no-content detailed summary for silent audio", func() {
			e = newEnv(func(c *pipeline.Config) {
				c.Summarizer = &testutils.MockSummarizer{DetailedText: "unused"}
			})
			e.stt.Result = &stt.Result{}
			res := e.upload(ctx, "user-1")
			e.runTranscription(ctx, res.JobID)

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.DetailedSummary).To(Equal(llm.NoDetailedSummary))
			Expect(conv.Title).To(Equal(conversation.DefaultTitle))
		})

		It("skips extraction without speech when speech is required", func() {
			e = newEnv(func(c *pipeline.Config) { c.RequireSpeech = true })
			e.stt.Result = speech("um okay")
			res := e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)

			Expect(out).To(HaveKeyWithValue("has_speech", false))
			Expect(out).To(HaveKeyWithValue("memory_job_id", ""))
			Expect(out["skipped_memory_extraction"]).To(ContainSubstring("Not enough valid words"))

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ActiveTranscriptVersionID).To(Equal(out["transcript_version_id"]))

			list, err := e.svc.ListJobs(ctx, jobs.Filter{Types: []jobs.Type{jobs.TypeMemoryExtraction}})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})
	})

	Describe("memory extraction", func() {
		var (
			res   *pipeline.UploadResult
			memID string
		)

		BeforeEach(func() {
			res = e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)
			memID = out["memory_job_id"].(string)
		})

		It("applies adds and activates the new version", func() {
			e.model.Replies = [][]llm.Operation{adds("Ada drinks coffee", "Ada works mornings")}
			out := e.runExtraction(ctx, memID)

			Expect(out).To(HaveKeyWithValue("added", 2))
			Expect(out).To(HaveKeyWithValue("memory_count", 2))
			mems := e.active(ctx, res.ConversationID)
			Expect(contents(mems)).To(ConsistOf("Ada drinks coffee", "Ada works mornings"))
			Expect(mems[0].UserID).To(Equal("user-1"))
			Expect(mems[0].Metadata).To(HaveKeyWithValue("type", "fact"))
			Expect(e.index.IDs()).To(ConsistOf(ids(mems)))

			calls := e.model.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Transcript).To(ContainSubstring("Ada drinks coffee"))
			Expect(calls[0].Existing).To(BeEmpty())
		})

		It("treats updates and deletes of unknown ids as no-ops", func() {
			e.model.Replies = [][]llm.Operation{{
				{Kind: llm.OpAdd, Content: "Ada likes tea"},
				{Kind: llm.OpDelete, ID: "missing"},
				{Kind: llm.OpUpdate, ID: "also-missing", Content: "x"},
			}}
			out := e.runExtraction(ctx, memID)
			Expect(out).To(HaveKeyWithValue("ignored", 2))
			Expect(out).To(HaveKeyWithValue("memory_count", 1))
		})

		It("creates and activates an empty version when nothing is proposed", func() {
			out := e.runExtraction(ctx, memID)
			Expect(out).To(HaveKeyWithValue("memory_count", 0))

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.ActiveMemoryVersionID).To(Equal(out["memory_version_id"]))
		})

		It("merges metadata on update", func() {
			e.model.Replies = [][]llm.Operation{{
				{Kind: llm.OpAdd, Content: "Ada drinks coffee", Metadata: map[string]any{"type": "preference", "people": []any{"Ada"}}},
			}}
			e.runExtraction(ctx, memID)
			old := e.active(ctx, res.ConversationID)[0]

			job, err := e.svc.ReprocessMemory(ctx, res.ConversationID, "")
			Expect(err).NotTo(HaveOccurred())
			e.model.Replies = [][]llm.Operation{{
				{Kind: llm.OpUpdate, ID: old.ID, Content: "Ada drinks decaf", Metadata: map[string]any{"type": "habit"}},
			}}
			e.runExtraction(ctx, job.ID)

			mems := e.active(ctx, res.ConversationID)
			Expect(mems).To(HaveLen(1))
			Expect(mems[0].ID).NotTo(Equal(old.ID))
			Expect(mems[0].Supersedes).To(Equal(old.ID))
			Expect(mems[0].Metadata).To(HaveKeyWithValue("type", "habit"))
			Expect(mems[0].Metadata).To(HaveKey("people"))

			kept, err := e.svc.GetMemory(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(kept.Content).To(Equal("Ada drinks coffee"))
			Expect(e.index.IDs()).To(ConsistOf(mems[0].ID))
		})

		It("keeps malformed output for diagnosis", func() {
			e.model.Errs = []error{&llm.MalformedResponseError{Reason: "no JSON value found", Raw: "Sure! Here you go"}}
			_, err := e.svc.HandleMemoryExtraction(ctx, e.job(ctx, memID))
			Expect(err).To(HaveOccurred())

			retryable, diag := pipeline.Classify(err)
			Expect(retryable).To(BeFalse())
			Expect(diag).To(HaveKeyWithValue("raw_output", "Sure! Here you go"))
		})

		It("does not fail when the index does", func() {
			e.index.Fail = true
			e.model.Replies = [][]llm.Operation{adds("Ada drinks coffee")}
			out := e.runExtraction(ctx, memID)
			Expect(out).To(HaveKeyWithValue("memory_count", 1))
		})
	})

	Describe("versions", func() {
		var (
			res  *pipeline.UploadResult
			tvID string
			mv1  string
		)

		BeforeEach(func() {
			res = e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)
			tvID = out["transcript_version_id"].(string)
			e.model.Replies = [][]llm.Operation{adds("one", "two")}
			mv1 = e.runExtraction(ctx, out["memory_job_id"].(string))["memory_version_id"].(string)
		})

		It("rolls memory back to an earlier version and resyncs the index", func() {
			job, err := e.svc.ReprocessMemory(ctx, res.ConversationID, tvID)
			Expect(err).NotTo(HaveOccurred())
			e.model.Replies = [][]llm.Operation{{{Kind: llm.OpDelete, ID: idOf(e.active(ctx, res.ConversationID), "two")}}}
			e.runExtraction(ctx, job.ID)
			Expect(contents(e.active(ctx, res.ConversationID))).To(ConsistOf("one"))
			Expect(e.index.IDs()).To(HaveLen(1))

			Expect(e.svc.ActivateMemoryVersion(ctx, res.ConversationID, mv1)).To(Succeed())
			mems := e.active(ctx, res.ConversationID)
			Expect(contents(mems)).To(ConsistOf("one", "two"))
			Expect(e.index.IDs()).To(ConsistOf(ids(mems)))
		})

		It("treats re-activation as a no-op", func() {
			Expect(e.svc.ActivateMemoryVersion(ctx, res.ConversationID, mv1)).To(Succeed())
			Expect(e.svc.ActivateTranscriptVersion(ctx, res.ConversationID, tvID)).To(Succeed())
		})

		It("refuses to delete the active version", func() {
			err := e.svc.DeleteVersion(ctx, res.ConversationID, conversation.KindMemory, mv1)
			Expect(storage.IsConflict(err)).To(BeTrue())
		})

		It("loads full versions with their activation state", func() {
			v, err := e.svc.GetVersion(ctx, res.ConversationID, conversation.KindMemory, mv1)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Active).To(BeTrue())
			Expect(v.Memory.Memories).To(HaveLen(2))

			t, err := e.svc.GetVersion(ctx, res.ConversationID, conversation.KindTranscript, tvID)
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Transcript.FullText).To(ContainSubstring("coffee"))
		})

		It("reports missing versions", func() {
			_, err := e.svc.GetVersion(ctx, res.ConversationID, conversation.KindMemory, "nope")
			Expect(storage.IsNotFound(err)).To(BeTrue())
			_, err = e.svc.ReprocessMemory(ctx, res.ConversationID, "nope")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("keeps every version across reprocessing", func() {
			for range 3 {
				job, err := e.svc.ReprocessTranscript(ctx, res.ConversationID)
				Expect(err).NotTo(HaveOccurred())
				out := e.runTranscription(ctx, job.ID)
				e.runExtraction(ctx, out["memory_job_id"].(string))
			}
			transcripts, err := e.svc.ListVersions(ctx, res.ConversationID, conversation.KindTranscript)
			Expect(err).NotTo(HaveOccurred())
			Expect(transcripts).To(HaveLen(4))
			Expect(transcripts[3].Source).To(Equal(conversation.SourceReprocess))

			memories, err := e.svc.ListVersions(ctx, res.ConversationID, conversation.KindMemory)
			Expect(err).NotTo(HaveOccurred())
			Expect(memories).To(HaveLen(4))
		})
	})

	Describe("users", func() {
		It("counts and clears a user's active memories", func() {
			for range 2 {
				res := e.upload(ctx, "user-1")
				out := e.runTranscription(ctx, res.JobID)
				e.model.Replies = [][]llm.Operation{adds("a", "b")}
				e.runExtraction(ctx, out["memory_job_id"].(string))
			}
			other := e.upload(ctx, "user-2")
			out := e.runTranscription(ctx, other.JobID)
			e.model.Replies = [][]llm.Operation{adds("c")}
			e.runExtraction(ctx, out["memory_job_id"].(string))

			n, err := e.svc.CountMemories(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(4))

			removed, err := e.svc.DeleteUserMemories(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(4))

			n, err = e.svc.CountMemories(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			Expect(e.index.IDs()).To(ConsistOf(ids(e.active(ctx, other.ConversationID))))
		})

		It("lists a user's active memories", func() {
			for _, c := range []string{"a", "b"} {
				res := e.upload(ctx, "user-1")
				out := e.runTranscription(ctx, res.JobID)
				e.model.Replies = [][]llm.Operation{adds(c)}
				e.runExtraction(ctx, out["memory_job_id"].(string))
			}
			other := e.upload(ctx, "user-2")
			out := e.runTranscription(ctx, other.JobID)
			e.model.Replies = [][]llm.Operation{adds("c")}
			e.runExtraction(ctx, out["memory_job_id"].(string))

			mems, err := e.svc.ListUserMemories(ctx, "user-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(contents(mems)).To(ConsistOf("a", "b"))

			mems, err = e.svc.ListUserMemories(ctx, "nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(mems).To(BeEmpty())

			_, err = e.svc.ListUserMemories(ctx, "")
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
		})

		It("deletes one memory through a new active version", func() {
			res := e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)
			e.model.Replies = [][]llm.Operation{adds("keep me", "drop me")}
			e.runExtraction(ctx, out["memory_job_id"].(string))
			before := e.active(ctx, res.ConversationID)
			dropped := idOf(before, "drop me")

			v, err := e.svc.DeleteMemory(ctx, dropped)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.MemoryIDs).To(ConsistOf(idOf(before, "keep me")))

			after := e.active(ctx, res.ConversationID)
			Expect(contents(after)).To(ConsistOf("keep me"))
			Expect(e.index.IDs()).To(ConsistOf(ids(after)))

			c, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ActiveMemoryVersionID).To(Equal(v.ID))

			m, err := e.svc.GetMemory(ctx, dropped)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Content).To(Equal("drop me"))

			_, err = e.svc.DeleteMemory(ctx, dropped)
			Expect(storage.IsConflict(err)).To(BeTrue())

			versions, err := e.svc.ListVersions(ctx, res.ConversationID, conversation.KindMemory)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(HaveLen(2))
		})

		It("reports unknown memories as not found", func() {
			_, err := e.svc.DeleteMemory(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("requires a user id to clear memories", func() {
			_, err := e.svc.DeleteUserMemories(ctx, "")
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
		})
	})

	Describe("search", func() {
		It("searches indexed memories", func() {
			res := e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)
			e.model.Replies = [][]llm.Operation{adds("Ada drinks coffee", "Ada plays chess")}
			e.runExtraction(ctx, out["memory_job_id"].(string))

			results, err := e.svc.SearchMemories(ctx, pipeline.SearchRequest{Query: "chess", UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.Content).To(Equal("Ada plays chess"))
		})

		It("rebuilds an empty index from the store", func() {
			res := e.upload(ctx, "user-1")
			out := e.runTranscription(ctx, res.JobID)
			e.model.Replies = [][]llm.Operation{adds("x", "y")}
			e.runExtraction(ctx, out["memory_job_id"].(string))

			fresh := testutils.NewMockSearchIndex()
			svc, err := pipeline.New(pipeline.Config{Store: e.store, Index: fresh})
			Expect(err).NotTo(HaveOccurred())
			n, err := svc.Reindex(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(2))
			Expect(fresh.IDs()).To(HaveLen(2))
		})

		It("rejects empty queries", func() {
			_, err := e.svc.SearchMemories(ctx, pipeline.SearchRequest{})
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
		})

		It("reports a missing index", func() {
			svc, err := pipeline.New(pipeline.Config{Store: e.store})
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.SearchMemories(ctx, pipeline.SearchRequest{Query: "x"})
			Expect(errors.Is(err, pipeline.ErrSearchDisabled)).To(BeTrue())
		})
	})

	Describe("conversations", func() {
		It("ends a conversation once", func() {
			conv, err := e.store.CreateConversation(ctx, &conversation.Conversation{UserID: "u"})
			Expect(err).NotTo(HaveOccurred())

			_, err = e.svc.EndConversation(ctx, conv.ID, conversation.EndReasonUserStopped)
			Expect(err).NotTo(HaveOccurred())
			_, err = e.svc.EndConversation(ctx, conv.ID, conversation.EndReasonUserStopped)
			Expect(storage.IsConflict(err)).To(BeTrue())
		})

		It("validates end reasons", func() {
			_, err := e.svc.EndConversation(ctx, "c", conversation.EndReason("bored"))
			Expect(err).To(MatchError(pipeline.ErrInvalidRequest))
		})
	})
})
