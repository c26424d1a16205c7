package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
	"github.com/papercomputeco/chronicle/pkg/stt"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
)

const spokenText = "Ada drinks coffee every morning and plays chess on Sundays"

func spoken() *stt.Result {
	return &stt.Result{
		Segments: []conversation.Segment{{SpeakerID: "0", StartTime: 0, EndTime: 4, Text: spokenText}},
		Words: []stt.Word{
			{Text: "Ada", Start: 0, End: 0.4, Confidence: 0.9, Speaker: "0"},
			{Text: "drinks", Start: 0.5, End: 0.9, Confidence: 0.9, Speaker: "0"},
			{Text: "coffee", Start: 1.0, End: 1.4, Confidence: 0.9, Speaker: "0"},
			{Text: "every", Start: 1.5, End: 1.9, Confidence: 0.9, Speaker: "0"},
			{Text: "morning", Start: 2.0, End: 2.4, Confidence: 0.9, Speaker: "0"},
		},
		Text:       spokenText,
		Confidence: 0.9,
	}
}

type apiEnv struct {
	store  *inmemory.Driver
	model  *testutils.MockLanguageModel
	index  *testutils.MockSearchIndex
	svc    *pipeline.Service
	server *Server
}

func newAPIEnv(mutate ...func(*pipeline.Config)) *apiEnv {
	files, err := audio.NewFileStore(GinkgoT().TempDir())
	Expect(err).NotTo(HaveOccurred())

	e := &apiEnv{
		store: inmemory.NewDriver(),
		model: testutils.NewMockLanguageModel(),
		index: testutils.NewMockSearchIndex(),
	}
	cfg := pipeline.Config{
		Store:     e.store,
		Audio:     files,
		STT:       testutils.NewMockSpeechToText(spoken()),
		Extractor: e.model,
		Index:     e.index,
		Logger:    logger.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e.svc, err = pipeline.New(cfg)
	Expect(err).NotTo(HaveOccurred())

	e.server, err = NewServer(Config{ListenAddr: ":0"}, e.svc, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return e
}

func (e *apiEnv) do(req *http.Request) (int, []byte) {
	resp, err := e.server.app.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp.StatusCode, body
}

func (e *apiEnv) request(method, target string, body any) (int, []byte) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.do(req)
}

func (e *apiEnv) upload(filename string, fields map[string]string) (int, []byte) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("RIFF....WAVE"))
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(w.WriteField(k, v)).To(Succeed())
	}
	Expect(w.Close()).To(Succeed())

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return e.do(req)
}

// run claims the oldest queued job of type t and completes it the way a
// worker would.
func (e *apiEnv) run(ctx context.Context, t jobs.Type) map[string]any {
	job, err := e.store.ClaimNext(ctx, "test/worker-0", []jobs.Type{t}, time.Minute)
	Expect(err).NotTo(HaveOccurred())
	Expect(job).NotTo(BeNil())

	out, err := e.svc.Handlers()[t].Handle(ctx, job)
	Expect(err).NotTo(HaveOccurred())
	Expect(e.store.Complete(ctx, job.ID, "test/worker-0", out)).To(Succeed())
	return out
}

// processed uploads a conversation and runs both stages.
func (e *apiEnv) processed(ctx context.Context, userID string) *pipeline.UploadResult {
	status, body := e.upload("meeting.wav", map[string]string{"user_id": userID})
	Expect(status).To(Equal(http.StatusAccepted))
	res := decode[pipeline.UploadResult](body)

	e.run(ctx, jobs.TypeTranscription)
	e.run(ctx, jobs.TypeMemoryExtraction)
	return &res
}

func decode[T any](body []byte) T {
	var v T
	ExpectWithOffset(1, json.Unmarshal(body, &v)).To(Succeed())
	return v
}

func errorOf(body []byte) string {
	return decode[ErrorResponse](body).Error
}

var _ = Describe("Server", func() {
	var (
		e   *apiEnv
		ctx context.Context
	)

	BeforeEach(func() {
		e = newAPIEnv()
		ctx = context.Background()
	})

	Describe("NewServer", func() {
		It("requires a service", func() {
			_, err := NewServer(Config{}, nil, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("pipeline service is required")))
		})

		It("requires a logger", func() {
			_, err := NewServer(Config{}, e.svc, nil)
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})
	})

	It("answers ping", func() {
		status, body := e.request(http.MethodGet, "/ping", nil)
		Expect(status).To(Equal(http.StatusOK))
		Expect(string(body)).To(Equal(`"pong"`))
	})

	Describe("POST /v1/conversations", func() {
		It("stores the upload and queues transcription", func() {
			status, body := e.upload("meeting.wav", map[string]string{"user_id": "ada", "fixture": "true"})
			Expect(status).To(Equal(http.StatusAccepted))

			res := decode[pipeline.UploadResult](body)
			Expect(res.ConversationID).NotTo(BeEmpty())
			Expect(res.AudioReference).NotTo(BeEmpty())

			conv, err := e.svc.GetConversation(ctx, res.ConversationID)
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.UserID).To(Equal("ada"))
			Expect(conv.IsFixture).To(BeTrue())

			job, err := e.svc.GetJob(ctx, res.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Type).To(Equal(jobs.TypeTranscription))
			Expect(job.Status).To(Equal(jobs.StatusQueued))
		})

		It("rejects a request without a file", func() {
			status, body := e.upload("", map[string]string{"user_id": "ada"})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(ContainSubstring("file"))
		})

		It("rejects unsupported formats", func() {
			status, body := e.upload("notes.txt", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(ContainSubstring("txt"))
		})

		It("rejects a malformed fixture flag", func() {
			status, _ := e.upload("meeting.wav", map[string]string{"fixture": "maybe"})
			Expect(status).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("conversations", func() {
		It("returns 404 for an unknown conversation", func() {
			status, body := e.request(http.MethodGet, "/v1/conversations/missing", nil)
			Expect(status).To(Equal(http.StatusNotFound))
			Expect(errorOf(body)).NotTo(BeEmpty())
		})

		It("lists conversations and hides fixtures by default", func() {
			e.upload("a.wav", map[string]string{"user_id": "ada"})
			e.upload("b.wav", map[string]string{"user_id": "ada", "fixture": "true"})
			e.upload("c.wav", map[string]string{"user_id": "bob"})

			status, body := e.request(http.MethodGet, "/v1/conversations?user_id=ada", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[ConversationListResponse](body).Count).To(Equal(1))

			_, body = e.request(http.MethodGet, "/v1/conversations?user_id=ada&include_fixtures=true", nil)
			Expect(decode[ConversationListResponse](body).Count).To(Equal(2))

			status, _ = e.request(http.MethodGet, "/v1/conversations?limit=-1", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("validates end reasons", func() {
			_, body := e.upload("a.wav", nil)
			id := decode[pipeline.UploadResult](body).ConversationID

			status, body := e.request(http.MethodPost, "/v1/conversations/"+id+"/end", EndRequest{Reason: "bored"})
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(errorOf(body)).To(ContainSubstring("bored"))
		})
	})

	Describe("versions", func() {
		var id string

		BeforeEach(func() {
			e.model.Replies = [][]llm.Operation{
				{{Kind: llm.OpAdd, Content: "Ada drinks coffee every morning"}},
				{{Kind: llm.OpAdd, Content: "Ada plays chess on Sundays"}},
			}
			id = e.processed(ctx, "ada").ConversationID
		})

		It("lists both kinds by default", func() {
			status, body := e.request(http.MethodGet, "/v1/conversations/"+id+"/versions", nil)
			Expect(status).To(Equal(http.StatusOK))

			list := decode[VersionListResponse](body)
			Expect(list.Count).To(Equal(2))
			Expect(list.Versions[0].Kind).To(Equal(conversation.KindTranscript))
			Expect(list.Versions[1].Kind).To(Equal(conversation.KindMemory))
			Expect(list.Versions[1].Active).To(BeTrue())
		})

		It("rejects an unknown kind", func() {
			status, _ := e.request(http.MethodGet, "/v1/conversations/"+id+"/versions?kind=video", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("rolls back to an earlier memory version", func() {
			conv, err := e.svc.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			first := conv.ActiveMemoryVersionID

			status, body := e.request(http.MethodPost, "/v1/conversations/"+id+"/reprocess/memory", nil)
			Expect(status).To(Equal(http.StatusAccepted))
			job := decode[jobs.Job](body)
			Expect(job.Type).To(Equal(jobs.TypeMemoryExtraction))
			Expect(job.Payload.SourceVersionID).To(Equal(conv.ActiveTranscriptVersionID))

			e.run(ctx, jobs.TypeMemoryExtraction)

			status, body = e.request(http.MethodGet, "/v1/conversations/"+id+"/versions?kind=memory", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[VersionListResponse](body).Count).To(Equal(2))

			status, body = e.request(http.MethodPost, "/v1/conversations/"+id+"/versions/memory/"+first+"/activate", nil)
			Expect(status).To(Equal(http.StatusOK))
			v := decode[pipeline.Version](body)
			Expect(v.Active).To(BeTrue())
			Expect(v.Memory.Memories).To(HaveLen(1))
			Expect(v.Memory.Memories[0].Content).To(Equal("Ada drinks coffee every morning"))

			Expect(e.index.IDs()).To(ConsistOf(v.Memory.MemoryIDs))
		})

		It("refuses to delete the active version and deletes inactive ones", func() {
			conv, err := e.svc.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			first := conv.ActiveMemoryVersionID

			status, body := e.request(http.MethodDelete, "/v1/conversations/"+id+"/versions/memory/"+first, nil)
			Expect(status).To(Equal(http.StatusConflict))
			Expect(errorOf(body)).NotTo(BeEmpty())

			_, err = e.svc.ReprocessMemory(ctx, id, "")
			Expect(err).NotTo(HaveOccurred())
			e.run(ctx, jobs.TypeMemoryExtraction)

			status, _ = e.request(http.MethodDelete, "/v1/conversations/"+id+"/versions/memory/"+first, nil)
			Expect(status).To(Equal(http.StatusNoContent))

			status, _ = e.request(http.MethodGet, "/v1/conversations/"+id+"/versions/memory/"+first, nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("returns a transcript version with its segments", func() {
			conv, err := e.svc.GetConversation(ctx, id)
			Expect(err).NotTo(HaveOccurred())

			status, body := e.request(http.MethodGet, "/v1/conversations/"+id+"/versions/transcript/"+conv.ActiveTranscriptVersionID, nil)
			Expect(status).To(Equal(http.StatusOK))
			v := decode[pipeline.Version](body)
			Expect(v.Active).To(BeTrue())
			Expect(v.Transcript.FullText).To(Equal(spokenText))
		})

		It("returns 404 when reprocessing against an unknown transcript version", func() {
			status, _ := e.request(http.MethodPost, "/v1/conversations/"+id+"/reprocess/memory",
				ReprocessMemoryRequest{TranscriptVersionID: "nope"})
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("queues a transcript reprocess", func() {
			status, body := e.request(http.MethodPost, "/v1/conversations/"+id+"/reprocess/transcript", nil)
			Expect(status).To(Equal(http.StatusAccepted))
			job := decode[jobs.Job](body)
			Expect(job.Type).To(Equal(jobs.TypeTranscription))
			Expect(job.Payload.Params).To(HaveKeyWithValue(pipeline.ParamSource, "reprocess"))
		})
	})

	Describe("jobs", func() {
		It("lists, filters and counts jobs", func() {
			e.processed(ctx, "ada")
			e.upload("b.wav", nil)

			status, body := e.request(http.MethodGet, "/v1/jobs?type=transcription", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[JobListResponse](body).Count).To(Equal(2))

			_, body = e.request(http.MethodGet, "/v1/jobs?status=queued", nil)
			Expect(decode[JobListResponse](body).Count).To(Equal(1))

			status, body = e.request(http.MethodGet, "/v1/jobs/stats", nil)
			Expect(status).To(Equal(http.StatusOK))
			stats := decode[StatsResponse](body)
			Expect(stats.Queued).To(Equal(1))
			Expect(stats.Total).To(Equal(3))
		})

		It("rejects unknown filters", func() {
			status, _ := e.request(http.MethodGet, "/v1/jobs?status=sleeping", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			status, _ = e.request(http.MethodGet, "/v1/jobs?type=video", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown job", func() {
			status, _ := e.request(http.MethodGet, "/v1/jobs/missing", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("memories", func() {
		BeforeEach(func() {
			e.model.Replies = [][]llm.Operation{
				{{Kind: llm.OpAdd, Content: "Ada drinks coffee every morning"}},
			}
			e.processed(ctx, "ada")
		})

		It("searches indexed memories", func() {
			status, body := e.request(http.MethodGet, "/v1/memories/search?query=coffee&user_id=ada", nil)
			Expect(status).To(Equal(http.StatusOK))
			res := decode[SearchResponse](body)
			Expect(res.Count).To(Equal(1))

			status, body = e.request(http.MethodGet, "/v1/memories/"+res.Results[0].Memory.ID, nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[conversation.Memory](body).Content).To(Equal("Ada drinks coffee every morning"))
		})

		It("validates search parameters", func() {
			status, _ := e.request(http.MethodGet, "/v1/memories/search", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			status, _ = e.request(http.MethodGet, "/v1/memories/search?query=x&limit=0", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
			status, _ = e.request(http.MethodGet, "/v1/memories/search?query=x&score_threshold=2", nil)
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("returns 500 without details when the index fails", func() {
			e.index.Fail = true
			status, body := e.request(http.MethodGet, "/v1/memories/search?query=coffee", nil)
			Expect(status).To(Equal(http.StatusInternalServerError))
			Expect(errorOf(body)).To(Equal("searching memories failed"))
		})

		It("lists a user's memories and deletes one", func() {
			status, body := e.request(http.MethodGet, "/v1/users/ada/memories", nil)
			Expect(status).To(Equal(http.StatusOK))
			list := decode[UserMemoriesResponse](body)
			Expect(list.Count).To(Equal(1))
			id := list.Memories[0].ID

			status, body = e.request(http.MethodDelete, "/v1/memories/"+id, nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[conversation.MemoryVersion](body).MemoryIDs).To(BeEmpty())
			Expect(e.index.IDs()).To(BeEmpty())

			status, body = e.request(http.MethodGet, "/v1/users/ada/memories", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[UserMemoriesResponse](body).Memories).To(BeEmpty())

			status, _ = e.request(http.MethodDelete, "/v1/memories/"+id, nil)
			Expect(status).To(Equal(http.StatusConflict))
			status, _ = e.request(http.MethodDelete, "/v1/memories/missing", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("counts and clears a user's memories", func() {
			status, body := e.request(http.MethodGet, "/v1/users/ada/memories/count", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[map[string]any](body)).To(HaveKeyWithValue("count", BeNumerically("==", 1)))

			status, body = e.request(http.MethodDelete, "/v1/users/ada/memories", nil)
			Expect(status).To(Equal(http.StatusOK))
			Expect(decode[map[string]any](body)).To(HaveKeyWithValue("deleted", BeNumerically("==", 1)))
			Expect(e.index.IDs()).To(BeEmpty())
		})
	})

	It("returns 503 when search is not configured", func() {
		e = newAPIEnv(func(c *pipeline.Config) { c.Index = nil })
		status, body := e.request(http.MethodGet, "/v1/memories/search?query=coffee", nil)
		Expect(status).To(Equal(http.StatusServiceUnavailable))
		Expect(errorOf(body)).To(ContainSubstring("not configured"))
	})

	Describe("/mcp", func() {
		It("is absent without a handler", func() {
			status, _ := e.request(http.MethodPost, "/mcp", nil)
			Expect(status).To(Equal(http.StatusNotFound))
		})

		It("forwards to the configured handler", func() {
			var seen string
			server, err := NewServer(Config{
				MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					seen = r.Method
					w.WriteHeader(http.StatusTeapot)
				}),
			}, e.svc, logger.Nop())
			Expect(err).NotTo(HaveOccurred())

			resp, err := server.app.Test(httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{}")), -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusTeapot))
			Expect(seen).To(Equal(http.MethodPost))
		})
	})
})
