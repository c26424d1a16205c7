package mcp_test

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	chroniclemcp "github.com/papercomputeco/chronicle/api/mcp"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx     context.Context
		store   *inmemory.Driver
		index   *testutils.MockSearchIndex
		svc     *pipeline.Service
		server  *chroniclemcp.Server
		session *mcp.ClientSession
		convID  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		index = testutils.NewMockSearchIndex()

		var err error
		svc, err = pipeline.New(pipeline.Config{
			Store:  store,
			Index:  index,
			Logger: logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		conv, err := store.CreateConversation(ctx, &conversation.Conversation{UserID: "ada"})
		Expect(err).NotTo(HaveOccurred())
		convID = conv.ID

		tv, err := store.CreateTranscriptVersion(ctx, convID, []conversation.Segment{{SpeakerID: "0", Text: "Ada drinks coffee"}}, conversation.SourceOriginal)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.ActivateTranscriptVersion(ctx, convID, tv.ID)).To(Succeed())

		mv, err := store.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
			ConversationID:      convID,
			TranscriptVersionID: tv.ID,
			New: []*conversation.Memory{{
				UserID:  "ada",
				Content: "Ada drinks coffee",
			}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.ActivateMemoryVersion(ctx, convID, mv.ID)).To(Succeed())
		Expect(index.Upsert(ctx, mv.Memories[0])).To(Succeed())

		server, err = chroniclemcp.NewServer(chroniclemcp.Config{
			Service: svc,
			Logger:  logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		_, err = server.MCPServer().Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())

		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
		session, err = client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(session.Close)
	})

	call := func(name string, args map[string]any) *mcp.CallToolResult {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	text := func(res *mcp.CallToolResult) string {
		Expect(res.Content).To(HaveLen(1))
		tc, ok := res.Content[0].(*mcp.TextContent)
		Expect(ok).To(BeTrue())
		return tc.Text
	}

	Describe("NewServer", func() {
		It("returns an error when the service is nil", func() {
			_, err := chroniclemcp.NewServer(chroniclemcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("pipeline service is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := chroniclemcp.NewServer(chroniclemcp.Config{Service: svc})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("builds an empty server in noop mode", func() {
			s, err := chroniclemcp.NewServer(chroniclemcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Handler()).NotTo(BeNil())
		})
	})

	It("registers the chronicle tools", func() {
		tools, err := session.ListTools(ctx, nil)
		Expect(err).NotTo(HaveOccurred())

		names := make([]string, 0, len(tools.Tools))
		for _, t := range tools.Tools {
			names = append(names, t.Name)
		}
		Expect(names).To(ConsistOf("search_memories", "queue_stats", "list_versions", "reprocess_memory"))
	})

	Describe("search_memories", func() {
		It("returns matching memories", func() {
			res := call("search_memories", map[string]any{"query": "coffee", "user_id": "ada"})
			Expect(res.IsError).To(BeFalse())

			var out chroniclemcp.SearchOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Content).To(Equal("Ada drinks coffee"))
			Expect(out.Results[0].ConversationID).To(Equal(convID))
		})

		It("reports an empty query as a tool error", func() {
			res := call("search_memories", map[string]any{"query": "  "})
			Expect(res.IsError).To(BeTrue())
			Expect(text(res)).To(ContainSubstring("Memory search failed"))
		})
	})

	It("reports queue stats", func() {
		_, err := svc.ReprocessMemory(ctx, convID, "")
		Expect(err).NotTo(HaveOccurred())

		res := call("queue_stats", map[string]any{})
		Expect(res.IsError).To(BeFalse())

		var out chroniclemcp.QueueStatsOutput
		Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
		Expect(out.Queued).To(Equal(1))
		Expect(out.Total).To(Equal(1))
	})

	Describe("list_versions", func() {
		It("lists both kinds", func() {
			res := call("list_versions", map[string]any{"conversation_id": convID})
			Expect(res.IsError).To(BeFalse())

			var out chroniclemcp.ListVersionsOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.Count).To(Equal(2))
			for _, v := range out.Versions {
				Expect(v.Active).To(BeTrue())
			}
		})

		It("rejects an unknown kind", func() {
			res := call("list_versions", map[string]any{"conversation_id": convID, "kind": "video"})
			Expect(res.IsError).To(BeTrue())
		})

		It("reports unknown conversations", func() {
			res := call("list_versions", map[string]any{"conversation_id": "missing"})
			Expect(res.IsError).To(BeTrue())
			Expect(strings.ToLower(text(res))).To(ContainSubstring("not found"))
		})
	})

	Describe("reprocess_memory", func() {
		It("queues extraction against the active transcript", func() {
			conv, err := store.GetConversation(ctx, convID)
			Expect(err).NotTo(HaveOccurred())

			res := call("reprocess_memory", map[string]any{"conversation_id": convID})
			Expect(res.IsError).To(BeFalse())

			var out chroniclemcp.ReprocessMemoryOutput
			Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
			Expect(out.TranscriptVersionID).To(Equal(conv.ActiveTranscriptVersionID))

			job, err := store.GetJob(ctx, out.JobID)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.Type).To(Equal(jobs.TypeMemoryExtraction))
		})

		It("requires a conversation id", func() {
			res := call("reprocess_memory", map[string]any{"conversation_id": ""})
			Expect(res.IsError).To(BeTrue())
		})
	})
})
