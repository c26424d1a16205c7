// Package searchtest holds the behavior every search.Index must share.
// Index suites call DescribeIndex with a constructor for a fresh, empty
// index.
package searchtest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// DescribeIndex registers the shared index specs. newIndex must return an
// empty index; it is closed after every spec.
func DescribeIndex(newIndex func() search.Index) {
	var (
		ctx   context.Context
		index search.Index
	)

	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	memories := []*conversation.Memory{
		{
			ID: "11111111-1111-4111-8111-111111111111", UserID: "u1", SourceConversationID: "c1",
			SourceMemoryVersionID: "mv1", Content: "Ada drinks coffee every morning", CreatedAt: created,
			Metadata: map[string]any{"type": "preference", "people": []any{"Ada"}},
		},
		{
			ID: "22222222-2222-4222-8222-222222222222", UserID: "u1", SourceConversationID: "c2",
			SourceMemoryVersionID: "mv2", Content: "Ada plays chess on weekends", CreatedAt: created.Add(time.Minute),
		},
		{
			ID: "33333333-3333-4333-8333-333333333333", UserID: "u2", SourceConversationID: "c3",
			SourceMemoryVersionID: "mv3", Content: "Bob drinks tea in the afternoon", CreatedAt: created.Add(2 * time.Minute),
			Supersedes: "44444444-4444-4444-8444-444444444444",
		},
	}
	coffee, chess, tea := memories[0], memories[1], memories[2]

	BeforeEach(func() {
		ctx = context.Background()
		index = newIndex()
		for _, m := range memories {
			Expect(index.Upsert(ctx, m)).To(Succeed())
		}
	})

	AfterEach(func() {
		if index != nil {
			Expect(index.Close()).To(Succeed())
		}
	})

	ids := func(results []search.Result) []string {
		out := make([]string, 0, len(results))
		for _, r := range results {
			out = append(out, r.Memory.ID)
		}
		return out
	}

	It("ranks the closest memory first", func() {
		results, err := index.Search(ctx, search.Query{Text: "coffee morning", UserID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Memory.ID).To(Equal(coffee.ID))
		Expect(results[0].Score).To(BeNumerically(">", 0))
	})

	It("round-trips memory fields", func() {
		results, err := index.Search(ctx, search.Query{Text: "coffee", UserID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())

		got := results[0].Memory
		Expect(got.ID).To(Equal(coffee.ID))
		Expect(got.Content).To(Equal(coffee.Content))
		Expect(got.UserID).To(Equal("u1"))
		Expect(got.SourceConversationID).To(Equal("c1"))
		Expect(got.SourceMemoryVersionID).To(Equal("mv1"))
		Expect(got.CreatedAt).To(BeTemporally("==", created))
		Expect(got.Metadata).To(HaveKeyWithValue("type", "preference"))
		Expect(got.Metadata).To(HaveKeyWithValue("people", ConsistOf("Ada")))
	})

	It("keeps the superseded id", func() {
		results, err := index.Search(ctx, search.Query{Text: "tea", UserID: "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.Supersedes).To(Equal(tea.Supersedes))
	})

	It("filters by user", func() {
		results, err := index.Search(ctx, search.Query{Text: "drinks", UserID: "u2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(ConsistOf(tea.ID))
	})

	It("filters by conversation", func() {
		results, err := index.Search(ctx, search.Query{Text: "Ada", ConversationID: "c2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(ConsistOf(chess.ID))
	})

	It("requires contained text", func() {
		results, err := index.Search(ctx, search.Query{Text: "Ada", UserID: "u1", Contains: "chess"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(ConsistOf(chess.ID))
	})

	It("honors the limit", func() {
		results, err := index.Search(ctx, search.Query{Text: "Ada drinks", Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})

	It("drops results under the score threshold", func() {
		results, err := index.Search(ctx, search.Query{Text: coffee.Content, ScoreThreshold: 0.95})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).To(ConsistOf(coffee.ID))
	})

	It("replaces memories on upsert", func() {
		updated := coffee.Clone()
		updated.Content = "Ada drinks espresso"
		Expect(index.Upsert(ctx, updated)).To(Succeed())

		results, err := index.Search(ctx, search.Query{Text: "espresso", UserID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).NotTo(BeEmpty())
		Expect(results[0].Memory.ID).To(Equal(coffee.ID))
		Expect(results[0].Memory.Content).To(Equal("Ada drinks espresso"))

		all, err := index.Search(ctx, search.Query{Text: "Ada", UserID: "u1", Limit: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(all)).To(ConsistOf(coffee.ID, chess.ID))
	})

	It("deletes memories", func() {
		Expect(index.Delete(ctx, coffee.ID)).To(Succeed())

		results, err := index.Search(ctx, search.Query{Text: "Ada coffee", UserID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(results)).NotTo(ContainElement(coffee.ID))
	})

	It("ignores deletes of unknown ids", func() {
		Expect(index.Delete(ctx, "55555555-5555-4555-8555-555555555555")).To(Succeed())
	})

	It("rejects empty queries", func() {
		_, err := index.Search(ctx, search.Query{Text: "  "})
		Expect(err).To(MatchError(search.ErrEmptyQuery))
	})
}
