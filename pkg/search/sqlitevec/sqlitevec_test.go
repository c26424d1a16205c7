package sqlitevec_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/search"
	"github.com/papercomputeco/chronicle/pkg/search/searchtest"
	"github.com/papercomputeco/chronicle/pkg/search/sqlitevec"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
)

var _ = Describe("Index", func() {
	Describe("New", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.New(sqlitevec.Config{Dimensions: 4, Embedder: testutils.NewMockEmbedder()})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.New(sqlitevec.Config{DBPath: ":memory:", Embedder: testutils.NewMockEmbedder()})
			Expect(err).To(HaveOccurred())
		})

		It("should error without an embedder", func() {
			_, err := sqlitevec.New(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4})
			Expect(err).To(HaveOccurred())
		})
	})

	Context("in memory", func() {
		searchtest.DescribeIndex(func() search.Index {
			index, err := sqlitevec.New(sqlitevec.Config{
				DBPath:     ":memory:",
				Dimensions: testutils.MockEmbedderDimensions,
				Embedder:   testutils.NewMockEmbedder(),
			})
			Expect(err).NotTo(HaveOccurred())
			return index
		})
	})

	It("persists memories across reopen", func() {
		ctx := context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "search.db")
		cfg := sqlitevec.Config{
			DBPath:     path,
			Dimensions: testutils.MockEmbedderDimensions,
			Embedder:   testutils.NewMockEmbedder(),
		}

		index, err := sqlitevec.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(index.Upsert(ctx, &conversation.Memory{ID: "m1", UserID: "u1", Content: "likes jazz"})).To(Succeed())
		Expect(index.Close()).To(Succeed())

		reopened, err := sqlitevec.New(cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(reopened.Close)

		results, err := reopened.Search(ctx, search.Query{Text: "jazz", UserID: "u1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Memory.ID).To(Equal("m1"))
	})

	It("does not index memories whose embedding fails", func() {
		ctx := context.Background()
		emb := testutils.NewMockEmbedder()
		emb.FailOn = "broken"
		index, err := sqlitevec.New(sqlitevec.Config{DBPath: ":memory:", Dimensions: testutils.MockEmbedderDimensions, Embedder: emb})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(index.Close)

		Expect(index.Upsert(ctx, &conversation.Memory{ID: "m1", Content: "broken"})).NotTo(Succeed())
		results, err := index.Search(ctx, search.Query{Text: "broken words", Contains: "broken"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(BeEmpty())
	})
})
