package cached_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/embeddings/cached"
	testutils "github.com/papercomputeco/chronicle/pkg/utils/test"
)

var _ = Describe("Embedder", func() {
	var (
		ctx   context.Context
		inner *testutils.MockEmbedder
		emb   *cached.Embedder
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = testutils.NewMockEmbedder()
		var err error
		emb, err = cached.New(inner, cached.Config{})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(emb.Close)
	})

	It("requires an inner embedder", func() {
		_, err := cached.New(nil, cached.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("embeds each text once", func() {
		first, err := emb.Embed(ctx, "Ada drinks coffee")
		Expect(err).NotTo(HaveOccurred())
		emb.Wait()

		second, err := emb.Embed(ctx, "Ada drinks coffee")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(inner.Calls()).To(Equal(1))
	})

	It("returns copies callers may modify", func() {
		first, err := emb.Embed(ctx, "tea")
		Expect(err).NotTo(HaveOccurred())
		emb.Wait()
		first[0] = 42

		second, err := emb.Embed(ctx, "tea")
		Expect(err).NotTo(HaveOccurred())
		Expect(second[0]).NotTo(BeEquivalentTo(42))
	})

	It("does not cache failures", func() {
		inner.FailOn = "broken"
		_, err := emb.Embed(ctx, "broken")
		Expect(err).To(HaveOccurred())
		emb.Wait()

		inner.FailOn = ""
		_, err = emb.Embed(ctx, "broken")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls()).To(Equal(2))
	})
})
