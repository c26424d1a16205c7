package conversation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

var _ = Describe("ParseVersionKind", func() {
	It("accepts known kinds case-insensitively", func() {
		k, err := conversation.ParseVersionKind(" Transcript ")
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(conversation.KindTranscript))

		k, err = conversation.ParseVersionKind("memory")
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(conversation.KindMemory))
	})

	It("rejects unknown kinds", func() {
		_, err := conversation.ParseVersionKind("summary")
		Expect(err).To(MatchError(ContainSubstring("unknown version kind")))
	})
})

var _ = Describe("FullText", func() {
	It("joins non-empty segments", func() {
		text := conversation.FullText([]conversation.Segment{
			{SpeakerID: "0", Text: "hello there"},
			{SpeakerID: "1", Text: "  "},
			{SpeakerID: "1", Text: "general kenobi "},
		})
		Expect(text).To(Equal("hello there general kenobi"))
	})
})

var _ = Describe("MergeMetadata", func() {
	It("lets override keys win without mutating inputs", func() {
		base := map[string]any{"kind": "person", "name": "Ada"}
		merged := conversation.MergeMetadata(base, map[string]any{"name": "Grace"})

		Expect(merged).To(Equal(map[string]any{"kind": "person", "name": "Grace"}))
		Expect(base["name"]).To(Equal("Ada"))
	})

	It("returns nil when both are empty", func() {
		Expect(conversation.MergeMetadata(nil, map[string]any{})).To(BeNil())
	})
})

var _ = Describe("Filter", func() {
	It("hides fixtures unless asked", func() {
		c := &conversation.Conversation{UserID: "u1", IsFixture: true}
		Expect(conversation.Filter{}.Matches(c)).To(BeFalse())
		Expect(conversation.Filter{IncludeFixtures: true}.Matches(c)).To(BeTrue())
		Expect(conversation.Filter{IncludeFixtures: true, UserID: "u2"}.Matches(c)).To(BeFalse())
	})
})
