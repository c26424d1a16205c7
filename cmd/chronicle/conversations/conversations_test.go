package conversationscmder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	conversationscmder "github.com/papercomputeco/chronicle/cmd/chronicle/conversations"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/storage/sqlite"
)

var _ = Describe("conversations", func() {
	var (
		ctx     context.Context
		tmpDir  string
		out     *bytes.Buffer
		adaID   string
		graceID string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		driver, err := sqlite.NewSQLiteDriver(filepath.Join(tmpDir, "chronicle.db"))
		Expect(err).NotTo(HaveOccurred())
		defer driver.Close()

		ada, err := driver.CreateConversation(ctx, &conversation.Conversation{UserID: "ada"})
		Expect(err).NotTo(HaveOccurred())
		adaID = ada.ID
		Expect(driver.UpdateConversationDetails(ctx, adaID, conversation.Details{
			Title:           "Coffee chat",
			Summary:         "Ada talks about coffee",
			DetailedSummary: "Ada explains her morning coffee routine.",
		})).To(Succeed())

		tv, err := driver.CreateTranscriptVersion(ctx, adaID,
			[]conversation.Segment{{SpeakerID: "0", StartTime: 65, Text: "I drink coffee every morning"}}, conversation.SourceOriginal)
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.ActivateTranscriptVersion(ctx, adaID, tv.ID)).To(Succeed())

		mv, err := driver.CreateMemoryVersion(ctx, conversation.MemoryVersionDraft{
			ConversationID:      adaID,
			TranscriptVersionID: tv.ID,
			New:                 []*conversation.Memory{{UserID: "ada", Content: "Ada drinks coffee every morning"}},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(driver.ActivateMemoryVersion(ctx, adaID, mv.ID)).To(Succeed())

		grace, err := driver.CreateConversation(ctx, &conversation.Conversation{UserID: "grace"})
		Expect(err).NotTo(HaveOccurred())
		graceID = grace.ID

		_, err = driver.CreateConversation(ctx, &conversation.Conversation{UserID: "ada", IsFixture: true})
		Expect(err).NotTo(HaveOccurred())
	})

	execute := func(args ...string) error {
		cmd := conversationscmder.NewConversationsCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	listed := func() []conversation.Conversation {
		var convs []conversation.Conversation
		Expect(json.Unmarshal(out.Bytes(), &convs)).To(Succeed())
		return convs
	}

	Describe("list", func() {
		It("hides fixtures by default", func() {
			Expect(execute("list", "-o", "json")).To(Succeed())
			Expect(listed()).To(HaveLen(2))
		})

		It("includes fixtures on request", func() {
			Expect(execute("list", "--include-fixtures", "-o", "json")).To(Succeed())
			Expect(listed()).To(HaveLen(3))
		})

		It("filters by user", func() {
			Expect(execute("list", "--user", "grace", "-o", "json")).To(Succeed())
			convs := listed()
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].ID).To(Equal(graceID))
		})

		It("prints titles by default", func() {
			Expect(execute("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Coffee chat"))
			Expect(out.String()).To(ContainSubstring("not transcribed"))
		})
	})

	Describe("show", func() {
		It("includes the active transcript and memories", func() {
			Expect(execute("show", adaID, "-o", "json")).To(Succeed())

			var res struct {
				Conversation conversation.Conversation      `json:"conversation"`
				Transcript   conversation.TranscriptVersion `json:"transcript"`
				Memories     []conversation.Memory          `json:"memories"`
			}
			Expect(json.Unmarshal(out.Bytes(), &res)).To(Succeed())
			Expect(res.Conversation.Title).To(Equal("Coffee chat"))
			Expect(res.Conversation.DetailedSummary).To(Equal("Ada explains her morning coffee routine."))
			Expect(res.Transcript.Segments).To(HaveLen(1))
			Expect(res.Memories).To(HaveLen(1))
		})

		It("renders markdown by default", func() {
			Expect(execute("show", adaID)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Ada drinks coffee every morning"))
			Expect(out.String()).To(ContainSubstring("1:05"))
		})

		It("shows untranscribed conversations", func() {
			Expect(execute("show", graceID)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Not transcribed yet"))
		})
	})

	Describe("end", func() {
		It("ends a conversation once", func() {
			Expect(execute("end", graceID, "--reason", "inactivity_timeout")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("inactivity_timeout"))

			Expect(execute("end", graceID)).To(HaveOccurred())
		})

		It("rejects unknown reasons", func() {
			Expect(execute("end", graceID, "--reason", "bored")).To(MatchError(ContainSubstring("unknown end reason")))
		})
	})
})
