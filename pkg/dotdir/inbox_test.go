package dotdir_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/dotdir"
)

var _ = Describe("dotdir.Manager inbox", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-inbox-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, tmpDir)
		m = dotdir.NewManager()
	})

	It("returns an empty state when no ledger exists", func() {
		state, err := m.LoadInboxState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Uploaded).To(BeEmpty())
		Expect(state.Seen("/inbox/a.wav", 10)).To(BeFalse())
	})

	It("round-trips recorded uploads", func() {
		state := &dotdir.InboxState{}
		state.Record("/inbox/a.wav", dotdir.InboxEntry{
			ConversationID: "conv-1",
			JobID:          "job-1",
			Size:           10,
			UploadedAt:     time.Now().UTC(),
		})
		Expect(m.SaveInboxState(state, tmpDir)).To(Succeed())

		loaded, err := m.LoadInboxState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Seen("/inbox/a.wav", 10)).To(BeTrue())
		Expect(loaded.Uploaded["/inbox/a.wav"].ConversationID).To(Equal("conv-1"))
	})

	It("treats a changed size as unseen", func() {
		state := &dotdir.InboxState{}
		state.Record("/inbox/a.wav", dotdir.InboxEntry{Size: 10})
		Expect(state.Seen("/inbox/a.wav", 11)).To(BeFalse())
	})

	It("rejects a nil state", func() {
		Expect(m.SaveInboxState(nil, tmpDir)).To(MatchError(ContainSubstring("nil inbox state")))
	})

	It("returns an error for a corrupt ledger", func() {
		Expect(os.WriteFile(filepath.Join(tmpDir, "inbox.json"), []byte("{"), 0o600)).To(Succeed())
		_, err := m.LoadInboxState(tmpDir)
		Expect(err).To(MatchError(ContainSubstring("parsing inbox state")))
	})

	It("clears the ledger", func() {
		Expect(m.SaveInboxState(&dotdir.InboxState{}, tmpDir)).To(Succeed())
		Expect(m.ClearInboxState(tmpDir)).To(Succeed())
		Expect(m.ClearInboxState(tmpDir)).To(Succeed())
		_, err := os.Stat(filepath.Join(tmpDir, "inbox.json"))
		Expect(os.IsNotExist(err)).To(BeTrue())
	})
})
