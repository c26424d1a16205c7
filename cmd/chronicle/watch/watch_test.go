package watchcmder_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	watchcmder "github.com/papercomputeco/chronicle/cmd/chronicle/watch"
	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/dotdir"
	"github.com/papercomputeco/chronicle/pkg/logger"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage/inmemory"
)

const patterns = "*.wav,*.m4a"

var _ = Describe("inbox watcher", func() {
	var (
		ctx       context.Context
		inbox     string
		configDir string
		store     *inmemory.Driver
		svc       *pipeline.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		inbox = filepath.Join(GinkgoT().TempDir(), "inbox")
		configDir = GinkgoT().TempDir()
		store = inmemory.NewDriver()

		files, err := audio.NewFileStore(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		svc, err = pipeline.New(pipeline.Config{
			Store:  store,
			Audio:  files,
			Logger: logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	newWatcher := func() *watchcmder.Watcher {
		w, err := watchcmder.NewTestWatcher(inbox, patterns, configDir, svc, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return w
	}

	drop := func(name string) {
		Expect(os.WriteFile(filepath.Join(inbox, name), []byte("RIFF....WAVE"), 0o600)).To(Succeed())
	}

	conversations := func() []*conversation.Conversation {
		convs, err := store.ListConversations(ctx, conversation.Filter{})
		Expect(err).NotTo(HaveOccurred())
		return convs
	}

	Describe("patterns", func() {
		It("matches case-insensitively and skips hidden files", func() {
			w := newWatcher()
			Expect(w.Matches("/in/standup.WAV")).To(BeTrue())
			Expect(w.Matches("call.m4a")).To(BeTrue())
			Expect(w.Matches("notes.txt")).To(BeFalse())
			Expect(w.Matches(".partial.wav")).To(BeFalse())
		})

		It("rejects empty and malformed patterns", func() {
			Expect(watchcmder.CompilePatterns(" , ")).To(MatchError(ContainSubstring("at least one")))
			Expect(watchcmder.CompilePatterns("[.wav")).To(MatchError(ContainSubstring("invalid inbox patterns")))
		})
	})

	It("creates the inbox directory", func() {
		newWatcher()
		Expect(inbox).To(BeADirectory())
	})

	Describe("Scan", func() {
		It("uploads matching files once", func() {
			w := newWatcher()
			drop("a.wav")
			drop("b.txt")

			Expect(w.Scan(ctx)).To(Succeed())
			Expect(w.Scan(ctx)).To(Succeed())

			convs := conversations()
			Expect(convs).To(HaveLen(1))
			Expect(convs[0].UserID).To(Equal("ada"))
		})

		It("remembers uploads across restarts", func() {
			drop("a.wav")
			Expect(newWatcher().Scan(ctx)).To(Succeed())
			Expect(newWatcher().Scan(ctx)).To(Succeed())
			Expect(conversations()).To(HaveLen(1))

			state, err := dotdir.NewManager().LoadInboxState(configDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Uploaded).To(HaveLen(1))
		})

		It("uploads a file again when its size changes", func() {
			w := newWatcher()
			drop("a.wav")
			Expect(w.Scan(ctx)).To(Succeed())

			Expect(os.WriteFile(filepath.Join(inbox, "a.wav"), []byte("RIFF........WAVE"), 0o600)).To(Succeed())
			Expect(w.Scan(ctx)).To(Succeed())
			Expect(conversations()).To(HaveLen(2))
		})
	})

	Describe("Run", func() {
		It("uploads files created while watching", func() {
			w := newWatcher()
			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- w.Run(runCtx) }()
			DeferCleanup(func() {
				cancel()
				Eventually(done, 5*time.Second).Should(Receive(BeNil()))
			})

			// Give the watcher time to register before writing.
			time.Sleep(100 * time.Millisecond)
			drop("live.m4a")

			Eventually(conversations, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))
		})
	})
})
