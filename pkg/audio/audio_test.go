package audio_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/audio"
)

var _ = Describe("formats", func() {
	DescribeTable("Supported",
		func(name string, want bool) {
			Expect(audio.Supported(name)).To(Equal(want))
		},
		Entry("wav", "meeting.wav", true),
		Entry("upper case", "MEETING.MP3", true),
		Entry("opus", "voice.opus", true),
		Entry("text", "notes.txt", false),
		Entry("no extension", "recording", false),
	)

	It("maps content types", func() {
		Expect(audio.ContentType("a.m4a")).To(Equal("audio/mp4"))
		Expect(audio.ContentType("a.mp3")).To(Equal("audio/mpeg"))
		Expect(audio.ContentType("a.aiff")).To(BeEmpty())
	})
})

var _ = Describe("FileStore", func() {
	var (
		store *audio.FileStore
		dir   string
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		var err error
		store, err = audio.NewFileStore(filepath.Join(dir, "audio"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("round-trips a blob under a new reference", func() {
		ref, err := store.Save(ctx, "Meeting.WAV", strings.NewReader("RIFF...."))
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(HaveSuffix(".wav"))
		Expect(ref).NotTo(ContainSubstring("Meeting"))

		rc, err := store.Open(ctx, ref)
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		data, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("RIFF...."))
	})

	It("leaves no temporary files behind", func() {
		_, err := store.Save(ctx, "a.flac", strings.NewReader("x"))
		Expect(err).NotTo(HaveOccurred())

		entries, err := os.ReadDir(store.Dir())
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).NotTo(HavePrefix("."))
	})

	It("rejects unsupported formats before writing", func() {
		_, err := store.Save(ctx, "notes.txt", strings.NewReader("x"))
		Expect(err).To(MatchError(audio.ErrUnsupportedFormat))

		entries, err := os.ReadDir(store.Dir())
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	It("refuses references that escape the directory", func() {
		_, err := store.Open(ctx, "../secret.wav")
		Expect(err).To(MatchError(audio.ErrInvalidReference))

		_, err = store.Open(ctx, "")
		Expect(err).To(MatchError(audio.ErrInvalidReference))
	})

	It("reports missing references", func() {
		_, err := store.Open(ctx, "0b0c5f4e-missing.wav")
		Expect(err).To(MatchError(audio.ErrInvalidReference))
	})

	It("removes blobs idempotently", func() {
		ref, err := store.Save(ctx, "a.ogg", strings.NewReader("x"))
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Remove(ctx, ref)).To(Succeed())
		Expect(store.Remove(ctx, ref)).To(Succeed())

		_, err = store.Open(ctx, ref)
		Expect(err).To(MatchError(audio.ErrInvalidReference))
	})

	It("stops copying once the context is cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Save(cctx, "a.wav", strings.NewReader("data"))
		Expect(err).To(MatchError(context.Canceled))
	})
})
