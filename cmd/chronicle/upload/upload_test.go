package uploadcmder_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	uploadcmder "github.com/papercomputeco/chronicle/cmd/chronicle/upload"
	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage/sqlite"
)

var _ = Describe("upload", func() {
	var (
		tmpDir string
		out    *bytes.Buffer
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}
	})

	execute := func(args ...string) error {
		cmd := uploadcmder.NewUploadCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"--config-dir", tmpDir}, args...))
		return cmd.Execute()
	}

	recording := func(name string) string {
		path := filepath.Join(GinkgoT().TempDir(), name)
		Expect(os.WriteFile(path, []byte("RIFF....WAVE"), 0o600)).To(Succeed())
		return path
	}

	It("queues transcription in the configured store", func() {
		Expect(execute(recording("standup.wav"), "--user", "ada", "-o", "yaml")).To(Succeed())

		var res struct {
			ConversationID string `yaml:"conversation_id"`
			JobID          string `yaml:"job_id"`
		}
		Expect(yaml.Unmarshal(out.Bytes(), &res)).To(Succeed())
		Expect(res.ConversationID).NotTo(BeEmpty())

		driver, err := sqlite.NewSQLiteDriver(filepath.Join(tmpDir, "chronicle.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)

		ctx := context.Background()
		job, err := driver.GetJob(ctx, res.JobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Type).To(Equal(jobs.TypeTranscription))
		Expect(job.Status).To(Equal(jobs.StatusQueued))

		conv, err := driver.GetConversation(ctx, res.ConversationID)
		Expect(err).NotTo(HaveOccurred())
		Expect(conv.UserID).To(Equal("ada"))
		Expect(conv.EndReason).To(Equal(conversation.EndReasonUploadComplete))
	})

	It("prints a summary by default", func() {
		Expect(execute(recording("call.mp3"))).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Uploaded"))
		Expect(out.String()).To(ContainSubstring("call.mp3"))
	})

	It("rejects unsupported formats", func() {
		err := execute(recording("notes.txt"))
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	It("rejects a missing file", func() {
		err := execute(filepath.Join(tmpDir, "missing.wav"))
		Expect(err).To(MatchError(ContainSubstring("opening recording")))
	})

	It("rejects unknown output formats", func() {
		err := execute(recording("a.wav"), "-o", "xml")
		Expect(err).To(MatchError(ContainSubstring("unsupported output format")))
	})
})
