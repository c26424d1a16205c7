package jobscmder_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	jobscmder "github.com/papercomputeco/chronicle/cmd/chronicle/jobs"
	"github.com/papercomputeco/chronicle/pkg/jobs"
	"github.com/papercomputeco/chronicle/pkg/storage/sqlite"
)

var _ = Describe("jobs", func() {
	var (
		tmpDir   string
		out      *bytes.Buffer
		queuedID string
		failedID string
	)

	BeforeEach(func() {
		ctx := context.Background()
		tmpDir = GinkgoT().TempDir()
		out = &bytes.Buffer{}

		driver, err := sqlite.NewSQLiteDriver(filepath.Join(tmpDir, "chronicle.db"))
		Expect(err).NotTo(HaveOccurred())
		defer driver.Close()

		queued, err := driver.Enqueue(ctx, jobs.TypeTranscription, jobs.Payload{ConversationID: "c1", AudioReference: "a.wav"})
		Expect(err).NotTo(HaveOccurred())
		queuedID = queued.ID

		failed, err := driver.Enqueue(ctx, jobs.TypeMemoryExtraction, jobs.Payload{ConversationID: "c2", SourceVersionID: "tv"},
			jobs.WithMaxAttempts(1))
		Expect(err).NotTo(HaveOccurred())
		failedID = failed.ID

		claimed, err := driver.ClaimNext(ctx, "test-worker", []jobs.Type{jobs.TypeMemoryExtraction}, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(claimed.ID).To(Equal(failedID))
		_, err = driver.Fail(ctx, failedID, "test-worker", jobs.Failure{
			Error:      "model returned invalid JSON",
			Diagnostic: map[string]any{"raw_response": "not json"},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	execute := func(args ...string) error {
		cmd := jobscmder.NewJobsCmd()
		cmd.PersistentFlags().Bool("debug", false, "")
		cmd.PersistentFlags().String("config-dir", "", "")
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append(args, "--config-dir", tmpDir))
		return cmd.Execute()
	}

	Describe("list", func() {
		It("lists every job", func() {
			Expect(execute("list", "-o", "json")).To(Succeed())

			var list []jobs.Job
			Expect(json.Unmarshal(out.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(2))
		})

		It("filters by status and type", func() {
			Expect(execute("list", "--status", "failed", "--type", "memory_extraction", "-o", "yaml")).To(Succeed())

			var list []map[string]any
			Expect(yaml.Unmarshal(out.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0]["id"]).To(Equal(failedID))
		})

		It("filters by conversation", func() {
			Expect(execute("list", "--conversation", "c1", "-o", "json")).To(Succeed())

			var list []jobs.Job
			Expect(json.Unmarshal(out.Bytes(), &list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0].ID).To(Equal(queuedID))
		})

		It("encodes an empty result as an empty list", func() {
			Expect(execute("list", "--conversation", "none", "-o", "json")).To(Succeed())
			Expect(out.String()).To(HavePrefix("[]"))
		})

		It("rejects unknown statuses", func() {
			Expect(execute("list", "--status", "stuck")).To(MatchError(ContainSubstring("unknown job status")))
		})

		It("prints a table by default", func() {
			Expect(execute("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring(queuedID))
			Expect(out.String()).To(ContainSubstring("1/1"))
		})
	})

	Describe("get", func() {
		It("shows the last error and diagnostics", func() {
			Expect(execute("get", failedID)).To(Succeed())
			Expect(out.String()).To(ContainSubstring("model returned invalid JSON"))
			Expect(out.String()).To(ContainSubstring("raw_response"))
		})

		It("reports unknown jobs", func() {
			Expect(execute("get", "missing")).To(MatchError(ContainSubstring("not found")))
		})
	})

	It("counts jobs per status", func() {
		Expect(execute("stats", "-o", "json")).To(Succeed())

		var stats map[string]int
		Expect(json.Unmarshal(out.Bytes(), &stats)).To(Succeed())
		Expect(stats).To(Equal(map[string]int{
			"queued": 1, "processing": 0, "completed": 0, "failed": 1, "total": 2,
		}))
	})

	It("refuses top without a terminal", func() {
		Expect(execute("top")).To(MatchError(ContainSubstring("needs a terminal")))
	})
})
