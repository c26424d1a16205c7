package stack_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
)

var _ = Describe("Service logging", func() {
	It("registers the log flags", func() {
		cmd := &cobra.Command{Use: "serve"}
		stack.AddLogFlags(cmd)
		Expect(cmd.Flags().Lookup("json-logs")).NotTo(BeNil())
		Expect(cmd.Flags().Lookup("log-file")).NotTo(BeNil())
	})

	It("logs JSON when not pretty", func() {
		var buf bytes.Buffer
		log, closeLog, err := stack.NewServiceLoggerFor(&buf, false, false, "")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(closeLog)

		log.Info("job completed", "job_id", "j1")

		var rec map[string]any
		Expect(json.Unmarshal(buf.Bytes(), &rec)).To(Succeed())
		Expect(rec).To(HaveKeyWithValue("msg", "job completed"))
		Expect(rec).To(HaveKeyWithValue("job_id", "j1"))
	})

	It("copies JSON records to the log file in both modes", func() {
		for _, pretty := range []bool{false, true} {
			var buf bytes.Buffer
			path := filepath.Join(GinkgoT().TempDir(), "chronicle.log")

			log, closeLog, err := stack.NewServiceLoggerFor(&buf, pretty, false, path)
			Expect(err).NotTo(HaveOccurred())
			log.Info("worker started", "worker_id", "w-1")
			log.Debug("hidden")
			Expect(closeLog()).To(Succeed())

			Expect(buf.String()).To(ContainSubstring("worker started"))

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			Expect(lines).To(HaveLen(1))

			var rec map[string]any
			Expect(json.Unmarshal([]byte(lines[0]), &rec)).To(Succeed())
			Expect(rec).To(HaveKeyWithValue("worker_id", "w-1"))
		}
	})

	It("reports an unwritable log file", func() {
		_, _, err := stack.NewServiceLoggerFor(&bytes.Buffer{}, false, false, filepath.Join(GinkgoT().TempDir(), "missing", "x.log"))
		Expect(err).To(MatchError(ContainSubstring("opening log file")))
	})
})
