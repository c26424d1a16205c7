package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/cliui"
)

var _ = Describe("cliui", func() {
	Describe("Step", func() {
		It("prints a success mark when fn succeeds", func() {
			var buf bytes.Buffer
			Expect(cliui.Step(&buf, "Opening storage", func() error { return nil })).To(Succeed())
			Expect(buf.String()).To(ContainSubstring("Opening storage"))
			Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
		})

		It("returns the error and prints a fail mark", func() {
			var buf bytes.Buffer
			boom := errors.New("boom")
			Expect(cliui.Step(&buf, "Uploading", func() error { return boom })).To(MatchError(boom))
			Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
		})
	})

	It("formats durations", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})

	It("keeps the status text when styling", func() {
		Expect(cliui.Status("failed")).To(ContainSubstring("failed"))
		Expect(cliui.Status("unknown")).To(ContainSubstring("unknown"))
	})

	It("truncates by rune", func() {
		Expect(cliui.Truncate("short", 10)).To(Equal("short"))
		Expect(cliui.Truncate("Ada drinks coffee", 6)).To(Equal("Ada d…"))
		Expect(cliui.Truncate("héllo", 2)).To(Equal("h…"))
		Expect(cliui.Truncate("abc", 0)).To(Equal("abc"))
	})
})

var _ = Describe("Encode", func() {
	type job struct {
		ID           string `json:"id"`
		AttemptCount int    `json:"attempt_count"`
	}

	It("writes YAML keyed by json tags", func() {
		var buf bytes.Buffer
		Expect(cliui.Encode(&buf, cliui.FormatYAML, job{ID: "j1", AttemptCount: 2})).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("id: j1"))
		Expect(buf.String()).To(ContainSubstring("attempt_count: 2"))
	})

	It("writes indented JSON", func() {
		var buf bytes.Buffer
		Expect(cliui.Encode(&buf, cliui.FormatJSON, job{ID: "j1"})).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(`  "id": "j1"`))
	})

	It("rejects text and unknown formats", func() {
		Expect(cliui.Encode(&bytes.Buffer{}, cliui.FormatText, job{})).To(HaveOccurred())
		Expect(cliui.Structured(cliui.FormatText)).To(BeFalse())
		Expect(cliui.Structured(cliui.FormatYAML)).To(BeTrue())
	})
})
