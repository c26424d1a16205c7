package pipeline_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/audio"
	"github.com/papercomputeco/chronicle/pkg/llm"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/storage"
	"github.com/papercomputeco/chronicle/pkg/stt"
)

var _ = Describe("Classify", func() {
	DescribeTable("retry decisions",
		func(err error, retryable bool, class string) {
			got, diag := pipeline.Classify(err)
			Expect(got).To(Equal(retryable))
			Expect(diag).To(HaveKeyWithValue("class", class))
		},
		Entry("stt timeout", fmt.Errorf("transcribing: %w", stt.ErrProviderTimeout), true, pipeline.ClassTransient),
		Entry("stt rate limit", stt.ErrProviderRateLimited, true, pipeline.ClassTransient),
		Entry("llm timeout", llm.ErrProviderTimeout, true, pipeline.ClassTransient),
		Entry("llm outage", llm.ErrProviderUnavailable, true, pipeline.ClassTransient),
		Entry("deadline", context.DeadlineExceeded, true, pipeline.ClassTransient),
		Entry("unknown", errors.New("boom"), true, pipeline.ClassTransient),
		Entry("explicit transient", pipeline.Transient(storage.NotFoundError{Kind: storage.KindJob, ID: "j"}), true, pipeline.ClassTransient),
		Entry("unsupported audio", fmt.Errorf("x: %w", stt.ErrUnsupportedAudio), false, pipeline.ClassPermanent),
		Entry("unsupported format", audio.ErrUnsupportedFormat, false, pipeline.ClassPermanent),
		Entry("missing audio", audio.ErrInvalidReference, false, pipeline.ClassPermanent),
		Entry("malformed output", &llm.MalformedResponseError{Reason: "no json", Raw: "hello"}, false, pipeline.ClassPermanent),
		Entry("explicit permanent", pipeline.Permanent(errors.New("bad"), nil), false, pipeline.ClassPermanent),
		Entry("not found", storage.NotFoundError{Kind: storage.KindConversation, ID: "c"}, false, pipeline.ClassNotFound),
		Entry("conflict", storage.ConflictError{Kind: storage.KindConversation, ID: "c", Reason: "x"}, false, pipeline.ClassConflict),
	)

	It("keeps the raw model output of malformed responses", func() {
		err := fmt.Errorf("extracting: %w", &llm.MalformedResponseError{Reason: "no json", Raw: "I cannot help"})
		retryable, diag := pipeline.Classify(err)
		Expect(retryable).To(BeFalse())
		Expect(diag).To(HaveKeyWithValue("raw_output", "I cannot help"))
		Expect(diag).To(HaveKeyWithValue("reason", "no json"))
	})

	It("labels transient reasons", func() {
		_, diag := pipeline.Classify(stt.ErrProviderRateLimited)
		Expect(diag).To(HaveKeyWithValue("reason", "rate_limited"))
	})

	It("carries permanent diagnostics", func() {
		_, diag := pipeline.Classify(pipeline.Permanent(errors.New("bad"), map[string]any{"audio_reference": "a.txt"}))
		Expect(diag).To(HaveKeyWithValue("audio_reference", "a.txt"))
	})

	It("passes nil through the wrappers", func() {
		Expect(pipeline.Transient(nil)).To(BeNil())
		Expect(pipeline.Permanent(nil, nil)).To(BeNil())
	})
})
