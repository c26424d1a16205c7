package eventstream_test

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals a job event with expected top-level keys", func() {
		event := eventstream.NewEvent(eventstream.EventTypeJobFailed)
		event.ConversationID = "conv-1"
		event.JobID = "job-1"
		event.JobType = "transcription"
		event.Status = "failed"
		event.Attempt = 3
		event.Error = "unsupported audio"

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKey("schema_version"))
		Expect(got).To(HaveKeyWithValue("event_type", "chronicle.job.failed"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKeyWithValue("job_id", "job-1"))
		Expect(got).To(HaveKeyWithValue("attempt", BeNumerically("==", 3)))
		Expect(got).NotTo(HaveKey("version_id"))
	})

	It("stamps unique ids", func() {
		a := eventstream.NewEvent(eventstream.EventTypeVersionActivated)
		b := eventstream.NewEvent(eventstream.EventTypeVersionActivated)
		Expect(a.EventID).NotTo(Equal(b.EventID))
		Expect(strings.HasPrefix(a.EventID, "evt_")).To(BeTrue())
		Expect(a.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).To(MatchError("nil event"))
	})
})
