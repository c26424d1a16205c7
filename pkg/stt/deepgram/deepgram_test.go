package deepgram_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chronicle/pkg/stt"
	"github.com/papercomputeco/chronicle/pkg/stt/deepgram"
)

const listenBody = `{
  "results": {
    "channels": [{
      "alternatives": [{
        "transcript": "hello there general kenobi",
        "confidence": 0.97,
        "words": [
          {"word": "hello", "punctuated_word": "Hello", "start": 0.1, "end": 0.4, "confidence": 0.9, "speaker": 0},
          {"word": "there", "punctuated_word": "there.", "start": 0.4, "end": 0.8, "confidence": 0.7, "speaker": 0},
          {"word": "general", "start": 1.0, "end": 1.3, "confidence": 1.0, "speaker": 1},
          {"word": "kenobi", "start": 1.3, "end": 1.9, "confidence": 0.8, "speaker": 1}
        ]
      }]
    }]
  }
}`

var _ = Describe("Client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  *deepgram.Client
	)

	BeforeEach(func() {
		handler = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		var err error
		client, err = deepgram.NewClient(deepgram.Config{
			APIKey:  "dg-key",
			BaseURL: server.URL,
			Timeout: time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	transcribe := func() (*stt.Result, error) {
		return client.Transcribe(context.Background(), stt.Audio{
			Reader:      strings.NewReader("RIFF"),
			Filename:    "a.wav",
			ContentType: "audio/wav",
		})
	}

	It("requires an API key", func() {
		_, err := deepgram.NewClient(deepgram.Config{})
		Expect(err).To(MatchError(ContainSubstring("API key")))
	})

	It("sends the audio with diarization and parses words", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/listen"))
			Expect(r.URL.Query().Get("diarize")).To(Equal("true"))
			Expect(r.URL.Query().Get("model")).To(Equal(deepgram.DefaultModel))
			Expect(r.Header.Get("Authorization")).To(Equal("Token dg-key"))
			Expect(r.Header.Get("Content-Type")).To(Equal("audio/wav"))
			body, _ := io.ReadAll(r.Body)
			Expect(string(body)).To(Equal("RIFF"))
			_, _ = w.Write([]byte(listenBody))
		}

		result, err := transcribe()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Text).To(Equal("hello there general kenobi"))
		Expect(result.Words).To(HaveLen(4))
		Expect(result.Words[0].Text).To(Equal("Hello"))
		Expect(result.Words[2].Text).To(Equal("general"))
		Expect(result.Confidence).To(BeNumerically("~", 0.85, 1e-9))

		By("grouping words by speaker when utterances are absent")
		Expect(result.Segments).To(HaveLen(2))
		Expect(result.Segments[0].SpeakerID).To(Equal("0"))
		Expect(result.Segments[0].Text).To(Equal("Hello there."))
		Expect(result.Segments[1].StartTime).To(Equal(1.0))
		Expect(result.Segments[1].EndTime).To(Equal(1.9))
	})

	It("prefers utterances for segments", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hi"}]}],
				"utterances":[{"start":0,"end":1.5,"transcript":"hi","speaker":2}]}}`))
		}
		result, err := transcribe()
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Segments).To(HaveLen(1))
		Expect(result.Segments[0].SpeakerID).To(Equal("2"))
		Expect(result.Confidence).To(BeZero())
	})

	DescribeTable("maps provider failures",
		func(status int, want error) {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"err_code":"X","err_msg":"nope"}`))
			}
			_, err := transcribe()
			Expect(err).To(MatchError(want))
		},
		Entry("rate limit", http.StatusTooManyRequests, stt.ErrProviderRateLimited),
		Entry("bad audio", http.StatusBadRequest, stt.ErrUnsupportedAudio),
		Entry("gateway timeout", http.StatusGatewayTimeout, stt.ErrProviderTimeout),
	)

	It("reports other statuses as plain errors", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_, err := transcribe()
		Expect(err).To(MatchError(ContainSubstring("status 500")))
		Expect(err).NotTo(MatchError(stt.ErrUnsupportedAudio))
	})

	It("turns a slow provider into a timeout", func() {
		release := make(chan struct{})
		DeferCleanup(func() { close(release) })
		handler = func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
		slow, err := deepgram.NewClient(deepgram.Config{
			APIKey:  "k",
			BaseURL: server.URL,
			Timeout: 50 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = slow.Transcribe(context.Background(), stt.Audio{Reader: strings.NewReader("x")})
		Expect(err).To(MatchError(stt.ErrProviderTimeout))
	})
})
