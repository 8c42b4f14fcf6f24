package addetector

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

type workerCapture struct {
	messages []broker.Message
}

func (c *workerCapture) onTopic(topic string) []broker.Message {
	var out []broker.Message
	for _, msg := range c.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func newTestWorker(t *testing.T, classifier Classifier) (*broker.InMemoryBus, storage.Store, *workerCapture) {
	t.Helper()

	bus := broker.NewInMemoryBus()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	detector := NewDetector(testLLMConfig(), classifier)
	detector.retryDelay = time.Millisecond

	w, err := NewWorker(bus, store, detector, t.TempDir())
	require.NoError(t, err)

	cap := &workerCapture{}
	for _, topic := range broker.Topics {
		bus.Subscribe(topic, func(msg broker.Message) {
			cap.messages = append(cap.messages, msg)
		})
	}

	w.Start()
	require.NoError(t, bus.Start())
	t.Cleanup(func() { bus.Stop() })
	return bus, store, cap
}

func storeTranscript(t *testing.T, store storage.Store, key string, segments []models.Segment) {
	t.Helper()
	data, err := json.Marshal(models.NewTranscript(segments))
	require.NoError(t, err)
	_, err = store.Upload(t.Context(), strings.NewReader(string(data)), key)
	require.NoError(t, err)
}

func TestWorkerMarksTranscriptInPlace(t *testing.T) {
	classifier := &fakeClassifier{marks: map[int]bool{1: true}}
	bus, store, cap := newTestWorker(t, classifier)

	segments := makeSegments(0, 1)
	segments[1].Start = 500 // keep the coalescing pass out of this test
	segments[1].End = 500.5
	storeTranscript(t, store, "podcasts/abc.transcript.json", segments)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAdDetectionRequest, broker.AdDetectionRequest{
		FilePath:       "podcasts/abc",
		TranscriptPath: "podcasts/abc.transcript.json",
	}, "corr-ad")))

	completes := cap.onTopic(broker.TopicAdDetectionComplete)
	require.Len(t, completes, 1)

	var payload broker.AdDetectionComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.Equal(t, "podcasts/abc", payload.FilePath)
	assert.Equal(t, "podcasts/abc.transcript.json", payload.TranscriptPath)
	assert.False(t, payload.AlreadyProcessed)

	data, err := store.Download(t.Context(), "podcasts/abc.transcript.json")
	require.NoError(t, err)
	var marked models.Transcript
	require.NoError(t, json.Unmarshal(data, &marked))
	require.Len(t, marked.Segments, 2)
	assert.False(t, marked.Segments[0].IsAd)
	assert.True(t, marked.Segments[1].IsAd)
}

func TestWorkerSecondRequestShortCircuits(t *testing.T) {
	classifier := &fakeClassifier{marks: map[int]bool{}}
	bus, store, cap := newTestWorker(t, classifier)

	storeTranscript(t, store, "podcasts/cached.transcript.json", makeSegments(0))

	req := broker.AdDetectionRequest{
		FilePath:       "podcasts/cached",
		TranscriptPath: "podcasts/cached.transcript.json",
	}
	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAdDetectionRequest, req, "one")))
	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAdDetectionRequest, req, "two")))

	assert.Equal(t, 1, classifier.calls, "classifier must run once")

	completes := cap.onTopic(broker.TopicAdDetectionComplete)
	require.Len(t, completes, 2)

	var second broker.AdDetectionComplete
	require.NoError(t, completes[1].DecodeData(&second))
	assert.True(t, second.AlreadyProcessed)
}

func TestWorkerMissingTranscriptFails(t *testing.T) {
	bus, _, cap := newTestWorker(t, &fakeClassifier{})

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAdDetectionRequest, broker.AdDetectionRequest{
		FilePath:       "podcasts/ghost",
		TranscriptPath: "podcasts/ghost.transcript.json",
	}, "corr-missing")))

	failures := cap.onTopic(broker.TopicAdDetectionFailed)
	require.Len(t, failures, 1)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.NotEmpty(t, payload.Error)
	assert.Equal(t, "podcasts/ghost", payload.FilePath)
}

func TestWorkerMissingFieldsFail(t *testing.T) {
	bus, _, cap := newTestWorker(t, &fakeClassifier{})

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAdDetectionRequest, map[string]any{}, "corr-bad")))

	failures := cap.onTopic(broker.TopicAdDetectionFailed)
	require.Len(t, failures, 1)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.Equal(t, "missing file_path or transcript_path", payload.Error)
}
