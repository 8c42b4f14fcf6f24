package audioproc

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

type fakeEditor struct {
	cuts  []Interval
	calls int
}

func (f *fakeEditor) RemoveIntervals(ctx context.Context, inputPath, outputPath string, cuts []Interval) error {
	f.calls++
	f.cuts = cuts
	return os.WriteFile(outputPath, []byte("cleaned audio"), 0o644)
}

type capture struct {
	messages []broker.Message
}

func (c *capture) onTopic(topic string) []broker.Message {
	var out []broker.Message
	for _, msg := range c.messages {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func setup(t *testing.T) (*broker.InMemoryBus, storage.Store, *fakeEditor, *capture) {
	t.Helper()

	bus := broker.NewInMemoryBus()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	editor := &fakeEditor{}
	w := NewWorker(bus, store, editor, config.Default().Audio)

	cap := &capture{}
	for _, topic := range broker.Topics {
		bus.Subscribe(topic, func(msg broker.Message) {
			cap.messages = append(cap.messages, msg)
		})
	}

	w.Start()
	require.NoError(t, bus.Start())
	t.Cleanup(func() { bus.Stop() })
	return bus, store, editor, cap
}

func uploadTranscript(t *testing.T, store storage.Store, key string, segments []models.Segment) {
	t.Helper()
	data, err := json.Marshal(models.NewTranscript(segments))
	require.NoError(t, err)
	_, err = store.Upload(t.Context(), strings.NewReader(string(data)), key)
	require.NoError(t, err)
}

func TestProcessingCutsAdsAndStoresCleanBlob(t *testing.T) {
	bus, store, editor, cap := setup(t)

	_, err := store.Upload(t.Context(), strings.NewReader("original audio"), "podcasts/abc.mp3")
	require.NoError(t, err)
	uploadTranscript(t, store, "podcasts/abc.mp3.transcript.json", []models.Segment{
		{ID: 0, Start: 0, End: 30, IsAd: false},
		{ID: 1, Start: 30, End: 90, IsAd: true},
		{ID: 2, Start: 90, End: 200, IsAd: false},
	})

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       "podcasts/abc.mp3",
		TranscriptPath: "podcasts/abc.mp3.transcript.json",
	}, "corr-ap")))

	completes := cap.onTopic(broker.TopicAudioProcessingComplete)
	require.Len(t, completes, 1)

	var payload broker.AudioProcessingComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.Equal(t, "podcasts/abc.mp3", payload.InputPath)
	assert.Equal(t, "podcasts/abc_clean.mp3", payload.OutputPath)
	assert.False(t, payload.AlreadyProcessed)

	require.Len(t, editor.cuts, 1)
	assert.Equal(t, Interval{Start: 30, End: 90}, editor.cuts[0])

	data, err := store.Download(t.Context(), "podcasts/abc_clean.mp3")
	require.NoError(t, err)
	assert.Equal(t, "cleaned audio", string(data))
}

func TestProcessingNoAdsReturnsInputAsOutput(t *testing.T) {
	bus, store, editor, cap := setup(t)

	_, err := store.Upload(t.Context(), strings.NewReader("original"), "podcasts/clean.mp3")
	require.NoError(t, err)
	uploadTranscript(t, store, "podcasts/clean.mp3.transcript.json", []models.Segment{
		{ID: 0, Start: 0, End: 60, IsAd: false},
	})

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       "podcasts/clean.mp3",
		TranscriptPath: "podcasts/clean.mp3.transcript.json",
	}, "corr-noop")))

	completes := cap.onTopic(broker.TopicAudioProcessingComplete)
	require.Len(t, completes, 1)

	var payload broker.AudioProcessingComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.Equal(t, payload.InputPath, payload.OutputPath)
	assert.Equal(t, 0, editor.calls, "no render when nothing to cut")
}

func TestProcessingShortCircuitsWhenOutputExists(t *testing.T) {
	bus, store, editor, cap := setup(t)

	_, err := store.Upload(t.Context(), strings.NewReader("already cleaned"), "podcasts/done_clean.mp3")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       "podcasts/done.mp3",
		TranscriptPath: "podcasts/done.mp3.transcript.json",
	}, "corr-again")))

	completes := cap.onTopic(broker.TopicAudioProcessingComplete)
	require.Len(t, completes, 1)

	var payload broker.AudioProcessingComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.True(t, payload.AlreadyProcessed)
	assert.Equal(t, "podcasts/done_clean.mp3", payload.OutputPath)
	assert.Equal(t, 0, editor.calls)
}

func TestProcessingMissingTranscriptFails(t *testing.T) {
	bus, _, _, cap := setup(t)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       "podcasts/ghost.mp3",
		TranscriptPath: "podcasts/ghost.mp3.transcript.json",
	}, "corr-missing")))

	failures := cap.onTopic(broker.TopicAudioProcessingFailed)
	require.Len(t, failures, 1)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.NotEmpty(t, payload.Error)
	assert.Equal(t, "podcasts/ghost.mp3", payload.FilePath)
}
