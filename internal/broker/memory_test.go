package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBusDeliversToSubscribers(t *testing.T) {
	bus := NewInMemoryBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	var got []Message
	bus.Subscribe(TopicDownloadRequest, func(msg Message) {
		got = append(got, msg)
	})

	msg := NewMessage(TopicDownloadRequest, DownloadRequest{URL: "http://example.com/a.mp3"}, "corr-1")
	require.NoError(t, bus.Publish(msg))

	require.Len(t, got, 1)
	assert.Equal(t, "corr-1", got[0].CorrelationID)
	assert.Equal(t, TopicDownloadRequest, got[0].Topic)

	var req DownloadRequest
	require.NoError(t, got[0].DecodeData(&req))
	assert.Equal(t, "http://example.com/a.mp3", req.URL)
}

func TestInMemoryBusTopicIsolation(t *testing.T) {
	bus := NewInMemoryBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	downloads := 0
	transcribes := 0
	bus.Subscribe(TopicDownloadComplete, func(Message) { downloads++ })
	bus.Subscribe(TopicTranscribeComplete, func(Message) { transcribes++ })

	require.NoError(t, bus.Publish(NewMessage(TopicDownloadComplete, nil, "")))

	assert.Equal(t, 1, downloads)
	assert.Equal(t, 0, transcribes)
}

func TestInMemoryBusDropsWhenStopped(t *testing.T) {
	bus := NewInMemoryBus()

	delivered := false
	bus.Subscribe(TopicDownloadRequest, func(Message) { delivered = true })

	require.NoError(t, bus.Publish(NewMessage(TopicDownloadRequest, nil, "")))
	assert.False(t, delivered, "stopped bus must not deliver")
}

func TestInMemoryBusRecoversPanickingHandler(t *testing.T) {
	bus := NewInMemoryBus()
	require.NoError(t, bus.Start())
	defer bus.Stop()

	survived := false
	bus.Subscribe(TopicDownloadRequest, func(Message) { panic("boom") })
	bus.Subscribe(TopicDownloadRequest, func(Message) { survived = true })

	require.NoError(t, bus.Publish(NewMessage(TopicDownloadRequest, nil, "")))
	assert.True(t, survived, "later handlers must still run after a panic")
}

func TestNewMessageFlattensStructPayloads(t *testing.T) {
	msg := NewMessage(TopicTranscribeComplete, TranscribeComplete{
		FilePath:         "podcasts/abc",
		TranscriptPath:   "podcasts/abc.transcript.json",
		AlreadyProcessed: true,
	}, "corr-2")

	assert.NotEmpty(t, msg.MessageID)
	assert.Equal(t, "podcasts/abc", msg.Data["file_path"])
	assert.Equal(t, "podcasts/abc.transcript.json", msg.Data["transcript_path"])
	assert.Equal(t, true, msg.Data["already_processed"])
}

func TestDecodeDataToleratesUnknownKeys(t *testing.T) {
	msg := Message{
		Topic: TopicDownloadComplete,
		Data: map[string]any{
			"url":       "http://example.com/a.mp3",
			"file_path": "podcasts/abc",
			"extra":     42,
		},
	}

	var payload DownloadComplete
	require.NoError(t, msg.DecodeData(&payload))
	assert.Equal(t, "podcasts/abc", payload.FilePath)
}
