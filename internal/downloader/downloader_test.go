package downloader

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/storage"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Podcast</title>
    <link>https://example.com</link>
    <description>A feed for testing</description>
    <item>
      <title>Episode 1</title>
      <description>First</description>
      <pubDate>Mon, 05 May 2025 10:00:00 +0000</pubDate>
      <enclosure url="https://cdn.example.com/ep1.mp3" type="audio/mpeg" length="100"/>
    </item>
    <item>
      <title>Episode 2</title>
      <description>Second</description>
      <enclosure url="https://cdn.example.com/ep2.pdf" type="application/pdf" length="100"/>
    </item>
    <item>
      <title>Episode 3</title>
      <description>Third</description>
      <enclosure url="https://cdn.example.com/ep3.mp3" type="audio/mpeg" length="100"/>
    </item>
  </channel>
</rss>`

type capture struct {
	messages []broker.Message
}

func newWorker(t *testing.T) (*Worker, *broker.InMemoryBus, storage.Store, *capture) {
	t.Helper()

	bus := broker.NewInMemoryBus()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w, err := New(bus, store, t.TempDir())
	require.NoError(t, err)

	cap := &capture{}
	for _, topic := range broker.Topics {
		bus.Subscribe(topic, func(msg broker.Message) {
			cap.messages = append(cap.messages, msg)
		})
	}

	w.Start()
	require.NoError(t, bus.Start())
	t.Cleanup(func() { bus.Stop() })
	return w, bus, store, cap
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

func TestStorageKeyIsMD5OfURL(t *testing.T) {
	url := "https://cdn.example.com/ep1.mp3"
	want := fmt.Sprintf("podcasts/%x", md5.Sum([]byte(url)))
	assert.Equal(t, want, StorageKey(url))
}

func TestDownloadStoresBlobAndPublishesComplete(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		fmt.Fprint(w, "fake mp3 bytes")
	}))
	defer audio.Close()

	_, bus, store, cap := newWorker(t)
	url := audio.URL + "/episode.mp3"

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, broker.DownloadRequest{URL: url}, "corr-dl")))

	completes := cap.onTopic(broker.TopicDownloadComplete)
	require.Len(t, completes, 1)
	assert.Equal(t, "corr-dl", completes[0].CorrelationID)

	var payload broker.DownloadComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.Equal(t, url, payload.URL)
	assert.Equal(t, StorageKey(url), payload.FilePath)
	assert.False(t, payload.AlreadyProcessed)

	data, err := store.Download(t.Context(), payload.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "fake mp3 bytes", string(data))
}

func TestDownloadSecondRequestShortCircuits(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "bytes")
	}))
	defer audio.Close()

	_, bus, _, cap := newWorker(t)
	url := audio.URL + "/ep.mp3"

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, broker.DownloadRequest{URL: url}, "first")))
	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, broker.DownloadRequest{URL: url}, "second")))

	completes := cap.onTopic(broker.TopicDownloadComplete)
	require.Len(t, completes, 2)

	var second broker.DownloadComplete
	require.NoError(t, completes[1].DecodeData(&second))
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, StorageKey(url), second.FilePath)
}

func TestDownloadHTTPErrorPublishesFailed(t *testing.T) {
	audio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer audio.Close()

	_, bus, _, cap := newWorker(t)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, broker.DownloadRequest{URL: audio.URL + "/gone.mp3"}, "corr-404")))

	failures := cap.onTopic(broker.TopicDownloadFailed)
	require.Len(t, failures, 1)
	assert.Equal(t, "corr-404", failures[0].CorrelationID)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.Contains(t, payload.Error, "404")
}

func TestDownloadMissingURLPublishesFailed(t *testing.T) {
	_, bus, _, cap := newWorker(t)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, map[string]any{}, "corr-bad")))

	failures := cap.onTopic(broker.TopicDownloadFailed)
	require.Len(t, failures, 1)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.Equal(t, "missing url", payload.Error)
}

func TestRSSDownloadRewritesAudioEnclosures(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testFeed)
	}))
	defer feed.Close()

	_, bus, _, cap := newWorker(t)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicRSSDownloadRequest, broker.RSSDownloadRequest{
		RSSURL:  feed.URL + "/feed.xml",
		BaseURL: "http://proxy.local:8080",
	}, "corr-rss")))

	completes := cap.onTopic(broker.TopicRSSDownloadComplete)
	require.Len(t, completes, 1)

	var payload broker.RSSDownloadComplete
	require.NoError(t, completes[0].DecodeData(&payload))
	assert.Equal(t, "Test Podcast", payload.PodcastInfo.Title)

	// The PDF enclosure is not audio; only two episodes survive.
	require.Len(t, payload.PodcastInfo.Episodes, 2)

	first := payload.PodcastInfo.Episodes[0]
	assert.Equal(t, "https://cdn.example.com/ep1.mp3", first.OriginalURL)
	assert.Equal(t, "http://proxy.local:8080/process?url=https%3A%2F%2Fcdn.example.com%2Fep1.mp3", first.AudioURL)

	second := payload.PodcastInfo.Episodes[1]
	assert.Equal(t, "Episode 3", second.Title)
	assert.Equal(t, "https://cdn.example.com/ep3.mp3", second.OriginalURL)
}

func TestRSSDownloadFailurePublishesFailed(t *testing.T) {
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer feed.Close()

	_, bus, _, cap := newWorker(t)

	require.NoError(t, bus.Publish(broker.NewMessage(broker.TopicRSSDownloadRequest, broker.RSSDownloadRequest{
		RSSURL: feed.URL + "/feed.xml",
	}, "corr-rss-fail")))

	failures := cap.onTopic(broker.TopicRSSDownloadFailed)
	require.Len(t, failures, 1)

	var payload broker.Failure
	require.NoError(t, failures[0].DecodeData(&payload))
	assert.NotEmpty(t, payload.Error)
}
