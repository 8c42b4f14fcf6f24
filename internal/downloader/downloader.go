// Package downloader fetches podcast audio into the blob store and parses
// RSS feeds on request.
package downloader

import (
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/dedup"
	"github.com/Valleeh/podcleaner/internal/models"
	"github.com/Valleeh/podcleaner/internal/storage"
)

// State file names under the worker state directory.
const (
	ProcessedFilesState = "downloader_processed_files.json"
	ProcessedRSSState   = "downloader_processed_rss.json"
)

const downloadChunkSize = 8 * 1024

// StorageKey maps a podcast URL to its blob key. The same URL always maps to
// the same key, which is what makes re-downloads detectable.
func StorageKey(rawURL string) string {
	return fmt.Sprintf("podcasts/%x", md5.Sum([]byte(rawURL)))
}

// Worker is the download stage.
type Worker struct {
	bus    broker.Bus
	store  storage.Store
	client *http.Client
	urls   *dedup.Set
	feeds  *dedup.Set
}

// New builds a downloader whose dedup state lives under stateDir.
func New(bus broker.Bus, store storage.Store, stateDir string) (*Worker, error) {
	urls, err := dedup.Load(filepath.Join(stateDir, ProcessedFilesState))
	if err != nil {
		return nil, err
	}
	feeds, err := dedup.Load(filepath.Join(stateDir, ProcessedRSSState))
	if err != nil {
		return nil, err
	}
	return &Worker{
		bus:    bus,
		store:  store,
		client: &http.Client{Timeout: 10 * time.Minute},
		urls:   urls,
		feeds:  feeds,
	}, nil
}

// Start subscribes the worker to its request topics.
func (w *Worker) Start() {
	w.bus.Subscribe(broker.TopicDownloadRequest, w.handleDownload)
	w.bus.Subscribe(broker.TopicRSSDownloadRequest, w.handleRSS)
	slog.Info("downloader started")
}

// Stop persists the dedup state.
func (w *Worker) Stop() {
	if err := w.urls.Persist(); err != nil {
		slog.Error("persist download state failed", "error", err)
	}
	if err := w.feeds.Persist(); err != nil {
		slog.Error("persist rss state failed", "error", err)
	}
	slog.Info("downloader stopped")
}

func (w *Worker) handleDownload(msg broker.Message) {
	var req broker.DownloadRequest
	if err := msg.DecodeData(&req); err != nil || req.URL == "" {
		w.publish(broker.TopicDownloadFailed, broker.Failure{Error: "missing url"}, msg.CorrelationID)
		return
	}

	ctx := context.Background()
	key := StorageKey(req.URL)
	log := slog.With("url", req.URL, "key", key, "correlation_id", msg.CorrelationID)

	if w.urls.Processed(req.URL) {
		exists, err := w.store.Exists(ctx, key)
		if err == nil && exists {
			log.Info("podcast already downloaded")
			w.publish(broker.TopicDownloadComplete, broker.DownloadComplete{
				URL:              req.URL,
				FilePath:         key,
				AlreadyProcessed: true,
			}, msg.CorrelationID)
			return
		}
		// State says done but the blob is gone; fall through and re-fetch.
	}

	if !w.urls.TryAcquire(req.URL) {
		log.Warn("download already in flight")
		w.publish(broker.TopicDownloadFailed, broker.Failure{
			Error: "already being downloaded",
			URL:   req.URL,
		}, msg.CorrelationID)
		return
	}

	if err := w.download(ctx, req.URL, key); err != nil {
		w.urls.Release(req.URL)
		log.Error("download failed", "error", err)
		w.publish(broker.TopicDownloadFailed, broker.Failure{
			Error: err.Error(),
			URL:   req.URL,
		}, msg.CorrelationID)
		return
	}

	if err := w.urls.MarkProcessed(req.URL); err != nil {
		w.urls.Release(req.URL)
		log.Error("persist download state failed", "error", err)
		w.publish(broker.TopicDownloadFailed, broker.Failure{
			Error: err.Error(),
			URL:   req.URL,
		}, msg.CorrelationID)
		return
	}

	log.Info("download complete")
	w.publish(broker.TopicDownloadComplete, broker.DownloadComplete{
		URL:      req.URL,
		FilePath: key,
	}, msg.CorrelationID)
}

// download streams the URL to a temp file and uploads it under key.
func (w *Worker) download(ctx context.Context, rawURL, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp("", "podcleaner-download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	buf := make([]byte, downloadChunkSize)
	if _, err := io.CopyBuffer(tmp, resp.Body, buf); err != nil {
		return fmt.Errorf("stream %s: %w", rawURL, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind temp file: %w", err)
	}

	if _, err := w.store.Upload(ctx, tmp, key); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (w *Worker) handleRSS(msg broker.Message) {
	var req broker.RSSDownloadRequest
	if err := msg.DecodeData(&req); err != nil || req.RSSURL == "" {
		w.publish(broker.TopicRSSDownloadFailed, broker.Failure{Error: "missing rss_url"}, msg.CorrelationID)
		return
	}

	log := slog.With("rss_url", req.RSSURL, "correlation_id", msg.CorrelationID)

	if !w.feeds.TryAcquire(req.RSSURL) {
		log.Warn("rss download already in flight")
		w.publish(broker.TopicRSSDownloadFailed, broker.Failure{
			Error:  "already being downloaded",
			RSSURL: req.RSSURL,
		}, msg.CorrelationID)
		return
	}

	info, err := FetchPodcastInfo(context.Background(), w.client, req.RSSURL)
	if err != nil {
		w.feeds.Release(req.RSSURL)
		log.Error("rss download failed", "error", err)
		w.publish(broker.TopicRSSDownloadFailed, broker.Failure{
			Error:  err.Error(),
			RSSURL: req.RSSURL,
		}, msg.CorrelationID)
		return
	}

	if req.BaseURL != "" {
		RewriteEpisodeURLs(info, req.BaseURL)
	}

	if err := w.feeds.MarkProcessed(req.RSSURL); err != nil {
		log.Error("persist rss state failed", "error", err)
	}

	log.Info("rss download complete", "episodes", len(info.Episodes))
	w.publish(broker.TopicRSSDownloadComplete, broker.RSSDownloadComplete{
		RSSURL:      req.RSSURL,
		PodcastInfo: *info,
	}, msg.CorrelationID)
}

// FetchPodcastInfo fetches and parses a podcast feed. Episodes without an
// audio enclosure are skipped.
func FetchPodcastInfo(ctx context.Context, client *http.Client, feedURL string) (*models.PodcastInfo, error) {
	parser := gofeed.NewParser()
	parser.Client = client

	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	info := &models.PodcastInfo{
		Title:       feed.Title,
		Description: feed.Description,
		Link:        feed.Link,
	}
	for _, item := range feed.Items {
		audioURL := firstAudioEnclosure(item)
		if audioURL == "" {
			continue
		}
		info.Episodes = append(info.Episodes, models.Episode{
			Title:       item.Title,
			Description: item.Description,
			Published:   item.Published,
			AudioURL:    audioURL,
		})
	}
	return info, nil
}

func firstAudioEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "audio/") {
			return enc.URL
		}
	}
	return ""
}

// RewriteEpisodeURLs points every episode at the processing endpoint,
// keeping the source URL in OriginalURL.
func RewriteEpisodeURLs(info *models.PodcastInfo, baseURL string) {
	base := strings.TrimSuffix(baseURL, "/")
	for i := range info.Episodes {
		ep := &info.Episodes[i]
		ep.OriginalURL = ep.AudioURL
		ep.AudioURL = fmt.Sprintf("%s/process?url=%s", base, url.QueryEscape(ep.OriginalURL))
	}
}

func (w *Worker) publish(topic string, payload any, correlationID string) {
	if err := w.bus.Publish(broker.NewMessage(topic, payload, correlationID)); err != nil {
		slog.Error("publish failed", "topic", topic, "error", err)
	}
}
