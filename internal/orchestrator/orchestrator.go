// Package orchestrator drives a full cleaning run over an in-process bus and
// waits for the result, for single-binary use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/storage"
	"github.com/Valleeh/podcleaner/internal/transcriber"
)

type result struct {
	outputKey string
	err       error
}

// Orchestrator chains the pipeline stages and rendezvouses each correlation
// id with its waiting caller.
type Orchestrator struct {
	bus              broker.Bus
	store            storage.Store
	keepIntermediate bool

	mu      sync.Mutex
	waiters map[string]chan result
}

// New wires the orchestrator's subscriptions. KeepIntermediate retains the
// source audio and transcript blobs after a successful run.
func New(bus broker.Bus, store storage.Store, keepIntermediate bool) *Orchestrator {
	o := &Orchestrator{
		bus:              bus,
		store:            store,
		keepIntermediate: keepIntermediate,
		waiters:          make(map[string]chan result),
	}

	bus.Subscribe(broker.TopicDownloadComplete, o.onDownloadComplete)
	bus.Subscribe(broker.TopicTranscribeComplete, o.onTranscribeComplete)
	bus.Subscribe(broker.TopicAdDetectionComplete, o.onAdDetectionComplete)
	bus.Subscribe(broker.TopicAudioProcessingComplete, o.onAudioProcessingComplete)

	for _, topic := range []string{
		broker.TopicDownloadFailed,
		broker.TopicTranscribeFailed,
		broker.TopicAdDetectionFailed,
		broker.TopicAudioProcessingFailed,
	} {
		topic := topic
		bus.Subscribe(topic, func(msg broker.Message) { o.onFailed(topic, msg) })
	}
	return o
}

// Run processes one podcast URL end to end and returns the blob key of the
// cleaned audio.
func (o *Orchestrator) Run(ctx context.Context, url string) (string, error) {
	correlationID := uuid.NewString()
	ch := make(chan result, 1)

	o.mu.Lock()
	o.waiters[correlationID] = ch
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.waiters, correlationID)
		o.mu.Unlock()
	}()

	slog.Info("podcast processing started", "url", url, "correlation_id", correlationID)
	if err := o.bus.Publish(broker.NewMessage(broker.TopicDownloadRequest, broker.DownloadRequest{URL: url}, correlationID)); err != nil {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		slog.Info("podcast processing complete", "url", url, "output", res.outputKey)
		return res.outputKey, nil
	}
}

func (o *Orchestrator) resolve(correlationID string, res result) {
	o.mu.Lock()
	ch, ok := o.waiters[correlationID]
	o.mu.Unlock()
	if !ok {
		slog.Warn("unknown correlation id", "correlation_id", correlationID)
		return
	}
	select {
	case ch <- res:
	default:
	}
}

func (o *Orchestrator) onDownloadComplete(msg broker.Message) {
	var payload broker.DownloadComplete
	if err := msg.DecodeData(&payload); err != nil || payload.FilePath == "" {
		o.resolve(msg.CorrelationID, result{err: errors.New("malformed download completion")})
		return
	}
	o.publish(broker.TopicTranscribeRequest, broker.TranscribeRequest{
		FilePath: payload.FilePath,
	}, msg.CorrelationID)
}

func (o *Orchestrator) onTranscribeComplete(msg broker.Message) {
	var payload broker.TranscribeComplete
	if err := msg.DecodeData(&payload); err != nil || payload.FilePath == "" || payload.TranscriptPath == "" {
		o.resolve(msg.CorrelationID, result{err: errors.New("malformed transcription completion")})
		return
	}
	o.publish(broker.TopicAdDetectionRequest, broker.AdDetectionRequest{
		FilePath:       payload.FilePath,
		TranscriptPath: payload.TranscriptPath,
	}, msg.CorrelationID)
}

func (o *Orchestrator) onAdDetectionComplete(msg broker.Message) {
	var payload broker.AdDetectionComplete
	if err := msg.DecodeData(&payload); err != nil || payload.FilePath == "" || payload.TranscriptPath == "" {
		o.resolve(msg.CorrelationID, result{err: errors.New("malformed ad detection completion")})
		return
	}
	o.publish(broker.TopicAudioProcessingRequest, broker.AudioProcessingRequest{
		FilePath:       payload.FilePath,
		TranscriptPath: payload.TranscriptPath,
	}, msg.CorrelationID)
}

func (o *Orchestrator) onAudioProcessingComplete(msg broker.Message) {
	var payload broker.AudioProcessingComplete
	if err := msg.DecodeData(&payload); err != nil || payload.OutputPath == "" {
		o.resolve(msg.CorrelationID, result{err: errors.New("malformed audio processing completion")})
		return
	}

	if !o.keepIntermediate && payload.InputPath != "" && payload.OutputPath != payload.InputPath {
		o.cleanup(payload.InputPath)
	}
	o.resolve(msg.CorrelationID, result{outputKey: payload.OutputPath})
}

// cleanup drops the source audio and its transcript once the cleaned
// rendition exists.
func (o *Orchestrator) cleanup(audioKey string) {
	ctx := context.Background()
	for _, key := range []string{audioKey, transcriber.TranscriptKey(audioKey)} {
		if _, err := o.store.Delete(ctx, key); err != nil {
			slog.Warn("cleanup failed", "key", key, "error", err)
		}
	}
}

func (o *Orchestrator) onFailed(topic string, msg broker.Message) {
	var payload broker.Failure
	if err := msg.DecodeData(&payload); err != nil {
		o.resolve(msg.CorrelationID, result{err: fmt.Errorf("%s: malformed failure", topic)})
		return
	}
	o.resolve(msg.CorrelationID, result{err: fmt.Errorf("%s: %s", topic, payload.Error)})
}

func (o *Orchestrator) publish(topic string, payload any, correlationID string) {
	if err := o.bus.Publish(broker.NewMessage(topic, payload, correlationID)); err != nil {
		o.resolve(correlationID, result{err: err})
	}
}
