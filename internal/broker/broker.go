// Package broker provides the topic-based publish/subscribe bus that
// decouples the pipeline workers. Two implementations share the Bus
// contract: an in-process fan-out for single-binary and test runs, and an
// MQTT transport for the microservice deployment.
package broker

// Handler consumes a message delivered for a subscribed topic. Delivery is
// at-least-once; handlers must be idempotent.
type Handler func(Message)

// Bus is the message broker contract.
//
// Publish delivers the message to every handler subscribed to its topic.
// There is no guaranteed delivery, no cross-publisher ordering and no
// duplicate suppression.
type Bus interface {
	Publish(msg Message) error
	Subscribe(topic string, handler Handler)
	Start() error
	Stop() error
}

// Topic names form a closed set of per-stage request/complete/failed triples.
const (
	TopicDownloadRequest  = "podcast.download.request"
	TopicDownloadComplete = "podcast.download.complete"
	TopicDownloadFailed   = "podcast.download.failed"

	TopicTranscribeRequest  = "podcast.transcribe.request"
	TopicTranscribeComplete = "podcast.transcribe.complete"
	TopicTranscribeFailed   = "podcast.transcribe.failed"

	TopicAdDetectionRequest    = "podcast.ad_detection.request"
	TopicAdDetectionComplete   = "podcast.ad_detection.complete"
	TopicAdDetectionFailed     = "podcast.ad_detection.failed"
	TopicAdDetectionInProgress = "podcast.ad_detection.in_progress"

	TopicAudioProcessingRequest  = "podcast.audio_processing.request"
	TopicAudioProcessingComplete = "podcast.audio_processing.complete"
	TopicAudioProcessingFailed   = "podcast.audio_processing.failed"

	TopicRSSDownloadRequest  = "podcast.rss.download.request"
	TopicRSSDownloadComplete = "podcast.rss.download.complete"
	TopicRSSDownloadFailed   = "podcast.rss.download.failed"

	TopicStatusUpdate = "api.status.update"
)

// Topics lists every topic a transport must be able to carry.
var Topics = []string{
	TopicDownloadRequest, TopicDownloadComplete, TopicDownloadFailed,
	TopicTranscribeRequest, TopicTranscribeComplete, TopicTranscribeFailed,
	TopicAdDetectionRequest, TopicAdDetectionComplete, TopicAdDetectionFailed,
	TopicAdDetectionInProgress,
	TopicAudioProcessingRequest, TopicAudioProcessingComplete, TopicAudioProcessingFailed,
	TopicRSSDownloadRequest, TopicRSSDownloadComplete, TopicRSSDownloadFailed,
	TopicStatusUpdate,
}
