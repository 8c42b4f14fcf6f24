package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// WhisperClient talks to a whisper-asr-webservice instance. The audio file is
// posted as multipart form data and the response is requested in JSON so
// segment timings survive.
type WhisperClient struct {
	baseURL string
	client  *http.Client
}

// NewWhisperClient builds a client for the service at baseURL. Transcription
// of long episodes is slow, so the timeout is generous.
func NewWhisperClient(baseURL string) *WhisperClient {
	return &WhisperClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Hour},
	}
}

type whisperResponse struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns the raw timed segments.
func (c *WhisperClient) Transcribe(ctx context.Context, audioPath string) ([]RawSegment, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio into form: %w", err)
	}
	_ = writer.WriteField("task", "transcribe")
	_ = writer.WriteField("output", "json")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish upload form: %w", err)
	}

	url := fmt.Sprintf("%s/asr", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call transcription service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	segments := make([]RawSegment, 0, len(parsed.Segments))
	for _, seg := range parsed.Segments {
		segments = append(segments, RawSegment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	return segments, nil
}
