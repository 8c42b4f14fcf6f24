package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "gpt-4o-mini", cfg.LLM.ModelName)
	assert.Equal(t, 600, cfg.LLM.ChunkSize)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.NotEmpty(t, cfg.LLM.TransitionPhrases)
	assert.NotEmpty(t, cfg.LLM.PromotionalIndicators)

	assert.Equal(t, 5.0, cfg.Audio.MinDuration)
	assert.Equal(t, 20.0, cfg.Audio.MaxGap)

	assert.Equal(t, "http://localhost:9000", cfg.Transcriber.WhisperURL)
	assert.Equal(t, "in_memory", cfg.MessageBroker.Type)
	assert.Equal(t, "local", cfg.ObjectStorage.Provider)
	assert.Equal(t, 8080, cfg.WebServer.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().LLM.ChunkSize, cfg.LLM.ChunkSize)
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  model_name: custom-model
  chunk_size: 100
web_server:
  port: 9999
object_storage:
  provider: minio
  bucket_name: podcasts
  endpoint_url: http://localhost:9001
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", cfg.LLM.ModelName)
	assert.Equal(t, 100, cfg.LLM.ChunkSize)
	assert.Equal(t, 9999, cfg.WebServer.Port)
	assert.Equal(t, "minio", cfg.ObjectStorage.Provider)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 20.0, cfg.Audio.MaxGap)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("WHISPER_URL", "http://whisper:9000")
	t.Setenv("MQTT_PORT", "2883")
	t.Setenv("PODCLEANER_LOG_LEVEL", "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "http://whisper:9000", cfg.Transcriber.WhisperURL)
	assert.Equal(t, 2883, cfg.MessageBroker.MQTT.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "llm: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.MessageBroker.Type = "carrier_pigeon"
	assert.ErrorContains(t, cfg.Validate(), "message broker type")

	cfg = Default()
	cfg.ObjectStorage.Provider = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "object storage provider")

	cfg = Default()
	cfg.ObjectStorage.Provider = "s3"
	cfg.ObjectStorage.BucketName = ""
	assert.ErrorContains(t, cfg.Validate(), "bucket name")

	cfg.ObjectStorage.BucketName = "podcasts"
	assert.NoError(t, cfg.Validate())
}
