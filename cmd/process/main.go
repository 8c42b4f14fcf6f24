// Command process cleans a single podcast end to end: download, transcribe,
// detect ads, cut them, and write the result to a local file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Valleeh/podcleaner/internal/addetector"
	"github.com/Valleeh/podcleaner/internal/audioproc"
	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/dedup"
	"github.com/Valleeh/podcleaner/internal/downloader"
	"github.com/Valleeh/podcleaner/internal/orchestrator"
	"github.com/Valleeh/podcleaner/internal/storage"
	"github.com/Valleeh/podcleaner/internal/transcriber"
)

func main() {
	var (
		output           string
		configPath       string
		keepIntermediate bool
		debug            bool
	)
	flag.StringVar(&output, "o", "", "output file path (default <md5>_clean.mp3 in the working directory)")
	flag.StringVar(&configPath, "c", "config.yaml", "path to config file")
	flag.BoolVar(&keepIntermediate, "keep-intermediate", false, "keep downloaded audio and transcript blobs")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: process [flags] <podcast-url>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	url := flag.Arg(0)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.LogLevel = "DEBUG"
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg, url, output, keepIntermediate); err != nil {
		slog.Error("podcast processing failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, url, output string, keepIntermediate bool) error {
	ctx := context.Background()

	store, err := storage.NewStore(ctx, cfg.ObjectStorage)
	if err != nil {
		return err
	}

	// Single-shot runs always use the in-process bus, whatever the config
	// says about deployment.
	bus := broker.NewInMemoryBus()

	dl, err := downloader.New(bus, store, dedup.DefaultStateDir)
	if err != nil {
		return err
	}
	tr, err := transcriber.New(bus, store, transcriber.NewWhisperClient(cfg.Transcriber.WhisperURL), dedup.DefaultStateDir)
	if err != nil {
		return err
	}
	detector := addetector.NewDetector(cfg.LLM, addetector.NewOpenAIClient(cfg.LLM))
	ad, err := addetector.NewWorker(bus, store, detector, dedup.DefaultStateDir)
	if err != nil {
		return err
	}
	ap := audioproc.NewWorker(bus, store, audioproc.NewFFmpegEditor(), cfg.Audio)

	orch := orchestrator.New(bus, store, keepIntermediate)

	if err := bus.Start(); err != nil {
		return err
	}
	dl.Start()
	tr.Start()
	ad.Start()
	ap.Start()
	defer func() {
		ap.Stop()
		ad.Stop()
		tr.Stop()
		dl.Stop()
		_ = bus.Stop()
	}()

	outputKey, err := orch.Run(ctx, url)
	if err != nil {
		return err
	}

	if output == "" {
		output = strings.TrimPrefix(outputKey, "podcasts/")
	}
	if dir := filepath.Dir(output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := store.DownloadTo(ctx, outputKey, output); err != nil {
		return err
	}

	slog.Info("cleaned podcast written", "output", output)
	fmt.Println(output)
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN", "WARNING":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))
}
