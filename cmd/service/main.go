// Command service runs PodCleaner workers as long-lived services: the whole
// pipeline in one process, or a single worker per process for scaling out.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Valleeh/podcleaner/internal/addetector"
	"github.com/Valleeh/podcleaner/internal/audioproc"
	"github.com/Valleeh/podcleaner/internal/broker"
	"github.com/Valleeh/podcleaner/internal/config"
	"github.com/Valleeh/podcleaner/internal/dedup"
	"github.com/Valleeh/podcleaner/internal/downloader"
	"github.com/Valleeh/podcleaner/internal/server"
	"github.com/Valleeh/podcleaner/internal/storage"
	"github.com/Valleeh/podcleaner/internal/transcriber"
)

type service interface {
	Start()
	Stop()
}

func main() {
	var (
		name       string
		configPath string
		mqttHost   string
		mqttPort   int
		webHost    string
		webPort    int
	)
	flag.StringVar(&name, "s", "all", "service to run: web, downloader, transcriber, ad-detector, audio-processor or all")
	flag.StringVar(&configPath, "c", "config.yaml", "path to config file")
	flag.StringVar(&mqttHost, "mqtt-host", "", "MQTT broker host override")
	flag.IntVar(&mqttPort, "mqtt-port", 0, "MQTT broker port override")
	flag.StringVar(&webHost, "web-host", "", "web server host override")
	flag.IntVar(&webPort, "web-port", 0, "web server port override")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if mqttHost != "" {
		cfg.MessageBroker.MQTT.Host = mqttHost
	}
	if mqttPort != 0 {
		cfg.MessageBroker.MQTT.Port = mqttPort
	}
	if webHost != "" {
		cfg.WebServer.Host = webHost
	}
	if webPort != 0 {
		cfg.WebServer.Port = webPort
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg, name); err != nil {
		slog.Error("service failed", "service", name, "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, name string) error {
	ctx := context.Background()

	store, err := storage.NewStore(ctx, cfg.ObjectStorage)
	if err != nil {
		return err
	}
	bus, err := broker.New(cfg.MessageBroker)
	if err != nil {
		return err
	}

	var services []service
	var web *server.Server

	wantAll := name == "all"
	want := func(s string) bool { return wantAll || name == s }

	if want("downloader") {
		dl, err := downloader.New(bus, store, dedup.DefaultStateDir)
		if err != nil {
			return err
		}
		services = append(services, dl)
	}
	if want("transcriber") {
		tr, err := transcriber.New(bus, store, transcriber.NewWhisperClient(cfg.Transcriber.WhisperURL), dedup.DefaultStateDir)
		if err != nil {
			return err
		}
		services = append(services, tr)
	}
	if want("ad-detector") {
		detector := addetector.NewDetector(cfg.LLM, addetector.NewOpenAIClient(cfg.LLM))
		ad, err := addetector.NewWorker(bus, store, detector, dedup.DefaultStateDir)
		if err != nil {
			return err
		}
		services = append(services, ad)
	}
	if want("audio-processor") {
		services = append(services, audioproc.NewWorker(bus, store, audioproc.NewFFmpegEditor(), cfg.Audio))
	}
	if want("web") {
		web = server.New(cfg.WebServer, bus, store)
	}
	if len(services) == 0 && web == nil {
		return fmt.Errorf("unknown service %q", name)
	}

	if err := bus.Start(); err != nil {
		return err
	}
	for _, svc := range services {
		svc.Start()
	}

	errCh := make(chan error, 1)
	if web != nil {
		go func() {
			if err := web.Start(); err != nil {
				errCh <- err
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown requested", "signal", sig.String())
	case err := <-errCh:
		slog.Error("web server error", "error", err)
	}

	// Stop in reverse start order.
	if web != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := web.Shutdown(shutdownCtx); err != nil {
			slog.Error("web server shutdown failed", "error", err)
		}
		cancel()
	}
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
	return bus.Stop()
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
