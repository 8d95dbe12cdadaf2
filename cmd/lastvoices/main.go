package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Last-Voices-Collective/lastvoices/internal/audiodevice/device"
	"github.com/Last-Voices-Collective/lastvoices/internal/clip"
	"github.com/Last-Voices-Collective/lastvoices/internal/config"
	"github.com/Last-Voices-Collective/lastvoices/internal/engine"
	"github.com/Last-Voices-Collective/lastvoices/internal/light"
	"github.com/Last-Voices-Collective/lastvoices/internal/observe"
	"github.com/Last-Voices-Collective/lastvoices/internal/utils"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	cfg, err := config.Load(*configFilePath)
	if err != nil {
		slog.Error("error while loading config", "err", err)
		os.Exit(1)
	}

	logFilePointer, err := utils.ConfigureDefaultLogger(cfg.LogLevel, cfg.LogFile, slog.HandlerOptions{})
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("lastvoices exited with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Error("error while shutting down telemetry", "err", err)
		}
	}()

	strategy, err := engine.ParseOverlapStrategy(cfg.OverlapStrategy)
	if err != nil {
		return err
	}

	catalog, err := clip.LoadDirectory(
		cfg.ClipsDir,
		cfg.ClipExtension,
		cfg.PreloadBlocks*cfg.BlockSize,
		cfg.OutputSampleRate,
		slog.Default(),
	)
	if err != nil {
		return err
	}
	slog.Info("clip catalog loaded", "languages", catalog.Len())

	opener, err := device.NewPortAudioOpener(slog.Default())
	if err != nil {
		return err
	}
	defer opener.Close()

	channels := opener.DiscoverOutputChannels(cfg.DeviceFilter)
	slog.Info("output channels discovered", "filter", cfg.DeviceFilter, "channels", len(channels))

	lights := make(map[string]light.Light, catalog.Len())
	for _, name := range catalog.Names() {
		lights[name] = light.Logged{Language: name}
	}

	scheduler, err := engine.NewScheduler(
		catalog,
		opener,
		channels,
		lights,
		engine.SchedulerConfig{
			FallbackTime:  cfg.FallbackTime,
			FadeoutLength: cfg.FadeoutLength,
			Strategy:      strategy,
			BlockSize:     cfg.BlockSize,
			QueueCapacity: cfg.QueueCapacity,
		},
		observe.DefaultMetrics(),
		slog.Default(),
	)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return scheduler.Run(ctx)
	})

	group.Go(func() error {
		return readKeyInput(ctx, scheduler, cfg.KeyMap)
	})

	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		})
	}

	return group.Wait()
}

// readKeyInput maps key presses on stdin onto play requests. Any richer input
// decoding (button matrix, GPIO) lives outside this binary and calls
// PlayLanguage the same way.
func readKeyInput(ctx context.Context, scheduler *engine.Scheduler, keyMap map[string]string) error {
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				// stdin closed (e.g. running under a supervisor). The idle
				// fallback timer keeps the installation alive.
				slog.Info("stdin closed, continuing on fallback timer only")
				<-ctx.Done()
				return ctx.Err()
			}
			if line == "" {
				continue
			}
			language, ok := keyMap[line[:1]]
			if !ok {
				slog.Debug("no language mapped to key", "key", line[:1])
				continue
			}
			if err := scheduler.PlayLanguage(language, false); err != nil {
				slog.Error("play request failed", "language", language, "err", err)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
