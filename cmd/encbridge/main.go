package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/encbridge/internal/admin"
	"github.com/zsiec/encbridge/internal/channel"
	"github.com/zsiec/encbridge/internal/codec/ffmpeg"
	"github.com/zsiec/encbridge/internal/config"
	"github.com/zsiec/encbridge/internal/encode"
	"github.com/zsiec/encbridge/internal/metrics"
	"github.com/zsiec/encbridge/internal/worker"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(os.Args[1:]); err != nil {
		slog.Error("encoder worker failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args, os.Getenv)
	if err != nil {
		return err
	}
	for _, w := range cfg.Warnings {
		slog.Warn("config", "warning", w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("encbridge starting",
		"version", version,
		"channel", cfg.Name,
		"codec", cfg.Codec,
		"width", cfg.Width,
		"height", cfg.Height,
		"bitrate", cfg.BitRate,
		"ack", cfg.Acknowledge,
		"scaler", cfg.Scaler,
	)

	ch, err := channel.OpenOrCreate(cfg.ChannelConfig())
	if err != nil {
		return fmt.Errorf("shared memory init: %w", err)
	}
	defer func() {
		if err := ch.Close(); err != nil {
			slog.Warn("closing channel", "error", err)
		}
	}()

	backend, err := ffmpeg.New(ffmpeg.Scaler(cfg.Scaler), nil)
	if err != nil {
		return err
	}
	pipe, err := encode.New(backend, cfg.EncodeConfig())
	if err != nil {
		slog.Error("available encoders", "encoders", ffmpeg.Encoders())
		return err
	}
	defer pipe.Close()

	m := metrics.New()
	m.SetBitRate(pipe.BitRate())

	w := worker.New(ch, pipe, worker.Config{
		RetryBackoff: cfg.RetryBackoff,
		Observer:     m,
	})

	// Everything that can fail is built before any goroutine touches the
	// channel or the encoder.
	cert, err := adminCert(cfg)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A shutdown frame ends the loop; stop everything else with it.
		defer cancel()
		return w.Run(gctx)
	})

	if cfg.AdminAddr != "" {
		adminSrv := admin.New(admin.Config{
			Addr: cfg.AdminAddr,
			Info: admin.Info{
				Version: version,
				Name:    cfg.Name,
				Codec:   cfg.Codec.String(),
				Width:   cfg.Width,
				Height:  cfg.Height,
			},
			Gatherer:    m.Registry,
			WorkerStats: w.Stats,
			EncodeStats: pipe.Stats,
			SetBitrate: func(bps int64) error {
				if err := pipe.SetBitrate(bps); err != nil {
					return err
				}
				m.SetBitRate(bps)
				return nil
			},
			Cert: cert,
		})
		g.Go(func() error {
			return adminSrv.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	st := w.Stats()
	slog.Info("encoder worker stopped",
		"frames", st.FramesReceived,
		"packets", st.PacketsPublished,
		"dropped_frames", st.FramesDropped,
		"dropped_packets", st.PacketsDropped,
	)
	return nil
}

// adminCert returns the serving certificate for the admin server, or nil when
// the server is disabled or plain HTTP.
func adminCert(cfg *config.Config) (*admin.Cert, error) {
	if cfg.AdminAddr == "" || !cfg.AdminTLS {
		return nil, nil
	}
	cert, err := admin.SelfSigned(nil, 0)
	if err != nil {
		return nil, fmt.Errorf("admin certificate: %w", err)
	}
	return cert, nil
}
