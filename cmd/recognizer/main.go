package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"chainattend/internal/attendclient"
	"chainattend/internal/config"
	"chainattend/internal/faceclient"
	"chainattend/internal/integrity"
	"chainattend/internal/logger"
	"chainattend/internal/queue"
	"chainattend/internal/recognizer"
	"chainattend/internal/seen"
	"chainattend/internal/store"
)

// Recognizer consumes uploaded frames, matches faces through the face
// service and submits one hashed record per recognized name per session.
func main() {
	logger.SetService("recognizer")
	cfg := config.Load()
	if err := run(cfg); err != nil {
		logger.Error("recognizer failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		return errors.New("recognizer needs QUEUE_BACKEND=redis or nats")
	}

	scheme, err := integrity.ParseScheme(cfg.IntegrityScheme)
	if err != nil {
		return err
	}
	signer, err := integrity.NewSigner(cfg.SecretKey, scheme)
	if err != nil {
		return errors.New("ATTENDANCE_SECRET_KEY must be set")
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	frames, err := queue.New(cfg.QueueBackend, redisClient.Client, cfg.NATSURL, "frames")
	if err != nil {
		return err
	}
	if c, ok := frames.(io.Closer); ok {
		defer c.Close()
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	if err := face.Health(ctx); err != nil {
		logger.Warn("face service not available, frames will fail until it is", "error", err)
	}

	set := seen.New(cfg.SeenBackend, redisClient.Client, cfg.SeenSessionTTL)
	go resetOnHangup(ctx, set)

	r := recognizer.New(face, attendclient.New(cfg.AttendanceURL), set, signer, recognizer.Config{
		Threshold: cfg.FaceMatchThreshold,
	})
	logger.Info("recognizer started", "attendance_url", cfg.AttendanceURL, "seen", cfg.SeenBackend, "threshold", cfg.FaceMatchThreshold)
	return r.Run(ctx, frames)
}

// resetOnHangup starts a new session, forgetting every seen name, on SIGHUP.
func resetOnHangup(ctx context.Context, set seen.Set) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := set.Reset(ctx); err != nil {
				logger.Warn("could not reset seen set", "error", err)
				continue
			}
			logger.Info("new recognition session, seen set cleared")
		}
	}
}
