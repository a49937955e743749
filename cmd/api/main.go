package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chainattend/internal/account"
	"chainattend/internal/attendance"
	"chainattend/internal/auth"
	"chainattend/internal/cloudinary"
	"chainattend/internal/config"
	"chainattend/internal/faceclient"
	"chainattend/internal/handler"
	"chainattend/internal/httpmiddleware"
	"chainattend/internal/integrity"
	"chainattend/internal/ledger"
	"chainattend/internal/logger"
	"chainattend/internal/queue"
	"chainattend/internal/security"
	"chainattend/internal/store"
)

func main() {
	logger.SetService("api")
	cfg := config.Load()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		logger.Error("api failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheme, err := integrity.ParseScheme(cfg.IntegrityScheme)
	if err != nil {
		return err
	}
	signer, err := integrity.NewSigner(cfg.SecretKey, scheme)
	if err != nil {
		return errors.New("ATTENDANCE_SECRET_KEY must be set")
	}

	var (
		records attendance.Store
		users   account.Store
		checks  = map[string]handler.Check{}
	)
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	switch {
	case err == nil:
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		records = attendance.NewRepository(db.Client)
		users = account.NewRepository(db.Client)
		checks["db"] = db.Healthy
	case cfg.Production():
		return err
	default:
		logger.Warn("db not reachable, keeping records in memory", "error", err)
		db.Close()
		records = attendance.NewMemoryStore()
		users = account.NewMemoryStore()
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if cfg.QueueBackend == "redis" {
		checks["redis"] = redisClient.Healthy
	}

	anchors, err := queue.New(cfg.QueueBackend, redisClient.Client, cfg.NATSURL, "anchors")
	if err != nil {
		return err
	}
	defer closeQueue(anchors)

	var frames queue.Queue
	if cfg.QueueBackend != "memory" {
		if frames, err = queue.New(cfg.QueueBackend, redisClient.Client, cfg.NATSURL, "frames"); err != nil {
			return err
		}
		defer closeQueue(frames)
	}

	svc := attendance.NewService(records, signer, attendance.Options{
		DedupWindow: cfg.DedupWindow,
		MaxSkew:     cfg.AcceptMaxSkew,
		Queue:       anchors,
	})

	// Nothing outside this process can drain an in-memory queue, so anchor
	// here against a process-local ledger.
	if cfg.QueueBackend == "memory" {
		go anchorInProcess(ctx, svc, anchors, ledger.NewMemory())
	}

	hasher, err := security.NewPasswordHasher(cfg.PasswordHash)
	if err != nil {
		return err
	}
	var sender security.CodeSender = security.LogSender{}
	if ms := security.NewMailerSendSender(cfg.MailerSendKey, cfg.MailerFromName, cfg.MailerFrom); ms != nil {
		sender = ms
	} else if cfg.Production() {
		logger.Warn("MAILERSEND_API_KEY or MAILER_FROM not set, login codes go to the log")
	}

	issuer := auth.Issuer{
		Name:       cfg.JWTIssuer,
		Key:        cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	checks["face"] = func(ctx context.Context) bool { return face.Health(ctx) == nil }

	h := &handler.Handler{
		Attendance: svc,
		Accounts:   account.NewService(users, hasher, sender, issuer),
		Issuer:     issuer,
		Faces:      face,
		Frames:     frames,
		Checks:     checks,
	}
	if cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder); cdn.Enabled() {
		h.Uploader = cdn
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	} else {
		logger.Info("cloudinary not configured, /v1/frames and /v1/faces disabled")
	}

	limiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	go sweepLimiter(ctx, limiter)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.RequestID())
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(limiter.GinMiddleware())
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "scheme", signer.Scheme(), "queue", cfg.QueueBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func anchorInProcess(ctx context.Context, svc *attendance.Service, q queue.Queue, l ledger.Ledger) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		logger.Error("anchor consumer failed", "error", err)
		return
	}
	for msg := range msgs {
		if msg.Type != queue.TypeAnchor {
			continue
		}
		if _, err := svc.Anchor(ctx, l, string(msg.Body)); err != nil {
			logger.Error("anchor failed", "id", string(msg.Body), "error", err)
		}
	}
}

func sweepLimiter(ctx context.Context, l *httpmiddleware.TokenBucket) {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(30 * time.Minute)
		}
	}
}

func closeQueue(q queue.Queue) {
	if c, ok := q.(io.Closer); ok {
		_ = c.Close()
	}
}
