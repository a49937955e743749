package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron"

	"chainattend/internal/attendance"
	"chainattend/internal/config"
	"chainattend/internal/integrity"
	"chainattend/internal/ledger"
	"chainattend/internal/logger"
	"chainattend/internal/queue"
	"chainattend/internal/store"
)

// Worker anchors accepted records in the ledger and audits stored records on
// a schedule.
func main() {
	logger.SetService("worker")
	cfg := config.Load()
	if err := run(cfg); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		return errors.New("worker needs QUEUE_BACKEND=redis or nats; the api anchors in process with memory")
	}

	scheme, err := integrity.ParseScheme(cfg.IntegrityScheme)
	if err != nil {
		return err
	}
	signer, err := integrity.NewSigner(cfg.SecretKey, scheme)
	if err != nil {
		return errors.New("ATTENDANCE_SECRET_KEY must be set")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()
	if err := l.Verify(ctx); err != nil {
		return err
	}
	count, err := l.RecordCount(ctx)
	if err != nil {
		return err
	}
	logger.Info("ledger opened", "path", cfg.LedgerPath, "records", count)

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	q, err := queue.New(cfg.QueueBackend, redisClient.Client, cfg.NATSURL, "anchors")
	if err != nil {
		return err
	}
	if c, ok := q.(io.Closer); ok {
		defer c.Close()
	}

	svc := attendance.NewService(attendance.NewRepository(db.Client), signer, attendance.Options{})

	c := cron.New()
	err = c.AddFunc(cfg.AuditSchedule, func() {
		if rq, ok := q.(*queue.RedisQueue); ok {
			if n, err := rq.Len(ctx); err == nil {
				logger.Info("anchor backlog", "pending", n)
			}
		}
		audit(ctx, svc, l, cfg.AuditLimit)
	})
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	messages, err := q.Consume(ctx)
	if err != nil {
		return err
	}

	logger.Info("worker started, waiting for messages", "queue", cfg.QueueBackend, "audit", cfg.AuditSchedule)
	for msg := range messages {
		if msg.Type != queue.TypeAnchor {
			continue
		}
		id := string(msg.Body)
		receipt, err := svc.Anchor(ctx, l, id)
		switch {
		case errors.Is(err, attendance.ErrDigestMismatch):
			logger.Warn("record failed re-verification, rejected", "id", id)
		case err != nil:
			logger.Error("anchor failed", "id", id, "error", err)
		default:
			logger.Info("record anchored", "id", id, "index", receipt.Index, "tx", receipt.Tx)
		}
	}

	logger.Info("worker stopped")
	return nil
}

func audit(ctx context.Context, svc *attendance.Service, l ledger.Ledger, limit int) {
	if err := l.Verify(ctx); err != nil {
		logger.Error("ledger chain broken", "error", err)
	}
	report, err := svc.Audit(ctx, l, limit)
	if err != nil {
		logger.Error("audit failed", "error", err)
		return
	}
	if report.Clean() {
		logger.Info("audit clean", "checked", report.Checked)
		return
	}
	logger.Warn("audit found mismatches",
		"checked", report.Checked,
		"tampered", report.Tampered,
		"ledger_mismatch", report.LedgerMismatch,
		"orphaned", report.Orphaned)
}
