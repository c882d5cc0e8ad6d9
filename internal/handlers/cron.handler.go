package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/unveilhq/guest-messenger/internal/model"
	"github.com/unveilhq/guest-messenger/internal/processor"
	xhttp "github.com/unveilhq/guest-messenger/pkg/http"
	"github.com/unveilhq/guest-messenger/pkg/logger"
)

type ProcessorRunner interface {
	Run(ctx context.Context, opts processor.RunOptions) (*processor.RunReport, error)
}

type PendingReader interface {
	CountPending(ctx context.Context, now time.Time) (int64, error)
	PendingSample(ctx context.Context, limit int, now time.Time) ([]*model.ScheduledMessage, error)
}

// CronConfig is what the entry point needs to know about the environment.
type CronConfig struct {
	Secret     string
	Production bool
	BatchLimit int
}

// CronHandler is the scheduler-facing entry point. An external cron (or an
// operator with the secret) hits it to drain due messages; it also exposes
// read-only probes for health and queue depth.
type CronHandler struct {
	runner  ProcessorRunner
	pending PendingReader
	config  CronConfig
}

func RegisterCronRoutes(e *router.Group, h *CronHandler) {
	e.GET("/cron/process-scheduled", h.ProcessScheduled)
	e.POST("/cron/process-scheduled", h.ProcessScheduled)
}

func NewCronHandler(runner ProcessorRunner, pending PendingReader, config CronConfig) *CronHandler {
	return &CronHandler{
		runner:  runner,
		pending: pending,
		config:  config,
	}
}

type cronResponse struct {
	Success        bool                      `json:"success"`
	JobID          string                    `json:"jobId"`
	TotalProcessed int                       `json:"totalProcessed"`
	Successful     int                       `json:"successful"`
	Failed         int                       `json:"failed"`
	IsDryRun       bool                      `json:"isDryRun"`
	Details        []processor.MessageResult `json:"details"`
	Timestamp      string                    `json:"timestamp"`
}

type cronErrorResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"jobId,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (h *CronHandler) ProcessScheduled(ctx *xhttp.RequestCtx) {
	now := time.Now().UTC()

	// The health probe is unauthenticated so load balancers can use it.
	if query(ctx, "health") == "1" {
		writeJSON(ctx, xhttp.StatusOK, map[string]string{
			"status":    "healthy",
			"timestamp": now.Format(time.RFC3339),
		})
		return
	}

	if !h.authorized(ctx) {
		writeJSON(ctx, xhttp.StatusUnauthorized, cronErrorResponse{
			Message:   "unauthorized",
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	if query(ctx, "status") == "1" {
		h.statusProbe(ctx, now)
		return
	}

	jobID := newJobID(now)
	dryRun := query(ctx, "dryRun") == "1"
	mode := query(ctx, "mode")

	logger.Info("Cron tick accepted", "job_id", jobID, "mode", mode, "dry_run", dryRun)

	report, err := h.runner.Run(ctx, processor.RunOptions{
		Limit:  h.config.BatchLimit,
		Now:    now,
		DryRun: dryRun,
	})
	if err != nil {
		// Nothing was claimed; the scheduler should retry this tick.
		logger.Error("Cron tick failed before dispatch", "job_id", jobID, "error", err)
		writeJSON(ctx, xhttp.StatusInternalServerError, cronErrorResponse{
			JobID:     jobID,
			Message:   "failed to process scheduled messages",
			Details:   err.Error(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	// Partial failure is still a completed tick: per-message outcomes are in
	// the details and the rows are finalized, so the scheduler must not retry.
	writeJSON(ctx, xhttp.StatusOK, cronResponse{
		Success:        true,
		JobID:          jobID,
		TotalProcessed: report.TotalProcessed,
		Successful:     report.Successful,
		Failed:         report.Failed,
		IsDryRun:       report.IsDryRun,
		Details:        report.Details,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *CronHandler) statusProbe(ctx *xhttp.RequestCtx, now time.Time) {
	if h.config.Production {
		writeJSON(ctx, xhttp.StatusForbidden, cronErrorResponse{
			Message:   "status probe is disabled in production",
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	count, err := h.pending.CountPending(ctx, now)
	if err != nil {
		writeJSON(ctx, xhttp.StatusInternalServerError, cronErrorResponse{
			Message:   "failed to read pending queue",
			Details:   err.Error(),
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	sample, err := h.pending.PendingSample(ctx, 5, now)
	if err != nil {
		writeJSON(ctx, xhttp.StatusInternalServerError, cronErrorResponse{
			Message:   "failed to read pending queue",
			Details:   err.Error(),
			Timestamp: now.Format(time.RFC3339),
		})
		return
	}

	type pendingRow struct {
		ID          int64  `json:"id"`
		EventID     int64  `json:"eventId"`
		MessageType string `json:"messageType"`
		SendAt      string `json:"sendAt"`
	}
	rows := make([]pendingRow, len(sample))
	for i, m := range sample {
		rows[i] = pendingRow{
			ID:          m.ID,
			EventID:     m.EventID,
			MessageType: string(m.MessageType),
			SendAt:      m.SendAt.Format(time.RFC3339),
		}
	}

	writeJSON(ctx, xhttp.StatusOK, map[string]interface{}{
		"success":   true,
		"pending":   count,
		"sample":    rows,
		"timestamp": now.Format(time.RFC3339),
	})
}

// authorized accepts the shared secret via x-cron-key, a bearer token, or the
// hosted-cron user agent carrying the secret as a query key.
func (h *CronHandler) authorized(ctx *xhttp.RequestCtx) bool {
	secret := h.config.Secret
	if secret == "" {
		logger.Warn("Cron secret is not configured, rejecting request")
		return false
	}

	if string(ctx.Request.Header.Peek("x-cron-key")) == secret {
		return true
	}

	auth := string(ctx.Request.Header.Peek("Authorization"))
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == secret {
		return true
	}

	ua := string(ctx.Request.Header.UserAgent())
	if strings.HasPrefix(ua, "vercel-cron/") && query(ctx, "key") == secret {
		return true
	}

	return false
}

func newJobID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return "job_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}
