// Package worker runs the delivery pool: it drains the job queue, resolves
// each job against live campaign and contact state, applies credential
// quotas and rotation, renders and sends the message, and records the
// outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mailkite/mailkite/internal/bounce"
	"github.com/mailkite/mailkite/internal/metrics"
	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/ratelimit"
	"github.com/mailkite/mailkite/internal/render"
	"github.com/mailkite/mailkite/internal/repository"
	"github.com/mailkite/mailkite/internal/rotation"
	"github.com/mailkite/mailkite/internal/transport"
)

// MailerFactory builds a Mailer for a sending credential. Swappable in
// tests.
type MailerFactory func(profile *models.SmtpProfile) transport.Mailer

// Config contains delivery engine configuration
type Config struct {
	Workers           int
	PollInterval      time.Duration
	DispatchPerMinute int
	MaxRetries        int
	RetryInterval     time.Duration
	SendTimeout       time.Duration
	RateWindow        time.Duration
}

// Repositories bundles the persistence the engine reads and writes.
type Repositories struct {
	Campaigns *repository.CampaignRepository
	Contacts  *repository.ContactRepository
	Profiles  *repository.ProfileRepository
	Sends     *repository.SendRepository
	Bounces   *repository.BounceRepository
}

// Engine is the delivery worker pool.
type Engine struct {
	queue     queue.Queue
	repos     Repositories
	limiter   ratelimit.Store
	renderer  *render.Renderer
	newMailer MailerFactory
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config

	mailersMu sync.Mutex
	mailers   map[string]transport.Mailer

	// pace is shared by all workers; each tick admits one dispatch attempt,
	// which caps global throughput regardless of pool size.
	pace *time.Ticker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(q queue.Queue, repos Repositories, limiter ratelimit.Store, renderer *render.Renderer, newMailer MailerFactory, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.DispatchPerMinute <= 0 {
		cfg.DispatchPerMinute = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Hour
	}

	return &Engine{
		queue:     q,
		repos:     repos,
		limiter:   limiter,
		renderer:  renderer,
		newMailer: newMailer,
		metrics:   m,
		logger:    logger.With("component", "worker"),
		cfg:       cfg,
		mailers:   make(map[string]transport.Mailer),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the worker pool.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting delivery engine",
		"workers", e.cfg.Workers,
		"dispatch_per_minute", e.cfg.DispatchPerMinute,
	)

	e.pace = time.NewTicker(time.Minute / time.Duration(e.cfg.DispatchPerMinute))

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
}

// Stop stops the engine gracefully, letting in-flight sends finish.
func (e *Engine) Stop() {
	e.logger.Info("stopping delivery engine")
	close(e.stopCh)
	e.wg.Wait()
	if e.pace != nil {
		e.pace.Stop()
	}
	e.logger.Info("delivery engine stopped")
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	logger := e.logger.With("worker_id", id)
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-e.pace.C:
			if !e.processOne(ctx, logger) {
				// Queue empty, back off before competing for the next tick
				select {
				case <-ctx.Done():
					return
				case <-e.stopCh:
					return
				case <-time.After(e.cfg.PollInterval):
				}
			}
		}
	}
}

// processOne handles a single job. Returns false when the queue was empty.
func (e *Engine) processOne(ctx context.Context, logger *slog.Logger) bool {
	job, err := e.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue job", "error", err)
		return true
	}
	if job == nil {
		return false
	}

	logger = logger.With("job_id", job.ID, "campaign_id", job.CampaignID, "contact_id", job.ContactID)

	// Campaign state is re-checked on every attempt, so pausing or
	// cancelling takes effect for jobs already queued.
	campaign, err := e.repos.Campaigns.GetByID(job.CampaignID)
	if err != nil {
		e.deferInternal(ctx, logger, job, fmt.Errorf("load campaign: %w", err))
		return true
	}
	if campaign == nil {
		e.skip(ctx, logger, job, "campaign_missing", "")
		return true
	}
	if !campaign.Status.Dispatchable() {
		e.skip(ctx, logger, job, "campaign_"+string(campaign.Status), campaign.ID)
		return true
	}

	contact, err := e.repos.Contacts.GetByID(job.ContactID)
	if err != nil {
		e.deferInternal(ctx, logger, job, fmt.Errorf("load contact: %w", err))
		return true
	}
	if contact == nil {
		e.skip(ctx, logger, job, "contact_missing", campaign.ID)
		return true
	}
	if contact.Status != models.ContactSubscribed {
		e.skip(ctx, logger, job, "contact_"+string(contact.Status), campaign.ID)
		return true
	}

	profile, err := e.resolveProfile(campaign)
	if err != nil {
		e.deferInternal(ctx, logger, job, fmt.Errorf("resolve credential: %w", err))
		return true
	}
	if profile == nil {
		logger.Error("no sending credential for campaign")
		job.LastError = "no sending credential configured"
		e.deadLetter(ctx, logger, job, campaign.ID, "no_credential")
		return true
	}

	res, err := e.limiter.TryAcquire(ctx, profile.ID, profile.RateLimit, e.cfg.RateWindow)
	if err != nil {
		e.deferInternal(ctx, logger, job, fmt.Errorf("rate limit check: %w", err))
		return true
	}
	if !res.Allowed {
		// Quota exhausted for this credential's window. Not a failure: the
		// retry counter stays untouched.
		retryAfter := res.RetryAfter
		if retryAfter <= 0 {
			retryAfter = e.cfg.PollInterval
		}
		job.Status = queue.StatusDeferred
		job.NextRetryAt = time.Now().Add(retryAfter)
		if err := e.queue.Update(ctx, job); err != nil {
			logger.Error("failed to defer job", "error", err)
		}
		e.metrics.RateLimitRejectedTotal.WithLabelValues(profile.ID).Inc()
		e.metrics.JobsDeferredTotal.WithLabelValues("rate_limit").Inc()
		logger.Debug("credential quota reached, deferring", "retry_after", retryAfter)
		return true
	}

	msg := e.buildMessage(campaign, contact, profile, job.SequenceIndex)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	messageID, err := e.mailerFor(profile).Send(sendCtx, msg)
	cancel()

	if err == nil {
		e.recordSend(logger, campaign, contact, msg, models.SendSent, "")

		job.Status = queue.StatusSent
		if err := e.queue.Update(ctx, job); err != nil {
			logger.Error("failed to update job status", "error", err)
		}
		e.finalize(logger, campaign.ID)
		e.metrics.JobsSentTotal.Inc()
		logger.Info("delivered", "to", contact.Email, "message_id", messageID)
		return true
	}

	e.handleFailure(ctx, logger, job, campaign, contact, msg, err)
	return true
}

func (e *Engine) handleFailure(ctx context.Context, logger *slog.Logger, job *queue.DeliveryJob, campaign *models.Campaign, contact *models.Contact, msg *transport.Message, sendErr error) {
	logger.Warn("delivery failed", "error", sendErr, "retry_count", job.RetryCount)

	e.recordSend(logger, campaign, contact, msg, models.SendFailed, sendErr.Error())

	if bounce.IsHardBounce(sendErr) {
		if err := e.repos.Bounces.Create(&models.Bounce{
			CampaignID: campaign.ID,
			ContactID:  contact.ID,
			Type:       models.BounceHard,
			Reason:     sendErr.Error(),
		}); err != nil {
			logger.Error("failed to record bounce", "error", err)
		}
		if err := e.repos.Contacts.MarkBounced(contact.ID); err != nil {
			logger.Error("failed to mark contact bounced", "error", err)
		}
		e.metrics.BouncesTotal.WithLabelValues(string(models.BounceHard)).Inc()
		logger.Info("hard bounce recorded", "contact", contact.Email)
	}

	job.RetryCount++
	job.LastError = sendErr.Error()

	if transport.IsTemporaryError(sendErr) && job.RetryCount < e.cfg.MaxRetries {
		backoff := e.calculateBackoff(job.RetryCount)
		job.Status = queue.StatusDeferred
		job.NextRetryAt = time.Now().Add(backoff)

		if err := e.queue.Update(ctx, job); err != nil {
			logger.Error("failed to defer job", "error", err)
		}
		e.metrics.JobsDeferredTotal.WithLabelValues("transport").Inc()
		logger.Info("deferred for retry",
			"retry_count", job.RetryCount,
			"next_retry_at", job.NextRetryAt,
			"backoff", backoff,
		)
		return
	}

	e.deadLetter(ctx, logger, job, campaign.ID, "transport")
}

// skip marks a job terminally skipped. campaignID is empty when the campaign
// row is gone and there is no counter left to decrement.
func (e *Engine) skip(ctx context.Context, logger *slog.Logger, job *queue.DeliveryJob, reason, campaignID string) {
	job.Status = queue.StatusSkipped
	job.LastError = reason
	if err := e.queue.Update(ctx, job); err != nil {
		logger.Error("failed to mark job skipped", "error", err)
	}
	if campaignID != "" {
		e.finalize(logger, campaignID)
	}
	e.metrics.JobsSkippedTotal.WithLabelValues(reason).Inc()
	logger.Debug("job skipped", "reason", reason)
}

func (e *Engine) deadLetter(ctx context.Context, logger *slog.Logger, job *queue.DeliveryJob, campaignID, reason string) {
	if err := e.queue.MoveToDLQ(ctx, job); err != nil {
		logger.Error("failed to dead-letter job", "error", err)
	}
	e.finalize(logger, campaignID)
	e.metrics.JobsFailedTotal.WithLabelValues(reason).Inc()
	logger.Error("job dead-lettered", "reason", reason, "retry_count", job.RetryCount)
}

// deferInternal requeues a job after an infrastructure error without
// touching the retry counter.
func (e *Engine) deferInternal(ctx context.Context, logger *slog.Logger, job *queue.DeliveryJob, err error) {
	logger.Error("job processing error, requeueing", "error", err)
	job.Status = queue.StatusDeferred
	job.NextRetryAt = time.Now().Add(e.cfg.RetryInterval)
	if uerr := e.queue.Update(ctx, job); uerr != nil {
		logger.Error("failed to requeue job", "error", uerr)
	}
	e.metrics.JobsDeferredTotal.WithLabelValues("internal").Inc()
}

// finalize decrements the campaign's outstanding-job counter and finishes
// the campaign once it reaches zero.
func (e *Engine) finalize(logger *slog.Logger, campaignID string) {
	remaining, err := e.repos.Campaigns.DecrementPending(campaignID)
	if err != nil {
		logger.Error("failed to decrement pending jobs", "error", err)
		return
	}
	if remaining > 0 {
		return
	}
	finished, err := e.repos.Campaigns.FinishIfComplete(campaignID)
	if err != nil {
		logger.Error("failed to finish campaign", "error", err)
		return
	}
	if finished {
		logger.Info("campaign finished", "campaign_id", campaignID)
	}
}

func (e *Engine) resolveProfile(campaign *models.Campaign) (*models.SmtpProfile, error) {
	if campaign.SmtpProfileID != "" {
		return e.repos.Profiles.GetByID(campaign.SmtpProfileID)
	}
	return e.repos.Profiles.GetDefault(campaign.UserID)
}

// buildMessage resolves rotation and placeholders for one recipient.
func (e *Engine) buildMessage(campaign *models.Campaign, contact *models.Contact, profile *models.SmtpProfile, seq int) *transport.Message {
	subject := rotation.PickOr(campaign.SubjectRotation, seq, campaign.Subject)
	sender := rotation.PickOr(campaign.FromRotation, seq, models.SenderVariant{
		Name:  campaign.FromName,
		Email: campaign.FromEmail,
	})
	if sender.Email == "" {
		sender.Email = profile.FromEmail
		if sender.Name == "" {
			sender.Name = profile.FromName
		}
	}

	msg := &transport.Message{
		FromName:  sender.Name,
		FromEmail: sender.Email,
		ReplyTo:   profile.ReplyTo,
		To:        contact.Email,
		Subject:   e.renderer.Render(subject, campaign, contact),
		HTML:      e.renderer.Render(campaign.HTMLContent, campaign, contact),
	}
	if campaign.TextContent != "" {
		msg.Text = e.renderer.Render(campaign.TextContent, campaign, contact)
	}
	return msg
}

func (e *Engine) recordSend(logger *slog.Logger, campaign *models.Campaign, contact *models.Contact, msg *transport.Message, status models.SendStatus, sendErr string) {
	if err := e.repos.Sends.Create(&models.EmailSend{
		CampaignID: campaign.ID,
		ContactID:  contact.ID,
		Subject:    msg.Subject,
		FromName:   msg.FromName,
		FromEmail:  msg.FromEmail,
		Status:     status,
		Error:      sendErr,
	}); err != nil {
		logger.Error("failed to record send", "error", err)
	}
}

func (e *Engine) mailerFor(profile *models.SmtpProfile) transport.Mailer {
	e.mailersMu.Lock()
	defer e.mailersMu.Unlock()

	if m, ok := e.mailers[profile.ID]; ok {
		return m
	}
	m := e.newMailer(profile)
	e.mailers[profile.ID] = m
	return m
}

// calculateBackoff calculates exponential backoff duration
func (e *Engine) calculateBackoff(retryCount int) time.Duration {
	// Exponential backoff: retry_interval * 2^(retry_count-1), capped at
	// one hour
	multiplier := 1 << (retryCount - 1)
	if multiplier > 12 {
		multiplier = 12
	}

	backoff := time.Duration(multiplier) * e.cfg.RetryInterval
	if backoff > time.Hour {
		return time.Hour
	}
	return backoff
}
