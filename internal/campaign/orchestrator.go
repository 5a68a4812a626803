// Package campaign drives the campaign lifecycle: starting a campaign
// snapshots its audience into delivery jobs, pausing and cancelling flip the
// status the delivery worker consults before each send.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/repository"
)

var (
	// ErrNotFound is returned when the campaign does not exist.
	ErrNotFound = errors.New("campaign not found")
	// ErrInvalidState is returned when the campaign's current status does
	// not allow the requested transition.
	ErrInvalidState = errors.New("campaign state does not allow this operation")
	// ErrNoList is returned when starting a campaign with no list attached.
	ErrNoList = errors.New("campaign has no contact list")
)

// Orchestrator owns campaign lifecycle transitions and audience snapshots.
type Orchestrator struct {
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
	queue     queue.Queue
	logger    *slog.Logger
}

// NewOrchestrator creates a campaign orchestrator.
func NewOrchestrator(campaigns *repository.CampaignRepository, contacts *repository.ContactRepository, q queue.Queue, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		campaigns: campaigns,
		contacts:  contacts,
		queue:     q,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Start snapshots the campaign's subscribed audience and enqueues one
// delivery job per contact. Contacts that unsubscribe after this point are
// still re-checked by the worker at send time. Returns the number of jobs
// enqueued.
func (o *Orchestrator) Start(ctx context.Context, id string) (int, error) {
	c, err := o.campaigns.GetByID(id)
	if err != nil {
		return 0, fmt.Errorf("failed to load campaign: %w", err)
	}
	if c == nil {
		return 0, ErrNotFound
	}
	if !c.Status.CanStart() {
		return 0, fmt.Errorf("%w: cannot start a %s campaign", ErrInvalidState, c.Status)
	}
	if c.ListID == "" {
		return 0, ErrNoList
	}

	audience, err := o.contacts.ListSubscribed(c.ListID)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot audience: %w", err)
	}

	started, err := o.campaigns.MarkStarted(id, len(audience))
	if err != nil {
		return 0, fmt.Errorf("failed to mark campaign started: %w", err)
	}
	if !started {
		// Lost a race with a concurrent start.
		return 0, fmt.Errorf("%w: campaign already started", ErrInvalidState)
	}

	if len(audience) == 0 {
		if _, err := o.campaigns.FinishIfComplete(id); err != nil {
			return 0, fmt.Errorf("failed to finish empty campaign: %w", err)
		}
		o.logger.Info("campaign started with empty audience", "campaign_id", id)
		return 0, nil
	}

	now := time.Now()
	jobs := make([]*queue.DeliveryJob, len(audience))
	for i, contact := range audience {
		jobs[i] = &queue.DeliveryJob{
			ID:            uuid.New().String(),
			CampaignID:    id,
			ContactID:     contact.ID,
			SequenceIndex: i,
			Status:        queue.StatusPending,
			CreatedAt:     now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt:     now,
		}
	}
	if err := o.queue.EnqueueBatch(ctx, jobs); err != nil {
		return 0, fmt.Errorf("failed to enqueue delivery jobs: %w", err)
	}

	o.logger.Info("campaign started", "campaign_id", id, "jobs", len(jobs))
	return len(jobs), nil
}

// Pause suspends a sending campaign. Queued jobs stay in the queue; the
// worker drops each one as it surfaces because the campaign is no longer
// dispatchable.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	return o.transition(id, models.CampaignPaused, func(s models.CampaignStatus) bool {
		return s.CanPause()
	})
}

// Cancel terminally stops a campaign in any non-terminal state.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	return o.transition(id, models.CampaignCancelled, func(s models.CampaignStatus) bool {
		return s.CanCancel()
	})
}

func (o *Orchestrator) transition(id string, to models.CampaignStatus, allowed func(models.CampaignStatus) bool) error {
	c, err := o.campaigns.GetByID(id)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if c == nil {
		return ErrNotFound
	}
	if !allowed(c.Status) {
		return fmt.Errorf("%w: cannot move a %s campaign to %s", ErrInvalidState, c.Status, to)
	}
	if err := o.campaigns.UpdateStatus(id, to); err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	o.logger.Info("campaign status changed", "campaign_id", id, "from", c.Status, "to", to)
	return nil
}

// StartDue starts every scheduled campaign whose schedule time has passed.
// A failure on one campaign does not stop the rest.
func (o *Orchestrator) StartDue(ctx context.Context, now time.Time) {
	due, err := o.campaigns.ListScheduledDue(now)
	if err != nil {
		o.logger.Error("failed to list due campaigns", "error", err)
		return
	}
	for _, c := range due {
		if _, err := o.Start(ctx, c.ID); err != nil {
			o.logger.Error("failed to start scheduled campaign", "campaign_id", c.ID, "error", err)
		}
	}
}

// Scheduler periodically starts due campaigns until Stop is called.
type Scheduler struct {
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(o *Orchestrator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		orchestrator: o,
		interval:     interval,
		logger:       logger.With("component", "scheduler"),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("scheduler started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case now := <-ticker.C:
				s.orchestrator.StartDue(ctx, now)
			}
		}
	}()
}

// Stop halts the scheduling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
