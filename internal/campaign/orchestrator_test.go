package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/db"
	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/repository"
)

type fixture struct {
	orchestrator *Orchestrator
	campaigns    *repository.CampaignRepository
	contacts     *repository.ContactRepository
	storage      *queue.BoltStorage
	userID       string
	listID       string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	storage, err := queue.NewBoltStorage(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { storage.Close() })

	campaigns := repository.NewCampaignRepository(database.DB)
	contacts := repository.NewContactRepository(database.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userID := uuid.New().String()
	if _, err := database.Exec(`INSERT INTO users (id, email) VALUES (?, ?)`, userID, userID+"@example.com"); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	listID := uuid.New().String()
	if _, err := database.Exec(`INSERT INTO lists (id, user_id, name) VALUES (?, ?, ?)`, listID, userID, "list"); err != nil {
		t.Fatalf("failed to seed list: %v", err)
	}

	return &fixture{
		orchestrator: NewOrchestrator(campaigns, contacts, storage, logger),
		campaigns:    campaigns,
		contacts:     contacts,
		storage:      storage,
		userID:       userID,
		listID:       listID,
	}
}

func (f *fixture) seedCampaign(t *testing.T, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		UserID:      f.userID,
		ListID:      f.listID,
		Name:        "Launch",
		Subject:     "Hello",
		FromName:    "Acme",
		FromEmail:   "news@acme.test",
		HTMLContent: "<p>Hi</p>",
	}
	if err := f.campaigns.Create(c); err != nil {
		t.Fatalf("failed to seed campaign: %v", err)
	}
	if status != models.CampaignDraft {
		if err := f.campaigns.UpdateStatus(c.ID, status); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}
		c.Status = status
	}
	return c
}

func (f *fixture) seedContacts(t *testing.T, n int, status models.ContactStatus) {
	t.Helper()
	for i := 0; i < n; i++ {
		c := &models.Contact{
			ListID: f.listID,
			Email:  uuid.New().String() + "@example.com",
			Status: status,
		}
		if err := f.contacts.Create(c); err != nil {
			t.Fatalf("failed to seed contact: %v", err)
		}
	}
}

func TestStartEnqueuesAudienceSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seedContacts(t, 3, models.ContactSubscribed)
	f.seedContacts(t, 2, models.ContactUnsubscribed)
	c := f.seedCampaign(t, models.CampaignDraft)

	n, err := f.orchestrator.Start(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n != 3 {
		t.Errorf("enqueued = %d, want only the 3 subscribed contacts", n)
	}

	got, _ := f.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignSending {
		t.Errorf("status = %v, want sending", got.Status)
	}
	if got.PendingJobs != 3 {
		t.Errorf("pending jobs = %d, want 3", got.PendingJobs)
	}

	stats, err := f.storage.Stats(context.Background())
	if err != nil {
		t.Fatalf("queue stats failed: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("queue pending = %d, want 3", stats.Pending)
	}

	// Jobs carry positional sequence indexes for rotation.
	jobs, err := f.storage.List(context.Background(), queue.ListFilter{CampaignID: c.ID})
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	seen := map[int]bool{}
	for _, j := range jobs {
		seen[j.SequenceIndex] = true
	}
	for i := 0; i < 3; i++ {
		if !seen[i] {
			t.Errorf("missing sequence index %d", i)
		}
	}
}

func TestStartEmptyAudienceFinishesImmediately(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, models.CampaignDraft)

	n, err := f.orchestrator.Start(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n != 0 {
		t.Errorf("enqueued = %d, want 0", n)
	}

	got, _ := f.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignFinished {
		t.Errorf("status = %v, want finished with nothing to send", got.Status)
	}
}

func TestStartPreconditions(t *testing.T) {
	f := newFixture(t)

	t.Run("missing campaign", func(t *testing.T) {
		_, err := f.orchestrator.Start(context.Background(), uuid.New().String())
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("already sending", func(t *testing.T) {
		c := f.seedCampaign(t, models.CampaignSending)
		_, err := f.orchestrator.Start(context.Background(), c.ID)
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("no list", func(t *testing.T) {
		c := &models.Campaign{
			UserID:    f.userID,
			Name:      "No audience",
			Subject:   "Hello",
			FromEmail: "news@acme.test",
		}
		if err := f.campaigns.Create(c); err != nil {
			t.Fatalf("failed to seed campaign: %v", err)
		}
		_, err := f.orchestrator.Start(context.Background(), c.ID)
		if !errors.Is(err, ErrNoList) {
			t.Errorf("err = %v, want ErrNoList", err)
		}
	})
}

func TestPauseOnlySending(t *testing.T) {
	f := newFixture(t)

	sending := f.seedCampaign(t, models.CampaignSending)
	if err := f.orchestrator.Pause(context.Background(), sending.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	got, _ := f.campaigns.GetByID(sending.ID)
	if got.Status != models.CampaignPaused {
		t.Errorf("status = %v, want paused", got.Status)
	}

	draft := f.seedCampaign(t, models.CampaignDraft)
	if err := f.orchestrator.Pause(context.Background(), draft.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("pausing a draft: err = %v, want ErrInvalidState", err)
	}
}

func TestCancelRejectsTerminalStates(t *testing.T) {
	f := newFixture(t)

	paused := f.seedCampaign(t, models.CampaignPaused)
	if err := f.orchestrator.Cancel(context.Background(), paused.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	got, _ := f.campaigns.GetByID(paused.ID)
	if got.Status != models.CampaignCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}

	finished := f.seedCampaign(t, models.CampaignFinished)
	if err := f.orchestrator.Cancel(context.Background(), finished.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancelling finished: err = %v, want ErrInvalidState", err)
	}
	if err := f.orchestrator.Cancel(context.Background(), paused.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancelling twice: err = %v, want ErrInvalidState", err)
	}
}

func TestStartDueStartsScheduledCampaigns(t *testing.T) {
	f := newFixture(t)
	f.seedContacts(t, 2, models.ContactSubscribed)

	past := time.Now().Add(-time.Hour)
	due := f.seedCampaign(t, models.CampaignDraft)
	due.Status = models.CampaignScheduled
	due.ScheduledAt = &past
	if err := f.campaigns.Update(due); err != nil {
		t.Fatalf("failed to schedule campaign: %v", err)
	}

	future := time.Now().Add(time.Hour)
	notYet := f.seedCampaign(t, models.CampaignDraft)
	notYet.Status = models.CampaignScheduled
	notYet.ScheduledAt = &future
	if err := f.campaigns.Update(notYet); err != nil {
		t.Fatalf("failed to schedule campaign: %v", err)
	}

	f.orchestrator.StartDue(context.Background(), time.Now())

	started, _ := f.campaigns.GetByID(due.ID)
	if started.Status != models.CampaignSending {
		t.Errorf("due campaign status = %v, want sending", started.Status)
	}
	waiting, _ := f.campaigns.GetByID(notYet.ID)
	if waiting.Status != models.CampaignScheduled {
		t.Errorf("future campaign status = %v, want still scheduled", waiting.Status)
	}
}
