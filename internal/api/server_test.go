package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/campaign"
	"github.com/mailkite/mailkite/internal/config"
	"github.com/mailkite/mailkite/internal/db"
	"github.com/mailkite/mailkite/internal/metrics"
	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/repository"
)

type testServer struct {
	server    *Server
	campaigns *repository.CampaignRepository
	contacts  *repository.ContactRepository
	tracking  *repository.TrackingRepository
	userID    string
	listID    string
}

func newTestServer(t *testing.T) *testServer {
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
	tracking := repository.NewTrackingRepository(database.DB)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	userID := uuid.New().String()
	if _, err := database.Exec(`INSERT INTO users (id, email) VALUES (?, ?)`, userID, userID+"@example.com"); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	listID := uuid.New().String()
	if _, err := database.Exec(`INSERT INTO lists (id, user_id, name) VALUES (?, ?, ?)`, listID, userID, "list"); err != nil {
		t.Fatalf("failed to seed list: %v", err)
	}

	orchestrator := campaign.NewOrchestrator(campaigns, contacts, storage, logger)
	server := NewServer(orchestrator, campaigns, contacts, tracking, storage, metrics.New(),
		&config.ServerConfig{ListenAddr: ":0"}, logger)

	return &testServer{
		server:    server,
		campaigns: campaigns,
		contacts:  contacts,
		tracking:  tracking,
		userID:    userID,
		listID:    listID,
	}
}

func (ts *testServer) seedCampaign(t *testing.T, status models.CampaignStatus) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		UserID:      ts.userID,
		ListID:      ts.listID,
		Name:        "Launch",
		Subject:     "Hello",
		FromName:    "Acme",
		FromEmail:   "news@acme.test",
		HTMLContent: "<p>Hi</p>",
	}
	if err := ts.campaigns.Create(c); err != nil {
		t.Fatalf("failed to seed campaign: %v", err)
	}
	if status != models.CampaignDraft {
		if err := ts.campaigns.UpdateStatus(c.ID, status); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}
		c.Status = status
	}
	return c
}

func (ts *testServer) seedContact(t *testing.T) *models.Contact {
	t.Helper()
	c := &models.Contact{
		ListID: ts.listID,
		Email:  uuid.New().String() + "@example.com",
		Status: models.ContactSubscribed,
	}
	if err := ts.contacts.Create(c); err != nil {
		t.Fatalf("failed to seed contact: %v", err)
	}
	return c
}

func (ts *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCampaignStartEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.seedContact(t)
	ts.seedContact(t)
	c := ts.seedCampaign(t, models.CampaignDraft)

	rec := ts.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/start")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp StartResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", resp.Enqueued)
	}
	if resp.Status != string(models.CampaignSending) {
		t.Errorf("status = %q, want sending", resp.Status)
	}
}

func TestCampaignStartErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/campaigns/"+uuid.New().String()+"/start")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing campaign: status = %d, want 404", rec.Code)
	}

	sending := ts.seedCampaign(t, models.CampaignSending)
	rec = ts.do(t, http.MethodPost, "/api/v1/campaigns/"+sending.ID+"/start")
	if rec.Code != http.StatusConflict {
		t.Errorf("double start: status = %d, want 409", rec.Code)
	}
}

func TestCampaignPauseAndCancelEndpoints(t *testing.T) {
	ts := newTestServer(t)
	c := ts.seedCampaign(t, models.CampaignSending)

	rec := ts.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/pause")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	got, _ := ts.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignPaused {
		t.Errorf("status = %v, want paused", got.Status)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/pause")
	if rec.Code != http.StatusConflict {
		t.Errorf("pausing paused: status = %d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/campaigns/"+c.ID+"/cancel")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d", rec.Code)
	}
	got, _ = ts.campaigns.GetByID(c.ID)
	if got.Status != models.CampaignCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}
}

func TestCampaignStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	c := ts.seedCampaign(t, models.CampaignDraft)

	rec := ts.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.ID != c.ID || resp.Stats == nil {
		t.Errorf("resp = %+v, want stats for %s", resp, c.ID)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/campaigns/"+uuid.New().String()+"/stats")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing campaign: status = %d, want 404", rec.Code)
	}
}

func TestQueueAndHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("queue status = %d", rec.Code)
	}
	var qresp QueueResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &qresp); err != nil || qresp.Stats == nil {
		t.Fatalf("bad queue response: %v %s", err, rec.Body)
	}

	rec = ts.do(t, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var hresp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hresp); err != nil || hresp.Status != "ok" {
		t.Fatalf("bad health response: %v %s", err, rec.Body)
	}
}

func TestTrackingOpenServesPixelAndDedupes(t *testing.T) {
	ts := newTestServer(t)
	c := ts.seedCampaign(t, models.CampaignSending)
	contact := ts.seedContact(t)

	path := "/tracking/open/" + c.ID + "/" + contact.ID
	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodGet, path)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "image/png" {
			t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
		}
		if !bytes.Equal(rec.Body.Bytes(), trackingPixel) {
			t.Error("response is not the tracking pixel")
		}
	}

	// Three loads inside the dedupe window record one open.
	exists, err := ts.tracking.RecentOpenExists(c.ID, contact.ID, time.Now().Add(-time.Minute))
	if err != nil || !exists {
		t.Fatalf("open not recorded: exists=%v err=%v", exists, err)
	}
	stats, err := ts.campaigns.Stats(c.ID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Opened != 1 {
		t.Errorf("opened = %d, want 1 after dedupe", stats.Opened)
	}

	got, _ := ts.contacts.GetByID(contact.ID)
	if got.LastOpenAt == nil {
		t.Error("LastOpenAt not touched")
	}
}

func TestTrackingOpenUnknownIDsStillServesPixel(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/tracking/open/"+uuid.New().String()+"/"+uuid.New().String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, pixel must always be served", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), trackingPixel) {
		t.Error("response is not the tracking pixel")
	}
}

func TestTrackingClickRedirectsAndRecords(t *testing.T) {
	ts := newTestServer(t)
	c := ts.seedCampaign(t, models.CampaignSending)
	contact := ts.seedContact(t)

	target := "https://acme.test/offer?ref=mail"
	path := "/tracking/click/" + c.ID + "/" + contact.ID + "?url=" + url.QueryEscape(target)

	rec := ts.do(t, http.MethodGet, path)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != target {
		t.Errorf("Location = %q, want %q", loc, target)
	}

	stats, _ := ts.campaigns.Stats(c.ID)
	if stats.Clicked != 1 {
		t.Errorf("clicked = %d, want 1", stats.Clicked)
	}
	got, _ := ts.contacts.GetByID(contact.ID)
	if got.LastClickAt == nil {
		t.Error("LastClickAt not touched")
	}
}

func TestTrackingClickRejectsBadTargets(t *testing.T) {
	ts := newTestServer(t)
	base := "/tracking/click/" + uuid.New().String() + "/" + uuid.New().String()

	rec := ts.do(t, http.MethodGet, base)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, base+"?url="+url.QueryEscape("javascript:alert(1)"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("javascript url: status = %d, want 400", rec.Code)
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	ts := newTestServer(t)
	contact := ts.seedContact(t)
	stored, _ := ts.contacts.GetByID(contact.ID)

	rec := ts.do(t, http.MethodGet, "/unsubscribe/"+stored.UnsubscribeToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("page status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(stored.Email)) {
		t.Error("confirmation page does not name the contact")
	}

	// The GET alone must not unsubscribe.
	got, _ := ts.contacts.GetByID(contact.ID)
	if got.Status != models.ContactSubscribed {
		t.Fatalf("status after GET = %v, want still subscribed", got.Status)
	}

	rec = ts.do(t, http.MethodPost, "/unsubscribe/"+stored.UnsubscribeToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d", rec.Code)
	}
	got, _ = ts.contacts.GetByID(contact.ID)
	if got.Status != models.ContactUnsubscribed {
		t.Errorf("status = %v, want unsubscribed", got.Status)
	}

	// Idempotent
	rec = ts.do(t, http.MethodPost, "/unsubscribe/"+stored.UnsubscribeToken)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat post status = %d, want 200", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/unsubscribe/"+uuid.New().String())
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token: status = %d, want 404", rec.Code)
	}
}
