package render

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/mailkite/mailkite/internal/models"
)

func testCampaign() *models.Campaign {
	return &models.Campaign{ID: "camp-1"}
}

func testContact() *models.Contact {
	fields, _ := models.ParseCustomFields(`{"company": "Acme", "plan": "pro"}`)
	return &models.Contact{
		ID:               "contact-1",
		Email:            "jane@example.com",
		FirstName:        "Jane",
		LastName:         "Doe",
		UnsubscribeToken: "tok-123",
		CustomFields:     fields,
	}
}

func newTestRenderer() *Renderer {
	return New("https://track.test/tracking", "https://app.test/api/unsubscribe")
}

func TestRenderContactPlaceholders(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("Hi {{first_name}} {{last_name}} <{{email}}>", testCampaign(), testContact())
	want := "Hi Jane Doe <jane@example.com>"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderMissingValuesEmpty(t *testing.T) {
	r := newTestRenderer()
	contact := testContact()
	contact.FirstName = ""
	contact.LastName = ""

	got := r.Render("Hi {{first_name}}{{last_name}}!", testCampaign(), contact)
	if got != "Hi !" {
		t.Errorf("Render() = %q, want %q", got, "Hi !")
	}
}

func TestRenderUnknownKeyResolvesEmpty(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("Hello {{no_such_field}}", testCampaign(), testContact())
	if got != "Hello " {
		t.Errorf("Render() = %q, absent key must resolve to empty string", got)
	}
}

func TestRenderCustomFields(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("{{company}} ({{plan}})", testCampaign(), testContact())
	if got != "Acme (pro)" {
		t.Errorf("Render() = %q, want %q", got, "Acme (pro)")
	}
}

func TestRenderUnsubscribeLink(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("{{unsubscribe_link}}", testCampaign(), testContact())
	want := "https://app.test/api/unsubscribe/tok-123"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderTrackingPixel(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("<p>Hi</p>{{tracking_pixel}}", testCampaign(), testContact())
	if !strings.Contains(got, `<img src="https://track.test/tracking/open/camp-1/contact-1"`) {
		t.Errorf("Render() = %q, missing pixel image", got)
	}
	if !strings.Contains(got, `width="1" height="1"`) {
		t.Errorf("Render() = %q, pixel not 1x1", got)
	}
}

func TestRenderClickRewriting(t *testing.T) {
	r := newTestRenderer()

	html := `<a href="https://example.com/offer">Offer</a> and <a class="x" href='https://example.com/two'>Two</a>`
	got := r.Render(html, testCampaign(), testContact())

	hrefs := regexp.MustCompile(`href=["']([^"']+)["']`).FindAllStringSubmatch(got, -1)
	if len(hrefs) != 2 {
		t.Fatalf("rewritten anchors = %d, want 2", len(hrefs))
	}

	targets := []string{"https://example.com/offer", "https://example.com/two"}
	for i, m := range hrefs {
		prefix := "https://track.test/tracking/click/camp-1/contact-1?url="
		if !strings.HasPrefix(m[1], prefix) {
			t.Errorf("href %d = %q, want prefix %q", i, m[1], prefix)
			continue
		}
		decoded, err := url.QueryUnescape(strings.TrimPrefix(m[1], prefix))
		if err != nil {
			t.Errorf("href %d not decodable: %v", i, err)
			continue
		}
		if decoded != targets[i] {
			t.Errorf("href %d decodes to %q, want %q", i, decoded, targets[i])
		}
	}
}

func TestRenderClickKeepsOtherAttributes(t *testing.T) {
	r := newTestRenderer()

	got := r.Render(`<a class="btn" href="https://example.com" target="_blank">Go</a>`, testCampaign(), testContact())
	if !strings.Contains(got, `class="btn"`) || !strings.Contains(got, `target="_blank"`) {
		t.Errorf("Render() = %q, anchor attributes dropped", got)
	}
}

func TestRenderClickRewritesHrefNotOtherAttributes(t *testing.T) {
	r := newTestRenderer()

	got := r.Render(`<a title="https://example.com" href="https://example.com">Go</a>`, testCampaign(), testContact())
	if !strings.Contains(got, `title="https://example.com"`) {
		t.Errorf("Render() = %q, title attribute was rewritten", got)
	}
	if !strings.Contains(got, `href="https://track.test/tracking/click/camp-1/contact-1?url=`) {
		t.Errorf("Render() = %q, href not rewritten", got)
	}
}

func TestRenderSubjectHasNoAnchors(t *testing.T) {
	r := newTestRenderer()

	got := r.Render("Deals for {{first_name}}", testCampaign(), testContact())
	if got != "Deals for Jane" {
		t.Errorf("Render() = %q, want %q", got, "Deals for Jane")
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := newTestRenderer()
	campaign := testCampaign()
	contact := testContact()

	html := `<p>{{company}}</p><a href="https://example.com">x</a>{{tracking_pixel}}`
	first := r.Render(html, campaign, contact)
	for i := 0; i < 3; i++ {
		if got := r.Render(html, campaign, contact); got != first {
			t.Fatalf("render %d differs from first render", i)
		}
	}
}

func TestClickURLEncoding(t *testing.T) {
	r := newTestRenderer()

	target := "https://example.com/path?a=1&b=two three"
	got := r.ClickURL("c", "k", target)

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("ClickURL() not parseable: %v", err)
	}
	if u.Query().Get("url") != target {
		t.Errorf("decoded url = %q, want %q", u.Query().Get("url"), target)
	}
}

func TestPixelURL(t *testing.T) {
	r := newTestRenderer()

	want := fmt.Sprintf("https://track.test/tracking/open/%s/%s", "c1", "k1")
	if got := r.PixelURL("c1", "k1"); got != want {
		t.Errorf("PixelURL() = %q, want %q", got, want)
	}
}
