// Package render resolves campaign content into per-recipient messages:
// placeholder substitution, unsubscribe links, the open-tracking pixel and
// click-tracking link rewriting.
package render

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/mailkite/mailkite/internal/models"
)

var (
	firstNamePattern   = regexp.MustCompile(`\{\{first_name\}\}`)
	lastNamePattern    = regexp.MustCompile(`\{\{last_name\}\}`)
	emailPattern       = regexp.MustCompile(`\{\{email\}\}`)
	unsubscribePattern = regexp.MustCompile(`\{\{unsubscribe_link\}\}`)
	pixelPattern       = regexp.MustCompile(`\{\{tracking_pixel\}\}`)

	// Matches the opening tag of an anchor carrying an href. The first group
	// is the full attribute list, the second the href value.
	linkPattern = regexp.MustCompile(`(?i)<a\s+([^>]*href=["']([^"']+)["'][^>]*)>`)

	hrefAttrPattern = regexp.MustCompile(`(?i)href=["'][^"']*["']`)

	// Any placeholder still present after the substitution passes.
	residualPattern = regexp.MustCompile(`\{\{[a-zA-Z0-9_]+\}\}`)
)

// Renderer resolves campaign templates for individual contacts.
type Renderer struct {
	trackingBaseURL    string
	unsubscribeBaseURL string
}

// New creates a renderer. trackingBaseURL is the public prefix of the
// tracking endpoints; unsubscribeBaseURL the prefix of the unsubscribe
// endpoint.
func New(trackingBaseURL, unsubscribeBaseURL string) *Renderer {
	return &Renderer{
		trackingBaseURL:    strings.TrimRight(trackingBaseURL, "/"),
		unsubscribeBaseURL: strings.TrimRight(unsubscribeBaseURL, "/"),
	}
}

// Render substitutes placeholders and rewrites links for one contact.
// Placeholders without a value for this contact, including keys absent from
// its custom fields, resolve to the empty string.
func (r *Renderer) Render(content string, campaign *models.Campaign, contact *models.Contact) string {
	result := content

	result = firstNamePattern.ReplaceAllString(result, contact.FirstName)
	result = lastNamePattern.ReplaceAllString(result, contact.LastName)
	result = emailPattern.ReplaceAllString(result, contact.Email)

	// Custom fields, in stable key order
	if len(contact.CustomFields) > 0 {
		keys := contact.CustomFields.Keys()
		sort.Strings(keys)
		for _, key := range keys {
			pattern := regexp.MustCompile(`\{\{` + regexp.QuoteMeta(key) + `\}\}`)
			result = pattern.ReplaceAllString(result, contact.CustomFields[key].String())
		}
	}

	result = unsubscribePattern.ReplaceAllString(result, r.UnsubscribeURL(contact.UnsubscribeToken))

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" />`,
		r.PixelURL(campaign.ID, contact.ID))
	result = pixelPattern.ReplaceAllString(result, pixel)

	// Rewrite anchor hrefs through the click redirect. The unsubscribe link
	// is substituted above, so it is click-tracked like any other anchor.
	result = linkPattern.ReplaceAllStringFunc(result, func(match string) string {
		groups := linkPattern.FindStringSubmatch(match)
		if groups == nil {
			return match
		}
		attrs, href := groups[1], groups[2]
		trackingURL := r.ClickURL(campaign.ID, contact.ID, href)
		// Replace the href attribute itself, not the first occurrence of the
		// URL text, which may also appear in a title or data attribute.
		return "<a " + hrefAttrPattern.ReplaceAllLiteralString(attrs, `href="`+trackingURL+`"`) + ">"
	})

	// Whatever is left had no value for this contact and renders empty
	// rather than leaking template syntax to the recipient.
	result = residualPattern.ReplaceAllString(result, "")

	return result
}

// PixelURL returns the open-tracking pixel URL for one delivery.
func (r *Renderer) PixelURL(campaignID, contactID string) string {
	return fmt.Sprintf("%s/open/%s/%s", r.trackingBaseURL, campaignID, contactID)
}

// ClickURL returns the click-redirect URL wrapping target.
func (r *Renderer) ClickURL(campaignID, contactID, target string) string {
	return fmt.Sprintf("%s/click/%s/%s?url=%s",
		r.trackingBaseURL, campaignID, contactID, url.QueryEscape(target))
}

// UnsubscribeURL returns the one-click unsubscribe URL for a contact token.
func (r *Renderer) UnsubscribeURL(token string) string {
	return r.unsubscribeBaseURL + "/" + token
}
