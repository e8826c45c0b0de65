// Package tracking rewrites outgoing HTML so opens and clicks come back to the
// engagement endpoints.
package tracking

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	OpenPath  = "/t/o"
	ClickPath = "/t/c"
)

type Tracker struct {
	baseURL string
}

// New returns a tracker rooted at baseURL. An empty baseURL disables tracking.
func New(baseURL string) *Tracker {
	return &Tracker{baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *Tracker) Enabled() bool {
	return t != nil && t.baseURL != ""
}

// OpenPixelURL is the URL of the 1x1 image that records an open.
func (t *Tracker) OpenPixelURL(contactID uuid.UUID, emailID string) string {
	return fmt.Sprintf("%s%s/%s/%s", t.baseURL, OpenPath, contactID, url.PathEscape(emailID))
}

// ClickURL wraps target so following it records a click first.
func (t *Tracker) ClickURL(contactID uuid.UUID, emailID, target string) string {
	return fmt.Sprintf("%s%s/%s/%s?url=%s", t.baseURL, ClickPath, contactID, url.PathEscape(emailID), url.QueryEscape(target))
}

// Inject rewrites every http(s) link in body through the click endpoint and,
// when opens is set, appends the open pixel.
func (t *Tracker) Inject(body string, contactID uuid.UUID, emailID string, opens bool) string {
	if !t.Enabled() {
		return body
	}
	out := t.injectClicks(body, contactID, emailID)
	if opens {
		out += fmt.Sprintf(`<img src="%s" alt="" width="1" height="1" style="display:none">`, t.OpenPixelURL(contactID, emailID))
	}
	return out
}

func (t *Tracker) injectClicks(html string, contactID uuid.UUID, emailID string) string {
	const startTag = `href="`
	var b strings.Builder
	rest := html

	for {
		start := strings.Index(rest, startTag)
		if start == -1 {
			b.WriteString(rest)
			return b.String()
		}
		start += len(startTag)
		end := strings.IndexByte(rest[start:], '"')
		if end == -1 {
			b.WriteString(rest)
			return b.String()
		}
		end += start

		b.WriteString(rest[:start])
		target := rest[start:end]
		if isTrackable(target) {
			b.WriteString(t.ClickURL(contactID, emailID, target))
		} else {
			b.WriteString(target)
		}
		rest = rest[end:]
	}
}

func isTrackable(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// SafeRedirect reports whether target may be used as a click redirect.
func SafeRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
