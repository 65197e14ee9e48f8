package bridge

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Session is the host identity bound by registration.
type Session struct {
	AppID         string
	UniversalLink string
}

// appIDPattern is the URL scheme grammar; the peer calls the host back on
// "<appID>://".
var appIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*$`)

// NewSession validates the registration inputs.
func NewSession(appID, universalLink string) (Session, error) {
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return Session{}, &RegistrationError{Field: "app id", Reason: "empty"}
	}
	if len(appID) > MaxFieldLen || !appIDPattern.MatchString(appID) {
		return Session{}, &RegistrationError{Field: "app id", Reason: "not a valid url scheme"}
	}

	u, err := url.Parse(strings.TrimSpace(universalLink))
	if err != nil {
		return Session{}, &RegistrationError{Field: "universal link", Reason: err.Error()}
	}
	if u.Scheme != "https" || u.Host == "" {
		return Session{}, &RegistrationError{Field: "universal link", Reason: "must be an absolute https url"}
	}
	if !strings.HasSuffix(u.Path, "/") {
		return Session{}, &RegistrationError{Field: "universal link", Reason: "path must end with /"}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Session{}, &RegistrationError{Field: "universal link", Reason: "must not carry a query or fragment"}
	}

	return Session{AppID: appID, UniversalLink: u.String()}, nil
}

// ownsURL reports whether u is a URL-scheme callback addressed to this host.
func (s Session) ownsURL(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Scheme, s.AppID)
}

// ownsLink reports whether u falls under the registered universal link.
func (s Session) ownsLink(u *url.URL) bool {
	if u == nil {
		return false
	}
	base, err := url.Parse(s.UniversalLink)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) &&
		strings.EqualFold(u.Host, base.Host) &&
		strings.HasPrefix(u.Path, base.Path)
}

// sessionHolder guards the session so a config reload can re-register while
// dispatch is reading it.
type sessionHolder struct {
	mu      sync.RWMutex
	session *Session
}

func (h *sessionHolder) load() (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return Session{}, false
	}
	return *h.session, true
}

func (h *sessionHolder) store(s *Session) {
	h.mu.Lock()
	h.session = s
	h.mu.Unlock()
}
