package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"wxbridge/bridge"
	"wxbridge/oauth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Secret for HMAC JWTs (HS256) presented by peer connections.
	peerSecret = []byte(os.Getenv("WXBRIDGE_JWT_SECRET"))
)

// InboundLog is written as one JSON line per inbound activation.
type InboundLog struct {
	Time       time.Time `json:"time"`
	ID         string    `json:"id"`
	Source     string    `json:"source"` // "url", "universal_link", "peer", "web"
	Handled    bool      `json:"handled"`
	DurationMs float64   `json:"duration_ms"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func logInboundJSON(entry InboundLog) {
	b, err := json.Marshal(entry)
	if err != nil {
		log.Printf("error marshaling log entry: %v", err)
		return
	}
	log.Println(string(b))
}

type PeerClaims struct {
	AppID string `json:"app"`
	jwt.RegisteredClaims
}

// authenticatePeer extracts the app ID a peer connection serves from an
// Authorization: Bearer <jwt> header signed with WXBRIDGE_JWT_SECRET.
func authenticatePeer(r *http.Request) (string, error) {
	if len(peerSecret) == 0 {
		return "", errors.New("peer auth not configured")
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", errors.New("missing bearer token")
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	claims := &PeerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return peerSecret, nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.AppID == "" {
		return "", errors.New("unauthenticated")
	}
	return claims.AppID, nil
}

type loginStatus struct {
	State    string `json:"state"` // "pending", "ok", "failed"
	OpenID   string `json:"openid,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	PageURL  string `json:"page_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// loginTracker remembers the outcome of logins started over HTTP.
type loginTracker struct {
	mu      sync.Mutex
	byToken map[string]*loginStatus
}

func newLoginTracker() *loginTracker {
	return &loginTracker{byToken: make(map[string]*loginStatus)}
}

func (t *loginTracker) put(token string, st *loginStatus) {
	t.mu.Lock()
	t.byToken[token] = st
	t.mu.Unlock()
}

func (t *loginTracker) get(token string) (loginStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.byToken[token]
	if !ok {
		return loginStatus{}, false
	}
	return *st, true
}

func (t *loginTracker) remove(token string) {
	t.mu.Lock()
	delete(t.byToken, token)
	t.mu.Unlock()
}

func (t *loginTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byToken)
}

func (t *loginTracker) update(st *loginStatus, fn func(*loginStatus)) {
	t.mu.Lock()
	fn(st)
	t.mu.Unlock()
}

type app struct {
	cfg        *BridgeConfig
	dispatcher *bridge.Dispatcher
	hub        *bridge.PeerHub
	oauth      *oauth.Client
	limiter    *inboundLimiter
	registry   *prometheus.Registry
	logins     *loginTracker
	loginTTL   time.Duration
	upgrader   websocket.Upgrader
}

// hostListener is the long-lived listener for inbound messages that no
// exchange is waiting on.
type hostListener struct {
	a *app
}

func (l hostListener) OnReq(req bridge.Request) {
	log.Printf("[bridge] peer request %s (token %s)", req.Kind(), req.Token)

	if _, ok := req.Body.(bridge.ShowMessageRequest); !ok {
		return
	}
	resp := bridge.Response{
		Token: req.Token,
		Body:  bridge.ShowMessageResponse{},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := l.a.dispatcher.SendResp(ctx, resp, func(ok bool) {
		if !ok {
			log.Printf("[bridge] show message reply for %s not delivered", req.Token)
		}
	})
	if err != nil {
		log.Printf("[bridge] show message reply for %s rejected: %v", req.Token, err)
	}
}

func (l hostListener) OnResp(resp bridge.Response) {
	log.Printf("[bridge] unsolicited %s response (token %s, errcode %d)", resp.Kind(), resp.Token, resp.ErrCode)
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/__wxbridge/open", a.limiter.wrap(a.handleOpenURL))
	mux.HandleFunc("/__wxbridge/oauth/callback", a.limiter.wrap(a.handleWebCallback))
	mux.HandleFunc("/__wxbridge/peer", a.handlePeer)
	mux.HandleFunc("/__wxbridge/login", a.limiter.wrap(a.handleLogin))
	mux.HandleFunc("/__wxbridge/health", a.handleHealth)
	mux.Handle("/__wxbridge/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	// Anything else may be a universal link the peer opened.
	mux.HandleFunc("/", a.limiter.wrap(a.handleUniversalLink))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// inbound feeds one activation to handle and writes the access log line.
func (a *app) inbound(source, remote string, handle func() (bool, error)) bool {
	start := time.Now()
	handled, err := handle()

	entry := InboundLog{
		Time:       time.Now(),
		ID:         uuid.New().String(),
		Source:     source,
		Handled:    handled,
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		RemoteAddr: remote,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	logInboundJSON(entry)
	return handled
}

func (a *app) openCallbackURL(raw string) (bool, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return false, err
	}
	l := hostListener{a: a}
	if u.Scheme == "https" {
		return a.dispatcher.HandleOpenUniversalLink(bridge.Activity{
			Type:       bridge.ActivityBrowsingWeb,
			WebpageURL: u,
		}, l), nil
	}
	return a.dispatcher.HandleOpenURL(u, l), nil
}

// GET /__wxbridge/open?url=<callback url>
func (a *app) handleOpenURL(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	handled := a.inbound("url", r.RemoteAddr, func() (bool, error) {
		return a.openCallbackURL(raw)
	})
	if !handled {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]bool{"handled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": true})
}

// handleUniversalLink rebuilds the link as the peer opened it, under the
// registered universal link's origin.
func (a *app) handleUniversalLink(w http.ResponseWriter, r *http.Request) {
	s, ok := a.dispatcher.Session()
	if !ok {
		http.NotFound(w, r)
		return
	}
	base, err := url.Parse(s.UniversalLink)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	link := &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	handled := a.inbound("universal_link", r.RemoteAddr, func() (bool, error) {
		return a.dispatcher.HandleOpenUniversalLink(bridge.Activity{
			Type:       bridge.ActivityBrowsingWeb,
			WebpageURL: link,
		}, hostListener{a: a}), nil
	})
	if !handled {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": true})
}

// GET /__wxbridge/oauth/callback?token=&code=&state= from the web
// authorization page.
func (a *app) handleWebCallback(w http.ResponseWriter, r *http.Request) {
	handled := a.inbound("web", r.RemoteAddr, func() (bool, error) {
		p, err := oauth.CallbackPayload(r.URL.Query())
		if err != nil {
			return false, err
		}
		return a.dispatcher.HandleInboundPayload(p, hostListener{a: a}), nil
	})
	if !handled {
		http.Error(w, "authorization callback rejected", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("You can return to the application now.\n"))
}

// /__wxbridge/peer upgrades an authenticated peer application to a
// WebSocket. Open messages are written to it; callback messages it sends are
// handled like URL launches.
func (a *app) handlePeer(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "peer hub disabled", http.StatusNotFound)
		return
	}
	appID, err := authenticatePeer(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	version := r.URL.Query().Get("version")
	if version == "" {
		version = r.Header.Get("X-Peer-Version")
	}
	client, err := a.hub.Subscribe(appID, version)
	if err != nil {
		log.Printf("[peerhub] rejected peer for %s: %v", appID, err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.hub.Unsubscribe(client)
		log.Printf("[peerhub] upgrade error: %v", err)
		return
	}
	defer conn.Close()
	defer a.hub.Unsubscribe(client)

	// writer goroutine
	go func() {
		for msg := range client.Send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("[peerhub] write error (app %s): %v", appID, err)
				return
			}
		}
	}()

	for {
		var in bridge.PeerMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure,
			) {
				return
			}
			log.Printf("[peerhub] read error (app %s): %v", appID, err)
			return
		}
		if in.Type != bridge.PeerMessageCallback {
			log.Printf("[peerhub] ignoring %q message from peer", in.Type)
			continue
		}
		a.inbound("peer", r.RemoteAddr, func() (bool, error) {
			return a.openCallbackURL(in.URL)
		})
	}
}

// POST /__wxbridge/login starts a login; GET /__wxbridge/login?token=
// reports its status.
func (a *app) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		token := r.URL.Query().Get("token")
		st, ok := a.logins.get(token)
		if !ok {
			http.Error(w, "unknown login", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case http.MethodPost:
		a.startLogin(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) startLogin(w http.ResponseWriter, r *http.Request) {
	s, ok := a.dispatcher.Session()
	if !ok {
		http.Error(w, bridge.ErrNotRegistered.Error(), http.StatusServiceUnavailable)
		return
	}

	st := &loginStatus{State: "pending"}
	login := oauth.NewLogin(a.oauth, oauth.DefaultScope, a.cfg.LoginState, func(res oauth.Result, err error) {
		a.logins.update(st, func(st *loginStatus) {
			if err != nil {
				st.State = "failed"
				st.Error = err.Error()
				return
			}
			st.State = "ok"
			st.OpenID = res.OpenID
			if res.Profile != nil {
				st.Nickname = res.Profile.Nickname
			}
		})
		if err != nil {
			log.Printf("[oauth] login failed: %v", err)
		} else {
			log.Printf("[oauth] login succeeded")
		}
	})

	ui := oauth.QRConnect{
		AppID:       s.AppID,
		RedirectURI: a.cfg.PublicURL + "/__wxbridge/oauth/callback",
		BaseURL:     a.cfg.QRConnectURL,
		Present: func(ctx context.Context, page *url.URL) error {
			a.logins.update(st, func(st *loginStatus) {
				st.PageURL = page.String()
			})
			log.Printf("[oauth] peer unavailable, web authorization page issued")
			return nil
		},
	}

	token, err := login.Start(r.Context(), a.dispatcher, ui)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.logins.put(token, st)
	time.AfterFunc(a.loginTTL, func() { a.expireLogin(token) })

	st2, _ := a.logins.get(token)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"token":  token,
		"status": st2,
	})
}

// expireLogin stops waiting on the reply for token and forgets its status.
// A reply arriving later reaches the host listener instead.
func (a *app) expireLogin(token string) {
	if a.dispatcher.Registry().Cancel(token) {
		log.Printf("[oauth] login %s expired without a reply", token)
	}
	a.logins.remove(token)
}

type HealthSummary struct {
	Registered bool   `json:"registered"`
	AppID      string `json:"app_id,omitempty"`
	Pending    int    `json:"pending_switches"`
	Bound      int    `json:"bound_exchanges"`
	Peers      int    `json:"connected_peers"`
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	s, ok := a.dispatcher.Session()
	summary := HealthSummary{
		Registered: ok,
		AppID:      s.AppID,
		Pending:    a.dispatcher.Registry().Pending(),
		Bound:      a.dispatcher.Registry().Bound(),
	}
	if a.hub != nil && ok {
		summary.Peers = a.hub.Peers(s.AppID)
	}
	writeJSON(w, http.StatusOK, summary)
}
