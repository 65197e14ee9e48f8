package bridge

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// PeerMessage travels between the hub and a connected peer application.
// Outbound messages have Type "open"; a peer hands control back with Type
// "callback" and the URL it would have opened on the host.
type PeerMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

const (
	PeerMessageOpen     = "open"
	PeerMessageCallback = "callback"
)

// PeerClient is one connected peer application serving AppID.
type PeerClient struct {
	AppID   string
	Version *semver.Version
	Send    chan PeerMessage
}

// PeerHub is a Transport for peer applications that connect to the host
// instead of being launched, e.g. over a WebSocket. A switch succeeds when a
// connected peer for the target's app ID accepts the open message.
type PeerHub struct {
	mu         sync.RWMutex
	clients    map[string]map[*PeerClient]struct{} // app id -> peers
	constraint *semver.Constraints
	logger     *log.Logger
}

// NewPeerHub creates a hub. A non-empty constraint, e.g. ">= 8.0.0", restricts
// which peer versions may subscribe.
func NewPeerHub(constraint string, logger *log.Logger) (*PeerHub, error) {
	if logger == nil {
		logger = log.Default()
	}
	h := &PeerHub{
		clients: make(map[string]map[*PeerClient]struct{}),
		logger:  logger,
	}
	if constraint != "" {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return nil, fmt.Errorf("peer version constraint %q: %w", constraint, err)
		}
		h.constraint = c
	}
	return h, nil
}

// Subscribe registers a peer for appID after checking its version.
func (h *PeerHub) Subscribe(appID, version string) (*PeerClient, error) {
	if appID == "" {
		return nil, fmt.Errorf("peer subscribe: empty app id")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("peer version %q: %w", version, err)
	}
	if h.constraint != nil && !h.constraint.Check(v) {
		return nil, fmt.Errorf("peer version %s does not satisfy %s", v, h.constraint)
	}

	c := &PeerClient{
		AppID:   appID,
		Version: v,
		Send:    make(chan PeerMessage, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[appID] == nil {
		h.clients[appID] = make(map[*PeerClient]struct{})
	}
	h.clients[appID][c] = struct{}{}
	h.logger.Printf("[peerhub] peer %s connected for %s", v, appID)
	return c, nil
}

// Unsubscribe removes c and closes its send channel.
func (h *PeerHub) Unsubscribe(c *PeerClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[c.AppID]
	if subs == nil {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}

	delete(subs, c)
	close(c.Send)
	if len(subs) == 0 {
		delete(h.clients, c.AppID)
	}
}

// Peers reports how many peers are connected for appID.
func (h *PeerHub) Peers(appID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[appID])
}

func (h *PeerHub) Switch(ctx context.Context, target *url.URL) error {
	appID := targetAppID(target)
	if appID == "" {
		return fmt.Errorf("%w: no app id in %s://%s", ErrPeerUnavailable, target.Scheme, target.Host)
	}
	msg := PeerMessage{Type: PeerMessageOpen, URL: target.String()}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[appID] {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrPeerUnavailable, err)
		}
		select {
		case c.Send <- msg:
			return nil
		default:
			// peer is not draining its queue, try another
		}
	}
	return fmt.Errorf("%w: no connected peer for %s", ErrPeerUnavailable, appID)
}

// targetAppID extracts the app ID from a target built by PeerAddress, where
// it follows the "app" path element.
func targetAppID(u *url.URL) string {
	if u == nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if u.Host == "app" && len(parts) > 0 {
		return parts[0]
	}
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "app" {
			return parts[i+1]
		}
	}
	return ""
}
