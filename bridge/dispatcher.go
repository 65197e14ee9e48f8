package bridge

import (
	"context"
	"errors"
	"log"
	"net/url"
)

// UIContext presents an alternative to the peer application when it is not
// installed, for example a web page the user can authorize from. The
// alternative delivers its result through the regular inbound hooks.
type UIContext interface {
	PresentFallback(ctx context.Context, req Request) error
}

// Options configures a Dispatcher. Zero values are usable: without a Transport
// every switch fails as if the peer were absent.
type Options struct {
	Transport Transport
	Peer      PeerAddress
	Logger    *log.Logger
	Metrics   *Metrics
}

// Dispatcher is the entry point of the bridge. It sequences registration,
// encoding, the switch to the peer and the routing of inbound payloads.
type Dispatcher struct {
	transport Transport
	peer      PeerAddress
	logger    *log.Logger
	metrics   *Metrics

	session  sessionHolder
	registry *Registry
}

func New(opts Options) *Dispatcher {
	if opts.Peer == (PeerAddress{}) {
		opts.Peer = DefaultPeerAddress
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Dispatcher{
		transport: opts.Transport,
		peer:      opts.Peer,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		registry:  NewRegistry(),
	}
}

// Register binds the host identity. A failed registration clears any earlier
// one, so later sends fail with ErrNotRegistered until Register succeeds.
func (d *Dispatcher) Register(appID, universalLink string) error {
	s, err := NewSession(appID, universalLink)
	if err != nil {
		d.session.store(nil)
		d.logger.Printf("[bridge] registration rejected: %v", err)
		return err
	}
	d.session.store(&s)
	d.logger.Printf("[bridge] registered app %s (universal link %s)", s.AppID, s.UniversalLink)
	return nil
}

// Session returns the bound session, if any.
func (d *Dispatcher) Session() (Session, bool) {
	return d.session.load()
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// SendReq encodes req and switches to the peer. Validation, encoding and
// registration failures are returned before any switch is attempted. The
// completion, if any, then fires exactly once with the switch outcome. An
// empty Token is replaced by a fresh one; the token used is returned.
func (d *Dispatcher) SendReq(ctx context.Context, req Request, completion Completion) (string, error) {
	s, h, target, err := d.prepare(req)
	if err != nil {
		d.metrics.send(req.Kind(), OutcomeRejected)
		return "", err
	}
	h.completion = completion

	err = d.doSwitch(ctx, target)
	d.finish(s, req.Kind(), h, err, "")
	return h.token, nil
}

// SendResp answers a peer-initiated request.
func (d *Dispatcher) SendResp(ctx context.Context, resp Response, completion Completion) error {
	s, ok := d.session.load()
	if !ok {
		d.metrics.send(resp.Kind(), OutcomeRejected)
		return ErrNotRegistered
	}

	p, err := EncodeResponse(resp)
	if err != nil {
		d.metrics.send(resp.Kind(), OutcomeRejected)
		return err
	}
	target, err := d.peer.target(s.AppID, resp.Kind(), true, p)
	if err != nil {
		d.metrics.send(resp.Kind(), OutcomeRejected)
		return err
	}

	key := resp.Token
	if key == "" {
		key = NewToken()
	}
	h, err := d.registry.begin(key, completion)
	if err != nil {
		d.metrics.send(resp.Kind(), OutcomeRejected)
		return err
	}
	d.metrics.setPending(d.registry.Pending())

	err = d.doSwitch(ctx, target)
	d.finish(s, resp.Kind(), h, err, "")
	return nil
}

// SendAuthReq sends an AUTH request whose reply is routed to listener rather
// than to the listener given to the inbound hooks. When the peer cannot be
// reached and ui is non-nil, ui presents a fallback; if that succeeds the
// completion reports success and the binding stays in place.
func (d *Dispatcher) SendAuthReq(ctx context.Context, req Request, ui UIContext, listener Listener, completion Completion) (string, error) {
	if req.Kind() != KindAuth {
		d.metrics.send(req.Kind(), OutcomeRejected)
		return "", &ValidationError{Field: "kind", Reason: "auth request required"}
	}

	s, h, target, err := d.prepare(req)
	if err != nil {
		d.metrics.send(req.Kind(), OutcomeRejected)
		return "", err
	}
	h.completion = completion
	req.Token = h.token
	d.registry.bind(h.token, listener)

	err = d.doSwitch(ctx, target)
	if err != nil && errors.Is(err, ErrPeerUnavailable) && ui != nil {
		if ferr := ui.PresentFallback(ctx, req); ferr != nil {
			d.logger.Printf("[bridge] fallback for %s failed: %v", h.token, ferr)
		} else {
			d.finish(s, KindAuth, h, nil, OutcomeFallback)
			return h.token, nil
		}
	}
	if err != nil {
		d.registry.unbind(h.token)
	}
	d.finish(s, KindAuth, h, err, "")
	return h.token, nil
}

// prepare runs every synchronous check of a request send and records the
// PENDING handle.
func (d *Dispatcher) prepare(req Request) (Session, *handle, *url.URL, error) {
	s, ok := d.session.load()
	if !ok {
		return Session{}, nil, nil, ErrNotRegistered
	}

	if req.Token == "" {
		req.Token = NewToken()
	}
	p, err := Encode(req)
	if err != nil {
		return Session{}, nil, nil, err
	}
	target, err := d.peer.target(s.AppID, req.Kind(), false, p)
	if err != nil {
		return Session{}, nil, nil, err
	}

	h, err := d.registry.begin(req.Token, nil)
	if err != nil {
		return Session{}, nil, nil, err
	}
	d.metrics.setPending(d.registry.Pending())
	return s, h, target, nil
}

func (d *Dispatcher) doSwitch(ctx context.Context, target *url.URL) error {
	if d.transport == nil {
		return ErrPeerUnavailable
	}
	return d.transport.Switch(ctx, target)
}

// finish settles the handle and records the outcome. outcome overrides the
// label derived from err.
func (d *Dispatcher) finish(s Session, kind Kind, h *handle, err error, outcome string) {
	if outcome == "" {
		outcome = OutcomeSwitched
		if err != nil {
			outcome = OutcomeFailed
		}
	}

	if err != nil {
		d.logger.Printf("[bridge] %s %s: switch to peer failed: %v", s.AppID, kind, err)
	} else {
		d.logger.Printf("[bridge] %s %s: %s (token %s)", s.AppID, kind, outcome, h.token)
	}

	d.registry.settle(h, err == nil)
	d.metrics.send(kind, outcome)
	d.metrics.setPending(d.registry.Pending())
}

// HandleInboundPayload decodes p and routes it: requests to listener.OnReq,
// responses to the listener bound to their token or else listener.OnResp. It
// returns false, invoking nothing, when the payload cannot be decoded or no
// app is registered.
func (d *Dispatcher) HandleInboundPayload(p Payload, listener Listener) bool {
	if _, ok := d.session.load(); !ok {
		d.metrics.received(InboundUnregistered)
		d.logger.Printf("[bridge] inbound payload dropped: %v", ErrNotRegistered)
		return false
	}
	return d.route(p, listener)
}

// HandleOpenURL handles a URL-scheme launch by the peer. Only URLs whose
// scheme is the registered app ID are accepted.
func (d *Dispatcher) HandleOpenURL(u *url.URL, listener Listener) bool {
	s, ok := d.session.load()
	if !ok {
		d.metrics.received(InboundUnregistered)
		d.logger.Printf("[bridge] open url dropped: %v", ErrNotRegistered)
		return false
	}
	if !s.ownsURL(u) {
		d.metrics.received(InboundForeign)
		return false
	}

	p, err := ParsePayload(u.RawQuery)
	if err != nil {
		d.metrics.received(InboundMalformed)
		d.logger.Printf("[bridge] open url dropped: %v", err)
		return false
	}
	return d.route(p, listener)
}

// HandleOpenUniversalLink handles a universal-link continuation. Only
// browsing-web activities under the registered universal link are accepted.
func (d *Dispatcher) HandleOpenUniversalLink(a Activity, listener Listener) bool {
	s, ok := d.session.load()
	if !ok {
		d.metrics.received(InboundUnregistered)
		d.logger.Printf("[bridge] universal link dropped: %v", ErrNotRegistered)
		return false
	}
	if a.Type != ActivityBrowsingWeb || !s.ownsLink(a.WebpageURL) {
		d.metrics.received(InboundForeign)
		return false
	}

	p, err := ParsePayload(a.WebpageURL.RawQuery)
	if err != nil {
		d.metrics.received(InboundMalformed)
		d.logger.Printf("[bridge] universal link dropped: %v", err)
		return false
	}
	return d.route(p, listener)
}

func (d *Dispatcher) route(p Payload, listener Listener) bool {
	msg, err := Decode(p)
	if err != nil {
		if errors.Is(err, ErrUnsupportedKind) {
			d.metrics.received(InboundUnsupported)
		} else {
			d.metrics.received(InboundMalformed)
		}
		d.logger.Printf("[bridge] inbound payload dropped: %v", err)
		return false
	}

	switch {
	case msg.Request != nil:
		d.metrics.received(InboundRequest)
		if listener != nil {
			listener.OnReq(*msg.Request)
		}
	case msg.Response != nil:
		if bound, ok := d.registry.take(msg.Response.Token); ok {
			d.metrics.received(InboundBound)
			bound.OnResp(*msg.Response)
			break
		}
		d.metrics.received(InboundResponse)
		if listener != nil {
			listener.OnResp(*msg.Response)
		}
	}
	return true
}
