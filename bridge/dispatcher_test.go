package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"testing"
)

func TestAuthExchangeScenario(t *testing.T) {
	tr := &fakeTransport{}
	d := New(Options{Transport: tr, Logger: quietLogger()})

	if err := d.Register("wxabc123", "https://example.com/app/"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	var c completionRecorder
	req := authReq("snsapi_userinfo", "xyz789")
	token, err := d.SendReq(context.Background(), req, c.fn())
	if err != nil {
		t.Fatalf("SendReq error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected a token to be assigned")
	}
	if calls, ok := c.result(); calls != 1 || !ok {
		t.Fatalf("expected one successful completion, got calls=%d ok=%v", calls, ok)
	}

	target := tr.last(t)
	if target.Scheme != "weixin" || target.Host != "app" || target.Path != "/wxabc123/auth/" {
		t.Fatalf("unexpected target %s", target)
	}
	sent, err := Decode(Payload(target.Query()))
	if err != nil {
		t.Fatalf("target payload does not decode: %v", err)
	}
	req.Token = token
	if sent.Request == nil || !reflect.DeepEqual(*sent.Request, req) {
		t.Fatalf("target carries %+v, want %+v", sent.Request, req)
	}

	l := &recordingListener{}
	handled := d.HandleInboundPayload(Payload(url.Values{
		"kind":    {"AUTH_RESP"},
		"errcode": {"0"},
		"state":   {"xyz789"},
	}), l)
	if !handled {
		t.Fatalf("expected inbound payload to be handled")
	}

	nReq, nResp := l.counts()
	if nReq != 0 || nResp != 1 {
		t.Fatalf("expected exactly one OnResp, got reqs=%d resps=%d", nReq, nResp)
	}
	resp := l.resps[0]
	if resp.ErrCode != 0 || resp.Kind() != KindAuth {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUnknownDiscriminatorIsDropped(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})
	l := &recordingListener{}

	if d.HandleInboundPayload(Payload(url.Values{"kind": {"UNKNOWN_9"}}), l) {
		t.Fatalf("expected unknown discriminator to return false")
	}
	if nReq, nResp := l.counts(); nReq != 0 || nResp != 0 {
		t.Fatalf("expected no listener callbacks, got reqs=%d resps=%d", nReq, nResp)
	}
}

func TestFailedRegistrationBlocksSends(t *testing.T) {
	tr := &fakeTransport{}
	d := newTestDispatcher(t, tr)

	err := d.Register("", "https://example.com/app/")
	if !errors.Is(err, ErrRegistration) {
		t.Fatalf("expected ErrRegistration, got %v", err)
	}

	var c completionRecorder
	if _, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", "s"), c.fn()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered from SendReq, got %v", err)
	}
	resp := Response{Token: "t", Body: ShowMessageResponse{}}
	if err := d.SendResp(context.Background(), resp, c.fn()); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered from SendResp, got %v", err)
	}
	if calls, _ := c.result(); calls != 0 {
		t.Fatalf("completion must not fire for rejected sends, got %d calls", calls)
	}
	if tr.count() != 0 {
		t.Fatalf("no switch may be attempted while unregistered")
	}

	if err := d.Register("wxabc123", "https://example.com/app/"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if _, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", "s"), c.fn()); err != nil {
		t.Fatalf("SendReq after re-registration: %v", err)
	}
}

func TestFailedSwitchCompletesOnceWithoutReply(t *testing.T) {
	tr := &fakeTransport{err: fmt.Errorf("%w: not installed", ErrPeerUnavailable)}
	d := newTestDispatcher(t, tr)

	var c completionRecorder
	token, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", "s"), c.fn())
	if err != nil {
		t.Fatalf("PeerUnavailable must not surface as an error: %v", err)
	}
	if calls, ok := c.result(); calls != 1 || ok {
		t.Fatalf("expected one failed completion, got calls=%d ok=%v", calls, ok)
	}
	if d.Registry().Pending() != 0 {
		t.Fatalf("handle should be removed after the switch settles")
	}
	if d.Registry().Bound() != 0 {
		t.Fatalf("no listener may stay bound to %s", token)
	}
}

func TestSendReqValidationHappensBeforeSwitch(t *testing.T) {
	tr := &fakeTransport{}
	d := newTestDispatcher(t, tr)

	var c completionRecorder
	long := make([]byte, MaxFieldLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", string(long)), c.fn())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if tr.count() != 0 {
		t.Fatalf("switch attempted despite validation failure")
	}
	if calls, _ := c.result(); calls != 0 {
		t.Fatalf("completion fired for a rejected send")
	}
}

func TestSendReqWithoutTransport(t *testing.T) {
	d := New(Options{Logger: quietLogger()})
	if err := d.Register("wxabc123", "https://example.com/app/"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var c completionRecorder
	if _, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", ""), c.fn()); err != nil {
		t.Fatalf("SendReq: %v", err)
	}
	if calls, ok := c.result(); calls != 1 || ok {
		t.Fatalf("expected failed completion, got calls=%d ok=%v", calls, ok)
	}
}

func TestDuplicateOutstandingToken(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	tr := TransportFunc(func(ctx context.Context, target *url.URL) error {
		close(entered)
		<-release
		return nil
	})
	d := newTestDispatcher(t, tr)

	req := authReq("snsapi_userinfo", "s")
	req.Token = "fixed"

	done := make(chan error, 1)
	go func() {
		_, err := d.SendReq(context.Background(), req, nil)
		done <- err
	}()
	<-entered

	if _, err := d.SendReq(context.Background(), req, nil); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken while outstanding, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first SendReq: %v", err)
	}
}

func TestBoundTokenCannotBeReused(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})

	first := &recordingListener{}
	second := &recordingListener{}

	req := authReq("snsapi_userinfo", "s")
	req.Token = "fixed"
	if _, err := d.SendAuthReq(context.Background(), req, nil, first, nil); err != nil {
		t.Fatalf("first SendAuthReq: %v", err)
	}

	// the switch has settled but the reply is still outstanding
	if _, err := d.SendAuthReq(context.Background(), req, nil, second, nil); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected ErrDuplicateToken for a bound token, got %v", err)
	}
	if _, err := d.SendReq(context.Background(), req, nil); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected SendReq to refuse a bound token, got %v", err)
	}
	if n := d.Registry().Bound(); n != 1 {
		t.Fatalf("expected one binding, got %d", n)
	}

	p, err := EncodeResponse(Response{Token: "fixed", Body: AuthResponse{Code: "c", State: "s"}})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	d.HandleInboundPayload(p, nil)
	if _, n := first.counts(); n != 1 {
		t.Fatalf("first exchange got %d replies, want 1", n)
	}
	if _, n := second.counts(); n != 0 {
		t.Fatalf("second listener got %d replies, want 0", n)
	}

	// once answered the token is free again
	if _, err := d.SendAuthReq(context.Background(), req, nil, second, nil); err != nil {
		t.Fatalf("SendAuthReq after reply: %v", err)
	}
}

func TestSendAuthReqRoutesToBoundListener(t *testing.T) {
	tr := &fakeTransport{}
	d := newTestDispatcher(t, tr)

	bound := &recordingListener{}
	general := &recordingListener{}

	token, err := d.SendAuthReq(context.Background(), authReq("snsapi_userinfo", "xyz789"), nil, bound, nil)
	if err != nil {
		t.Fatalf("SendAuthReq: %v", err)
	}

	p, err := EncodeResponse(Response{Token: token, Body: AuthResponse{Code: "c0de", State: "xyz789"}})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if !d.HandleInboundPayload(p, general) {
		t.Fatalf("expected payload to be handled")
	}

	if _, n := bound.counts(); n != 1 {
		t.Fatalf("expected bound listener to receive the response, got %d", n)
	}
	if _, n := general.counts(); n != 0 {
		t.Fatalf("general listener must not see a bound response, got %d", n)
	}

	// the binding is consumed by the first reply
	if !d.HandleInboundPayload(p, general) {
		t.Fatalf("expected second payload to be handled")
	}
	if _, n := general.counts(); n != 1 {
		t.Fatalf("expected the repeat to reach the general listener, got %d", n)
	}
}

func TestSendAuthReqRejectsOtherKinds(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})
	req := Request{Body: PayRequest{PartnerID: "p", PrepayID: "q", Sign: "s"}}
	if _, err := d.SendAuthReq(context.Background(), req, nil, nil, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

type fakeUI struct {
	err  error
	reqs []Request
}

func (f *fakeUI) PresentFallback(ctx context.Context, req Request) error {
	f.reqs = append(f.reqs, req)
	return f.err
}

func TestSendAuthReqFallback(t *testing.T) {
	tr := &fakeTransport{err: ErrPeerUnavailable}
	d := newTestDispatcher(t, tr)

	ui := &fakeUI{}
	bound := &recordingListener{}
	var c completionRecorder

	token, err := d.SendAuthReq(context.Background(), authReq("snsapi_userinfo", "st"), ui, bound, c.fn())
	if err != nil {
		t.Fatalf("SendAuthReq: %v", err)
	}
	if calls, ok := c.result(); calls != 1 || !ok {
		t.Fatalf("expected successful completion through fallback, got calls=%d ok=%v", calls, ok)
	}
	if len(ui.reqs) != 1 || ui.reqs[0].Token != token {
		t.Fatalf("fallback should receive the request with its token, got %+v", ui.reqs)
	}
	if d.Registry().Bound() != 1 {
		t.Fatalf("binding should survive a successful fallback")
	}

	p, _ := EncodeResponse(Response{Token: token, Body: AuthResponse{Code: "web", State: "st"}})
	d.HandleInboundPayload(p, nil)
	if _, n := bound.counts(); n != 1 {
		t.Fatalf("expected bound listener to receive the fallback reply, got %d", n)
	}
}

func TestSendAuthReqFallbackFails(t *testing.T) {
	tr := &fakeTransport{err: ErrPeerUnavailable}
	d := newTestDispatcher(t, tr)

	ui := &fakeUI{err: errors.New("no browser")}
	var c completionRecorder
	if _, err := d.SendAuthReq(context.Background(), authReq("snsapi_userinfo", "st"), ui, &recordingListener{}, c.fn()); err != nil {
		t.Fatalf("SendAuthReq: %v", err)
	}
	if calls, ok := c.result(); calls != 1 || ok {
		t.Fatalf("expected failed completion, got calls=%d ok=%v", calls, ok)
	}
	if d.Registry().Bound() != 0 {
		t.Fatalf("binding must be dropped when nothing was delivered")
	}
}

func TestSendRespTarget(t *testing.T) {
	tr := &fakeTransport{}
	d := newTestDispatcher(t, tr)

	var c completionRecorder
	err := d.SendResp(context.Background(), Response{Token: "peer-1", Body: ShowMessageResponse{}}, c.fn())
	if err != nil {
		t.Fatalf("SendResp: %v", err)
	}
	if calls, ok := c.result(); calls != 1 || !ok {
		t.Fatalf("expected successful completion, got calls=%d ok=%v", calls, ok)
	}
	target := tr.last(t)
	if target.Path != "/wxabc123/showmessageresp/" {
		t.Fatalf("unexpected response target %s", target)
	}
	if got := target.Query().Get("kind"); got != "SHOW_MESSAGE_RESP" {
		t.Fatalf("unexpected kind %q", got)
	}
}

func TestPeerLinkTarget(t *testing.T) {
	tr := &fakeTransport{}
	d := New(Options{
		Transport: tr,
		Peer:      PeerAddress{Link: "https://help.wechat.com/"},
		Logger:    quietLogger(),
	})
	if err := d.Register("wxabc123", "https://example.com/app/"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := d.SendReq(context.Background(), authReq("snsapi_userinfo", "s"), nil); err != nil {
		t.Fatalf("SendReq: %v", err)
	}
	target := tr.last(t)
	if target.Scheme != "https" || target.Host != "help.wechat.com" || target.Path != "/app/wxabc123/auth/" {
		t.Fatalf("unexpected universal link target %s", target)
	}
}

func TestUnsolicitedRequestGoesToOnReq(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})
	l := &recordingListener{}

	u, _ := url.Parse("wxabc123://showmessage?kind=SHOW_MESSAGE_REQ&token=p1&title=hello")
	if !d.HandleOpenURL(u, l) {
		t.Fatalf("expected open url to be handled")
	}
	nReq, nResp := l.counts()
	if nReq != 1 || nResp != 0 {
		t.Fatalf("expected one OnReq, got reqs=%d resps=%d", nReq, nResp)
	}
	if l.reqs[0].Body.(ShowMessageRequest).Title != "hello" {
		t.Fatalf("unexpected request %+v", l.reqs[0])
	}
}

func TestHandleOpenURLChecksScheme(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})
	l := &recordingListener{}

	u, _ := url.Parse("otherapp://oauth?kind=AUTH_RESP&errcode=0")
	if d.HandleOpenURL(u, l) {
		t.Fatalf("expected URL for another app to be rejected")
	}
	u, _ = url.Parse("WXABC123://oauth?kind=AUTH_RESP&errcode=0&code=abc")
	if !d.HandleOpenURL(u, l) {
		t.Fatalf("scheme comparison should ignore case")
	}
	u, _ = url.Parse("wxabc123://oauth?kind=AUTH_RESP&errcode=0&code=%zz")
	if d.HandleOpenURL(u, l) {
		t.Fatalf("expected malformed query to be rejected")
	}
}

func TestHandleOpenUniversalLink(t *testing.T) {
	d := newTestDispatcher(t, &fakeTransport{})
	l := &recordingListener{}

	link, _ := url.Parse("https://example.com/app/wxabc123/oauth?kind=AUTH_RESP&errcode=-2&errstr=cancel")
	if !d.HandleOpenUniversalLink(Activity{Type: ActivityBrowsingWeb, WebpageURL: link}, l) {
		t.Fatalf("expected universal link to be handled")
	}
	if _, n := l.counts(); n != 1 || l.resps[0].ErrCode != ErrCodeUserCancel {
		t.Fatalf("unexpected responses %+v", l.resps)
	}

	foreign, _ := url.Parse("https://example.org/app/x?kind=AUTH_RESP&errcode=0")
	if d.HandleOpenUniversalLink(Activity{Type: ActivityBrowsingWeb, WebpageURL: foreign}, l) {
		t.Fatalf("expected link on another host to be rejected")
	}
	if d.HandleOpenUniversalLink(Activity{Type: "handoff", WebpageURL: link}, l) {
		t.Fatalf("expected non browsing-web activity to be rejected")
	}
	if d.HandleOpenUniversalLink(Activity{Type: ActivityBrowsingWeb}, l) {
		t.Fatalf("expected activity without URL to be rejected")
	}
}

func TestInboundBeforeRegister(t *testing.T) {
	d := New(Options{Transport: &fakeTransport{}, Logger: quietLogger()})
	l := &recordingListener{}

	u, _ := url.Parse("wxabc123://oauth?kind=AUTH_RESP&errcode=0")
	if d.HandleOpenURL(u, l) {
		t.Fatalf("expected open url before registration to be rejected")
	}
	if d.HandleInboundPayload(Payload(u.Query()), l) {
		t.Fatalf("expected payload before registration to be rejected")
	}
	if nReq, nResp := l.counts(); nReq != 0 || nResp != 0 {
		t.Fatalf("listener invoked before registration")
	}
}
