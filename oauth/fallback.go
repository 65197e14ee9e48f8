package oauth

import (
	"context"
	"errors"
	"net/url"

	"wxbridge/bridge"
)

const (
	DefaultQRConnectURL = "https://open.weixin.qq.com/connect/qrconnect"
	// WebScope is the only scope the web authorization page accepts.
	WebScope = "snsapi_login"
)

// QRConnect is a bridge.UIContext that falls back to the web authorization
// page when the peer application is missing. The page redirects to
// RedirectURI with code and state; the correlation token is appended to the
// redirect so the answer reaches the listener bound to the request.
type QRConnect struct {
	AppID       string
	RedirectURI string
	BaseURL     string
	Present     func(ctx context.Context, page *url.URL) error
}

func (q QRConnect) PresentFallback(ctx context.Context, req bridge.Request) error {
	auth, ok := req.Body.(bridge.AuthRequest)
	if !ok {
		return errors.New("qrconnect: not an auth request")
	}
	if q.Present == nil {
		return errors.New("qrconnect: no presenter")
	}
	page, err := q.PageURL(req.Token, auth.State)
	if err != nil {
		return err
	}
	return q.Present(ctx, page)
}

// PageURL builds the authorization page address for one exchange.
func (q QRConnect) PageURL(token, state string) (*url.URL, error) {
	redirect, err := url.Parse(q.RedirectURI)
	if err != nil {
		return nil, err
	}
	rq := redirect.Query()
	rq.Set("token", token)
	redirect.RawQuery = rq.Encode()

	base := q.BaseURL
	if base == "" {
		base = DefaultQRConnectURL
	}
	page, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	pq := url.Values{}
	pq.Set("appid", q.AppID)
	pq.Set("redirect_uri", redirect.String())
	pq.Set("response_type", "code")
	pq.Set("scope", WebScope)
	pq.Set("state", state)
	page.RawQuery = pq.Encode()
	page.Fragment = "wechat_redirect"
	return page, nil
}

// CallbackPayload converts the web page's redirect query into the AUTH
// response payload the peer application would have delivered. A redirect
// without a code means the user denied access.
func CallbackPayload(q url.Values) (bridge.Payload, error) {
	resp := bridge.Response{
		Token: q.Get("token"),
		Body: bridge.AuthResponse{
			Code:  q.Get("code"),
			State: q.Get("state"),
		},
	}
	if q.Get("code") == "" {
		resp.ErrCode = bridge.ErrCodeAuthDeny
		resp.ErrStr = "authorization denied on web page"
	}
	return bridge.EncodeResponse(resp)
}
