package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"wxbridge/bridge"
)

// DefaultScope asks for the user's basic profile.
const DefaultScope = "snsapi_userinfo"

var (
	ErrCanceled      = errors.New("authorization canceled")
	ErrDenied        = errors.New("authorization denied")
	ErrAccessToken   = errors.New("failed to obtain access token")
	ErrStateMismatch = errors.New("auth response state does not match request")
	ErrUserInfo      = errors.New("failed to fetch user info")
)

// UnexpectedKindError is reported when the reply bound to a login is not an
// AUTH response.
type UnexpectedKindError struct {
	Kind bridge.Kind
}

func (e *UnexpectedKindError) Error() string {
	return fmt.Sprintf("login answered with a %s response", e.Kind)
}

// PeerError is a failure the peer reported for the AUTH exchange.
type PeerError struct {
	Code    int
	Message string
}

func (e *PeerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("peer error %d", e.Code)
	}
	return fmt.Sprintf("peer error %d: %s", e.Code, e.Message)
}

// Result is the outcome of a successful login. Profile is set when the
// login asked for the snsapi_userinfo scope.
type Result struct {
	OpenID  string
	Token   *AccessToken
	Profile *UserInfo
}

// Login runs one AUTH exchange: it sends the request, receives the peer's
// answer as the listener bound to that request, and exchanges the returned
// code. done is called exactly once.
type Login struct {
	client  *Client
	scope   string
	state   string
	timeout time.Duration

	once sync.Once
	done func(Result, error)
}

func NewLogin(client *Client, scope, state string, done func(Result, error)) *Login {
	if scope == "" {
		scope = DefaultScope
	}
	return &Login{
		client:  client,
		scope:   scope,
		state:   state,
		timeout: 15 * time.Second,
		done:    done,
	}
}

// Start sends the AUTH request through d. ui, when non-nil, is presented if the
// peer application is not available. The correlation token is returned.
func (l *Login) Start(ctx context.Context, d *bridge.Dispatcher, ui bridge.UIContext) (string, error) {
	req := bridge.Request{
		Body: bridge.AuthRequest{Scope: l.scope, State: l.state},
	}
	return d.SendAuthReq(ctx, req, ui, l, func(ok bool) {
		if !ok {
			l.finish(Result{}, bridge.ErrPeerUnavailable)
		}
	})
}

// OnReq ignores peer-initiated requests; a login only waits for its answer.
func (l *Login) OnReq(bridge.Request) {}

func (l *Login) OnResp(resp bridge.Response) {
	auth, ok := resp.Body.(bridge.AuthResponse)
	if !ok {
		l.finish(Result{}, &UnexpectedKindError{Kind: resp.Kind()})
		return
	}

	switch resp.ErrCode {
	case bridge.ErrCodeSuccess:
	case bridge.ErrCodeUserCancel:
		l.finish(Result{}, ErrCanceled)
		return
	case bridge.ErrCodeAuthDeny:
		l.finish(Result{}, ErrDenied)
		return
	default:
		l.finish(Result{}, &PeerError{Code: resp.ErrCode, Message: resp.ErrStr})
		return
	}

	if auth.State != l.state {
		l.finish(Result{}, ErrStateMismatch)
		return
	}

	go l.exchange(auth.Code)
}

func (l *Login) exchange(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	tok, err := l.client.ExchangeCode(ctx, code)
	if err != nil {
		l.client.logger.Printf("[oauth] code exchange failed: %v", err)
		l.finish(Result{}, fmt.Errorf("%w: %w", ErrAccessToken, err))
		return
	}
	res := Result{OpenID: tok.OpenID, Token: tok}

	if l.scope == DefaultScope {
		info, err := l.client.UserInfo(ctx, tok.AccessToken, tok.OpenID)
		if err != nil {
			l.client.logger.Printf("[oauth] user info for %s failed: %v", tok.OpenID, err)
			l.finish(Result{}, fmt.Errorf("%w: %w", ErrUserInfo, err))
			return
		}
		res.Profile = info
	}
	l.finish(res, nil)
}

func (l *Login) finish(r Result, err error) {
	l.once.Do(func() {
		if l.done != nil {
			l.done(r, err)
		}
	})
}
