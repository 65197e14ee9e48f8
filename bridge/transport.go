package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Transport hands control to the peer application. Switch returns nil once the
// peer accepted the handoff and an error wrapping ErrPeerUnavailable when it
// could not be reached. It says nothing about the peer's eventual reply.
type Transport interface {
	Switch(ctx context.Context, target *url.URL) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, target *url.URL) error

func (f TransportFunc) Switch(ctx context.Context, target *url.URL) error {
	return f(ctx, target)
}

// Activity is the continuation the host environment hands over when the peer
// returns through a universal link.
type Activity struct {
	Type       string
	WebpageURL *url.URL
}

// ActivityBrowsingWeb is the only activity type that carries a universal link.
const ActivityBrowsingWeb = "browsing-web"

// PeerAddress describes how the peer application is addressed. Scheme is used
// for URL-scheme launches; when Link is set, universal links under Link are
// used instead.
type PeerAddress struct {
	Scheme string
	Link   string
}

// DefaultPeerAddress addresses the stock peer application.
var DefaultPeerAddress = PeerAddress{Scheme: "weixin"}

// target builds the URL that carries p to the peer on behalf of appID.
func (a PeerAddress) target(appID string, kind Kind, response bool, p Payload) (*url.URL, error) {
	segment := kind.path()
	if segment == "" {
		return nil, &EncodingError{Key: keyKind, Reason: "no peer path for kind " + kind.String()}
	}
	if response {
		segment += "resp"
	}
	path := "app/" + appID + "/" + segment + "/"

	if a.Link != "" {
		base, err := url.Parse(a.Link)
		if err != nil {
			return nil, &EncodingError{Key: "peer link", Reason: err.Error()}
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		u := base.JoinPath(path)
		u.RawQuery = p.Encode()
		return u, nil
	}

	if a.Scheme == "" {
		return nil, &EncodingError{Key: "peer scheme", Reason: "empty"}
	}
	raw := fmt.Sprintf("%s://%s?%s", a.Scheme, path, p.Encode())
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &EncodingError{Key: "peer url", Reason: err.Error()}
	}
	return u, nil
}
