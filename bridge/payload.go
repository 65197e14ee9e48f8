package bridge

import (
	"net/url"
	"strings"
)

// Payload is the flat key-value form a message takes on the transport. It is
// carried as the query of a URL-scheme launch or universal link.
type Payload url.Values

// Wire keys.
const (
	keyKind    = "kind"
	keyToken   = "token"
	keyOpenID  = "openid"
	keyErrCode = "errcode"
	keyErrStr  = "errstr"

	keyScope   = "scope"
	keyState   = "state"
	keyCode    = "code"
	keyLang    = "lang"
	keyCountry = "country"

	keyPartnerID = "partnerid"
	keyPrepayID  = "prepayid"
	keyNonceStr  = "noncestr"
	keyTimestamp = "timestamp"
	keyPackage   = "package"
	keySign      = "sign"
	keyReturnKey = "returnkey"

	keyTitle       = "title"
	keyDescription = "description"
	keyMessageExt  = "messageext"
)

const (
	suffixReq  = "_REQ"
	suffixResp = "_RESP"
)

// discriminator builds the kind key value, e.g. "AUTH_REQ".
func discriminator(k Kind, response bool) string {
	if response {
		return k.String() + suffixResp
	}
	return k.String() + suffixReq
}

// parseDiscriminator maps a kind key value back to a Kind and direction.
// ok is false for anything this bridge does not handle.
func parseDiscriminator(v string) (kind Kind, response bool, ok bool) {
	var name string
	switch {
	case strings.HasSuffix(v, suffixResp):
		name, response = strings.TrimSuffix(v, suffixResp), true
	case strings.HasSuffix(v, suffixReq):
		name = strings.TrimSuffix(v, suffixReq)
	default:
		return KindUnknown, false, false
	}

	for _, k := range []Kind{KindAuth, KindPay, KindShowMessage} {
		if k.String() == name {
			return k, response, true
		}
	}
	return KindUnknown, false, false
}

// ParsePayload parses a URL query string into a Payload.
func ParsePayload(rawQuery string) (Payload, error) {
	v, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, &DecodingError{Key: "query", Reason: "unparseable", Err: err}
	}
	return Payload(v), nil
}

// Encode renders the payload as a URL query string.
func (p Payload) Encode() string {
	return url.Values(p).Encode()
}

// Get returns the first value for key.
func (p Payload) Get(key string) string {
	return url.Values(p).Get(key)
}

func (p Payload) set(key, value string) {
	if value == "" {
		return
	}
	url.Values(p).Set(key, value)
}

// single returns the only value for key. A repeated key is ambiguous and
// rejected so that decoding never silently drops data.
func (p Payload) single(key string) (string, error) {
	vs := p[key]
	switch len(vs) {
	case 0:
		return "", nil
	case 1:
		return vs[0], nil
	default:
		return "", &DecodingError{Key: key, Reason: "repeated key"}
	}
}
