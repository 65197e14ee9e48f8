package bridge

import (
	"net/url"
	"strconv"
)

// Message is a decoded inbound payload. Exactly one of Request and Response is
// set.
type Message struct {
	Request  *Request
	Response *Response
}

func (m Message) Kind() Kind {
	switch {
	case m.Request != nil:
		return m.Request.Kind()
	case m.Response != nil:
		return m.Response.Kind()
	default:
		return KindUnknown
	}
}

// Encode validates req and maps it to a payload. Nothing is returned on
// failure.
func Encode(req Request) (Payload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := Payload(url.Values{})
	p.set(keyKind, discriminator(req.Kind(), false))
	p.set(keyToken, req.Token)
	p.set(keyOpenID, req.OpenID)

	switch b := req.Body.(type) {
	case AuthRequest:
		p.set(keyScope, b.Scope)
		p.set(keyState, b.State)
	case PayRequest:
		p.set(keyPartnerID, b.PartnerID)
		p.set(keyPrepayID, b.PrepayID)
		p.set(keyNonceStr, b.NonceStr)
		p.set(keyTimestamp, b.Timestamp)
		p.set(keyPackage, b.Package)
		p.set(keySign, b.Sign)
	case ShowMessageRequest:
		p.set(keyTitle, b.Title)
		p.set(keyDescription, b.Description)
		p.set(keyMessageExt, b.MessageExt)
		p.set(keyLang, b.Lang)
		p.set(keyCountry, b.Country)
	}
	return p, nil
}

// EncodeResponse maps a host response, usually the answer to a peer-initiated
// request, to a payload.
func EncodeResponse(resp Response) (Payload, error) {
	if err := checkFields(
		field{keyToken, resp.Token},
		field{keyErrStr, resp.ErrStr},
	); err != nil {
		return nil, err
	}

	p := Payload(url.Values{})
	switch b := resp.Body.(type) {
	case AuthResponse:
		if err := checkFields(
			field{keyCode, b.Code},
			field{keyState, b.State},
			field{keyLang, b.Lang},
			field{keyCountry, b.Country},
		); err != nil {
			return nil, err
		}
		p.set(keyCode, b.Code)
		p.set(keyState, b.State)
		p.set(keyLang, b.Lang)
		p.set(keyCountry, b.Country)
	case PayResponse:
		if err := checkLen(keyReturnKey, b.ReturnKey); err != nil {
			return nil, err
		}
		p.set(keyReturnKey, b.ReturnKey)
	case ShowMessageResponse:
	case nil:
		return nil, &EncodingError{Key: keyKind, Reason: "response has no body"}
	default:
		return nil, &EncodingError{Key: keyKind, Reason: "unsupported response body"}
	}

	p.set(keyKind, discriminator(resp.Kind(), true))
	p.set(keyToken, resp.Token)
	url.Values(p).Set(keyErrCode, strconv.Itoa(resp.ErrCode))
	p.set(keyErrStr, resp.ErrStr)
	return p, nil
}

// Decode inspects the kind discriminator and rebuilds the typed request or
// response. On failure the error is a *DecodingError or an
// *UnsupportedKindError and no message is returned.
func Decode(p Payload) (Message, error) {
	r := &fieldReader{p: p}

	disc := r.str(keyKind)
	if r.err != nil {
		return Message{}, r.err
	}
	if disc == "" {
		return Message{}, &DecodingError{Key: keyKind, Reason: "missing discriminator"}
	}

	kind, isResp, ok := parseDiscriminator(disc)
	if !ok {
		return Message{}, &UnsupportedKindError{Discriminator: disc}
	}

	if isResp {
		resp, err := decodeResponse(kind, r)
		if err != nil {
			return Message{}, err
		}
		return Message{Response: &resp}, nil
	}

	req, err := decodeRequest(kind, r)
	if err != nil {
		return Message{}, err
	}
	return Message{Request: &req}, nil
}

func decodeRequest(kind Kind, r *fieldReader) (Request, error) {
	req := Request{
		Token:  r.str(keyToken),
		OpenID: r.str(keyOpenID),
	}

	switch kind {
	case KindAuth:
		req.Body = AuthRequest{
			Scope: r.str(keyScope),
			State: r.str(keyState),
		}
	case KindPay:
		req.Body = PayRequest{
			PartnerID: r.str(keyPartnerID),
			PrepayID:  r.str(keyPrepayID),
			NonceStr:  r.str(keyNonceStr),
			Timestamp: r.str(keyTimestamp),
			Package:   r.str(keyPackage),
			Sign:      r.str(keySign),
		}
	case KindShowMessage:
		req.Body = ShowMessageRequest{
			Title:       r.str(keyTitle),
			Description: r.str(keyDescription),
			MessageExt:  r.str(keyMessageExt),
			Lang:        r.str(keyLang),
			Country:     r.str(keyCountry),
		}
	}
	if r.err != nil {
		return Request{}, r.err
	}
	return req, nil
}

func decodeResponse(kind Kind, r *fieldReader) (Response, error) {
	resp := Response{
		Token:   r.str(keyToken),
		ErrCode: r.errCode(),
		ErrStr:  r.str(keyErrStr),
	}

	switch kind {
	case KindAuth:
		resp.Body = AuthResponse{
			Code:    r.str(keyCode),
			State:   r.str(keyState),
			Lang:    r.str(keyLang),
			Country: r.str(keyCountry),
		}
	case KindPay:
		resp.Body = PayResponse{ReturnKey: r.str(keyReturnKey)}
	case KindShowMessage:
		resp.Body = ShowMessageResponse{}
	}
	if r.err != nil {
		return Response{}, r.err
	}
	return resp, nil
}

// fieldReader reads single-valued keys and keeps the first error.
type fieldReader struct {
	p   Payload
	err error
}

func (r *fieldReader) str(key string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.p.single(key)
	if err != nil {
		r.err = err
		return ""
	}
	return v
}

func (r *fieldReader) errCode() int {
	raw := r.str(keyErrCode)
	if r.err != nil {
		return 0
	}
	if raw == "" {
		r.err = &DecodingError{Key: keyErrCode, Reason: "missing"}
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		r.err = &DecodingError{Key: keyErrCode, Reason: "not an integer", Err: err}
		return 0
	}
	return n
}
