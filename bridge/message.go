package bridge

// Kind identifies the exchange a message belongs to. A request and the
// response that answers it share the same Kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindPay
	KindShowMessage
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "AUTH"
	case KindPay:
		return "PAY"
	case KindShowMessage:
		return "SHOW_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// path is the segment used in peer target URLs for this kind.
func (k Kind) path() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPay:
		return "pay"
	case KindShowMessage:
		return "showmessage"
	default:
		return ""
	}
}

// MaxFieldLen is the upper bound, in bytes, for every string field a request
// body carries.
const MaxFieldLen = 1024

// Error codes reported by the peer in Response.ErrCode.
const (
	ErrCodeSuccess    = 0
	ErrCodeCommon     = -1
	ErrCodeUserCancel = -2
	ErrCodeSentFail   = -3
	ErrCodeAuthDeny   = -4
	ErrCodeUnsupport  = -5
)

// Request is one message sent to (or received from) the peer that expects a
// Response of the same Kind.
type Request struct {
	Token  string
	OpenID string
	Body   RequestBody
}

// Kind reports the kind of the request body, or KindUnknown when there is none.
func (r Request) Kind() Kind {
	if r.Body == nil {
		return KindUnknown
	}
	return r.Body.Kind()
}

// Response answers a Request. ErrCode is authoritative; ErrStr is for humans.
type Response struct {
	Token   string
	ErrCode int
	ErrStr  string
	Body    ResponseBody
}

func (r Response) Kind() Kind {
	if r.Body == nil {
		return KindUnknown
	}
	return r.Body.Kind()
}

// OK reports whether the peer reported success.
func (r Response) OK() bool {
	return r.ErrCode == ErrCodeSuccess
}

// RequestBody is implemented only by the request bodies in this package.
type RequestBody interface {
	Kind() Kind
	isRequestBody()
}

// ResponseBody is implemented only by the response bodies in this package.
type ResponseBody interface {
	Kind() Kind
	isResponseBody()
}

// AuthRequest asks the peer to authorize the host for Scope. State is echoed
// back untouched in the AuthResponse.
type AuthRequest struct {
	Scope string
	State string
}

func (AuthRequest) Kind() Kind     { return KindAuth }
func (AuthRequest) isRequestBody() {}

type AuthResponse struct {
	Code    string
	State   string
	Lang    string
	Country string
}

func (AuthResponse) Kind() Kind      { return KindAuth }
func (AuthResponse) isResponseBody() {}

// PayRequest hands a prepared payment order to the peer.
type PayRequest struct {
	PartnerID string
	PrepayID  string
	NonceStr  string
	Timestamp string
	Package   string
	Sign      string
}

func (PayRequest) Kind() Kind     { return KindPay }
func (PayRequest) isRequestBody() {}

type PayResponse struct {
	ReturnKey string
}

func (PayResponse) Kind() Kind      { return KindPay }
func (PayResponse) isResponseBody() {}

// ShowMessageRequest is sent by the peer when it wants the host to display
// content the host previously shared.
type ShowMessageRequest struct {
	Title       string
	Description string
	MessageExt  string
	Lang        string
	Country     string
}

func (ShowMessageRequest) Kind() Kind     { return KindShowMessage }
func (ShowMessageRequest) isRequestBody() {}

type ShowMessageResponse struct{}

func (ShowMessageResponse) Kind() Kind      { return KindShowMessage }
func (ShowMessageResponse) isResponseBody() {}

// Validate checks the request's field constraints before it is encoded.
func (r Request) Validate() error {
	if err := checkLen("token", r.Token); err != nil {
		return err
	}
	if err := checkLen("openid", r.OpenID); err != nil {
		return err
	}

	switch b := r.Body.(type) {
	case AuthRequest:
		if b.Scope == "" {
			return &ValidationError{Field: "scope", Reason: "required"}
		}
		return checkFields(
			field{"scope", b.Scope},
			field{"state", b.State},
		)
	case PayRequest:
		if b.PartnerID == "" {
			return &ValidationError{Field: "partnerid", Reason: "required"}
		}
		if b.PrepayID == "" {
			return &ValidationError{Field: "prepayid", Reason: "required"}
		}
		if b.Sign == "" {
			return &ValidationError{Field: "sign", Reason: "required"}
		}
		return checkFields(
			field{"partnerid", b.PartnerID},
			field{"prepayid", b.PrepayID},
			field{"noncestr", b.NonceStr},
			field{"timestamp", b.Timestamp},
			field{"package", b.Package},
			field{"sign", b.Sign},
		)
	case ShowMessageRequest:
		return checkFields(
			field{"title", b.Title},
			field{"description", b.Description},
			field{"messageext", b.MessageExt},
			field{"lang", b.Lang},
			field{"country", b.Country},
		)
	case nil:
		return &EncodingError{Key: "kind", Reason: "request has no body"}
	default:
		return &EncodingError{Key: "kind", Reason: "unsupported request body"}
	}
}

type field struct {
	name  string
	value string
}

func checkFields(fields ...field) error {
	for _, f := range fields {
		if err := checkLen(f.name, f.value); err != nil {
			return err
		}
	}
	return nil
}

func checkLen(name, value string) error {
	if len(value) > MaxFieldLen {
		return &ValidationError{Field: name, Reason: "exceeds 1024 bytes"}
	}
	return nil
}
