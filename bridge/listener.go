package bridge

// Listener receives decoded inbound messages. OnReq is called for requests the
// peer initiated; the host answers them with SendResp. OnResp is called for
// the peer's answer to an earlier SendReq.
type Listener interface {
	OnReq(Request)
	OnResp(Response)
}

// ListenerFuncs adapts plain functions to Listener. Either may be nil.
type ListenerFuncs struct {
	Req  func(Request)
	Resp func(Response)
}

func (f ListenerFuncs) OnReq(req Request) {
	if f.Req != nil {
		f.Req(req)
	}
}

func (f ListenerFuncs) OnResp(resp Response) {
	if f.Resp != nil {
		f.Resp(resp)
	}
}
