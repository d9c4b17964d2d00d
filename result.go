package sonarfit

import "sync"

// Reply is the terminal answer to one invocation. Exactly one of Value, Err
// or NotImplemented is meaningful.
type Reply struct {
	Value          any
	Err            error
	NotImplemented bool
}

func Success(value any) Reply {
	return Reply{Value: value}
}

func Failure(err error) Reply {
	if err == nil {
		err = Internal(nil)
	}
	return Reply{Err: err}
}

// NotImplementedReply signals an unsupported method. It is not an error.
func NotImplementedReply() Reply {
	return Reply{NotImplemented: true}
}

func (r Reply) IsError() bool {
	return r.Err != nil
}

// Code returns the error text code, "" for successes and unsupported methods.
func (r Reply) Code() string {
	if r.Err == nil {
		return ""
	}
	return CodeOf(r.Err)
}

// ResultFunc receives the reply of one invocation.
type ResultFunc func(Reply)

// ReplyOnce wraps a ResultFunc so it fires at most once, no matter how many
// goroutines race to deliver.
type ReplyOnce struct {
	mu        sync.Mutex
	fn        ResultFunc
	delivered bool
	reply     Reply
}

func NewReplyOnce(fn ResultFunc) *ReplyOnce {
	return &ReplyOnce{fn: fn}
}

// Deliver forwards reply to the wrapped func if nothing was delivered yet.
// It returns false when the reply was dropped.
func (r *ReplyOnce) Deliver(reply Reply) bool {
	r.mu.Lock()
	if r.delivered {
		r.mu.Unlock()
		return false
	}
	r.delivered = true
	r.reply = reply
	fn := r.fn
	r.mu.Unlock()

	if fn != nil {
		fn(reply)
	}
	return true
}

// Func exposes Deliver as a ResultFunc.
func (r *ReplyOnce) Func() ResultFunc {
	return func(reply Reply) {
		r.Deliver(reply)
	}
}

// Load returns the delivered reply, if any.
func (r *ReplyOnce) Load() (Reply, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reply, r.delivered
}
