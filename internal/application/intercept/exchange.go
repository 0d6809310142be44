package intercept

import (
	"context"
	"net/http"
	"sync"
)

// ReadyState 回调式请求的生命周期状态
type ReadyState int

const (
	StateUnsent ReadyState = iota
	StateOpened
	StateHeadersReceived
	StateLoading
	StateDone
)

// String 状态名
func (s ReadyState) String() string {
	switch s {
	case StateUnsent:
		return "UNSENT"
	case StateOpened:
		return "OPENED"
	case StateHeadersReceived:
		return "HEADERS_RECEIVED"
	case StateLoading:
		return "LOADING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Exchange 一次回调式请求
// 调用方设置请求字段和回调后交给 CallbackTransport.Send，结果通过回调或 Done 获取。
type Exchange struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte

	// OnReadyStateChange 每次状态变化时调用
	OnReadyStateChange func(x *Exchange)
	// OnLoad 请求成功完成时调用
	OnLoad func(x *Exchange)
	// OnError 请求失败时调用
	OnError func(x *Exchange, err error)

	mu         sync.Mutex
	state      ReadyState
	status     int
	respHeader http.Header
	respBody   []byte
	err        error
	done       chan struct{}
	finished   bool
}

// NewExchange 创建请求
func NewExchange(method, url string, body []byte) *Exchange {
	return &Exchange{
		Method: method,
		URL:    url,
		Header: make(http.Header),
		Body:   body,
		done:   make(chan struct{}),
	}
}

func (x *Exchange) doneChan() chan struct{} {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.done == nil {
		x.done = make(chan struct{})
	}
	return x.done
}

// ReadyState 当前状态
func (x *Exchange) ReadyState() ReadyState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Status 响应状态码，未完成或失败时为 0
func (x *Exchange) Status() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.status
}

// ResponseHeader 响应头
func (x *Exchange) ResponseHeader() http.Header {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.respHeader
}

// ResponseBody 响应体
func (x *Exchange) ResponseBody() []byte {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.respBody
}

// Err 失败原因
func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Done 请求结束（成功或失败）时关闭
func (x *Exchange) Done() <-chan struct{} {
	return x.doneChan()
}

// Wait 等待请求结束，返回请求本身的错误
func (x *Exchange) Wait(ctx context.Context) error {
	select {
	case <-x.Done():
		return x.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance 推进到中间状态并通知回调，不会回退或越过 StateLoading
func (x *Exchange) Advance(state ReadyState) {
	if state >= StateDone {
		return
	}
	x.mu.Lock()
	if x.finished || state <= x.state {
		x.mu.Unlock()
		return
	}
	x.state = state
	cb := x.OnReadyStateChange
	x.mu.Unlock()

	if cb != nil {
		cb(x)
	}
}

// Complete 以响应结束请求，重复调用无效
func (x *Exchange) Complete(status int, header http.Header, body []byte) {
	done := x.doneChan()

	x.mu.Lock()
	if x.finished {
		x.mu.Unlock()
		return
	}
	x.finished = true
	x.state = StateDone
	x.status = status
	x.respHeader = header
	x.respBody = body
	onChange, onLoad := x.OnReadyStateChange, x.OnLoad
	x.mu.Unlock()

	if onChange != nil {
		onChange(x)
	}
	if onLoad != nil {
		onLoad(x)
	}
	close(done)
}

// Fail 以错误结束请求，重复调用无效
func (x *Exchange) Fail(err error) {
	done := x.doneChan()

	x.mu.Lock()
	if x.finished {
		x.mu.Unlock()
		return
	}
	x.finished = true
	x.state = StateDone
	x.status = 0
	x.err = err
	onChange, onError := x.OnReadyStateChange, x.OnError
	x.mu.Unlock()

	if onChange != nil {
		onChange(x)
	}
	if onError != nil {
		onError(x, err)
	}
	close(done)
}
