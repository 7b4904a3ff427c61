package dispatcher

import (
	"sync"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// Reply receives a command's terminal result.
type Reply func(bridge.Result)

// once guards a Reply so every command resolves exactly once. Extra
// resolutions are dropped and reported to the caller.
type once struct {
	method bridge.Method
	mu     sync.Mutex
	fn     Reply
}

func newOnce(method bridge.Method, fn Reply) *once {
	return &once{method: method, fn: fn}
}

func (o *once) resolve(r bridge.Result) bool {
	o.mu.Lock()
	fn := o.fn
	o.fn = nil
	o.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(r)
	return true
}
