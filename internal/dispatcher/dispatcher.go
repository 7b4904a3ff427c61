// Package dispatcher implements the initialization-gated command state machine.
//
// Every command is handled on the looper's owner goroutine. Presentation
// calls run there directly; blocking vendor calls run on their own goroutine
// and resume on the owner goroutine when they resolve. Session state is only
// read or written on the owner goroutine, so logout and reset act as
// serialization points for every other command.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-messaging-bridge/internal/events"
	"github.com/tinywideclouds/go-messaging-bridge/internal/looper"
	"github.com/tinywideclouds/go-messaging-bridge/internal/session"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// Options captures the per-platform differences in the contract.
type Options struct {
	// HideRequiresSurface makes hideConversation fail without a foreground
	// surface (Android behavior).
	HideRequiresSurface bool
	// NoSurfaceCode is the failure code used when no surface is available:
	// bridge.CodeNoActivity or bridge.CodeNoRootVC.
	NoSurfaceCode string
	// VendorTimeout bounds each asynchronous vendor call. Zero means no bound.
	VendorTimeout time.Duration
}

// OptionsForPlatform returns the defaults for "android" and "ios". Any other
// platform gets the Android rules.
func OptionsForPlatform(platform string) Options {
	if platform == "ios" {
		return Options{NoSurfaceCode: bridge.CodeNoRootVC}
	}
	return Options{HideRequiresSurface: true, NoSurfaceCode: bridge.CodeNoActivity}
}

type Dispatcher struct {
	vendor   bridge.Vendor
	caps     bridge.Capabilities
	surfaces bridge.SurfaceProvider
	emitter  *events.Emitter
	loop     *looper.Looper
	opts     Options
	logger   *slog.Logger

	// Owned by the looper goroutine.
	session     *session.Session
	pendingInit *initAttempt
}

type initAttempt struct {
	gen     uint64
	id      bridge.Identity
	waiters []*once
}

// New wires the dispatcher. When the vendor implements bridge.Notifier, its
// callbacks are routed into the event stream.
func New(
	vendor bridge.Vendor,
	surfaces bridge.SurfaceProvider,
	emitter *events.Emitter,
	loop *looper.Looper,
	opts Options,
	logger *slog.Logger,
) *Dispatcher {
	if opts.NoSurfaceCode == "" {
		opts.NoSurfaceCode = bridge.CodeNoActivity
	}
	d := &Dispatcher{
		vendor:   vendor,
		caps:     vendor.Capabilities(),
		surfaces: surfaces,
		emitter:  emitter,
		loop:     loop,
		opts:     opts,
		logger:   logger.With("component", "Dispatcher"),
		session:  session.New(),
	}
	if n, ok := vendor.(bridge.Notifier); ok {
		n.SetNotificationListener(&listener{d: d})
	}
	return d
}

// Dispatch hands cmd to the owner goroutine and returns immediately. reply
// is invoked exactly once, from an arbitrary goroutine.
func (d *Dispatcher) Dispatch(cmd bridge.Command, reply Reply) {
	r := newOnce(cmd.Method, reply)
	if !d.loop.Post(func() { d.handle(cmd, r) }) {
		r.resolve(bridge.Failed(bridge.CodeNativeError, "bridge is detached"))
	}
}

// Call dispatches cmd and waits for its result or for ctx to end.
func (d *Dispatcher) Call(ctx context.Context, cmd bridge.Command) bridge.Result {
	results := make(chan bridge.Result, 1)
	d.Dispatch(cmd, func(r bridge.Result) { results <- r })
	select {
	case r := <-results:
		return r
	case <-ctx.Done():
		return bridge.Failed(bridge.CodeNativeError, ctx.Err().Error())
	}
}

// Bind attaches the event consumer. The newest binding wins.
func (d *Dispatcher) Bind(sink bridge.Sink) {
	d.emitter.Bind(sink)
}

// Unbind detaches sink if it is still the active consumer.
func (d *Dispatcher) Unbind(sink bridge.Sink) {
	d.emitter.UnbindIf(sink)
}

// Snapshot reads the session on the owner goroutine.
func (d *Dispatcher) Snapshot(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := d.loop.Run(ctx, func() { snap = d.session.Snapshot() })
	return snap, err
}

func (d *Dispatcher) handle(cmd bridge.Command, r *once) {
	defer func() {
		if p := recover(); p != nil {
			d.nativeFailure(r, &panicError{value: p})
		}
	}()

	args := cmd.Arguments
	switch cmd.Method {
	case bridge.MethodInitialize:
		d.initialize(args, r)
	case bridge.MethodShowConversation:
		d.showConversation(args, r)
	case bridge.MethodHideConversation, bridge.MethodDismissConversation:
		d.hideConversation(r)
	case bridge.MethodSetUserProfile:
		d.setUserProfile(args, r)
	case bridge.MethodRegisterPushToken:
		d.registerPush(args, r)
	case bridge.MethodUnregisterPushToken:
		d.unregisterPush(r)
	case bridge.MethodGetUnreadCount:
		d.getUnreadCount(args, r)
	case bridge.MethodSetDebugLogging:
		d.setDebugLogging(args, r)
	case bridge.MethodLogout:
		d.logout(r)
	case bridge.MethodReset:
		d.reset(r)
	default:
		d.logger.Debug("Unsupported method", "method", cmd.Method)
		r.resolve(bridge.NotImplemented())
	}
}

// async runs a blocking vendor call off the owner goroutine and resumes done
// on it. If the looper is gone by then, the command still resolves.
func (d *Dispatcher) async(r *once, call func(ctx context.Context) error, done func(err error)) {
	go func() {
		ctx, cancel := d.vendorContext()
		defer cancel()
		err := safeCall(func() error { return call(ctx) })
		if !d.loop.Post(func() { done(err) }) {
			r.resolve(bridge.Failed(bridge.CodeNativeError, "bridge is detached"))
		}
	}()
}

// presentCall runs a presentation call on the owner goroutine. The vendor
// gets the bounded vendor context and must hand any store work off the
// calling goroutine.
func (d *Dispatcher) presentCall(call func(ctx context.Context) error) error {
	ctx, cancel := d.vendorContext()
	defer cancel()
	return safeCall(func() error { return call(ctx) })
}

func (d *Dispatcher) vendorContext() (context.Context, context.CancelFunc) {
	if d.opts.VendorTimeout > 0 {
		return context.WithTimeout(context.Background(), d.opts.VendorTimeout)
	}
	return context.WithCancel(context.Background())
}

// vendorFailure resolves a failed vendor call: one Failure result plus one
// error event. Panics always surface as native_error.
func (d *Dispatcher) vendorFailure(r *once, code string, err error) {
	var pe *panicError
	if errors.As(err, &pe) {
		d.nativeFailure(r, err)
		return
	}
	f := failureFrom(code, err)
	d.logger.Warn("Vendor call failed", "method", r.method, "code", f.Code, "err", err)
	d.emitter.Push(bridge.ErrorEvent(f))
	r.resolve(bridge.Fail(f))
}

func (d *Dispatcher) nativeFailure(r *once, err error) {
	f := &bridge.Failure{
		Code:    bridge.CodeNativeError,
		Message: err.Error(),
		Details: fmt.Sprintf("%T", err),
	}
	var pe *panicError
	if errors.As(err, &pe) {
		f.Details = fmt.Sprintf("%T", pe.value)
	}
	d.logger.Error("Native error during command", "method", r.method, "err", err)
	d.emitter.Push(bridge.ErrorEvent(f))
	r.resolve(bridge.Fail(f))
}

// failureFrom keeps the vendor's message and details but applies the
// command's failure code.
func failureFrom(code string, err error) *bridge.Failure {
	var vf *bridge.Failure
	if errors.As(err, &vf) {
		return &bridge.Failure{Code: code, Message: vf.Message, Details: vf.Details}
	}
	return &bridge.Failure{Code: code, Message: err.Error()}
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("vendor panic: %v", p.value)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	return fn()
}
