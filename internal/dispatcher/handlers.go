package dispatcher

import (
	"context"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-messaging-bridge/internal/auth"
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

func (d *Dispatcher) initialize(args map[string]any, r *once) {
	if args == nil {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "Missing arguments"))
		return
	}
	if !d.surfaces.ApplicationAttached() {
		r.resolve(bridge.Failed(bridge.CodeNoContext, "Application context is null"))
		return
	}

	id := bridge.Identity{
		AccountID: stringArg(args, argAccountID),
		AppID:     stringArg(args, argAppID),
	}
	if !id.Complete() {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "accountId and appId are required"))
		return
	}

	if d.session.Initialized {
		if id != d.session.Identity {
			d.logger.Warn("initialize ignored for a different identity; call reset first",
				"account_id", id.AccountID, "app_id", id.AppID)
		}
		r.resolve(bridge.Success(nil))
		return
	}
	if d.pendingInit != nil {
		if id != d.pendingInit.id {
			d.logger.Warn("initialize for a different identity joined the attempt in flight; call reset first",
				"account_id", id.AccountID, "app_id", id.AppID,
				"pending_account_id", d.pendingInit.id.AccountID)
		}
		d.pendingInit.waiters = append(d.pendingInit.waiters, r)
		return
	}

	debug := boolArg(args, argDebugLogging)
	d.session.DebugLogging = debug
	d.emitter.SetDebug(debug)

	params := bridge.InitParams{
		Identity:          id,
		MonitoringEnabled: boolArg(args, argMonitoringEnabled),
		InstallationID:    stringArg(args, argInstallationID),
	}
	if params.MonitoringEnabled && params.InstallationID == "" {
		params.InstallationID = uuid.NewString()
	}

	attempt := &initAttempt{gen: d.session.Generation(), id: id, waiters: []*once{r}}
	d.pendingInit = attempt

	d.async(r,
		func(ctx context.Context) error { return d.vendor.Initialize(ctx, params) },
		func(err error) { d.finishInit(attempt, err) },
	)
}

func (d *Dispatcher) finishInit(attempt *initAttempt, err error) {
	if d.pendingInit == attempt {
		d.pendingInit = nil
	}

	var result bridge.Result
	switch {
	case err != nil:
		d.logger.Warn("Vendor initialize failed", "account_id", attempt.id.AccountID, "err", err)
		result = bridge.Fail(failureFrom(bridge.CodeInitFailed, err))
	case !d.session.Current(attempt.gen):
		result = bridge.Failed(bridge.CodeInitFailed, "session was reset while initializing")
	default:
		d.session.MarkInitialized(attempt.id)
		d.logger.Info("Bridge initialized", "account_id", attempt.id.AccountID, "app_id", attempt.id.AppID)
		d.emitter.Push(bridge.NewEvent(bridge.EventInitialized))
		result = bridge.Success(nil)
	}

	for _, w := range attempt.waiters {
		w.resolve(result)
	}
}

func (d *Dispatcher) showConversation(args map[string]any, r *once) {
	if !d.session.Ready() {
		r.resolve(bridge.Failed(bridge.CodeNotInitialized, "SDK not initialized"))
		return
	}
	surface, ok := d.surfaces.Foreground()
	if !ok {
		r.resolve(bridge.Failed(d.opts.NoSurfaceCode, "No foreground presentation context"))
		return
	}

	req := bridge.ConversationRequest{
		AccountID: d.session.AccountID,
		Auth:      auth.Restrict(auth.FromArguments(args), d.caps),
	}
	err := d.presentCall(func(ctx context.Context) error {
		return d.vendor.ShowConversation(ctx, surface, req)
	})
	if err != nil {
		d.nativeFailure(r, err)
		return
	}
	d.emitter.Push(bridge.NewEvent(bridge.EventConversationShown))
	r.resolve(bridge.Success(nil))
}

func (d *Dispatcher) hideConversation(r *once) {
	surface, ok := d.surfaces.Foreground()
	if !ok {
		if d.opts.HideRequiresSurface {
			r.resolve(bridge.Failed(d.opts.NoSurfaceCode, "No foreground presentation context"))
			return
		}
		surface = nil
	}

	err := d.presentCall(func(ctx context.Context) error {
		return d.vendor.HideConversation(ctx, surface)
	})
	if err != nil {
		d.nativeFailure(r, err)
		return
	}
	d.emitter.Push(bridge.NewEvent(bridge.EventConversationHidden))
	r.resolve(bridge.Success(nil))
}

func (d *Dispatcher) setUserProfile(args map[string]any, r *once) {
	if args == nil {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "Missing arguments"))
		return
	}
	profile := bridge.Profile{
		Identity:    d.session.Identity,
		FirstName:   stringArg(args, argFirstName),
		LastName:    stringArg(args, argLastName),
		PhoneNumber: stringArg(args, argPhoneNumber),
	}

	d.async(r,
		func(ctx context.Context) error { return d.vendor.SetUserProfile(ctx, profile) },
		func(err error) {
			if err != nil {
				d.vendorFailure(r, bridge.CodeNativeError, err)
				return
			}
			d.emitter.Push(bridge.NewEvent(bridge.EventProfileSet))
			r.resolve(bridge.Success(nil))
		},
	)
}

func (d *Dispatcher) registerPush(args map[string]any, r *once) {
	if args == nil {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "Missing arguments"))
		return
	}
	if !d.session.Ready() {
		r.resolve(bridge.Failed(bridge.CodeNotInitialized, "SDK not initialized"))
		return
	}
	token := stringArg(args, argToken)
	if token == "" {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "token is required"))
		return
	}

	reg := bridge.PushRegistration{
		Identity: d.session.Identity,
		Token:    token,
		Auth:     auth.Restrict(auth.FromArguments(args), d.caps),
	}
	d.async(r,
		func(ctx context.Context) error { return d.vendor.RegisterPush(ctx, reg) },
		func(err error) {
			if err != nil {
				d.vendorFailure(r, bridge.CodePushRegisterFailed, err)
				return
			}
			d.emitter.Push(bridge.NewEvent(bridge.EventPushRegistered))
			r.resolve(bridge.Success(nil))
		},
	)
}

func (d *Dispatcher) unregisterPush(r *once) {
	if !d.session.Ready() {
		r.resolve(bridge.Failed(bridge.CodeNotInitialized, "SDK not initialized"))
		return
	}

	id := d.session.Identity
	d.async(r,
		func(ctx context.Context) error { return d.vendor.UnregisterPush(ctx, id) },
		func(err error) {
			if err != nil {
				d.vendorFailure(r, bridge.CodePushUnregisterFailed, err)
				return
			}
			d.emitter.Push(bridge.NewEvent(bridge.EventPushUnregistered))
			r.resolve(bridge.Success(nil))
		},
	)
}

func (d *Dispatcher) getUnreadCount(args map[string]any, r *once) {
	if d.session.AppID == "" {
		r.resolve(bridge.Failed(bridge.CodeNotInitialized, "SDK not initialized"))
		return
	}

	q := bridge.UnreadQuery{
		Identity: d.session.Identity,
		Auth:     auth.Restrict(auth.FromArguments(args), d.caps),
	}
	var count int
	d.async(r,
		func(ctx context.Context) error {
			var err error
			count, err = d.vendor.GetUnreadCount(ctx, q)
			return err
		},
		func(err error) {
			if err != nil {
				d.vendorFailure(r, bridge.CodeUnreadCountFailed, err)
				return
			}
			r.resolve(bridge.Success(count))
		},
	)
}

func (d *Dispatcher) setDebugLogging(args map[string]any, r *once) {
	if args == nil {
		r.resolve(bridge.Failed(bridge.CodeInvalidArgs, "Missing arguments"))
		return
	}
	enabled := boolArg(args, argEnabled)
	d.session.DebugLogging = enabled
	d.emitter.SetDebug(enabled)
	r.resolve(bridge.Success(nil))
}

func (d *Dispatcher) logout(r *once) {
	d.session.Logout()
	d.pendingInit = nil
	d.emitter.Push(bridge.NewEvent(bridge.EventConnection, "state", bridge.StateDisconnected))
	r.resolve(bridge.Success(nil))
}

func (d *Dispatcher) reset(r *once) {
	surface, ok := d.surfaces.Foreground()
	if ok || !d.opts.HideRequiresSurface {
		if err := d.presentCall(func(ctx context.Context) error {
			return d.vendor.HideConversation(ctx, surface)
		}); err != nil {
			d.logger.Debug("Best-effort hide during reset failed", "err", err)
		}
	}

	d.session.Reset()
	d.pendingInit = nil
	d.emitter.SetDebug(false)
	r.resolve(bridge.Success(nil))
}
