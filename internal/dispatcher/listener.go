package dispatcher

import (
	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

// listener funnels vendor callbacks onto the owner goroutine and into the
// event stream.
type listener struct {
	d *Dispatcher
}

func (l *listener) PushReceived(n bridge.Notification) {
	l.d.loop.Post(func() {
		if !l.d.session.Ready() {
			l.d.logger.Debug("Dropping push while not initialized", "account_id", n.AccountID, "app_id", n.AppID)
			return
		}
		if n.Identity != l.d.session.Identity {
			l.d.logger.Debug("Dropping push for another identity", "account_id", n.AccountID, "app_id", n.AppID)
			return
		}
		ev := bridge.NewEvent(bridge.EventPushReceived,
			"conversationId", n.ConversationID,
			"title", n.Title,
			"body", n.Body,
		)
		if len(n.Data) > 0 {
			ev.Fields["data"] = n.Data
		}
		l.d.emitter.Push(ev)
	})
}

func (l *listener) PushRegistrationFinished(id bridge.Identity) {
	l.d.loop.Post(func() {
		l.d.emitter.Push(bridge.NewEvent(bridge.EventPushRegistrationFinished))
	})
}

func (l *listener) PushRegistrationFailed(id bridge.Identity, err error) {
	l.d.loop.Post(func() {
		l.d.emitter.Push(bridge.NewEvent(bridge.EventPushRegistrationFailed, "message", err.Error()))
	})
}

func (l *listener) ConnectionChanged(state string) {
	l.d.loop.Post(func() {
		l.d.emitter.Push(bridge.NewEvent(bridge.EventConnection, "state", state))
	})
}

func (l *listener) ConversationChanged(state string) {
	l.d.loop.Post(func() {
		l.d.emitter.Push(bridge.NewEvent(bridge.EventConversation, "state", state))
	})
}
