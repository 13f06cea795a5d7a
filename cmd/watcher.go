package cmd

import (
	"context"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/eventbus"
	sstore "github.com/bluetuith-org/handsfree/api/helpers/sessionstore"
	"github.com/bluetuith-org/handsfree/handsfree"
	"github.com/sirupsen/logrus"
)

// watcher logs the controller's observability events.
// When a peer's link ends, its last-known indicators are read back from the store.
type watcher struct {
	log   *logrus.Entry
	store *sstore.SessionStore
	peer  bluetooth.MacAddress

	state, indicators, commands, errors eventbus.SubscriberID
}

// newWatcher subscribes to the controller topics. It must be created before
// the controller runs so that no event is missed.
func newWatcher(bus *eventbus.Bus, store *sstore.SessionStore, log *logrus.Entry) *watcher {
	return &watcher{
		log:        log,
		store:      store,
		state:      bus.Subscribe(handsfree.TopicState),
		indicators: bus.Subscribe(handsfree.TopicIndicator),
		commands:   bus.Subscribe(handsfree.TopicCommand),
		errors:     bus.Subscribe(handsfree.TopicError),
	}
}

func (w *watcher) watch(ctx context.Context) {
	defer w.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return

		case data, ok := <-w.state.C:
			if !ok {
				return
			}
			if change, ok := data.(handsfree.StateChange); ok {
				w.logState(change)
			}

		case data, ok := <-w.indicators.C:
			if !ok {
				return
			}
			if update, ok := data.(handsfree.IndicatorUpdate); ok {
				w.log.WithFields(logrus.Fields{
					"indicator": update.Kind,
					"peer":      update.Peer,
				}).Debugf("indicator value %d", update.Value)
			}

		case data, ok := <-w.commands.C:
			if !ok {
				return
			}
			if result, ok := data.(handsfree.CommandResult); ok && result.Err != nil {
				printWarn(result.Command.String() + ": " + result.Err.Error())
			}

		case data, ok := <-w.errors.C:
			if !ok {
				return
			}
			if report, ok := data.(handsfree.ErrorReport); ok {
				printError(report)
			}
		}
	}
}

func (w *watcher) logState(change handsfree.StateChange) {
	s := change.Session

	w.log.WithFields(logrus.Fields{
		"connection": s.Connection,
		"call":       s.Call,
		"peer":       s.Peer,
		"running":    s.Running,
	}).Info("session state changed")

	switch {
	case s.HasPeer():
		w.peer = s.Peer

	case !w.peer.IsNil():
		w.reportIndicators(w.peer)
		w.peer = bluetooth.MacAddress{}
	}
}

// reportIndicators logs the last-known indicator values of a peer.
func (w *watcher) reportIndicators(peer bluetooth.MacAddress) {
	data, err := w.store.Peer(peer)
	if err != nil {
		w.log.WithError(err).Debug("no indicators were recorded")
		return
	}

	fields := logrus.Fields{"peer": peer.String()}
	for kind, indicator := range data.Indicators {
		fields[kind.String()] = indicator.Value
	}

	w.log.WithFields(fields).Info("last known indicators")
}

func (w *watcher) unsubscribe() {
	for _, sub := range []eventbus.SubscriberID{w.state, w.indicators, w.commands, w.errors} {
		sub.Unsubscribe()
	}
}
