package sessionstore

import (
	"errors"
	"testing"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
)

func TestStoreIndicatorsPerPeer(t *testing.T) {
	t.Parallel()

	store := NewSessionStore()
	a := bluetooth.MacAddress{1, 2, 3, 4, 5, 6}
	b := bluetooth.MacAddress{6, 5, 4, 3, 2, 1}

	store.UpdateIndicator(a, bluetooth.EventBattery, 3)
	store.UpdateIndicator(a, bluetooth.EventBattery, 4)
	store.UpdateIndicator(a, bluetooth.EventSignal, 5)
	store.UpdateIndicator(b, bluetooth.EventBattery, 1)

	ind, ok := store.Indicator(a, bluetooth.EventBattery)
	if !ok || ind.Value != 4 {
		t.Fatalf("expected battery=4 for a, got %+v ok=%t", ind, ok)
	}

	peer, err := store.Peer(a)
	if err != nil {
		t.Fatalf("peer a: %v", err)
	}
	if len(peer.Indicators) != 2 {
		t.Fatalf("expected 2 indicators for a, got %d", len(peer.Indicators))
	}
	if got := len(store.Peers()); got != 2 {
		t.Fatalf("expected 2 peers, got %d", got)
	}

	store.RemovePeer(a)
	if _, err := store.Peer(a); !errors.Is(err, errorkinds.ErrPeerNotKnown) {
		t.Fatalf("expected ErrPeerNotKnown after removal, got %v", err)
	}
	if _, ok := store.Indicator(a, bluetooth.EventSignal); ok {
		t.Fatalf("expected indicators of a to be removed")
	}
	if _, ok := store.Indicator(b, bluetooth.EventBattery); !ok {
		t.Fatalf("expected indicators of b to remain")
	}

	store.Clear()
	if got := len(store.Peers()); got != 0 {
		t.Fatalf("expected empty store, got %d peers", got)
	}
}
