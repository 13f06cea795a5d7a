package sessionstore

import (
	"fmt"
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/puzpuzpuz/xsync/v3"
)

// Indicator holds the last value reported for an informational indication.
type Indicator struct {
	Kind      bluetooth.EventKind `json:"kind"`
	Value     int                 `json:"value"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// PeerData holds the last-known indicator values of a peer.
type PeerData struct {
	Address    bluetooth.MacAddress              `json:"address"`
	Indicators map[bluetooth.EventKind]Indicator `json:"indicators,omitempty"`
}

type indicatorKey struct {
	address bluetooth.MacAddress
	kind    bluetooth.EventKind
}

// SessionStore describes a concurrent store of indicator values, keyed by peer.
// The controller writes to it; any goroutine may read from it.
type SessionStore struct {
	indicators *xsync.MapOf[indicatorKey, Indicator]
	peers      *xsync.MapOf[bluetooth.MacAddress, struct{}]
}

// NewSessionStore returns a new SessionStore.
func NewSessionStore() SessionStore {
	return SessionStore{
		indicators: xsync.NewMapOf[indicatorKey, Indicator](),
		peers:      xsync.NewMapOf[bluetooth.MacAddress, struct{}](),
	}
}

// UpdateIndicator records the latest value of an indicator for a peer.
func (s *SessionStore) UpdateIndicator(address bluetooth.MacAddress, kind bluetooth.EventKind, value int) Indicator {
	indicator := Indicator{Kind: kind, Value: value, UpdatedAt: time.Now()}

	s.peers.Store(address, struct{}{})
	s.indicators.Store(indicatorKey{address, kind}, indicator)

	return indicator
}

// Indicator returns the last value of an indicator for a peer.
func (s *SessionStore) Indicator(address bluetooth.MacAddress, kind bluetooth.EventKind) (Indicator, bool) {
	return s.indicators.Load(indicatorKey{address, kind})
}

// Peer returns all known indicator values of a peer.
func (s *SessionStore) Peer(address bluetooth.MacAddress) (PeerData, error) {
	if _, ok := s.peers.Load(address); !ok {
		return PeerData{}, fmt.Errorf("get %q: %w", address.String(), errorkinds.ErrPeerNotKnown)
	}

	peer := PeerData{
		Address:    address,
		Indicators: make(map[bluetooth.EventKind]Indicator),
	}

	s.indicators.Range(func(key indicatorKey, indicator Indicator) bool {
		if key.address == address {
			peer.Indicators[key.kind] = indicator
		}

		return true
	})

	return peer, nil
}

// Peers returns the addresses of all peers with recorded indicators.
func (s *SessionStore) Peers() []bluetooth.MacAddress {
	peers := make([]bluetooth.MacAddress, 0, s.peers.Size())

	s.peers.Range(func(address bluetooth.MacAddress, _ struct{}) bool {
		peers = append(peers, address)

		return true
	})

	return peers
}

// RemovePeer removes a peer and all its indicators from the store.
func (s *SessionStore) RemovePeer(address bluetooth.MacAddress) {
	s.peers.Delete(address)

	s.indicators.Range(func(key indicatorKey, _ Indicator) bool {
		if key.address == address {
			s.indicators.Delete(key)
		}

		return true
	})
}

// Clear removes everything from the store.
func (s *SessionStore) Clear() {
	s.indicators.Clear()
	s.peers.Clear()
}
