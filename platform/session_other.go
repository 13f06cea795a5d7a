//go:build !linux

package platform

import (
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/sirupsen/logrus"
)

const defaultAdapter = AdapterShim

// dbusStack is only available on Linux.
func dbusStack(Options, *logrus.Entry) (bluetooth.HandsFreeStack, error) {
	return nil, errorkinds.ErrNotSupported
}
