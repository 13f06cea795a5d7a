//go:build linux

package platform

import (
	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/linux"
	"github.com/sirupsen/logrus"
)

const defaultAdapter = AdapterDbus

// dbusStack returns the DBus radio stack adapter.
func dbusStack(opts Options, log *logrus.Entry) (bluetooth.HandsFreeStack, error) {
	return linux.NewDbusStack(linux.Options{SessionBus: opts.SessionBus}, log), nil
}
