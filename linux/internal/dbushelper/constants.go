//go:build linux

package dbushelper

import "github.com/godbus/dbus/v5"

// The DBus specific bus, interface and member names of the hands-free service.
const (
	HandsFreeBusName = "org.bluetuith.HandsFree"
	HandsFreeIface   = "org.bluetuith.HandsFree1"
	HandsFreePath    = dbus.ObjectPath("/org/bluetuith/handsfree")

	IndicationMember = "Indication"
)

// Method returns the fully qualified name of a hands-free service method.
func Method(name string) string {
	return HandsFreeIface + "." + name
}
