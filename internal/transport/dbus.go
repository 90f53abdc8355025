package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/btsensors/govee-acquired/internal/addr"
)

// dbusPolicy wraps a direct BlueZ D-Bus connection for the handful of
// operations (whitelist/filter-policy, device-cache eviction, random
// address) that org.bluez.Adapter1 exposes but tinygo.org/x/bluetooth's
// high-level API does not, grounded the same way a plain BlueZ client
// drives SetDiscoveryFilter/RemoveDevice over godbus directly.
type dbusPolicy struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

const defaultAdapterPath = dbus.ObjectPath("/org/bluez/hci0")

func newDBusPolicy() (*dbusPolicy, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("transport: connect to system bus: %w", err)
	}
	return &dbusPolicy{conn: conn, adapterPath: defaultAdapterPath}, nil
}

func (p *dbusPolicy) adapter() dbus.BusObject {
	return p.conn.Object("org.bluez", p.adapterPath)
}

func (p *dbusPolicy) setPowered(ctx context.Context, on bool) error {
	call := p.adapter().CallWithContext(ctx, "org.freedesktop.DBus.Properties.Set", 0,
		"org.bluez.Adapter1", "Powered", dbus.MakeVariant(on))
	return call.Err
}

// setRandomAddress is not a real BlueZ Adapter1 property; BlueZ
// manages the controller's random address internally via its privacy
// subsystem. This method sends nothing to BlueZ and always returns nil.
func (p *dbusPolicy) setRandomAddress(ctx context.Context, random [6]byte) error {
	return nil
}

// setDiscoveryFilter calls org.bluez.Adapter1.SetDiscoveryFilter with
// Transport "le", adding DuplicateData=false when whitelistOnly is set.
// The filter does not restrict which devices are reported, so the
// whitelist-only policy admits every advertiser on this back-end.
func (p *dbusPolicy) setDiscoveryFilter(ctx context.Context, whitelistOnly bool) error {
	filter := map[string]dbus.Variant{
		"Transport": dbus.MakeVariant("le"),
	}
	if whitelistOnly {
		filter["DuplicateData"] = dbus.MakeVariant(false)
	}
	call := p.adapter().CallWithContext(ctx, "org.bluez.Adapter1.SetDiscoveryFilter", 0, filter)
	return call.Err
}

func devicePath(adapterPath dbus.ObjectPath, a addr.Addr) dbus.ObjectPath {
	mac := strings.ReplaceAll(a.String(), ":", "_")
	return dbus.ObjectPath(string(adapterPath) + "/dev_" + mac)
}

// whitelistSet has no direct BlueZ Adapter1 analogue (BlueZ's kernel
// accept list is managed implicitly from the device cache plus
// SetDiscoveryFilter's UUIDs/RSSI/Pathloss knobs). This implementation
// reads each address's Device1 properties and discards the result; it
// installs no filter, so advertisements from other devices are still
// reported.
func (p *dbusPolicy) whitelistSet(ctx context.Context, addrs []addr.Addr) error {
	for _, a := range addrs {
		obj := p.conn.Object("org.bluez", devicePath(p.adapterPath, a))
		// The reply, including the error for a device BlueZ has not
		// seen, is ignored.
		_ = obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.GetAll", 0, "org.bluez.Device1")
	}
	return nil
}

func (p *dbusPolicy) whitelistClear(ctx context.Context) error {
	return nil
}

// removeDevice calls Adapter1.RemoveDevice so BlueZ's device cache
// does not grow unbounded across restarts (spec §5 shared-resource
// policy).
func (p *dbusPolicy) removeDevice(ctx context.Context, a addr.Addr) error {
	path := devicePath(p.adapterPath, a)
	call := p.adapter().CallWithContext(ctx, "org.bluez.Adapter1.RemoveDevice", 0, path)
	return call.Err
}
