// Package transport defines the uniform BLE adapter contract (spec
// §4.3) that the scan controller and history downloader depend on,
// and provides two interchangeable back-ends: a tinygo.org/x/bluetooth
// implementation and a raw HCI-socket fallback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
)

// Connect-time errors (spec §4.3, §7). Each is a distinct, matchable
// variant; none of them are fatal to the daemon.
var (
	ErrConnectTimeout    = errors.New("transport: connect timed out")
	ErrConnectRefused    = errors.New("transport: connect refused")
	ErrConnectPermission = errors.New("transport: connect not permitted")
	ErrConnectTransport  = errors.New("transport: connect failed at the transport layer")
	ErrDownloadStalled   = errors.New("transport: four consecutive read timeouts with no data")
	ErrNoAdapter         = errors.New("transport: no powered adapter available")
)

// ScanType selects active or passive scanning.
type ScanType int

const (
	ScanPassive ScanType = iota
	ScanActive
)

// FilterPolicy controls which advertisements the controller reports.
type FilterPolicy int

const (
	FilterAcceptAll FilterPolicy = iota
	FilterWhitelistOnly
)

// ScanParams mirrors spec §4.3's start_scan parameter bag. Interval and
// Window are in Bluetooth 0.625 ms ticks, matching the wire units of
// the HCI LE Set Scan Parameters command.
type ScanParams struct {
	Type             ScanType
	IntervalUnits    uint16
	WindowUnits      uint16
	FilterPolicy     FilterPolicy
	DuplicateFilter  bool
}

// TickToDuration converts 0.625 ms HCI ticks to a time.Duration.
func TickToDuration(units uint16) time.Duration {
	return time.Duration(units) * 625 * time.Microsecond
}

// AdapterInfo identifies one local controller.
type AdapterInfo struct {
	Address addr.Addr
	Path    string // D-Bus object path, or the "hciN" device name for the HCI back-end
}

// Advertisement is one observed BLE broadcast (spec §4.3).
type Advertisement struct {
	Address          addr.Addr
	Flavor           addr.Flavor
	RSSI             int16
	HasRSSI          bool
	LocalName        string
	ServiceUUIDs     []string
	ManufacturerData map[uint16][]byte
	ServiceData      map[string][]byte
	RawLength        int
}

// CharacteristicProperties mirrors the GATT property flags relevant to
// this daemon: read, write, write-without-response, and notify.
type CharacteristicProperties struct {
	Read            bool
	Write           bool
	WriteNoResponse bool
	Notify          bool
}

// Characteristic describes one discovered GATT characteristic.
type Characteristic struct {
	UUID       string
	Handle     uint16
	Properties CharacteristicProperties
}

// Service describes one discovered GATT primary service.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Notification is one (characteristic, value) push delivered without
// client acknowledgment.
type Notification struct {
	Characteristic Characteristic
	Value          []byte
}

// AdapterHandle identifies a selected, powered local controller.
type AdapterHandle interface {
	Info() AdapterInfo
}

// Connection identifies an open GATT link to one remote device.
type Connection interface {
	Address() addr.Addr
}

// Transport is the trait the scan controller and history downloader
// depend on exclusively (spec §9 design note); the concrete back-end
// (tinygo.org/x/bluetooth or raw HCI) is an implementation detail
// neither caller needs to know about.
type Transport interface {
	ListAdapters(ctx context.Context) ([]AdapterInfo, error)
	SelectAdapter(ctx context.Context, address *addr.Addr) (AdapterHandle, error)
	Power(ctx context.Context, h AdapterHandle, on bool) error
	SetRandomAddress(ctx context.Context, h AdapterHandle, random [6]byte) error

	StartScan(ctx context.Context, h AdapterHandle, params ScanParams) error
	StopScan(ctx context.Context, h AdapterHandle) error
	WhitelistSet(ctx context.Context, h AdapterHandle, addrs []addr.Addr) error
	WhitelistClear(ctx context.Context, h AdapterHandle) error
	Advertisements(h AdapterHandle) <-chan Advertisement

	Connect(ctx context.Context, h AdapterHandle, a addr.Addr, flavor addr.Flavor, timeout time.Duration) (Connection, error)
	Discover(ctx context.Context, conn Connection) ([]Service, error)
	EnableNotify(ctx context.Context, conn Connection, c Characteristic) error
	DisableNotify(ctx context.Context, conn Connection, c Characteristic) error
	WriteRequest(ctx context.Context, conn Connection, c Characteristic, data []byte) error
	Notifications(conn Connection) <-chan Notification
	Disconnect(ctx context.Context, conn Connection) error
}

// AddrFlavorForConnect derives the flavor the transport must send with
// every connection request: top two bits of the MSB being 11 means
// random; anything else means public (spec §4.3). Getting this wrong
// is, per the spec, the single most frequent cause of "connect
// refused" in the wild. The scan controller derives the flavor here and
// passes it to Transport.Connect; the HCI back-end sends it as the
// L2CAP address type, while BluetoothBackend.Connect does not pass it on.
func AddrFlavorForConnect(a addr.Addr) addr.Flavor {
	return a.Flavor()
}

// WithExtendedFallback runs primary; if it fails, it runs extended and
// returns that result instead. This is the single place the "try the
// standard HCI command, fall back to the Extended variant on error"
// policy (spec §4.3, §9 design note) lives. The HCI back-end's StartScan
// uses it for LE Set Scan Parameters and LE Set Scan Enable. Its Connect
// opens the link through the kernel's L2CAP socket connect, issues no
// LE Create Connection command, and so has no extended fallback.
func WithExtendedFallback(primary, extended func() error) error {
	if err := primary(); err != nil {
		if extErr := extended(); extErr != nil {
			return fmt.Errorf("transport: standard command failed (%v), extended variant also failed: %w", err, extErr)
		}
		return nil
	}
	return nil
}
