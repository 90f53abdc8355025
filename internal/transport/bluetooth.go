package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/btsensors/govee-acquired/internal/addr"
)

// BluetoothBackend is the preferred back-end (spec §4.3): it drives
// tinygo.org/x/bluetooth, which on Linux talks to BlueZ over D-Bus
// internally. Operations BlueZ exposes but tinygo's high-level API
// does not — whitelist/filter-policy and device-cache cleanup — are
// done directly against D-Bus by dbusPolicy (dbus.go), grounded the
// same way the teacher's Scan loop drives *bluetooth.Adapter.
type BluetoothBackend struct {
	Logger *logrus.Entry
	policy *dbusPolicy // nil if the BlueZ D-Bus connection could not be opened

	mu      sync.Mutex
	conns   map[addr.Addr]*btConnection
}

// NewBluetoothBackend opens an auxiliary BlueZ D-Bus connection for
// whitelist/filter-policy control; a failure there is logged but not
// fatal; StartScan still works with the default accept-all policy.
func NewBluetoothBackend(logger *logrus.Entry) *BluetoothBackend {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &BluetoothBackend{Logger: logger, conns: make(map[addr.Addr]*btConnection)}
	policy, err := newDBusPolicy()
	if err != nil {
		logger.WithError(err).Warn("transport: BlueZ D-Bus policy connection unavailable; whitelist/filter-policy calls will be no-ops")
	} else {
		b.policy = policy
	}
	return b
}

type btAdapterHandle struct {
	adapter *bluetooth.Adapter
	info    AdapterInfo
	advCh   chan Advertisement
}

func (h *btAdapterHandle) Info() AdapterInfo { return h.info }

type btConnection struct {
	address addr.Addr
	device  bluetooth.Device
	notifCh chan Notification
}

func (c *btConnection) Address() addr.Addr { return c.address }

// ListAdapters reports the single default adapter; tinygo's Linux
// backend does not enumerate multiple BlueZ adapters, matching the
// teacher's use of bluetooth.DefaultAdapter as the sole controller.
func (b *BluetoothBackend) ListAdapters(ctx context.Context) ([]AdapterInfo, error) {
	return []AdapterInfo{{Address: 0, Path: "/org/bluez/hci0"}}, nil
}

// SelectAdapter enables the default adapter, matching the teacher's
// main.go startup sequence (adapter.Enable()).
func (b *BluetoothBackend) SelectAdapter(ctx context.Context, address *addr.Addr) (AdapterHandle, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAdapter, err)
	}
	return &btAdapterHandle{
		adapter: adapter,
		info:    AdapterInfo{Path: "/org/bluez/hci0"},
		advCh:   make(chan Advertisement, 64),
	}, nil
}

func (b *BluetoothBackend) Power(ctx context.Context, h AdapterHandle, on bool) error {
	ah := h.(*btAdapterHandle)
	if on {
		return ah.adapter.Enable()
	}
	if b.policy != nil {
		return b.policy.setPowered(ctx, false)
	}
	return nil
}

// SetRandomAddress is a BlueZ-only capability tinygo does not expose;
// it is routed through the D-Bus policy helper.
func (b *BluetoothBackend) SetRandomAddress(ctx context.Context, h AdapterHandle, random [6]byte) error {
	if b.policy == nil {
		return nil
	}
	return b.policy.setRandomAddress(ctx, random)
}

func (b *BluetoothBackend) StartScan(ctx context.Context, h AdapterHandle, params ScanParams) error {
	ah := h.(*btAdapterHandle)

	if b.policy != nil {
		if err := b.policy.setDiscoveryFilter(ctx, params.FilterPolicy == FilterWhitelistOnly); err != nil {
			b.Logger.WithError(err).Warn("transport: setting discovery filter policy failed")
		}
	}

	go func() {
		err := ah.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			ah.advCh <- adFromScanResult(result)
		})
		if err != nil {
			b.Logger.WithError(err).Warn("transport: scan loop exited")
		}
	}()
	return nil
}

func (b *BluetoothBackend) StopScan(ctx context.Context, h AdapterHandle) error {
	ah := h.(*btAdapterHandle)
	return ah.adapter.StopScan()
}

func (b *BluetoothBackend) WhitelistSet(ctx context.Context, h AdapterHandle, addrs []addr.Addr) error {
	if b.policy == nil {
		return nil
	}
	return b.policy.whitelistSet(ctx, addrs)
}

func (b *BluetoothBackend) WhitelistClear(ctx context.Context, h AdapterHandle) error {
	if b.policy == nil {
		return nil
	}
	return b.policy.whitelistClear(ctx)
}

func (b *BluetoothBackend) Advertisements(h AdapterHandle) <-chan Advertisement {
	return h.(*btAdapterHandle).advCh
}

func adFromScanResult(result bluetooth.ScanResult) Advertisement {
	a := addr.FromBytes(addrBytesFromMAC(result.Address))
	ad := Advertisement{
		Address:          a,
		Flavor:           a.Flavor(),
		RSSI:             int16(result.RSSI),
		HasRSSI:          true,
		LocalName:        result.LocalName(),
		ManufacturerData: make(map[uint16][]byte),
		ServiceData:      make(map[string][]byte),
	}
	for _, entry := range result.ManufacturerData() {
		ad.ManufacturerData[entry.CompanyID] = entry.Data
	}
	for _, u := range result.ServiceData() {
		ad.ServiceData[u.UUID.String()] = u.Data
	}
	for _, u := range result.ServiceUUIDs() {
		ad.ServiceUUIDs = append(ad.ServiceUUIDs, u.String())
	}
	return ad
}

// addrBytesFromMAC extracts the 6 big-endian-on-the-wire address bytes
// from a tinygo bluetooth.Address's MAC representation.
func addrBytesFromMAC(a bluetooth.Address) [6]byte {
	var out [6]byte
	copy(out[:], a.MAC[:])
	return out
}

func (b *BluetoothBackend) Connect(ctx context.Context, h AdapterHandle, a addr.Addr, flavor addr.Flavor, timeout time.Duration) (Connection, error) {
	ah := h.(*btAdapterHandle)

	addrBytes := a.Bytes()
	mac := bluetooth.MACAddress{}
	copy(mac.MAC[:], addrBytes[:])
	params := bluetooth.ConnectionParams{}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		dev bluetooth.Device
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		dev, err := ah.adapter.Connect(bluetooth.Address{MACAddress: mac}, params)
		resCh <- result{dev, err}
	}()

	select {
	case <-connectCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrConnectTimeout, connectCtx.Err())
	case r := <-resCh:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectTransport, r.err)
		}
		conn := &btConnection{address: a, device: r.dev, notifCh: make(chan Notification, 32)}
		b.mu.Lock()
		b.conns[a] = conn
		b.mu.Unlock()
		return conn, nil
	}
}

func (b *BluetoothBackend) Discover(ctx context.Context, conn Connection) ([]Service, error) {
	c := conn.(*btConnection)
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("transport: discover services: %w", err)
	}

	out := make([]Service, 0, len(svcs))
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("transport: discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		s := Service{UUID: svc.UUID().String()}
		for _, ch := range chars {
			s.Characteristics = append(s.Characteristics, Characteristic{
				UUID: ch.UUID().String(),
				Properties: CharacteristicProperties{
					Read: true, Write: true, WriteNoResponse: true, Notify: true,
				},
			})
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *BluetoothBackend) findCharacteristic(conn Connection, c Characteristic) (bluetooth.DeviceCharacteristic, error) {
	bc := conn.(*btConnection)
	svcs, err := bc.device.DiscoverServices(nil)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			continue
		}
		for _, ch := range chars {
			if ch.UUID().String() == c.UUID {
				return ch, nil
			}
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("transport: characteristic %s not found", c.UUID)
}

func (b *BluetoothBackend) EnableNotify(ctx context.Context, conn Connection, c Characteristic) error {
	bc := conn.(*btConnection)
	ch, err := b.findCharacteristic(conn, c)
	if err != nil {
		return err
	}
	return ch.EnableNotifications(func(value []byte) {
		bc.notifCh <- Notification{Characteristic: c, Value: append([]byte(nil), value...)}
	})
}

func (b *BluetoothBackend) DisableNotify(ctx context.Context, conn Connection, c Characteristic) error {
	ch, err := b.findCharacteristic(conn, c)
	if err != nil {
		return err
	}
	return ch.EnableNotifications(nil)
}

func (b *BluetoothBackend) WriteRequest(ctx context.Context, conn Connection, c Characteristic, data []byte) error {
	ch, err := b.findCharacteristic(conn, c)
	if err != nil {
		return err
	}
	_, err = ch.WriteWithoutResponse(data)
	return err
}

func (b *BluetoothBackend) Notifications(conn Connection) <-chan Notification {
	return conn.(*btConnection).notifCh
}

func (b *BluetoothBackend) Disconnect(ctx context.Context, conn Connection) error {
	bc := conn.(*btConnection)
	b.mu.Lock()
	delete(b.conns, bc.address)
	b.mu.Unlock()

	err := bc.device.Disconnect()
	if b.policy != nil {
		if rmErr := b.policy.removeDevice(ctx, bc.address); rmErr != nil {
			b.Logger.WithError(rmErr).Debug("transport: RemoveDevice failed during disconnect teardown")
		}
	}
	return err
}
