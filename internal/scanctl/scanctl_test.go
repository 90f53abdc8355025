package scanctl

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btsensors/govee-acquired/internal/addr"
	"github.com/btsensors/govee-acquired/internal/config"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/state"
	"github.com/btsensors/govee-acquired/internal/transport"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// fakeHandle and fakeTransport implement just enough of the Transport
// contract to drive the supervision loop without a real adapter.
type fakeHandle struct{ info transport.AdapterInfo }

func (h fakeHandle) Info() transport.AdapterInfo { return h.info }

type fakeTransport struct {
	advCh        chan transport.Advertisement
	startScans   int
	stopScans    int
	whitelistSet []addr.Addr
}

func (f *fakeTransport) ListAdapters(ctx context.Context) ([]transport.AdapterInfo, error) {
	return []transport.AdapterInfo{{Address: addr.MustParse("00:00:00:00:00:01")}}, nil
}
func (f *fakeTransport) SelectAdapter(ctx context.Context, a *addr.Addr) (transport.AdapterHandle, error) {
	return fakeHandle{info: transport.AdapterInfo{Address: addr.MustParse("00:00:00:00:00:01")}}, nil
}
func (f *fakeTransport) Power(ctx context.Context, h transport.AdapterHandle, on bool) error {
	return nil
}
func (f *fakeTransport) SetRandomAddress(ctx context.Context, h transport.AdapterHandle, random [6]byte) error {
	return nil
}
func (f *fakeTransport) StartScan(ctx context.Context, h transport.AdapterHandle, params transport.ScanParams) error {
	f.startScans++
	return nil
}
func (f *fakeTransport) StopScan(ctx context.Context, h transport.AdapterHandle) error {
	f.stopScans++
	return nil
}
func (f *fakeTransport) WhitelistSet(ctx context.Context, h transport.AdapterHandle, addrs []addr.Addr) error {
	f.whitelistSet = addrs
	return nil
}
func (f *fakeTransport) WhitelistClear(ctx context.Context, h transport.AdapterHandle) error {
	return nil
}
func (f *fakeTransport) Advertisements(h transport.AdapterHandle) <-chan transport.Advertisement {
	return f.advCh
}
func (f *fakeTransport) Connect(ctx context.Context, h transport.AdapterHandle, a addr.Addr, flavor addr.Flavor, timeout time.Duration) (transport.Connection, error) {
	return nil, transport.ErrConnectRefused
}
func (f *fakeTransport) Discover(ctx context.Context, conn transport.Connection) ([]transport.Service, error) {
	return nil, nil
}
func (f *fakeTransport) EnableNotify(ctx context.Context, conn transport.Connection, c transport.Characteristic) error {
	return nil
}
func (f *fakeTransport) DisableNotify(ctx context.Context, conn transport.Connection, c transport.Characteristic) error {
	return nil
}
func (f *fakeTransport) WriteRequest(ctx context.Context, conn transport.Connection, c transport.Characteristic, data []byte) error {
	return nil
}
func (f *fakeTransport) Notifications(conn transport.Connection) <-chan transport.Notification {
	return nil
}
func (f *fakeTransport) Disconnect(ctx context.Context, conn transport.Connection) error {
	return nil
}

func h5075Payload() []byte {
	// v = 0x030F34 = 200500 -> temp 20.0C, humidity 50.0%; battery 90.
	return []byte{0x00, 0x03, 0x0F, 0x34, 0x5A, 0x00}
}

func TestHandleAdvertisementFeedsStateOnValidDecode(t *testing.T) {
	ft := &fakeTransport{advCh: make(chan transport.Advertisement, 1)}
	c := &Controller{
		Transport: ft,
		State:     state.New(),
		Config:    config.Default(),
		Logger:    testLogger(),
		cycle:     config.DefaultScanCycle,
	}

	a := addr.MustParse("AA:BB:CC:DD:EE:FF")
	adv := transport.Advertisement{
		Address:          a,
		ManufacturerData: map[uint16][]byte{0xEC88: h5075Payload()},
	}
	c.handleAdvertisement(context.Background(), adv)

	if got := c.State.Model(a); got != model.H5075 {
		t.Fatalf("Model() = %v, want H5075", got)
	}
	last, ok := c.State.LastReading(a)
	if !ok {
		t.Fatal("expected a last reading to be recorded")
	}
	if last.Temperature[0] != 20.0 {
		t.Errorf("Temperature[0] = %v, want 20.0", last.Temperature[0])
	}
	drained := c.State.DrainLogQueue(a)
	if len(drained) != 1 {
		t.Errorf("expected exactly one queued reading, got %d", len(drained))
	}
}

func TestHandleAdvertisementIgnoresUndecodablePayload(t *testing.T) {
	ft := &fakeTransport{advCh: make(chan transport.Advertisement, 1)}
	c := &Controller{
		Transport: ft,
		State:     state.New(),
		Config:    config.Default(),
	}
	a := addr.MustParse("AA:BB:CC:DD:EE:FF")
	adv := transport.Advertisement{
		Address:          a,
		ManufacturerData: map[uint16][]byte{0x004C: {0x01, 0x02}}, // Apple, always rejected
	}
	c.handleAdvertisement(context.Background(), adv)

	if got := c.State.Model(a); got != model.Unknown {
		t.Errorf("Model() = %v, want Unknown (no valid decode occurred)", got)
	}
}

func TestResolveWhitelistExpandsMagicBroadcast(t *testing.T) {
	c := &Controller{
		State:     state.New(),
		Whitelist: []addr.Addr{addr.Broadcast},
	}
	known := addr.MustParse("AA:BB:CC:DD:EE:FF")
	c.State.RegisterModel(known, model.H5075)

	got, policy := c.resolveWhitelist()
	if policy != transport.FilterWhitelistOnly {
		t.Errorf("policy = %v, want FilterWhitelistOnly", policy)
	}
	if len(got) != 1 || got[0] != known {
		t.Errorf("resolveWhitelist() = %v, want [%v]", got, known)
	}
}

func TestResolveWhitelistEmptyMeansAcceptAll(t *testing.T) {
	c := &Controller{State: state.New()}
	got, policy := c.resolveWhitelist()
	if policy != transport.FilterAcceptAll {
		t.Errorf("policy = %v, want FilterAcceptAll", policy)
	}
	if got != nil {
		t.Errorf("resolveWhitelist() = %v, want nil", got)
	}
}

func TestRestartScanAdvancesCycleIndex(t *testing.T) {
	ft := &fakeTransport{}
	c := &Controller{
		Transport: ft,
		State:     state.New(),
		cycle:     []config.CycleUnits{{18, 18}, {96, 48}},
	}
	if err := c.restartScan(context.Background()); err != nil {
		t.Fatalf("restartScan: %v", err)
	}
	if err := c.restartScan(context.Background()); err != nil {
		t.Fatalf("restartScan: %v", err)
	}
	if ft.startScans != 2 {
		t.Errorf("startScans = %d, want 2", ft.startScans)
	}
	if c.cycleIndex != 2 {
		t.Errorf("cycleIndex = %d, want 2", c.cycleIndex)
	}
}

func TestQualifiesForDownloadRequiresKnownModelAndLogDir(t *testing.T) {
	c := &Controller{
		State:  state.New(),
		Config: config.Config{LogDir: "", DownloadInterval: time.Hour},
	}
	a := addr.MustParse("AA:BB:CC:DD:EE:FF")
	c.State.RegisterModel(a, model.H5075)

	now := time.Now()
	if c.qualifiesForDownload(a, now) {
		t.Error("must not qualify with an empty LogDir")
	}
	c.Config.LogDir = "/tmp/gvh-logs"
	if !c.qualifiesForDownload(a, now) {
		t.Error("must qualify: known model, configured log dir, never downloaded")
	}
	c.State.SetLastDownload(a, now)
	if c.qualifiesForDownload(a, now) {
		t.Error("must not qualify immediately after a download")
	}
}
