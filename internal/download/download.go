// Package download implements the GATT history-download client state
// machine for the vendor's proprietary INTELLI_ROCKS service (spec
// §4.5).
package download

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/btsensors/govee-acquired/internal/decode"
	"github.com/btsensors/govee-acquired/internal/model"
	"github.com/btsensors/govee-acquired/internal/reading"
	"github.com/btsensors/govee-acquired/internal/transport"
)

// State is one node of the state machine diagrammed in spec §4.5.
type State int

const (
	Idle State = iota
	Connected
	Resolved
	Armed
	Requested
	Draining
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connected:
		return "Connected"
	case Resolved:
		return "Resolved"
	case Armed:
		return "Armed"
	case Requested:
		return "Requested"
	case Draining:
		return "Draining"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// serviceASCII and the characteristic names are the ASCII strings the
// service/characteristic 128-bit UUIDs spell when their bytes are
// reversed (spec §4.5 step 1). Run requires the command (_12) and data
// (_13) characteristics; charOptionalASCII (_14) is not looked up, and
// neither is the _11 characteristic, so a service without _11 is
// accepted.
const (
	serviceASCII     = "INTELLI_ROCKS_HW"
	charCommandASCII = "INTELLI_ROCKS_ 12"
	charDataASCII    = "INTELLI_ROCKS_ 13"
	charOptionalASCII = "INTELLI_ROCKS_ 14"
)

var errServiceNotFound = errors.New("download: INTELLI_ROCKS service not found")

// reverseASCII interprets a UUID string (with or without dashes) as
// raw bytes in reverse order and returns those bytes as a string (no
// bytes are trimmed), so it can be substring-matched against the fixed
// service/characteristic name table.
func reverseASCII(uuid string) string {
	clean := strings.ReplaceAll(uuid, "-", "")
	raw := make([]byte, 0, len(clean)/2)
	for i := 0; i+1 < len(clean); i += 2 {
		var b byte
		if _, err := fmt.Sscanf(clean[i:i+2], "%02x", &b); err != nil {
			return ""
		}
		raw = append(raw, b)
	}
	for i, j := 0, len(raw)-1; i < j; i, j = i+1, j-1 {
		raw[i], raw[j] = raw[j], raw[i]
	}
	return string(raw)
}

func findIntelliRocksService(services []transport.Service) (transport.Service, bool) {
	for _, svc := range services {
		if strings.Contains(reverseASCII(svc.UUID), serviceASCII) {
			return svc, true
		}
	}
	return transport.Service{}, false
}

func findCharacteristic(svc transport.Service, wantASCII string) (transport.Characteristic, bool) {
	for _, c := range svc.Characteristics {
		if strings.Contains(reverseASCII(c.UUID), wantASCII) {
			return c, true
		}
	}
	return transport.Characteristic{}, false
}

// BuildRequest constructs the 20-byte history-request payload (spec
// §4.5 step 3). minutes is min(0xFFFF, (nowAligned-lastDownload)/60).
func BuildRequest(lastDownload, nowAligned time.Time) [20]byte {
	var req [20]byte
	req[0] = 0x33
	req[1] = 0x01

	minutes := int64(nowAligned.Sub(lastDownload).Seconds()) / 60
	if minutes < 0 {
		minutes = 0
	}
	if minutes > 0xFFFF {
		minutes = 0xFFFF
	}
	binary.BigEndian.PutUint16(req[2:4], uint16(minutes))
	req[5] = 0x01

	var first19 [19]byte
	copy(first19[:], req[:19])
	req[19] = xorChecksum(first19)
	return req
}

func xorChecksum(b [19]byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}

var keepalivePacket = append([]byte{0xAA, 0x01}, append(make([]byte, 17), 0xAB)...)

// Result is what a download session reports back to the scan
// controller (spec §4.5 step 5).
type Result struct {
	Success           bool
	TimeDownloadStart time.Time
	Samples           []reading.Reading
	FinalState        State
	Err               error
}

const (
	notificationsPerKeepalive = 75
	maxConsecutiveTimeouts    = 4
	retrySleep                = 100 * time.Millisecond
)

// Run drives the full state machine against an already-connected conn:
// discover, enable notifications, request history, reassemble the
// notification stream, keepalive, and disconnect. lastDownload is the
// device's previously recorded GoveeLastDownload value; battery is the
// last known battery reading used to stamp synthesized history samples
// (the history protocol carries no battery field of its own).
func Run(ctx context.Context, tr transport.Transport, conn transport.Connection, m model.Tag, lastDownload time.Time, now time.Time, battery int, logger *logrus.Entry) Result {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	state := Connected
	defer func() {
		if err := tr.Disconnect(ctx, conn); err != nil {
			logger.WithError(err).Debug("download: disconnect during teardown reported an error")
		}
	}()

	services, err := tr.Discover(ctx, conn)
	if err != nil {
		return Result{FinalState: Failed, Err: fmt.Errorf("download: discover: %w", err)}
	}
	svc, ok := findIntelliRocksService(services)
	if !ok {
		return Result{FinalState: Failed, Err: errServiceNotFound}
	}
	commandChar, ok := findCharacteristic(svc, charCommandASCII)
	if !ok {
		return Result{FinalState: Failed, Err: fmt.Errorf("download: command characteristic (_12) not found")}
	}
	dataChar, ok := findCharacteristic(svc, charDataASCII)
	if !ok {
		return Result{FinalState: Failed, Err: fmt.Errorf("download: data characteristic (_13) not found")}
	}
	state = Resolved

	for _, c := range svc.Characteristics {
		if err := tr.EnableNotify(ctx, conn, c); err != nil {
			logger.WithError(err).Debug("download: enable notify failed for one characteristic, continuing")
		}
	}
	state = Armed

	nowAligned := now.Truncate(time.Minute)
	req := BuildRequest(lastDownload, nowAligned)
	if err := tr.WriteRequest(ctx, conn, commandChar, req[:]); err != nil {
		return Result{FinalState: Failed, Err: fmt.Errorf("download: issue history request: %w", err)}
	}
	state = Requested

	notifCh := tr.Notifications(conn)
	var samples []reading.Reading
	notifCount := 0
	consecutiveTimeouts := 0

	for {
		select {
		case <-ctx.Done():
			state = Draining
			return Result{Success: len(samples) > 0, TimeDownloadStart: nowAligned, Samples: samples, FinalState: state, Err: ctx.Err()}

		case notif, open := <-notifCh:
			if !open {
				return Result{Success: len(samples) > 0, TimeDownloadStart: nowAligned, Samples: samples, FinalState: Draining,
					Err: errors.New("download: notification stream closed before termination offset")}
			}
			if notif.Characteristic.Handle != dataChar.Handle && notif.Characteristic.UUID != dataChar.UUID {
				continue
			}
			consecutiveTimeouts = 0
			notifCount++

			offset, samplesInNotif, done := parseHistoryNotification(notif.Value)
			for _, raw := range samplesInNotif {
				ts := nowAligned.Add(-time.Duration(offset) * time.Minute)
				if r, ok := decode.DecodeHistorySample(raw, m, ts.Unix(), battery); ok {
					samples = append(samples, r)
				}
				offset--
			}

			if notifCount%notificationsPerKeepalive == 0 {
				if err := tr.WriteRequest(ctx, conn, commandChar, keepalivePacket); err != nil {
					logger.WithError(err).Debug("download: keepalive write failed, continuing anyway")
				}
			}

			if done {
				state = Draining
				return Result{Success: len(samples) > 0, TimeDownloadStart: nowAligned, Samples: samples, FinalState: state}
			}

		case <-time.After(retrySleep):
			consecutiveTimeouts++
			if consecutiveTimeouts >= maxConsecutiveTimeouts {
				return Result{Success: len(samples) > 0, TimeDownloadStart: nowAligned, Samples: samples, FinalState: Failed,
					Err: transport.ErrDownloadStalled}
			}
		}
	}
}

// parseHistoryNotification splits one notification payload into its
// 2-byte big-endian remaining-offset header and up to six 3-byte
// samples (spec §4.5 step 4). done reports whether offset < 7, meaning
// this was the final chunk.
func parseHistoryNotification(payload []byte) (offset int, samples [][]byte, done bool) {
	if len(payload) < 2 {
		return 0, nil, true
	}
	offset = int(binary.BigEndian.Uint16(payload[:2]))
	body := payload[2:]
	for i := 0; i+3 <= len(body) && i < 6*3; i += 3 {
		samples = append(samples, body[i:i+3])
	}
	return offset, samples, offset < 7
}
