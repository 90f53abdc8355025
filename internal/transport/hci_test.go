package transport

import (
	"testing"
)

func TestBuildHCICommand(t *testing.T) {
	cmd := buildHCICommand(ogfLEController, ocfLESetScanEnable, []byte{0x01, 0x00})
	if cmd[0] != hciCommandPkt {
		t.Fatalf("packet type = 0x%02x, want 0x01", cmd[0])
	}
	if len(cmd) != 4+2 {
		t.Fatalf("len(cmd) = %d, want 6", len(cmd))
	}
	if cmd[3] != 2 {
		t.Errorf("length byte = %d, want 2", cmd[3])
	}
}

func TestLeSetScanParametersParamsActiveWhitelist(t *testing.T) {
	p := leSetScanParametersParams(ScanActive, 8000, 800, 0x01, FilterWhitelistOnly)
	if p[0] != 0x01 {
		t.Errorf("scan type byte = %d, want active(1)", p[0])
	}
	if p[6] != 0x01 {
		t.Errorf("filter policy byte = %d, want whitelist-only(1)", p[6])
	}
}

// TestXORChecksumProperty is spec §8 testable property 7: the sum of
// all 20 bytes of the outgoing history request, XORed, equals zero
// once the checksum byte is included.
func TestXORChecksumProperty(t *testing.T) {
	var req [20]byte
	req[0] = 0x33
	req[1] = 0x01
	req[2], req[3] = 0x00, 0x3C
	req[5] = 0x01

	var first19 [19]byte
	copy(first19[:], req[:19])
	req[19] = xorChecksum18(first19)

	var sum byte
	for _, b := range req {
		sum ^= b
	}
	if sum != 0 {
		t.Errorf("XOR of all 20 bytes = 0x%02x, want 0", sum)
	}
}

func TestAttBuildReadByGroupType(t *testing.T) {
	req := attBuildReadByGroupType(1, 0xFFFF, 0x2800)
	if req[0] != attOpReadByGroupTypeReq {
		t.Errorf("opcode = 0x%02x, want 0x10", req[0])
	}
	if len(req) != 7 {
		t.Errorf("len(req) = %d, want 7", len(req))
	}
}

func TestAttBuildWriteRequest(t *testing.T) {
	req := attBuildWriteRequest(0x0012, []byte{0x01, 0x00})
	if req[0] != attOpWriteReq {
		t.Fatalf("opcode = 0x%02x, want 0x12", req[0])
	}
	if len(req) != 5 {
		t.Fatalf("len(req) = %d, want 5", len(req))
	}
}

func TestAttParseHandleValueNotification(t *testing.T) {
	pdu := []byte{attOpHandleValueNotify, 0x12, 0x00, 0xAA, 0xBB, 0xCC}
	handle, value, ok := attParseHandleValueNotification(pdu)
	if !ok {
		t.Fatal("expected ok=true for a well-formed notification PDU")
	}
	if handle != 0x0012 {
		t.Errorf("handle = 0x%04x, want 0x0012", handle)
	}
	if len(value) != 3 {
		t.Errorf("len(value) = %d, want 3", len(value))
	}
}

func TestAttParseHandleValueNotificationRejectsWrongOpcode(t *testing.T) {
	if _, _, ok := attParseHandleValueNotification([]byte{attOpWriteRsp}); ok {
		t.Fatal("a non-notification PDU must not parse as one")
	}
}

func TestParseADStructuresExtractsNameAndManufacturerData(t *testing.T) {
	var ad Advertisement
	ad.ManufacturerData = make(map[uint16][]byte)

	data := []byte{
		0x04, 0x09, 'G', 'V', 'H', // complete local name "GVH"
		0x04, 0xFF, 0x88, 0xEC, 0x01, // manufacturer data, company 0xEC88, payload {0x01}
	}
	parseADStructures(data, &ad)

	if ad.LocalName != "GVH" {
		t.Errorf("LocalName = %q, want GVH", ad.LocalName)
	}
	if string(ad.ManufacturerData[0xEC88]) != "\x01" {
		t.Errorf("ManufacturerData[0xEC88] = %v, want [0x01]", ad.ManufacturerData[0xEC88])
	}
}
