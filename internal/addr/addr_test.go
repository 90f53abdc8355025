package addr

import "testing"

func TestParseFormatRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"colon upper", "AA:BB:CC:DD:EE:FF", "AA:BB:CC:DD:EE:FF"},
		{"colon lower", "aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"bare hex", "AABBCCDDEEFF", "AA:BB:CC:DD:EE:FF"},
		{"bare hex lower", "aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			if got := a.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse("AA:BB:CC"); err == nil {
		t.Fatal("expected error for short address")
	}
}

func TestFlavor(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want Flavor
	}{
		{"public, msb 00", "00:11:22:33:44:55", Public},
		{"public, msb 7F", "7F:11:22:33:44:55", Public},
		{"random-static, msb top two bits 11", "C0:11:22:33:44:55", RandomStatic},
		{"random-static, msb FF", "FF:11:22:33:44:55", RandomStatic},
		{"public, msb 80 (top bits 10)", "80:11:22:33:44:55", Public},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustParse(tt.addr)
			if got := a.Flavor(); got != tt.want {
				t.Errorf("Flavor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHex12(t *testing.T) {
	a := MustParse("AA:BB:CC:DD:EE:FF")
	if got := a.Hex12(); got != "aabbccddeeff" {
		t.Errorf("Hex12() = %q, want %q", got, "aabbccddeeff")
	}
}

func TestLess(t *testing.T) {
	a := MustParse("00:00:00:00:00:01")
	b := MustParse("00:00:00:00:00:02")
	if !Less(a, b) || Less(b, a) {
		t.Errorf("Less ordering broken for %v, %v", a, b)
	}
}
