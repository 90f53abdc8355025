package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/btsensors/govee-acquired/internal/addr"
)

func TestAddrFlavorForConnect(t *testing.T) {
	if AddrFlavorForConnect(addr.MustParse("C0:11:22:33:44:55")) != addr.RandomStatic {
		t.Error("top two bits 11 must select RandomStatic")
	}
	if AddrFlavorForConnect(addr.MustParse("08:11:22:33:44:55")) != addr.Public {
		t.Error("non-11 top bits must select Public")
	}
}

func TestWithExtendedFallbackPrimarySucceeds(t *testing.T) {
	calledExtended := false
	err := WithExtendedFallback(
		func() error { return nil },
		func() error { calledExtended = true; return nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calledExtended {
		t.Error("extended variant must not run when the primary succeeds")
	}
}

func TestWithExtendedFallbackFallsBackOnError(t *testing.T) {
	calledExtended := false
	err := WithExtendedFallback(
		func() error { return errors.New("not supported") },
		func() error { calledExtended = true; return nil },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !calledExtended {
		t.Error("extended variant must run when the primary fails")
	}
}

func TestWithExtendedFallbackBothFail(t *testing.T) {
	err := WithExtendedFallback(
		func() error { return errors.New("primary failed") },
		func() error { return errors.New("extended failed") },
	)
	if err == nil {
		t.Fatal("expected an error when both variants fail")
	}
}

func TestTickToDuration(t *testing.T) {
	if TickToDuration(1600) != time.Second {
		t.Errorf("TickToDuration(1600) = %v, want 1s", TickToDuration(1600))
	}
}
