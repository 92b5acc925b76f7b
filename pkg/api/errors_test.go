package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestTerminalMarking(t *testing.T) {
	base := errors.New("declined")

	if IsTerminal(base) {
		t.Fatal("plain error should not be terminal")
	}
	if !IsTerminal(Terminal(base)) {
		t.Fatal("Terminal(err) should be terminal")
	}
	if Terminal(nil) != nil {
		t.Fatal("Terminal(nil) should stay nil")
	}
}

func TestTerminalUnwraps(t *testing.T) {
	base := errors.New("bad chat id")
	wrapped := Terminal(base)

	if !errors.Is(wrapped, base) {
		t.Fatal("terminal wrapper should unwrap to the cause")
	}

	// A terminal error surviving further wrapping is still terminal.
	outer := fmt.Errorf("send-message: %w", wrapped)
	if !IsTerminal(outer) {
		t.Fatal("wrapping should preserve the terminal mark")
	}
}

func TestTerminalf(t *testing.T) {
	err := Terminalf("unknown activity: %s", "frobnicate")
	if !IsTerminal(err) {
		t.Fatal("Terminalf result should be terminal")
	}
	if want := "terminal: unknown activity: frobnicate"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
