package inbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mpetrov/colloquy/pkg/api"
)

func TestDeliver_FirstThenNext(t *testing.T) {
	b := New()

	slot, ok := b.Deliver("hello")
	if !ok || slot != api.SlotFirstAnswer {
		t.Fatalf("first delivery: slot=%v ok=%v", slot, ok)
	}
	if v, err := b.Await(context.Background(), api.SlotFirstAnswer, 0); err != nil || v != "hello" {
		t.Fatalf("Await(first) = %q, %v", v, err)
	}

	slot, ok = b.Deliver("blue")
	if !ok || slot != api.SlotNextAnswer {
		t.Fatalf("second delivery: slot=%v ok=%v", slot, ok)
	}
	if v, err := b.Await(context.Background(), api.SlotNextAnswer, 0); err != nil || v != "blue" {
		t.Fatalf("Await(next) = %q, %v", v, err)
	}
}

func TestDeliver_DuplicateDropped(t *testing.T) {
	b := New()

	if slot, ok := b.Deliver("once"); !ok || slot != api.SlotFirstAnswer {
		t.Fatalf("first delivery: slot=%v ok=%v", slot, ok)
	}
	// A rapid second message routes ahead into the empty next-answer slot.
	if slot, ok := b.Deliver("twice"); !ok || slot != api.SlotNextAnswer {
		t.Fatalf("second delivery: slot=%v ok=%v", slot, ok)
	}
	// With next-answer still occupied, a repeat is dropped unconsumed.
	if slot, ok := b.Deliver("thrice"); ok {
		t.Fatalf("duplicate accepted into slot %v", slot)
	}

	if v, err := b.Await(context.Background(), api.SlotFirstAnswer, 0); err != nil || v != "once" {
		t.Fatalf("Await(first) = %q, %v", v, err)
	}
	if v, err := b.Await(context.Background(), api.SlotNextAnswer, 0); err != nil || v != "twice" {
		t.Fatalf("Await(next) = %q, %v", v, err)
	}

	// After consumption the slot accepts a fresh delivery again.
	if slot, ok := b.Deliver("later"); !ok || slot != api.SlotNextAnswer {
		t.Fatalf("post-consume delivery: slot=%v ok=%v", slot, ok)
	}
}

func TestPrime_RoutesPastFirstSlot(t *testing.T) {
	b := New()
	b.Prime(3)

	if slot, ok := b.Deliver("resumed"); !ok || slot != api.SlotNextAnswer {
		t.Fatalf("primed delivery: slot=%v ok=%v", slot, ok)
	}
}

func TestAwait_BlocksUntilDelivery(t *testing.T) {
	b := New()

	got := make(chan string, 1)
	go func() {
		v, err := b.Await(context.Background(), api.SlotFirstAnswer, 0)
		if err != nil {
			t.Errorf("Await failed: %v", err)
		}
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	b.Deliver("finally")

	select {
	case v := <-got:
		if v != "finally" {
			t.Fatalf("Await = %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Await never woke up")
	}
}

func TestAwait_Timeout(t *testing.T) {
	b := New()

	_, err := b.Await(context.Background(), api.SlotFirstAnswer, 20*time.Millisecond)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("got %v, want ErrAwaitTimeout", err)
	}
}

func TestAwait_ContextCancel(t *testing.T) {
	b := New()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := b.Await(ctx, api.SlotFirstAnswer, 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestAwait_WrongSlotStaysBlocked(t *testing.T) {
	b := New()
	b.Deliver("for-first")

	// Waiting on next-answer must not consume the first-answer value.
	if _, err := b.Await(context.Background(), api.SlotNextAnswer, 20*time.Millisecond); !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("got %v, want ErrAwaitTimeout", err)
	}
	if v, err := b.Await(context.Background(), api.SlotFirstAnswer, 0); err != nil || v != "for-first" {
		t.Fatalf("Await(first) = %q, %v", v, err)
	}
}
