package player

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateTickShape(t *testing.T) {
	tick := generateTick(44100, 1200, 0.03, 0.5, 60)
	wantLen := int(44100*0.03) * 2
	if len(tick) != wantLen {
		t.Fatalf("len = %d, want %d", len(tick), wantLen)
	}

	// First sample of a sine is zero.
	first := int16(tick[0]) | int16(tick[1])<<8
	if first != 0 {
		t.Fatalf("first sample = %d", first)
	}

	// Decay envelope: peak of the last quarter must fall below peak of the
	// first quarter.
	peak := func(seg []byte) int16 {
		var max int16
		for i := 0; i+1 < len(seg); i += 2 {
			s := int16(seg[i]) | int16(seg[i+1])<<8
			if s < 0 {
				s = -s
			}
			if s > max {
				max = s
			}
		}
		return max
	}
	quarter := len(tick) / 4 / 2 * 2
	head := peak(tick[:quarter])
	tail := peak(tick[len(tick)-quarter:])
	if tail >= head {
		t.Fatalf("no decay: head peak %d, tail peak %d", head, tail)
	}
}

func TestGenerateTickZeroDuration(t *testing.T) {
	if got := generateTick(44100, 1200, 0, 0.5, 60); len(got) != 0 {
		t.Fatalf("len = %d", len(got))
	}
}

func TestFakePlayerCompletes(t *testing.T) {
	f := NewFake()
	done := make(chan error, 1)
	f.Play([]byte{1, 2, 3, 4}, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("completion never fired")
	}
	if got := f.Played(); len(got) != 1 || len(got[0]) != 4 {
		t.Fatalf("played = %v", got)
	}
}

func TestFakePlayerReportsError(t *testing.T) {
	f := NewFake()
	f.Err = errors.New("device gone")
	done := make(chan error, 1)
	f.Play(nil, func(err error) { done <- err })
	if err := <-done; err == nil {
		t.Fatal("expected error")
	}
}

func TestFakePlayerTickOrder(t *testing.T) {
	f := NewFake()
	f.StartTick()
	f.EndTick()
	got := f.Ticks()
	if len(got) != 2 || got[0] != "start" || got[1] != "end" {
		t.Fatalf("ticks = %v", got)
	}
}
