package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/egozi/hebrew-audio-chatbot/session"
)

// tuiObserver forwards session events into the Bubble Tea program.
type tuiObserver struct{}

func (tuiObserver) StateChanged(from, to session.State) {
	tuiSend(StateMsg{From: from, To: to})
}

func (tuiObserver) TranscriptReceived(text string) {
	tuiSend(TranscriptMsg{Text: text})
}

func (tuiObserver) EnergyChanged(level float64, speaking bool) {
	tuiSend(EnergyMsg{Level: level, Speaking: speaking})
}

func (tuiObserver) ErrorReported(kind session.ErrorKind, msg string) {
	tuiSend(ErrorMsg{Kind: kind, Text: msg})
}

// consoleObserver prints one plain line per event. Both -tui=false runs and
// the stdin-driven test mode use it, so the output format is part of the
// headless contract.
type consoleObserver struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleObserver) StateChanged(from, to session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "state %s -> %s\n", from, to)
}

func (c *consoleObserver) TranscriptReceived(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "transcript %s\n", text)
}

func (c *consoleObserver) EnergyChanged(float64, bool) {}

func (c *consoleObserver) ErrorReported(kind session.ErrorKind, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "error [%s] %s\n", kind, msg)
}
