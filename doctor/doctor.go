// Package doctor runs interactive diagnostics for everything the chat loop
// needs: the push-to-talk hotkey, the microphone, audio output, and the
// server endpoint.
package doctor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/egozi/hebrew-audio-chatbot/audio"
	"github.com/egozi/hebrew-audio-chatbot/config"
	"github.com/egozi/hebrew-audio-chatbot/hotkey"
	"github.com/egozi/hebrew-audio-chatbot/player"
)

// Run executes the checks in order and returns an exit code (0=all pass).
func Run(cfg *config.Config) int {
	resetTerminal()
	setupInterruptHandler()

	fmt.Println("hebrew-audio-chatbot doctor - interactive system diagnostics")
	fmt.Println("============================================================")

	allPass := true
	if !checkHotkey() {
		allPass = false
	}
	if !checkMicrophone(cfg) {
		allPass = false
	}
	if !checkPlayback(cfg) {
		allPass = false
	}
	if !checkServer(cfg) {
		allPass = false
	}

	fmt.Println()
	if allPass {
		fmt.Println("All checks passed!")
		return 0
	}
	fmt.Println("Some checks failed. See details above.")
	return 1
}

func checkHotkey() bool {
	fmt.Println()
	fmt.Println("[1/4] Hotkey detection")
	if msg, err := hotkey.Diagnose(); err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		return false
	} else {
		fmt.Printf("  %s\n", msg)
	}
	fmt.Println("Press Ctrl+Shift+Space...")

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		fmt.Printf("  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	select {
	case <-hk.Keydown():
		fmt.Println("  PASS: hotkey detected")
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: timeout waiting for hotkey")
		return false
	}
}

func checkMicrophone(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[2/4] Microphone")

	ctx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer ctx.Close()

	devices, err := ctx.Devices()
	if err != nil {
		fmt.Printf("  FAIL: cannot list devices: %v\n", err)
		return false
	}
	if len(devices) == 0 {
		fmt.Println("  FAIL: no capture devices found")
		return false
	}
	fmt.Printf("Using device: %s\n", devices[0].Name)
	if audio.IsBluetooth(devices[0].Name) {
		fmt.Println("  note: bluetooth microphones often capture at degraded quality")
	}

	capture, err := ctx.NewCapture(&devices[0], audio.CaptureConfig{
		SampleRate: uint32(cfg.Capture.SampleRate),
		Channels:   uint32(cfg.Capture.Channels),
		FrameSize:  uint32(cfg.Capture.FrameSize),
	})
	if err != nil {
		fmt.Printf("  FAIL: cannot open capture device: %v\n", err)
		return false
	}
	defer capture.Close()

	fmt.Println("Say something for 3 seconds...")
	var mu sync.Mutex
	peak := 0.0
	capture.SetCallback(func(data []byte, _ uint32) {
		rms := audio.RMS(audio.PCM16ToFloat(data))
		mu.Lock()
		if rms > peak {
			peak = rms
		}
		mu.Unlock()
	})
	if err := capture.Start(); err != nil {
		fmt.Printf("  FAIL: cannot start capture: %v\n", err)
		return false
	}
	time.Sleep(3 * time.Second)
	capture.Stop()

	mu.Lock()
	p := peak
	mu.Unlock()
	if p < cfg.VAD.EnergyThreshold {
		fmt.Printf("  FAIL: peak level %.4f never crossed the speech threshold %.4f\n", p, cfg.VAD.EnergyThreshold)
		return false
	}
	fmt.Printf("  PASS: voice detected (peak level %.3f)\n", p)
	return true
}

func checkPlayback(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[3/4] Audio output")

	pl, err := player.New(cfg.Reply.SampleRate)
	if err != nil {
		fmt.Printf("  FAIL: cannot open audio output: %v\n", err)
		return false
	}
	defer pl.Close()

	fmt.Println("You should hear two short ticks...")
	pl.StartTick()
	time.Sleep(400 * time.Millisecond)
	pl.EndTick()
	time.Sleep(400 * time.Millisecond)
	fmt.Println("  PASS: playback device opened")
	return true
}

func checkServer(cfg *config.Config) bool {
	fmt.Println()
	fmt.Println("[4/4] Server endpoint")
	fmt.Printf("Dialing %s...\n", cfg.Server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, cfg.Server.URL, nil)
	if err != nil {
		fmt.Printf("  FAIL: %v\n", err)
		fmt.Println("  (is the chat server running?)")
		return false
	}
	conn.Close(websocket.StatusNormalClosure, "")
	fmt.Println("  PASS: server reachable")
	return true
}
