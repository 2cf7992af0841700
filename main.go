package main

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/egozi/hebrew-audio-chatbot/audio"
	"github.com/egozi/hebrew-audio-chatbot/config"
	"github.com/egozi/hebrew-audio-chatbot/doctor"
	"github.com/egozi/hebrew-audio-chatbot/hotkey"
	"github.com/egozi/hebrew-audio-chatbot/log"
	"github.com/egozi/hebrew-audio-chatbot/player"
	"github.com/egozi/hebrew-audio-chatbot/session"
	"github.com/egozi/hebrew-audio-chatbot/shutdown"
	"github.com/egozi/hebrew-audio-chatbot/transport"
)

var version = "dev"

// Channels the TUI uses to drive the session from keyboard input.
var (
	tuiToggleChan = make(chan struct{}, 1)
	tuiRetryChan  = make(chan struct{}, 1)
)

var shutdownOnce sync.Once

func gracefulShutdown(sess *session.Session) {
	shutdownOnce.Do(func() {
		if sess != nil {
			sess.Close()
		}
		log.Close()
		tuiQuit()
		os.Exit(0)
	})
}

func run() {
	configFlag := flag.String("config", "", "Config file path (YAML)")
	urlFlag := flag.String("url", "", "Server URL (overrides config)")
	encodingFlag := flag.String("encoding", "", "Turn encoding: wav or flac (overrides config)")
	autoStopFlag := flag.Bool("autostop", false, "Stop recording automatically after trailing silence")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	doctorFlag := flag.Bool("doctor", false, "Run system diagnostics and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	profileFlag := flag.String("profile", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	testFlag := flag.Bool("test", false, "Test mode (headless, stdin-driven)")
	hybridFlag := flag.Bool("hybrid", false, "Enable hybrid tap+hold recording mode")
	longPressFlag := flag.Duration("longpress", 350*time.Millisecond, "Long-press threshold for PTT vs tap (e.g., 350ms)")
	tuiFlag := flag.Bool("tui", true, "Run with terminal UI")
	flag.Parse()

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *profileFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *profileFlag)
			if err := http.ListenAndServe(*profileFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if *versionFlag {
		fmt.Printf("hebrew-audio-chatbot %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *urlFlag != "" {
		cfg.Server.URL = *urlFlag
	}
	if *encodingFlag != "" {
		cfg.Capture.Encoding = *encodingFlag
	}
	if *autoStopFlag {
		cfg.VAD.AutoStop = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *doctorFlag {
		os.Exit(doctor.Run(cfg))
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	log.SessionStart(cfg.Server.URL, cfg.Capture.Encoding)

	if *testFlag {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: hebrew-audio-chatbot -test <wav-file>")
			os.Exit(1)
		}
		runTestMode(args[0], cfg)
		return
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	var selectedDevice *audio.DeviceInfo
	if *deviceFlag != "" {
		if devices, err := audioCtx.Devices(); err == nil {
			for i := range devices {
				if devices[i].Name == *deviceFlag {
					selectedDevice = &devices[i]
					break
				}
			}
		}
		if selectedDevice == nil {
			fmt.Fprintf(os.Stderr, "Warning: device %q not found, using default\n", *deviceFlag)
		}
	} else if *setupFlag {
		selectedDevice, err = selectDevice(audioCtx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			selectedDevice = nil
		}
	}

	pl, err := player.New(cfg.Reply.SampleRate)
	if err != nil {
		log.Errorf("player init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio output: %v\n", err)
		os.Exit(1)
	}

	var obs session.Observer = &consoleObserver{w: os.Stdout}
	if *tuiFlag {
		obs = tuiObserver{}
	}

	sess := session.New(session.Options{
		Config:   cfg,
		Channel:  transport.New(cfg.Server.URL),
		Audio:    audioCtx,
		Device:   selectedDevice,
		Player:   pl,
		Observer: obs,
	})

	tuiDone := make(chan struct{})
	if *tuiFlag {
		startTUI(tuiConfig{
			Device:    deviceLineText(selectedDevice),
			Server:    cfg.Server.URL,
			Encoding:  cfg.Capture.Encoding,
			AutoStop:  cfg.VAD.AutoStop,
			Threshold: cfg.VAD.EnergyThreshold,
		}, tuiDone)
	} else {
		fmt.Printf("Connecting to %s (Ctrl+Shift+Space to talk, Ctrl+C to quit)\n", cfg.Server.URL)
	}

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Fprintf(os.Stderr, "Error registering hotkey: %v\n", err)
		os.Exit(1)
	}
	defer hk.Unregister()

	sess.Open()

	if *hybridFlag {
		hy := hotkey.NewHybrid(hk, *longPressFlag)
		for {
			select {
			case <-hy.Start():
				sess.StartTurn()
			case <-hy.StopChan():
				sess.StopTurn()
			case <-tuiToggleChan:
				toggleTurn(sess)
			case <-tuiRetryChan:
				sess.Retry()
			case <-sigChan:
				gracefulShutdown(sess)
			case <-tuiDone:
				gracefulShutdown(sess)
			}
		}
	}

	for {
		select {
		case <-hk.Keydown():
			sess.StartTurn()
		case <-hk.Keyup():
			sess.StopTurn()
		case <-tuiToggleChan:
			toggleTurn(sess)
		case <-tuiRetryChan:
			sess.Retry()
		case <-sigChan:
			gracefulShutdown(sess)
		case <-tuiDone:
			gracefulShutdown(sess)
		}
	}
}

func toggleTurn(sess *session.Session) {
	if sess.State() == session.Recording {
		sess.StopTurn()
	} else {
		sess.StartTurn()
	}
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}
