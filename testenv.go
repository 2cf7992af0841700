package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/egozi/hebrew-audio-chatbot/audio"
	"github.com/egozi/hebrew-audio-chatbot/config"
	"github.com/egozi/hebrew-audio-chatbot/log"
	"github.com/egozi/hebrew-audio-chatbot/player"
	"github.com/egozi/hebrew-audio-chatbot/session"
	"github.com/egozi/hebrew-audio-chatbot/transport"
)

// runTestMode drives a full session headless: the microphone is replayed
// from a WAV file, playback is swallowed, and stdin scripts the user.
//
// Commands, one per line:
//
//	START        begin a turn
//	STOP         end the turn and send it
//	RETRY        reconnect after the retry budget was spent
//	WAIT <state> block until the session reaches the named state
//	SLEEP <ms>   pause the script
//	QUIT         tear down and exit
func runTestMode(wavPath string, cfg *config.Config) {
	fakeCtx, err := audio.NewFakeContext(wavPath, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
		os.Exit(1)
	}

	sess := session.New(session.Options{
		Config:   cfg,
		Channel:  transport.New(cfg.Server.URL),
		Audio:    fakeCtx,
		Player:   player.NewFake(),
		Observer: &consoleObserver{w: os.Stdout},
	})
	sess.Open()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "" || strings.HasPrefix(cmd, "#"):
		case cmd == "START":
			sess.StartTurn()
		case cmd == "STOP":
			sess.StopTurn()
		case cmd == "RETRY":
			sess.Retry()
		case cmd == "QUIT":
			sess.Close()
			log.Close()
			os.Exit(0)
		case strings.HasPrefix(cmd, "WAIT "):
			waitForState(sess, strings.TrimSpace(cmd[5:]))
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(strings.TrimSpace(cmd[6:])); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		}
	}
	sess.Close()
}

func waitForState(sess *session.Session, name string) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State().String() == name {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "timeout waiting for state %q (now %s)\n", name, sess.State())
	os.Exit(1)
}
