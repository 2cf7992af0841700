package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	convFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

// TurnMetrics captures the timing and size profile of one conversation turn.
type TurnMetrics struct {
	AudioLengthS float64
	EncodedKB    float64
	EncodeTimeMs float64
	SendTimeMs   float64
	TranscriptMs float64
	ReplyKB      float64
	PlaybackMs   float64
	RoundTripMs  float64
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: CHATBOT_LOG_PATH environment variable
	envPath := os.Getenv("CHATBOT_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	convPath := filepath.Join(dir, "conversation_log.txt")
	convFile, err = os.OpenFile(convPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if convFile != nil {
		convFile.Close()
		convFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

// StateChange records one session state transition and the event that caused it.
func StateChange(from, to, event string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("from", from).
		Str("to", to).
		Str("event", event).
		Msg("state_change")
}

// Reconnect records one scheduled automatic reconnect attempt.
func Reconnect(attempt, maxRetries int, delayMs int64) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Int("attempt", attempt).
		Int("max_retries", maxRetries).
		Int64("delay_ms", delayMs).
		Msg("reconnect_scheduled")
}

func Turn(m TurnMetrics, encoding string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("encoding", encoding).
		Float64("audio_s", m.AudioLengthS).
		Float64("encoded_kb", m.EncodedKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("send_ms", m.SendTimeMs).
		Float64("transcript_ms", m.TranscriptMs).
		Float64("reply_kb", m.ReplyKB).
		Float64("playback_ms", m.PlaybackMs).
		Float64("roundtrip_ms", m.RoundTripMs).
		Msg("turn")
}

// ConversationText appends one line of dialogue to the conversation log.
// Role is "user" or "assistant".
func ConversationText(role, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, role, text)
	convFile.WriteString(line)
}

func SessionStart(serverURL, encoding string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("server", serverURL).
		Str("encoding", encoding).
		Msg("session_start")
}

func SessionEnd(turns int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("turns", turns).
		Msg("session_end")
}
