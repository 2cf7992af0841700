package main

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/egozi/hebrew-audio-chatbot/log"
	"github.com/egozi/hebrew-audio-chatbot/session"
)

// TUI message types
type StateMsg struct{ From, To session.State }
type EnergyMsg struct {
	Level    float64
	Speaking bool
}
type TranscriptMsg struct{ Text string }
type ErrorMsg struct {
	Kind session.ErrorKind
	Text string
}
type tickMsg time.Time

type tuiConfig struct {
	Device    string
	Server    string
	Encoding  string
	AutoStop  bool
	Threshold float64
}

const meterWidth = 30
const maxHistory = 8

type tuiModel struct {
	cfg tuiConfig

	state         session.State
	energy        float64
	peak          float64
	speaking      bool
	recordingFor  float64
	history       []string
	lastError     string
	lastErrorKind session.ErrorKind
	copiedFlash   int
	width, height int
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	styleDim       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpBold  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	styleRecording = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleReady     = lipgloss.NewStyle().Foreground(lipgloss.Color("78")).Bold(true)
	styleBusy      = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	styleErr       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	styleYou       = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	styleMeterLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	styleMeterHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func startTUI(cfg tuiConfig, done chan struct{}) {
	tuiMu.Lock()
	tuiProgram = tea.NewProgram(tuiModel{cfg: cfg}, tea.WithAltScreen())
	p := tuiProgram
	tuiMu.Unlock()

	go func() {
		if _, err := p.Run(); err != nil {
			log.Errorf("TUI error: %v", err)
		}
		close(done)
	}()
}

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func tuiQuit() {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Quit()
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			select {
			case tuiToggleChan <- struct{}{}:
			default:
			}
		case "r":
			select {
			case tuiRetryChan <- struct{}{}:
			default:
			}
		case "c":
			if len(m.history) > 0 {
				if err := clipboard.WriteAll(m.history[len(m.history)-1]); err == nil {
					m.copiedFlash = 20
				}
			}
		}

	case tickMsg:
		if m.state == session.Recording {
			m.recordingFor += 0.1
		}
		if m.copiedFlash > 0 {
			m.copiedFlash--
		}
		return m, tuiTick()

	case StateMsg:
		m.state = msg.To
		switch msg.To {
		case session.Recording:
			m.recordingFor = 0
			m.energy = 0
			m.peak = 0
		case session.Ready:
			m.energy = 0
			m.speaking = false
		}
		if msg.To != session.Error {
			m.lastError = ""
		}

	case EnergyMsg:
		m.energy = m.energy*0.6 + msg.Level*0.4
		m.speaking = msg.Speaking
		if msg.Level > m.peak {
			m.peak = msg.Level
		}

	case TranscriptMsg:
		m.history = append(m.history, msg.Text)
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}

	case ErrorMsg:
		m.lastError = msg.Text
		m.lastErrorKind = msg.Kind
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case session.Disconnected:
		return styleDim.Render("○ DISCONNECTED")
	case session.Connecting:
		return styleBusy.Render("◌ CONNECTING…")
	case session.Ready:
		return styleReady.Render("● READY")
	case session.Recording:
		line := styleRecording.Render(fmt.Sprintf("● REC %.1fs", m.recordingFor))
		if m.recordingFor > 1.0 && m.peak < m.cfg.Threshold {
			line += styleErr.Render("  ⚠ no voice detected")
		}
		return line
	case session.Sending:
		return styleBusy.Render("↑ SENDING…")
	case session.AwaitingTranscript:
		return styleBusy.Render("… TRANSCRIBING")
	case session.Processing:
		return styleBusy.Render("… THINKING")
	case session.Playing:
		return styleBusy.Render("▶ SPEAKING")
	case session.Error:
		return styleErr.Render("✗ CONNECTION LOST — press r to retry")
	default:
		return styleDim.Render(m.state.String())
	}
}

// meter renders the smoothed energy on a fixed-width bar with a tick mark at
// the speech threshold. Square-root scaling keeps quiet speech visible.
func (m tuiModel) meter() string {
	filled := int(math.Sqrt(m.energy) * meterWidth)
	if filled > meterWidth {
		filled = meterWidth
	}
	mark := int(math.Sqrt(m.cfg.Threshold) * meterWidth)
	if mark >= meterWidth {
		mark = meterWidth - 1
	}

	var b strings.Builder
	for i := 0; i < meterWidth; i++ {
		switch {
		case i < filled && m.speaking:
			b.WriteString(styleMeterHigh.Render("█"))
		case i < filled:
			b.WriteString(styleMeterLow.Render("█"))
		case i == mark:
			b.WriteString(styleDim.Render("┊"))
		default:
			b.WriteString(styleDim.Render("·"))
		}
	}
	return "[" + b.String() + "]"
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	lines = append(lines, styleTitle.Render("hebrew-audio-chatbot")+styleDim.Render(" "+version))
	lines = append(lines, "")
	lines = append(lines, m.statusLine())
	lines = append(lines, m.meter())
	lines = append(lines, "")

	mode := fmt.Sprintf("[%s | %s]", m.cfg.Encoding, m.cfg.Server)
	lines = append(lines, styleDim.Render(mode))
	lines = append(lines, styleDim.Render(m.cfg.Device))
	if m.cfg.AutoStop {
		lines = append(lines, styleDim.Render("auto-stop on silence"))
	}
	lines = append(lines, "")

	if len(m.history) == 0 {
		lines = append(lines, styleDim.Render("No conversation yet."))
	} else {
		wrap := m.width - 8
		if wrap < 20 {
			wrap = 20
		}
		for _, text := range m.history {
			lines = append(lines, styleDim.Render("you  ")+styleYou.Render(truncate(text, wrap)))
		}
	}
	lines = append(lines, "")

	if m.lastError != "" {
		lines = append(lines, styleErr.Render(fmt.Sprintf("[%s] %s", m.lastErrorKind, m.lastError)))
		lines = append(lines, "")
	}
	if m.copiedFlash > 0 {
		lines = append(lines, styleReady.Render("✓ copied to clipboard"))
		lines = append(lines, "")
	}

	help := styleHelpBold.Render("Ctrl+Shift+Space") + styleHelp.Render(" hold to talk  ·  ") +
		styleHelpBold.Render("space") + styleHelp.Render(" toggle  ·  ") +
		styleHelpBold.Render("c") + styleHelp.Render(" copy  ·  ") +
		styleHelpBold.Render("r") + styleHelp.Render(" retry  ·  ") +
		styleHelpBold.Render("q") + styleHelp.Render(" quit")
	lines = append(lines, help)

	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
