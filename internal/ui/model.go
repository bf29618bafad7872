package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/audiolibrelab/wavedeck/internal/capture"
	"github.com/audiolibrelab/wavedeck/internal/library"
	"github.com/audiolibrelab/wavedeck/internal/service"
	"github.com/audiolibrelab/wavedeck/internal/visual"
)

// Port is what the terminal UI needs from the recording service.
type Port interface {
	RequestAccess(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (*library.Recording, error)
	TogglePlay(ctx context.Context, id string) error
	Delete(id string) error
	Export(id string) (string, error)
	Recordings() []service.RecordingInfo
	Status() service.Status
	Waveform(b visual.Binding) string
	DismissBanner()
	Subscribe() (<-chan struct{}, func())
	Close()
}

// Options tunes the model.
type Options struct {
	FPS         int
	AccentColor string
}

// ─── messages ────────────────────────────────────────────────────────────────

type changedMsg struct{}

type closedMsg struct{}

type frameMsg time.Time

type actionMsg struct {
	op   string
	text string
	err  error
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. Every mutation goes through the Port;
// the model only mirrors its snapshots.
type Model struct {
	ctx  context.Context
	port Port
	opts Options

	changes     <-chan struct{}
	unsubscribe func()

	keys     keyMap
	help     help.Model
	list     list.Model
	progress progress.Model

	status   service.Status
	live     string
	playback string
	message  string
	width    int
	height   int
}

// New builds the model and takes its first snapshot.
func New(ctx context.Context, port Port, opts Options) Model {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.AccentColor == "" {
		opts.AccentColor = string(Peach)
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(Lavender).BorderForeground(Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(Sapphire).BorderForeground(Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = "Recordings"
	l.Styles.Title = Title
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("recording", "recordings")
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	changes, unsubscribe := port.Subscribe()
	m := Model{
		ctx:         ctx,
		port:        port,
		opts:        opts,
		changes:     changes,
		unsubscribe: unsubscribe,
		keys:        defaultKeys(),
		help:        help.New(),
		list:        l,
		progress:    progress.New(progress.WithSolidFill(opts.AccentColor), progress.WithoutPercentage()),
	}
	m.refresh()
	return m
}

// Run starts the program and blocks until the user quits.
func Run(ctx context.Context, port Port, opts Options) error {
	p := tea.NewProgram(New(ctx, port, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.tick())
}

// ─── commands ────────────────────────────────────────────────────────────────

func (m Model) waitForChange() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return closedMsg{}
		}
		return changedMsg{}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.opts.FPS), func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func (m Model) run(op string, fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return actionMsg{op: op, text: text, err: err}
	}
}

// ─── update ──────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case changedMsg:
		cmd := m.refresh()
		return m, tea.Batch(cmd, m.waitForChange())

	case closedMsg:
		return m, tea.Quit

	case frameMsg:
		if m.status.State == capture.StateRecording || m.status.Slot.ActiveID != "" {
			m.status = m.port.Status()
			m.paintWaveforms()
		}
		return m, m.tick()

	case actionMsg:
		if msg.err != nil {
			slog.Debug("UI action failed", "op", msg.op, "error", msg.err)
			m.message = ""
		} else if msg.text != "" {
			m.message = msg.text
		}
		return m, m.refresh()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.unsubscribe()
		m.port.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.resize()
		return m, nil

	case key.Matches(msg, m.keys.Dismiss):
		m.port.DismissBanner()
		m.message = ""
		return m, m.refresh()

	case key.Matches(msg, m.keys.Record):
		return m, m.recordCmd()

	case key.Matches(msg, m.keys.Access):
		return m, m.run("request access", func() (string, error) {
			if err := m.port.RequestAccess(m.ctx); err != nil {
				return "", err
			}
			return "Microphone ready", nil
		})

	case key.Matches(msg, m.keys.Toggle):
		id, ok := m.selectedID()
		if !ok {
			return m, nil
		}
		return m, m.run("toggle play", func() (string, error) {
			return "", m.port.TogglePlay(m.ctx, id)
		})

	case key.Matches(msg, m.keys.Export):
		id, ok := m.selectedID()
		if !ok {
			return m, nil
		}
		return m, m.run("export", func() (string, error) {
			path, err := m.port.Export(id)
			if err != nil {
				return "", err
			}
			return "Saved " + path, nil
		})

	case key.Matches(msg, m.keys.Delete):
		id, ok := m.selectedID()
		if !ok {
			return m, nil
		}
		return m, m.run("delete", func() (string, error) {
			return "", m.port.Delete(id)
		})
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// recordCmd starts or stops depending on the session. Start is disabled
// while the codec is unsupported.
func (m Model) recordCmd() tea.Cmd {
	if m.status.State == capture.StateRecording {
		return m.run("stop recording", func() (string, error) {
			rec, err := m.port.StopRecording(m.ctx)
			if err != nil || rec == nil {
				return "", err
			}
			return "Saved " + rec.Name, nil
		})
	}
	if !m.status.Supported {
		return nil
	}
	return m.run("start recording", func() (string, error) {
		return "", m.port.StartRecording(m.ctx)
	})
}

func (m *Model) refresh() tea.Cmd {
	m.status = m.port.Status()
	recs := m.port.Recordings()
	items := make([]list.Item, len(recs))
	for i, r := range recs {
		items[i] = recordingItem{info: r}
	}
	m.paintWaveforms()
	return m.list.SetItems(items)
}

func (m *Model) paintWaveforms() {
	m.live = ""
	m.playback = ""
	if m.status.State == capture.StateRecording {
		m.live = m.port.Waveform(visual.BindingCapture)
	}
	if m.status.Slot.ActiveID != "" {
		m.playback = m.port.Waveform(visual.BindingPlayback)
	}
}

func (m Model) selectedID() (string, bool) {
	if item, ok := m.list.SelectedItem().(recordingItem); ok {
		return item.info.ID, true
	}
	return "", false
}

func (m *Model) resize() {
	m.help.Width = m.width
	m.progress.Width = max(m.width-6, 10)

	// header, banner, message, help and the two waveform panes
	reserved := 6 + lipgloss.Height(m.help.View(m.keys))
	if m.status.State == capture.StateRecording {
		reserved += lipgloss.Height(m.live) + 2
	}
	if m.status.Slot.ActiveID != "" {
		reserved += lipgloss.Height(m.playback) + 3
	}
	m.list.SetSize(max(m.width-2, 20), max(m.height-reserved, 4))
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	sections := []string{m.header()}

	if b := m.status.Banner; b != nil {
		sections = append(sections, bannerStyle(b.Kind).Render(b.Message))
	}
	if m.live != "" {
		sections = append(sections, Pane.BorderForeground(Red).Render(m.live))
	}
	if m.playback != "" {
		pane := lipgloss.JoinVertical(lipgloss.Left,
			m.playback,
			m.progress.ViewAs(m.status.Slot.Progress/100))
		sections = append(sections, Pane.BorderForeground(lipgloss.Color(m.opts.AccentColor)).Render(pane))
	}

	sections = append(sections, m.list.View())
	if m.message != "" {
		sections = append(sections, Muted.Render(m.message))
	}
	sections = append(sections, m.help.View(m.keys))

	return App.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) header() string {
	title := Title.Render("WaveDeck")
	var state string
	switch {
	case m.status.State == capture.StateRecording:
		state = Recording.Render("● REC " + m.status.ElapsedHuman)
	case !m.status.Supported:
		state = Muted.Render("recording disabled")
	default:
		state = Ready.Render("idle")
	}
	codec := Muted.Render(fmt.Sprintf("[%s]", m.status.Codec))
	return strings.Join([]string{title, state, codec}, "  ")
}

func bannerStyle(kind service.BannerKind) lipgloss.Style {
	switch kind {
	case service.BannerUnsupported:
		return BannerUnsupported
	case service.BannerPermission:
		return BannerPermission
	default:
		return BannerError
	}
}
