package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"hbatch-monitor/config"
	"hbatch-monitor/render"
)

// State represents the current application state
type State int

const (
	StateStarting State = iota
	StateRendering
	StateStopping
	StateDone
	StateError
)

type startedMsg struct {
	mon *render.Monitor
}

type startErrorMsg struct {
	err error
}

type updateMsg struct {
	update render.Update
}

type updatesClosedMsg struct{}

// tickMsg keeps the clock redrawing between render updates.
type tickMsg time.Time

// Model is the Bubble Tea model for the monitor TUI.
type Model struct {
	job config.Job
	set config.Settings
	log *logrus.Logger

	mon   *render.Monitor
	state State

	overall  progress.Model
	frameBar progress.Model
	logView  viewport.Model
	showRaw  bool

	width  int
	height int

	startTime time.Time

	done        int
	total       int
	totalSource render.TotalSource
	curFrame    int
	hasFrame    bool
	curPercent  int
	labels      render.TimeLabels
	lastImage   string
	skipped     int
	completed   int
	exitCode    int
	killedJob   bool
	errMsg      string

	outLines []string
	rawLines []string
}

// NewModel creates the TUI model for one render job.
func NewModel(job config.Job, set config.Settings, log *logrus.Logger) Model {
	overall := progress.New(
		progress.WithGradient("#22adf2", "#50c878"),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)
	frameBar := progress.New(
		progress.WithGradient("#ff6b2b", "#50c878"),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	vp := viewport.New(80, 12)
	vp.SetContent("")

	return Model{
		job:      job,
		set:      set,
		log:      log,
		state:    StateStarting,
		overall:  overall,
		frameBar: frameBar,
		logView:  vp,
	}
}

// Init starts the render as soon as the program is up.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.startRender(),
	)
}

func (m *Model) startRender() tea.Cmd {
	job, set, log := m.job, m.set, m.log
	return func() tea.Msg {
		mon := render.NewMonitor(job, set, log)
		if err := mon.Start(); err != nil {
			return startErrorMsg{err: err}
		}
		return startedMsg{mon: mon}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(ch <-chan render.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg{update: u}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.mon != nil && m.mon.Rendering() {
				m.mon.Kill()
			}
			return m, tea.Quit
		case "i":
			if m.mon != nil && (m.state == StateRendering || m.state == StateStopping) {
				m.mon.Interrupt()
				m.state = StateStopping
			}
		case "k":
			if m.mon != nil && (m.state == StateRendering || m.state == StateStopping) {
				m.mon.Kill()
			}
		case "l":
			m.showRaw = !m.showRaw
			m.refreshLog()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.overall.Width = msg.Width - 24
		m.frameBar.Width = msg.Width - 24
		m.logView.Width = msg.Width - 4
		logHeight := msg.Height - 22
		if logHeight < 0 {
			logHeight = 0
		}
		m.logView.Height = logHeight

	case startedMsg:
		m.mon = msg.mon
		m.state = StateRendering
		m.startTime = time.Now()
		cmds = append(cmds, waitForUpdate(m.mon.Updates()), tickCmd())

	case startErrorMsg:
		m.state = StateError
		m.errMsg = msg.err.Error()
		return m, nil

	case updateMsg:
		m.apply(msg.update)
		cmds = append(cmds, waitForUpdate(m.mon.Updates()))

	case updatesClosedMsg:
		if m.state == StateRendering || m.state == StateStopping {
			m.state = StateDone
		}

	case tickMsg:
		if m.state == StateRendering || m.state == StateStopping {
			cmds = append(cmds, tickCmd())
		}
	}

	var cmd tea.Cmd
	m.logView, cmd = m.logView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// apply folds one monitor update into the view state.
func (m *Model) apply(u render.Update) {
	switch u := u.(type) {
	case render.OutputLine:
		m.outLines = appendCapped(m.outLines, styleOutputLine(u, m.width))
		m.refreshLog()

	case render.RawLine:
		m.rawLines = appendCapped(m.rawLines, u.Text)
		if m.showRaw {
			m.refreshLog()
		}

	case render.Progress:
		m.done = u.Done
		m.total = u.Total
		m.totalSource = u.Source

	case render.FrameProgress:
		m.curFrame = u.Frame
		m.hasFrame = true
		m.curPercent = u.Percent

	case render.FrameBegun:
		m.curFrame = u.Frame
		m.hasFrame = true
		m.curPercent = 0

	case render.FrameDone:
		m.completed++
		m.curPercent = 100

	case render.FrameSkip:
		m.skipped++

	case render.ImageProduced:
		m.lastImage = u.Path

	case render.TimeLabels:
		m.labels = u

	case render.Finished:
		m.exitCode = u.ExitCode
		m.killedJob = u.Killed
		m.state = StateDone
	}
}

func (m *Model) refreshLog() {
	lines := m.outLines
	if m.showRaw {
		lines = m.rawLines
	}
	m.logView.SetContent(strings.Join(lines, "\n"))
	m.logView.GotoBottom()
}

// maxLogLines caps the retained output so day-long renders do not grow the
// model without bound.
const maxLogLines = 500

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	return lines
}
