package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"hbatch-monitor/config"
)

// ErrAlreadyRendering is returned by Start when a job is still active. The
// tool runs at most one render at a time.
var ErrAlreadyRendering = errors.New("a render is already in progress")

// lineSource and processHandle are what the loop actually needs from the
// reader and the supervisor; tests substitute scripted implementations.
type lineSource interface {
	ReadLine(timeout time.Duration) (string, ReadResult)
}

type processHandle interface {
	Interrupt()
	Kill()
	Running() bool
	Wait()
	ExitCode() (int, bool)
}

// Monitor owns one render job end to end: it spawns the subprocess, runs the
// monitoring loop on its own goroutine, and emits every observation as an
// Update on a single ordered channel. All tracker and estimator state is
// touched only by that goroutine; the cancellation flags are the only state
// shared with the control side.
type Monitor struct {
	job config.Job
	set config.Settings
	log *logrus.Logger

	updates chan Update
	emitMu  sync.Mutex
	closed  bool

	proc   processHandle
	source lineSource

	tracker *Tracker
	est     *Estimator

	canceling atomic.Bool
	killed    atomic.Bool

	// gracefulSent records delivery of the stop signal. Owned by the run
	// goroutine.
	gracefulSent bool

	started time.Time
	lastETA time.Time
	hasETA  bool

	finishOnce sync.Once
}

// NewMonitor builds a monitor for the job. log may be nil.
func NewMonitor(job config.Job, set config.Settings, log *logrus.Logger) *Monitor {
	return &Monitor{
		job:     job,
		set:     set,
		log:     log,
		updates: make(chan Update, 512),
		tracker: NewTracker(),
		est:     NewEstimator(set.SecondsPerFrameFloor),
	}
}

// Updates is the channel the presentation layer drains. It is closed after
// the Finished update.
func (m *Monitor) Updates() <-chan Update {
	return m.updates
}

// Start writes the wrapper script, spawns hython, and launches the monitor
// loop. It returns a *SpawnError (wrapped) when the backend cannot be
// launched; that is the only failure surfaced to the caller.
func (m *Monitor) Start() error {
	if m.proc != nil {
		return ErrAlreadyRendering
	}
	scriptPath, err := config.WriteRenderScript("")
	if err != nil {
		return fmt.Errorf("write render script: %w", err)
	}
	args := m.job.Args(scriptPath)
	proc, err := StartProcess(m.set.HythonBin, args, filepath.Dir(m.job.HipPath))
	if err != nil {
		return err
	}
	m.proc = proc
	m.source = NewLineReader(proc.Output())
	m.started = time.Now()

	if m.job.Range != nil {
		m.tracker.SetExplicitRange(m.job.Range.Start, m.job.Range.End, m.job.Range.Step)
	} else if m.job.RopHint != nil {
		m.tracker.ObserveRange(m.job.RopHint.Start, m.job.RopHint.End, m.job.RopHint.Step, SourceRopMetadata)
	}

	m.emit(OutputLine{
		Text:   "\n\n RENDER STARTED AT " + m.started.Format("3:04PM on Jan 02, 2006") + " \n\n",
		Color:  ColorBanner,
		Bold:   true,
		Center: true,
	})
	m.emit(OutputLine{Text: m.set.HythonBin + " " + strings.Join(args, " ") + "\n\n", Color: ColorCommand})
	m.emit(OutputLine{Text: "Loading scene...\n", Color: ColorDim})

	total := m.tracker.Total()
	if total < 1 {
		total = 1
	}
	m.emit(Progress{Done: 0, Total: total, Source: m.tracker.Source()})
	m.emit(TimeLabels{ETA: m.started})

	if m.log != nil {
		m.log.WithFields(logrus.Fields{
			"hip": m.job.HipPath,
			"out": m.job.OutNode,
		}).Info("render started")
	}

	go m.run()
	return nil
}

// Interrupt requests a graceful stop: the current frame finishes, then the
// job ends. The signal itself is sent by the monitor loop, exactly once. A
// second Interrupt while already canceling escalates to Kill.
func (m *Monitor) Interrupt() {
	if m.proc == nil || !m.proc.Running() {
		return
	}
	if m.canceling.Swap(true) {
		m.Kill()
		return
	}
	m.emit(OutputLine{
		Text:   "\n Interrupt requested... Current frame will finish before stopping. \n\n",
		Color:  ColorAlert,
		Bold:   true,
		Center: true,
	})
	if m.log != nil {
		m.log.Info("graceful interrupt requested")
	}
}

// Kill terminates the process group immediately and waits for it to exit.
func (m *Monitor) Kill() {
	if m.proc == nil || m.killed.Swap(true) {
		return
	}
	m.emit(OutputLine{
		Text:   "\n Force kill requested... Stopping render immediately. \n\n",
		Color:  ColorAlert,
		Bold:   true,
		Center: true,
	})
	m.proc.Kill()
	m.emit(OutputLine{Text: "\n Render Killed \n\n", Color: ColorAlert, Bold: true, Center: true})
	if m.log != nil {
		m.log.Warn("render killed")
	}
}

// Rendering reports whether the subprocess is still alive.
func (m *Monitor) Rendering() bool {
	return m.proc != nil && m.proc.Running()
}

func (m *Monitor) run() {
	defer func() {
		// The loop must never leave the consumer waiting forever, whatever
		// goes wrong inside an iteration.
		if r := recover(); r != nil {
			m.emit(OutputLine{Text: fmt.Sprintf("monitor error: %v\n", r), Color: ColorAlert})
			if m.log != nil {
				m.log.WithField("panic", r).Error("monitor loop failed")
			}
			// Nobody is watching the renderer anymore; do not leave it
			// running headless, and do not let finish block on its exit.
			m.Kill()
			m.finish()
		}
	}()

	lastRefresh := time.Now()

loop:
	for {
		now := time.Now()
		if now.Sub(lastRefresh) >= m.set.RefreshInterval {
			// Keep the clock and ETA moving even during long gaps between
			// log lines.
			m.emit(m.timeLabels(now))
			lastRefresh = now
		}

		line, res := m.source.ReadLine(m.set.ReadTimeout)
		switch res {
		case Timeout:
			if m.killed.Load() && !m.proc.Running() {
				break loop
			}
			if m.canceling.Load() {
				if !m.gracefulSent {
					m.proc.Interrupt()
					m.gracefulSent = true
				} else if !m.tracker.InProgress() {
					break loop
				}
			}
		case Closed:
			break loop
		case GotLine:
			if m.handleLine(line) {
				break loop
			}
		}
	}

	m.finish()
}

// handleLine feeds one normalized log line through the extractor and
// dispatches the resulting events. Returns true when the loop should stop
// (end-of-frame during a graceful cancel).
func (m *Monitor) handleLine(line string) (stop bool) {
	if m.log != nil {
		m.log.Info(line)
	}
	m.emit(RawLine{Text: line})

	now := time.Now()
	for _, ev := range Extract(line) {
		switch ev := ev.(type) {
		case SavedFileEvent:
			m.emit(ImageProduced{Path: ev.Path})

		case OutputFileEvent:
			m.emit(ImageProduced{Path: ev.Path})

		case RangeEvent:
			if m.tracker.ObserveRange(ev.Start, ev.End, ev.Step, ev.Source) {
				m.emit(Progress{Done: m.tracker.Seen(), Total: m.tracker.Total(), Source: m.tracker.Source()})
				m.emit(m.timeLabels(now))
			}

		case StartEvent:
			if m.tracker.OnFrameStarted(ev.Frame, now) {
				m.emit(Progress{Done: m.tracker.Seen(), Total: m.tracker.Total(), Source: m.tracker.Source()})
			}

		case SkipEvent:
			frame, ok := m.tracker.OnFrameSkipped()
			if !ok {
				break
			}
			m.emit(FrameSkip{Frame: frame})
			m.emit(Progress{Done: m.tracker.Seen(), Total: m.tracker.Total(), Source: m.tracker.Source()})
			m.emit(m.timeLabels(now))
			if m.log != nil {
				m.log.WithField("frame", frame).Info("frame skipped")
			}

		case LoadingEvent:
			frame, ok := m.tracker.OnFrameLoading()
			if !ok {
				break
			}
			m.flushSkips()
			estimate := m.est.RecentEstimate()
			rec, _ := m.tracker.Frame(frame)
			m.emit(FrameBegun{Frame: frame, StartedAt: rec.StartedAt, Estimate: estimate})
			m.emit(OutputLine{Text: fmt.Sprintf("\n Frame %d\n", frame), Color: ColorFrame, Bold: true})
			info := fmt.Sprintf("   %-8s %s\n", "Started", rec.StartedAt.Format("03:04:05 PM"))
			if estimate > 0 {
				finish := rec.StartedAt.Add(secondsToDuration(estimate))
				info += fmt.Sprintf("   %-8s %s - %s\n", "Estimate", finish.Format("03:04:05 PM"), FormatSeconds(estimate))
			}
			m.emit(OutputLine{Text: info})
			m.emit(Progress{Done: m.tracker.Seen(), Total: m.tracker.Total(), Source: m.tracker.Source()})

		case BlockEvent:
			frame, pct, ok := m.tracker.OnBlock(ev.Block, ev.Total)
			if !ok {
				break
			}
			m.emit(FrameProgress{Frame: frame, Percent: pct})
			m.emit(m.timeLabels(now))

		case EndEvent:
			m.tracker.OnFrameEnded()
			if m.canceling.Load() {
				if m.gracefulSent {
					return true
				}
				// A saturated line stream never hits the read timeout, so
				// the frame boundary is where the stop request must be
				// delivered. Keep draining until the wrapper script sees
				// the signal and closes the stream.
				m.proc.Interrupt()
				m.gracefulSent = true
			}

		case DoneEvent:
			frame, sawStart := m.tracker.OnFrameDone(ev.Seconds)
			m.est.Record(ev.Seconds)
			if !sawStart {
				m.emit(OutputLine{
					Text:  fmt.Sprintf("Frame %d completed without a start line; recording it anyway\n", frame),
					Color: ColorDim,
				})
			}
			m.emit(FrameDone{Frame: frame, Duration: ev.Seconds})
			m.emit(Progress{Done: m.tracker.Seen(), Total: m.tracker.Total(), Source: m.tracker.Source()})
			m.emit(m.timeLabels(now))
			m.emit(OutputLine{Text: fmt.Sprintf("   %-8s %s - %s\n\n", "Finished", now.Format("03:04:05 PM"), FormatSeconds(ev.Seconds))})
			if m.log != nil {
				m.log.WithFields(logrus.Fields{"frame": frame, "seconds": ev.Seconds}).Info("frame completed")
			}
		}
	}
	return false
}

func (m *Monitor) flushSkips() {
	run := m.tracker.TakeSkipRun()
	if len(run) == 0 {
		return
	}
	m.emit(OutputLine{Text: fmt.Sprintf("Frames %s skipped - Files already exist\n\n", CompressRuns(run))})
}

// timeLabels builds the timing snapshot for now. Total is elapsed plus
// remaining by construction.
func (m *Monitor) timeLabels(now time.Time) TimeLabels {
	elapsed := now.Sub(m.started).Seconds()
	total := m.tracker.Total()
	tl := TimeLabels{Elapsed: elapsed}

	if total > 0 {
		remaining, _ := m.est.EstimateRemaining(m.tracker.Seen(), total, elapsed)
		tl.Remaining = remaining
		tl.Total = elapsed + remaining
		tl.Average = m.averageLabel(elapsed)
		tl.ETA = now.Add(secondsToDuration(remaining))
		tl.ShowETA = true
		m.lastETA = tl.ETA
		m.hasETA = true
		return tl
	}

	tl.Total = elapsed
	if m.hasETA {
		tl.ETA = m.lastETA
		tl.ShowETA = true
	} else {
		tl.ETA = now
	}
	return tl
}

// averageLabel reports the best per-frame figure for display: the real
// average when history exists, the overall pace otherwise.
func (m *Monitor) averageLabel(elapsed float64) float64 {
	if avg := m.est.Average(); avg > 0 {
		return avg
	}
	if seen := m.tracker.Seen(); seen > 0 {
		return elapsed / float64(seen)
	}
	return 0
}

func (m *Monitor) finish() {
	m.finishOnce.Do(func() {
		m.flushSkips()

		// Stream EOF can race the wait goroutine recording the status, so
		// block for the real exit before reading the code.
		code := 0
		if m.proc != nil {
			m.proc.Wait()
			code, _ = m.proc.ExitCode()
		}
		if code != 0 || m.killed.Load() {
			if frame, ok := m.tracker.FailCurrent(); ok {
				m.emit(OutputLine{
					Text:  fmt.Sprintf(" Frame %d did not complete \n", frame),
					Color: ColorAlert,
				})
			}
		}

		now := time.Now()
		elapsed := now.Sub(m.started).Seconds()
		m.emit(TimeLabels{
			Elapsed: elapsed,
			Average: m.est.Average(),
			Total:   elapsed,
			ETA:     now,
		})

		m.emit(Finished{ExitCode: code, Killed: m.killed.Load()})
		if m.log != nil {
			m.log.WithFields(logrus.Fields{
				"exit_code": code,
				"frames":    m.tracker.Seen(),
				"elapsed":   elapsed,
			}).Info("render finished")
		}

		m.emitMu.Lock()
		m.closed = true
		close(m.updates)
		m.emitMu.Unlock()
	})
}

func (m *Monitor) emit(u Update) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	if m.closed {
		return
	}
	m.updates <- u
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FormatSeconds renders a duration in the compact day/hour/minute/second
// style used throughout the output pane, e.g. "1h4m12s".
func FormatSeconds(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds + 0.5)
	days := total / 86400
	hours := (total % 86400) / 3600
	mins := (total % 3600) / 60
	secs := total % 60

	var sb strings.Builder
	if days > 0 {
		fmt.Fprintf(&sb, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&sb, "%dh", hours)
	}
	if mins > 0 {
		fmt.Fprintf(&sb, "%dm", mins)
	}
	if secs > 0 || sb.Len() == 0 {
		fmt.Fprintf(&sb, "%ds", secs)
	}
	return sb.String()
}
