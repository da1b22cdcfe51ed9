package render

import (
	"testing"
	"time"

	"hbatch-monitor/config"
)

// scriptedSource feeds a fixed line sequence to the monitor loop, then
// reports the stream closed.
type scriptedSource struct {
	lines []string
	pos   int
}

func (s *scriptedSource) ReadLine(time.Duration) (string, ReadResult) {
	if s.pos >= len(s.lines) {
		return "", Closed
	}
	line := s.lines[s.pos]
	s.pos++
	return line, GotLine
}

// stubProcess stands in for the subprocess supervisor.
type stubProcess struct {
	running     bool
	exitCode    int
	interrupts  int
	kills       int
	waits       int
	exitOnInter bool
}

func (p *stubProcess) Interrupt() {
	p.interrupts++
	if p.exitOnInter {
		p.running = false
	}
}
func (p *stubProcess) Kill()         { p.kills++; p.running = false }
func (p *stubProcess) Running() bool { return p.running }
func (p *stubProcess) Wait()         { p.waits++; p.running = false }
func (p *stubProcess) ExitCode() (int, bool) {
	return p.exitCode, !p.running
}

func testMonitor(lines []string, proc *stubProcess) *Monitor {
	set := config.DefaultSettings()
	set.ReadTimeout = time.Millisecond
	set.RefreshInterval = time.Hour // keep periodic labels out of the way
	job := config.Job{HipPath: "/shots/a.hip", OutNode: "/out/rs1"}
	m := NewMonitor(job, set, nil)
	m.proc = proc
	m.source = &scriptedSource{lines: lines}
	m.started = time.Now()
	return m
}

func drain(t *testing.T, m *Monitor) []Update {
	t.Helper()
	var updates []Update
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-m.Updates():
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			t.Fatal("updates channel never closed")
		}
	}
}

func TestMonitor_FullFramePipeline(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 1",
		"Loading RS rendering options for frame 1",
		"Block 1/2",
		"Block 2/2",
		"scene extraction time 0.10 sec, total time 9.50 sec",
		"Saved file '/out/beauty.0001.exr'",
		"ROP node endRender",
	}
	proc := &stubProcess{}
	m := testMonitor(lines, proc)
	go m.run()
	updates := drain(t, m)

	var begun *FrameBegun
	var done *FrameDone
	var image *ImageProduced
	var finished *Finished
	frameProgress := 0
	for _, u := range updates {
		switch u := u.(type) {
		case FrameBegun:
			begun = &u
		case FrameDone:
			done = &u
		case ImageProduced:
			image = &u
		case Finished:
			finished = &u
		case FrameProgress:
			frameProgress++
		}
	}

	if begun == nil || begun.Frame != 1 {
		t.Fatalf("FrameBegun = %+v, want frame 1", begun)
	}
	if done == nil || done.Frame != 1 || done.Duration != 9.5 {
		t.Fatalf("FrameDone = %+v, want frame 1 at 9.5s", done)
	}
	if image == nil || image.Path != "/out/beauty.0001.exr" {
		t.Fatalf("ImageProduced = %+v", image)
	}
	if frameProgress != 2 {
		t.Errorf("FrameProgress count = %d, want 2", frameProgress)
	}
	if finished == nil {
		t.Fatal("no Finished update")
	}
	if finished.Killed {
		t.Error("Killed = true for a clean run")
	}
	// Finished must be the last update before close.
	if _, ok := updates[len(updates)-1].(Finished); !ok {
		t.Errorf("last update = %T, want Finished", updates[len(updates)-1])
	}
}

func TestMonitor_SkipRunFlushedBeforeNextHeader(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 1",
		"Skip rendering enabled. File already rendered: /out/b.0001.exr",
		"'/out/rs1' rendering frame 2",
		"Skipped - File already exists: /out/b.0002.exr",
		"'/out/rs1' rendering frame 3",
		"Loading RS rendering options for frame 3",
		"scene extraction time 0.05 sec, total time 4.00 sec",
	}
	m := testMonitor(lines, &stubProcess{})
	go m.run()
	updates := drain(t, m)

	skipLineIdx, headerIdx := -1, -1
	skips := 0
	for i, u := range updates {
		switch u := u.(type) {
		case FrameSkip:
			skips++
		case OutputLine:
			if skipLineIdx < 0 && u.Text == "Frames 1-2 skipped - Files already exist\n\n" {
				skipLineIdx = i
			}
			if headerIdx < 0 && u.Text == "\n Frame 3\n" {
				headerIdx = i
			}
		}
	}
	if skips != 2 {
		t.Errorf("FrameSkip count = %d, want 2", skips)
	}
	if skipLineIdx < 0 {
		t.Fatal("compressed skip line never emitted")
	}
	if headerIdx < 0 {
		t.Fatal("frame header never emitted")
	}
	if skipLineIdx > headerIdx {
		t.Errorf("skip summary at %d came after frame header at %d", skipLineIdx, headerIdx)
	}
}

func TestMonitor_TrailingSkipsFlushedAtFinish(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 5",
		"Skip rendering enabled. File already rendered: /out/b.0005.exr",
		"'/out/rs1' rendering frame 6",
		"Skip rendering enabled. File already rendered: /out/b.0006.exr",
	}
	m := testMonitor(lines, &stubProcess{})
	go m.run()
	updates := drain(t, m)

	found := 0
	for _, u := range updates {
		if ol, ok := u.(OutputLine); ok && ol.Text == "Frames 5-6 skipped - Files already exist\n\n" {
			found++
		}
	}
	if found != 1 {
		t.Errorf("skip summary emitted %d times, want exactly 1", found)
	}
}

// A cancel with a saturated line stream never hits the read timeout, so the
// stop signal has to go out at the frame boundary. The job must not report
// Finished while the process was never signaled.
func TestMonitor_CancelSignalsAtFrameBoundary(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 1",
		"Loading RS rendering options for frame 1",
		"scene extraction time 0.10 sec, total time 2.00 sec",
		"ROP node endRender",
		// The wrapper script stops before the next frame once signaled;
		// until then the stream keeps draining.
		"'/out/rs1' rendering frame 2",
		"Loading RS rendering options for frame 2",
	}
	proc := &stubProcess{running: true}
	m := testMonitor(lines, proc)
	m.canceling.Store(true)
	go m.run()
	updates := drain(t, m)

	if proc.interrupts != 1 {
		t.Errorf("interrupts = %d, want exactly 1", proc.interrupts)
	}
	if proc.kills != 0 {
		t.Errorf("kills = %d, want 0", proc.kills)
	}
	if proc.waits == 0 {
		t.Error("job finished without waiting for process exit")
	}
	var finished *Finished
	for _, u := range updates {
		if f, ok := u.(Finished); ok {
			finished = &f
		}
	}
	if finished == nil {
		t.Fatal("no Finished update")
	}
	if proc.Running() {
		t.Error("process still running after Finished")
	}
}

// Once the stop signal has been delivered, the next frame boundary ends the
// loop and nothing past it is processed.
func TestMonitor_CancelStopsAtBoundaryAfterSignal(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 1",
		"Loading RS rendering options for frame 1",
		"scene extraction time 0.10 sec, total time 2.00 sec",
		"ROP node endRender",
		"'/out/rs1' rendering frame 2",
		"Loading RS rendering options for frame 2",
	}
	proc := &stubProcess{running: true}
	m := testMonitor(lines, proc)
	m.canceling.Store(true)
	m.gracefulSent = true
	go m.run()
	updates := drain(t, m)

	for _, u := range updates {
		if fb, ok := u.(FrameBegun); ok && fb.Frame == 2 {
			t.Error("frame 2 began after the cancel boundary")
		}
	}
	if proc.interrupts != 0 {
		t.Errorf("interrupts = %d, want 0 after the signal already went out", proc.interrupts)
	}
}

func TestMonitor_ExplicitRangeTotalsFromJob(t *testing.T) {
	set := config.DefaultSettings()
	set.ReadTimeout = time.Millisecond
	set.RefreshInterval = time.Hour
	job := config.Job{
		HipPath: "/shots/a.hip",
		OutNode: "/out/rs1",
		Range:   &config.FrameRange{Start: 10, End: 19, Step: 1},
	}
	m := NewMonitor(job, set, nil)
	m.proc = &stubProcess{}
	m.source = &scriptedSource{lines: []string{
		// A conflicting log echo must not move an explicit total.
		"Frame range: 1-240",
	}}
	m.started = time.Now()
	m.tracker.SetExplicitRange(10, 19, 1)
	go m.run()
	drain(t, m)

	if m.tracker.Total() != 10 {
		t.Errorf("total = %d, want 10", m.tracker.Total())
	}
	if m.tracker.Source() != SourceExplicitArgs {
		t.Errorf("source = %v, want args", m.tracker.Source())
	}
}

// Stream EOF races the status-recording goroutine; Finished must carry the
// real exit code, not a zero read before the process was reaped.
func TestMonitor_FinishedWaitsForExitCode(t *testing.T) {
	proc := &stubProcess{running: true, exitCode: 3}
	m := testMonitor(nil, proc)
	go m.run()
	updates := drain(t, m)

	if proc.waits == 0 {
		t.Fatal("exit code read without waiting for the process")
	}
	var finished *Finished
	for _, u := range updates {
		if f, ok := u.(Finished); ok {
			finished = &f
		}
	}
	if finished == nil {
		t.Fatal("no Finished update")
	}
	if finished.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", finished.ExitCode)
	}
}

func TestMonitor_FailedExitMarksFrame(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 7",
		"Loading RS rendering options for frame 7",
		// The process dies mid-frame; no completion line ever arrives.
	}
	proc := &stubProcess{running: true, exitCode: 1}
	m := testMonitor(lines, proc)
	go m.run()
	drain(t, m)

	rec, ok := m.tracker.Frame(7)
	if !ok {
		t.Fatal("frame 7 never recorded")
	}
	if rec.Status != StatusFailed {
		t.Errorf("status = %v, want failed", rec.Status)
	}
}

func TestMonitor_ProgressCarriesTotalSource(t *testing.T) {
	lines := []string{
		"'/out/rs1' rendering frame 12",
		"Loading RS rendering options for frame 12",
	}
	m := testMonitor(lines, &stubProcess{})
	go m.run()
	updates := drain(t, m)

	var last *Progress
	for _, u := range updates {
		if p, ok := u.(Progress); ok {
			last = &p
		}
	}
	if last == nil {
		t.Fatal("no Progress update")
	}
	if last.Source != SourceInference {
		t.Errorf("source = %v, want inferred", last.Source)
	}
}

func TestMonitor_PanicStillFinishes(t *testing.T) {
	proc := &stubProcess{running: true}
	m := testMonitor(nil, proc)
	m.source = panicSource{}
	go m.run()
	updates := drain(t, m)

	if len(updates) == 0 {
		t.Fatal("no updates after a loop panic")
	}
	if _, ok := updates[len(updates)-1].(Finished); !ok {
		t.Errorf("last update = %T, want Finished", updates[len(updates)-1])
	}
	// The unsupervised renderer must not be left running.
	if proc.kills != 1 {
		t.Errorf("kills = %d, want 1", proc.kills)
	}
	if proc.Running() {
		t.Error("process still running after a loop panic")
	}
}

type panicSource struct{}

func (panicSource) ReadLine(time.Duration) (string, ReadResult) {
	panic("broken source")
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "0s"},
		{-3, "0s"},
		{12, "12s"},
		{64, "1m4s"},
		{3600, "1h"},
		{3852, "1h4m12s"},
		{90061, "1d1h1m1s"},
		{12.6, "13s"},
	}
	for _, tc := range tests {
		if got := FormatSeconds(tc.seconds); got != tc.want {
			t.Errorf("FormatSeconds(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
