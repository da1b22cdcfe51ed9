package render

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrameStatus is the lifecycle state of a single frame.
type FrameStatus int

const (
	StatusPending FrameStatus = iota
	StatusRendering
	StatusCompleted
	StatusSkipped
	StatusFailed
)

func (s FrameStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRendering:
		return "rendering"
	case StatusCompleted:
		return "completed"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// TotalSource records which discovery mechanism produced the current frame
// total. An explicit range from the job arguments is authoritative and
// immutable; the log-derived sources are best effort and never decrease a
// previously observed total.
type TotalSource int

const (
	SourceUnset TotalSource = iota
	SourceExplicitArgs
	SourceLogEcho
	SourceRopMetadata
	SourceInference
)

func (s TotalSource) String() string {
	switch s {
	case SourceExplicitArgs:
		return "args"
	case SourceLogEcho:
		return "log"
	case SourceRopMetadata:
		return "rop"
	case SourceInference:
		return "inferred"
	}
	return "unset"
}

// FrameRecord is the tracked state of one frame number.
type FrameRecord struct {
	Number    int
	SeqIndex  int
	Status    FrameStatus
	Percent   int
	Duration  float64
	StartedAt time.Time
}

// inferenceMargin pads a total inferred from a bare frame number so the
// progress display never claims an impossible "frame 40 of 10".
const inferenceMargin = 5

// Tracker maintains per-frame records and the best current frame total for
// one job. It is owned by the monitor goroutine and is not safe for
// concurrent use.
type Tracker struct {
	frames map[int]*FrameRecord
	order  []int // sighting order, the fallback sequence mapping

	total  int
	source TotalSource

	rangeStart int
	rangeStep  int
	hasRange   bool

	current    int // frame number last announced by the log, -1 when none
	inProgress bool

	seen    map[int]struct{}
	skipRun []int

	blocks   map[int]struct{}
	lastDone int
	hasDone  bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		frames:  make(map[int]*FrameRecord),
		seen:    make(map[int]struct{}),
		blocks:  make(map[int]struct{}),
		current: -1,
	}
}

// SetExplicitRange installs the user-configured range. Once set, no
// log-derived discovery may change the total or the sequence mapping.
func (t *Tracker) SetExplicitRange(start, end, step int) {
	if step <= 0 {
		step = 1
	}
	t.rangeStart, t.rangeStep, t.hasRange = start, step, true
	t.total = rangeCount(start, end, step)
	t.source = SourceExplicitArgs
	t.reindex()
}

// ObserveRange applies a log-derived range discovery. Returns true when the
// total actually changed.
func (t *Tracker) ObserveRange(start, end, step int, src TotalSource) bool {
	if t.source == SourceExplicitArgs {
		return false
	}
	if step <= 0 {
		step = 1
	}
	n := rangeCount(start, end, step)
	if n <= 0 {
		return false
	}
	// The first non-explicit source to fire stays authoritative: later
	// discoveries may only grow the total.
	if t.source != SourceUnset && t.source != SourceInference && n < t.total {
		return false
	}
	if n < len(t.seen) {
		n = len(t.seen)
	}
	changed := n != t.total || t.source != src
	t.total = n
	t.source = src
	t.rangeStart, t.rangeStep, t.hasRange = start, step, true
	t.reindex()
	return changed
}

// OnFrameStarted records a provisional start for the frame. The frame is not
// promoted to Rendering yet; many started frames turn out to be skipped.
// Returns true when the frame total had to be raised to stay plausible.
func (t *Tracker) OnFrameStarted(frame int, now time.Time) bool {
	rec := t.record(frame)
	rec.StartedAt = now
	t.current = frame
	t.inProgress = false
	t.blocks = make(map[int]struct{})

	if t.source == SourceExplicitArgs || t.total > frame {
		return false
	}
	newTotal := frame + inferenceMargin
	if newTotal <= t.total {
		return false
	}
	t.total = newTotal
	if t.source == SourceUnset {
		t.source = SourceInference
	}
	return true
}

// OnFrameSkipped marks the current frame as skipped with zero duration and
// adds it to the pending consecutive-skip run.
func (t *Tracker) OnFrameSkipped() (int, bool) {
	if t.current < 0 {
		return 0, false
	}
	frame := t.current
	rec := t.record(frame)
	rec.Status = StatusSkipped
	rec.Duration = 0
	t.seen[frame] = struct{}{}
	t.skipRun = append(t.skipRun, frame)
	t.inProgress = false
	t.current = -1
	return frame, true
}

// OnFrameLoading promotes the current frame to Rendering, unless it was
// already skipped. This is the point where a pending skip run must be flushed
// by the caller, immediately before the frame header goes out.
func (t *Tracker) OnFrameLoading() (int, bool) {
	if t.current < 0 {
		return 0, false
	}
	rec := t.record(t.current)
	if rec.Status == StatusSkipped {
		return 0, false
	}
	rec.Status = StatusRendering
	t.seen[t.current] = struct{}{}
	t.inProgress = true
	return t.current, true
}

// OnBlock records block completion for the current frame. Percent is derived
// from the set of distinct block indices seen, so duplicates and out-of-order
// reports never inflate it.
func (t *Tracker) OnBlock(block, totalBlocks int) (frame, percent int, ok bool) {
	if t.current < 0 || totalBlocks <= 0 {
		return 0, 0, false
	}
	t.blocks[block] = struct{}{}
	percent = len(t.blocks) * 100 / totalBlocks
	if percent > 100 {
		percent = 100
	}
	rec := t.record(t.current)
	rec.Percent = percent
	return t.current, percent, true
}

// OnFrameDone marks the current frame completed with the parsed duration.
// When no start was ever observed for a completion (dropped log line), the
// completion is still recorded against the best-guess next frame; sawStart
// reports whether the start had been seen.
func (t *Tracker) OnFrameDone(seconds float64) (frame int, sawStart bool) {
	frame = t.current
	sawStart = frame >= 0
	if !sawStart {
		frame = t.nextExpected()
	}
	rec := t.record(frame)
	rec.Status = StatusCompleted
	rec.Duration = seconds
	rec.Percent = 100
	t.seen[frame] = struct{}{}
	t.blocks = make(map[int]struct{})
	t.inProgress = false
	t.current = frame
	t.lastDone = frame
	t.hasDone = true
	return frame, sawStart
}

// OnFrameEnded clears the mid-render flag when the ROP's end-of-frame hook
// fires.
func (t *Tracker) OnFrameEnded() {
	t.inProgress = false
}

// FailCurrent marks the mid-render frame as failed when the job dies before
// completing it. No-op when nothing is mid-render.
func (t *Tracker) FailCurrent() (int, bool) {
	if !t.inProgress || t.current < 0 {
		return 0, false
	}
	rec := t.record(t.current)
	if rec.Status != StatusRendering {
		return 0, false
	}
	rec.Status = StatusFailed
	t.inProgress = false
	return t.current, true
}

// TakeSkipRun returns and clears the pending consecutive-skip run.
func (t *Tracker) TakeSkipRun() []int {
	run := t.skipRun
	t.skipRun = nil
	return run
}

// InProgress reports whether a frame is currently mid-render.
func (t *Tracker) InProgress() bool {
	return t.inProgress
}

// Current returns the frame number the log is currently talking about, or -1.
func (t *Tracker) Current() int {
	return t.current
}

// Seen returns the number of frames observed so far (rendered or skipped).
func (t *Tracker) Seen() int {
	return len(t.seen)
}

// Total returns the best current estimate of the job size, 0 when unknown.
func (t *Tracker) Total() int {
	return t.total
}

// Source reports where the current total came from.
func (t *Tracker) Source() TotalSource {
	return t.source
}

// Frame returns a copy of the record for the given frame number.
func (t *Tracker) Frame(n int) (FrameRecord, bool) {
	rec, ok := t.frames[n]
	if !ok {
		return FrameRecord{}, false
	}
	return *rec, true
}

// SequenceIndex maps a frame number to its position in the ordered frame
// list: (N-start)/step under a known range, sighting order otherwise.
func (t *Tracker) SequenceIndex(n int) int {
	if idx, ok := t.rangeIndex(n); ok {
		return idx
	}
	for i, f := range t.order {
		if f == n {
			return i
		}
	}
	return -1
}

func (t *Tracker) rangeIndex(n int) (int, bool) {
	if !t.hasRange || n < t.rangeStart || (n-t.rangeStart)%t.rangeStep != 0 {
		return 0, false
	}
	return (n - t.rangeStart) / t.rangeStep, true
}

func (t *Tracker) record(n int) *FrameRecord {
	if rec, ok := t.frames[n]; ok {
		return rec
	}
	t.order = append(t.order, n)
	rec := &FrameRecord{Number: n, Status: StatusPending}
	rec.SeqIndex = t.SequenceIndex(n)
	t.frames[n] = rec
	return rec
}

func (t *Tracker) reindex() {
	for n, rec := range t.frames {
		rec.SeqIndex = t.SequenceIndex(n)
	}
}

func (t *Tracker) nextExpected() int {
	step := t.rangeStep
	if step <= 0 {
		step = 1
	}
	if t.hasDone {
		return t.lastDone + step
	}
	if len(t.order) > 0 {
		max := t.order[0]
		for _, f := range t.order {
			if f > max {
				max = f
			}
		}
		return max + step
	}
	if t.hasRange {
		return t.rangeStart
	}
	return 1
}

func rangeCount(start, end, step int) int {
	if end < start {
		return 0
	}
	return (end-start)/step + 1
}

// CompressRuns renders a frame list as compact ranges, e.g. [5 6 7 9] becomes
// "5-7, 9". The input is sorted in place.
func CompressRuns(frames []int) string {
	if len(frames) == 0 {
		return ""
	}
	sort.Ints(frames)
	var parts []string
	start, end := frames[0], frames[0]
	flush := func() {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, f := range frames[1:] {
		if f == end+1 {
			end = f
			continue
		}
		if f == end {
			continue
		}
		flush()
		start, end = f, f
	}
	flush()
	return strings.Join(parts, ", ")
}
