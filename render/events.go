package render

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is a structured fact recognized in a single renderer log line. The
// log is free text from a third-party tool, so every recognizer is heuristic
// and a line that matches nothing is the normal case, not an error. A single
// line may yield more than one event.
type Event interface {
	isEvent()
}

// SavedFileEvent is the renderer announcing a written image file.
type SavedFileEvent struct {
	Path string
}

// RangeEvent is a frame-range discovery. Source records which of the
// alternative discovery mechanisms fired.
type RangeEvent struct {
	Start  int
	End    int
	Step   int // 0 when no step flag was present
	Source TotalSource
}

// StartEvent is "<node> rendering frame N". The frame may still turn out to
// be skipped.
type StartEvent struct {
	Node  string
	Frame int
}

// SkipEvent is the renderer declining to re-render an existing output. It
// applies to the most recently started frame.
type SkipEvent struct{}

// LoadingEvent marks the engine loading per-frame options: the true
// "rendering in progress" signal that separates skipped frames from real ones.
type LoadingEvent struct{}

// BlockEvent is sub-frame tile progress, "Block k/n".
type BlockEvent struct {
	Block int
	Total int
}

// EndEvent is the ROP's end-of-frame hook firing.
type EndEvent struct{}

// DoneEvent is frame completion with the render duration in seconds.
type DoneEvent struct {
	Seconds float64
}

// OutputFileEvent is the wrapper script's own output-file marker.
type OutputFileEvent struct {
	Path string
}

func (SavedFileEvent) isEvent()  {}
func (RangeEvent) isEvent()      {}
func (StartEvent) isEvent()      {}
func (SkipEvent) isEvent()       {}
func (LoadingEvent) isEvent()    {}
func (BlockEvent) isEvent()      {}
func (EndEvent) isEvent()        {}
func (DoneEvent) isEvent()       {}
func (OutputFileEvent) isEvent() {}

var (
	savedFileRe  = regexp.MustCompile(`Saved file ['"]([^'"]+\.(?:exr|png|jpg|jpeg|tif|tiff))['"]`)
	frameRangeRe = regexp.MustCompile(`Frame range: (\d+)-(\d+)`)
	argsRangeRe  = regexp.MustCompile(`-s (\d+).*-e (\d+)`)
	argsStepRe   = regexp.MustCompile(`-t (\d+)`)
	ropRangeRe   = regexp.MustCompile(`ROP.*f1:(\d+).*f2:(\d+)`)
	renderingRe  = regexp.MustCompile(`'([^']+)' rendering frame (\d+)`)
	blockRe      = regexp.MustCompile(`Block (\d+)/(\d+)`)
	totalTimeRe  = regexp.MustCompile(`total time (\d+\.\d+) sec`)
)

const outputFileMarker = "hbatch_outputfile:"

// ExtractSavedFile recognizes "Saved file '<path>'" lines for known image
// extensions, quoted either way.
func ExtractSavedFile(line string) (SavedFileEvent, bool) {
	m := savedFileRe.FindStringSubmatch(line)
	if m == nil {
		return SavedFileEvent{}, false
	}
	return SavedFileEvent{Path: m[1]}, true
}

// ExtractRange tries the frame-range discovery patterns in order: a direct
// "Frame range: A-B" statement, the echoed -s/-e command-line flags (with an
// optional -t step), and ROP metadata "f1:A ... f2:B".
func ExtractRange(line string) (RangeEvent, bool) {
	if m := frameRangeRe.FindStringSubmatch(line); m != nil {
		return RangeEvent{Start: atoi(m[1]), End: atoi(m[2]), Source: SourceLogEcho}, true
	}
	if strings.Contains(line, "-s ") && strings.Contains(line, "-e ") {
		if m := argsRangeRe.FindStringSubmatch(line); m != nil {
			ev := RangeEvent{Start: atoi(m[1]), End: atoi(m[2]), Source: SourceLogEcho}
			if sm := argsStepRe.FindStringSubmatch(line); sm != nil {
				ev.Step = atoi(sm[1])
			}
			return ev, true
		}
	}
	if m := ropRangeRe.FindStringSubmatch(line); m != nil {
		return RangeEvent{Start: atoi(m[1]), End: atoi(m[2]), Source: SourceRopMetadata}, true
	}
	return RangeEvent{}, false
}

// ExtractStart recognizes "'<node>' rendering frame N".
func ExtractStart(line string) (StartEvent, bool) {
	m := renderingRe.FindStringSubmatch(line)
	if m == nil {
		return StartEvent{}, false
	}
	return StartEvent{Node: m[1], Frame: atoi(m[2])}, true
}

// ExtractSkip recognizes both known skip phrasings.
func ExtractSkip(line string) bool {
	return strings.Contains(line, "Skip rendering enabled. File already rendered") ||
		strings.Contains(line, "Skipped - File already exists")
}

// ExtractLoading recognizes the engine starting to load per-frame options.
func ExtractLoading(line string) bool {
	return strings.Contains(line, "Loading RS rendering options")
}

// ExtractBlock recognizes "Block k/n" tile progress.
func ExtractBlock(line string) (BlockEvent, bool) {
	m := blockRe.FindStringSubmatch(line)
	if m == nil {
		return BlockEvent{}, false
	}
	total := atoi(m[2])
	if total <= 0 {
		return BlockEvent{}, false
	}
	return BlockEvent{Block: atoi(m[1]), Total: total}, true
}

// ExtractEnd recognizes the ROP node's end-of-frame hook.
func ExtractEnd(line string) bool {
	return strings.Contains(line, "ROP node endRender")
}

// ExtractDone recognizes frame completion, "scene extraction time ... total
// time T sec".
func ExtractDone(line string) (DoneEvent, bool) {
	if !strings.Contains(line, "scene extraction time") {
		return DoneEvent{}, false
	}
	m := totalTimeRe.FindStringSubmatch(line)
	if m == nil {
		return DoneEvent{}, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DoneEvent{}, false
	}
	return DoneEvent{Seconds: secs}, true
}

// ExtractOutputFile recognizes the wrapper script's output-file marker.
func ExtractOutputFile(line string) (OutputFileEvent, bool) {
	if !strings.HasPrefix(line, outputFileMarker) {
		return OutputFileEvent{}, false
	}
	path := strings.TrimSpace(line[len(outputFileMarker):])
	if path == "" {
		return OutputFileEvent{}, false
	}
	return OutputFileEvent{Path: path}, true
}

// Extract runs every recognizer against the line and returns the events in a
// fixed dispatch order. Most lines return nothing.
func Extract(line string) []Event {
	var events []Event
	if ev, ok := ExtractSavedFile(line); ok {
		events = append(events, ev)
	}
	if ev, ok := ExtractRange(line); ok {
		events = append(events, ev)
	}
	if ev, ok := ExtractStart(line); ok {
		events = append(events, ev)
	}
	if ExtractSkip(line) {
		events = append(events, SkipEvent{})
	}
	if ExtractLoading(line) {
		events = append(events, LoadingEvent{})
	}
	if ev, ok := ExtractBlock(line); ok {
		events = append(events, ev)
	}
	if ExtractEnd(line) {
		events = append(events, EndEvent{})
	}
	if ev, ok := ExtractDone(line); ok {
		events = append(events, ev)
	}
	if ev, ok := ExtractOutputFile(line); ok {
		events = append(events, ev)
	}
	return events
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
