package render

import "time"

// Output colors used by the formatted text stream. The presentation layer maps
// these straight to its own styles.
const (
	ColorBanner  = "#22adf2"
	ColorCommand = "#ff6b2b"
	ColorDim     = "#c0c0c0"
	ColorAlert   = "#ff7a7a"
	ColorFrame   = "#50c878"
)

// Update is the tagged union the monitor emits to the presentation layer.
// All updates for a job are delivered in order on a single channel; the
// consumer drains them on its own schedule and is never called into directly
// from the monitor goroutine.
type Update interface {
	isUpdate()
}

// OutputLine is a formatted line for the human-readable output pane.
type OutputLine struct {
	Text   string
	Color  string
	Bold   bool
	Center bool
}

// RawLine is an unprocessed renderer log line.
type RawLine struct {
	Text string
}

// Progress reports overall job progress in frames. Source tells the consumer
// how trustworthy Total is (an inferred total is only a lower bound).
type Progress struct {
	Done   int
	Total  int
	Source TotalSource
}

// FrameProgress reports sub-frame (block) progress for the frame being rendered.
type FrameProgress struct {
	Frame   int
	Percent int
}

// FrameBegun announces that a frame has actually begun rendering (as opposed
// to being skipped), with the best current duration estimate in seconds.
type FrameBegun struct {
	Frame     int
	StartedAt time.Time
	Estimate  float64
}

// FrameDone reports a completed frame and its render duration in seconds.
type FrameDone struct {
	Frame    int
	Duration float64
}

// FrameSkip reports a frame skipped because its output already exists.
type FrameSkip struct {
	Frame int
}

// ImageProduced reports a resolved output image path.
type ImageProduced struct {
	Path string
}

// TimeLabels is the periodic timing snapshot. Total is always Elapsed plus
// Remaining, and Remaining is never negative.
type TimeLabels struct {
	Elapsed   float64
	Average   float64
	Total     float64
	Remaining float64
	ETA       time.Time
	ShowETA   bool
}

// Finished signals the end of monitoring, successful or not. It is emitted
// exactly once per job.
type Finished struct {
	ExitCode int
	Killed   bool
}

func (OutputLine) isUpdate()    {}
func (RawLine) isUpdate()       {}
func (Progress) isUpdate()      {}
func (FrameProgress) isUpdate() {}
func (FrameBegun) isUpdate()    {}
func (FrameDone) isUpdate()     {}
func (FrameSkip) isUpdate()     {}
func (ImageProduced) isUpdate() {}
func (TimeLabels) isUpdate()    {}
func (Finished) isUpdate()      {}
