package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// FrameRange is an explicit start/end/step frame selection. Step must be >= 1.
type FrameRange struct {
	Start int
	End   int
	Step  int
}

// Count returns the number of frames the range produces, matching the
// renderer's own frame loop (start, start+step, ... while <= end).
func (r FrameRange) Count() int {
	step := r.Step
	if step <= 0 {
		step = 1
	}
	if r.End < r.Start {
		return 0
	}
	return (r.End-r.Start)/step + 1
}

// Frames expands the range into the ordered frame list.
func (r FrameRange) Frames() []int {
	step := r.Step
	if step <= 0 {
		step = 1
	}
	frames := make([]int, 0, r.Count())
	for f := r.Start; f <= r.End; f += step {
		frames = append(frames, f)
	}
	return frames
}

// Job describes one render invocation. At most one job is active at a time.
type Job struct {
	// HipPath is the Houdini scene file to render.
	HipPath string
	// OutNode is the path of the ROP output node inside the scene (e.g. /out/Redshift_ROP1).
	OutNode string
	// Range overrides the ROP's native frame range when non-nil. Nil means
	// "let the target node decide".
	Range *FrameRange
	// SkipExisting asks the renderer to skip frames whose output already exists.
	SkipExisting bool
	// RopHint carries the target node's natively configured range when it was
	// probed before the job started. Used only for progress estimation, never
	// to drive the renderer.
	RopHint *FrameRange
}

// Validate checks the job is runnable before anything is spawned.
func (j Job) Validate() error {
	if j.HipPath == "" {
		return fmt.Errorf("no hip file given")
	}
	if _, err := os.Stat(j.HipPath); err != nil {
		return fmt.Errorf("hip file %s: %w", j.HipPath, err)
	}
	if j.OutNode == "" {
		return fmt.Errorf("no out node given")
	}
	if j.Range != nil && j.Range.End < j.Range.Start {
		return fmt.Errorf("frame range %d-%d is empty", j.Range.Start, j.Range.End)
	}
	return nil
}

// Args builds the hython command line for the job. scriptPath is the render
// wrapper script written by WriteRenderScript.
func (j Job) Args(scriptPath string) []string {
	start, end, step := 1, 1, 1
	useRange := false
	if j.Range != nil {
		start, end = j.Range.Start, j.Range.End
		if j.Range.Step > 0 {
			step = j.Range.Step
		}
		useRange = true
	}
	return []string{
		scriptPath,
		"-i", j.HipPath,
		"-o", j.OutNode,
		"-s", strconv.Itoa(start),
		"-e", strconv.Itoa(end),
		"-u", pyBool(useRange),
		"-r", pyBool(j.SkipExisting),
		"-t", strconv.Itoa(step),
	}
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// Settings holds tool-wide knobs with renderer-informed defaults.
type Settings struct {
	// HythonBin is the batch-render interpreter binary.
	HythonBin string
	// SecondsPerFrameFloor is the conservative per-frame guess used for the
	// low-confidence ETA tier before any frame has completed.
	SecondsPerFrameFloor float64
	// RefreshInterval drives the periodic elapsed/ETA refresh so the clock
	// keeps moving during long inter-line gaps.
	RefreshInterval time.Duration
	// ReadTimeout bounds a single log-line read so cancellation flags are
	// checked regularly.
	ReadTimeout time.Duration
	// LogFile, when set, receives the full session log.
	LogFile string
}

// DefaultSettings returns the standard configuration.
func DefaultSettings() Settings {
	return Settings{
		HythonBin:            "hython",
		SecondsPerFrameFloor: 5.0,
		RefreshInterval:      500 * time.Millisecond,
		ReadTimeout:          100 * time.Millisecond,
	}
}
