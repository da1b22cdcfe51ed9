package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"testing/quick"
)

func TestFrameRangeCount(t *testing.T) {
	tests := []struct {
		name  string
		r     FrameRange
		count int
	}{
		{"single frame", FrameRange{Start: 5, End: 5, Step: 1}, 1},
		{"simple range", FrameRange{Start: 1, End: 10, Step: 1}, 10},
		{"step divides evenly", FrameRange{Start: 1, End: 100, Step: 10}, 10},
		{"step overshoots end", FrameRange{Start: 1, End: 10, Step: 3}, 4},
		{"empty when end before start", FrameRange{Start: 10, End: 1, Step: 1}, 0},
		{"zero step treated as one", FrameRange{Start: 1, End: 4}, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.r.Count(); got != tc.count {
				t.Errorf("Count() = %d, want %d", got, tc.count)
			}
		})
	}
}

// Count always equals the length of the expanded frame list.
func TestFrameRangeCountMatchesFrames_Property(t *testing.T) {
	f := func(startRaw int16, spanRaw, stepRaw uint8) bool {
		r := FrameRange{
			Start: int(startRaw),
			End:   int(startRaw) + int(spanRaw),
			Step:  int(stepRaw)%10 + 1,
		}
		return r.Count() == len(r.Frames())
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 1000}); err != nil {
		t.Error(err)
	}
}

func TestFrameRangeFrames(t *testing.T) {
	r := FrameRange{Start: 1, End: 10, Step: 3}
	want := []int{1, 4, 7, 10}
	if got := r.Frames(); !slices.Equal(got, want) {
		t.Errorf("Frames() = %v, want %v", got, want)
	}
}

func TestJobArgs(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want []string
	}{
		{
			name: "node-controlled range",
			job:  Job{HipPath: "/shots/a.hip", OutNode: "/out/rs1"},
			want: []string{
				"/tmp/render.py",
				"-i", "/shots/a.hip",
				"-o", "/out/rs1",
				"-s", "1", "-e", "1",
				"-u", "False",
				"-r", "False",
				"-t", "1",
			},
		},
		{
			name: "explicit range with skip",
			job: Job{
				HipPath:      "/shots/a.hip",
				OutNode:      "/out/rs1",
				Range:        &FrameRange{Start: 10, End: 19, Step: 2},
				SkipExisting: true,
			},
			want: []string{
				"/tmp/render.py",
				"-i", "/shots/a.hip",
				"-o", "/out/rs1",
				"-s", "10", "-e", "19",
				"-u", "True",
				"-r", "True",
				"-t", "2",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.job.Args("/tmp/render.py")
			if !slices.Equal(got, tc.want) {
				t.Errorf("Args() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestJobValidate(t *testing.T) {
	hip := filepath.Join(t.TempDir(), "scene.hip")
	if err := os.WriteFile(hip, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"valid", Job{HipPath: hip, OutNode: "/out/rs1"}, false},
		{"missing hip path", Job{OutNode: "/out/rs1"}, true},
		{"nonexistent hip", Job{HipPath: "/does/not/exist.hip", OutNode: "/out/rs1"}, true},
		{"missing out node", Job{HipPath: hip}, true},
		{"empty range", Job{HipPath: hip, OutNode: "/out/rs1", Range: &FrameRange{Start: 10, End: 1}}, true},
		{"valid range", Job{HipPath: hip, OutNode: "/out/rs1", Range: &FrameRange{Start: 1, End: 10, Step: 1}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.job.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWriteRenderScript(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteRenderScript(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("script written to %s, want it under %s", path, dir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	// The script must emit the output-file marker the log extractor keys on
	// and honor the graceful-stop signal.
	for _, needle := range []string{"hbatch_outputfile:", "SIGUSR1", "-i", "-o"} {
		if !strings.Contains(content, needle) {
			t.Errorf("script missing %q", needle)
		}
	}
}

func TestDefaultSettings(t *testing.T) {
	set := DefaultSettings()
	if set.HythonBin != "hython" {
		t.Errorf("HythonBin = %q", set.HythonBin)
	}
	if set.SecondsPerFrameFloor <= 0 {
		t.Error("floor must be positive")
	}
	if set.ReadTimeout <= 0 || set.RefreshInterval <= 0 {
		t.Error("timeouts must be positive")
	}
	if set.ReadTimeout >= set.RefreshInterval {
		t.Error("read timeout should be shorter than the refresh interval")
	}
}
