package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"hbatch-monitor/config"
	"hbatch-monitor/houdini"
	"hbatch-monitor/tui"
)

func main() {
	// Define flags
	outFlag := flag.String("out", "", "Out node to render (e.g. /out/mantra1)")
	startFlag := flag.Int("s", 0, "First frame when overriding the node's range")
	endFlag := flag.Int("e", 0, "Last frame when overriding the node's range")
	stepFlag := flag.Int("t", 1, "Frame increment when overriding the node's range")
	useRange := flag.Bool("use-range", false, "Override the node's frame range with -s/-e/-t")
	skipFlag := flag.Bool("skip", false, "Skip frames whose output files already exist")
	logFile := flag.String("log-file", "", "Append the raw render log to this file")
	listNodes := flag.Bool("list-nodes", false, "Probe the hip file, list its out nodes and exit")
	listHips := flag.Bool("list-hips", false, "List recently opened hip files and exit")

	// Custom usage
	flag.Usage = func() {
		fmt.Println("Usage: hbatch-monitor [options] [hip-file]")
		fmt.Println()
		fmt.Println("Renders a Houdini out node with hython and monitors progress.")
		fmt.Println("Without a hip file, the most recently opened scene is used.")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  hbatch-monitor -out /out/Redshift_ROP1 scene.hip")
		fmt.Println("  hbatch-monitor -out /out/mantra1 -use-range -s 1 -e 240 scene.hip")
		fmt.Println("  hbatch-monitor -list-nodes scene.hip")
	}

	flag.Parse()

	set := config.DefaultSettings()
	set.LogFile = *logFile

	// Handle --list-hips
	if *listHips {
		hips, err := houdini.RecentHipFiles()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, h := range hips {
			fmt.Println(h)
		}
		os.Exit(0)
	}

	// Resolve the hip file, falling back to Houdini's own history
	hipPath := ""
	if args := flag.Args(); len(args) > 0 {
		hipPath = args[0]
	} else {
		hips, err := houdini.RecentHipFiles()
		if err != nil || len(hips) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no hip file given and no recent scene found")
			flag.Usage()
			os.Exit(1)
		}
		hipPath = hips[0]
		fmt.Printf("Using most recent scene: %s\n", hipPath)
	}

	if _, err := os.Stat(hipPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: Hip file not found: %s\n", hipPath)
		os.Exit(1)
	}

	// Check that hython is available
	if _, err := exec.LookPath(set.HythonBin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s not found in PATH\n", set.HythonBin)
		fmt.Fprintln(os.Stderr, "Source the Houdini environment (houdini_setup) and retry.")
		os.Exit(1)
	}

	// Handle --list-nodes
	if *listNodes {
		ctx, cancel := context.WithTimeout(context.Background(), houdini.DefaultProbeTimeout)
		defer cancel()
		nodes, settings, err := houdini.ProbeOutNodes(ctx, set.HythonBin, hipPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, name := range nodes {
			rs := settings[name]
			skip := ""
			if rs.SkipExisting != 0 {
				skip = "  (skip existing)"
			}
			fmt.Printf("  %-30s frames %d-%d%s\n", name, rs.Start, rs.End, skip)
		}
		os.Exit(0)
	}

	if *outFlag == "" {
		fmt.Fprintln(os.Stderr, "Error: -out is required")
		flag.Usage()
		os.Exit(1)
	}

	job := config.Job{
		HipPath:      hipPath,
		OutNode:      *outFlag,
		SkipExisting: *skipFlag,
	}
	if *useRange {
		job.Range = &config.FrameRange{Start: *startFlag, End: *endFlag, Step: *stepFlag}
	} else {
		// Probe the node so the monitor starts with a frame count instead
		// of inferring one from the log.
		ctx, cancel := context.WithTimeout(context.Background(), houdini.DefaultProbeTimeout)
		_, settings, err := houdini.ProbeOutNodes(ctx, set.HythonBin, hipPath)
		cancel()
		if err == nil {
			if rs, ok := settings[*outFlag]; ok {
				job.RopHint = &config.FrameRange{Start: rs.Start, End: rs.End, Step: 1}
				if rs.SkipExisting != 0 {
					job.SkipExisting = true
				}
			}
		}
	}

	if err := job.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := newLogger(set.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	// Create and run the TUI
	model := tui.NewModel(job, set, log)
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the session logger. With no log file configured the
// logger discards everything so monitor code can log unconditionally.
func newLogger(path string) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if path == "" {
		log.SetOutput(io.Discard)
		return log, func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return log, func() { f.Close() }, nil
}
