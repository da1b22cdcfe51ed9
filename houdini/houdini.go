// Package houdini talks to a local Houdini installation for everything that
// is not the render itself: probing a scene's ROP output nodes for their
// configured frame ranges, and finding recently used hip files.
package houdini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RopSettings is a ROP node's natively configured range and skip flag.
type RopSettings struct {
	Start        int `json:"f1"`
	End          int `json:"f2"`
	SkipExisting int `json:"skip_rendered"`
}

// probeScript prints one NODE: line per renderable out node followed by a
// SETTINGS: line carrying its JSON settings, with all other output suppressed.
const probeScript = `
import hou
import sys
import os
import json

class NullIO:
    def write(self, *args): pass
    def flush(self): pass

old_stdout = sys.stdout
old_stderr = sys.stderr
try:
    sys.stdout = NullIO()
    sys.stderr = NullIO()
    os.environ['RS_VERBOSITY_LEVEL'] = '0'
    hou.hipFile.load(sys.argv[-1], suppress_save_prompt=True)
    sys.stdout = old_stdout
    out_context = hou.node("/out")
    if out_context:
        for node in out_context.children():
            if node.type().name() in ["rop_geometry", "Redshift_ROP", "opengl"]:
                print("NODE:{}".format(node.path()))
                settings = {
                    'f1': int(node.parm('f1').eval()) if node.parm('f1') else 1,
                    'f2': int(node.parm('f2').eval()) if node.parm('f2') else 1,
                    'skip_rendered': node.parm('RS_outputSkipRendered').eval() if node.parm('RS_outputSkipRendered') else 0,
                }
                print("SETTINGS:{}".format(json.dumps(settings)))
finally:
    sys.stdout = old_stdout
    sys.stderr = old_stderr
`

// ProbeOutNodes loads the hip file in a hython subprocess and returns its
// renderable out nodes with their settings, in scene order.
func ProbeOutNodes(ctx context.Context, hythonBin, hipPath string) ([]string, map[string]RopSettings, error) {
	cmd := exec.CommandContext(ctx, hythonBin, "-c", probeScript, hipPath)
	cmd.Env = append(os.Environ(), "HOU_VERBOSITY=0", "RS_VERBOSITY_LEVEL=0")
	out, err := cmd.Output()
	if err != nil {
		return nil, nil, fmt.Errorf("probe out nodes in %s: %w", hipPath, err)
	}
	nodes, settings := ParseProbeOutput(string(out))
	return nodes, settings, nil
}

// ParseProbeOutput extracts NODE:/SETTINGS: pairs from probe output. Lines
// that are neither (renderer chatter that escaped suppression) are ignored;
// a SETTINGS: line with malformed JSON drops only that node's settings.
func ParseProbeOutput(out string) ([]string, map[string]RopSettings) {
	var nodes []string
	settings := make(map[string]RopSettings)
	current := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "NODE:"):
			current = strings.TrimSpace(line[len("NODE:"):])
			nodes = append(nodes, current)
		case strings.HasPrefix(line, "SETTINGS:"):
			if current == "" {
				continue
			}
			var s RopSettings
			if err := json.Unmarshal([]byte(line[len("SETTINGS:"):]), &s); err == nil {
				settings[current] = s
			}
		}
	}
	return nodes, settings
}

// HistoryFile locates the newest Houdini version's file.history under the
// user's home directory.
func HistoryFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(home)
	if err != nil {
		return "", err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "houdini") {
			versions = append(versions, e.Name())
		}
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("no houdini preference directory under %s", home)
	}
	sort.Strings(versions)
	path := filepath.Join(home, versions[len(versions)-1], "file.history")
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// RecentHipFiles returns recently opened hip files, newest first.
func RecentHipFiles() ([]string, error) {
	path, err := HistoryFile()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseHipHistory(string(data)), nil
}

// ParseHipHistory extracts hip paths from file.history content. The file is
// a single HIP{...} block of concatenated absolute paths; entries are
// deduplicated and returned newest first.
func ParseHipHistory(content string) []string {
	content = strings.ReplaceAll(content, "\r", "")
	content = strings.ReplaceAll(content, "\n", "")
	if !strings.HasPrefix(content, "HIP{") {
		return nil
	}
	end := strings.Index(content[4:], "}")
	if end == -1 {
		return nil
	}
	section := content[4 : 4+end]

	var paths []string
	current := ""
	for _, part := range strings.Split(section, "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if strings.HasSuffix(current, ".hip") {
			paths = append(paths, current)
			current = ""
		}
	}

	// file.history appends, so the newest entries are last; walk backwards
	// and keep the newest occurrence of a re-opened scene.
	seen := make(map[string]struct{}, len(paths))
	var unique []string
	for i := len(paths) - 1; i >= 0; i-- {
		p := paths[i]
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	return unique
}

// DefaultProbeTimeout bounds a hython probe; scene loads can be slow but a
// hung license check should not wedge startup.
const DefaultProbeTimeout = 60 * time.Second
