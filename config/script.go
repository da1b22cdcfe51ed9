package config

import (
	"os"
	"path/filepath"
)

// renderScript is the render-side wrapper executed by hython. It registers a
// PostFrame hook that announces resolved output files with the
// "hbatch_outputfile:" marker, honors SIGUSR1 as "finish the current frame
// then stop", applies the skip-existing parm, and renders frame by frame when
// the range override is active so stepped ranges behave.
const renderScript = `#!/usr/bin/env python3

import os
import signal
import sys
from optparse import OptionParser

STOP_RENDERING = False

def signal_handler(sig, frame):
    global STOP_RENDERING
    if sig == signal.SIGUSR1:
        print("Received interrupt signal. Will stop after current frame completes.")
        STOP_RENDERING = True
    elif sig == signal.SIGTERM:
        print("Received termination signal. Exiting.")
        sys.exit(0)

signal.signal(signal.SIGUSR1, signal_handler)
signal.signal(signal.SIGTERM, signal_handler)

def init_render(out, sframe, eframe, userange, useskip, step=1):
    global STOP_RENDERING
    import hou
    rnode = hou.node(out)

    if rnode.parm('prerender') is not None:
        rnode.parm('prerender').set('Redshift_setLogLevel -L 5')

    def post_frame(rop_node, render_event_type, frame):
        if render_event_type == hou.ropRenderEventType.PostFrame:
            output_file = rnode.evalParm("RS_outputFileNamePrefix")
            print("hbatch_outputfile: {}".format(output_file))

    rnode.addRenderEventCallback(post_frame)

    parm_skip = rnode.parm("RS_outputSkipRendered")
    if parm_skip is not None:
        parm_skip.set(1 if useskip.lower() == "true" else 0)

    if "merge" in str(rnode.type()).lower():
        rnode.render()
        if userange == "True":
            print("hbatch_note: Out node is a merge node; the range override is "
                  "ignored and each ROP renders its own configured range.")
    elif userange == "True":
        frames = list(range(int(sframe), int(eframe) + 1, int(step)))
        rnode.parm("f1").set(frames[0])
        rnode.parm("f2").set(frames[-1])
        rnode.parm("f3").set(int(step))
        for frame in frames:
            if STOP_RENDERING:
                print("Interrupt detected - stopping render after current frame.")
                break
            rnode.render(frame_range=(frame, frame))
    else:
        rnode.render(frame_range=(rnode.parm("f1").eval(), rnode.parm("f2").eval()))

if __name__ == "__main__":
    parser = OptionParser()
    parser.add_option("-i", "--hip", dest="hipfile", help="path to .hip file")
    parser.add_option("-o", "--out", dest="outnode", help="path to out node")
    parser.add_option("-s", "--sframe", dest="startframe", help="start frame to render")
    parser.add_option("-e", "--eframe", dest="endframe", help="end frame to render")
    parser.add_option("-u", "--userange", dest="userange", help="toggle to enable frame range")
    parser.add_option("-r", "--useskip", dest="useskip", help="toggle to skip already rendered frames")
    parser.add_option("-t", "--step", dest="step", help="render every Nth frame", default="1")
    (options, args) = parser.parse_args()

    hip_file = os.path.abspath(options.hipfile.strip())
    os.chdir(os.path.dirname(hip_file))

    import hou
    hou.hipFile.load(hip_file)

    init_render(options.outnode.strip(),
                int(options.startframe),
                int(options.endframe),
                options.userange,
                options.useskip,
                int(options.step))
`

// WriteRenderScript writes the wrapper script into dir (os.TempDir when empty)
// and returns its path.
func WriteRenderScript(dir string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "hbatch_render.py")
	if err := os.WriteFile(path, []byte(renderScript), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
