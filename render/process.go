package render

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

// SpawnError means the render backend could not be launched at all (missing
// executable, permission denied). Fatal to the job; nothing is retried.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Process supervises one render subprocess: spawn, graceful interrupt, hard
// kill, exit detection. The process runs in its own process group so a
// single signal reaches any children it spawns.
type Process struct {
	cmd    *exec.Cmd
	output io.ReadCloser

	done chan struct{}

	mu           sync.Mutex
	interrupting bool
	exitCode     int
	exited       bool
}

// StartProcess spawns name with args in dir, with combined stdout/stderr
// captured on a single pipe.
func StartProcess(name string, args []string, dir string) (*Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Command: name, Err: err}
	}
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Command: name, Err: err}
	}
	// The child holds its own copy of the write end; closing ours makes the
	// read end hit EOF when the child exits.
	pw.Close()

	p := &Process{cmd: cmd, output: pr, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.mu.Unlock()
	close(p.done)
}

// Output is the combined stdout/stderr stream. It reaches EOF when the
// process exits.
func (p *Process) Output() io.ReadCloser {
	return p.output
}

// Wait blocks until the process has exited and its status is recorded.
func (p *Process) Wait() {
	<-p.done
}

// Running reports whether the process has not yet exited.
func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode is the non-blocking exit status check.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

// Interrupt requests a graceful stop: SIGUSR1 to the process, which the
// render wrapper script treats as "finish the current frame, then stop".
// If delivery fails (signal unsupported or process gone) it falls back to
// SIGTERM against the whole group. A second Interrupt while already
// interrupting escalates to Kill.
func (p *Process) Interrupt() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	if p.interrupting {
		p.mu.Unlock()
		p.Kill()
		return
	}
	p.interrupting = true
	pid := p.cmd.Process.Pid
	p.mu.Unlock()

	if err := syscall.Kill(pid, syscall.SIGUSR1); err != nil {
		// The process may already be gone; lookup failures are not errors here.
		_ = syscall.Kill(-pid, syscall.SIGTERM)
	}
}

// Interrupting reports whether a graceful stop was already requested.
func (p *Process) Interrupting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupting
}

// Kill sends SIGKILL to the whole process group and blocks until the process
// has fully exited. No-op when it already has.
func (p *Process) Kill() {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	pid := p.cmd.Process.Pid
	p.mu.Unlock()

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-p.done
}
