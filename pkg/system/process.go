package system

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/neuralconfig/wifi-test/pkg/types"
)

// terminateGrace is how long Terminate waits after SIGTERM before SIGKILL
const terminateGrace = 2 * time.Second

// Process supervises one detached long-lived daemon. Stdout and stderr are
// captured into a shared buffer that callers may read while the process is
// still running, which is how association markers are observed live.
type Process struct {
	name string
	cmd  *exec.Cmd
	buf  *lockedBuffer
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Spawner implements types.Spawner using os/exec
type Spawner struct {
	logger types.Logger
}

// NewSpawner creates a spawner for detached daemon processes
func NewSpawner(logger types.Logger) *Spawner {
	return &Spawner{logger: logger}
}

// Spawn starts a detached process under supervision
func (s *Spawner) Spawn(name string, args ...string) (types.ProcessHandle, error) {
	if _, err := exec.LookPath(name); err != nil {
		s.logger.Error("Command not found", "command", name)
		return nil, fmt.Errorf("%w: %s", types.ErrProcessSpawn, name)
	}

	cmd := exec.Command(name, args...)
	buf := &lockedBuffer{}
	cmd.Stdout = buf
	cmd.Stderr = buf

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrProcessSpawn, name, err)
	}

	p := &Process{
		name: name,
		cmd:  cmd,
		buf:  buf,
		done: make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	s.logger.Debug("Spawned process", "command", name, "pid", cmd.Process.Pid)
	return p, nil
}

// PID returns the process id
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Alive reports whether the process is still running
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Output returns everything the process has written so far
func (p *Process) Output() string {
	return p.buf.String()
}

// Terminate stops the process. Idempotent: calling it on an already-dead
// process is a no-op. SIGTERM first, SIGKILL if it does not exit in time.
func (p *Process) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process likely exited between the check and the signal
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(terminateGrace):
	}

	_ = p.cmd.Process.Kill()
	select {
	case <-p.done:
	case <-time.After(terminateGrace):
	}
	return nil
}
