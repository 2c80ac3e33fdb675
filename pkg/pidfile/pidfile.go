package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned by Create when another live process owns the file
var ErrRunning = errors.New("daemon already running")

// PIDFile guards against a second locnotifierd on the same settings database
type PIDFile struct {
	path  string
	pid   int
	alive func(pid int) bool
}

// New creates a new PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{
		path:  path,
		pid:   os.Getpid(),
		alive: processAlive,
	}
}

// Create writes the PID file, replacing a stale one left by a dead process
func (p *PIDFile) Create() error {
	running, existing, err := p.CheckRunning()
	if err != nil {
		return err
	}
	if running && existing != p.pid {
		return fmt.Errorf("%w with PID %d", ErrRunning, existing)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if this process owns it
func (p *PIDFile) Remove() error {
	existing, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return os.Remove(p.path)
	}
	if existing != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existing, p.pid)
	}
	return os.Remove(p.path)
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// CheckRunning reports whether the PID in the file belongs to a live process
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existing, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		// unreadable files are treated as stale
		return false, 0, nil
	}
	return p.alive(existing), existing, nil
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}
	return pid, nil
}

// processAlive probes with signal 0; EPERM still means the process exists
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
