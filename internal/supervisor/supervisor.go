// SPDX-License-Identifier: MPL-2.0

// Package supervisor owns the single live process tree of a bind session.
//
// Each Run replaces the previous tree: the old process group and every
// descendant found at teardown time are signalled, escalated to SIGKILL after
// a grace period, and awaited before the replacement is spawned. Only exits
// the process makes on its own are reported on Exited.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultGracePeriod is how long a tree may take to exit after SIGTERM.
const DefaultGracePeriod = 5 * time.Second

var (
	// ErrTermination is returned when the previous process tree could not be
	// confirmed gone. The replacement is not spawned.
	ErrTermination = errors.New("process tree termination failed")

	// ErrNoCommand is returned by New for an empty argv.
	ErrNoCommand = errors.New("no command to supervise")
)

type (
	// Config describes the supervised command.
	Config struct {
		// Argv is the command line. A single element is run as a shell
		// script verbatim; several elements are quoted word by word.
		Argv []string
		Dir  string
		// Shell overrides $SHELL.
		Shell       string
		GracePeriod time.Duration
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
		// Environ is the base environment. Nil uses os.Environ.
		Environ func() []string
	}

	// Supervisor runs one process tree at a time. Its methods are safe for
	// concurrent use, but a bind session drives it from a single goroutine.
	Supervisor struct {
		cfg    Config
		script string
		exited chan int

		mu  sync.Mutex
		cur *child
	}

	child struct {
		cmd      *exec.Cmd
		pid      int
		done     chan struct{}
		code     int
		stopping atomic.Bool
	}
)

// New validates cfg and builds the shell script for its argv.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Argv) == 0 {
		return nil, ErrNoCommand
	}
	script, err := Script(cfg.Argv)
	if err != nil {
		return nil, err
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ
	}
	return &Supervisor{cfg: cfg, script: script, exited: make(chan int, 1)}, nil
}

// Script joins argv into the script handed to the shell.
func Script(argv []string) (string, error) {
	if len(argv) == 1 {
		return argv[0], nil
	}
	words := make([]string, 0, len(argv))
	for _, a := range argv {
		q, err := syntax.Quote(a, syntax.LangPOSIX)
		if err != nil {
			return "", fmt.Errorf("quote argument %q: %w", a, err)
		}
		words = append(words, q)
	}
	return strings.Join(words, " "), nil
}

// Exited delivers the exit code of a process that exited on its own.
func (s *Supervisor) Exited() <-chan int { return s.exited }

// Running reports whether a process is currently supervised and alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return false
	}
	select {
	case <-s.cur.done:
		return false
	default:
		return true
	}
}

// Run terminates the current tree, if any, then spawns the command with the
// host environment overridden by overrides.
func (s *Supervisor) Run(ctx context.Context, overrides map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur != nil {
		if err := s.terminate(ctx, s.cur); err != nil {
			return err
		}
		s.cur = nil
		// An exit the replaced tree made before it was signalled is stale.
		select {
		case code := <-s.exited:
			slog.Debug("discarding exit of replaced process", "code", code)
		default:
		}
	}

	shell := s.shell()
	cmd := exec.Command(shell, shellArgs(shell, s.script)...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = MergeEnv(s.cfg.Environ(), overrides)
	cmd.Stdin = s.cfg.Stdin
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", shell, err)
	}

	c := &child{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}
	s.cur = c
	slog.Debug("process started", "pid", c.pid, "shell", shell)

	go s.wait(c)
	return nil
}

// Stop terminates the current tree, if any.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cur == nil {
		return nil
	}
	err := s.terminate(ctx, s.cur)
	if err == nil {
		s.cur = nil
	}
	return err
}

func (s *Supervisor) wait(c *child) {
	c.code = exitCode(c.cmd.Wait())
	close(c.done)

	s.mu.Lock()
	defer s.mu.Unlock()
	if c.stopping.Load() || s.cur != c {
		slog.Debug("process stopped", "pid", c.pid, "code", c.code)
		return
	}
	slog.Debug("process exited", "pid", c.pid, "code", c.code)
	select {
	case s.exited <- c.code:
	default:
	}
}

// terminate brings down c's whole tree and waits until it is gone.
func (s *Supervisor) terminate(ctx context.Context, c *child) error {
	c.stopping.Store(true)

	// Descendants are collected before signalling; once their parent dies
	// they are reparented and no longer reachable from c.pid.
	pids := descendants(ctx, c.pid)
	slog.Debug("terminating process tree", "pid", c.pid, "descendants", len(pids))

	if err := signalTree(c.pid, pids, false); err != nil {
		return fmt.Errorf("%w: %w", ErrTermination, err)
	}
	if !s.awaitGone(ctx, c, pids) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrTermination, ctx.Err())
		}
		slog.Debug("process tree ignored SIGTERM, killing", "pid", c.pid)
		if err := signalTree(c.pid, pids, true); err != nil {
			return fmt.Errorf("%w: %w", ErrTermination, err)
		}
		if !s.awaitGone(ctx, c, pids) {
			return fmt.Errorf("%w: process %d still alive after kill", ErrTermination, c.pid)
		}
	}
	return nil
}

// awaitGone waits up to the grace period for the direct child to be reaped
// and the group and enumerated descendants to disappear.
func (s *Supervisor) awaitGone(ctx context.Context, c *child, pids []int) bool {
	deadline := time.NewTimer(s.cfg.GracePeriod)
	defer deadline.Stop()

	select {
	case <-c.done:
	case <-deadline.C:
		return false
	case <-ctx.Done():
		return false
	}

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if !treeAlive(ctx, c.pid, pids) {
			return true
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Supervisor) shell() string {
	if s.cfg.Shell != "" {
		return s.cfg.Shell
	}
	return defaultShell()
}

func shellArgs(shell, script string) []string {
	// Windows paths are matched on any host.
	name := path.Base(strings.ReplaceAll(shell, `\`, "/"))
	switch strings.TrimSuffix(strings.ToLower(name), ".exe") {
	case "cmd":
		return []string{"/C", script}
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-Command", script}
	default:
		return []string{"-c", script}
	}
}

// MergeEnv returns base with every key in overrides replaced or appended.
// The result is sorted so child environments are reproducible.
func MergeEnv(base []string, overrides map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env
}

// descendants walks the process table below pid. Enumeration errors yield a
// partial list; on unix the group signal still covers members that kept the
// pgid.
func descendants(ctx context.Context, pid int) []int {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}
	var out []int
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		kids, err := p.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, k := range kids {
			out = append(out, int(k.Pid))
			queue = append(queue, k)
		}
	}
	return out
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return waitStatusCode(exitErr)
	}
	return 1
}
