// Package runner spawns one child process per tool invocation and enforces
// its deadline. Each invocation gets a private workspace directory, a scrubbed
// environment, the argument document on stdin, and its own process group so
// the whole tree can be terminated at once. Process control requires a
// Unix-like platform.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"time"
)

const (
	defaultMaxOutput = 1 << 20
	defaultGrace     = 3 * time.Second

	// After SIGKILL the group is polled until every member is reaped.
	sweepTimeout = 2 * time.Second
	sweepPoll    = 100 * time.Millisecond
)

// timeNow is a package-level clock to enable deterministic tests.
var timeNow = time.Now

// baseEnvKeys are host variables every tool process receives when set.
var baseEnvKeys = []string{"PATH", "HOME", "LANG", "LC_ALL", "TZ"}

// blockedEnvKeys are never forwarded, not even via explicit passthrough.
var blockedEnvKeys = []string{"LD_PRELOAD", "LD_LIBRARY_PATH", "DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH"}

// Options configure the execution limits shared by every invocation.
type Options struct {
	// WorkRoot is the directory under which per-invocation workspaces are
	// created. Empty means the system temp directory.
	WorkRoot string
	// EnvPassthrough lists host environment variables forwarded to tool
	// processes in addition to the base set.
	EnvPassthrough []string
	// MaxOutputBytes caps the captured bytes per stream. Anything beyond
	// the cap is drained and discarded so the child never blocks on a
	// full pipe.
	MaxOutputBytes int64
	// TerminationGrace is how long a tool gets between SIGTERM and
	// SIGKILL once its deadline expires.
	TerminationGrace time.Duration
}

// Runner launches tool processes.
type Runner struct {
	logger *slog.Logger
	opts   Options
}

// New returns a Runner with zero option fields replaced by defaults.
func New(logger *slog.Logger, opts Options) *Runner {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutput
	}
	if opts.TerminationGrace <= 0 {
		opts.TerminationGrace = defaultGrace
	}
	return &Runner{logger: logger, opts: opts}
}

// Spec describes a single tool process to launch.
type Spec struct {
	// Tool is the tool name, used for logging and workspace naming.
	Tool string
	// ExecutionID correlates log lines with the audit record.
	ExecutionID string
	// Interpreter is the argv prefix the script path is appended to.
	Interpreter []string
	// Script is the script body written into the workspace.
	Script string
	// Env holds tool-declared environment variables.
	Env map[string]string
	// Stdin is the JSON document delivered on the child's standard input.
	// Empty means an empty JSON object.
	Stdin []byte
}

// Kind classifies how a run ended.
type Kind int

const (
	// Completed means the process exited on its own before the deadline.
	Completed Kind = iota
	// TimedOut means the deadline expired and the process group was
	// terminated.
	TimedOut
	// SpawnFailed means the child process never started.
	SpawnFailed
)

// Outcome describes a finished run.
type Outcome struct {
	Kind      Kind
	ExitCode  int
	Stdout    []byte
	Stderr    []byte
	Truncated bool
	Elapsed   time.Duration
	SpawnErr  error
}

// SpawnFailure wraps a launch error in an Outcome so callers can classify
// every run through a single path.
func SpawnFailure(err error) Outcome {
	return Outcome{Kind: SpawnFailed, ExitCode: -1, SpawnErr: err}
}

type streamResult struct {
	data      []byte
	truncated bool
}

type waitResult struct {
	err       error
	stdout    []byte
	stderr    []byte
	truncated bool
}

// Process is a started tool process awaiting its outcome.
type Process struct {
	logger  *slog.Logger
	tool    string
	pid     int
	pgid    int
	workdir string
	grace   time.Duration
	started time.Time
	waitCh  chan waitResult
}

// Start launches the tool process described by spec. On success the caller
// must call Wait exactly once to collect the outcome and release the
// workspace.
func (r *Runner) Start(spec Spec) (*Process, error) {
	if len(spec.Interpreter) == 0 {
		return nil, fmt.Errorf("tool %s: interpreter is required", spec.Tool)
	}

	dir, err := os.MkdirTemp(r.opts.WorkRoot, "toolexec-"+spec.Tool+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	scriptPath := filepath.Join(dir, "script")
	if err := os.WriteFile(scriptPath, []byte(spec.Script), 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("write script: %w", err)
	}

	argv := append(append([]string(nil), spec.Interpreter...), scriptPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	env, passedKeys := r.buildEnv(spec.Env, dir)
	cmd.Env = env
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	p := &Process{
		logger:  r.logger,
		tool:    spec.Tool,
		pid:     cmd.Process.Pid,
		pgid:    cmd.Process.Pid,
		workdir: dir,
		grace:   r.opts.TerminationGrace,
		started: timeNow(),
		waitCh:  make(chan waitResult, 1),
	}

	input := spec.Stdin
	if len(input) == 0 {
		input = []byte("{}")
	}
	go func() {
		if _, err := stdin.Write(input); err != nil && !isClosedPipe(err) {
			r.logger.Debug("stdin write failed", "tool", spec.Tool, "execution_id", spec.ExecutionID, "error", err)
		}
		_ = stdin.Close()
	}()

	limit := r.opts.MaxOutputBytes
	outCh := make(chan streamResult, 1)
	errCh := make(chan streamResult, 1)
	go func() {
		data, truncated := readCapped(stdout, limit)
		outCh <- streamResult{data: data, truncated: truncated}
	}()
	go func() {
		data, truncated := readCapped(stderr, limit)
		errCh <- streamResult{data: data, truncated: truncated}
	}()

	// Reads must complete before Wait closes the pipes.
	go func() {
		out := <-outCh
		serr := <-errCh
		err := cmd.Wait()
		p.waitCh <- waitResult{
			err:       err,
			stdout:    out.data,
			stderr:    serr.data,
			truncated: out.truncated || serr.truncated,
		}
	}()

	r.logger.Debug("tool process started",
		"tool", spec.Tool,
		"execution_id", spec.ExecutionID,
		"pid", p.pid,
		"workdir", dir,
		"env_passthrough", passedKeys,
	)
	return p, nil
}

// PID returns the child's process id, which is also its process group id.
func (p *Process) PID() int {
	return p.pid
}

// Workdir returns the invocation's private workspace directory.
func (p *Process) Workdir() string {
	return p.workdir
}

// Wait blocks until the process exits or ctx is done. When ctx fires first
// the whole process group is terminated in two phases, SIGTERM then SIGKILL
// after the grace period, and the outcome is reported as TimedOut. Wait
// always reaps the child and removes the workspace.
func (p *Process) Wait(ctx context.Context) Outcome {
	select {
	case res := <-p.waitCh:
		return p.outcome(res, Completed)
	case <-ctx.Done():
	}

	// The exit may have raced the deadline.
	select {
	case res := <-p.waitCh:
		return p.outcome(res, Completed)
	default:
	}

	p.logger.Debug("terminating tool process group", "tool", p.tool, "pgid", p.pgid, "grace", p.grace)
	if err := signalGroup(p.pgid, sigGraceful); err != nil {
		p.logger.Debug("signal process group", "tool", p.tool, "pgid", p.pgid, "error", err)
	}
	var res waitResult
	select {
	case res = <-p.waitCh:
	case <-time.After(p.grace):
		_ = signalGroup(p.pgid, sigKill)
		res = <-p.waitCh
	}
	p.reapGroup()
	return p.outcome(res, TimedOut)
}

func (p *Process) outcome(res waitResult, kind Kind) Outcome {
	defer func() {
		if err := os.RemoveAll(p.workdir); err != nil {
			p.logger.Debug("remove workspace", "tool", p.tool, "workdir", p.workdir, "error", err)
		}
	}()

	exitCode := 0
	if res.err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(res.err, &exitErr) && exitErr.ProcessState != nil {
			exitCode = exitErr.ProcessState.ExitCode()
		}
	}
	return Outcome{
		Kind:      kind,
		ExitCode:  exitCode,
		Stdout:    res.stdout,
		Stderr:    res.stderr,
		Truncated: res.truncated,
		Elapsed:   timeNow().Sub(p.started),
	}
}

// reapGroup sweeps stragglers after the direct child has been reaped.
// Grandchildren that survived the SIGTERM phase are killed and polled until
// gone or the sweep window closes.
func (p *Process) reapGroup() {
	if !groupAlive(p.pgid) {
		return
	}
	_ = signalGroup(p.pgid, sigKill)
	deadline := timeNow().Add(sweepTimeout)
	for groupAlive(p.pgid) {
		if timeNow().After(deadline) {
			p.logger.Warn("process group did not exit after SIGKILL", "tool", p.tool, "pgid", p.pgid)
			return
		}
		time.Sleep(sweepPoll)
	}
}

func (r *Runner) buildEnv(toolEnv map[string]string, workdir string) ([]string, []string) {
	merged := make(map[string]string)
	for _, key := range baseEnvKeys {
		if v, ok := os.LookupEnv(key); ok {
			merged[key] = v
		}
	}
	var passed []string
	for _, key := range r.opts.EnvPassthrough {
		if blockedEnvKey(key) {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			merged[key] = v
			passed = append(passed, key)
		}
	}
	for key, v := range toolEnv {
		if blockedEnvKey(key) {
			continue
		}
		merged[key] = v
	}
	merged["TMPDIR"] = workdir

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env, passed
}

func blockedEnvKey(key string) bool {
	return slices.Contains(blockedEnvKeys, key)
}

// readCapped reads up to limit bytes and drains the rest so the writer never
// blocks. On a read error it returns whatever was collected.
func readCapped(r io.Reader, limit int64) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return data, false
	}
	drained, err := io.Copy(io.Discard, r)
	if err != nil {
		return data, drained > 0
	}
	return data, drained > 0
}
