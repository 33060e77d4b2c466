// Package procmon implements the Process Monitor (§4.6): spawning detached
// worker processes, tracking pid/nonce/session bindings in memory, and
// probing/killing them.
package procmon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/noncekit"
	"github.com/agentzhq/controlplane/internal/sessionid"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

// killGrace is how long killDaemon waits after SIGTERM before escalating to
// SIGKILL (§4.6: "a few seconds").
const killGrace = 5 * time.Second

// SpawnConfig carries everything a worker needs to start (§4.6).
type SpawnConfig struct {
	SessionID       sessionid.ID
	AgentType       workertypes.AgentType
	Prompt          string
	WorkingDir      string
	Model           string
	StreamServerURL string
	DaemonNonce     noncekit.Nonce

	CLISessionID          string // set when resuming
	ReconstructedMessages []byte // opaque JSON blob, written to a temp file for the worker to read

	TaskPath     string
	Title        string
	DebugRunID   string
	Instructions string
	SourceFile   string
	SourceLine   int
	Attachments  []string
}

// DaemonInfo is what getDaemon reports for a tracked session.
type DaemonInfo struct {
	PID       int
	StartedAt time.Time
}

type trackedWorker struct {
	pid       int
	startedAt time.Time
	process   *os.Process
	killTimer *time.Timer
}

// CommandFunc builds the *exec.Cmd for a spawn. It exists so tests can
// substitute a trivial command (e.g. "sleep") without depending on real
// agent binaries.
type CommandFunc func(ctx context.Context, cfg SpawnConfig) (*exec.Cmd, error)

// Monitor tracks live workers keyed by session id.
type Monitor struct {
	mu       sync.Mutex
	workers  map[sessionid.ID]*trackedWorker
	buildCmd CommandFunc
}

// New constructs a Monitor using buildCmd to construct each spawned process.
func New(buildCmd CommandFunc) *Monitor {
	return &Monitor{
		workers:  make(map[sessionid.ID]*trackedWorker),
		buildCmd: buildCmd,
	}
}

// DefaultCommandBuilder resolves cfg.AgentType to an executable path from
// binaries and passes the rest of the spawn configuration via environment
// variables, matching the worker-reads-its-own-start-parameters contract of
// §4.6. Reconstructed messages, being potentially large, are written to a
// temp file rather than an environment variable; the worker is responsible
// for reading and removing it.
func DefaultCommandBuilder(binaries map[workertypes.AgentType]string) CommandFunc {
	return func(ctx context.Context, cfg SpawnConfig) (*exec.Cmd, error) {
		bin, ok := binaries[cfg.AgentType]
		if !ok || bin == "" {
			return nil, apierrors.NotFound(fmt.Sprintf("no worker binary configured for agent type %q", cfg.AgentType))
		}

		cmd := exec.CommandContext(ctx, bin) //nolint:gosec // bin comes from operator configuration, not user input
		cmd.Dir = cfg.WorkingDir
		cmd.Env = append(os.Environ(), spawnEnv(cfg)...)

		if len(cfg.ReconstructedMessages) > 0 {
			f, err := os.CreateTemp("", "agentz-resume-*.json")
			if err != nil {
				return nil, fmt.Errorf("writing resume messages: %w", err)
			}
			if _, err := f.Write(cfg.ReconstructedMessages); err != nil {
				f.Close()
				return nil, fmt.Errorf("writing resume messages: %w", err)
			}
			if err := f.Close(); err != nil {
				return nil, fmt.Errorf("writing resume messages: %w", err)
			}
			cmd.Env = append(cmd.Env, "AGENTZ_RESUME_MESSAGES_FILE="+f.Name())
		}

		// Worker output reaches the control plane only via the chunk
		// ingester (§4.9); stdout/stderr are not piped into this process.
		cmd.Stdin = nil
		cmd.Stdout = nil
		cmd.Stderr = nil
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

		return cmd, nil
	}
}

func spawnEnv(cfg SpawnConfig) []string {
	env := []string{
		"AGENTZ_SESSION_ID=" + cfg.SessionID.String(),
		"AGENTZ_AGENT_TYPE=" + cfg.AgentType.String(),
		"AGENTZ_PROMPT=" + cfg.Prompt,
		"AGENTZ_WORKING_DIR=" + cfg.WorkingDir,
		"AGENTZ_MODEL=" + cfg.Model,
		"AGENTZ_STREAM_SERVER_URL=" + cfg.StreamServerURL,
		"AGENTZ_NONCE=" + cfg.DaemonNonce.String(),
	}
	if cfg.CLISessionID != "" {
		env = append(env, "AGENTZ_CLI_SESSION_ID="+cfg.CLISessionID)
	}
	if cfg.TaskPath != "" {
		env = append(env, "AGENTZ_TASK_PATH="+cfg.TaskPath)
	}
	if cfg.Title != "" {
		env = append(env, "AGENTZ_TITLE="+cfg.Title)
	}
	if cfg.DebugRunID != "" {
		env = append(env, "AGENTZ_DEBUG_RUN_ID="+cfg.DebugRunID)
	}
	if cfg.Instructions != "" {
		env = append(env, "AGENTZ_INSTRUCTIONS="+cfg.Instructions)
	}
	if cfg.SourceFile != "" {
		env = append(env, "AGENTZ_SOURCE_FILE="+cfg.SourceFile, "AGENTZ_SOURCE_LINE="+strconv.Itoa(cfg.SourceLine))
	}
	for _, a := range cfg.Attachments {
		env = append(env, "AGENTZ_ATTACHMENT="+a)
	}
	return env
}

// Spawn starts a detached worker for cfg and tracks it by session id. The
// process is reparented to its own session (Setsid) so it survives a
// control-plane restart; a background goroutine reaps it on exit to avoid
// leaving a zombie.
func (m *Monitor) Spawn(ctx context.Context, cfg SpawnConfig) (int, error) {
	cmd, err := m.buildCmd(ctx, cfg)
	if err != nil {
		return 0, err
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting worker for session %s: %w", cfg.SessionID, err)
	}

	proc := cmd.Process
	w := &trackedWorker{
		pid:       proc.Pid,
		startedAt: time.Now(),
		process:   proc,
	}

	m.mu.Lock()
	m.workers[cfg.SessionID] = w
	m.mu.Unlock()

	go func() {
		_ = cmd.Wait() // reap; avoids a zombie once the worker exits
	}()

	logging.Info(ctx, "worker spawned", "session_id", cfg.SessionID.String(), "pid", proc.Pid, "agent_type", cfg.AgentType.String())
	return proc.Pid, nil
}

// GetDaemon returns the tracked pid/startedAt for sessionId, or
// (DaemonInfo{}, false) if untracked.
func (m *Monitor) GetDaemon(sessionID sessionid.ID) (DaemonInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[sessionID]
	if !ok {
		return DaemonInfo{}, false
	}
	return DaemonInfo{PID: w.pid, StartedAt: w.startedAt}, true
}

// Untrack removes sessionId from the table without signaling it. Used by
// callers (e.g. cancel) that have already sent SIGTERM themselves and are
// about to append the terminal event.
func (m *Monitor) Untrack(sessionID sessionid.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[sessionID]; ok {
		if w.killTimer != nil {
			w.killTimer.Stop()
		}
		delete(m.workers, sessionID)
	}
}

// IsProcessRunning reports whether pid is alive, via a zero-signal probe
// (§4.6).
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM // exists but not signalable by us: still alive
}

// KillDaemon sends SIGTERM to sessionId's worker and schedules a SIGKILL
// after killGrace if it hasn't exited by then. It does not itself append
// any registry event; callers are responsible for that (§4.6).
func (m *Monitor) KillDaemon(sessionID sessionid.ID) error {
	m.mu.Lock()
	w, ok := m.workers[sessionID]
	if !ok {
		m.mu.Unlock()
		return apierrors.NotFound(fmt.Sprintf("no tracked worker for session %s", sessionID))
	}

	if err := w.process.Signal(syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		m.mu.Unlock()
		return fmt.Errorf("sending SIGTERM to pid %d: %w", w.pid, err)
	}

	pid := w.pid
	w.killTimer = time.AfterFunc(killGrace, func() {
		if IsProcessRunning(pid) {
			_ = w.process.Signal(syscall.SIGKILL)
		}
		m.mu.Lock()
		if cur, ok := m.workers[sessionID]; ok && cur == w {
			delete(m.workers, sessionID)
		}
		m.mu.Unlock()
	})
	m.mu.Unlock()
	return nil
}
