// Package services assembles the process-wide collaborators (§9
// "Singletons") into a single explicit Services struct threaded through
// every HTTP handler, rather than hidden package-level globals.
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/commitworkflow"
	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/eventlog"
	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/ingester"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/noncekit"
	"github.com/agentzhq/controlplane/internal/paths"
	"github.com/agentzhq/controlplane/internal/procmon"
	"github.com/agentzhq/controlplane/internal/ratelimit"
	"github.com/agentzhq/controlplane/internal/session"
	"github.com/agentzhq/controlplane/internal/sessionid"
	"github.com/agentzhq/controlplane/internal/taskstore"
	"github.com/agentzhq/controlplane/internal/telemetry"
	"github.com/agentzhq/controlplane/internal/workertypes"
	"github.com/agentzhq/controlplane/internal/worktree"
)

// Version is the build version reported in telemetry events. Overridden at
// build time via -ldflags.
var Version = "dev"

// Services is constructed once at process start and never replaced; every
// field is safe for concurrent use.
type Services struct {
	Config    config.Config
	Bus       *eventlog.Bus
	Monitor   *procmon.Monitor
	Worktrees *worktree.Manager
	Tasks     *taskstore.Store
	Limiter   *ratelimit.Limiter
	Workflow  *commitworkflow.Workflow
	Ingester  *ingester.Ingester
	Telemetry telemetry.Client

	noncesMu sync.Mutex
	nonces   map[string]sessionNonce

	stopRetention chan struct{}
	retentionOnce sync.Once
}

type sessionNonce struct {
	nonce     noncekit.Nonce
	createdAt time.Time
}

// New wires every singleton from cfg. Callers must call Close when done.
func New(cfg config.Config) (*Services, error) {
	tasks, err := taskstore.New(cfg.RepoRoot)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	bus := eventlog.NewBus()
	worktrees := worktree.New(true)
	monitor := procmon.New(procmon.DefaultCommandBuilder(resolveBinaries()))
	limiter := ratelimit.New(cfg.RateLimit)

	s := &Services{
		Config:        cfg,
		Bus:           bus,
		Monitor:       monitor,
		Worktrees:     worktrees,
		Tasks:         tasks,
		Limiter:       limiter,
		nonces:        make(map[string]sessionNonce),
		stopRetention: make(chan struct{}),
	}
	s.Workflow = commitworkflow.New(tasks, worktrees, s)
	s.Ingester = ingester.New(cfg.RepoRoot, bus, s)

	binaryPath, err := os.Executable()
	if err != nil {
		binaryPath = os.Args[0]
	}
	s.Telemetry = telemetry.New(!cfg.TelemetryOptOut, binaryPath, Version)

	limiter.StartIdleSweep(context.Background())

	return s, nil
}

// Close tears down every singleton with a teardown-once lifecycle.
func (s *Services) Close() error {
	s.StopRetentionSweep()
	s.Limiter.Stop()
	s.Telemetry.Close()
	_ = s.Bus.Close()
	return s.Tasks.Close()
}

// resolveBinaries builds the agent-type -> executable map from
// AGENTZ_BIN_<TYPE> environment variables, falling back to the bare agent
// type name resolved against PATH.
func resolveBinaries() map[workertypes.AgentType]string {
	out := make(map[workertypes.AgentType]string, len(workertypes.ValidAgentTypes))
	for _, t := range workertypes.ValidAgentTypes {
		key := "AGENTZ_BIN_" + strings.ToUpper(t.String())
		if bin := os.Getenv(key); bin != "" {
			out[t] = bin
			continue
		}
		out[t] = t.String()
	}
	return out
}

// SpawnParams carries the caller-supplied fields for starting a new session
// (§4.2/§4.6); fields not set by the caller are left at their zero value.
type SpawnParams struct {
	AgentType             workertypes.AgentType
	Prompt                string
	WorkingDir            string
	Model                 string
	TaskPath              string
	Title                 string
	DebugRunID            string
	Instructions          string
	SourceFile            string
	SourceLine            int
	Attachments           []string
	CLISessionID          string
	ReconstructedMessages []byte
}

// SpawnSession allocates a session id and nonce, appends session_created,
// optionally provisions a worktree, and spawns the detached worker.
func (s *Services) SpawnSession(ctx context.Context, p SpawnParams) (sessionid.ID, error) {
	id, err := sessionid.Generate()
	if err != nil {
		return sessionid.Empty, err
	}
	nonce, err := noncekit.Generate()
	if err != nil {
		return sessionid.Empty, err
	}

	workingDir := p.WorkingDir
	if wtPath, err := s.Worktrees.EnsureWorktree(ctx, id.String(), s.Config.RepoRoot); err == nil {
		workingDir = wtPath
	}

	created := events.NewSessionCreated(id.String(), time.Now(), events.SessionCreatedPayload{
		Prompt:     p.Prompt,
		Title:      p.Title,
		WorkingDir: workingDir,
		AgentType:  p.AgentType.String(),
		Model:      p.Model,
		TaskPath:   p.TaskPath,
		SourceFile: p.SourceFile,
		SourceLine: p.SourceLine,
		DebugRunID: p.DebugRunID,
		Resumable:  true,
	})
	if err := s.appendRegistry(created); err != nil {
		return sessionid.Empty, err
	}

	s.registerNonce(id.String(), nonce)

	spawnCfg := procmon.SpawnConfig{
		SessionID:             id,
		AgentType:             p.AgentType,
		Prompt:                p.Prompt,
		WorkingDir:            workingDir,
		Model:                 p.Model,
		StreamServerURL:       "http://" + s.Config.HTTPAddr + "/ingest",
		DaemonNonce:           nonce,
		CLISessionID:          p.CLISessionID,
		ReconstructedMessages: p.ReconstructedMessages,
		TaskPath:              p.TaskPath,
		Title:                 p.Title,
		DebugRunID:            p.DebugRunID,
		Instructions:          p.Instructions,
		SourceFile:            p.SourceFile,
		SourceLine:            p.SourceLine,
		Attachments:           p.Attachments,
	}

	if _, err := s.Monitor.Spawn(ctx, spawnCfg); err != nil {
		return sessionid.Empty, err
	}
	if err := s.appendRegistry(events.NewSessionUpdated(id.String(), time.Now(), workertypes.StatusRunning.String())); err != nil {
		return sessionid.Empty, err
	}
	return id, nil
}

// CancelSession sends SIGTERM to the tracked worker (if one is alive) and
// unconditionally appends session_cancelled (§4.8): success reports whether
// a live daemon was actually found and signalled, not whether the registry
// append happened.
func (s *Services) CancelSession(ctx context.Context, id string) (success bool, err error) {
	sid, sidErr := sessionid.New(id)
	if sidErr != nil {
		return false, sidErr
	}

	killErr := s.Monitor.KillDaemon(sid)
	success = killErr == nil
	if killErr != nil && !isNotFound(killErr) {
		return false, killErr
	}
	s.Monitor.Untrack(sid)

	if err := s.appendRegistry(events.NewSessionCancelled(id, time.Now())); err != nil {
		return false, err
	}
	return success, nil
}

// DeleteSession sends SIGTERM if the session is still alive, then appends
// the session_deleted tombstone (§4.3 invariant I3). The per-session log is
// preserved; only a retention sweep (see StartRetentionSweep) ever removes
// it.
func (s *Services) DeleteSession(ctx context.Context, id string) error {
	if sid, err := sessionid.New(id); err == nil {
		if err := s.Monitor.KillDaemon(sid); err == nil {
			s.Monitor.Untrack(sid)
		}
	}
	return s.appendRegistry(events.NewSessionDeleted(id, time.Now()))
}

// SendMessage implements §4.8's sendMessage: allowed only when no live
// daemon is tracked for sessionID. It reconstructs the session's last
// cliSessionId and latest agentState, then spawns a resumed worker carrying
// the new message as the prompt.
func (s *Services) SendMessage(ctx context.Context, sessionID, message string, attachments []string) (sessionid.ID, error) {
	if sid, err := sessionid.New(sessionID); err == nil {
		if _, alive := s.Monitor.GetDaemon(sid); alive {
			return sessionid.Empty, apierrors.Busy("session is currently running")
		}
	}

	sess, ok, err := s.GetSession(sessionID)
	if err != nil {
		return sessionid.Empty, err
	}
	if !ok {
		return sessionid.Empty, apierrors.NotFound(fmt.Sprintf("session %s", sessionID))
	}

	return s.SpawnSession(ctx, SpawnParams{
		AgentType:    sess.AgentType,
		Prompt:       message,
		WorkingDir:   sess.WorkingDir,
		Model:        sess.Model,
		TaskPath:     sess.TaskPath,
		Title:        sess.Title,
		Attachments:  attachments,
		CLISessionID: sess.CliSessionID,
		ReconstructedMessages: sess.AgentState,
	})
}

// RecordApproval appends an approval_response to id's control stream, for
// the worker to pick up (§4.2). Requires a live daemon for id (§4.8).
func (s *Services) RecordApproval(id string, approved bool) error {
	sid, err := sessionid.New(id)
	if err != nil {
		return err
	}
	if _, alive := s.Monitor.GetDaemon(sid); !alive {
		return apierrors.NotFound(fmt.Sprintf("no live daemon for session %s", id))
	}

	ev := events.NewApprovalResponse(id, time.Now(), approved)
	raw, err := events.EncodeControlEvent(ev)
	if err != nil {
		return err
	}
	return eventlog.Append(paths.ControlStreamPath(s.Config.RepoRoot, id), raw)
}

func (s *Services) appendRegistry(ev events.RegistryEvent) error {
	raw, err := events.EncodeRegistryEvent(ev)
	if err != nil {
		return err
	}
	path := paths.RegistryStreamPath(s.Config.RepoRoot)
	if err := eventlog.Append(path, raw); err != nil {
		return err
	}
	_ = s.Bus.Publish(path, raw)
	return nil
}

func isNotFound(err error) bool {
	var apiErr *apierrors.Error
	return errors.As(err, &apiErr) && apiErr.Kind == apierrors.KindNotFound
}

// readRegistry loads and decodes every well-formed frame of the registry
// stream, skipping frames of a kind this binary doesn't recognise (§4.2).
func (s *Services) readRegistry() ([]events.RegistryEvent, error) {
	result, err := eventlog.Read(paths.RegistryStreamPath(s.Config.RepoRoot))
	if err != nil {
		return nil, err
	}
	out := make([]events.RegistryEvent, 0, len(result.Frames))
	for _, frame := range result.Frames {
		ev, err := events.DecodeRegistryEvent(frame)
		if err != nil {
			if isUnknownType(err) {
				continue
			}
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Services) readSessionStream(id string) ([]events.SessionEvent, error) {
	result, err := eventlog.Read(paths.SessionStreamPath(s.Config.RepoRoot, id))
	if err != nil {
		return nil, err
	}
	out := make([]events.SessionEvent, 0, len(result.Frames))
	for _, frame := range result.Frames {
		ev, err := events.DecodeSessionEvent(frame)
		if err != nil {
			if isUnknownType(err) {
				continue
			}
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func isUnknownType(err error) bool {
	return errors.Is(err, events.ErrUnknownType)
}

// ListSessions reconstructs every non-deleted session from the registry,
// filling in WorktreePath/WorktreeBranch from the worktree manager since
// reconstruction itself never observes them.
func (s *Services) ListSessions() ([]session.Session, error) {
	registry, err := s.readRegistry()
	if err != nil {
		return nil, err
	}
	sessions := session.ReconstructAll(registry, func(id string) []events.SessionEvent {
		evs, err := s.readSessionStream(id)
		if err != nil {
			logging.Warn(context.Background(), "services: reading session stream failed", "session_id", id, "error", err.Error())
			return nil
		}
		return evs
	})
	for i := range sessions {
		s.attachWorktree(&sessions[i])
	}
	return sessions, nil
}

// GetSession reconstructs a single session by id.
func (s *Services) GetSession(id string) (session.Session, bool, error) {
	registry, err := s.readRegistry()
	if err != nil {
		return session.Session{}, false, err
	}
	sessionEvents, err := s.readSessionStream(id)
	if err != nil {
		return session.Session{}, false, err
	}
	sess, ok := session.Reconstruct(id, registry, sessionEvents)
	if ok {
		s.attachWorktree(&sess)
	}
	return sess, ok, nil
}

// attachWorktree fills in sess.WorktreePath/WorktreeBranch from the live
// worktree manager state, best-effort: a lookup failure leaves the session
// pointed at the shared repo root rather than failing the read.
func (s *Services) attachWorktree(sess *session.Session) {
	wt, ok, err := s.Worktrees.Lookup(context.Background(), s.Config.RepoRoot, sess.ID)
	if err != nil || !ok {
		return
	}
	sess.WorktreePath = wt.Path
	sess.WorktreeBranch = wt.Branch
}

// SessionsForTask implements commitworkflow.SessionLister.
func (s *Services) SessionsForTask(taskPath string) ([]session.Session, error) {
	all, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []session.Session
	for _, sess := range all {
		if sess.TaskPath == taskPath {
			out = append(out, sess)
		}
	}
	return out, nil
}

// NonceFor implements ingester.NonceRegistry.
func (s *Services) NonceFor(sessionID string) (noncekit.Nonce, bool) {
	s.noncesMu.Lock()
	defer s.noncesMu.Unlock()
	n, ok := s.nonces[sessionID]
	if !ok {
		return "", false
	}
	return n.nonce, true
}

func (s *Services) registerNonce(sessionID string, nonce noncekit.Nonce) {
	s.noncesMu.Lock()
	defer s.noncesMu.Unlock()
	s.nonces[sessionID] = sessionNonce{nonce: nonce, createdAt: time.Now()}
}

// retentionInterval is how often StartRetentionSweep checks session count
// against MAX_SESSIONS_COUNT (§9's open question: implementers may add a
// sweep guarded by MAX_SESSIONS_COUNT; this control plane does).
const retentionInterval = 10 * time.Minute

// StartRetentionSweep begins a background loop that, once MAX_SESSIONS_COUNT
// terminal+deleted sessions accumulate, removes the oldest terminal
// sessions' per-session stream files beyond that count. The registry
// tombstone (soft delete) is never altered by the sweep; only the
// already-soft-deleted or long-terminal per-session logs are reclaimed.
func (s *Services) StartRetentionSweep(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopRetention:
				return
			case <-ticker.C:
				if err := s.sweepRetention(); err != nil {
					logging.Warn(ctx, "services: retention sweep failed", "error", err.Error())
				}
			}
		}
	}()
}

// StopRetentionSweep stops the retention loop. Safe to call once.
func (s *Services) StopRetentionSweep() {
	s.retentionOnce.Do(func() { close(s.stopRetention) })
}

func (s *Services) sweepRetention() error {
	sessions, err := s.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) <= s.Config.MaxSessionCount {
		return nil
	}

	terminal := make([]session.Session, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Status.Terminal() {
			terminal = append(terminal, sess)
		}
	}
	excess := len(sessions) - s.Config.MaxSessionCount
	for i := 0; i < excess && i < len(terminal); i++ {
		path := paths.SessionStreamPath(s.Config.RepoRoot, terminal[i].ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn(context.Background(), "services: removing retired session stream failed", "session_id", terminal[i].ID, "error", err.Error())
		}
	}
	return nil
}
