package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/paths"
)

type cacheEntry struct {
	task Task
}

// Store is the Task Store (§4.11): every task document lives under
// <repoRoot>/tasks, named by a repo-relative file name. Reads are served
// from an in-memory parse cache that is invalidated the moment fsnotify
// reports a change to the watched directory, so out-of-band edits (a human
// editing the file directly) are never served stale.
type Store struct {
	repoRoot string

	mu    sync.Mutex
	cache map[string]cacheEntry

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New opens a Store rooted at <repoRoot>/tasks, creating the directory if
// absent, and starts watching it for out-of-band edits.
func New(repoRoot string) (*Store, error) {
	tasksDir := filepath.Join(repoRoot, paths.TasksDir)
	if err := paths.EnsureDir(tasksDir); err != nil {
		return nil, fmt.Errorf("creating tasks directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting task file watcher: %w", err)
	}
	if err := watcher.Add(tasksDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching tasks directory: %w", err)
	}

	s := &Store{
		repoRoot: repoRoot,
		cache:    make(map[string]cacheEntry),
		watcher:  watcher,
		done:     make(chan struct{}),
	}
	go s.watchLoop()
	return s, nil
}

// Close stops the watcher. Safe to call once.
func (s *Store) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *Store) watchLoop() {
	tasksDir := filepath.Join(s.repoRoot, paths.TasksDir)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if rel, err := filepath.Rel(tasksDir, ev.Name); err == nil {
				s.invalidate(filepath.ToSlash(rel))
			}
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Store) invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

func (s *Store) absPath(name string) string {
	return filepath.Join(s.repoRoot, paths.TasksDir, name)
}

func (s *Store) repoRelPath(name string) string {
	return filepath.ToSlash(filepath.Join(paths.TasksDir, name))
}

// readFresh always reads and parses from disk, bypassing the cache; every
// version-checked mutation uses this so a stale cache entry can never mask
// a concurrent edit.
func (s *Store) readFresh(name string) (Task, error) {
	data, err := os.ReadFile(s.absPath(name))
	if err != nil {
		return Task{}, apierrors.NotFound(fmt.Sprintf("task %q", name))
	}
	return parseTask(s.repoRelPath(name), string(data))
}

func (s *Store) write(name string, t Task) error {
	content, err := serialize(t)
	if err != nil {
		return err
	}
	full := s.absPath(name)
	if err := paths.EnsureDir(filepath.Dir(full)); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(content), 0o644)
}

func (s *Store) setCache(name string, t Task) {
	s.mu.Lock()
	s.cache[name] = cacheEntry{task: t}
	s.mu.Unlock()
}

// Get returns the parsed task named name (e.g. "x.md"), using the cache
// when warm.
func (s *Store) Get(name string) (Task, error) {
	s.mu.Lock()
	if e, ok := s.cache[name]; ok {
		s.mu.Unlock()
		return e.task, nil
	}
	s.mu.Unlock()

	t, err := s.readFresh(name)
	if err != nil {
		return Task{}, err
	}
	s.setCache(name, t)
	return t, nil
}

// List enumerates every non-archived task, sorted by repo-relative path.
func (s *Store) List() ([]Task, error) {
	entries, err := os.ReadDir(s.absPath("."))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	var tasks []Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		t, err := s.Get(e.Name())
		if err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Path < tasks[j].Path })
	return tasks, nil
}

// Create writes a brand new task document, version 1. It refuses if name
// already exists.
func (s *Store) Create(name, title, body string) (Task, error) {
	if _, err := os.Stat(s.absPath(name)); err == nil {
		return Task{}, apierrors.Conflict(fmt.Sprintf("task %q already exists", name))
	}
	t := Task{Path: s.repoRelPath(name), Title: title, Body: body, Version: 1}
	if err := s.write(name, t); err != nil {
		return Task{}, err
	}
	s.setCache(name, t)
	return t, nil
}

// mutate reads name fresh, checks expectedVersion, applies fn, bumps the
// version, and persists — the versioned-optimistic-update pattern every
// other mutation in this file is built on (§4.11).
func (s *Store) mutate(name string, expectedVersion int, fn func(*Task) error) (Task, error) {
	cur, err := s.readFresh(name)
	if err != nil {
		return Task{}, err
	}
	if cur.Version != expectedVersion {
		return Task{}, apierrors.VersionConflict(cur.Version)
	}
	if err := fn(&cur); err != nil {
		return Task{}, err
	}
	cur.Version++
	if err := s.write(name, cur); err != nil {
		return Task{}, err
	}
	s.setCache(name, cur)
	return cur, nil
}

// UpdateBody replaces a task's body.
func (s *Store) UpdateBody(name, body string, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		t.Body = body
		return nil
	})
}

// AddSubtask appends a new, undone subtask to the Subtasks block.
func (s *Store) AddSubtask(name, title string, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		t.Subtasks = append(t.Subtasks, Subtask{Title: title})
		return nil
	})
}

// UpdateSubtask replaces the subtask at index.
func (s *Store) UpdateSubtask(name string, index int, title string, done bool, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		if index < 0 || index >= len(t.Subtasks) {
			return apierrors.NotFound(fmt.Sprintf("subtask index %d", index))
		}
		t.Subtasks[index] = Subtask{Title: title, Done: done}
		return nil
	})
}

// DeleteSubtask removes the subtask at index.
func (s *Store) DeleteSubtask(name string, index int, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		if index < 0 || index >= len(t.Subtasks) {
			return apierrors.NotFound(fmt.Sprintf("subtask index %d", index))
		}
		t.Subtasks = append(t.Subtasks[:index], t.Subtasks[index+1:]...)
		return nil
	})
}

// RecordMerge appends a merge record and sets qaStatus=pending (§4.10).
func (s *Store) RecordMerge(name string, rec MergeRecord, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		t.Merges = append(t.Merges, rec)
		t.QAStatus = QAPending
		return nil
	})
}

// RecordRevert marks the merge record belonging to sessionId as reverted and
// sets qaStatus=fail (§4.10).
func (s *Store) RecordRevert(name, sessionID, revertHash string, expectedVersion int) (Task, error) {
	return s.mutate(name, expectedVersion, func(t *Task) error {
		for i := range t.Merges {
			if t.Merges[i].SessionID == sessionID && t.Merges[i].RevertedBy == nil {
				hash := revertHash
				t.Merges[i].RevertedBy = &hash
				t.QAStatus = QAFail
				return nil
			}
		}
		return apierrors.NotFound(fmt.Sprintf("no open merge record for session %s", sessionID))
	})
}

// Archive moves name from tasks/ to tasks/archive/YYYY-MM/ and marks it
// archived (§4.10 step 3, §4.11).
func (s *Store) Archive(name string, expectedVersion int) (string, error) {
	cur, err := s.readFresh(name)
	if err != nil {
		return "", err
	}
	if cur.Version != expectedVersion {
		return "", apierrors.VersionConflict(cur.Version)
	}

	now := time.Now().UTC()
	archiveRel := filepath.Join("archive", now.Format("2006-01"), name)
	dstFull := s.absPath(archiveRel)
	if err := paths.EnsureDir(filepath.Dir(dstFull)); err != nil {
		return "", err
	}

	cur.Archived = true
	archivedAt := now
	cur.ArchivedAt = &archivedAt
	cur.Version++
	cur.Path = s.repoRelPath(archiveRel)

	content, err := serialize(cur)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dstFull, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing archived task: %w", err)
	}
	if err := os.Remove(s.absPath(name)); err != nil {
		return "", fmt.Errorf("removing original task after archive: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, name)
	s.cache[archiveRel] = cacheEntry{task: cur}
	s.mu.Unlock()

	return cur.Path, nil
}

// Restore moves an archived task back to tasks/, keyed by its current
// archive-relative name (e.g. "archive/2026-03/x.md").
func (s *Store) Restore(archiveRelName string, expectedVersion int) (string, error) {
	cur, err := s.readFresh(archiveRelName)
	if err != nil {
		return "", err
	}
	if cur.Version != expectedVersion {
		return "", apierrors.VersionConflict(cur.Version)
	}

	base := filepath.Base(archiveRelName)
	dstFull := s.absPath(base)
	if _, err := os.Stat(dstFull); err == nil {
		return "", apierrors.Conflict(fmt.Sprintf("a task named %q already exists outside the archive", base))
	}

	cur.Archived = false
	cur.ArchivedAt = nil
	cur.Version++
	cur.Path = s.repoRelPath(base)

	content, err := serialize(cur)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(dstFull, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing restored task: %w", err)
	}
	if err := os.Remove(s.absPath(archiveRelName)); err != nil {
		return "", fmt.Errorf("removing archived task after restore: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, archiveRelName)
	s.cache[base] = cacheEntry{task: cur}
	s.mu.Unlock()

	return cur.Path, nil
}

var h2HeadingRe = headingLevelRe(2)

// SplitSections creates one sibling task per top-level (`##`) section of
// name's body, each with splitFrom set back to name (§4.11).
func (s *Store) SplitSections(name string, expectedVersion int) ([]Task, error) {
	cur, err := s.readFresh(name)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, apierrors.VersionConflict(cur.Version)
	}

	sections := splitSections(cur.Body, h2HeadingRe)
	if len(sections) == 0 {
		return nil, apierrors.Conflict("task has no ## sections to split")
	}

	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	children := make([]Task, 0, len(sections))
	for i, sec := range sections {
		childName := fmt.Sprintf("%s-%d.md", stem, i+1)
		child := Task{
			Path:      s.repoRelPath(childName),
			Title:     sec.heading,
			Body:      sec.body,
			Version:   1,
			SplitFrom: cur.Path,
		}
		if err := s.write(childName, child); err != nil {
			return nil, fmt.Errorf("writing split child %s: %w", childName, err)
		}
		s.setCache(childName, child)
		children = append(children, child)
	}
	return children, nil
}

// MigrateSplitFrom folds every sibling task whose splitFrom points at name
// back into name's Subtasks block, then deletes the siblings (§4.11).
func (s *Store) MigrateSplitFrom(name string, expectedVersion int) (Task, error) {
	cur, err := s.readFresh(name)
	if err != nil {
		return Task{}, err
	}
	if cur.Version != expectedVersion {
		return Task{}, apierrors.VersionConflict(cur.Version)
	}

	entries, err := os.ReadDir(s.absPath("."))
	if err != nil {
		return Task{}, fmt.Errorf("listing tasks: %w", err)
	}

	var folded []Subtask
	var children []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == name {
			continue
		}
		child, err := s.readFresh(e.Name())
		if err != nil || child.SplitFrom != cur.Path {
			continue
		}
		folded = append(folded, Subtask{Title: child.Title, Done: child.QAStatus == QAPass})
		children = append(children, e.Name())
	}
	if len(folded) == 0 {
		return Task{}, apierrors.Conflict("no split children found for this task")
	}

	cur.Subtasks = append(cur.Subtasks, folded...)
	cur.Version++
	if err := s.write(name, cur); err != nil {
		return Task{}, err
	}
	for _, c := range children {
		_ = os.Remove(s.absPath(c))
		s.mu.Lock()
		delete(s.cache, c)
		s.mu.Unlock()
	}
	s.setCache(name, cur)
	return cur, nil
}
