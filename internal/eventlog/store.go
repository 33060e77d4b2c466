// Package eventlog implements the append-only durable log underlying every
// stream in the control plane (registry, per-session, control) and the
// in-process pub/sub bus used to fan out newly appended frames to live
// tailers (§4.1).
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentzhq/controlplane/internal/paths"
)

// pathLocks serializes appends per stream path so two writers never
// interleave partial frames, without serializing writers to different files.
var (
	pathLocksMu sync.Mutex
	pathLocks   = make(map[string]*sync.Mutex)
)

func lockFor(path string) *sync.Mutex {
	pathLocksMu.Lock()
	defer pathLocksMu.Unlock()
	l, ok := pathLocks[path]
	if !ok {
		l = &sync.Mutex{}
		pathLocks[path] = l
	}
	return l
}

// Append writes frame as a single newline-delimited JSON line to the stream
// file at path, creating the file and its parent directory if needed, and
// fsyncing before returning so a crash immediately after Append cannot lose
// the frame (§4.1: "a frame is durable once Append returns").
//
// frame must already be valid JSON (the caller encodes via the events
// package); Append does not re-marshal it.
func Append(path string, frame []byte) error {
	if bytes.ContainsRune(frame, '\n') {
		return fmt.Errorf("eventlog: frame must not contain a newline")
	}

	lock := lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening stream %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("appending to stream %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing stream %s: %w", path, err)
	}
	return nil
}

// ReadResult is the outcome of reading a stream: the well-formed frames in
// order, plus whether a torn (incomplete) final frame was encountered.
type ReadResult struct {
	Frames    [][]byte
	TornTail  bool
	TailBytes []byte // the raw bytes of the torn tail, if TornTail is true
}

// Read returns every complete frame in the stream file at path, in append
// order. Per §4.1's failure model, a crash mid-write can leave a torn final
// line (a partial JSON object with no trailing newline, or a line that fails
// to parse as JSON); Read tolerates this by returning every well-formed
// frame before the tear and flagging TornTail rather than failing outright.
//
// A missing file is not an error: it is treated as an empty stream.
func Read(path string) (ReadResult, error) {
	lock := lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ReadResult{}, nil
		}
		return ReadResult{}, fmt.Errorf("opening stream %s: %w", path, err)
	}
	defer f.Close()

	var result ReadResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var lastLine []byte
	sawLine := false
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		sawLine = true
		lastLine = line
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if !json.Valid(line) {
			result.TornTail = true
			result.TailBytes = line
			return result, nil
		}
		result.Frames = append(result.Frames, line)
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("reading stream %s: %w", path, err)
	}

	// bufio.Scanner's default split function (ScanLines) silently drops a
	// final line that has no trailing newline; detect that case separately
	// so a crash-truncated last frame is still surfaced as a torn tail
	// rather than silently disappearing.
	if sawLine {
		if tail := trailingUnterminatedLine(f, lastLine); tail != nil {
			result.TornTail = true
			result.TailBytes = tail
			// lastLine parsed as valid JSON and was appended to Frames above,
			// but it never received its trailing newline, so per §4.1 it is
			// part of the torn tail, not a complete frame — drop it.
			if n := len(result.Frames); n > 0 && bytes.Equal(result.Frames[n-1], tail) {
				result.Frames = result.Frames[:n-1]
			}
		}
	}

	return result, nil
}

// trailingUnterminatedLine re-checks whether the file's last byte is a
// newline. If not, the scanner's last returned token was an unterminated
// (torn) write, not a complete frame, even though it parsed as valid JSON —
// a crash between writing the JSON body and its trailing newline is
// indistinguishable from a complete write by content alone, so callers that
// need the stronger guarantee rely on this check.
func trailingUnterminatedLine(f *os.File, lastLine []byte) []byte {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return nil
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return nil
	}
	if buf[0] == '\n' {
		return nil
	}
	return lastLine
}
