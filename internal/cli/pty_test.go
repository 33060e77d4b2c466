//go:build pty

package cli

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

// agentctlBinaryPath holds the path to the agentctl binary built once in
// TestMain. All tests in this file share it to avoid repeated builds.
var agentctlBinaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "agentctl-pty-test-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir for binary: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	agentctlBinaryPath = filepath.Join(tmpDir, "agentctl")
	buildCmd := exec.Command("go", "build", "-o", agentctlBinaryPath, "../../cmd/agentctl")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build agentctl: %v\nOutput: %s\n", err, out)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// runInteractive starts agentctl under a pty against addr, letting respond
// drive the huh prompts by reading/writing the pty directly.
func runInteractive(t *testing.T, addr string, args []string, respond func(ptyFile *os.File) string) (string, error) {
	t.Helper()

	cmd := exec.Command(agentctlBinaryPath, append([]string{"--addr", addr}, args...)...)
	cmd.Env = append(os.Environ(), "TERM=xterm")

	ptmx, err := pty.Start(cmd)
	require.NoError(t, err)
	defer ptmx.Close()

	respondDone := make(chan struct{})
	var respondOutput string
	go func() {
		defer close(respondDone)
		respondOutput = respond(ptmx)
	}()

	select {
	case <-respondDone:
	case <-time.After(10 * time.Second):
		t.Log("warning: respond function timed out")
	}

	var remaining bytes.Buffer
	remainingDone := make(chan struct{})
	go func() {
		defer close(remainingDone)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				remaining.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	cmdDone := make(chan error, 1)
	go func() { cmdDone <- cmd.Wait() }()

	var cmdErr error
	select {
	case cmdErr = <-cmdDone:
	case <-time.After(10 * time.Second):
		_ = cmd.Process.Kill()
		cmdErr = fmt.Errorf("agentctl process timed out")
	}

	select {
	case <-remainingDone:
	case <-time.After(1 * time.Second):
	}

	return respondOutput + remaining.String(), cmdErr
}

func waitForPromptAndRespond(ptyFile *os.File, promptSubstring, response string, timeout time.Duration) (string, error) {
	var output bytes.Buffer
	buf := make([]byte, 1024)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		_ = ptyFile.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := ptyFile.Read(buf)
		if n > 0 {
			output.Write(buf[:n])
			if strings.Contains(output.String(), promptSubstring) {
				_, _ = ptyFile.WriteString(response)
				return output.String(), nil
			}
		}
		if err != nil && !os.IsTimeout(err) {
			return output.String(), err
		}
	}
	return output.String(), fmt.Errorf("timeout waiting for prompt containing %q", promptSubstring)
}

// TestSpawnPromptsInteractivelyOverPty drives `agentctl spawn` with neither a
// prompt argument nor --agent set, so it must fall back to the huh form, and
// confirms the rendered agent-type prompt appears on a real pty.
func TestSpawnPromptsInteractivelyOverPty(t *testing.T) {
	addr := newTestServer(t)

	output, _ := runInteractive(t, addr, []string{"spawn"}, func(ptyFile *os.File) string {
		out, err := waitForPromptAndRespond(ptyFile, "What should the agent do?", "fix the flaky test\r", 5*time.Second)
		if err != nil {
			t.Logf("prompt wait failed: %v", err)
			return out
		}
		more, err := waitForPromptAndRespond(ptyFile, "Agent type", "\r", 5*time.Second)
		return out + more
	})

	require.Contains(t, output, "What should the agent do?")
}
