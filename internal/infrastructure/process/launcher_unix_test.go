//go:build !windows

package process

import (
	"bufio"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/require"
)

func newTestLauncher(t *testing.T) ports.ProcessLauncher {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewLauncher(Config{StopGrace: 500 * time.Millisecond, Logger: logger.NewNop()})
}

func TestLaunchEchoesInputAndExits(t *testing.T) {
	l := newTestLauncher(t)

	p, err := l.Launch(ports.ProcessSpec{Binary: "sh", Args: []string{"-c", `read line; echo "got $line"; echo oops >&2; exit 3`}})
	require.NoError(t, err)
	require.Positive(t, p.Pid())

	_, err = io.WriteString(p.Stdin(), "pause\n")
	require.NoError(t, err)

	errOut := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(p.Stderr())
		errOut <- string(b)
	}()
	out, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	require.Equal(t, "got pause\n", string(out))
	require.Equal(t, "oops\n", <-errOut)

	code, err := p.Wait()
	require.NoError(t, err)
	require.Equal(t, 3, code)
}

func TestKillStopsProcessTree(t *testing.T) {
	l := newTestLauncher(t)

	// the shell forks sleep so the signal has to reach the whole group
	p, err := l.Launch(ports.ProcessSpec{Binary: "sh", Args: []string{"-c", "echo ready; sleep 30; echo late"}})
	require.NoError(t, err)

	sc := bufio.NewScanner(p.Stdout())
	require.True(t, sc.Scan())
	require.Equal(t, "ready", sc.Text())

	require.NoError(t, p.Kill())
	require.NoError(t, p.Kill())

	done := make(chan int, 1)
	go func() {
		for sc.Scan() {
		}
		_, _ = io.Copy(io.Discard, p.Stderr())
		code, _ := p.Wait()
		done <- code
	}()

	select {
	case code := <-done:
		require.NotEqual(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after Kill")
	}
}

func TestLaunchMissingBinary(t *testing.T) {
	l := NewLauncher(Config{Logger: logger.NewNop()})
	_, err := l.Launch(ports.ProcessSpec{Binary: "/nonexistent/recorder-binary"})
	require.Error(t, err)
}
