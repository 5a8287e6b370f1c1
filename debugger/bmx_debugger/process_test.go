package bmx_debugger

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outputRecorder 记录程序的输出
type outputRecorder struct {
	lock   sync.Mutex
	stdout strings.Builder
	stderr strings.Builder
	code   int
	exited chan struct{}
}

func newOutputRecorder() *outputRecorder {
	return &outputRecorder{exited: make(chan struct{})}
}

func (r *outputRecorder) option(script string, usePty bool) *ProcessOption {
	return &ProcessOption{
		ExecFile: "/bin/sh",
		Args:     []string{"-c", script},
		UsePty:   usePty,
		OnStdout: func(output string) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.stdout.WriteString(output)
		},
		OnStderr: func(output string) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.stderr.WriteString(output)
		},
		OnExit: func(code int, err error) {
			r.code = code
			close(r.exited)
		},
	}
}

func requireShell(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not found")
	}
}

func TestStartProcess(t *testing.T) {
	requireShell(t)
	recorder := newOutputRecorder()
	process, err := StartProcess(context.Background(), recorder.option(
		`echo hello; echo "~>DebugStop:" >&2; echo "~>" >&2; read cmd; echo "got $cmd" >&2; exit 3`, false))
	require.NoError(t, err)

	require.NoError(t, process.WriteCommand("t"))
	select {
	case <-process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	// OnExit在Done之前调用
	select {
	case <-recorder.exited:
	default:
		t.Fatal("OnExit not called")
	}
	assert.Equal(t, 3, recorder.code)
	assert.Equal(t, "hello\n", recorder.stdout.String())
	assert.Equal(t, "~>DebugStop:\n~>\ngot t\n", recorder.stderr.String())

	assert.Error(t, process.WriteCommand("r"))
}

func TestStartProcessWithPty(t *testing.T) {
	requireShell(t)
	recorder := newOutputRecorder()
	process, err := StartProcess(context.Background(), recorder.option(`echo hello; sleep 0.2`, true))
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	select {
	case <-process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Equal(t, 0, recorder.code)
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	assert.Contains(t, recorder.stdout.String(), "hello")
}

func TestStartProcessKill(t *testing.T) {
	requireShell(t)
	recorder := newOutputRecorder()
	process, err := StartProcess(context.Background(), recorder.option(`exec sleep 10`, false))
	require.NoError(t, err)

	require.NoError(t, process.Signal(syscall.SIGKILL))
	select {
	case <-process.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Equal(t, -1, recorder.code)
}

func TestStartProcessNotFound(t *testing.T) {
	_, err := StartProcess(context.Background(), &ProcessOption{ExecFile: "/nonexistent/main.debug"})
	assert.Error(t, err)
}
