package bmx_debugger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineIsDebugStop(t *testing.T) {
	assert.True(t, LineIsDebugStop("DebugStop"))
	assert.True(t, LineIsDebugStop("\t\tdebugstop ' pause here"))
	assert.True(t, LineIsDebugStop("  DEBUGSTOP;Print x"))
	assert.False(t, LineIsDebugStop("DebugStopper()"))
	assert.False(t, LineIsDebugStop("' DebugStop"))
	assert.False(t, LineIsDebugStop(""))
}

func TestCheckBreakpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.bmx")
	require.NoError(t, os.WriteFile(path, []byte("SuperStrict\nLocal x:Int = 5\nDebugStop\nPrint x\n"), 0o644))

	breakpoints := checkBreakpoints(dap.Source{Path: path}, []dap.SourceBreakpoint{{Line: 3}, {Line: 4}})
	require.Len(t, breakpoints, 2)
	assert.True(t, breakpoints[0].Verified)
	assert.Equal(t, 3, breakpoints[0].Line)
	assert.False(t, breakpoints[1].Verified)
	assert.NotEmpty(t, breakpoints[1].Message)

	breakpoints = checkBreakpoints(dap.Source{Path: "/missing.bmx"}, []dap.SourceBreakpoint{{Line: 1}})
	assert.False(t, breakpoints[0].Verified)
}
