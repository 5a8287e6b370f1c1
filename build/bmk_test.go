package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/fansqz/bmx-debugger/constants"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputPath(t *testing.T) {
	option := &BuildOption{Source: "/work/game/main.bmx", Debug: true}
	assert.Equal(t, "/work/game/main.debug", OutputPath(option))

	option.Debug = false
	assert.Equal(t, "/work/game/main", OutputPath(option))

	option = &BuildOption{Source: "/work/game/main.bmx", Output: "bin/game", WorkDir: "/work", Debug: true}
	assert.Equal(t, "/work/bin/game.debug", OutputPath(option))

	option.Output = "/opt/game"
	assert.Equal(t, "/opt/game.debug", OutputPath(option))
}

func TestExecutablePath(t *testing.T) {
	assert.Equal(t, "/a/game.debug.app/Contents/MacOS/game.debug",
		executablePath("/a/game.debug", constants.AppTypeGUI, "darwin"))
	assert.Equal(t, "/a/game.debug", executablePath("/a/game.debug", constants.AppTypeConsole, "darwin"))
	assert.Equal(t, "/a/game.debug", executablePath("/a/game.debug", constants.AppTypeGUI, "linux"))
}

func TestArguments(t *testing.T) {
	option := &BuildOption{
		Source:   "/src/main.bmx",
		AppType:  constants.AppTypeConsole,
		Debug:    true,
		Threaded: true,
		Quick:    true,
	}
	assert.Equal(t, []string{
		"makeapp", "-d", "-quick", "-t", "console", "-h", "-o", "/src/main.debug", "/src/main.bmx",
	}, Arguments(option))

	option = &BuildOption{Source: "/src/main.bmx"}
	assert.Equal(t, []string{"makeapp", "-r", "-o", "/src/main", "/src/main.bmx"}, Arguments(option))
}

// writeFakeBmk 写一个假的bmk脚本
func writeFakeBmk(t *testing.T, script string) string {
	if runtime.GOOS == "windows" {
		t.Skip("shell script bmk")
	}
	path := filepath.Join(t.TempDir(), "bmk")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bmk := writeFakeBmk(t, "echo \"$@\" > "+argsFile+"\n")

	option := &BuildOption{
		BmkPath: bmk,
		Source:  filepath.Join(dir, "main.bmx"),
		Debug:   true,
	}
	exec, err := Build(context.Background(), option)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "main.debug"), exec)

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "makeapp -d -o"))
}

func TestBuildFail(t *testing.T) {
	bmk := writeFakeBmk(t, "echo 'Compile Error: Identifier not found' >&2\nexit 1\n")
	_, err := Build(context.Background(), &BuildOption{BmkPath: bmk, Source: "/src/main.bmx", Debug: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrBuildFailed)
	assert.Contains(t, err.Error(), "Identifier not found")
}

func TestBuildTimeout(t *testing.T) {
	bmk := writeFakeBmk(t, "exec sleep 5\n")
	_, err := Build(context.Background(), &BuildOption{
		BmkPath: bmk,
		Source:  "/src/main.bmx",
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, e.ErrBuildFailed)
	assert.Contains(t, err.Error(), "timeout")
}

func TestBuildInvalidOption(t *testing.T) {
	_, err := Build(context.Background(), &BuildOption{})
	assert.ErrorIs(t, err, e.ErrInvalidArguments)
}
