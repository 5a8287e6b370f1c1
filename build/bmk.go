package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/fansqz/bmx-debugger/constants"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/sirupsen/logrus"
)

const (
	// DebugSuffix 调试版本的可执行文件后缀
	DebugSuffix = ".debug"
	// DefaultTimeout 默认构建超时时间
	DefaultTimeout = 5 * time.Minute
)

// BuildOption 使用bmk构建可执行文件的参数
type BuildOption struct {
	// BmkPath bmk可执行文件路径
	BmkPath string
	// Source 入口源文件
	Source string
	// Output 输出文件，为空时输出到源文件所在目录
	Output string
	// WorkDir 相对路径的基础目录
	WorkDir  string
	AppType  constants.AppType
	Debug    bool
	Threaded bool
	Quick    bool
	Timeout  time.Duration
}

// OutputPath 构建输出的文件路径
// 指定了output时相对于workDir，否则是 <源文件目录>/<源文件名>，调试版本再加上.debug
func OutputPath(option *BuildOption) string {
	var outPath string
	if option.Output != "" {
		outPath = option.Output
		if option.WorkDir != "" && !filepath.IsAbs(outPath) {
			outPath = filepath.Join(option.WorkDir, outPath)
		}
	} else {
		dir := filepath.Dir(option.Source)
		name := strings.TrimSuffix(filepath.Base(option.Source), filepath.Ext(option.Source))
		outPath = filepath.Join(dir, name)
	}
	if option.Debug {
		outPath += DebugSuffix
	}
	return outPath
}

// ExecutablePath 构建结果中真正需要启动的文件，macOS上gui程序是一个.app目录
func ExecutablePath(outPath string, appType constants.AppType) string {
	return executablePath(outPath, appType, runtime.GOOS)
}

func executablePath(outPath string, appType constants.AppType, goos string) string {
	if goos != "darwin" || appType != constants.AppTypeGUI {
		return outPath
	}
	return outPath + ".app/Contents/MacOS/" + filepath.Base(outPath)
}

// Arguments bmk的命令行参数
// bmk makeapp [-d|-r] [-quick] [-t apptype] [-h] -o <out> <source>
func Arguments(option *BuildOption) []string {
	args := []string{constants.MakeApplication}
	if option.Debug {
		args = append(args, "-d")
	} else {
		args = append(args, "-r")
	}
	if option.Quick {
		args = append(args, "-quick")
	}
	if option.AppType != "" {
		args = append(args, "-t", string(option.AppType))
	}
	if option.Threaded {
		args = append(args, "-h")
	}
	args = append(args, "-o", OutputPath(option), option.Source)
	return args
}

// Build 同步构建，返回需要启动的可执行文件路径
func Build(ctx context.Context, option *BuildOption) (string, error) {
	if option == nil || option.Source == "" {
		return "", e.ErrInvalidArguments
	}
	timeout := option.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := Arguments(option)
	logrus.Infof("[Build] %s %s", option.BmkPath, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, option.BmkPath, args...)
	cmd.Dir = option.WorkDir
	cmd.WaitDelay = time.Second
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		message := strings.TrimSpace(stripansi.Strip(stderr.String()))
		if message == "" {
			message = strings.TrimSpace(stripansi.Strip(stdout.String()))
		}
		// 超时导致的错误
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: build timeout\n%s", e.ErrBuildFailed, message)
		}
		if message == "" {
			message = err.Error()
		}
		return "", fmt.Errorf("%w: %s", e.ErrBuildFailed, message)
	}
	return ExecutablePath(OutputPath(option), option.AppType), nil
}
