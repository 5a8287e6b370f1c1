package bmx_debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/acarl005/stripansi"
	"github.com/creack/pty"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/fansqz/bmx-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const readBufferSize = 4096

// Debuggee 被调试程序
// 调试器通过标准输入发送命令，通过标准错误输出调试协议
type Debuggee interface {
	// WriteCommand 写入一条命令，会自动添加换行，多个命令的写入不会交错
	WriteCommand(command string) error
	// Signal 向程序发送信号
	Signal(sig os.Signal) error
	// Done 程序退出并且输出处理完以后关闭
	Done() <-chan struct{}
}

// ProcessOption 启动被调试程序的参数
type ProcessOption struct {
	ExecFile string
	Args     []string
	WorkDir  string
	// UsePty 标准输出使用伪终端
	UsePty    bool
	StripAnsi bool
	// OnStdout 程序标准输出
	OnStdout func(output string)
	// OnStderr 程序标准错误，调试协议就在这里
	OnStderr func(output string)
	// OnExit 程序退出，所有输出处理完以后调用
	OnExit func(code int, err error)
}

// Launcher 启动被调试程序
type Launcher func(ctx context.Context, option *ProcessOption) (Debuggee, error)

// bmxProcess 通过os/exec启动的被调试程序
type bmxProcess struct {
	cmd *exec.Cmd

	writeLock sync.Mutex
	stdin     io.WriteCloser

	// ptm 伪终端的master端，不使用伪终端时为nil
	ptm  *os.File
	done chan struct{}
}

// StartProcess 启动被调试程序
func StartProcess(ctx context.Context, option *ProcessOption) (Debuggee, error) {
	logrus.Infof("[StartProcess] %s %v", option.ExecFile, option.Args)
	cmd := exec.Command(option.ExecFile, option.Args...)
	cmd.Dir = option.WorkDir
	p := &bmxProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrLaunchFailed, err)
	}

	var stdout io.Reader
	var pts *os.File
	if option.UsePty {
		// 启动一个虚拟终端，程序的输出不会被缓冲
		p.ptm, pts, err = pty.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: pty open fail, %v", e.ErrLaunchFailed, err)
		}
		if _, err = term.MakeRaw(int(p.ptm.Fd())); err != nil {
			logrus.Errorf("[StartProcess] make raw fail, err = %v", err)
		}
		cmd.Stdout = pts
	} else if stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrLaunchFailed, err)
	}

	if err = cmd.Start(); err != nil {
		p.closePty(pts)
		return nil, fmt.Errorf("%w: %v", e.ErrLaunchFailed, err)
	}
	if pts != nil {
		// 子进程已经持有pts
		_ = pts.Close()
	}

	var readers sync.WaitGroup
	readers.Add(1)
	gosync.Go(ctx, func(ctx context.Context) {
		defer readers.Done()
		readOutput(stderr, false, option.OnStderr)
	})
	if stdout != nil {
		readers.Add(1)
		gosync.Go(ctx, func(ctx context.Context) {
			defer readers.Done()
			readOutput(stdout, option.StripAnsi, option.OnStdout)
		})
	} else {
		gosync.Go(ctx, func(ctx context.Context) {
			readOutput(p.ptm, option.StripAnsi, option.OnStdout)
		})
	}

	gosync.Go(ctx, func(ctx context.Context) {
		// 管道读取完以后才能Wait
		readers.Wait()
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 非0退出码不是启动错误
			err = nil
		}
		p.closePty(nil)
		logrus.Infof("[bmxProcess] exited, code = %d, err = %v", code, err)
		if option.OnExit != nil {
			option.OnExit(code, err)
		}
		close(p.done)
	})
	return p, nil
}

// readOutput 循环读取程序输出
func readOutput(reader io.Reader, strip bool, handler func(string)) {
	b := make([]byte, readBufferSize)
	for {
		n, err := reader.Read(b)
		if n > 0 && handler != nil {
			output := string(b[:n])
			if strip {
				output = stripansi.Strip(output)
			}
			handler(output)
		}
		if err != nil {
			return
		}
	}
}

func (p *bmxProcess) closePty(pts *os.File) {
	if pts != nil {
		_ = pts.Close()
	}
	if p.ptm != nil {
		_ = p.ptm.Close()
	}
}

func (p *bmxProcess) WriteCommand(command string) error {
	select {
	case <-p.done:
		return e.ErrDebuggerIsClosed
	default:
	}
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	_, err := io.WriteString(p.stdin, command+"\n")
	return err
}

func (p *bmxProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return e.ErrDebuggerNotStarted
	}
	return p.cmd.Process.Signal(sig)
}

func (p *bmxProcess) Done() <-chan struct{} {
	return p.done
}
