package bmx_debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fansqz/bmx-debugger/build"
	"github.com/fansqz/bmx-debugger/config"
	"github.com/fansqz/bmx-debugger/constants"
	. "github.com/fansqz/bmx-debugger/debugger"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/fansqz/bmx-debugger/protocol"
	. "github.com/fansqz/bmx-debugger/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	OptionTimeout = time.Second * 10
)

// BmxDebugger blitzmax调试器
// 被调试程序使用调试模式构建以后，遇到DebugStop、单步完成或者未处理的异常时会停在调试器提示符，
// 这时可以通过标准输入发送命令，调试器在标准错误中输出 ~> 开头的事件
type BmxDebugger struct {
	startOption *StartOption

	// 事件产生时，触发该回调
	callback NotificationCallback

	// statusManager 调试的状态管理
	statusManager *StatusManager

	// 引用工具
	referenceUtil *ReferenceUtil
	// 调试器输出处理工具
	outputUtil *BmxOutputUtil

	queue  *protocol.EventQueue
	parser *protocol.Parser

	processLock sync.RWMutex
	process     Debuggee
	launcher    Launcher

	// requestLock 调试协议一问一答，同一时间只能有一个等待响应的命令
	requestLock sync.Mutex

	// quitTimer 发送q命令以后程序没有退出就强制结束
	quitTimer *TimeoutManager

	optionTimeout   time.Duration
	killSignal      syscall.Signal
	showEmptyScopes bool
	usePty          bool
	stripAnsi       bool

	skipTerminatedEventCount int64 // 重启时需要跳过的终止事件数量

	log *logrus.Entry
}

func NewBmxDebugger(cfg *config.DebuggerConfig) *BmxDebugger {
	referenceUtil := NewReferenceUtil()
	b := &BmxDebugger{
		statusManager: NewStatusManager(),
		referenceUtil: referenceUtil,
		outputUtil:    NewBmxOutputUtil(referenceUtil),
		queue:         protocol.NewEventQueue(),
		launcher:      StartProcess,
		quitTimer:     NewTimeoutManager(),
		optionTimeout: OptionTimeout,
		killSignal:    syscall.SIGKILL,
		log:           logrus.WithField("session", GetShortUUID()),
	}
	// 和默认配置一致，展示没有变量的作用域
	b.showEmptyScopes = true
	if cfg != nil {
		if cfg.OptionTimeoutDuration > 0 {
			b.optionTimeout = cfg.OptionTimeoutDuration
		}
		if cfg.Signal != 0 {
			b.killSignal = cfg.Signal
		}
		b.showEmptyScopes = cfg.ShowEmptyScopes
		b.usePty = cfg.UsePty
		b.stripAnsi = cfg.StripAnsi
	}
	b.parser = protocol.NewParser(b.queue, b.onStop, b.onProtocolOutput)
	return b
}

func (b *BmxDebugger) Start(ctx context.Context, option *StartOption) error {
	b.log.Infof("[BmxDebugger] Start")
	if !b.statusManager.Is(NotStarted) {
		return e.ErrProgramIsRunningOptionFail
	}
	if option == nil {
		return e.ErrInvalidArguments
	}
	b.startOption = option
	b.callback = option.Callback

	// 进行构建
	if option.Build != nil {
		b.output(constants.ConsoleCategory, "Building "+option.Build.Source+"\n")
		execFile, err := build.Build(ctx, option.Build)
		if err != nil {
			b.log.Errorf("[BmxDebugger] build fail, err = %v", err)
			b.output(constants.StderrCategory, err.Error()+"\n")
			b.statusManager.Set(Finish)
			return err
		}
		option.ExecFile = execFile
	}
	if option.ExecFile == "" {
		return e.ErrInvalidArguments
	}
	return b.launch()
}

// launch 启动被调试程序，重启时也会调用
func (b *BmxDebugger) launch() error {
	b.queue.Drain()
	b.parser.Reset()
	b.referenceUtil.Reset()
	b.statusManager.Set(Running)

	process, err := b.launcher(context.Background(), &ProcessOption{
		ExecFile:  b.startOption.ExecFile,
		Args:      b.startOption.Args,
		WorkDir:   b.startOption.WorkDir,
		UsePty:    b.usePty,
		StripAnsi: b.stripAnsi,
		OnStdout:  b.onStdout,
		OnStderr:  b.onStderr,
		OnExit:    b.onExit,
	})
	if err != nil {
		b.log.Errorf("[BmxDebugger] launch fail, err = %v", err)
		b.statusManager.Set(Finish)
		b.output(constants.StderrCategory, err.Error()+"\n")
		return err
	}
	b.processLock.Lock()
	b.process = process
	b.processLock.Unlock()
	return nil
}

func (b *BmxDebugger) getProcess() Debuggee {
	b.processLock.RLock()
	defer b.processLock.RUnlock()
	return b.process
}

func (b *BmxDebugger) onStdout(output string) {
	b.output(constants.StdoutCategory, output)
}

func (b *BmxDebugger) onStderr(output string) {
	if b.startOption.NoDebug {
		b.output(constants.StderrCategory, output)
		return
	}
	b.parser.Feed(output)
}

// onProtocolOutput 标准错误中不属于调试协议的内容
func (b *BmxDebugger) onProtocolOutput(line string) {
	b.output(constants.StderrCategory, line+"\n")
}

// onStop 程序停在调试器提示符
func (b *BmxDebugger) onStop(event *protocol.DebugEvent) {
	if !b.statusManager.CompareAndSet(Stopped, Running, Stopped) {
		b.log.Warnf("[BmxDebugger] ignore %s, status = %s", event.Name, b.statusManager.Get())
		return
	}
	// 之前的引用全部失效
	b.referenceUtil.Reset()

	reason := event.StopReason()
	var text string
	if reason == constants.ExceptionStopped {
		text = protocol.FormatExceptionText(event.Extra)
		b.output(constants.ImportantCategory, event.ExceptionMessage()+"\n")
	}
	b.log.Infof("[BmxDebugger] stopped, reason = %s", reason)
	b.send(NewStoppedEvent(reason, text))
}

func (b *BmxDebugger) onExit(code int, err error) {
	b.parser.Flush()
	b.quitTimer.Cancel()
	b.statusManager.Set(Finish)
	if err != nil {
		b.output(constants.StderrCategory, err.Error()+"\n")
	}
	if b.consumeSkipTerminatedEvent() {
		b.log.Infof("[BmxDebugger] restart, skip terminated event")
		return
	}
	b.send(NewExitedEvent(code))
	b.send(NewTerminatedEvent())
}

func (b *BmxDebugger) consumeSkipTerminatedEvent() bool {
	for {
		count := atomic.LoadInt64(&b.skipTerminatedEventCount)
		if count <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.skipTerminatedEventCount, count, count-1) {
			return true
		}
	}
}

func (b *BmxDebugger) StepOver(ctx context.Context) error {
	return b.resume(ctx, constants.StepOverCommand)
}

func (b *BmxDebugger) StepIn(ctx context.Context) error {
	return b.resume(ctx, constants.StepInCommand)
}

func (b *BmxDebugger) StepOut(ctx context.Context) error {
	return b.resume(ctx, constants.StepOutCommand)
}

func (b *BmxDebugger) Continue(ctx context.Context) error {
	return b.resume(ctx, constants.RunCommand)
}

// resume 发送命令以后不等待响应，程序下一次停止由onStop处理
func (b *BmxDebugger) resume(ctx context.Context, command constants.DebuggeeCommand) error {
	b.log.Infof("[BmxDebugger] resume %s", command)
	process := b.getProcess()
	if process == nil || b.statusManager.Is(Finish) {
		return e.ErrDebuggerIsClosed
	}
	if !b.statusManager.CompareAndSet(Running, Stopped) {
		return e.ErrProgramIsRunningOptionFail
	}
	b.send(NewContinuedEvent())
	if err := process.WriteCommand(string(command)); err != nil {
		b.log.Errorf("[BmxDebugger] write %s fail, err = %v", command, err)
		return err
	}
	return nil
}

func (b *BmxDebugger) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	return checkBreakpoints(source, breakpoints), nil
}

// request 发送命令并等待一个事件
// 发送之前丢弃队列中残留的事件，这些事件是之前超时的请求的响应
func (b *BmxDebugger) request(ctx context.Context, command constants.DebuggeeCommand, argument string) (*protocol.DebugEvent, error) {
	process := b.getProcess()
	if process == nil {
		return nil, e.ErrDebuggerNotStarted
	}
	for _, stale := range b.queue.Drain() {
		b.log.Warnf("[BmxDebugger] drop stale event %s", stale.Name)
	}
	if err := process.WriteCommand(string(command) + argument); err != nil {
		return nil, err
	}
	return b.queue.Wait(ctx, b.optionTimeout, process.Done())
}

// expectEvent 响应事件必须是期望的类型，无法识别名称的事件也当作响应处理
func expectEvent(event *protocol.DebugEvent, kind protocol.EventKind) error {
	if event.Kind == kind || event.Kind == protocol.GenericEvent {
		return nil
	}
	return fmt.Errorf("%w: %s", e.ErrUnexpectedEvent, event.Name)
}

// GetStackTrace 发送t命令，重新构建栈帧和作用域，之前的引用全部失效
func (b *BmxDebugger) GetStackTrace(ctx context.Context) ([]dap.StackFrame, error) {
	if !b.statusManager.Is(Stopped) {
		return nil, e.ErrProgramNotStopped
	}
	b.requestLock.Lock()
	defer b.requestLock.Unlock()

	b.referenceUtil.Reset()
	event, err := b.request(ctx, constants.TraceCommand, "")
	if err != nil {
		b.log.Warnf("[BmxDebugger] GetStackTrace fail, err = %v", err)
		return []dap.StackFrame{}, nil
	}
	if err = expectEvent(event, protocol.StackTraceEvent); err != nil {
		b.log.Warnf("[BmxDebugger] GetStackTrace fail, err = %v", err)
		return []dap.StackFrame{}, nil
	}
	return b.outputUtil.ParseStackTraceOutput(event.Data), nil
}

func (b *BmxDebugger) GetScopes(ctx context.Context, frameId int) ([]dap.Scope, error) {
	scope, ok := b.referenceUtil.GetFrameScope(frameId)
	if !ok {
		b.log.Debugf("[BmxDebugger] GetScopes frame %d not found", frameId)
		return []dap.Scope{}, nil
	}
	if !b.showEmptyScopes && !b.referenceUtil.HasCachedDump(scope.Reference) {
		return []dap.Scope{}, nil
	}
	return []dap.Scope{{
		Name:               scope.Name,
		PresentationHint:   "locals",
		VariablesReference: scope.Reference,
	}}, nil
}

// GetVariables 查看引用的值
// 1. 有缓存的变量行：直接转换，重复请求结果相同
// 2. 根作用域没有变量：返回占位变量
// 3. 等待导出的变量：发送d命令导出对象，导出以后该引用失效
func (b *BmxDebugger) GetVariables(ctx context.Context, reference int) ([]dap.Variable, error) {
	b.requestLock.Lock()
	defer b.requestLock.Unlock()

	if nodes, ok := b.referenceUtil.GetCachedVariables(reference); ok {
		return b.outputUtil.ConvertVariables(nodes), nil
	}
	if b.referenceUtil.CheckIsRootScope(reference) {
		return NoVariables(), nil
	}
	variable, ok := b.referenceUtil.TakePendingVariable(reference)
	if !ok {
		b.log.Debugf("[BmxDebugger] GetVariables reference %d not found", reference)
		return []dap.Variable{}, nil
	}
	if !b.statusManager.Is(Stopped) {
		return []dap.Variable{}, nil
	}

	b.log.Infof("[BmxDebugger] dump %s, reference = %d, parent = %d",
		variable.NeedsDump, reference, b.referenceUtil.GetParentReference(reference))
	event, err := b.request(ctx, constants.DumpCommand, variable.NeedsDump)
	if err != nil {
		b.log.Warnf("[BmxDebugger] dump %s fail, err = %v", variable.NeedsDump, err)
		return []dap.Variable{}, nil
	}
	if err = expectEvent(event, protocol.ObjectDumpEvent); err != nil {
		b.log.Warnf("[BmxDebugger] dump %s fail, err = %v", variable.NeedsDump, err)
		return []dap.Variable{}, nil
	}
	if address := event.Address(); address != "" && address != variable.NeedsDump {
		b.log.Warnf("[BmxDebugger] dump %s got address %s", variable.NeedsDump, address)
	}
	nodes := b.referenceUtil.ConvertDump(reference, event.Data)
	b.referenceUtil.ShareDump(variable.NeedsDump, event.Data)
	return b.outputUtil.ConvertVariables(nodes), nil
}

// Evaluate 在栈帧的根作用域中按名称查找变量，blitzmax的标识符不区分大小写
func (b *BmxDebugger) Evaluate(ctx context.Context, frameId int, expression string) (*dap.Variable, error) {
	expression = strings.TrimSpace(expression)
	scope, ok := b.referenceUtil.GetFrameScope(frameId)
	if !ok {
		return nil, e.ErrVariableNotFound
	}
	nodes, ok := b.referenceUtil.GetCachedVariables(scope.Reference)
	if !ok {
		return nil, e.ErrVariableNotFound
	}
	for _, node := range nodes {
		if strings.EqualFold(node.variable.Name, expression) || strings.EqualFold(node.variable.DisplayName(), expression) {
			variable := convertVariable(node)
			return &variable, nil
		}
	}
	return nil, e.ErrVariableNotFound
}

// Terminate 停在调试器提示符时通过q命令退出，否则直接发送信号
func (b *BmxDebugger) Terminate(ctx context.Context) error {
	b.log.Infof("[BmxDebugger] Terminate")
	process := b.getProcess()
	if process == nil || b.statusManager.Is(Finish) {
		return nil
	}
	if b.statusManager.Is(Stopped) {
		if err := process.WriteCommand(string(constants.QuitCommand)); err == nil {
			select {
			case <-process.Done():
				return nil
			default:
			}
			b.quitTimer.Start(context.Background(), b.optionTimeout, func() {
				b.log.Warnf("[BmxDebugger] quit time out, kill")
				_ = process.Signal(b.killSignal)
			})
			return nil
		}
	}
	return process.Signal(b.killSignal)
}

// Restart 结束当前程序并使用同一个可执行文件重新启动，不会发送终止事件
func (b *BmxDebugger) Restart(ctx context.Context) error {
	b.log.Infof("[BmxDebugger] Restart")
	process := b.getProcess()
	if process == nil {
		return e.ErrDebuggerNotStarted
	}
	if !b.statusManager.Is(Finish) {
		atomic.AddInt64(&b.skipTerminatedEventCount, 1)
		// 程序可能已经自己退出，这时跳过计数已经被onExit消耗
		if err := b.Terminate(ctx); err != nil && !errors.Is(err, os.ErrProcessDone) {
			b.consumeSkipTerminatedEvent()
			return err
		}
		select {
		case <-process.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * b.optionTimeout):
			return e.ErrWaitTimeout
		}
		// 程序可能在计数之前就已经退出
		atomic.StoreInt64(&b.skipTerminatedEventCount, 0)
	}
	return b.launch()
}

func (b *BmxDebugger) send(event dap.EventMessage) {
	if b.callback != nil {
		b.callback(event)
	}
}

func (b *BmxDebugger) output(category constants.OutputCategory, output string) {
	b.send(NewOutputEvent(category, output))
}
