package debugger

import (
	"github.com/fansqz/bmx-debugger/build"
	"github.com/fansqz/bmx-debugger/constants"
	"github.com/google/go-dap"
)

// StartOption 启动调试的参数
type StartOption struct {
	// ExecFile 可执行文件，需要构建时由构建结果填充
	ExecFile string
	// Args 程序参数
	Args []string
	// WorkDir 程序工作目录
	WorkDir string
	// NoDebug 只运行程序，不处理调试协议
	NoDebug bool
	// Build 不为空时启动前先构建
	Build *build.BuildOption
	// Callback 事件回调
	Callback NotificationCallback
}

func newEvent(event constants.DebugEventType) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: string(event),
	}
}

// NewInitializedEvent 可以开始接收断点等配置
func NewInitializedEvent() *dap.InitializedEvent {
	return &dap.InitializedEvent{Event: newEvent(constants.InitializedEvent)}
}

// NewOutputEvent 程序输出
func NewOutputEvent(category constants.OutputCategory, output string) *dap.OutputEvent {
	event := &dap.OutputEvent{Event: newEvent(constants.OutputEvent)}
	event.Body.Category = string(category)
	event.Body.Output = output
	return event
}

// NewStoppedEvent
// 该event表明，由于某些原因，被调试进程的执行已经停止。
// 这可能是由DebugStop语句、完成的步进请求、未处理的异常引起的。
func NewStoppedEvent(reason constants.StoppedReasonType, text string) *dap.StoppedEvent {
	event := &dap.StoppedEvent{Event: newEvent(constants.StoppedEvent)}
	event.Body.Reason = string(reason)
	event.Body.ThreadId = constants.ThreadID
	event.Body.AllThreadsStopped = true
	event.Body.Text = text
	return event
}

// NewContinuedEvent
// 该event表明debug的执行已经继续。
func NewContinuedEvent() *dap.ContinuedEvent {
	event := &dap.ContinuedEvent{Event: newEvent(constants.ContinuedEvent)}
	event.Body.ThreadId = constants.ThreadID
	event.Body.AllThreadsContinued = true
	return event
}

// NewExitedEvent
// 该event表明被调试对象已经退出并返回exit code。但是并不意味着调试会话结束
func NewExitedEvent(code int) *dap.ExitedEvent {
	event := &dap.ExitedEvent{Event: newEvent(constants.ExitedEvent)}
	event.Body.ExitCode = code
	return event
}

// NewTerminatedEvent 调试会话结束
func NewTerminatedEvent() *dap.TerminatedEvent {
	return &dap.TerminatedEvent{Event: newEvent(constants.TerminatedEvent)}
}
