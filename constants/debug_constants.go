package constants

// DebugEventType 调试器向客户端发送的事件类型
type DebugEventType string

const (
	InitializedEvent DebugEventType = "initialized"
	OutputEvent      DebugEventType = "output"
	StoppedEvent     DebugEventType = "stopped"
	ContinuedEvent   DebugEventType = "continued"
	ExitedEvent      DebugEventType = "exited"
	TerminatedEvent  DebugEventType = "terminated"
)

// DebuggeeCommand 写入被调试程序标准输入的命令
// 每条命令以换行结尾，同一时间只能有一个等待响应的命令
type DebuggeeCommand string

const (
	// TraceCommand 获取当前栈帧以及每个栈帧的变量
	TraceCommand DebuggeeCommand = "t"
	// RunCommand 继续执行
	RunCommand DebuggeeCommand = "r"
	// StepOverCommand 单步，不进入函数内部
	StepOverCommand DebuggeeCommand = "s"
	// StepInCommand 单步，进入函数内部
	StepInCommand DebuggeeCommand = "e"
	// StepOutCommand 跳出当前函数
	StepOutCommand DebuggeeCommand = "l"
	// DumpCommand 导出某个地址的对象，后面紧跟地址（不带$）
	DumpCommand DebuggeeCommand = "d"
	// QuitCommand 通过调试器提示符退出程序
	QuitCommand DebuggeeCommand = "q"
)

// 调试协议中的事件名称
const (
	// EventSentinel 每一行调试协议输出的前缀
	EventSentinel = "~>"
	// BlockOpen 事件头部可选的块开始标记
	BlockOpen = "{"

	DebugStopEventName          = "DebugStop"
	DebugEventName              = "Debug"
	UnhandledExceptionEventName = "Unhandled Exception"
	StackTraceEventName         = "StackTrace"
	ObjectDumpEventName         = "ObjectDump"
)

// StopEventNames 停止通知事件，这些事件不会进入事件队列
var StopEventNames = []string{
	DebugStopEventName,
	DebugEventName,
	UnhandledExceptionEventName,
}

// StoppedReasonType 程序停止类型
type StoppedReasonType string

const (
	BreakpointStopped StoppedReasonType = "breakpoint"
	StepStopped       StoppedReasonType = "step"
	ExceptionStopped  StoppedReasonType = "exception"
)

// OutputCategory 输出事件的类别
type OutputCategory string

const (
	StdoutCategory    OutputCategory = "stdout"
	StderrCategory    OutputCategory = "stderr"
	ConsoleCategory   OutputCategory = "console"
	ImportantCategory OutputCategory = "important"
)

// ThreadID blitzmax调试器不支持多线程，只有一个线程
const ThreadID = 1

// NoVariablesName 根作用域没有任何变量时返回的占位变量
const NoVariablesName = "no variables"
