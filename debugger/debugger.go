package debugger

import (
	"context"

	"github.com/google/go-dap"
)

// NotificationCallback 调试过程中产生的事件，例如停止、继续、输出
type NotificationCallback func(event dap.EventMessage)

// Debugger
// 用户的一次调试过程处理，一个Debugger对应一个被调试程序
// 需要保证并发安全
type Debugger interface {
	// Start 开始调试，如果需要构建会先构建，然后启动被调试程序
	// callback用来异步处理程序输出以及停止等事件
	Start(ctx context.Context, option *StartOption) error
	// StepOver 下一步，不会进入函数内部
	StepOver(ctx context.Context) error
	// StepIn 下一步，会进入函数内部
	StepIn(ctx context.Context) error
	// StepOut 单步退出
	StepOut(ctx context.Context) error
	// Continue 继续执行
	Continue(ctx context.Context) error
	// SetBreakpoints 设置某个文件的断点，返回每个断点是否生效
	SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)
	// GetStackTrace 获取栈帧，下标0是当前所在的栈帧
	GetStackTrace(ctx context.Context) ([]dap.StackFrame, error)
	// GetScopes 获取栈帧的作用域
	GetScopes(ctx context.Context, frameId int) ([]dap.Scope, error)
	// GetVariables 查看引用的值
	GetVariables(ctx context.Context, reference int) ([]dap.Variable, error)
	// Evaluate 在栈帧的作用域中查找变量
	Evaluate(ctx context.Context, frameId int, expression string) (*dap.Variable, error)
	// Restart 重新启动被调试程序，不会重新构建
	Restart(ctx context.Context) error
	// Terminate 终止调试
	Terminate(ctx context.Context) error
}
