package protocol

import (
	"strings"

	"github.com/fansqz/bmx-debugger/constants"
)

// EventKind 调试事件的类型，在解析器关闭事件时确定，下游不再比较事件名称
type EventKind int

const (
	GenericEvent EventKind = iota
	StackTraceEvent
	StopNoticeEvent
	ObjectDumpEvent
)

func (k EventKind) String() string {
	switch k {
	case StackTraceEvent:
		return "StackTrace"
	case StopNoticeEvent:
		return "StopNotice"
	case ObjectDumpEvent:
		return "ObjectDump"
	default:
		return "Generic"
	}
}

// DebugEvent 调试协议中一个完整的事件
//
//	~>Name:extra{
//	~>data line 1
//	~>data line 2
//	~>
type DebugEvent struct {
	Kind EventKind
	// Name 事件名称，例如 DebugStop、StackTrace、ObjectDump
	Name string
	// Extra 头部中 ':' 或 '@' 之后的内容，为空表示没有
	Extra string
	// Data 事件体，保持原始顺序
	Data []string
}

// Address ObjectDump事件导出的对象地址
func (e *DebugEvent) Address() string {
	if e.Kind != ObjectDumpEvent {
		return ""
	}
	return e.Extra
}

// StopReason 停止通知对应的停止原因
func (e *DebugEvent) StopReason() constants.StoppedReasonType {
	switch e.Name {
	case constants.DebugEventName:
		return constants.StepStopped
	case constants.UnhandledExceptionEventName:
		return constants.ExceptionStopped
	default:
		return constants.BreakpointStopped
	}
}

// ExceptionMessage 未处理异常展示给用户的信息
// 按 '.' 拆分成多行，去掉空行，避免出现连续的空行
func (e *DebugEvent) ExceptionMessage() string {
	if e.Extra == "" {
		return e.Name
	}
	return e.Name + ": " + FormatExceptionText(e.Extra)
}

// FormatExceptionText "Foo.Bad error. Oops." -> "Foo.\nBad error.\nOops."
func FormatExceptionText(text string) string {
	parts := strings.Split(text, ".")
	lines := make([]string, 0, len(parts))
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i < len(parts)-1 {
			part += "."
		}
		lines = append(lines, part)
	}
	return strings.Join(lines, "\n")
}

// classify 根据事件名称确定事件类型
func classify(event *DebugEvent, isStopEvent func(name string) bool) EventKind {
	switch {
	case isStopEvent(event.Name):
		return StopNoticeEvent
	case event.Name == constants.StackTraceEventName:
		return StackTraceEvent
	case event.Name == constants.ObjectDumpEventName:
		return ObjectDumpEvent
	default:
		return GenericEvent
	}
}
