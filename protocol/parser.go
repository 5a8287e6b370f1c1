package protocol

import (
	"strings"
	"sync"

	"github.com/emirpasic/gods/sets"
	"github.com/fansqz/bmx-debugger/constants"
	"github.com/fansqz/bmx-debugger/utils"
	"github.com/sirupsen/logrus"
)

// StopHandler 处理停止通知（DebugStop、Debug、Unhandled Exception）
type StopHandler func(event *DebugEvent)

// OutputHandler 处理不属于调试协议的普通输出
type OutputHandler func(line string)

// Parser 调试协议解析器
// 输入是被调试程序stderr的原始数据块，数据块的边界和事件的边界没有关系，
// 一个事件可以跨越多个数据块，一个数据块也可以包含多个事件。
//
// 协议格式：
//
//	~>Name            头部，也可以是 ~>Name:extra 或 ~>Name@extra，末尾可以带 {
//	~>payload         数据行，长度大于2
//	~>                结束标记
//
// handler在持有解析器锁的情况下调用，不能再调用Parser的方法
type Parser struct {
	lock sync.Mutex

	queue     *EventQueue
	onStop    StopHandler
	onOutput  OutputHandler
	stopNames sets.Set

	// partial 上一个数据块中没有换行结尾的部分
	partial string
	// current 当前正在接收数据的事件，nil表示没有打开的事件
	current *DebugEvent
}

func NewParser(queue *EventQueue, onStop StopHandler, onOutput OutputHandler) *Parser {
	return &Parser{
		queue:     queue,
		onStop:    onStop,
		onOutput:  onOutput,
		stopNames: utils.List2set(constants.StopEventNames),
	}
}

// Feed 处理一个数据块
func (p *Parser) Feed(chunk string) {
	p.lock.Lock()
	defer p.lock.Unlock()

	data := p.partial + chunk
	lines := strings.Split(data, "\n")
	// 最后一段没有换行，留到下一次
	p.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		p.processLine(strings.TrimSuffix(line, "\r"))
	}
}

// Flush 输出流结束时处理剩余的不完整行
func (p *Parser) Flush() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.partial != "" {
		line := strings.TrimSuffix(p.partial, "\r")
		p.partial = ""
		p.processLine(line)
	}
	if p.current != nil {
		logrus.Warnf("[Parser] stream closed with open event %s", p.current.Name)
		p.current = nil
	}
}

// Reset 丢弃所有未完成的状态，重启被调试程序时调用
func (p *Parser) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.partial = ""
	p.current = nil
}

func (p *Parser) processLine(line string) {
	if line == "" {
		return
	}

	if !strings.HasPrefix(line, constants.EventSentinel) {
		if p.current != nil {
			logrus.Warnf("[Parser] unframed line inside event %s: %q", p.current.Name, line)
		}
		p.output(line)
		return
	}

	// 头部
	if p.current == nil {
		if len(line) <= len(constants.EventSentinel) {
			logrus.Warnf("[Parser] close marker without open event")
			return
		}
		p.current = parseHeader(line[len(constants.EventSentinel):])
		return
	}

	// 数据行
	if len(line) > len(constants.EventSentinel) {
		p.current.Data = append(p.current.Data, line[len(constants.EventSentinel):])
		return
	}

	// 结束标记
	p.finish()
}

// parseHeader 解析事件头部，使用最后一个分隔符拆分name和extra，
// 所以name本身不能包含 ':' 或 '@'
func parseHeader(header string) *DebugEvent {
	event := &DebugEvent{Data: []string{}}
	if index := strings.LastIndex(header, ":"); index >= 0 {
		event.Name = header[:index]
		event.Extra = header[index+1:]
	} else if index = strings.LastIndex(header, "@"); index >= 0 {
		event.Name = header[:index]
		event.Extra = header[index+1:]
	} else {
		event.Name = header
	}
	event.Name = strings.TrimSuffix(event.Name, constants.BlockOpen)
	return event
}

func (p *Parser) finish() {
	event := p.current
	p.current = nil

	event.Name = strings.TrimSuffix(event.Name, constants.BlockOpen)
	event.Extra = strings.TrimSuffix(event.Extra, constants.BlockOpen)
	event.Kind = classify(event, p.isStopEvent)

	if event.Kind == StopNoticeEvent {
		logrus.Infof("[Parser] stop notice %s", event.Name)
		if p.onStop != nil {
			p.onStop(event)
		}
		return
	}
	logrus.Debugf("[Parser] queue event %s, %d lines", event.Name, len(event.Data))
	p.queue.Push(event)
}

func (p *Parser) isStopEvent(name string) bool {
	return p.stopNames.Contains(name)
}

func (p *Parser) output(line string) {
	if p.onOutput != nil {
		p.onOutput(line)
	}
}
