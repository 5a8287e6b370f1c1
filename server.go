package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"runtime/debug"
	"sync"

	"github.com/fansqz/bmx-debugger/build"
	"github.com/fansqz/bmx-debugger/config"
	"github.com/fansqz/bmx-debugger/constants"
	"github.com/fansqz/bmx-debugger/debugger"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/fansqz/bmx-debugger/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DebuggerFactory 每个调试会话创建一个调试器
type DebuggerFactory func(cfg *config.Config) debugger.Debugger

// DebugSession 调试会话
type DebugSession struct {
	// rw is used to read requests and write events/responses
	rw  *bufio.ReadWriter
	cfg *config.Config

	debugger    debugger.Debugger
	startOption *debugger.StartOption

	ctx    context.Context
	cancel context.CancelFunc

	// sendQueue 所有响应和事件都通过sendFromQueue在同一个协程中写出，
	// 调试器的事件回调来自其他协程，关闭队列前需要拿到sendLock的写锁
	sendQueue chan dap.Message
	sendLock  sync.RWMutex
	closed    bool
	sendDone  chan struct{}
	// seq 只在sendFromQueue中修改
	seq int

	disconnected bool
	log          *logrus.Entry
}

// StartSession 处理一个客户端连接，连接断开或者收到disconnect请求时返回
func StartSession(conn io.ReadWriteCloser, cfg *config.Config, factory DebuggerFactory) {
	ctx, cancel := context.WithCancel(context.Background())
	session := &DebugSession{
		rw:        bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		cfg:       cfg,
		debugger:  factory(cfg),
		ctx:       ctx,
		cancel:    cancel,
		sendQueue: make(chan dap.Message),
		sendDone:  make(chan struct{}),
		log:       logrus.WithField("dap", utils.GetShortUUID()),
	}
	go session.sendFromQueue()

	for !session.disconnected {
		err := session.handleRequest()
		if err != nil {
			if err == io.EOF {
				session.log.Infof("[DebugSession] no more data to read")
			} else {
				session.log.Errorf("[DebugSession] read request fail, err = %v", err)
			}
			// 客户端断开以后不再保留被调试程序
			_ = session.debugger.Terminate(context.Background())
			break
		}
	}

	session.cancel()
	session.sendLock.Lock()
	session.closed = true
	close(session.sendQueue)
	session.sendLock.Unlock()
	<-session.sendDone
	_ = conn.Close()
	session.log.Infof("[DebugSession] closed")
}

func (d *DebugSession) handleRequest() error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	d.log.Debugf("[DebugSession] received %#v", request)
	d.dispatchRequest(request)
	return nil
}

func (d *DebugSession) dispatchRequest(request dap.Message) {
	defer func() {
		// 单个请求的panic不能影响同一进程中的其他会话
		if err := recover(); err != nil {
			d.log.Errorf("[DebugSession] handle request panic: %v\n%s", err, debug.Stack())
			if req, ok := request.(dap.RequestMessage); ok {
				r := req.GetRequest()
				d.send(newErrorResponse(r.Seq, r.Command, fmt.Sprint(err)))
			}
		}
	}()
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.LaunchRequest:
		d.onLaunchRequest(request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.SetBreakpointsRequest:
		d.onSetBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		d.onSetExceptionBreakpointsRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(request)
	case *dap.ContinueRequest:
		d.onContinueRequest(request)
	case *dap.NextRequest:
		d.onNextRequest(request)
	case *dap.StepInRequest:
		d.onStepInRequest(request)
	case *dap.StepOutRequest:
		d.onStepOutRequest(request)
	case *dap.PauseRequest:
		d.send(newErrorResponse(request.Seq, request.Command, e.ErrPauseNotSupported.Error()))
	case *dap.RestartRequest:
		d.onRestartRequest(request)
	case *dap.TerminateRequest:
		d.onTerminateRequest(request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(request)
	default:
		if baseReq, ok := request.(dap.RequestMessage); ok {
			req := baseReq.GetRequest()
			d.send(newErrorResponse(req.Seq, req.Command, fmt.Sprintf("%s is not yet supported", req.Command)))
			return
		}
		d.log.Warnf("[DebugSession] unable to process %#v", request)
	}
}

// send Message响应给客户端，会话关闭以后直接丢弃
func (d *DebugSession) send(message dap.Message) {
	d.sendLock.RLock()
	defer d.sendLock.RUnlock()
	if d.closed {
		return
	}
	d.sendQueue <- message
}

func (d *DebugSession) sendFromQueue() {
	defer close(d.sendDone)
	for message := range d.sendQueue {
		d.seq++
		switch m := message.(type) {
		case dap.ResponseMessage:
			m.GetResponse().Seq = d.seq
		case dap.EventMessage:
			m.GetEvent().Seq = d.seq
		}
		if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
			d.log.Errorf("[DebugSession] write message fail, err = %v", err)
			continue
		}
		_ = d.rw.Flush()
	}
}

// -----------------------------------------------------------------------
// Request Handlers

func (d *DebugSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsTerminateRequest = true
	response.Body.SupportsRestartRequest = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.ExceptionBreakpointFilters = []dap.ExceptionBreakpointsFilter{}
	d.send(response)
	// 客户端收到initialized以后开始发送断点等配置，最后发送configurationDone
	d.send(debugger.NewInitializedEvent())
}

// onLaunchRequest 只记录启动参数，configurationDone时才真正构建并启动
//
//	program  已经构建好的可执行文件
//	source   入口源文件，没有program或者build为true时先使用bmk构建
//	output apptype threaded quick bmk  构建参数
//	args cwd noDebug
func (d *DebugSession) onLaunchRequest(request *dap.LaunchRequest) {
	option, err := d.parseLaunchArguments(request.Arguments)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	option.Callback = func(event dap.EventMessage) {
		d.send(event)
	}
	d.startOption = option
	response := &dap.LaunchResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) parseLaunchArguments(arguments []byte) (*debugger.StartOption, error) {
	args := gjson.ParseBytes(arguments)
	program := args.Get("program").String()
	source := args.Get("source").String()
	if program == "" && source == "" {
		return nil, fmt.Errorf("%w: program or source is required", e.ErrInvalidArguments)
	}

	option := &debugger.StartOption{
		ExecFile: program,
		WorkDir:  args.Get("cwd").String(),
		NoDebug:  args.Get("noDebug").Bool(),
	}
	if option.WorkDir == "" && source != "" {
		option.WorkDir = filepath.Dir(source)
	}
	for _, arg := range args.Get("args").Array() {
		option.Args = append(option.Args, arg.String())
	}

	if source != "" && (program == "" || args.Get("build").Bool()) {
		buildOption := &build.BuildOption{
			BmkPath:  d.cfg.BmkPath,
			Source:   source,
			Output:   args.Get("output").String(),
			WorkDir:  option.WorkDir,
			AppType:  constants.AppType(args.Get("apptype").String()),
			Debug:    !option.NoDebug,
			Threaded: d.cfg.Build.Threaded,
			Quick:    d.cfg.Build.Quick,
			Timeout:  d.cfg.Build.TimeoutDuration,
		}
		if bmk := args.Get("bmk"); bmk.Exists() {
			buildOption.BmkPath = bmk.String()
		}
		if threaded := args.Get("threaded"); threaded.Exists() {
			buildOption.Threaded = threaded.Bool()
		}
		if quick := args.Get("quick"); quick.Exists() {
			buildOption.Quick = quick.Bool()
		}
		option.Build = buildOption
	}
	return option, nil
}

func (d *DebugSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if d.startOption == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "launch request is required before configurationDone"))
		return
	}
	if err := d.debugger.Start(d.ctx, d.startOption); err != nil {
		d.log.Errorf("[DebugSession] start fail, err = %v", err)
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		d.send(debugger.NewTerminatedEvent())
		return
	}
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	breakpoints, err := d.debugger.SetBreakpoints(d.ctx, request.Arguments.Source, request.Arguments.Breakpoints)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.SetBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = breakpoints
	d.send(response)
}

func (d *DebugSession) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	response := &dap.SetExceptionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = []dap.Breakpoint{}
	d.send(response)
}

func (d *DebugSession) onThreadsRequest(request *dap.ThreadsRequest) {
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = []dap.Thread{{Id: constants.ThreadID, Name: "thread 1"}}
	d.send(response)
}

func (d *DebugSession) onStackTraceRequest(request *dap.StackTraceRequest) {
	stacktrace, err := d.debugger.GetStackTrace(d.ctx)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	total := len(stacktrace)
	start := request.Arguments.StartFrame
	if start < 0 {
		start = 0
	} else if start > total {
		start = total
	}
	end := total
	if levels := request.Arguments.Levels; levels > 0 && levels < total-start {
		end = start + levels
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.StackTraceResponseBody{
		StackFrames: stacktrace[start:end],
		TotalFrames: total,
	}
	d.send(response)
}

func (d *DebugSession) onScopesRequest(request *dap.ScopesRequest) {
	scopes, err := d.debugger.GetScopes(d.ctx, request.Arguments.FrameId)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.ScopesResponseBody{
		Scopes: scopes,
	}
	d.send(response)
}

func (d *DebugSession) onVariablesRequest(request *dap.VariablesRequest) {
	variables, err := d.debugger.GetVariables(d.ctx, request.Arguments.VariablesReference)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body = dap.VariablesResponseBody{
		Variables: variables,
	}
	d.send(response)
}

func (d *DebugSession) onEvaluateRequest(request *dap.EvaluateRequest) {
	variable, err := d.debugger.Evaluate(d.ctx, request.Arguments.FrameId, request.Arguments.Expression)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Result = variable.Value
	response.Body.Type = variable.Type
	response.Body.VariablesReference = variable.VariablesReference
	d.send(response)
}

func (d *DebugSession) onContinueRequest(request *dap.ContinueRequest) {
	if err := d.debugger.Continue(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

func (d *DebugSession) onNextRequest(request *dap.NextRequest) {
	if err := d.debugger.StepOver(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepInRequest(request *dap.StepInRequest) {
	if err := d.debugger.StepIn(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepInResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onStepOutRequest(request *dap.StepOutRequest) {
	if err := d.debugger.StepOut(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StepOutResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onRestartRequest(request *dap.RestartRequest) {
	if err := d.debugger.Restart(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.RestartResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onTerminateRequest(request *dap.TerminateRequest) {
	if err := d.debugger.Terminate(d.ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.TerminateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DebugSession) onDisconnectRequest(request *dap.DisconnectRequest) {
	if err := d.debugger.Terminate(d.ctx); err != nil {
		d.log.Warnf("[DebugSession] terminate on disconnect fail, err = %v", err)
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
	d.disconnected = true
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Message = message
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	er.Body.Error.ShowUser = true
	return er
}
