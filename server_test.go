package main

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/bmx-debugger/config"
	"github.com/fansqz/bmx-debugger/constants"
	"github.com/fansqz/bmx-debugger/debugger"
	e "github.com/fansqz/bmx-debugger/error"
	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDebugger 记录会话发来的调用
type fakeDebugger struct {
	lock        sync.Mutex
	calls       []string
	startOption *debugger.StartOption
	startErr    error
	frames      []dap.StackFrame
}

func (f *fakeDebugger) record(call string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDebugger) getCalls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeDebugger) Start(ctx context.Context, option *debugger.StartOption) error {
	f.record("start")
	f.startOption = option
	if f.startErr != nil {
		return f.startErr
	}
	option.Callback(debugger.NewStoppedEvent(constants.BreakpointStopped, ""))
	return nil
}

func (f *fakeDebugger) StepOver(ctx context.Context) error {
	f.record("next")
	return nil
}

func (f *fakeDebugger) StepIn(ctx context.Context) error {
	f.record("stepIn")
	return nil
}

func (f *fakeDebugger) StepOut(ctx context.Context) error {
	f.record("stepOut")
	return nil
}

func (f *fakeDebugger) Continue(ctx context.Context) error {
	f.record("continue")
	return e.ErrProgramIsRunningOptionFail
}

func (f *fakeDebugger) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	f.record("setBreakpoints")
	answer := make([]dap.Breakpoint, 0, len(breakpoints))
	for _, bp := range breakpoints {
		answer = append(answer, dap.Breakpoint{Verified: true, Line: bp.Line, Source: &source})
	}
	return answer, nil
}

func (f *fakeDebugger) GetStackTrace(ctx context.Context) ([]dap.StackFrame, error) {
	f.record("stackTrace")
	return f.frames, nil
}

func (f *fakeDebugger) GetScopes(ctx context.Context, frameId int) ([]dap.Scope, error) {
	f.record("scopes")
	return []dap.Scope{{Name: "Local Main", VariablesReference: frameId + 1}}, nil
}

func (f *fakeDebugger) GetVariables(ctx context.Context, reference int) ([]dap.Variable, error) {
	f.record("variables")
	return []dap.Variable{{Name: "Local a", Value: "1", Type: "Int"}}, nil
}

func (f *fakeDebugger) Evaluate(ctx context.Context, frameId int, expression string) (*dap.Variable, error) {
	f.record("evaluate")
	if expression != "a" {
		return nil, e.ErrVariableNotFound
	}
	return &dap.Variable{Name: "Local a", Value: "1", Type: "Int"}, nil
}

func (f *fakeDebugger) Restart(ctx context.Context) error {
	f.record("restart")
	return nil
}

func (f *fakeDebugger) Terminate(ctx context.Context) error {
	f.record("terminate")
	return nil
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	seq    int
	done   chan struct{}
}

func startTestSession(t *testing.T, fake *fakeDebugger) *testClient {
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		StartSession(server, config.DefaultConfig(), func(cfg *config.Config) debugger.Debugger {
			return fake
		})
	}()
	c := &testClient{t: t, conn: client, reader: bufio.NewReader(client), done: done}
	t.Cleanup(func() {
		_ = client.Close()
		<-done
	})
	return c
}

func (c *testClient) request(command string, arguments string) {
	c.seq++
	// 通过json解码构造请求，覆盖真实客户端的编码路径
	raw := `{"seq":` + strconv.Itoa(c.seq) + `,"type":"request","command":"` + command + `"`
	if arguments != "" {
		raw += `,"arguments":` + arguments
	}
	raw += "}"
	message, err := dap.DecodeProtocolMessage([]byte(raw))
	require.NoError(c.t, err)
	require.NoError(c.t, dap.WriteProtocolMessage(c.conn, message))
}

func (c *testClient) read() dap.Message {
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	message, err := dap.ReadProtocolMessage(c.reader)
	require.NoError(c.t, err)
	return message
}

func TestInitializeSendsInitializedEvent(t *testing.T) {
	c := startTestSession(t, &fakeDebugger{})
	c.request("initialize", `{"adapterID":"bmx"}`)

	response, ok := c.read().(*dap.InitializeResponse)
	require.True(t, ok)
	assert.True(t, response.Success)
	assert.True(t, response.Body.SupportsConfigurationDoneRequest)
	assert.True(t, response.Body.SupportsRestartRequest)
	assert.Equal(t, 1, response.Seq)

	event, ok := c.read().(*dap.InitializedEvent)
	require.True(t, ok)
	assert.Equal(t, 2, event.Seq)
}

func TestLaunchAndConfigurationDone(t *testing.T) {
	fake := &fakeDebugger{}
	c := startTestSession(t, fake)
	c.request("launch", `{"program":"/tmp/app.debug","args":["-x","1"],"cwd":"/tmp"}`)
	_, ok := c.read().(*dap.LaunchResponse)
	require.True(t, ok)

	c.request("configurationDone", "")
	stopped, ok := c.read().(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", stopped.Body.Reason)
	_, ok = c.read().(*dap.ConfigurationDoneResponse)
	require.True(t, ok)

	require.NotNil(t, fake.startOption)
	assert.Equal(t, "/tmp/app.debug", fake.startOption.ExecFile)
	assert.Equal(t, []string{"-x", "1"}, fake.startOption.Args)
	assert.Equal(t, "/tmp", fake.startOption.WorkDir)
	assert.Nil(t, fake.startOption.Build)
}

func TestConfigurationDoneStartFailure(t *testing.T) {
	fake := &fakeDebugger{startErr: e.ErrBuildFailed}
	c := startTestSession(t, fake)
	c.request("launch", `{"source":"/src/main.bmx"}`)
	c.read()

	c.request("configurationDone", "")
	response, ok := c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.False(t, response.Success)
	assert.Equal(t, e.ErrBuildFailed.Error(), response.Message)
	_, ok = c.read().(*dap.TerminatedEvent)
	assert.True(t, ok)
}

func TestLaunchWithoutProgram(t *testing.T) {
	c := startTestSession(t, &fakeDebugger{})
	c.request("launch", `{}`)
	response, ok := c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.Contains(t, response.Message, "program or source")
}

func TestParseLaunchArguments(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Build.Quick = true
	session := &DebugSession{cfg: cfg}

	option, err := session.parseLaunchArguments([]byte(`{
		"source": "/src/game/main.bmx",
		"apptype": "gui",
		"threaded": true,
		"bmk": "/opt/bmx/bin/bmk",
		"output": "out/game"
	}`))
	require.NoError(t, err)
	require.NotNil(t, option.Build)
	assert.Equal(t, "/src/game", option.WorkDir)
	assert.Equal(t, "/opt/bmx/bin/bmk", option.Build.BmkPath)
	assert.Equal(t, constants.AppTypeGUI, option.Build.AppType)
	assert.True(t, option.Build.Threaded)
	assert.True(t, option.Build.Quick)
	assert.True(t, option.Build.Debug)
	assert.Equal(t, "out/game", option.Build.Output)
	assert.Equal(t, cfg.Build.TimeoutDuration, option.Build.Timeout)

	option, err = session.parseLaunchArguments([]byte(`{"program":"/bin/app","source":"/src/main.bmx","noDebug":true}`))
	require.NoError(t, err)
	assert.Nil(t, option.Build)
	assert.True(t, option.NoDebug)

	option, err = session.parseLaunchArguments([]byte(`{"program":"/bin/app","source":"/src/main.bmx","build":true,"noDebug":true}`))
	require.NoError(t, err)
	require.NotNil(t, option.Build)
	assert.False(t, option.Build.Debug)
	assert.Equal(t, "bmk", option.Build.BmkPath)

	_, err = session.parseLaunchArguments([]byte(`{"cwd":"/tmp"}`))
	assert.ErrorIs(t, err, e.ErrInvalidArguments)
}

func TestStackTracePaging(t *testing.T) {
	fake := &fakeDebugger{frames: []dap.StackFrame{
		{Id: 1, Name: "Clamp"}, {Id: 3, Name: "Update"}, {Id: 5, Name: "Main"},
	}}
	c := startTestSession(t, fake)

	c.request("stackTrace", `{"threadId":1,"startFrame":1,"levels":1}`)
	response, ok := c.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	assert.Equal(t, 3, response.Body.TotalFrames)
	require.Len(t, response.Body.StackFrames, 1)
	assert.Equal(t, "Update", response.Body.StackFrames[0].Name)

	c.request("stackTrace", `{"threadId":1}`)
	response, ok = c.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	assert.Len(t, response.Body.StackFrames, 3)

	c.request("stackTrace", `{"threadId":1,"startFrame":7}`)
	response, ok = c.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	assert.Empty(t, response.Body.StackFrames)

	// 负数起点从第一个栈帧开始
	c.request("stackTrace", `{"threadId":1,"startFrame":-1,"levels":2}`)
	response, ok = c.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	require.Len(t, response.Body.StackFrames, 2)
	assert.Equal(t, "Clamp", response.Body.StackFrames[0].Name)

	// levels很大时不能溢出
	c.request("stackTrace", `{"threadId":1,"startFrame":1,"levels":9223372036854775807}`)
	response, ok = c.read().(*dap.StackTraceResponse)
	require.True(t, ok)
	require.Len(t, response.Body.StackFrames, 2)
	assert.Equal(t, "Update", response.Body.StackFrames[0].Name)
	assert.Equal(t, 3, response.Body.TotalFrames)
}

func TestInspectionRequests(t *testing.T) {
	c := startTestSession(t, &fakeDebugger{})

	c.request("threads", "")
	threads, ok := c.read().(*dap.ThreadsResponse)
	require.True(t, ok)
	assert.Equal(t, []dap.Thread{{Id: 1, Name: "thread 1"}}, threads.Body.Threads)

	c.request("scopes", `{"frameId":1}`)
	scopes, ok := c.read().(*dap.ScopesResponse)
	require.True(t, ok)
	assert.Equal(t, 2, scopes.Body.Scopes[0].VariablesReference)

	c.request("variables", `{"variablesReference":2}`)
	variables, ok := c.read().(*dap.VariablesResponse)
	require.True(t, ok)
	assert.Equal(t, "Local a", variables.Body.Variables[0].Name)

	c.request("evaluate", `{"expression":"a","frameId":1}`)
	evaluate, ok := c.read().(*dap.EvaluateResponse)
	require.True(t, ok)
	assert.Equal(t, "1", evaluate.Body.Result)
	assert.Equal(t, "Int", evaluate.Body.Type)

	c.request("evaluate", `{"expression":"missing","frameId":1}`)
	failed, ok := c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, e.ErrVariableNotFound.Error(), failed.Message)

	c.request("setBreakpoints", `{"source":{"path":"/src/main.bmx"},"breakpoints":[{"line":3}]}`)
	breakpoints, ok := c.read().(*dap.SetBreakpointsResponse)
	require.True(t, ok)
	require.Len(t, breakpoints.Body.Breakpoints, 1)
	assert.Equal(t, 3, breakpoints.Body.Breakpoints[0].Line)

	c.request("setExceptionBreakpoints", `{"filters":[]}`)
	_, ok = c.read().(*dap.SetExceptionBreakpointsResponse)
	assert.True(t, ok)
}

func TestExecutionRequests(t *testing.T) {
	fake := &fakeDebugger{}
	c := startTestSession(t, fake)

	c.request("next", `{"threadId":1}`)
	_, ok := c.read().(*dap.NextResponse)
	assert.True(t, ok)
	c.request("stepIn", `{"threadId":1}`)
	_, ok = c.read().(*dap.StepInResponse)
	assert.True(t, ok)
	c.request("stepOut", `{"threadId":1}`)
	_, ok = c.read().(*dap.StepOutResponse)
	assert.True(t, ok)

	c.request("continue", `{"threadId":1}`)
	failed, ok := c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "continue", failed.Command)

	c.request("pause", `{"threadId":1}`)
	failed, ok = c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, e.ErrPauseNotSupported.Error(), failed.Message)

	c.request("restart", "")
	_, ok = c.read().(*dap.RestartResponse)
	assert.True(t, ok)

	c.request("terminate", "")
	_, ok = c.read().(*dap.TerminateResponse)
	assert.True(t, ok)

	assert.Equal(t, []string{"next", "stepIn", "stepOut", "continue", "restart", "terminate"}, fake.getCalls())
}

func TestUnsupportedRequest(t *testing.T) {
	c := startTestSession(t, &fakeDebugger{})
	c.request("loadedSources", "")
	response, ok := c.read().(*dap.ErrorResponse)
	require.True(t, ok)
	assert.Equal(t, "loadedSources is not yet supported", response.Message)
}

func TestDisconnectEndsSession(t *testing.T) {
	fake := &fakeDebugger{}
	c := startTestSession(t, fake)
	c.request("disconnect", "")
	_, ok := c.read().(*dap.DisconnectResponse)
	require.True(t, ok)

	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		t.Fatal("session not closed after disconnect")
	}
	assert.Equal(t, []string{"terminate"}, fake.getCalls())
}
