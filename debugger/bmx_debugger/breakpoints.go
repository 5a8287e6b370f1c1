package bmx_debugger

import (
	"bufio"
	"os"
	"strings"

	"github.com/google/go-dap"
)

const debugStopKeyword = "debugstop"

const unverifiedMessage = "BlitzMax only stops at DebugStop statements, add DebugStop to this line"

// LineIsDebugStop 判断一行代码是否是DebugStop语句，不区分大小写
func LineIsDebugStop(line string) bool {
	text := strings.TrimLeft(line, " \t")
	if len(text) < len(debugStopKeyword) || !strings.EqualFold(text[:len(debugStopKeyword)], debugStopKeyword) {
		return false
	}
	if len(text) == len(debugStopKeyword) {
		return true
	}
	switch text[len(debugStopKeyword)] {
	case ';', ' ', '\t', '\r':
		return true
	}
	return false
}

// checkBreakpoints blitzmax调试器不支持动态断点，只有DebugStop语句所在的行才会停下
// 读取源文件失败时所有断点都不生效
func checkBreakpoints(source dap.Source, breakpoints []dap.SourceBreakpoint) []dap.Breakpoint {
	debugStopLines := map[int]bool{}
	if file, err := os.Open(source.Path); err == nil {
		scanner := bufio.NewScanner(file)
		for line := 1; scanner.Scan(); line++ {
			if LineIsDebugStop(scanner.Text()) {
				debugStopLines[line] = true
			}
		}
		_ = file.Close()
	}

	answer := make([]dap.Breakpoint, len(breakpoints))
	for i, breakpoint := range breakpoints {
		answer[i] = dap.Breakpoint{
			Verified: debugStopLines[breakpoint.Line],
			Line:     breakpoint.Line,
			Source:   &source,
		}
		if !answer[i].Verified {
			answer[i].Message = unverifiedMessage
		}
	}
	return answer
}
