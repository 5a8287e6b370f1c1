package bmx_debugger

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fansqz/bmx-debugger/constants"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	frameLinePrefix = "@"
	positionOpen    = "<"
	positionClose   = ">"
)

// BmxOutputUtil 处理调试器输出的工具
type BmxOutputUtil struct {
	referenceUtil *ReferenceUtil
}

func NewBmxOutputUtil(referenceUtil *ReferenceUtil) *BmxOutputUtil {
	return &BmxOutputUtil{
		referenceUtil: referenceUtil,
	}
}

// ParseStackTraceOutput 解析StackTrace事件
// 调试器先输出最外层的栈帧：
//
//	@/src/main.bmx<12,1>
//	Function main
//	Local x:Int=5
//	@/src/foo.bmx<3,5>
//	Function foo
//	Local s:String="bar"
//
// 返回的栈帧是反过来的，下标0是当前所在的栈帧。
// 变量行不会在这里解析，只按照作用域缓存起来
func (b *BmxOutputUtil) ParseStackTraceOutput(data []string) []dap.StackFrame {
	frames := make([]dap.StackFrame, 0)
	var current *dap.StackFrame
	var lastScope *ScopeRecord

	for _, line := range data {
		if current == nil {
			if strings.HasPrefix(line, frameLinePrefix) && strings.HasSuffix(line, positionClose) {
				frame, ok := b.parseFrameLine(line)
				if !ok {
					logrus.Warnf("[BmxOutputUtil] invalid frame line %q", line)
					lastScope = nil
					continue
				}
				current = frame
				lastScope = nil
				continue
			}
			if lastScope == nil {
				logrus.Debugf("[BmxOutputUtil] drop line outside scope %q", line)
				continue
			}
			b.referenceUtil.AppendScopeLine(lastScope.Reference, line)
			continue
		}

		// 栈帧的下一行是作用域名称
		name, kind := splitScopeName(line)
		lastScope = b.referenceUtil.CreateScope(current.Id, name, kind)
		current.Name = name
		frames = append(frames, *current)
		current = nil
	}
	if current != nil {
		logrus.Warnf("[BmxOutputUtil] frame %s has no scope line", current.Source.Path)
	}

	reverseFrames(frames)
	return frames
}

// parseFrameLine @<path><<line>,<column>>
func (b *BmxOutputUtil) parseFrameLine(line string) (*dap.StackFrame, bool) {
	index := strings.LastIndex(line, positionOpen)
	if index < len(frameLinePrefix) {
		return nil, false
	}
	sourcePath := line[len(frameLinePrefix):index]
	position := strings.Split(line[index+1:len(line)-len(positionClose)], ",")
	frame := &dap.StackFrame{
		Id: b.referenceUtil.NextReference(),
		Source: &dap.Source{
			Name: filepath.Base(sourcePath),
			Path: sourcePath,
		},
	}
	frame.Line = parsePosition(position, 0)
	frame.Column = parsePosition(position, 1)
	return frame, true
}

func parsePosition(position []string, index int) int {
	if index >= len(position) {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(position[index]))
	if err != nil {
		logrus.Warnf("[BmxOutputUtil] invalid position %q", position[index])
		return 0
	}
	return value
}

// splitScopeName "Function main" -> ("main", "Function")
func splitScopeName(line string) (string, string) {
	index := strings.Index(line, " ")
	if index < 0 {
		return line, ""
	}
	return line[index+1:], line[:index]
}

func reverseFrames(frames []dap.StackFrame) {
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
}

// ConvertVariables 转换成dap变量
func (b *BmxOutputUtil) ConvertVariables(nodes []*variableNode) []dap.Variable {
	answer := make([]dap.Variable, 0, len(nodes))
	for _, node := range nodes {
		answer = append(answer, convertVariable(node))
	}
	return answer
}

func convertVariable(node *variableNode) dap.Variable {
	variable := node.variable
	return dap.Variable{
		Name:               variable.DisplayName(),
		Value:              variable.DisplayValue(),
		Type:               variable.Type,
		EvaluateName:       variable.Name,
		VariablesReference: node.reference,
	}
}

// NoVariables 根作用域没有变量时的占位变量
func NoVariables() []dap.Variable {
	return []dap.Variable{{Name: constants.NoVariablesName}}
}
