package bmx_debugger

import (
	"strings"
)

// dumpSigil 变量值以$开头表示是一个对象地址，需要通过d命令导出
const dumpSigil = "$"

// BmxVariable 调试器输出的一行变量
//
//	Local x:Int=5
//	Field obj:TFoo=$0x7f3a
//	[0]=3
type BmxVariable struct {
	// Define 存储类型，例如 Local、Global、Field、Const
	Define string
	Name   string
	Type   string
	Value  string
	// HasValue 是否出现了值，Global arr[10]:String 这种变量没有值
	HasValue bool
	// NeedsDump 需要导出的对象地址（不带$），为空表示没有子变量
	NeedsDump string
}

// DisplayName 展示给用户的变量名称
func (v *BmxVariable) DisplayName() string {
	if v.Define == "" {
		return v.Name
	}
	return v.Define + " " + v.Name
}

// DisplayValue 展示给用户的变量值
func (v *BmxVariable) DisplayValue() string {
	if v.NeedsDump != "" {
		return dumpSigil + v.NeedsDump
	}
	return v.Value
}

// parseStep 变量行的解析阶段
type parseStep int

const (
	defineStep parseStep = iota
	nameStep
	typeStep
	valueStep
	dumpAddressStep
)

// ParseVariable 解析一行变量
// 如果第一个 '=' 之前出现了 ':'，说明带有类型，按照 Define -> Name -> Type -> Value 逐字符解析，
// 否则按照 name=value 的简化格式解析
func ParseVariable(line string) *BmxVariable {
	colon := strings.Index(line, ":")
	equal := strings.Index(line, "=")
	if colon >= 0 && (equal < 0 || colon < equal) {
		return parseTypedVariable(line)
	}
	return parseSimpleVariable(line)
}

// parseSimpleVariable 最后一个 '=' 之前是名称，之后是值
func parseSimpleVariable(line string) *BmxVariable {
	variable := &BmxVariable{}
	index := strings.LastIndex(line, "=")
	if index < 0 {
		variable.Name = strings.TrimSpace(line)
		return variable
	}
	variable.Name = strings.TrimSpace(line[:index])
	variable.setValue(strings.TrimSpace(line[index+1:]))
	return variable
}

func parseTypedVariable(line string) *BmxVariable {
	var define, name, typ, value, address strings.Builder
	step := defineStep
	seenEqual := false

	for _, chr := range line {
		switch step {
		case defineStep:
			switch chr {
			case '[':
				// 数组元素，名称保留括号
				name.WriteRune(chr)
				step = nameStep
			case ' ':
				step = nameStep
			case ':':
				// 没有存储类型，已经读到的就是名称
				name.WriteString(define.String())
				define.Reset()
				step = typeStep
			default:
				define.WriteRune(chr)
			}
		case nameStep:
			if strings.HasPrefix(name.String(), "[") && chr == ']' {
				name.WriteRune(chr)
				step = typeStep
				continue
			}
			if chr == ':' {
				step = typeStep
			} else {
				name.WriteRune(chr)
			}
		case typeStep:
			if chr == '=' {
				seenEqual = true
				step = valueStep
			} else if chr != ':' || typ.Len() > 0 {
				typ.WriteRune(chr)
			}
		case valueStep:
			if value.Len() == 0 {
				if chr == ' ' || chr == '\t' {
					continue
				}
				if string(chr) == dumpSigil {
					step = dumpAddressStep
					continue
				}
			}
			value.WriteRune(chr)
		case dumpAddressStep:
			address.WriteRune(chr)
		}
	}

	variable := &BmxVariable{
		Define: strings.TrimSpace(define.String()),
		Name:   strings.TrimSpace(name.String()),
		Type:   strings.TrimSpace(typ.String()),
	}
	switch {
	case step == dumpAddressStep:
		variable.setValue(dumpSigil + strings.TrimSpace(address.String()))
	case seenEqual:
		variable.setValue(strings.TrimSpace(value.String()))
	}
	return variable
}

// setValue 以$开头并且不是已经展开的对象（不以}结尾）的值需要导出
func (v *BmxVariable) setValue(value string) {
	if strings.HasPrefix(value, dumpSigil) && !strings.HasSuffix(value, "}") && len(value) > len(dumpSigil) {
		v.NeedsDump = value[len(dumpSigil):]
		v.Value = ""
		v.HasValue = false
		return
	}
	v.Value = value
	v.HasValue = true
}
