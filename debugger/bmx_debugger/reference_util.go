package bmx_debugger

import (
	"sync"
)

// ScopeRecord 栈帧的根作用域
type ScopeRecord struct {
	Reference int
	FrameID   int
	// Name 作用域展示名称，例如 main
	Name string
	// Kind 作用域名称中空格之前的部分，例如 Function
	Kind string
}

// variableNode 变量树中的一个节点
// 所有节点平铺存放在nodes中，父子关系记录在children和parents中，不持有指针
type variableNode struct {
	variable *BmxVariable
	// reference 子变量的引用，0表示没有子变量
	reference int
}

// ReferenceUtil 引用工具类
// 栈帧id、作用域引用、变量引用都由同一个计数器分配，
// 每次获取栈帧时重置，所以引用只在下一次获取栈帧之前有效
type ReferenceUtil struct {
	mutex   sync.RWMutex
	nextRef int

	scopes      map[int]*ScopeRecord
	frameScopes map[int]int
	// cachedDump 已经拿到的原始变量行，根作用域的变量或者已经导出的对象
	cachedDump map[int][]string
	// pending 等待导出的变量
	pending map[int]*BmxVariable

	nodes []*variableNode
	// children 已经转换过的缓存行，保证重复读取得到相同的引用
	children map[int][]int
	// parents 变量引用 -> 父引用
	parents map[int]int
}

func NewReferenceUtil() *ReferenceUtil {
	r := &ReferenceUtil{}
	r.reset()
	return r
}

// Reset 丢弃所有引用，计数器从0开始
func (r *ReferenceUtil) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reset()
}

func (r *ReferenceUtil) reset() {
	r.nextRef = 0
	r.scopes = map[int]*ScopeRecord{}
	r.frameScopes = map[int]int{}
	r.cachedDump = map[int][]string{}
	r.pending = map[int]*BmxVariable{}
	r.nodes = nil
	r.children = map[int][]int{}
	r.parents = map[int]int{}
}

// NextReference 分配一个新的引用，重置后第一个引用是1
func (r *ReferenceUtil) NextReference() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.next()
}

func (r *ReferenceUtil) next() int {
	r.nextRef++
	return r.nextRef
}

// CreateScope 为栈帧创建根作用域
func (r *ReferenceUtil) CreateScope(frameID int, name string, kind string) *ScopeRecord {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	scope := &ScopeRecord{
		Reference: r.next(),
		FrameID:   frameID,
		Name:      name,
		Kind:      kind,
	}
	r.scopes[scope.Reference] = scope
	r.frameScopes[frameID] = scope.Reference
	return scope
}

// AppendScopeLine 缓存作用域中的一行变量，在获取变量时再解析
func (r *ReferenceUtil) AppendScopeLine(reference int, line string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.cachedDump[reference] = append(r.cachedDump[reference], line)
}

// GetFrameScope 根据栈帧id获取根作用域
func (r *ReferenceUtil) GetFrameScope(frameID int) (*ScopeRecord, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	reference, ok := r.frameScopes[frameID]
	if !ok {
		return nil, false
	}
	return r.scopes[reference], true
}

// CheckIsRootScope 判断是否是根作用域的引用
func (r *ReferenceUtil) CheckIsRootScope(reference int) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.scopes[reference]
	return ok
}

// HasCachedDump 判断引用是否已经有缓存的变量行
func (r *ReferenceUtil) HasCachedDump(reference int) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, ok := r.cachedDump[reference]
	return ok
}

// GetCachedVariables 把缓存的变量行转换成变量节点
// 第一次转换时才会为需要导出的变量分配引用，之后直接返回第一次的结果
func (r *ReferenceUtil) GetCachedVariables(reference int) ([]*variableNode, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if indexes, ok := r.children[reference]; ok {
		return r.collect(indexes), true
	}
	lines, ok := r.cachedDump[reference]
	if !ok {
		return nil, false
	}
	indexes := r.convert(reference, lines)
	r.children[reference] = indexes
	return r.collect(indexes), true
}

// ConvertDump 转换导出得到的变量行，结果不会缓存
func (r *ReferenceUtil) ConvertDump(reference int, lines []string) []*variableNode {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.collect(r.convert(reference, lines))
}

func (r *ReferenceUtil) convert(parent int, lines []string) []int {
	indexes := make([]int, 0, len(lines))
	for _, line := range lines {
		node := &variableNode{
			variable: ParseVariable(line),
		}
		if node.variable.NeedsDump != "" {
			node.reference = r.next()
			r.pending[node.reference] = node.variable
			r.parents[node.reference] = parent
		}
		r.nodes = append(r.nodes, node)
		indexes = append(indexes, len(r.nodes)-1)
	}
	return indexes
}

func (r *ReferenceUtil) collect(indexes []int) []*variableNode {
	answer := make([]*variableNode, 0, len(indexes))
	for _, index := range indexes {
		answer = append(answer, r.nodes[index])
	}
	return answer
}

// TakePendingVariable 取出等待导出的变量，取出后该引用不能再次导出
func (r *ReferenceUtil) TakePendingVariable(reference int) (*BmxVariable, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	variable, ok := r.pending[reference]
	if ok {
		delete(r.pending, reference)
	}
	return variable, ok
}

// ShareDump 同一个地址可能被多个变量引用，导出结果缓存到其他引用该地址的变量上
func (r *ReferenceUtil) ShareDump(address string, lines []string) []int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var shared []int
	for reference, variable := range r.pending {
		if variable.NeedsDump != address {
			continue
		}
		r.cachedDump[reference] = lines
		delete(r.pending, reference)
		shared = append(shared, reference)
	}
	return shared
}

// GetParentReference 获取引用所属的父引用，根作用域返回0
func (r *ReferenceUtil) GetParentReference(reference int) int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.parents[reference]
}
