package utils

import "sync"

const (
	// NotStarted 被调试程序还没有启动
	NotStarted = "notStarted"
	// Stopped 被调试程序停在调试器提示符，可以查看栈帧和变量
	Stopped = "stopped"
	// Running 被调试程序运行中
	Running = "running"
	// Finish 被调试程序已经退出
	Finish = "finish"
)

// StatusManager 记录调试器的状态的
// NotStarted -> Running -> Stopped -> Running -> ... -> Finish
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: NotStarted,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

// CompareAndSet 当前状态为from中的某一个时才切换到to
func (s *StatusManager) CompareAndSet(to string, from ...string) bool {
	defer s.lock.Unlock()
	s.lock.Lock()
	for _, status := range from {
		if s.status == status {
			s.status = to
			return true
		}
	}
	return false
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
