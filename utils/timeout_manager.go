package utils

import (
	"context"
	"sync"
	"time"

	"github.com/fansqz/bmx-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行Cancel，就会执行fun函数
// 同一时间只有一个计时，重新Start会取消上一次的计时
type TimeoutManager struct {
	lock   sync.Mutex
	cancel chan struct{}
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, fun func()) {
	t.lock.Lock()
	if t.cancel != nil {
		close(t.cancel)
	}
	cancel := make(chan struct{})
	t.cancel = cancel
	t.lock.Unlock()

	gosync.Go(ctx, func(ctx context.Context) {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			logrus.Infof("[TimeoutManager] timer expired, performing action")
			t.lock.Lock()
			if t.cancel == cancel {
				t.cancel = nil
			}
			t.lock.Unlock()
			fun()
		case <-cancel:
		case <-ctx.Done():
		}
	})
}

// Cancel 取消计时，没有计时的时候什么都不做
func (t *TimeoutManager) Cancel() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancel != nil {
		logrus.Debugf("[TimeoutManager] cancel")
		close(t.cancel)
		t.cancel = nil
	}
}
