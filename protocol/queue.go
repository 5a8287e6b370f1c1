package protocol

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	e "github.com/fansqz/bmx-debugger/error"
)

// EventQueue 解析完成的事件队列，先进先出
// 调试协议是严格的一问一答，所以同一时间只允许一个等待者
type EventQueue struct {
	lock    sync.Mutex
	queue   *linkedlistqueue.Queue
	notify  chan struct{}
	waiting atomic.Bool
}

func NewEventQueue() *EventQueue {
	return &EventQueue{
		queue:  linkedlistqueue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push 添加事件，并唤醒等待者
func (q *EventQueue) Push(event *DebugEvent) {
	q.lock.Lock()
	q.queue.Enqueue(event)
	q.lock.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop 取出最早的事件
func (q *EventQueue) Pop() (*DebugEvent, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	value, ok := q.queue.Dequeue()
	if !ok {
		return nil, false
	}
	return value.(*DebugEvent), true
}

func (q *EventQueue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.queue.Size()
}

// Drain 清空队列，返回被丢弃的事件
func (q *EventQueue) Drain() []*DebugEvent {
	q.lock.Lock()
	defer q.lock.Unlock()
	answer := make([]*DebugEvent, 0, q.queue.Size())
	for _, value := range q.queue.Values() {
		answer = append(answer, value.(*DebugEvent))
	}
	q.queue.Clear()
	return answer
}

// Wait 等待下一个事件
// 超时、ctx取消或者done关闭（被调试程序退出）时都会返回，不会永久阻塞
func (q *EventQueue) Wait(ctx context.Context, timeout time.Duration, done <-chan struct{}) (*DebugEvent, error) {
	if !q.waiting.CompareAndSwap(false, true) {
		return nil, e.ErrRequestInFlight
	}
	defer q.waiting.Store(false)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if event, ok := q.Pop(); ok {
			return event, nil
		}
		select {
		case <-q.notify:
		case <-done:
			// 退出前可能刚好解析完最后一个事件
			if event, ok := q.Pop(); ok {
				return event, nil
			}
			return nil, e.ErrDebuggeeExited
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, e.ErrWaitTimeout
		}
	}
}
