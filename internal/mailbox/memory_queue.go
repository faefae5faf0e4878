package mailbox

import (
	"context"
	"sync"
)

// MemoryQueue 是进程内的无界 FIFO 队列，等待可被 ctx 或 Close 打断。
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Message
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewMemoryQueue 创建一个内存队列，size 仅作为初始容量提示。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		items:  make([]Message, 0, size),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish 将消息追加到队尾，从不因容量阻塞。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive 取出队首消息。关闭后仍会先返回剩余消息，取空后返回 ErrClosed。
func (q *MemoryQueue) Receive(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = Message{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Message{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-q.done:
		case <-q.notify:
		}
	}
}

// Len 返回当前积压的消息数量。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭内存队列，可重复调用。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
