package realtime

import "bbs/internal/metrics"

// DefaultQueueSize 是通知队列的默认容量。
const DefaultQueueSize = 1024

// Queue 是通知协程和渲染循环之间唯一的共享结构：单生产者、单消费者的有界队列。
type Queue struct {
	ch chan Event
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Event, size)}
}

// Push 不会阻塞。队列已满时丢弃最旧的事件，返回被丢弃的数量。
func (q *Queue) Push(ev Event) int {
	dropped := 0
	for {
		select {
		case q.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-q.ch:
			dropped++
			metrics.QueueDroppedTotal.Inc()
		default:
		}
	}
}

// Drain 非阻塞地取出当前排队的全部事件。
func (q *Queue) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-q.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (q *Queue) Len() int { return len(q.ch) }
