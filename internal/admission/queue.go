// Package admission 实现按用户划分的待执行请求队列与跨用户的轮转（stale rotation）。
//
// 每个用户一个 FIFO，保证同一用户的请求按提交顺序执行；轮转环中只包含仍有积压请求的用户，
// 调度器在释放出容量后按轮询方式从中挑选用户，避免单个高频用户长期占用积压通道。
//
// Queue 本身不加锁，由调度器在其互斥锁内访问。
package admission

import (
	"pageemu/pkg/domain"

	"github.com/eapache/queue"
)

// Queue 按用户划分的准入队列
type Queue[T any] struct {
	fifos    map[domain.UserID]*queue.Queue
	rotation rotation
	total    int
}

// New 创建空队列
func New[T any]() *Queue[T] {
	return &Queue[T]{
		fifos:    make(map[domain.UserID]*queue.Queue),
		rotation: newRotation(),
	}
}

// Enqueue 将请求追加到用户队列尾部，用户首次出现积压时加入轮转
func (q *Queue[T]) Enqueue(userID domain.UserID, item T) {
	fifo, ok := q.fifos[userID]
	if !ok {
		fifo = queue.New()
		q.fifos[userID] = fifo
		q.rotation.add(userID)
	}
	fifo.Add(item)
	q.total++
}

// Dequeue 弹出用户最早的请求，队列清空后从轮转中移除该用户
func (q *Queue[T]) Dequeue(userID domain.UserID) (T, bool) {
	var zero T
	fifo, ok := q.fifos[userID]
	if !ok || fifo.Length() == 0 {
		return zero, false
	}
	item := fifo.Remove().(T)
	q.total--
	if fifo.Length() == 0 {
		delete(q.fifos, userID)
		q.rotation.remove(userID)
	}
	return item, true
}

// Peek 查看用户最早的请求但不移除
func (q *Queue[T]) Peek(userID domain.UserID) (T, bool) {
	var zero T
	fifo, ok := q.fifos[userID]
	if !ok || fifo.Length() == 0 {
		return zero, false
	}
	return fifo.Peek().(T), true
}

// Len 返回用户的积压请求数
func (q *Queue[T]) Len(userID domain.UserID) int {
	if fifo, ok := q.fifos[userID]; ok {
		return fifo.Length()
	}
	return 0
}

// Total 返回所有用户的积压请求总数
func (q *Queue[T]) Total() int { return q.total }

// Users 返回仍有积压请求的用户数
func (q *Queue[T]) Users() int { return q.rotation.len() }

// NextStale 按轮询顺序返回一个仍有积压请求的用户
func (q *Queue[T]) NextStale() (domain.UserID, bool) {
	return q.rotation.next()
}

// Drain 清空所有队列，按用户加入轮转的顺序返回被丢弃的请求
func (q *Queue[T]) Drain() []T {
	dropped := make([]T, 0, q.total)
	for _, userID := range q.rotation.order {
		fifo := q.fifos[userID]
		for fifo.Length() > 0 {
			dropped = append(dropped, fifo.Remove().(T))
		}
	}
	q.fifos = make(map[domain.UserID]*queue.Queue)
	q.rotation = newRotation()
	q.total = 0
	return dropped
}
