// Package pool 提供有界的后台任务执行：固定数量的 worker 消费缓冲队列，
// 队列已满时拒绝新任务，由调用方决定降级方式。
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pageemu/internal/logger"
)

const monitorInterval = 30 * time.Second

// Task 后台任务，ctx 为工作池的运行上下文
type Task func(ctx context.Context)

// Stats 工作池统计
type Stats struct {
	QueueLen  int   `json:"queueLen"`
	QueueCap  int   `json:"queueCap"`
	Submitted int64 `json:"submitted"`
	Dropped   int64 `json:"dropped"`
}

// Pool 并发工作池
type Pool struct {
	size     int
	queue    chan Task
	queueCap int
	log      logger.Logger

	mu        sync.RWMutex // 保护 closed 与统计字段
	closed    bool
	submitted int64
	dropped   int64

	ctx     context.Context
	workers sync.WaitGroup
	stopMon chan struct{}
	once    sync.Once
}

// New 创建工作池
// size: worker 数量，<=0 时不限制并发，每个任务单独起协程；queueCap: 缓冲队列容量（<=0 时为 size * 8）
func New(size, queueCap int, l logger.Logger) *Pool {
	if l == nil {
		l = logger.NewNop()
	}
	p := &Pool{size: size, log: l, ctx: context.Background(), stopMon: make(chan struct{})}
	if size <= 0 {
		return p
	}
	if queueCap <= 0 {
		queueCap = size * 8
	}
	p.queue = make(chan Task, queueCap)
	p.queueCap = queueCap
	return p
}

// Start 启动 worker 与状态监控，ctx 取消后 worker 不再领取新任务
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	if p.queue == nil {
		return
	}
	for i := 0; i < p.size; i++ {
		p.workers.Add(1)
		go p.worker(ctx)
	}
	go p.monitor(ctx)
}

// Stop 拒绝新任务并等待队列中已有任务执行完毕
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		if p.queue != nil {
			close(p.queue)
		}
		p.mu.Unlock()
		close(p.stopMon)
	})
	p.workers.Wait()
}

func (p *Pool) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopMon:
			return
		case <-ticker.C:
			st := p.Stats()
			if st.Submitted == 0 {
				continue
			}
			usage := float64(st.QueueLen) / float64(st.QueueCap) * 100
			dropRate := float64(st.Dropped) / float64(st.Submitted) * 100
			p.log.Info("工作池状态监控",
				"queueLen", st.QueueLen,
				"queueCap", st.QueueCap,
				"usage", fmt.Sprintf("%.1f%%", usage),
				"submitted", st.Submitted,
				"dropped", st.Dropped,
				"dropRate", fmt.Sprintf("%.2f%%", dropRate))
		}
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("任务 panic", "panic", fmt.Sprint(r))
		}
	}()
	task(ctx)
}

// Submit 提交任务，工作池已停止或队列已满时返回 false
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.submitted++

	if p.queue == nil {
		ctx := p.ctx
		p.workers.Add(1)
		go func() {
			defer p.workers.Done()
			p.run(ctx, task)
		}()
		return true
	}

	select {
	case p.queue <- task:
		return true
	default:
		p.dropped++
		p.log.Warn("工作池队列已满，任务被丢弃", "queueCap", p.queueCap, "submitted", p.submitted, "dropped", p.dropped)
		return false
	}
}

// Stats 返回工作池统计信息
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		QueueLen:  len(p.queue),
		QueueCap:  p.queueCap,
		Submitted: p.submitted,
		Dropped:   p.dropped,
	}
}

// IsEnabled 检查工作池是否限制并发
func (p *Pool) IsEnabled() bool {
	return p.queue != nil
}
