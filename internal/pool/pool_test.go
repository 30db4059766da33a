package pool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pageemu/internal/pool"
)

// TestPool_Basic 验证任务能正常执行
func TestPool_Basic(t *testing.T) {
	p := pool.New(2, 50, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var count int32
	wg := sync.WaitGroup{}
	numTasks := 20

	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		ok := p.Submit(func(context.Context) {
			atomic.AddInt32(&count, 1)
			wg.Done()
		})
		if !ok {
			t.Errorf("任务 %d 提交失败", i)
			wg.Done()
		}
	}

	wg.Wait()
	if atomic.LoadInt32(&count) != int32(numTasks) {
		t.Errorf("期望执行 %d 个任务, 实际执行 %d", numTasks, count)
	}
}

// TestPool_ConcurrencyLimit 验证并发数限制
func TestPool_ConcurrencyLimit(t *testing.T) {
	size := 3
	p := pool.New(size, 20, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var activeWorkers int32
	var maxActive int32
	wg := sync.WaitGroup{}
	numTasks := 10
	block := make(chan struct{})

	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		p.Submit(func(context.Context) {
			defer wg.Done()
			current := atomic.AddInt32(&activeWorkers, 1)
			for {
				prevMax := atomic.LoadInt32(&maxActive)
				if current <= prevMax || atomic.CompareAndSwapInt32(&maxActive, prevMax, current) {
					break
				}
			}
			<-block
			atomic.AddInt32(&activeWorkers, -1)
		})
	}

	time.Sleep(100 * time.Millisecond)

	actualMax := atomic.LoadInt32(&maxActive)
	if actualMax != int32(size) {
		t.Errorf("期望最大并发数为 %d, 实际为 %d", size, actualMax)
	}

	close(block)
	wg.Wait()
	p.Stop()
}

// TestPool_Drop 验证队列满时的丢弃策略
func TestPool_Drop(t *testing.T) {
	// size=1 (1个正在跑), queueCap=1 (1个在排队), 总容量=2
	p := pool.New(1, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	block := make(chan struct{})
	defer close(block)

	if !p.Submit(func(context.Context) { <-block }) {
		t.Fatal("任务 A 提交失败")
	}

	// 等待 worker 把任务 A 从队列领走
	for i := 0; i < 50; i++ {
		if p.Stats().QueueLen == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !p.Submit(func(context.Context) { <-block }) {
		t.Fatal("任务 B 提交失败")
	}
	if p.Submit(func(context.Context) { <-block }) {
		t.Error("任务 C 应该提交失败，但成功了")
	}

	st := p.Stats()
	if st.Submitted != 3 {
		t.Errorf("期望提交计数为 3, 实际为 %d", st.Submitted)
	}
	if st.Dropped != 1 {
		t.Errorf("期望丢弃计数为 1, 实际为 %d", st.Dropped)
	}
}

// TestPool_Unbounded 验证 size=0 情况下的无限制模式
func TestPool_Unbounded(t *testing.T) {
	p := pool.New(0, 0, nil)
	if p.IsEnabled() {
		t.Error("size=0 时 IsEnabled 应该返回 false")
	}

	var count int32
	numTasks := 50
	for i := 0; i < numTasks; i++ {
		p.Submit(func(context.Context) {
			atomic.AddInt32(&count, 1)
		})
	}

	p.Stop()
	if atomic.LoadInt32(&count) != int32(numTasks) {
		t.Errorf("期望执行 %d 个任务, 实际执行 %d", numTasks, count)
	}
}

// TestPool_StopDrainsQueue 验证 Stop 会执行完队列中的任务并拒绝新任务
func TestPool_StopDrainsQueue(t *testing.T) {
	p := pool.New(1, 10, nil)
	p.Start(context.Background())

	var count int32
	for i := 0; i < 5; i++ {
		if !p.Submit(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&count, 1)
		}) {
			t.Fatalf("任务 %d 提交失败", i)
		}
	}

	p.Stop()
	if got := atomic.LoadInt32(&count); got != 5 {
		t.Errorf("Stop 后期望执行 5 个任务, 实际执行 %d", got)
	}
	if p.Submit(func(context.Context) {}) {
		t.Error("Stop 后提交应失败")
	}
}

// TestPool_PanicRecovered 验证任务 panic 不影响 worker
func TestPool_PanicRecovered(t *testing.T) {
	p := pool.New(1, 4, nil)
	p.Start(context.Background())

	done := make(chan struct{})
	p.Submit(func(context.Context) { panic("boom") })
	p.Submit(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("panic 后 worker 应继续处理任务")
	}
	p.Stop()
}

// TestPool_ContextCancel 验证 worker 随 context 取消而退出
func TestPool_ContextCancel(t *testing.T) {
	p := pool.New(2, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	cancel()
	time.Sleep(50 * time.Millisecond)

	taskRan := make(chan struct{})
	p.Submit(func(context.Context) {
		close(taskRan)
	})

	select {
	case <-taskRan:
		t.Error("Worker 应该在 context 取消后停止处理任务")
	case <-time.After(100 * time.Millisecond):
	}
}
