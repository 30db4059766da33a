// Package scheduler 负责模拟会话的准入与生命周期管理。
//
// 同一时刻存活的会话数不超过 MaxSessions；超出容量或用户会话忙碌时请求进入
// 按用户划分的 FIFO 队列，在有名额释放或用户会话空闲时被取出执行。
// 会话空闲 IdleTimeout 后被回收，回收时将 Cookie 写回存储。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pageemu/internal/admission"
	"pageemu/internal/emulator"
	"pageemu/internal/logger"
	"pageemu/pkg/domain"
)

const (
	defaultMaxSessions     = 10
	defaultIdleTimeout     = 10 * time.Second
	defaultCallbackTimeout = 30 * time.Second
	defaultTeardownTimeout = 5 * time.Second
)

// 回收原因，用于日志与指标
const (
	reasonIdle     = "idle"
	reasonFailure  = "failure"
	reasonShutdown = "shutdown"
)

// CookieStore 用户 Cookie 持久化
type CookieStore interface {
	// GetCookies 不存在时返回 nil, nil
	GetCookies(ctx context.Context, userID domain.UserID) ([]byte, error)
	SetCookies(ctx context.Context, userID domain.UserID, blob []byte) error
}

// Options 调度器选项
type Options struct {
	MaxSessions     int
	IdleTimeout     time.Duration
	CallbackTimeout time.Duration // 单次导航加回调的上限
	TeardownTimeout time.Duration // 回收时 Cookie 读写与关闭页面的上限
	Logger          logger.Logger
}

// Request 一次模拟请求
type Request struct {
	UserID   domain.UserID
	View     domain.View // domain.NoNavigation 表示不跳转
	Callback emulator.Callback

	// Done 请求执行结束或在关闭时被丢弃后调用一次。
	// Admit 因参数非法或调度器已关闭直接返回错误时不会调用。
	Done func(err error)
}

func (r Request) finish(err error) {
	if r.Done != nil {
		r.Done(err)
	}
}

// Scheduler 会话调度器
type Scheduler struct {
	opts    Options
	engine  emulator.Engine
	cookies CookieStore
	log     logger.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[domain.UserID]*session
	live     int
	queue    *admission.Queue[Request]
	closed   bool

	wg sync.WaitGroup
}

// New 创建调度器
func New(engine emulator.Engine, cookies CookieStore, opts Options) *Scheduler {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = defaultCallbackTimeout
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = defaultTeardownTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if cookies == nil {
		cookies = nopCookieStore{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:     opts,
		engine:   engine,
		cookies:  cookies,
		log:      opts.Logger.With("component", "scheduler"),
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[domain.UserID]*session),
		queue:    admission.New[Request](),
	}
}

// Admit 提交一次模拟请求。
// 可以立即执行时在当前 goroutine 中执行并返回导航或回调的错误；
// 需要排队时立即返回 nil，请求稍后在后台执行。
func (s *Scheduler) Admit(ctx context.Context, req Request) error {
	if req.UserID == "" {
		return domain.ErrEmptyUserID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metricAdmissions.WithLabelValues("rejected").Inc()
		return domain.ErrSchedulerClosed
	}

	// 已有积压时排到队尾，保证同一用户按提交顺序执行
	if s.queue.Len(req.UserID) > 0 {
		s.enqueueLocked(req)
		s.startQueuedLocked(req.UserID)
		s.mu.Unlock()
		return nil
	}

	sess, ok := s.reserveLocked(req.UserID)
	if !ok {
		s.enqueueLocked(req)
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	metricAdmissions.WithLabelValues("started").Inc()
	return s.run(ctx, sess, req)
}

// Shutdown 停止接收新请求，回收空闲会话，等待执行中的会话结束并回收。
// 队列中尚未执行的请求被丢弃。
func (s *Scheduler) Shutdown(ctx context.Context) error {
	var dropped []Request
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		dropped = s.queue.Drain()
		metricQueueDepth.Set(0)
		for _, sess := range s.sessions {
			if sess.state == domain.SessionIdle {
				s.beginTeardownLocked(sess, reasonShutdown)
			}
		}
	}
	s.mu.Unlock()

	if len(dropped) > 0 {
		s.log.Warn("调度器关闭，丢弃排队请求", "count", len(dropped))
		for _, req := range dropped {
			req.finish(domain.ErrSchedulerClosed)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		s.log.Info("调度器已关闭")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("shutdown scheduler: %w", ctx.Err())
	}
}

// Stats 返回当前会话与队列统计
func (s *Scheduler) Stats() domain.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byState := make(map[domain.SessionState]int, 3)
	for _, sess := range s.sessions {
		byState[sess.state]++
	}
	return domain.SchedulerStats{
		Live:        s.live,
		MaxSessions: s.opts.MaxSessions,
		Queued:      s.queue.Total(),
		QueuedUsers: s.queue.Users(),
		ByState:     byState,
	}
}

// State 返回用户会话状态，不存在时 ok 为 false
func (s *Scheduler) State(userID domain.UserID) (domain.SessionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return "", false
	}
	return sess.state, true
}

// reserveLocked 尝试为用户占用会话并置为 Updating。
// 用户会话忙碌或存活数已达上限时失败。
func (s *Scheduler) reserveLocked(userID domain.UserID) (*session, bool) {
	sess, exists := s.sessions[userID]
	if exists && sess.state != domain.SessionIdle {
		return nil, false
	}
	if s.live >= s.opts.MaxSessions {
		return nil, false
	}

	if exists {
		sess.stopTimer()
	} else {
		sess = newSession(userID)
		s.sessions[userID] = sess
		s.live++
		metricSessionsLive.Set(float64(s.live))
	}
	sess.state = domain.SessionUpdating
	sess.lastUsed = time.Now()
	return sess, true
}

func (s *Scheduler) enqueueLocked(req Request) {
	s.queue.Enqueue(req.UserID, req)
	metricAdmissions.WithLabelValues("queued").Inc()
	metricQueueDepth.Set(float64(s.queue.Total()))
	s.log.Debug("请求进入排队",
		"user", string(req.UserID),
		"view", string(req.View),
		"userQueued", s.queue.Len(req.UserID),
		"live", s.live)
}

// startQueuedLocked 若用户队首请求可以执行则出队并在后台执行。
// 不满足准入条件时请求留在原位，不会打乱 FIFO 顺序。
func (s *Scheduler) startQueuedLocked(userID domain.UserID) bool {
	if s.closed {
		return false
	}
	if _, ok := s.queue.Peek(userID); !ok {
		return false
	}
	sess, ok := s.reserveLocked(userID)
	if !ok {
		return false
	}
	req, _ := s.queue.Dequeue(userID)
	metricQueueDepth.Set(float64(s.queue.Total()))

	s.wg.Add(1)
	go s.runQueued(sess, req)
	return true
}

// drainLocked 名额释放后优先执行同一用户的积压，否则轮询其他用户
func (s *Scheduler) drainLocked(userID domain.UserID) {
	if s.closed {
		return
	}
	if s.startQueuedLocked(userID) {
		return
	}
	for i, n := 0, s.queue.Users(); i < n; i++ {
		next, ok := s.queue.NextStale()
		if !ok {
			return
		}
		if s.startQueuedLocked(next) {
			return
		}
	}
}

func (s *Scheduler) runQueued(sess *session, req Request) {
	defer s.wg.Done()

	metricAdmissions.WithLabelValues("drained").Inc()
	if err := s.run(s.baseCtx, sess, req); err != nil {
		s.log.Err(err, "排队请求执行失败", "user", string(req.UserID), "view", string(req.View))
	}
}

// run 执行导航与回调，结束后按结果转入 Idle 或 Finishing。
// 调用方必须已持有 Updating 状态并计入 wg。
func (s *Scheduler) run(ctx context.Context, sess *session, req Request) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.CallbackTimeout)
	defer cancel()

	err := s.execute(ctx, sess, req)
	metricRunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metricRunFailures.Inc()
		s.fail(sess, err)
	} else {
		s.release(sess)
	}
	req.finish(err)
	return err
}

// execute 在独立 goroutine 中执行，超时后不再等待，页面由回收流程关闭
func (s *Scheduler) execute(ctx context.Context, sess *session, req Request) error {
	done := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("session callback panic: %v", r)
			}
		}()
		done <- s.prepareAndCall(ctx, sess, req)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: user %s: %w", domain.ErrCallbackTimeout, sess.userID, ctx.Err())
	}
}

func (s *Scheduler) prepareAndCall(ctx context.Context, sess *session, req Request) error {
	s.mu.Lock()
	page, current := sess.page, sess.view
	s.mu.Unlock()

	fresh := page == nil
	if fresh {
		cookies, err := s.cookies.GetCookies(ctx, sess.userID)
		if err != nil {
			s.log.Err(err, "读取用户 Cookie 失败，使用空 Cookie", "user", string(sess.userID))
			cookies = nil
		}
		page, err = s.engine.CreateContext(ctx, sess.userID, cookies)
		if err != nil {
			return fmt.Errorf("create context for %s: %w", sess.userID, err)
		}
		if !s.attach(sess, page) {
			s.closeOrphan(sess.userID, page)
			return domain.ErrPageClosed
		}
	}

	if target, ok := navigationTarget(fresh, current, req.View); ok {
		if err := page.Navigate(ctx, target); err != nil {
			return fmt.Errorf("navigate %s to %s: %w", sess.userID, target, err)
		}
		metricNavigations.Inc()

		s.mu.Lock()
		sess.view = target
		s.mu.Unlock()
	}

	if req.Callback == nil {
		return nil
	}
	return req.Callback(ctx, page)
}

// attach 将新建页面挂到会话上；回收已开始时返回 false
func (s *Scheduler) attach(sess *session, page emulator.Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.detached {
		return false
	}
	sess.page = page
	return true
}

// closeOrphan 关闭回收开始后才创建完成的页面
func (s *Scheduler) closeOrphan(userID domain.UserID, page emulator.Page) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
	defer cancel()

	if err := page.Close(ctx); err != nil {
		metricTeardownErrors.WithLabelValues("close").Inc()
		s.log.Err(err, "关闭超时后创建的页面失败", "user", string(userID))
	}
}

// release 回调成功：先执行同一用户的积压，没有则进入 Idle 并启动空闲计时
func (s *Scheduler) release(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.beginTeardownLocked(sess, reasonShutdown)
		return
	}

	sess.state = domain.SessionIdle
	sess.lastUsed = time.Now()
	if s.startQueuedLocked(sess.userID) {
		return
	}
	s.armTimerLocked(sess)
}

// fail 导航或回调失败：强制回收会话
func (s *Scheduler) fail(sess *session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Warn("会话执行失败，开始回收", "user", string(sess.userID), "error", err.Error())
	s.beginTeardownLocked(sess, reasonFailure)
}

func (s *Scheduler) armTimerLocked(sess *session) {
	sess.gen++
	gen := sess.gen
	sess.timer = time.AfterFunc(s.opts.IdleTimeout, func() {
		s.onIdle(sess, gen)
	})
}

// onIdle 空闲计时器触发。会话已被重新占用或计时器已过期时不做任何事
func (s *Scheduler) onIdle(sess *session, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.sessions[sess.userID] != sess || sess.state != domain.SessionIdle || sess.gen != gen {
		s.log.Debug("忽略过期的空闲计时器", "user", string(sess.userID))
		return
	}
	sess.timer = nil
	s.beginTeardownLocked(sess, reasonIdle)
}

// beginTeardownLocked 置为 Finishing 并在后台回收。
// 调用方须持有锁，且调度器未关闭或调用方已计入 wg。
func (s *Scheduler) beginTeardownLocked(sess *session, reason string) {
	sess.stopTimer()
	sess.state = domain.SessionFinishing
	s.wg.Add(1)
	go s.teardown(sess, reason)
}

// teardown 保存 Cookie、关闭页面，无论成败都释放名额
func (s *Scheduler) teardown(sess *session, reason string) {
	defer s.wg.Done()

	s.mu.Lock()
	page := sess.page
	sess.page = nil
	sess.detached = true
	s.mu.Unlock()

	if page != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.TeardownTimeout)
		s.flushCookies(ctx, sess.userID, page)
		if err := page.Close(ctx); err != nil {
			metricTeardownErrors.WithLabelValues("close").Inc()
			s.log.Err(err, "关闭页面失败", "user", string(sess.userID))
		}
		cancel()
	}

	s.finalize(sess, reason)
}

func (s *Scheduler) flushCookies(ctx context.Context, userID domain.UserID, page emulator.Page) {
	blob, err := page.Cookies(ctx)
	if err != nil {
		metricTeardownErrors.WithLabelValues("read").Inc()
		s.log.Err(err, "读取页面 Cookie 失败", "user", string(userID))
		return
	}
	if err := s.cookies.SetCookies(ctx, userID, blob); err != nil {
		metricTeardownErrors.WithLabelValues("persist").Inc()
		s.log.Err(err, "保存用户 Cookie 失败", "user", string(userID))
	}
}

// finalize 从注册表移除会话、释放名额并尝试取出积压
func (s *Scheduler) finalize(sess *session, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sess.userID] == sess {
		delete(s.sessions, sess.userID)
	}
	s.live--
	metricSessionsLive.Set(float64(s.live))
	metricEvictions.WithLabelValues(reason).Inc()
	s.log.Info("会话已回收",
		"user", string(sess.userID),
		"reason", reason,
		"age", time.Since(sess.created).String(),
		"live", s.live)

	s.drainLocked(sess.userID)
}

type nopCookieStore struct{}

func (nopCookieStore) GetCookies(context.Context, domain.UserID) ([]byte, error) { return nil, nil }

func (nopCookieStore) SetCookies(context.Context, domain.UserID, []byte) error { return nil }
