package scheduler

import (
	"time"

	"pageemu/internal/emulator"
	"pageemu/pkg/domain"
)

// session 单个用户的模拟会话，所有字段只在调度器互斥锁内读写
type session struct {
	userID domain.UserID
	state  domain.SessionState
	page   emulator.Page // 首次执行时创建，回收时关闭
	view   domain.View   // 当前页面视图，空表示尚未导航

	timer *time.Timer // 仅在 Idle 状态下存在
	gen   uint64      // 计时器代数，触发时不一致则视为过期

	// detached 表示回收已接管页面句柄，迟到的页面需由创建方自行关闭
	detached bool
	created  time.Time
	lastUsed time.Time
}

func newSession(userID domain.UserID) *session {
	now := time.Now()
	return &session{
		userID:   userID,
		state:    domain.SessionUpdating,
		created:  now,
		lastUsed: now,
	}
}

// stopTimer 取消空闲计时器，并使已触发但尚未取得锁的回调失效
func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// navigationTarget 计算本次请求是否需要跳转以及跳转目标
func navigationTarget(fresh bool, current, requested domain.View) (domain.View, bool) {
	if fresh {
		if requested == domain.NoNavigation {
			return domain.DefaultView, true
		}
		return requested, true
	}
	if requested == domain.NoNavigation || requested == current {
		return "", false
	}
	return requested, true
}
