package domain

import "strings"

// UserID 终端用户ID（聊天机器人侧的用户标识）
type UserID string

// View 模拟站点中的视图标识（URL 路径）
type View string

const (
	// NoNavigation 不触发页面跳转，仅复用当前上下文（用于用户属性更新）
	NoNavigation View = ""
	// DefaultView 新建页面且未指定视图时打开的首页
	DefaultView View = "/"
)

// SessionState 会话生命周期状态
type SessionState string

const (
	SessionUpdating  SessionState = "updating"  // 正在导航或执行回调
	SessionIdle      SessionState = "idle"      // 空闲，等待复用或淘汰
	SessionFinishing SessionState = "finishing" // 正在回收（写回 Cookie、关闭页面）
)

// DeliveryStatus 事件投递结果
type DeliveryStatus string

const (
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRejected DeliveryStatus = "rejected" // 工作池已满，未进入调度
)

// DeliveryKind 投递类型
type DeliveryKind string

const (
	DeliveryEvent      DeliveryKind = "event"
	DeliveryProperties DeliveryKind = "user_properties"
)

// Event 聊天机器人产生的分析事件
type Event struct {
	UserID UserID         `json:"userId"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	View   View           `json:"view,omitempty"` // 为空时使用与事件同名的视图
}

// UserPropertiesUpdate 用户属性更新事件
type UserPropertiesUpdate struct {
	UserID     UserID         `json:"userId"`
	Properties map[string]any `json:"properties"`
}

// SchedulerStats 调度器运行状态快照
type SchedulerStats struct {
	Live        int                  `json:"live"`
	MaxSessions int                  `json:"maxSessions"`
	Queued      int                  `json:"queued"`
	QueuedUsers int                  `json:"queuedUsers"`
	ByState     map[SessionState]int `json:"byState"`
}

// NormalizeView 规范化视图标识：去除空白、查询串与片段，并保证以 / 开头
// 空字符串保持为 NoNavigation
func NormalizeView(s string) View {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoNavigation
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return View(s)
}

// EventView 返回事件对应的视图，未指定视图时每个事件名即一个页面
func EventView(name string) View {
	return NormalizeView(name)
}

// ViewOf 返回事件要打开的视图
func (e Event) ViewOf() View {
	if v := NormalizeView(string(e.View)); v != NoNavigation {
		return v
	}
	return EventView(e.Name)
}
