package model

import (
	"time"
)

// CookieRecord 用户 Cookie 表（模拟会话回收时写回，新建会话时恢复）
type CookieRecord struct {
	UserID     string    `gorm:"primaryKey" json:"userId"`    // 用户ID
	CookieJSON string    `gorm:"type:text" json:"cookieJson"` // 序列化后的 Cookie 列表
	UpdatedAt  time.Time `gorm:"index" json:"updatedAt"`      // 更新时间
}

// DeliveryRecord 事件投递记录表
type DeliveryRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`               // 主键
	TraceID    string    `gorm:"uniqueIndex;size:36" json:"traceId"` // 投递追踪ID
	UserID     string    `gorm:"index" json:"userId"`                // 用户ID
	Kind       string    `json:"kind"`                               // event / user_properties
	Name       string    `json:"name"`                               // 事件名
	View       string    `json:"view"`                               // 目标视图
	Status     string    `gorm:"index" json:"status"`                // sent / failed / rejected
	Error      string    `gorm:"type:text" json:"error,omitempty"`   // 失败原因
	DurationMS int64     `json:"durationMs"`                         // 从提交到完成的耗时
	Timestamp  int64     `gorm:"index" json:"timestamp"`             // 提交时间（毫秒）
	CreatedAt  time.Time `json:"createdAt"`                          // 写入时间
}
