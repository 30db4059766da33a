package domain

import "errors"

// 调度相关错误
var (
	ErrEmptyUserID      = errors.New("empty user id")
	ErrSchedulerClosed  = errors.New("scheduler closed")
	ErrCallbackTimeout  = errors.New("session callback timeout")
	ErrSessionNotFound  = errors.New("session not found")
	ErrEmptyEventName   = errors.New("empty event name")
	ErrSubmitRejected   = errors.New("submit rejected: worker queue full")
	ErrPageClosed       = errors.New("page closed")
	ErrScriptEvaluation = errors.New("script evaluation failed")
)

// 连接相关错误
var (
	ErrDevToolsUnreachable = errors.New("devtools unreachable")
	ErrTargetNotFound      = errors.New("target not found")
)

// 配置相关错误
var (
	ErrInvalidConfig = errors.New("invalid config")
)

// 浏览器相关错误
var (
	ErrBrowserNotFound    = errors.New("chrome executable not found")
	ErrBrowserStartFailed = errors.New("browser start failed")
)

// 数据库相关错误
var (
	ErrDatabaseNotInitialized = errors.New("database not initialized")
)
