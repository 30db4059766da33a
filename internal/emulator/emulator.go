// Package emulator 定义页面模拟引擎的边界接口。调度器只关心如何创建、导航、
// 执行回调与回收页面，不关心页面如何渲染。
package emulator

import (
	"context"

	"pageemu/pkg/domain"
)

// Engine 页面模拟引擎
type Engine interface {
	// CreateContext 为用户创建独立的浏览上下文，cookies 为上次回收时保存的 Cookie（可为 nil）
	CreateContext(ctx context.Context, userID domain.UserID, cookies []byte) (Page, error)
}

// Page 单个用户的浏览上下文句柄，只由持有它的会话访问
type Page interface {
	// Navigate 跳转到指定视图
	Navigate(ctx context.Context, view domain.View) error

	// Evaluate 在页面中执行脚本，等待 Promise 完成并以 JSON 返回结果
	Evaluate(ctx context.Context, expression string) (string, error)

	// Cookies 读取当前上下文的 Cookie 并序列化
	Cookies(ctx context.Context) ([]byte, error)

	// Close 关闭页面并释放上下文
	Close(ctx context.Context) error
}

// Callback 在会话就绪后针对页面执行的操作
type Callback func(ctx context.Context, page Page) error
