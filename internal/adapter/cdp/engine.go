// Package cdp 基于 Chrome DevTools Protocol 实现页面模拟引擎。
// 每个用户拥有独立的浏览上下文（Cookie 互不可见），站点页面由 Fetch 拦截直接生成。
package cdp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pageemu/internal/emulator"
	"pageemu/internal/logger"
	"pageemu/pkg/domain"

	"github.com/mafredri/cdp/protocol/target"
)

// Options 引擎选项
type Options struct {
	DevToolsURL string
	Site        *Site
	Logger      logger.Logger
}

// Engine 基于 CDP 的页面模拟引擎
type Engine struct {
	clients *ClientManager
	site    *Site
	log     logger.Logger
}

var _ emulator.Engine = (*Engine)(nil)

// NewEngine 创建引擎，需调用 Connect 后使用
func NewEngine(opts Options) *Engine {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	l = l.With("component", "cdp")
	return &Engine{
		clients: NewClientManager(opts.DevToolsURL, l),
		site:    opts.Site,
		log:     l,
	}
}

// Connect 连接浏览器
func (e *Engine) Connect(ctx context.Context) error {
	return e.clients.Connect(ctx)
}

// Close 断开浏览器连接，已创建的页面需各自关闭
func (e *Engine) Close() error {
	return e.clients.Close()
}

// CreateContext 为用户创建独立浏览上下文与空白页面，并恢复 Cookie
func (e *Engine) CreateContext(ctx context.Context, userID domain.UserID, cookies []byte) (emulator.Page, error) {
	browser, err := e.clients.Browser()
	if err != nil {
		return nil, err
	}

	bc, err := browser.Target.CreateBrowserContext(ctx, target.NewCreateBrowserContextArgs())
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	// 释放浏览上下文时调用方的 ctx 可能已结束
	dispose := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return browser.Target.DisposeBrowserContext(ctx, target.NewDisposeBrowserContextArgs(bc.BrowserContextID))
	}

	created, err := browser.Target.CreateTarget(ctx,
		target.NewCreateTargetArgs("about:blank").SetBrowserContextID(bc.BrowserContextID))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create target: %w", err), dispose())
	}
	release := func(ctx context.Context) error {
		_, closeErr := browser.Target.CloseTarget(ctx, target.NewCloseTargetArgs(created.TargetID))
		return errors.Join(closeErr, dispose())
	}

	t, err := openTab(ctx, e.clients, created.TargetID, userID, e.site, e.log, release)
	if err != nil {
		return nil, errors.Join(err, release(context.Background()))
	}

	if err := t.restoreCookies(ctx, cookies); err != nil {
		// Cookie 恢复失败时以新用户身份继续
		e.log.Err(err, "恢复用户 Cookie 失败", "user", string(userID))
	}
	e.log.Debug("已创建浏览上下文", "user", string(userID), "targetID", string(created.TargetID))
	return t, nil
}
