package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pageemu/internal/emulator"
	"pageemu/internal/logger"
	"pageemu/pkg/domain"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/protocol/target"
)

const loadPollInterval = 20 * time.Millisecond

// tab 单个用户的页面，实现 emulator.Page
type tab struct {
	userID  domain.UserID
	site    *Site
	log     logger.Logger
	session *TargetSession

	release func(ctx context.Context) error // 关闭目标并销毁浏览上下文

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ emulator.Page = (*tab)(nil)

func openTab(ctx context.Context, clients *ClientManager, id target.ID, userID domain.UserID,
	site *Site, l logger.Logger, release func(context.Context) error) (*tab, error) {
	session, err := clients.AttachTarget(ctx, id)
	if err != nil {
		return nil, err
	}

	t := &tab{
		userID:  userID,
		site:    site,
		log:     l.With("user", string(userID)),
		session: session,
		release: release,
	}
	client := session.Client

	interceptor := NewInterceptor(site, userID, t.log)
	paused, err := interceptor.Subscribe(session.Ctx, client)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	exceptions, err := client.Runtime.ExceptionThrown(session.Ctx)
	if err != nil {
		_ = paused.Close()
		_ = session.Close()
		return nil, fmt.Errorf("subscribe exceptions: %w", err)
	}

	setup := []func() error{
		func() error { return client.Network.Enable(ctx, nil) },
		func() error { return client.Runtime.Enable(ctx) },
		func() error { return interceptor.Enable(ctx, client) },
	}
	for _, step := range setup {
		if err := step(); err != nil {
			_ = paused.Close()
			_ = exceptions.Close()
			_ = session.Close()
			return nil, fmt.Errorf("enable domains: %w", err)
		}
	}

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		interceptor.Consume(session.Ctx, client, paused)
	}()
	go func() {
		defer t.wg.Done()
		t.watchExceptions(exceptions)
	}()
	return t, nil
}

// watchExceptions 页面脚本异常只记录，不影响会话
func (t *tab) watchExceptions(stream runtime.ExceptionThrownClient) {
	defer stream.Close()
	for {
		ev, err := stream.Recv()
		if err != nil {
			return
		}
		t.log.Warn("页面脚本异常", "text", ev.ExceptionDetails.Text, "line", ev.ExceptionDetails.LineNumber)
	}
}

// Navigate 跳转到视图并等待页面加载完成
func (t *tab) Navigate(ctx context.Context, view domain.View) error {
	if t.closed.Load() {
		return domain.ErrPageClosed
	}
	url := t.site.URL(view)
	reply, err := t.session.Client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	return t.waitLoaded(ctx, url)
}

// waitLoaded 轮询直到新文档加载完成；导航过程中旧执行上下文被销毁的错误忽略
func (t *tab) waitLoaded(ctx context.Context, url string) error {
	quoted, err := json.Marshal(url)
	if err != nil {
		return err
	}
	// 地址按浏览器自身的规则归一化后再比较
	expr := `document.readyState === "complete" && location.href === new URL(` + string(quoted) + `).href`

	ticker := time.NewTicker(loadPollInterval)
	defer ticker.Stop()
	for {
		if v, err := t.Evaluate(ctx, expr); err == nil && v == "true" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait load %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Evaluate 执行脚本并等待 Promise 完成，返回 JSON 结果
func (t *tab) Evaluate(ctx context.Context, expression string) (string, error) {
	if t.closed.Load() {
		return "", domain.ErrPageClosed
	}
	args := runtime.NewEvaluateArgs(expression).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := t.session.Client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrScriptEvaluation, reply.ExceptionDetails.Text)
	}
	return string(reply.Result.Value), nil
}

// Cookies 读取浏览上下文中的全部 Cookie
func (t *tab) Cookies(ctx context.Context) ([]byte, error) {
	if t.closed.Load() {
		return nil, domain.ErrPageClosed
	}
	reply, err := t.session.Client.Network.GetCookies(ctx, network.NewGetCookiesArgs())
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return EncodeCookies(reply.Cookies)
}

func (t *tab) restoreCookies(ctx context.Context, blob []byte) error {
	cookies, err := DecodeCookies(blob, time.Now())
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cookies {
		if _, err := t.session.Client.Network.SetCookie(ctx, c.SetCookieArgs()); err != nil {
			errs = append(errs, fmt.Errorf("set cookie %s: %w", c.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Close 断开页面连接，关闭目标并销毁浏览上下文
func (t *tab) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		connErr := t.session.Close()
		t.wg.Wait()
		t.closeErr = errors.Join(connErr, t.release(ctx))
	})
	return t.closeErr
}
