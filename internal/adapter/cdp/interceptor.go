package cdp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"pageemu/internal/logger"
	"pageemu/pkg/domain"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// Interceptor 拦截模拟站点的请求并以生成的页面响应，其他请求不受影响
type Interceptor struct {
	site   *Site
	userID domain.UserID
	log    logger.Logger
}

// NewInterceptor 创建站点拦截器
func NewInterceptor(site *Site, userID domain.UserID, l logger.Logger) *Interceptor {
	if l == nil {
		l = logger.NewNop()
	}
	return &Interceptor{site: site, userID: userID, log: l}
}

// Enable 开启指定 Client 对站点请求的拦截
func (i *Interceptor) Enable(ctx context.Context, client *cdp.Client) error {
	p := i.site.Pattern()
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	return client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns})
}

// Subscribe 订阅拦截事件流，需在 Enable 与导航之前调用
func (i *Interceptor) Subscribe(ctx context.Context, client *cdp.Client) (fetch.RequestPausedClient, error) {
	rp, err := client.Fetch.RequestPaused(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe request paused: %w", err)
	}
	return rp, nil
}

// Consume 事件消费循环，流关闭或 ctx 结束时返回
func (i *Interceptor) Consume(ctx context.Context, client *cdp.Client, rp fetch.RequestPausedClient) {
	defer rp.Close()

	for {
		ev, err := rp.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				i.log.Err(err, "接收拦截事件失败", "user", string(i.userID))
			}
			return
		}
		i.handle(ctx, client, ev)
	}
}

func (i *Interceptor) handle(ctx context.Context, client *cdp.Client, ev *fetch.RequestPausedReply) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("拦截处理 panic", "requestID", string(ev.RequestID), "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if !i.site.Owns(ev.Request.URL) {
		i.continueRequest(ctx, client, ev.RequestID)
		return
	}

	args := &fetch.FulfillRequestArgs{RequestID: ev.RequestID, ResponseCode: http.StatusNotFound}
	if ev.ResourceType == network.ResourceTypeDocument {
		view := i.site.ViewOf(ev.Request.URL)
		body, err := i.site.Document(view, i.userID)
		if err != nil {
			i.log.Err(err, "渲染页面失败", "view", string(view))
			args.ResponseCode = http.StatusInternalServerError
		} else {
			args.ResponseCode = http.StatusOK
			args.Body = body
		}
		i.log.Debug("响应模拟页面", "user", string(i.userID), "view", string(view))
	}
	args.ResponseHeaders = ToHeaderEntries(map[string]string{
		"Content-Type":  "text/html; charset=utf-8",
		"Cache-Control": "no-store",
	})

	if err := client.Fetch.FulfillRequest(ctx, args); err != nil {
		i.log.Err(err, "响应拦截请求失败", "requestID", string(ev.RequestID), "url", ev.Request.URL)
	}
}

// continueRequest 直接放行请求
func (i *Interceptor) continueRequest(ctx context.Context, client *cdp.Client, id fetch.RequestID) {
	if err := client.Fetch.ContinueRequest(ctx, &fetch.ContinueRequestArgs{RequestID: id}); err != nil {
		i.log.Err(err, "放行请求失败", "requestID", string(id))
	}
}
