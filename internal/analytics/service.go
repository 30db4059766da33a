// Package analytics 将聊天机器人的分析事件转换为模拟页面中的 gtag 调用。
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pageemu/internal/emulator"
	"pageemu/internal/logger"
	"pageemu/internal/pool"
	"pageemu/internal/scheduler"
	"pageemu/internal/storage/model"
	"pageemu/pkg/domain"

	"github.com/google/uuid"
)

// Admitter 会话调度入口
type Admitter interface {
	Admit(ctx context.Context, req scheduler.Request) error
}

// Recorder 投递记录
type Recorder interface {
	Record(rec model.DeliveryRecord)
}

// Options 服务选项
type Options struct {
	MeasurementID string
	EventTimeout  time.Duration // gtag event_timeout
	Logger        logger.Logger
}

// Service 分析事件投递服务
type Service struct {
	admitter Admitter
	pool     *pool.Pool
	recorder Recorder
	opts     Options
	log      logger.Logger
}

// NewService 创建服务，recorder 可为 nil
func NewService(admitter Admitter, p *pool.Pool, recorder Recorder, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = 2 * time.Second
	}
	return &Service{
		admitter: admitter,
		pool:     p,
		recorder: recorder,
		opts:     opts,
		log:      opts.Logger.With("component", "analytics"),
	}
}

// delivery 一次投递的上下文，outcome 由页面回调写入
type delivery struct {
	traceID string
	kind    domain.DeliveryKind
	userID  domain.UserID
	name    string
	view    domain.View
	start   time.Time

	confirmed atomic.Bool
}

// SendEvent 异步投递事件：打开与事件同名的视图并发送 gtag event，返回追踪ID
func (s *Service) SendEvent(ev domain.Event) (string, error) {
	if ev.UserID == "" {
		return "", domain.ErrEmptyUserID
	}
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return "", domain.ErrEmptyEventName
	}

	params, err := eventParams(ev.Params, s.opts.EventTimeout)
	if err != nil {
		return "", err
	}
	script, err := eventScript(name, params, s.opts.EventTimeout)
	if err != nil {
		return "", err
	}

	ev.Name = name
	d := s.newDelivery(domain.DeliveryEvent, ev.UserID, name, ev.ViewOf())
	return s.submit(d, func(ctx context.Context, page emulator.Page) error {
		result, err := page.Evaluate(ctx, script)
		if err != nil {
			return fmt.Errorf("send event %s: %w", name, err)
		}
		d.confirmed.Store(eventConfirmed(result))
		return nil
	})
}

// UpdateUserProperties 异步更新用户属性：复用当前页面，不触发跳转
func (s *Service) UpdateUserProperties(u domain.UserPropertiesUpdate) (string, error) {
	if u.UserID == "" {
		return "", domain.ErrEmptyUserID
	}

	props, err := userProperties(u.Properties, u.UserID)
	if err != nil {
		return "", err
	}
	script, err := propertiesScript(s.opts.MeasurementID, props, s.opts.EventTimeout)
	if err != nil {
		return "", err
	}

	d := s.newDelivery(domain.DeliveryProperties, u.UserID, "user_properties", domain.NoNavigation)
	return s.submit(d, func(ctx context.Context, page emulator.Page) error {
		result, err := page.Evaluate(ctx, script)
		if err != nil {
			return fmt.Errorf("update user properties: %w", err)
		}
		d.confirmed.Store(propertiesConfirmed(result, u.UserID))
		return nil
	})
}

func (s *Service) newDelivery(kind domain.DeliveryKind, userID domain.UserID, name string, view domain.View) *delivery {
	return &delivery{
		traceID: uuid.NewString(),
		kind:    kind,
		userID:  userID,
		name:    name,
		view:    view,
		start:   time.Now(),
	}
}

func (s *Service) submit(d *delivery, cb emulator.Callback) (string, error) {
	req := scheduler.Request{
		UserID:   d.userID,
		View:     d.view,
		Callback: cb,
		Done:     func(err error) { s.complete(d, err) },
	}

	ok := s.pool.Submit(func(ctx context.Context) {
		err := s.admitter.Admit(ctx, req)
		// 关闭后 Admit 直接拒绝，不会回调 Done
		if errors.Is(err, domain.ErrSchedulerClosed) {
			s.complete(d, err)
		}
	})
	if !ok {
		s.record(d, domain.DeliveryRejected, domain.ErrSubmitRejected)
		return d.traceID, domain.ErrSubmitRejected
	}
	return d.traceID, nil
}

func (s *Service) complete(d *delivery, err error) {
	switch {
	case err != nil:
		s.record(d, domain.DeliveryFailed, err)
	case !d.confirmed.Load():
		s.log.Warn("投递未得到 gtag 确认", "user", string(d.userID), "kind", string(d.kind), "name", d.name)
		s.record(d, domain.DeliveryFailed, errors.New("not confirmed by gtag"))
	default:
		s.record(d, domain.DeliverySent, nil)
	}
}

func (s *Service) record(d *delivery, status domain.DeliveryStatus, err error) {
	metricDeliveries.WithLabelValues(string(d.kind), string(status)).Inc()
	if s.recorder == nil {
		return
	}
	rec := model.DeliveryRecord{
		TraceID:    d.traceID,
		UserID:     string(d.userID),
		Kind:       string(d.kind),
		Name:       d.name,
		View:       string(d.view),
		Status:     string(status),
		DurationMS: time.Since(d.start).Milliseconds(),
		Timestamp:  d.start.UnixMilli(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.recorder.Record(rec)
}
