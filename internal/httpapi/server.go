// Package httpapi 提供事件投递与运行状态查询的 HTTP 接口（JSON-RPC 风格）
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pageemu/internal/logger"
	"pageemu/internal/pool"
	"pageemu/internal/storage/model"
	"pageemu/internal/storage/repo"
	"pageemu/pkg/domain"
	"pageemu/pkg/errx"

	"github.com/tidwall/gjson"
)

const maxBodyBytes = 1 << 20

// EventService 事件投递
type EventService interface {
	SendEvent(ev domain.Event) (string, error)
	UpdateUserProperties(u domain.UserPropertiesUpdate) (string, error)
}

// SchedulerStats 调度器状态来源
type SchedulerStats interface {
	Stats() domain.SchedulerStats
}

// PoolStats 工作池状态来源
type PoolStats interface {
	Stats() pool.Stats
}

// DeliveryQuerier 投递记录查询
type DeliveryQuerier interface {
	Query(ctx context.Context, q repo.DeliveryQuery) ([]*model.DeliveryRecord, int64, error)
}

// Deps 接口依赖，Deliveries 为 nil 时 delivery.list 不可用
type Deps struct {
	Events     EventService
	Scheduler  SchedulerStats
	Pool       PoolStats
	Deliveries DeliveryQuerier
	Logger     logger.Logger
}

// Server HTTP 接口入口
type Server struct {
	deps Deps
	log  logger.Logger
}

// NewServer 创建 HTTP 接口服务
func NewServer(deps Deps) *Server {
	l := deps.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Server{deps: deps, log: l.With("component", "httpapi")}
}

// ServeHTTP 处理所有 RPC 请求
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, ErrInvalidRequest.withError(err))
		return
	}
	res := s.dispatch(r.Context(), &req)
	if res.Error != nil {
		s.log.Debug("请求处理失败", "method", req.Method, "code", res.Error.Code, "message", res.Error.Message)
	}
	writeResponse(w, res)
}

// Request 表示通用请求结构
type Request struct {
	Method string          `json:"method"`
	ID     string          `json:"id,omitempty"`
	Params json.RawMessage `json:"params"`
}

// Response 表示通用响应结构
type Response struct {
	ID     string       `json:"id,omitempty"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorObject `json:"error,omitempty"`
}

// ErrorObject 表示错误信息
type ErrorObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ApiError 表示内部错误类型
type ApiError struct {
	Code string
	Err  error
}

func (e ApiError) withError(err error) ApiError {
	return ApiError{Code: e.Code, Err: err}
}

var (
	// ErrInvalidRequest 无效请求
	ErrInvalidRequest = ApiError{Code: "invalid_request"}
	// ErrMethodNotFound 方法不存在
	ErrMethodNotFound = ApiError{Code: "method_not_found"}
	// ErrInvalidParams 参数错误
	ErrInvalidParams = ApiError{Code: "invalid_params"}
	// ErrBusy 投递队列已满
	ErrBusy = ApiError{Code: "busy"}
	// ErrUnavailable 服务正在关闭或依赖不可用
	ErrUnavailable = ApiError{Code: "unavailable"}
	// ErrInternal 内部错误
	ErrInternal = ApiError{Code: "internal"}
)

// fromError 按错误码归类领域错误
func fromError(err error) ApiError {
	switch errx.CodeOf(err) {
	case errx.CodeInvalidParams:
		return ErrInvalidParams.withError(err)
	case errx.CodeBusy:
		return ErrBusy.withError(err)
	case errx.CodeUnavailable:
		return ErrUnavailable.withError(err)
	default:
		return ErrInternal.withError(err)
	}
}

// deliveryResult 投递受理结果
type deliveryResult struct {
	TraceID string `json:"traceId"`
}

// statsResult 运行状态
type statsResult struct {
	Scheduler domain.SchedulerStats `json:"scheduler"`
	Pool      *pool.Stats           `json:"pool,omitempty"`
}

// deliveryListParams 投递记录查询参数
type deliveryListParams struct {
	UserID    string `json:"userId"`
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	StartTime int64  `json:"startTime"`
	EndTime   int64  `json:"endTime"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
}

// deliveryListResult 投递记录分页结果
type deliveryListResult struct {
	Items []*model.DeliveryRecord `json:"items"`
	Total int64                   `json:"total"`
}

// dispatch 根据 method 分发请求
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	var (
		result interface{}
		err    *ErrorObject
	)
	switch req.Method {
	case "event.send":
		result, err = s.handleEventSend(ctx, req.Params)
	case "user.update":
		result, err = s.handleUserUpdate(ctx, req.Params)
	case "scheduler.stats":
		result, err = s.handleSchedulerStats(ctx, req.Params)
	case "delivery.list":
		result, err = s.handleDeliveryList(ctx, req.Params)
	default:
		err = toErrorObject(ErrMethodNotFound)
	}
	return &Response{ID: req.ID, Result: result, Error: err}
}

// writeResponse 写出统一响应
func writeResponse(w http.ResponseWriter, res *Response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(res)
}

// writeError 写出错误响应
func writeError(w http.ResponseWriter, apiErr ApiError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	_ = enc.Encode(&Response{Error: toErrorObject(apiErr)})
}

// toErrorObject 转换错误为响应错误对象
func toErrorObject(e ApiError) *ErrorObject {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return &ErrorObject{Code: e.Code, Message: msg}
}

// objectParams 校验参数为 JSON 对象
func objectParams(params json.RawMessage) (gjson.Result, *ErrorObject) {
	if len(params) == 0 || !gjson.ValidBytes(params) {
		return gjson.Result{}, toErrorObject(ErrInvalidParams.withError(errors.New("params must be a JSON object")))
	}
	p := gjson.ParseBytes(params)
	if !p.IsObject() {
		return gjson.Result{}, toErrorObject(ErrInvalidParams.withError(errors.New("params must be a JSON object")))
	}
	return p, nil
}

// userIDOf 读取用户ID，聊天平台的用户ID可能是数字也可能是字符串
func userIDOf(p gjson.Result) domain.UserID {
	return domain.UserID(p.Get("userId").String())
}

// mapOf 读取对象字段，缺失时返回 nil
func mapOf(p gjson.Result, path string) (map[string]any, *ErrorObject) {
	v := p.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsObject() {
		return nil, toErrorObject(ErrInvalidParams.withError(errors.New(path + " must be an object")))
	}
	m, _ := v.Value().(map[string]any)
	return m, nil
}

// handleEventSend 处理事件投递
func (s *Server) handleEventSend(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	_ = ctx
	p, errObj := objectParams(params)
	if errObj != nil {
		return nil, errObj
	}
	eventParams, errObj := mapOf(p, "params")
	if errObj != nil {
		return nil, errObj
	}
	traceID, err := s.deps.Events.SendEvent(domain.Event{
		UserID: userIDOf(p),
		Name:   p.Get("name").String(),
		Params: eventParams,
		View:   domain.View(p.Get("view").String()),
	})
	if err != nil {
		return nil, toErrorObject(fromError(err))
	}
	return &deliveryResult{TraceID: traceID}, nil
}

// handleUserUpdate 处理用户属性更新
func (s *Server) handleUserUpdate(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	_ = ctx
	p, errObj := objectParams(params)
	if errObj != nil {
		return nil, errObj
	}
	props, errObj := mapOf(p, "properties")
	if errObj != nil {
		return nil, errObj
	}
	traceID, err := s.deps.Events.UpdateUserProperties(domain.UserPropertiesUpdate{
		UserID:     userIDOf(p),
		Properties: props,
	})
	if err != nil {
		return nil, toErrorObject(fromError(err))
	}
	return &deliveryResult{TraceID: traceID}, nil
}

// handleSchedulerStats 处理运行状态查询
func (s *Server) handleSchedulerStats(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	_ = ctx
	_ = params
	res := statsResult{Scheduler: s.deps.Scheduler.Stats()}
	if s.deps.Pool != nil {
		st := s.deps.Pool.Stats()
		res.Pool = &st
	}
	return res, nil
}

// handleDeliveryList 处理投递记录查询
func (s *Server) handleDeliveryList(ctx context.Context, params json.RawMessage) (interface{}, *ErrorObject) {
	if s.deps.Deliveries == nil {
		return nil, toErrorObject(ErrUnavailable.withError(domain.ErrDatabaseNotInitialized))
	}
	var p deliveryListParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, toErrorObject(ErrInvalidParams.withError(err))
		}
	}
	items, total, err := s.deps.Deliveries.Query(ctx, repo.DeliveryQuery{
		UserID:    p.UserID,
		Status:    p.Status,
		Kind:      p.Kind,
		StartTime: p.StartTime,
		EndTime:   p.EndTime,
		Page:      defaultInt(p.Page, 1),
		Limit:     defaultInt(p.Limit, 50),
	})
	if err != nil {
		return nil, toErrorObject(ErrInternal.withError(err))
	}
	return &deliveryListResult{Items: items, Total: total}, nil
}

// defaultInt 整型默认值
func defaultInt(v, d int) int {
	if v == 0 {
		return d
	}
	return v
}
