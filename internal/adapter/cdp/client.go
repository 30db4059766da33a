package cdp

import (
	"context"
	"fmt"
	"sync"

	"pageemu/internal/logger"
	"pageemu/pkg/domain"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
)

// 与旧版一致的连接配置：压缩 + 大写缓冲
var dialOptions = []rpcc.DialOption{
	rpcc.WithWriteBufferSize(16 * 1024 * 1024),
	rpcc.WithCompression(),
}

// TargetSession 代表一个已附着的页面目标会话
type TargetSession struct {
	ID     target.ID
	Client *cdp.Client
	Conn   *rpcc.Conn
	Ctx    context.Context    // 会话级上下文
	Cancel context.CancelFunc // 取消函数
}

// Close 先取消 context，再关闭连接
func (s *TargetSession) Close() error {
	if s.Cancel != nil {
		s.Cancel()
	}
	if s.Conn != nil {
		return s.Conn.Close()
	}
	return nil
}

// ClientManager 管理浏览器级连接，并负责附着到各个页面目标
type ClientManager struct {
	devtoolsURL string
	log         logger.Logger

	mu      sync.RWMutex
	conn    *rpcc.Conn
	browser *cdp.Client
}

// NewClientManager 创建 CDP 客户端管理器
func NewClientManager(url string, l logger.Logger) *ClientManager {
	if l == nil {
		l = logger.NewNop()
	}
	return &ClientManager{devtoolsURL: url, log: l}
}

// TestConnection 测试与浏览器的连通性
func (m *ClientManager) TestConnection(ctx context.Context) error {
	dt := devtool.New(m.devtoolsURL)
	if _, err := dt.Version(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDevToolsUnreachable, m.devtoolsURL, err)
	}
	return nil
}

// Connect 建立浏览器级连接，用于创建与销毁浏览上下文
func (m *ClientManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		return nil
	}

	dt := devtool.New(m.devtoolsURL)
	ver, err := dt.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrDevToolsUnreachable, m.devtoolsURL, err)
	}

	conn, err := rpcc.DialContext(ctx, ver.WebSocketDebuggerURL, dialOptions...)
	if err != nil {
		m.log.Err(err, "浏览器连接建立失败", "wsURL", ver.WebSocketDebuggerURL)
		return fmt.Errorf("%w: %w", domain.ErrDevToolsUnreachable, err)
	}

	m.conn = conn
	m.browser = cdp.NewClient(conn)
	m.log.Info("已连接浏览器", "browser", ver.Browser)
	return nil
}

// Browser 返回浏览器级客户端，未连接时返回错误
func (m *ClientManager) Browser() (*cdp.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.browser == nil {
		return nil, fmt.Errorf("%w: not connected", domain.ErrDevToolsUnreachable)
	}
	return m.browser, nil
}

// AttachTarget 附着到一个指定的页面目标，返回独立的页面连接
func (m *ClientManager) AttachTarget(ctx context.Context, id target.ID) (*TargetSession, error) {
	dt := devtool.New(m.devtoolsURL)
	targets, err := dt.List(ctx)
	if err != nil {
		m.log.Err(err, "获取 Target 列表失败")
		return nil, fmt.Errorf("%w: %w", domain.ErrDevToolsUnreachable, err)
	}

	var found *devtool.Target
	for _, t := range targets {
		if t != nil && t.ID == string(id) {
			found = t
			break
		}
	}
	if found == nil {
		m.log.Warn("Target 未找到", "targetID", string(id))
		return nil, fmt.Errorf("%w: %s", domain.ErrTargetNotFound, id)
	}

	// 会话级 Context 不随调用方的请求 Context 结束
	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	conn, err := rpcc.DialContext(ctx, found.WebSocketDebuggerURL, dialOptions...)
	if err != nil {
		sessionCancel()
		m.log.Err(err, "CDP 连接建立失败", "targetID", string(id), "wsURL", found.WebSocketDebuggerURL)
		return nil, err
	}

	m.log.Debug("Target 附着成功", "targetID", string(id))
	return &TargetSession{
		ID:     id,
		Client: cdp.NewClient(conn),
		Conn:   conn,
		Ctx:    sessionCtx,
		Cancel: sessionCancel,
	}, nil
}

// Close 关闭浏览器级连接
func (m *ClientManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.browser = nil
	return err
}
