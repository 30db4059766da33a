// Package browser 在未配置 DevTools 地址时启动本地无头 Chrome
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"pageemu/internal/logger"
	"pageemu/pkg/domain"

	"github.com/mafredri/cdp/devtool"
)

const readyTimeout = 10 * time.Second

// Options 浏览器启动选项
type Options struct {
	ExecPath            string   // 浏览器可执行文件路径
	UserDataDir         string   // 用户数据目录，为空时使用临时目录并在停止时删除
	RemoteDebuggingPort int      // CDP端口，0表示自动选择
	Headless            bool     // 是否以无头模式启动
	Args                []string // 额外启动参数
	Env                 []string // 额外环境变量
	Logger              logger.Logger
}

// Browser 已启动的浏览器进程句柄
type Browser struct {
	cmd         *exec.Cmd
	DevToolsURL string
	port        int
	tempDir     string
	log         logger.Logger
}

// Start 启动浏览器并等待CDP服务就绪。
// ctx 结束不会终止已启动的浏览器，需调用 Stop。
func Start(ctx context.Context, opts Options) (*Browser, error) {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}

	exe := opts.ExecPath
	if exe == "" {
		exe = defaultChromePath()
	}
	if exe == "" {
		return nil, domain.ErrBrowserNotFound
	}

	port := opts.RemoteDebuggingPort
	if port == 0 {
		port = 9222
	}
	port, err := pickPort(port)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBrowserStartFailed, err)
	}

	b := &Browser{DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port), port: port, log: l}
	if opts.UserDataDir == "" {
		dir, err := os.MkdirTemp("", "pageemu-chrome-")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrBrowserStartFailed, err)
		}
		opts.UserDataDir = dir
		b.tempDir = dir
	}

	args := buildLaunchArgs(port, opts)
	// 进程生命周期由 Stop 管理，ctx 只约束启动等待
	b.cmd = exec.Command(exe, args...)
	if len(opts.Env) > 0 {
		b.cmd.Env = append(os.Environ(), opts.Env...)
	}
	b.cmd.Stdout = os.Stdout
	b.cmd.Stderr = os.Stderr

	if err := b.cmd.Start(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("%w: %w", domain.ErrBrowserStartFailed, err)
	}
	l.Info("浏览器进程已启动", "exec", exe, "port", port, "headless", opts.Headless)

	waitCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := waitDevToolsReady(waitCtx, b.DevToolsURL); err != nil {
		_ = b.Stop(2 * time.Second)
		return nil, fmt.Errorf("%w: %w", domain.ErrBrowserStartFailed, err)
	}
	return b, nil
}

// Stop 关闭浏览器进程并清理临时用户目录
func (b *Browser) Stop(timeout time.Duration) error {
	if b == nil || b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	defer b.cleanup()

	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	_ = b.cmd.Process.Kill()
	select {
	case <-time.After(timeout):
		return errors.New("browser stop timeout")
	case err := <-done:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return err
	}
}

func (b *Browser) cleanup() {
	if b.tempDir == "" {
		return
	}
	if err := os.RemoveAll(b.tempDir); err != nil {
		b.log.Warn("清理浏览器临时目录失败", "dir", b.tempDir, "error", err.Error())
	}
	b.tempDir = ""
}

// defaultChromePath 返回常见的 Chrome 可执行路径（跨平台）
func defaultChromePath() string {
	for _, p := range getChromePaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, name := range []string{"chrome", "google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// getChromePaths 根据操作系统返回可能的 Chrome 路径
func getChromePaths() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{
			filepath.Join(os.Getenv("ProgramFiles"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("ProgramFiles(x86)"), "Google", "Chrome", "Application", "chrome.exe"),
			filepath.Join(os.Getenv("LOCALAPPDATA"), "Google", "Chrome", "Application", "chrome.exe"),
		}
	case "darwin":
		return []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			filepath.Join(os.Getenv("HOME"), "Applications", "Google Chrome.app", "Contents", "MacOS", "Google Chrome"),
		}
	case "linux":
		return []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	default:
		return nil
	}
}

// pickPort 尝试使用指定端口，如果被占用则选择随机空闲端口
func pickPort(preferred int) (int, error) {
	if preferred > 0 {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", preferred))
		if err == nil {
			_ = l.Close()
			return preferred, nil
		}
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// buildLaunchArgs 构建浏览器启动参数
func buildLaunchArgs(port int, opts Options) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-backgrounding-occluded-windows",
		"--disable-breakpad",
		"--disable-client-side-phishing-detection",
		"--disable-default-apps",
		"--disable-extensions",
		"--disable-hang-monitor",
		"--disable-prompt-on-repost",
		"--disable-renderer-backgrounding",
		"--disable-sync",
		"--disable-translate",
		"--metrics-recording-only",
		"--safebrowsing-disable-auto-update",
	}

	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	if opts.UserDataDir != "" {
		args = append(args, fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir))
	}
	if opts.Headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}
	return append(args, opts.Args...)
}

// waitDevToolsReady 轮询 DevTools 服务是否就绪
func waitDevToolsReady(ctx context.Context, base string) error {
	dt := devtool.New(base)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("devtools not ready after timeout: %w", ctx.Err())
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			_, err := dt.Version(reqCtx)
			cancel()
			if err == nil {
				return nil
			}
		}
	}
}
