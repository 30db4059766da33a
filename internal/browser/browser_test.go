package browser

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"pageemu/pkg/domain"

	"github.com/mafredri/cdp/devtool"
)

func TestBuildLaunchArgs(t *testing.T) {
	args := buildLaunchArgs(9333, Options{
		UserDataDir: "/tmp/pageemu-test",
		Headless:    true,
		Args:        []string{"--lang=ru"},
	})

	for _, want := range []string{
		"--remote-debugging-port=9333",
		"--user-data-dir=/tmp/pageemu-test",
		"--headless=new",
		"--lang=ru",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("启动参数缺少 %s: %v", want, args)
		}
	}
	if args[len(args)-1] != "--lang=ru" {
		t.Errorf("额外参数应位于末尾, 实际为 %s", args[len(args)-1])
	}
}

func TestBuildLaunchArgs_Headful(t *testing.T) {
	args := buildLaunchArgs(9222, Options{})
	if slices.Contains(args, "--headless=new") {
		t.Error("未开启无头模式时不应包含 --headless")
	}
}

func TestPickPort_FallsBackWhenBusy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port

	got, err := pickPort(busy)
	if err != nil {
		t.Fatalf("选择端口失败: %v", err)
	}
	if got == busy {
		t.Errorf("端口 %d 已被占用，不应被选中", busy)
	}
}

func TestStart_ExecutableMissing(t *testing.T) {
	_, err := Start(context.Background(), Options{ExecPath: "/nonexistent/chrome"})
	if !errors.Is(err, domain.ErrBrowserStartFailed) {
		t.Errorf("期望 ErrBrowserStartFailed, 实际为 %v", err)
	}
}

// TestFakeChrome 仅在作为子进程启动时运行：模拟 Chrome 的 /json/version 接口
func TestFakeChrome(t *testing.T) {
	if os.Getenv("PAGEEMU_FAKE_CHROME") != "1" {
		return
	}
	var port string
	for _, arg := range flag.Args() {
		if v, ok := strings.CutPrefix(arg, "--remote-debugging-port="); ok {
			port = v
		}
	}
	addr := "127.0.0.1:" + port
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"Browser":"FakeChrome/1.0","webSocketDebuggerUrl":"ws://%s/devtools/browser/fake"}`, addr)
	})
	_ = http.ListenAndServe(addr, mux)
	os.Exit(0)
}

// fakeChrome 生成一个转调测试二进制的启动脚本
func fakeChrome(t *testing.T) (string, []string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("需要 /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "chrome")
	body := "#!/bin/sh\nexec \"$PAGEEMU_TEST_BINARY\" -test.run='^TestFakeChrome$' -- \"$@\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("写入启动脚本失败: %v", err)
	}
	return script, []string{"PAGEEMU_FAKE_CHROME=1", "PAGEEMU_TEST_BINARY=" + os.Args[0]}
}

// 启动完成后取消 ctx 不应结束浏览器进程，浏览器只由 Stop 关闭
func TestStart_OutlivesContext(t *testing.T) {
	exe, env := fakeChrome(t)
	ctx, cancel := context.WithCancel(context.Background())
	b, err := Start(ctx, Options{ExecPath: exe, Env: env, RemoteDebuggingPort: 19222})
	if err != nil {
		cancel()
		t.Fatalf("启动失败: %v", err)
	}
	t.Cleanup(func() {
		if b.cmd.ProcessState == nil {
			_ = b.Stop(time.Second)
		}
	})

	cancel()
	time.Sleep(300 * time.Millisecond)

	verCtx, verCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer verCancel()
	ver, err := devtool.New(b.DevToolsURL).Version(verCtx)
	if err != nil {
		t.Fatalf("ctx 取消后浏览器不应退出: %v", err)
	}
	if ver.Browser != "FakeChrome/1.0" {
		t.Errorf("版本信息错误: %s", ver.Browser)
	}

	if err := b.Stop(5 * time.Second); err != nil {
		t.Errorf("停止浏览器失败: %v", err)
	}
	if b.cmd.ProcessState == nil {
		t.Error("Stop 后进程应已退出")
	}
}
