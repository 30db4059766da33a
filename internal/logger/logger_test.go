package logger_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"pageemu/internal/config"
	"pageemu/internal/logger"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

func TestNewWithWriter_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, zerolog.DebugLevel)

	l.With("user", "u1").Info("会话已创建", "view", "/start_command")

	line := strings.TrimSpace(buf.String())
	if got := gjson.Get(line, "user").String(); got != "u1" {
		t.Errorf("got user %q, want u1", got)
	}
	if got := gjson.Get(line, "view").String(); got != "/start_command" {
		t.Errorf("got view %q", got)
	}
	if got := gjson.Get(line, "message").String(); got != "会话已创建" {
		t.Errorf("got message %q", got)
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, zerolog.WarnLevel)

	l.Debug("忽略")
	l.Info("忽略")
	if buf.Len() != 0 {
		t.Errorf("低于 warn 的日志不应输出: %s", buf.String())
	}

	l.Err(errors.New("boom"), "回收失败")
	if got := gjson.Get(buf.String(), "error").String(); got != "boom" {
		t.Errorf("got error field %q", got)
	}
}

func TestNew_NoWriters(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Log.Writer = nil

	// 无输出目标时应返回空日志记录器且不会 panic
	l := logger.New(cfg)
	l.Info("nothing")
	l.With("k", "v").Warn("nothing")
}

func TestNew_NilConfig(t *testing.T) {
	l := logger.New(nil)
	if l == nil {
		t.Fatal("New(nil) returned nil")
	}
	l.Error("nothing")
}
