package domain_test

import (
	"testing"

	"pageemu/pkg/domain"
)

func TestNormalizeView(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want domain.View
	}{
		{"空字符串保持不跳转", "", domain.NoNavigation},
		{"仅空白保持不跳转", "   ", domain.NoNavigation},
		{"补齐前导斜杠", "settings", "/settings"},
		{"已带斜杠", "/leaderboard_view", "/leaderboard_view"},
		{"去除查询串", "/timetable_view?week=3", "/timetable_view"},
		{"去除片段", "help_command#top", "/help_command"},
		{"首页", "/", domain.DefaultView},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := domain.NormalizeView(tt.in); got != tt.want {
				t.Errorf("NormalizeView(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEventView(t *testing.T) {
	if got := domain.EventView("start_command"); got != "/start_command" {
		t.Errorf("got %q, want /start_command", got)
	}
	if got := domain.EventView(""); got != domain.NoNavigation {
		t.Errorf("空事件名应返回 NoNavigation，实际为 %q", got)
	}
}

func TestEvent_ViewOf(t *testing.T) {
	ev := domain.Event{UserID: "u1", Name: "start_command"}
	if got := ev.ViewOf(); got != "/start_command" {
		t.Errorf("未指定视图时应使用事件名，实际为 %q", got)
	}
	ev.View = "settings?tab=1"
	if got := ev.ViewOf(); got != "/settings" {
		t.Errorf("指定视图应优先，实际为 %q", got)
	}
}
