package cdp_test

import (
	"strings"
	"testing"

	"pageemu/internal/adapter/cdp"
	"pageemu/internal/config"
	"pageemu/pkg/domain"
)

func newTestSite() *cdp.Site {
	return cdp.NewSite(config.Site{
		Origin:        "https://bot.analytics/",
		MeasurementID: "G-TEST123",
		ScriptURL:     "https://www.googletagmanager.com/gtag/js",
		Titles: map[string]string{
			"/":        "Главный экран",
			"settings": "Настройки",
		},
	})
}

func TestSite_URL(t *testing.T) {
	site := newTestSite()
	cases := map[domain.View]string{
		"/settings":         "https://bot.analytics/settings",
		domain.DefaultView:  "https://bot.analytics/",
		domain.NoNavigation: "https://bot.analytics/",
	}
	for view, want := range cases {
		if got := site.URL(view); got != want {
			t.Errorf("URL(%q) = %s, 期望 %s", view, got, want)
		}
	}
	if got := site.Pattern(); got != "https://bot.analytics/*" {
		t.Errorf("Pattern() = %s", got)
	}
}

// 含空格、西里尔字母的视图按浏览器的方式转义，且可从请求地址还原
func TestSite_URLEscapesView(t *testing.T) {
	site := cdp.NewSite(config.Site{Origin: "https://Bot.Analytics/"})
	cases := map[domain.View]string{
		"/start command": "https://bot.analytics/start%20command",
		"/привет":        "https://bot.analytics/%D0%BF%D1%80%D0%B8%D0%B2%D0%B5%D1%82",
	}
	for view, want := range cases {
		got := site.URL(view)
		if got != want {
			t.Errorf("URL(%q) = %s, 期望 %s", view, got, want)
		}
		if !site.Owns(got) {
			t.Errorf("转义后的地址应属于站点: %s", got)
		}
		if back := site.ViewOf(got); back != view {
			t.Errorf("ViewOf(%s) = %q, 期望 %q", got, back, view)
		}
	}
	if got := site.Pattern(); got != "https://bot.analytics/*" {
		t.Errorf("主机名应转为小写, Pattern() = %s", got)
	}
}

func TestSite_OwnsAndViewOf(t *testing.T) {
	site := newTestSite()
	if !site.Owns("https://bot.analytics/help_command?x=1") {
		t.Error("站点内地址应被识别")
	}
	if site.Owns("https://bot.analytics.evil.com/") {
		t.Error("相似前缀的其他域名不应被识别")
	}
	if got := site.ViewOf("https://bot.analytics/help_command?x=1"); got != "/help_command" {
		t.Errorf("ViewOf 结果错误: %s", got)
	}
	if got := site.ViewOf("https://bot.analytics"); got != domain.DefaultView {
		t.Errorf("无路径时应为首页, 实际为 %s", got)
	}
}

func TestSite_DocumentTitles(t *testing.T) {
	site := newTestSite()

	doc, err := site.Document("/settings", "u1")
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	if !strings.Contains(string(doc), "<title>Настройки</title>") {
		t.Errorf("未使用配置的标题: %s", doc)
	}

	doc, err = site.Document("/unknown", "u1")
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	if !strings.Contains(string(doc), "<title>404</title>") {
		t.Errorf("未知视图应使用 404 标题: %s", doc)
	}
}

func TestSite_DocumentGtagBootstrap(t *testing.T) {
	site := newTestSite()
	doc, err := site.Document("/", `u1"</script><script>alert(1)`)
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	html := string(doc)

	for _, want := range []string{
		`src="https://www.googletagmanager.com/gtag/js?id=G-TEST123"`,
		`gtag('config', "G-TEST123"`,
		`transport_type: 'beacon'`,
		`'user_properties', {crm_id:`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("页面缺少 %s:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<script>alert(1)") {
		t.Error("用户ID必须被转义")
	}
}

func TestSite_DocumentWithoutMeasurementID(t *testing.T) {
	site := cdp.NewSite(config.Site{Origin: "https://bot.analytics"})
	doc, err := site.Document("/", "u1")
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}
	if strings.Contains(string(doc), "<script async") {
		t.Error("未配置 measurementId 时不应加载 gtag.js")
	}
}
