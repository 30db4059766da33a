package cdp

import (
	"bytes"
	"html/template"
	"net/url"
	"strings"

	"pageemu/internal/config"
	"pageemu/pkg/domain"
)

// notFoundTitle 未配置标题的视图使用的页面标题
const notFoundTitle = "404"

var documentTmpl = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
{{- if .ScriptSrc}}
  <script async src="{{.ScriptSrc}}"></script>
{{- end}}
  <script>
    window.dataLayer = window.dataLayer || [];
    function gtag(){dataLayer.push(arguments);}
    gtag('js', new Date());
    gtag('config', {{.MeasurementID}}, {user_id: {{.UserID}}, transport_type: 'beacon'});
    gtag('set', 'user_properties', {crm_id: {{.UserID}}});
  </script>
</head>
<body><p>OK</p></body>
</html>
`))

// Site 被模拟的站点：每个视图对应一个带 gtag 的静态页面
type Site struct {
	scheme        string
	host          string
	origin        string
	measurementID string
	scriptURL     string
	titles        map[string]string
}

// NewSite 根据配置创建站点
func NewSite(cfg config.Site) *Site {
	titles := make(map[string]string, len(cfg.Titles))
	for view, title := range cfg.Titles {
		titles[string(domain.NormalizeView(view))] = title
	}
	scheme, host := splitOrigin(cfg.Origin)
	return &Site{
		scheme:        scheme,
		host:          host,
		origin:        scheme + "://" + host,
		measurementID: cfg.MeasurementID,
		scriptURL:     cfg.ScriptURL,
		titles:        titles,
	}
}

// splitOrigin 拆分站点地址，主机名转为小写，与浏览器地址栏中的形式一致
func splitOrigin(origin string) (scheme, host string) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return "https", strings.ToLower(strings.TrimPrefix(origin, "https://"))
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Host)
}

// URL 返回视图的完整地址，路径按浏览器规则转义
func (s *Site) URL(view domain.View) string {
	if view == domain.NoNavigation {
		view = domain.DefaultView
	}
	u := url.URL{Scheme: s.scheme, Host: s.host, Path: string(view)}
	return u.String()
}

// Pattern 返回 Fetch 拦截站点请求的 URL 模式
func (s *Site) Pattern() string {
	return s.origin + "/*"
}

// Owns 判断请求地址是否属于模拟站点
func (s *Site) Owns(rawURL string) bool {
	return rawURL == s.origin || strings.HasPrefix(rawURL, s.origin+"/")
}

// ViewOf 从请求地址解析视图
func (s *Site) ViewOf(rawURL string) domain.View {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return domain.DefaultView
	}
	return domain.NormalizeView(u.Path)
}

// Title 返回视图标题
func (s *Site) Title(view domain.View) string {
	if t, ok := s.titles[string(view)]; ok {
		return t
	}
	return notFoundTitle
}

// Document 渲染视图页面，userID 写入 gtag 配置
func (s *Site) Document(view domain.View, userID domain.UserID) ([]byte, error) {
	var scriptSrc string
	if s.measurementID != "" && s.scriptURL != "" {
		scriptSrc = s.scriptURL + "?id=" + url.QueryEscape(s.measurementID)
	}

	var buf bytes.Buffer
	err := documentTmpl.Execute(&buf, struct {
		Title         string
		ScriptSrc     string
		MeasurementID string
		UserID        string
	}{
		Title:         s.Title(view),
		ScriptSrc:     scriptSrc,
		MeasurementID: s.measurementID,
		UserID:        string(userID),
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
