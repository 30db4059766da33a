package cdp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// StoredCookie 持久化的 Cookie，与浏览上下文无关
type StoredCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // 秒级时间戳，会话 Cookie 为 0
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Expired 判断非会话 Cookie 是否已过期
func (c StoredCookie) Expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires < float64(now.Unix())
}

// SetCookieArgs 转换为 Network.setCookie 参数
func (c StoredCookie) SetCookieArgs() *network.SetCookieArgs {
	args := network.NewSetCookieArgs(c.Name, c.Value).
		SetDomain(c.Domain).
		SetPath(c.Path).
		SetSecure(c.Secure).
		SetHTTPOnly(c.HTTPOnly)
	if c.Expires > 0 {
		args.SetExpires(network.TimeSinceEpoch(c.Expires))
	}
	return args
}

// EncodeCookies 将浏览器 Cookie 序列化为存储格式
func EncodeCookies(cookies []network.Cookie) ([]byte, error) {
	stored := make([]StoredCookie, 0, len(cookies))
	for _, c := range cookies {
		sc := StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if !c.Session {
			sc.Expires = c.Expires
		}
		stored = append(stored, sc)
	}
	return json.Marshal(stored)
}

// DecodeCookies 解析存储的 Cookie 并剔除已过期的条目，空数据返回 nil
func DecodeCookies(blob []byte, now time.Time) ([]StoredCookie, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var stored []StoredCookie
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, fmt.Errorf("decode cookies: %w", err)
	}
	valid := stored[:0]
	for _, c := range stored {
		if c.Name == "" || c.Expired(now) {
			continue
		}
		valid = append(valid, c)
	}
	return valid, nil
}

// ToHeaderEntries 将响应头转换为 CDP Header 条目
func ToHeaderEntries(h map[string]string) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for k, v := range h {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
	}
	return entries
}
