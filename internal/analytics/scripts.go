package analytics

import (
	"encoding/json"
	"fmt"
	"time"

	"pageemu/pkg/domain"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// 脚本结果
const (
	outcomeSent    = "sent"
	outcomeTimeout = "timeout"
)

// gtag 未加载时 event_callback 不会被调用，由页面内兜底计时结束 Promise
const fallbackGrace = 500 * time.Millisecond

// eventParams 在事件参数上追加 event_timeout
func eventParams(params map[string]any, timeout time.Duration) ([]byte, error) {
	raw := []byte("{}")
	if len(params) > 0 {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return nil, fmt.Errorf("marshal event params: %w", err)
		}
	}
	return sjson.SetBytes(raw, "event_timeout", timeout.Milliseconds())
}

// userProperties 在用户属性上追加 crm_id
func userProperties(props map[string]any, userID domain.UserID) ([]byte, error) {
	raw := []byte("{}")
	if len(props) > 0 {
		var err error
		if raw, err = json.Marshal(props); err != nil {
			return nil, fmt.Errorf("marshal user properties: %w", err)
		}
	}
	return sjson.SetBytes(raw, "crm_id", string(userID))
}

// eventScript 发送 gtag 事件，event_callback 触发后返回 "sent"
func eventScript(name string, params []byte, timeout time.Duration) (string, error) {
	quoted, err := json.Marshal(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`new Promise((resolve) => {
  let settled = false;
  const done = (v) => { if (!settled) { settled = true; resolve(v); } };
  const params = %s;
  params.event_callback = () => done(%q);
  setTimeout(() => done(%q), %d);
  gtag("event", %s, params);
})`, params, outcomeSent, outcomeTimeout, (timeout + fallbackGrace).Milliseconds(), quoted), nil
}

// propertiesScript 设置用户属性并通过 gtag get 读回
func propertiesScript(measurementID string, props []byte, timeout time.Duration) (string, error) {
	quoted, err := json.Marshal(measurementID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`new Promise((resolve) => {
  let settled = false;
  const done = (v) => { if (!settled) { settled = true; resolve(v === undefined ? null : v); } };
  gtag("set", "user_properties", %s);
  gtag("get", %s, "user_properties", done);
  setTimeout(() => done(null), %d);
})`, props, quoted, (timeout + fallbackGrace).Milliseconds()), nil
}

// eventConfirmed 判断事件脚本结果
func eventConfirmed(result string) bool {
	return gjson.Parse(result).String() == outcomeSent
}

// propertiesConfirmed 判断 gtag 读回的属性中 crm_id 是否与用户一致
func propertiesConfirmed(result string, userID domain.UserID) bool {
	return gjson.Get(result, "crm_id").String() == string(userID)
}
