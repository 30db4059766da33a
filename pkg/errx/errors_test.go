package errx_test

import (
	"errors"
	"fmt"
	"testing"

	"pageemu/pkg/domain"
	"pageemu/pkg/errx"
)

func TestWrapAndIs(t *testing.T) {
	base := errors.New("boom")
	err := errx.Wrap(errx.CodeInternal, base, "写回失败")

	if !errx.Is(err, errx.CodeInternal) {
		t.Error("Is() 应识别错误码")
	}
	if errx.Is(err, errx.CodeBusy) {
		t.Error("Is() 不应匹配其他错误码")
	}
	if !errors.Is(err, base) {
		t.Error("Unwrap 应返回原始错误")
	}
	if got := err.Error(); got != "INTERNAL: 写回失败: boom" {
		t.Errorf("got %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errx.Code
	}{
		{"空用户", domain.ErrEmptyUserID, errx.CodeInvalidParams},
		{"包装后的空事件名", fmt.Errorf("send: %w", domain.ErrEmptyEventName), errx.CodeInvalidParams},
		{"调度器已关闭", domain.ErrSchedulerClosed, errx.CodeUnavailable},
		{"队列已满", domain.ErrSubmitRejected, errx.CodeBusy},
		{"errx 错误", errx.New(errx.CodeBusy, "busy"), errx.CodeBusy},
		{"未知错误", errors.New("x"), errx.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errx.CodeOf(tt.err); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
