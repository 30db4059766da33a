package repo

import (
	"context"
	"time"

	"pageemu/internal/storage/model"
	"pageemu/pkg/domain"

	"gorm.io/gorm"
)

// CookieRepo 用户 Cookie 仓库
type CookieRepo struct {
	BaseRepository[model.CookieRecord]
}

// NewCookieRepo 创建 Cookie 仓库实例
func NewCookieRepo(db *gorm.DB) *CookieRepo {
	return &CookieRepo{
		BaseRepository: *NewBaseRepository[model.CookieRecord](db),
	}
}

// byUser 按用户筛选
func byUser(userID domain.UserID) Filter {
	return FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", string(userID))
	})
}

// GetCookies 获取用户 Cookie，不存在时返回 nil
func (r *CookieRepo) GetCookies(ctx context.Context, userID domain.UserID) ([]byte, error) {
	rec, err := r.FindOne(ctx, byUser(userID))
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.CookieJSON == "" {
		return nil, nil
	}
	return []byte(rec.CookieJSON), nil
}

// SetCookies 保存用户 Cookie（存在则更新，不存在则创建）
func (r *CookieRepo) SetCookies(ctx context.Context, userID domain.UserID, blob []byte) error {
	rec := model.CookieRecord{
		UserID:     string(userID),
		CookieJSON: string(blob),
		UpdatedAt:  time.Now(),
	}
	return r.Db.WithContext(ctx).Save(&rec).Error
}

// DeleteCookies 删除用户 Cookie
func (r *CookieRepo) DeleteCookies(ctx context.Context, userID domain.UserID) error {
	_, err := r.Delete(ctx, byUser(userID))
	return err
}

// PurgeBefore 删除指定时间之前未更新的 Cookie
func (r *CookieRepo) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.Delete(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("updated_at < ?", before)
	}))
}
