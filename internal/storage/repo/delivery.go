package repo

import (
	"context"
	"sync"
	"time"

	"pageemu/internal/logger"
	"pageemu/internal/storage/model"

	"gorm.io/gorm"
)

// DeliveryRepoOptions 投递记录仓库选项
type DeliveryRepoOptions struct {
	BatchSize     int           // 缓冲达到该数量时触发写入
	FlushInterval time.Duration // 定时写入间隔
	MaxBufferSize int           // 缓冲上限，超出后丢弃最旧记录
}

// DeliveryRepo 事件投递记录仓库（异步批量写入）
type DeliveryRepo struct {
	BaseRepository[model.DeliveryRecord]
	log      logger.Logger
	opts     DeliveryRepoOptions
	buffer   []model.DeliveryRecord
	bufferMu sync.Mutex
	dropped  int64
	flushCh  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDeliveryRepo 创建投递记录仓库实例
func NewDeliveryRepo(db *gorm.DB, l logger.Logger, opts DeliveryRepoOptions) *DeliveryRepo {
	if l == nil {
		l = logger.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxBufferSize <= 0 {
		opts.MaxBufferSize = 10000
	}
	r := &DeliveryRepo{
		BaseRepository: *NewBaseRepository[model.DeliveryRecord](db),
		log:            l,
		opts:           opts,
		buffer:         make([]model.DeliveryRecord, 0, opts.BatchSize),
		flushCh:        make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	// 启动异步写入协程
	r.wg.Add(1)
	go r.asyncWriter()
	return r
}

// asyncWriter 异步批量写入协程
func (r *DeliveryRepo) asyncWriter() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			// 停止前刷新剩余数据
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		case <-r.flushCh:
			r.flush()
		}
	}
}

// flush 刷新缓冲区到数据库
func (r *DeliveryRepo) flush() {
	r.bufferMu.Lock()
	if len(r.buffer) == 0 {
		r.bufferMu.Unlock()
		return
	}
	toWrite := r.buffer
	r.buffer = make([]model.DeliveryRecord, 0, r.opts.BatchSize)
	r.bufferMu.Unlock()

	if err := r.Db.CreateInBatches(toWrite, 100).Error; err != nil {
		// 记录错误但不阻塞
		r.log.Err(err, "写入投递记录失败", "count", len(toWrite))
	}
}

// Stop 停止异步写入并刷新剩余数据，可重复调用
func (r *DeliveryRepo) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.wg.Wait()
}

// Record 记录一次投递结果（异步写入数据库）
func (r *DeliveryRepo) Record(rec model.DeliveryRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	r.bufferMu.Lock()
	if len(r.buffer) >= r.opts.MaxBufferSize {
		r.buffer = r.buffer[1:]
		r.dropped++
	}
	r.buffer = append(r.buffer, rec)
	needFlush := len(r.buffer) >= r.opts.BatchSize
	r.bufferMu.Unlock()

	if needFlush {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
}

// Dropped 返回因缓冲溢出而丢弃的记录数
func (r *DeliveryRepo) Dropped() int64 {
	r.bufferMu.Lock()
	defer r.bufferMu.Unlock()
	return r.dropped
}

// DeliveryQuery 查询选项
type DeliveryQuery struct {
	UserID    string
	Status    string // sent / failed / rejected
	Kind      string
	StartTime int64
	EndTime   int64
	Page      int
	Limit     int
}

// Apply 实现 Filter 接口
func (q DeliveryQuery) Apply(db *gorm.DB) *gorm.DB {
	if q.UserID != "" {
		db = db.Where("user_id = ?", q.UserID)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.Kind != "" {
		db = db.Where("kind = ?", q.Kind)
	}
	if q.StartTime > 0 {
		db = db.Where("timestamp >= ?", q.StartTime)
	}
	if q.EndTime > 0 {
		db = db.Where("timestamp <= ?", q.EndTime)
	}
	return db
}

// Query 查询投递历史，按时间倒序
func (r *DeliveryRepo) Query(ctx context.Context, q DeliveryQuery) ([]*model.DeliveryRecord, int64, error) {
	total, err := r.Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	list, err := r.FindAll(ctx, q, &Pagination{Page: q.Page, Limit: q.Limit}, Orders{{Field: "timestamp", Sort: "DESC"}, {Field: "id", Sort: "DESC"}})
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// DeleteBefore 删除指定时间戳（毫秒）之前的记录
func (r *DeliveryRepo) DeleteBefore(ctx context.Context, beforeMS int64) (int64, error) {
	return r.Delete(ctx, FilterFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where("timestamp < ?", beforeMS)
	}))
}
