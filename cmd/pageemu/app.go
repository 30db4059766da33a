package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pageemu/internal/adapter/cdp"
	"pageemu/internal/analytics"
	"pageemu/internal/browser"
	"pageemu/internal/config"
	"pageemu/internal/logger"
	"pageemu/internal/pool"
	"pageemu/internal/scheduler"
	"pageemu/internal/storage/db"
	"pageemu/internal/storage/model"
	"pageemu/internal/storage/repo"

	"gorm.io/gorm"
)

const (
	cookieRetention   = 30 * 24 * time.Hour
	deliveryRetention = 7 * 24 * time.Hour
	cleanupInterval   = time.Hour
	browserStopWait   = 5 * time.Second
)

// app 进程内组件的装配结果
type app struct {
	cfg        *config.Config
	log        logger.Logger
	db         *gorm.DB
	cookies    *repo.CookieRepo
	deliveries *repo.DeliveryRepo
	browser    *browser.Browser
	engine     *cdp.Engine
	sched      *scheduler.Scheduler
	pool       *pool.Pool
	events     *analytics.Service
}

// newApp 按配置装配全部组件，wrap 非 nil 时包装投递记录
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger, wrap func(analytics.Recorder) analytics.Recorder) (*app, error) {
	a := &app{cfg: cfg, log: log}

	gdb, err := db.New(db.Options{
		Name:     cfg.Sqlite.Db,
		FullPath: cfg.Sqlite.Path,
		Prefix:   cfg.Sqlite.Prefix,
		Logger:   db.NewLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = gdb
	if err := db.Migrate(gdb, &model.CookieRecord{}, &model.DeliveryRecord{}); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.cookies = repo.NewCookieRepo(gdb)
	a.deliveries = repo.NewDeliveryRepo(gdb, log, repo.DeliveryRepoOptions{})

	devTools := cfg.Browser.DevToolsURL
	if devTools == "" {
		// 浏览器进程不随信号结束，由 close 在调度器回收完会话后停止
		b, err := browser.Start(ctx, browser.Options{
			ExecPath: cfg.Browser.ExecPath,
			Headless: cfg.Browser.Headless,
			Args:     cfg.Browser.Args,
			Logger:   log,
		})
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.browser = b
		devTools = b.DevToolsURL
	}

	a.engine = cdp.NewEngine(cdp.Options{
		DevToolsURL: devTools,
		Site:        cdp.NewSite(cfg.Site),
		Logger:      log,
	})
	if err := a.engine.Connect(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	a.sched = scheduler.New(a.engine, a.cookies, scheduler.Options{
		MaxSessions:     cfg.Scheduler.MaxSessions,
		IdleTimeout:     cfg.Scheduler.IdleTimeout,
		CallbackTimeout: cfg.Scheduler.CallbackTimeout,
		TeardownTimeout: cfg.Scheduler.TeardownTimeout,
		Logger:          log,
	})

	a.pool = pool.New(cfg.Workers.Size, cfg.Workers.Queue, log)
	a.pool.Start(context.Background())

	var recorder analytics.Recorder = a.deliveries
	if wrap != nil {
		recorder = wrap(recorder)
	}
	a.events = analytics.NewService(a.sched, a.pool, recorder, analytics.Options{
		MeasurementID: cfg.Site.MeasurementID,
		EventTimeout:  time.Duration(cfg.Site.EventTimeoutMS) * time.Millisecond,
		Logger:        log,
	})
	return a, nil
}

// cleanup 定期清理过期 Cookie 与投递记录，ctx 取消时返回
func (a *app) cleanup(ctx context.Context) error {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			if n, err := a.cookies.PurgeBefore(ctx, now.Add(-cookieRetention)); err != nil {
				a.log.Err(err, "清理过期 Cookie 失败")
			} else if n > 0 {
				a.log.Info("已清理过期 Cookie", "count", n)
			}
			if n, err := a.deliveries.DeleteBefore(ctx, now.Add(-deliveryRetention).UnixMilli()); err != nil {
				a.log.Err(err, "清理投递记录失败")
			} else if n > 0 {
				a.log.Info("已清理投递记录", "count", n)
			}
		}
	}
}

// close 按依赖逆序关闭组件，未初始化的组件跳过
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.sched != nil {
		if err := a.sched.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	if a.deliveries != nil {
		a.deliveries.Stop()
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine close: %w", err))
		}
	}
	if a.browser != nil {
		if err := a.browser.Stop(browserStopWait); err != nil {
			errs = append(errs, fmt.Errorf("browser stop: %w", err))
		}
	}
	if a.db != nil {
		if err := db.Close(a.db); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// loadConfig 读取配置并创建日志组件
func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg), nil
}
