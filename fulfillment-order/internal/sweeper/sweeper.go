// Package sweeper 定时巡检未结束的订单
package sweeper

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Service is implemented by service.OrderService.
type Service interface {
	SweepUnfinished(ctx context.Context, age time.Duration, limit int) ([]repository.Order, error)
}

type Config struct {
	// Cron 表达式，支持 @every 1m 这类描述符
	Cron  string
	Age   time.Duration
	Limit int
}

// Sweeper 按 cron 计划调用 SweepUnfinished
type Sweeper struct {
	svc      Service
	cfg      Config
	schedule cron.Schedule
	log      *logger.Logger
	runs     atomic.Int64
}

func New(svc Service, cfg Config, log *logger.Logger) (*Sweeper, error) {
	schedule, err := parser.Parse(cfg.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{svc: svc, cfg: cfg, schedule: schedule, log: log}, nil
}

// Run 阻塞直到 ctx 结束，结束时等待正在执行的巡检完成
func (s *Sweeper) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(parser))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.RunOnce(ctx)
	}))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}

// RunOnce 执行一次巡检
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.runs.Add(1)
	stuck, err := s.svc.SweepUnfinished(ctx, s.cfg.Age, s.cfg.Limit)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Error("unfinished order sweep failed")
		return
	}
	if len(stuck) > 0 {
		s.log.WithContext(ctx).Warnf("unfinished orders found", map[string]interface{}{
			"count": len(stuck),
			"age":   s.cfg.Age.String(),
		})
	}
}

// Runs 已执行次数
func (s *Sweeper) Runs() int64 {
	return s.runs.Load()
}
