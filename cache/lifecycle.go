package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// 空闲回收默认参数.
const (
	DefaultReapInterval = 60 * time.Second
	DefaultIdleTTL      = 30 * time.Minute
)

// Reaper 跟踪各租户最近一次请求时间,回收长期空闲租户的 L1 条目.
type Reaper struct {
	l1       *ExactCache
	interval time.Duration
	idleTTL  time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReaper creates the idle reaper.
func NewReaper(l1 *ExactCache, interval, idleTTL time.Duration, logger *zap.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		l1:       l1,
		interval: interval,
		idleTTL:  idleTTL,
		logger:   logger.With(zap.String("component", "reaper")),
		lastSeen: make(map[string]time.Time),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Observe 记录一次租户请求.
func (r *Reaper) Observe(tenant string) {
	r.mu.Lock()
	r.lastSeen[tenant] = time.Now()
	r.mu.Unlock()
}

// Start 启动后台回收循环.
func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Reaper) reap() {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []string
	for tenant, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			idle = append(idle, tenant)
		}
	}
	for _, tenant := range idle {
		delete(r.lastSeen, tenant)
	}
	r.mu.Unlock()

	for _, tenant := range idle {
		removed := r.l1.PurgeTenant(tenant)
		r.logger.Info("idle tenant reclaimed",
			zap.String("tenant", tenant),
			zap.Int("entries", removed))
	}
}

// Stop 停止回收循环并等待退出.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.doneCh
}
