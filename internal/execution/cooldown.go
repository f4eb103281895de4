package execution

import (
	"context"
	"sync"
	"time"
	"tradeflow/internal/consts"

	"github.com/redis/go-redis/v9"
)

// 同一品种的下单冷却期，防止刚下完单又被信号打进来

type Cooldown interface {
	// Allow 冷却期外返回 true 并立即占住窗口
	Allow(ctx context.Context, symbol string) bool
}

// redis 实现，多实例共享窗口
type redisCooldown struct {
	client *redis.Client
	window time.Duration
}

func NewRedisCooldown(client *redis.Client, window time.Duration) Cooldown {
	return &redisCooldown{client: client, window: window}
}

func (c *redisCooldown) Allow(ctx context.Context, symbol string) bool {
	if c.window <= 0 {
		return true
	}
	ok, err := c.client.SetNX(ctx, consts.TradeCooldownPrefix+symbol, 1, c.window).Result()
	if err != nil {
		// redis 不可用时放行，冷却只是防抖不是风控
		return true
	}
	return ok
}

// 进程内实现，单测和无 redis 部署用
type memoryCooldown struct {
	mu     sync.Mutex
	last   map[string]time.Time
	window time.Duration
}

func NewMemoryCooldown(window time.Duration) Cooldown {
	return &memoryCooldown{last: make(map[string]time.Time), window: window}
}

func (c *memoryCooldown) Allow(_ context.Context, symbol string) bool {
	if c.window <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if t, ok := c.last[symbol]; ok && now.Sub(t) < c.window {
		return false
	}
	c.last[symbol] = now
	return true
}
