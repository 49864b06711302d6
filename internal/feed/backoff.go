package feed

import (
	"time"

	"fractrade-executor/internal/config"
)

const (
	defaultMinDelay   = time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultMultiplier = 2.0
)

// Backoff 为有上限的指数退避，不设置总重试次数。
type Backoff struct {
	min        time.Duration
	max        time.Duration
	multiplier float64

	next     time.Duration
	attempts int
}

// NewBackoff 根据配置创建退避器，非法值回落为默认值。
func NewBackoff(cfg config.BackoffConfig) *Backoff {
	b := &Backoff{
		min:        cfg.MinDelay,
		max:        cfg.MaxDelay,
		multiplier: cfg.Multiplier,
	}
	if b.min <= 0 {
		b.min = defaultMinDelay
	}
	if b.max <= 0 {
		b.max = defaultMaxDelay
	}
	if b.min > b.max {
		b.min = b.max
	}
	if b.multiplier < 1 {
		b.multiplier = defaultMultiplier
	}
	b.next = b.min
	return b
}

// Next 返回本次应等待的时长并推进下一次的延迟。
func (b *Backoff) Next() time.Duration {
	wait := b.next
	b.attempts++

	grown := time.Duration(float64(b.next) * b.multiplier)
	if grown > b.max || grown <= 0 {
		grown = b.max
	}
	b.next = grown
	return wait
}

// Reset 将延迟恢复到下限。
func (b *Backoff) Reset() {
	b.next = b.min
	b.attempts = 0
}

// Attempts 返回自上次 Reset 以来的重试次数。
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Floor 返回退避下限。
func (b *Backoff) Floor() time.Duration {
	return b.min
}

// Ceiling 返回退避上限。
func (b *Backoff) Ceiling() time.Duration {
	return b.max
}
