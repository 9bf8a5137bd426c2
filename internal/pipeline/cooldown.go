package pipeline

import "time"

// CooldownGate enforces a minimum interval between notifications. It is owned
// by a single goroutine.
type CooldownGate struct {
	cooldown time.Duration
	last     time.Time
	notified bool
}

func NewCooldownGate(cooldown time.Duration) *CooldownGate {
	return &CooldownGate{cooldown: cooldown}
}

func (g *CooldownGate) SetCooldown(d time.Duration) {
	g.cooldown = d
}

// ShouldNotify is true before the first notification and whenever at least
// the cooldown elapsed since the last one.
func (g *CooldownGate) ShouldNotify(now time.Time) bool {
	return !g.notified || now.Sub(g.last) >= g.cooldown
}

func (g *CooldownGate) MarkNotified(now time.Time) {
	g.last = now
	g.notified = true
}
