package usecase

import (
	"time"

	"shortnotes/internal/domain"
)

const defaultTickInterval = time.Second

func (c *SessionController) runTicker(active *activeSession) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-active.tickStop:
			return
		case <-ticker.C:
			c.publishTick(active)
		}
	}
}

// publishTick reads only the session start time; it never touches transcript state.
func (c *SessionController) publishTick(active *activeSession) {
	active.tickMu.Lock()
	defer active.tickMu.Unlock()
	if !active.ticking {
		return
	}

	elapsed := c.clock().Sub(active.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	c.events.ElapsedTick(domain.Tick{
		SessionID: active.id,
		Elapsed:   elapsed,
		Display:   domain.FormatElapsed(elapsed),
	})
}
