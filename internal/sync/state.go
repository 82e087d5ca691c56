package sync

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/storage"
)

// pass tracks the state of one sync pass.
type pass struct {
	entity identity.EntityType
	logger *slog.Logger
	result *PassResult

	// advanceTo is the value the watermark moves to on success. It starts at the pass start
	// time and is only ever lowered.
	advanceTo time.Time

	// holdReason, when set, keeps the stored watermark where it is.
	holdReason string
}

// newPass starts a pass at the current time in the IDLE state.
func (s *Service) newPass(e Entity, dir storage.Direction) *pass {
	startedAt := s.now().UTC()
	return &pass{
		advanceTo: startedAt,
		entity:    e.Name,
		logger:    s.logger.With("entity", e.Name, "direction", dir),
		result: &PassResult{
			Direction: dir,
			StartedAt: startedAt,
			State:     StateIdle,
		},
	}
}

// enter moves the pass to state.
func (p *pass) enter(state State) {
	p.logger.Debug("sync state changed", "from", p.result.State, "state", state)
	p.result.State = state
}

// capWatermark lowers the value the watermark advances to on success.
func (p *pass) capWatermark(t time.Time) {
	if t = t.UTC(); t.Before(p.advanceTo) {
		p.advanceTo = t
	}
}

// hold keeps the stored watermark unchanged when the pass completes.
func (p *pass) hold(reason string) {
	if p.holdReason == "" {
		p.holdReason = reason
	}
}

// fail moves the pass to FAILED, recording the state it failed in.
func (p *pass) fail(err error) *PassResult {
	failedIn := p.result.State
	p.result.State = StateFailed
	p.result.Err = fmt.Errorf("%s %s pass failed in %s: %w", p.entity, p.result.Direction, failedIn, err)

	p.logger.Error("sync pass failed", "state", failedIn, "error", err)

	return p.result
}
