package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/rentwise/riskd/internal/compliance"
	"github.com/rentwise/riskd/internal/enforcement"
	"github.com/rentwise/riskd/internal/profile"
	"github.com/rentwise/riskd/internal/realtime"
	"github.com/rentwise/riskd/internal/violation"
)

// eventPublisher forwards domain events to the realtime hub, tagging each
// with its product and booking so subscribers can filter.
type eventPublisher struct {
	hub        *realtime.Hub
	logger     *slog.Logger
	violations enforcement.ViolationLookup
}

func (e *eventPublisher) EmitProfile(event string, p *profile.RiskProfile) {
	e.hub.Publish(realtime.EventType(event), p.ProductID, "", p)
}

func (e *eventPublisher) EmitViolation(event string, v *violation.Violation) {
	e.hub.Publish(realtime.EventType(event), v.ProductID, v.BookingID, v)
}

func (e *eventPublisher) EmitCompliance(event string, c *compliance.Check) {
	e.hub.Publish(realtime.EventType(event), c.ProductID, c.BookingID, c)
}

// EmitEnforcement resolves the action's violation for its routing ids.
func (e *eventPublisher) EmitEnforcement(event string, a *enforcement.Action) {
	var productID, bookingID string
	if e.violations != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		v, err := e.violations.Get(ctx, a.ViolationID)
		cancel()
		if err != nil {
			e.logger.Warn("enforcement event without violation context", "action", a.ID, "error", err)
		} else {
			productID, bookingID = v.ProductID, v.BookingID
		}
	}
	e.hub.Publish(realtime.EventType(event), productID, bookingID, a)
}

var (
	_ profile.EventEmitter     = (*eventPublisher)(nil)
	_ violation.EventEmitter   = (*eventPublisher)(nil)
	_ enforcement.EventEmitter = (*eventPublisher)(nil)
	_ compliance.EventEmitter  = (*eventPublisher)(nil)
)
