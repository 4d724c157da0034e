// Package scheduler runs the three background loops that drive the round
// lifecycle: round creation on the 5-minute grid, pending/active state
// transitions every minute, and auto-settlement every 5 seconds.
//
// Grounded directly on NevzatMmc-updown's internal/scheduler.Scheduler:
// boundary-aligned time.Truncate+wait for the creation loop, time.NewTicker
// loops for the others, a per-goroutine deferred recoverAndLog, and a
// context.Done() shutdown select in every loop.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cardround/rgs/internal/audit"
	"github.com/cardround/rgs/internal/clock"
	"github.com/cardround/rgs/internal/domain"
	"github.com/cardround/rgs/internal/round"
	"github.com/cardround/rgs/internal/selector"
	"github.com/cardround/rgs/internal/settings"
	"github.com/cardround/rgs/internal/settlement"
)

// manualGraceSeconds is the operator-input grace window in manual mode
// before the scheduler will auto-settle a completed round.
const manualGraceSeconds = 10

// Broadcaster pushes round-lifecycle notifications to connected clients.
// Satisfied by api.Feed; left nil in tests that don't care about the feed.
type Broadcaster interface {
	Publish(eventType, gameID string, winningCard int)
}

// Scheduler wires together the services and runs the background loops.
type Scheduler struct {
	rounds *round.Manager
	sett   *settings.Store
	sel    *selector.Selector
	settle *settlement.Engine
	audit  *audit.Service
	log    *zap.SugaredLogger
	clk    clock.Clock
	feed   Broadcaster
}

// New builds a Scheduler. feed may be nil.
func New(rounds *round.Manager, sett *settings.Store, sel *selector.Selector, settleEngine *settlement.Engine, auditSvc *audit.Service, log *zap.SugaredLogger, clk clock.Clock, feed Broadcaster) *Scheduler {
	return &Scheduler{rounds: rounds, sett: sett, sel: sel, settle: settleEngine, audit: auditSvc, log: log, clk: clk, feed: feed}
}

func (s *Scheduler) publish(eventType, gameID string, winningCard int) {
	if s.feed != nil {
		s.feed.Publish(eventType, gameID, winningCard)
	}
}

// Start launches the three background goroutines. It returns immediately;
// all loops run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.creationLoop(ctx)
	go s.stateTransitionLoop(ctx)
	go s.autoSettleLoop(ctx)
	s.log.Info("scheduler started")
}

// Recover runs the startup crash-recovery sequence synchronously, before
// the server accepts traffic: catch up state machines, create the round
// for the next 5-minute boundary, then auto-settle anything left stuck.
// Boundaries that passed while the process was down are not back-filled:
// CreateNextRound only creates the round starting after the current time.
func (s *Scheduler) Recover(ctx context.Context) error {
	if _, err := s.rounds.ActivatePending(ctx); err != nil {
		return err
	}
	if _, err := s.rounds.CompleteActive(ctx); err != nil {
		return err
	}

	for i := 0; i < 1000; i++ {
		r, err := s.rounds.CreateNextRound(ctx)
		if err != nil {
			return err
		}
		if r == nil {
			break
		}
		if !r.StartTime.Before(s.clk.NowUTC()) {
			break
		}
	}

	s.autoSettleOnce(ctx)
	return nil
}

func (s *Scheduler) creationLoop(ctx context.Context) {
	defer s.recoverAndLog("creationLoop")

	for {
		now := s.clk.NowUTC()
		next := clock.NextBoundary(now)
		wait := next.Sub(now)

		select {
		case <-ctx.Done():
			s.log.Info("creationLoop: shutting down")
			return
		case <-time.After(wait):
		}

		r, err := s.rounds.CreateNextRound(ctx)
		if err != nil {
			s.log.Errorw("creationLoop: CreateNextRound failed", "err", err)
			continue
		}
		if r != nil {
			s.publish("round_created", r.GameID, 0)
		}
	}
}

func (s *Scheduler) stateTransitionLoop(ctx context.Context) {
	defer s.recoverAndLog("stateTransitionLoop")

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stateTransitionLoop: shutting down")
			return
		case <-ticker.C:
			if _, err := s.rounds.ActivatePending(ctx); err != nil {
				s.log.Errorw("stateTransitionLoop: ActivatePending failed", "err", err)
			}
			if _, err := s.rounds.CompleteActive(ctx); err != nil {
				s.log.Errorw("stateTransitionLoop: CompleteActive failed", "err", err)
			}
		}
	}
}

func (s *Scheduler) autoSettleLoop(ctx context.Context) {
	defer s.recoverAndLog("autoSettleLoop")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("autoSettleLoop: shutting down")
			return
		case <-ticker.C:
			s.autoSettleOnce(ctx)
		}
	}
}

func (s *Scheduler) autoSettleOnce(ctx context.Context) {
	grace := 0
	if s.sett.GameResultType() == settings.ResultTypeManual {
		grace = manualGraceSeconds
	}

	pending, err := s.rounds.PendingSettlement(ctx, 50, grace)
	if err != nil {
		s.log.Errorw("autoSettle: PendingSettlement failed", "err", err)
		return
	}

	for _, r := range pending {
		s.settleOne(ctx, r)
	}
}

func (s *Scheduler) settleOne(ctx context.Context, r domain.Round) {
	totals, err := s.rounds.CardTotals(ctx, r.GameID)
	if err != nil {
		s.log.Errorw("autoSettle: CardTotals failed", "game_id", r.GameID, "err", err)
		return
	}

	card, err := s.sel.Choose(totals)
	if err != nil {
		s.log.Warnw("autoSettle: selector failed, falling back to uniform", "game_id", r.GameID, "err", err)
		card = int(time.Now().UnixNano()%12) + 1
	}

	if err := s.settle.Settle(ctx, r.GameID, card, 0); err != nil {
		s.log.Errorw("autoSettle: Settle failed", "game_id", r.GameID, "err", err)
		return
	}
	s.publish("round_settled", r.GameID, card)
}

func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.log.Errorw("panic recovered in scheduler loop", "loop", loop, "panic", r)
	}
}
