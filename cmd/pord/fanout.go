package main

import (
	"context"

	"cosmossdk.io/math"

	"github.com/por-chain/por/internal/oracle"
	"github.com/por-chain/por/internal/store"
	"github.com/por-chain/por/internal/websocket/hub"
	"github.com/por-chain/por/pkg/logger"
)

// eventFanout relays core events to the WebSocket hub and the archive. The
// engine emits while holding round locks, so Emit only queues; the worker
// goroutine reads engine state afterwards.
type eventFanout struct {
	hub     *hub.Hub
	archive *store.Store
	engine  *oracle.Engine
	log     *logger.Logger
	ch      chan oracle.Event
}

func newEventFanout(wsHub *hub.Hub, archive *store.Store, log *logger.Logger) *eventFanout {
	return &eventFanout{
		hub:     wsHub,
		archive: archive,
		log:     log,
		ch:      make(chan oracle.Event, 1024),
	}
}

// Emit queues the event without blocking; under sustained overload events are
// dropped and counted in the log.
func (f *eventFanout) Emit(ev oracle.Event) {
	select {
	case f.ch <- ev:
	default:
		f.log.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

func (f *eventFanout) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.ch:
			f.hub.BroadcastEvent(ev.Type, ev.Attributes)
			if f.archive != nil {
				f.archiveEvent(ev)
			}
		}
	}
}

func (f *eventFanout) archiveEvent(ev oracle.Event) {
	if err := f.archive.InsertEvent(ev); err != nil {
		f.log.Error("failed to archive event", "type", ev.Type, "error", err)
	}

	switch ev.Type {
	case oracle.EventTypeVerifierRegistered:
		f.archiveVerifier(ev.Attributes[oracle.AttributeKeyActor])

	case oracle.EventTypeVerifierSlashed:
		actor := ev.Attributes[oracle.AttributeKeyActor]
		f.archiveVerifier(actor)
		f.archiveSlash(ev, actor)

	case oracle.EventTypeRoundStarted, oracle.EventTypeRoundExpired:
		f.archiveRound(ev.Attributes[oracle.AttributeKeyRound])

	case oracle.EventTypeProofSubmitted:
		roundID := ev.Attributes[oracle.AttributeKeyRound]
		actor := ev.Attributes[oracle.AttributeKeyActor]
		f.archiveRound(roundID)
		f.archiveSubmission(roundID, actor)
		f.archiveVerifier(actor)

	case oracle.EventTypeRoundFinalized:
		f.archiveRound(ev.Attributes[oracle.AttributeKeyRound])
	}
}

func (f *eventFanout) archiveVerifier(actor string) {
	v, err := f.engine.GetVerifier(actor)
	if err != nil {
		f.log.Error("failed to load verifier for archive", "actor", actor, "error", err)
		return
	}
	if err := f.archive.UpsertVerifier(v); err != nil {
		f.log.Error("failed to archive verifier", "actor", actor, "error", err)
	}
}

func (f *eventFanout) archiveRound(roundID string) {
	r, err := f.engine.GetRound(roundID)
	if err != nil {
		f.log.Error("failed to load round for archive", "round", roundID, "error", err)
		return
	}
	if err := f.archive.UpsertRound(r); err != nil {
		f.log.Error("failed to archive round", "round", roundID, "error", err)
	}
}

func (f *eventFanout) archiveSubmission(roundID, actor string) {
	r, err := f.engine.GetRound(roundID)
	if err != nil {
		f.log.Error("failed to load round for archive", "round", roundID, "error", err)
		return
	}
	proof, ok := r.Proofs[actor]
	if !ok {
		return
	}
	if err := f.archive.InsertSubmission(roundID, proof); err != nil {
		f.log.Error("failed to archive submission", "round", roundID, "actor", actor, "error", err)
	}
}

func (f *eventFanout) archiveSlash(ev oracle.Event, actor string) {
	amount, ok := math.NewIntFromString(ev.Attributes[oracle.AttributeKeySlashedAmount])
	if !ok {
		return
	}
	remaining, ok := math.NewIntFromString(ev.Attributes[oracle.AttributeKeyStake])
	if !ok {
		return
	}

	v, err := f.engine.GetVerifier(actor)
	if err != nil {
		return
	}

	res := oracle.SlashResult{
		Actor:          actor,
		SlashedAmount:  amount,
		RemainingStake: remaining,
		Reputation:     v.Reputation,
		Deactivated:    !v.Active,
	}
	if err := f.archive.InsertSlashEvent(ev.Attributes[oracle.AttributeKeyRound], res, ev.Timestamp); err != nil {
		f.log.Error("failed to archive slash event", "actor", actor, "error", err)
	}
}
