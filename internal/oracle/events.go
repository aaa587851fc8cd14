package oracle

import "time"

// Event types for the oracle core
// All event types use lowercase with underscore separator (module_action format)
const (
	EventTypeVerifierRegistered = "verifier_registered"
	EventTypeVerifierSlashed    = "verifier_slashed"
	EventTypeProofSubmitted     = "proof_submitted"
	EventTypeRoundStarted       = "round_started"
	EventTypeRoundFinalized     = "round_finalized"
	EventTypeRoundExpired       = "round_expired"
	EventTypeParamsUpdated      = "params_updated"
)

// Event attribute keys
const (
	AttributeKeyActor          = "actor"
	AttributeKeyFarm           = "farm"
	AttributeKeyRound          = "round"
	AttributeKeyStake          = "stake"
	AttributeKeyReputation     = "reputation"
	AttributeKeyReturnValue    = "return_value"
	AttributeKeyConsensus      = "consensus"
	AttributeKeyDeviation      = "deviation"
	AttributeKeyThreshold      = "threshold"
	AttributeKeySlashedAmount  = "slashed_amount"
	AttributeKeyPenaltyBps     = "penalty_bps"
	AttributeKeyMinVerifiers   = "min_verifiers"
	AttributeKeyNumSubmissions = "num_submissions"
	AttributeKeyNumSlashed     = "num_slashed"
	AttributeKeyEndTime        = "end_time"
)

// Event is a notification observable by downstream systems (reward
// distribution, dashboards). It carries string attributes only so it can be
// relayed, archived and broadcast without knowledge of core types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Emitter receives core events. Implementations must not block; slow consumers
// drop or buffer on their side.
type Emitter interface {
	Emit(Event)
}

// emit builds and dispatches an event when an emitter is configured.
func (e *Engine) emit(eventType string, attrs map[string]string) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(Event{
		Type:       eventType,
		Attributes: attrs,
		Timestamp:  e.now(),
	})
}
