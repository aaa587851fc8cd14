package oracle

import (
	"strconv"
	"sync"
	"time"

	"cosmossdk.io/math"

	"github.com/por-chain/por/pkg/logger"
)

// AttestationVerifier checks the cryptographic proof payload attached to a
// submission. The payload is opaque to the consensus core; production
// deployments plug in their own scheme.
type AttestationVerifier interface {
	Verify(payload []byte) bool
}

type nonEmptyAttestation struct{}

func (nonEmptyAttestation) Verify(payload []byte) bool { return len(payload) > 0 }

// DefaultAttestationVerifier accepts any non-empty payload.
func DefaultAttestationVerifier() AttestationVerifier { return nonEmptyAttestation{} }

// SubmitResult reports the effect of a proof submission, including the
// finalization it may have triggered.
type SubmitResult struct {
	RoundID         string
	NumSubmissions  int
	Finalized       bool
	ConsensusReturn math.LegacyDec
	Slashed         []SlashResult
}

type roundEntry struct {
	mu sync.Mutex
	r  ConsensusRound
}

// Engine is the consensus core: it owns the round registry, the stake ledger
// and the active parameter set. Each round carries its own mutex so concurrent
// submissions to the same round serialize while distinct rounds proceed in
// parallel; the engine lock only guards the registry maps.
type Engine struct {
	mu     sync.RWMutex
	rounds map[string]*roundEntry
	nonces map[string]uint64

	paramsMu sync.RWMutex
	params   Params

	ledger   *StakeLedger
	attester AttestationVerifier
	emitter  Emitter
	log      *logger.Logger
	nowFn    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source used for round deadlines and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// WithEmitter sets the event sink.
func WithEmitter(em Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithAttestationVerifier replaces the default proof payload check.
func WithAttestationVerifier(av AttestationVerifier) Option {
	return func(e *Engine) { e.attester = av }
}

// NewEngine creates an engine with the given parameters.
func NewEngine(params Params, log *logger.Logger, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		rounds:   make(map[string]*roundEntry),
		nonces:   make(map[string]uint64),
		params:   params,
		ledger:   NewStakeLedger(),
		attester: DefaultAttestationVerifier(),
		log:      log,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) now() time.Time { return e.nowFn() }

// GetParams returns the current parameter set.
func (e *Engine) GetParams() Params {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// UpdateParams replaces the parameter set for future rounds. Rounds already
// open keep the threshold and penalty they snapshotted at start.
func (e *Engine) UpdateParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.paramsMu.Lock()
	e.params = p
	e.paramsMu.Unlock()

	e.log.Info("consensus parameters updated",
		"min_stake", p.MinStake.String(),
		"threshold", p.ConsensusThreshold.String(),
		"round_duration", p.RoundDuration.String(),
		"penalty_bps", p.SlashPenaltyBps)
	e.emit(EventTypeParamsUpdated, map[string]string{
		AttributeKeyStake:      p.MinStake.String(),
		AttributeKeyThreshold:  p.ConsensusThreshold.String(),
		AttributeKeyPenaltyBps: strconv.FormatUint(uint64(p.SlashPenaltyBps), 10),
	})
	return nil
}

// RegisterVerifier stakes funds for the actor and activates it.
func (e *Engine) RegisterVerifier(actor string, stake math.Int) (Verifier, error) {
	minStake := e.GetParams().MinStake
	v, err := e.ledger.Register(actor, stake, minStake, e.now())
	if err != nil {
		return Verifier{}, err
	}

	e.log.Info("verifier registered", "actor", actor, "stake", stake.String())
	e.emit(EventTypeVerifierRegistered, map[string]string{
		AttributeKeyActor:      actor,
		AttributeKeyStake:      v.Stake.String(),
		AttributeKeyReputation: strconv.FormatUint(uint64(v.Reputation), 10),
	})
	return v, nil
}

// GetVerifier returns the verifier record for the actor.
func (e *Engine) GetVerifier(actor string) (Verifier, error) {
	v, ok := e.ledger.Get(actor)
	if !ok {
		return Verifier{}, ErrUnknownVerifier.Wrap(actor)
	}
	return v, nil
}

// Verifiers returns a snapshot of every verifier record.
func (e *Engine) Verifiers() []Verifier {
	return e.ledger.All()
}

// StartRound opens a new consensus round for the farm. A non-positive duration
// falls back to the configured default. The current threshold and penalty are
// snapshotted into the round.
func (e *Engine) StartRound(farmID string, minVerifiers int, duration time.Duration) (ConsensusRound, error) {
	if farmID == "" {
		return ConsensusRound{}, ErrInvalidParams.Wrap("farm id required")
	}
	if minVerifiers <= 0 {
		return ConsensusRound{}, ErrInvalidVerifierCount.Wrapf("got %d", minVerifiers)
	}

	params := e.GetParams()
	if duration <= 0 {
		duration = params.RoundDuration
	}
	start := e.now()

	e.mu.Lock()
	nonce := e.nonces[farmID]
	e.nonces[farmID] = nonce + 1
	id := roundID(farmID, start, nonce)
	r := ConsensusRound{
		ID:           id,
		FarmID:       farmID,
		StartTime:    start,
		EndTime:      start.Add(duration),
		MinVerifiers: minVerifiers,
		Participants: []string{},
		Proofs:       make(map[string]ReturnProof),
		State:        RoundOpen,
		Threshold:    params.ConsensusThreshold,
		PenaltyBps:   params.SlashPenaltyBps,
	}
	// snapshot before the entry becomes reachable by concurrent submissions
	snap := r.snapshot()
	e.rounds[id] = &roundEntry{r: r}
	e.mu.Unlock()

	e.log.Info("round started",
		"round", id,
		"farm", farmID,
		"min_verifiers", minVerifiers,
		"end_time", snap.EndTime)
	e.emit(EventTypeRoundStarted, map[string]string{
		AttributeKeyRound:        id,
		AttributeKeyFarm:         farmID,
		AttributeKeyMinVerifiers: strconv.Itoa(minVerifiers),
		AttributeKeyEndTime:      snap.EndTime.UTC().Format(time.RFC3339Nano),
	})
	return snap, nil
}

// SubmitProof records a verifier's return attestation for the round. Reaching
// the quorum finalizes the round synchronously inside the same call, computing
// the consensus value and slashing outliers before returning.
func (e *Engine) SubmitProof(roundIDStr, actor string, value math.LegacyDec, payload []byte) (SubmitResult, error) {
	v, ok := e.ledger.Get(actor)
	if !ok {
		return SubmitResult{}, ErrUnknownVerifier.Wrap(actor)
	}
	if !v.Active {
		return SubmitResult{}, ErrVerifierNotActive.Wrap(actor)
	}
	if value.IsNil() {
		return SubmitResult{}, ErrInvalidProof.Wrap("return value required")
	}
	if !e.attester.Verify(payload) {
		return SubmitResult{}, ErrInvalidProof.Wrap("attestation rejected")
	}

	entry, ok := e.round(roundIDStr)
	if !ok {
		return SubmitResult{}, ErrRoundNotFound.Wrap(roundIDStr)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	r := &entry.r

	switch r.State {
	case RoundFinalized:
		return SubmitResult{}, ErrRoundNotOpen.Wrap("round already finalized")
	case RoundExpired:
		return SubmitResult{}, ErrRoundNotOpen.Wrap("round expired")
	}
	now := e.now()
	if now.After(r.EndTime) {
		return SubmitResult{}, ErrRoundNotOpen.Wrap("submission deadline passed")
	}
	if _, dup := r.Proofs[actor]; dup {
		return SubmitResult{}, ErrDuplicateSubmission.Wrapf("actor %s already submitted in round %s", actor, r.ID)
	}

	r.Participants = append(r.Participants, actor)
	r.Proofs[actor] = ReturnProof{
		Actor:       actor,
		FarmID:      r.FarmID,
		ReturnValue: value,
		Payload:     payload,
		SubmittedAt: now,
	}
	e.ledger.noteSubmission(actor)

	e.log.Debug("proof submitted",
		"round", r.ID,
		"actor", actor,
		"value", value.String(),
		"submissions", len(r.Participants))
	e.emit(EventTypeProofSubmitted, map[string]string{
		AttributeKeyRound:       r.ID,
		AttributeKeyFarm:        r.FarmID,
		AttributeKeyActor:       actor,
		AttributeKeyReturnValue: value.String(),
	})

	result := SubmitResult{RoundID: r.ID, NumSubmissions: len(r.Participants)}
	if len(r.Participants) >= r.MinVerifiers {
		slashed := e.finalizeLocked(r)
		result.Finalized = true
		result.ConsensusReturn = r.ConsensusReturn
		result.Slashed = slashed
	}
	return result, nil
}

// finalizeLocked computes the consensus value and slashes outliers. The caller
// holds the round lock; the state check above guarantees this runs at most once
// per round.
func (e *Engine) finalizeLocked(r *ConsensusRound) []SlashResult {
	values := make([]math.LegacyDec, 0, len(r.Participants))
	for _, actor := range r.Participants {
		values = append(values, r.Proofs[actor].ReturnValue)
	}
	r.ConsensusReturn = Median(values)
	r.State = RoundFinalized

	slashed := e.slashOutliers(r)

	e.log.Info("round finalized",
		"round", r.ID,
		"farm", r.FarmID,
		"consensus", r.ConsensusReturn.String(),
		"submissions", len(r.Participants),
		"slashed", len(slashed))
	e.emit(EventTypeRoundFinalized, map[string]string{
		AttributeKeyRound:          r.ID,
		AttributeKeyFarm:           r.FarmID,
		AttributeKeyConsensus:      r.ConsensusReturn.String(),
		AttributeKeyNumSubmissions: strconv.Itoa(len(r.Participants)),
		AttributeKeyNumSlashed:     strconv.Itoa(len(slashed)),
	})
	return slashed
}

// Expire marks an open round past its deadline as expired. Expiring an already
// expired round is a no-op; a finalized round cannot expire.
func (e *Engine) Expire(roundIDStr string) (RoundStatus, error) {
	entry, ok := e.round(roundIDStr)
	if !ok {
		return RoundStatus{}, ErrRoundNotFound.Wrap(roundIDStr)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	r := &entry.r

	switch r.State {
	case RoundFinalized:
		return RoundStatus{}, ErrRoundNotOpen.Wrap("round already finalized")
	case RoundExpired:
		return r.status(), nil
	}
	if !e.now().After(r.EndTime) {
		return RoundStatus{}, ErrRoundStillOpen.Wrapf("round %s open until %s", r.ID, r.EndTime.UTC().Format(time.RFC3339))
	}

	r.State = RoundExpired
	e.log.Info("round expired", "round", r.ID, "farm", r.FarmID, "submissions", len(r.Participants))
	e.emit(EventTypeRoundExpired, map[string]string{
		AttributeKeyRound:          r.ID,
		AttributeKeyFarm:           r.FarmID,
		AttributeKeyNumSubmissions: strconv.Itoa(len(r.Participants)),
	})
	return r.status(), nil
}

// ExpireDue sweeps the registry and expires every open round whose deadline
// has passed. It returns the ids of the rounds it expired.
func (e *Engine) ExpireDue() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.rounds))
	for id := range e.rounds {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	var expired []string
	for _, id := range ids {
		entry, ok := e.round(id)
		if !ok {
			continue
		}
		entry.mu.Lock()
		due := entry.r.State == RoundOpen && e.now().After(entry.r.EndTime)
		entry.mu.Unlock()
		if !due {
			continue
		}
		if _, err := e.Expire(id); err == nil {
			expired = append(expired, id)
		}
	}
	return expired
}

// Status returns the round's read view.
func (e *Engine) Status(roundIDStr string) (RoundStatus, error) {
	entry, ok := e.round(roundIDStr)
	if !ok {
		return RoundStatus{}, ErrRoundNotFound.Wrap(roundIDStr)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.r.status(), nil
}

// Participants returns the round's actor ids in submission order.
func (e *Engine) Participants(roundIDStr string) ([]string, error) {
	entry, ok := e.round(roundIDStr)
	if !ok {
		return nil, ErrRoundNotFound.Wrap(roundIDStr)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return append([]string(nil), entry.r.Participants...), nil
}

// GetRound returns a full snapshot of the round.
func (e *Engine) GetRound(roundIDStr string) (ConsensusRound, error) {
	entry, ok := e.round(roundIDStr)
	if !ok {
		return ConsensusRound{}, ErrRoundNotFound.Wrap(roundIDStr)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.r.snapshot(), nil
}

func (e *Engine) round(id string) (*roundEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.rounds[id]
	return entry, ok
}
