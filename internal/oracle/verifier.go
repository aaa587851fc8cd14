package oracle

import (
	"sync"
	"time"

	"cosmossdk.io/math"
)

// Verifier is a staked actor attesting to farm returns. Verifiers are never
// deleted; repeated slashing can drain stake to zero, which deactivates them.
type Verifier struct {
	Actor            string    `json:"actor"`
	Stake            math.Int  `json:"stake"`
	Reputation       uint32    `json:"reputation"`
	Active           bool      `json:"active"`
	TotalSubmissions uint64    `json:"total_submissions"`
	TimesSlashed     uint64    `json:"times_slashed"`
	RegisteredAt     time.Time `json:"registered_at"`
}

// SlashResult reports the outcome of a slashing event.
type SlashResult struct {
	Actor          string
	SlashedAmount  math.Int
	RemainingStake math.Int
	Reputation     uint32
	Deactivated    bool
}

// StakeLedger tracks verifier stake and reputation. The map is guarded by a
// read-write lock; each verifier carries its own mutex so unrelated verifiers
// mutate in parallel while operations on one verifier serialize.
type StakeLedger struct {
	mu        sync.RWMutex
	verifiers map[string]*ledgerEntry
}

type ledgerEntry struct {
	mu sync.Mutex
	v  Verifier
}

// NewStakeLedger creates an empty ledger.
func NewStakeLedger() *StakeLedger {
	return &StakeLedger{verifiers: make(map[string]*ledgerEntry)}
}

// Register stakes funds and activates a verifier. A previously drained
// verifier may re-register, which restores its stake and active flag but keeps
// its reputation and slashing history.
func (l *StakeLedger) Register(actor string, stake math.Int, minStake math.Int, at time.Time) (Verifier, error) {
	if stake.IsNil() || stake.LT(minStake) {
		return Verifier{}, ErrInsufficientStake.Wrapf("got %s, minimum %s", stake, minStake)
	}

	l.mu.Lock()
	entry, ok := l.verifiers[actor]
	if !ok {
		entry = &ledgerEntry{v: Verifier{
			Actor:        actor,
			Stake:        stake,
			Reputation:   initialReputation,
			Active:       true,
			RegisteredAt: at,
		}}
		l.verifiers[actor] = entry
		l.mu.Unlock()
		return entry.v, nil
	}
	l.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.v.Active {
		return Verifier{}, ErrAlreadyRegistered.Wrap(actor)
	}
	entry.v.Stake = stake
	entry.v.Active = true
	return entry.v, nil
}

// Slash removes stake*penaltyBps/10000 from the verifier and deducts the fixed
// reputation penalty, clamping both at zero. Draining the stake to zero
// deactivates the verifier.
func (l *StakeLedger) Slash(actor string, penaltyBps uint32) (SlashResult, error) {
	entry, ok := l.entry(actor)
	if !ok {
		return SlashResult{}, ErrUnknownVerifier.Wrap(actor)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if penaltyBps > maxSlashPenaltyBps {
		penaltyBps = maxSlashPenaltyBps
	}
	amount := entry.v.Stake.MulRaw(int64(penaltyBps)).QuoRaw(maxSlashPenaltyBps)
	entry.v.Stake = entry.v.Stake.Sub(amount)
	if entry.v.Stake.IsNegative() {
		entry.v.Stake = math.ZeroInt()
	}

	if entry.v.Reputation > reputationSlashPenalty {
		entry.v.Reputation -= reputationSlashPenalty
	} else {
		entry.v.Reputation = 0
	}

	entry.v.TimesSlashed++
	if entry.v.Stake.IsZero() && entry.v.Active {
		entry.v.Active = false
	}

	return SlashResult{
		Actor:          actor,
		SlashedAmount:  amount,
		RemainingStake: entry.v.Stake,
		Reputation:     entry.v.Reputation,
		Deactivated:    !entry.v.Active,
	}, nil
}

// IsActive reports whether the actor is a registered, active verifier.
func (l *StakeLedger) IsActive(actor string) bool {
	entry, ok := l.entry(actor)
	if !ok {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.v.Active
}

// StakeOf returns the actor's current stake, zero for unknown actors.
func (l *StakeLedger) StakeOf(actor string) math.Int {
	entry, ok := l.entry(actor)
	if !ok {
		return math.ZeroInt()
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.v.Stake
}

// Get returns a copy of the verifier record.
func (l *StakeLedger) Get(actor string) (Verifier, bool) {
	entry, ok := l.entry(actor)
	if !ok {
		return Verifier{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.v, true
}

// All returns a snapshot of every verifier record.
func (l *StakeLedger) All() []Verifier {
	l.mu.RLock()
	entries := make([]*ledgerEntry, 0, len(l.verifiers))
	for _, entry := range l.verifiers {
		entries = append(entries, entry)
	}
	l.mu.RUnlock()

	out := make([]Verifier, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.v)
		entry.mu.Unlock()
	}
	return out
}

// noteSubmission bumps the verifier's submission counter.
func (l *StakeLedger) noteSubmission(actor string) {
	entry, ok := l.entry(actor)
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.v.TotalSubmissions++
	entry.mu.Unlock()
}

func (l *StakeLedger) entry(actor string) (*ledgerEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.verifiers[actor]
	return entry, ok
}
