package oracle

import (
	"time"

	"cosmossdk.io/math"
)

// Params holds the consensus parameters applied to future rounds. A round
// snapshots the threshold and penalty at start time, so updates are never
// retroactive.
type Params struct {
	// MinStake is the minimum stake (smallest unit) required to register.
	MinStake math.Int

	// ConsensusThreshold is the absolute deviation from the consensus value a
	// submission may show before the verifier is slashed.
	ConsensusThreshold math.LegacyDec

	// RoundDuration is the default submission window for a round.
	RoundDuration time.Duration

	// SlashPenaltyBps is the stake fraction removed on slashing, in basis points.
	SlashPenaltyBps uint32
}

// reputationSlashPenalty is the fixed reputation deduction per slashing event.
const reputationSlashPenalty = 10

// initialReputation is assigned on registration.
const initialReputation = 100

// maxSlashPenaltyBps caps the configurable penalty at 100%.
const maxSlashPenaltyBps = 10_000

// DefaultParams returns default consensus parameters.
func DefaultParams() Params {
	return Params{
		MinStake:           math.NewInt(1_000),
		ConsensusThreshold: math.LegacyNewDec(5),
		RoundDuration:      5 * time.Minute,
		SlashPenaltyBps:    500, // 5%
	}
}

// Validate checks parameter bounds.
func (p Params) Validate() error {
	if p.MinStake.IsNil() || !p.MinStake.IsPositive() {
		return ErrInvalidParams.Wrap("minimum stake must be positive")
	}
	if p.ConsensusThreshold.IsNil() || p.ConsensusThreshold.IsNegative() {
		return ErrInvalidParams.Wrap("consensus threshold must be non-negative")
	}
	if p.RoundDuration <= 0 {
		return ErrInvalidParams.Wrap("round duration must be positive")
	}
	if p.SlashPenaltyBps > maxSlashPenaltyBps {
		return ErrInvalidParams.Wrapf("slash penalty must not exceed %d basis points", maxSlashPenaltyBps)
	}
	return nil
}
