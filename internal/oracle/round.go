package oracle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"cosmossdk.io/math"
)

// RoundState is the lifecycle state of a consensus round.
type RoundState uint8

const (
	// RoundOpen accepts proof submissions until quorum or deadline.
	RoundOpen RoundState = iota
	// RoundFinalized has a consensus value; no further submissions.
	RoundFinalized
	// RoundExpired passed its deadline without reaching quorum.
	RoundExpired
)

func (s RoundState) String() string {
	switch s {
	case RoundOpen:
		return "open"
	case RoundFinalized:
		return "finalized"
	case RoundExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ReturnProof is one verifier's attestation of a farm's return for a round.
// Immutable after creation; a second submission from the same verifier in the
// same round is rejected rather than overwritten.
type ReturnProof struct {
	Actor       string         `json:"actor"`
	FarmID      string         `json:"farm_id"`
	ReturnValue math.LegacyDec `json:"return_value"`
	Payload     []byte         `json:"payload,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ConsensusRound collects return proofs for one farm over one submission
// window. Participants holds submission order; Proofs is keyed by actor.
// ConsensusReturn is meaningful only once State is RoundFinalized.
type ConsensusRound struct {
	ID           string                 `json:"id"`
	FarmID       string                 `json:"farm_id"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      time.Time              `json:"end_time"`
	MinVerifiers int                    `json:"min_verifiers"`
	Participants []string               `json:"participants"`
	Proofs       map[string]ReturnProof `json:"proofs"`
	State        RoundState             `json:"state"`

	// ConsensusReturn is computed exactly once, at finalization.
	ConsensusReturn math.LegacyDec `json:"consensus_return"`

	// Threshold and PenaltyBps are snapshotted from the engine params at start
	// time so later parameter updates never apply retroactively.
	Threshold  math.LegacyDec `json:"threshold"`
	PenaltyBps uint32         `json:"penalty_bps"`
}

// RoundStatus is the read view exposed by the registry.
type RoundStatus struct {
	ID              string         `json:"id"`
	FarmID          string         `json:"farm_id"`
	State           string         `json:"state"`
	Finalized       bool           `json:"finalized"`
	ConsensusReturn math.LegacyDec `json:"consensus_return"`
	MinVerifiers    int            `json:"min_verifiers"`
	NumSubmissions  int            `json:"num_submissions"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
}

// roundID derives a collision-free identifier from the farm, the start time
// and a per-farm monotonic nonce. The nonce disambiguates rounds started for
// the same farm within one clock tick.
func roundID(farmID string, start time.Time, nonce uint64) string {
	h := sha256.New()
	h.Write([]byte(farmID))

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(start.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], nonce)
	h.Write(buf[:])

	return hex.EncodeToString(h.Sum(nil))
}

// snapshot returns a copy of the round safe to hand to callers. The proofs map
// is copied shallowly; ReturnProof values are immutable.
func (r *ConsensusRound) snapshot() ConsensusRound {
	out := *r
	out.Participants = append([]string(nil), r.Participants...)
	out.Proofs = make(map[string]ReturnProof, len(r.Proofs))
	for actor, proof := range r.Proofs {
		out.Proofs[actor] = proof
	}
	return out
}

func (r *ConsensusRound) status() RoundStatus {
	return RoundStatus{
		ID:              r.ID,
		FarmID:          r.FarmID,
		State:           r.State.String(),
		Finalized:       r.State == RoundFinalized,
		ConsensusReturn: r.ConsensusReturn,
		MinVerifiers:    r.MinVerifiers,
		NumSubmissions:  len(r.Participants),
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
	}
}
