package oracle

import "strconv"

// slashOutliers slashes every participant whose submitted value deviates from
// the consensus by more than the round's snapshotted threshold. Participants
// within tolerance are untouched; reward distribution for them lives outside
// the core. The caller holds the round lock and has already set the consensus
// value.
func (e *Engine) slashOutliers(r *ConsensusRound) []SlashResult {
	var slashed []SlashResult
	for _, actor := range r.Participants {
		proof := r.Proofs[actor]
		deviation := AbsDeviation(proof.ReturnValue, r.ConsensusReturn)
		if !deviation.GT(r.Threshold) {
			continue
		}

		res, err := e.ledger.Slash(actor, r.PenaltyBps)
		if err != nil {
			// Participants were active at submission time; a missing ledger
			// entry here is an invariant violation worth surfacing, not hiding.
			e.log.Error("slash failed", "round", r.ID, "actor", actor, "error", err)
			continue
		}
		slashed = append(slashed, res)

		e.log.Warn("verifier slashed",
			"round", r.ID,
			"actor", actor,
			"value", proof.ReturnValue.String(),
			"consensus", r.ConsensusReturn.String(),
			"deviation", deviation.String(),
			"slashed_amount", res.SlashedAmount.String(),
			"remaining_stake", res.RemainingStake.String())
		e.emit(EventTypeVerifierSlashed, map[string]string{
			AttributeKeyRound:         r.ID,
			AttributeKeyActor:         actor,
			AttributeKeyReturnValue:   proof.ReturnValue.String(),
			AttributeKeyConsensus:     r.ConsensusReturn.String(),
			AttributeKeyDeviation:     deviation.String(),
			AttributeKeyThreshold:     r.Threshold.String(),
			AttributeKeySlashedAmount: res.SlashedAmount.String(),
			AttributeKeyStake:         res.RemainingStake.String(),
			AttributeKeyReputation:    strconv.FormatUint(uint64(res.Reputation), 10),
		})
	}
	return slashed
}
