package oracle_test

import (
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/por-chain/por/internal/oracle"
)

func TestDefaultParamsValidate(t *testing.T) {
	require.NoError(t, oracle.DefaultParams().Validate())
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*oracle.Params)
		valid  bool
	}{
		{name: "default", mutate: func(*oracle.Params) {}, valid: true},
		{name: "zero threshold allowed", mutate: func(p *oracle.Params) {
			p.ConsensusThreshold = math.LegacyZeroDec()
		}, valid: true},
		{name: "full penalty allowed", mutate: func(p *oracle.Params) {
			p.SlashPenaltyBps = 10_000
		}, valid: true},
		{name: "zero min stake", mutate: func(p *oracle.Params) {
			p.MinStake = math.ZeroInt()
		}, valid: false},
		{name: "negative threshold", mutate: func(p *oracle.Params) {
			p.ConsensusThreshold = math.LegacyNewDec(-1)
		}, valid: false},
		{name: "zero duration", mutate: func(p *oracle.Params) {
			p.RoundDuration = 0
		}, valid: false},
		{name: "negative duration", mutate: func(p *oracle.Params) {
			p.RoundDuration = -time.Minute
		}, valid: false},
		{name: "penalty above cap", mutate: func(p *oracle.Params) {
			p.SlashPenaltyBps = 10_001
		}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := oracle.DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, oracle.ErrInvalidParams)
			}
		})
	}
}
