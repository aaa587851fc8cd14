package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"cosmossdk.io/math"
	"github.com/gin-gonic/gin"

	"github.com/por-chain/por/internal/metrics"
	"github.com/por-chain/por/internal/oracle"
)

// Version is stamped at build time via ldflags.
var Version = "dev"

// respondError maps core sentinel errors onto HTTP status codes
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusBadRequest
	label := "invalid_request"

	switch {
	case errors.Is(err, oracle.ErrRoundNotFound):
		status, label = http.StatusNotFound, "round_not_found"
	case errors.Is(err, oracle.ErrUnknownVerifier):
		status, label = http.StatusNotFound, "unknown_verifier"
	case errors.Is(err, oracle.ErrAlreadyRegistered):
		status, label = http.StatusConflict, "already_registered"
	case errors.Is(err, oracle.ErrRoundNotOpen):
		status, label = http.StatusConflict, "round_not_open"
	case errors.Is(err, oracle.ErrRoundStillOpen):
		status, label = http.StatusConflict, "round_still_open"
	case errors.Is(err, oracle.ErrDuplicateSubmission):
		status, label = http.StatusConflict, "duplicate_submission"
	case errors.Is(err, oracle.ErrVerifierNotActive):
		status, label = http.StatusForbidden, "verifier_not_active"
	case errors.Is(err, oracle.ErrUnauthorized):
		status, label = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, oracle.ErrInsufficientStake):
		label = "insufficient_stake"
	case errors.Is(err, oracle.ErrInvalidVerifierCount):
		label = "invalid_verifier_count"
	case errors.Is(err, oracle.ErrInvalidProof):
		label = "invalid_proof"
	case errors.Is(err, oracle.ErrInvalidParams):
		label = "invalid_params"
	}

	c.JSON(status, gin.H{
		"error":   label,
		"message": err.Error(),
	})
}

// handleHealth handles basic liveness check
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleHealthReady checks the optional backing services
func (s *Server) handleHealthReady(c *gin.Context) {
	checks := make(map[string]interface{})
	allHealthy := true

	if s.archive != nil {
		if err := s.archive.Ping(); err != nil {
			checks["database"] = gin.H{"status": "unhealthy", "message": err.Error()}
			allHealthy = false
		} else {
			checks["database"] = gin.H{"status": "ok"}
		}
	} else {
		checks["database"] = gin.H{"status": "disabled"}
	}

	if s.cache != nil {
		if err := s.cache.Ping(c.Request.Context()); err != nil {
			checks["cache"] = gin.H{"status": "unhealthy", "message": err.Error()}
			allHealthy = false
		} else {
			checks["cache"] = gin.H{"status": "ok"}
		}
	} else {
		checks["cache"] = gin.H{"status": "disabled"}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status": status,
		"checks": checks,
	})
}

// handleVersion returns build information
func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "por-oracle",
		"version": Version,
	})
}

type registerVerifierRequest struct {
	Actor string `json:"actor" binding:"required"`
	Stake string `json:"stake" binding:"required"`
}

// handleRegisterVerifier stakes and activates a verifier
func (s *Server) handleRegisterVerifier(c *gin.Context) {
	var req registerVerifierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	stake, ok := math.NewIntFromString(req.Stake)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "stake must be an integer string"})
		return
	}

	v, err := s.engine.RegisterVerifier(req.Actor, stake)
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.VerifierRegistrations.Inc()
	metrics.ActiveVerifiers.Inc()
	s.invalidateVerifier(c, req.Actor)
	c.JSON(http.StatusCreated, v)
}

// handleGetVerifier returns the verifier's ledger state
func (s *Server) handleGetVerifier(c *gin.Context) {
	actor := c.Param("actor")
	cacheKey := "verifier:" + actor

	if s.cache != nil {
		var cached oracle.Verifier
		if err := s.cache.GetJSON(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	v, err := s.engine.GetVerifier(actor)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(c.Request.Context(), cacheKey, v, s.cacheTTL); err != nil {
			s.log.Debug("cache set failed", "key", cacheKey, "error", err)
		}
	}
	c.JSON(http.StatusOK, v)
}

// handleGetVerifierSlashes returns the actor's archived slashing history
func (s *Server) handleGetVerifierSlashes(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive_disabled", "message": "archive database is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.archive.SlashEventsByActor(c.Param("actor"), limit)
	if err != nil {
		s.log.Error("slash history query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to query slash history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"slashes": records})
}

type startRoundRequest struct {
	FarmID          string `json:"farm_id" binding:"required"`
	MinVerifiers    int    `json:"min_verifiers" binding:"required"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// handleStartRound opens a new consensus round (admin)
func (s *Server) handleStartRound(c *gin.Context) {
	var req startRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	round, err := s.engine.StartRound(req.FarmID, req.MinVerifiers, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.RecordRoundStarted()
	c.JSON(http.StatusCreated, gin.H{
		"round_id":      round.ID,
		"farm_id":       round.FarmID,
		"min_verifiers": round.MinVerifiers,
		"start_time":    round.StartTime,
		"end_time":      round.EndTime,
	})
}

// handleGetRound returns the round status
func (s *Server) handleGetRound(c *gin.Context) {
	id := c.Param("id")
	cacheKey := "round:" + id

	if s.cache != nil {
		var cached oracle.RoundStatus
		if err := s.cache.GetJSON(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	status, err := s.engine.Status(id)
	if err != nil {
		s.respondError(c, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(c.Request.Context(), cacheKey, status, s.cacheTTL); err != nil {
			s.log.Debug("cache set failed", "key", cacheKey, "error", err)
		}
	}
	c.JSON(http.StatusOK, status)
}

// handleGetParticipants returns the round's actors in submission order
func (s *Server) handleGetParticipants(c *gin.Context) {
	participants, err := s.engine.Participants(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

type submitProofRequest struct {
	Actor        string `json:"actor" binding:"required"`
	ReturnValue  string `json:"return_value" binding:"required"`
	ProofPayload string `json:"proof_payload"`
}

// handleSubmitProof records a verifier's attestation
func (s *Server) handleSubmitProof(c *gin.Context) {
	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	value, err := math.LegacyNewDecFromStr(req.ReturnValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "return_value must be a decimal string"})
		return
	}

	roundID := c.Param("id")
	result, err := s.engine.SubmitProof(roundID, req.Actor, value, []byte(req.ProofPayload))
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.SubmissionsTotal.Inc()
	s.invalidateRound(c, roundID)
	s.invalidateVerifier(c, req.Actor)

	resp := gin.H{
		"round_id":        result.RoundID,
		"num_submissions": result.NumSubmissions,
		"finalized":       result.Finalized,
	}
	if result.Finalized {
		metrics.RecordRoundFinalized()
		metrics.SlashEvents.Add(float64(len(result.Slashed)))
		resp["consensus_return"] = result.ConsensusReturn
		resp["slashed"] = result.Slashed
		for _, sl := range result.Slashed {
			if sl.Deactivated {
				metrics.ActiveVerifiers.Dec()
			}
			s.invalidateVerifier(c, sl.Actor)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleExpireRound marks an overdue round as expired (admin)
func (s *Server) handleExpireRound(c *gin.Context) {
	roundID := c.Param("id")
	status, err := s.engine.Expire(roundID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	metrics.RecordRoundExpired()
	s.invalidateRound(c, roundID)
	c.JSON(http.StatusOK, status)
}

// handleGetFarmRounds returns the farm's archived round history
func (s *Server) handleGetFarmRounds(c *gin.Context) {
	if s.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive_disabled", "message": "archive database is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.archive.RoundsByFarm(c.Param("farm"), limit)
	if err != nil {
		s.log.Error("farm rounds query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to query rounds"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rounds": records})
}

// handleGetParams returns the active consensus parameters
func (s *Server) handleGetParams(c *gin.Context) {
	p := s.engine.GetParams()
	c.JSON(http.StatusOK, gin.H{
		"min_stake":           p.MinStake,
		"consensus_threshold": p.ConsensusThreshold,
		"round_duration_secs": int64(p.RoundDuration.Seconds()),
		"slash_penalty_bps":   p.SlashPenaltyBps,
	})
}

type updateParamsRequest struct {
	MinStake             string `json:"min_stake" binding:"required"`
	ConsensusThreshold   string `json:"consensus_threshold" binding:"required"`
	RoundDurationSeconds int64  `json:"round_duration_seconds" binding:"required"`
	SlashPenaltyBps      uint32 `json:"slash_penalty_bps"`
}

// handleUpdateParams replaces the parameter set for future rounds (admin)
func (s *Server) handleUpdateParams(c *gin.Context) {
	var req updateParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	minStake, ok := math.NewIntFromString(req.MinStake)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "min_stake must be an integer string"})
		return
	}
	threshold, err := math.LegacyNewDecFromStr(req.ConsensusThreshold)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "consensus_threshold must be a decimal string"})
		return
	}

	p := oracle.Params{
		MinStake:           minStake,
		ConsensusThreshold: threshold,
		RoundDuration:      time.Duration(req.RoundDurationSeconds) * time.Second,
		SlashPenaltyBps:    req.SlashPenaltyBps,
	}
	if err := s.engine.UpdateParams(p); err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (s *Server) invalidateRound(c *gin.Context, roundID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(c.Request.Context(), "round:"+roundID); err != nil {
		s.log.Debug("cache invalidation failed", "round", roundID, "error", err)
	}
}

func (s *Server) invalidateVerifier(c *gin.Context, actor string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(c.Request.Context(), "verifier:"+actor); err != nil {
		s.log.Debug("cache invalidation failed", "actor", actor, "error", err)
	}
}
