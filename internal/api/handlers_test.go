package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/por-chain/por/config"
	"github.com/por-chain/por/internal/oracle"
	"github.com/por-chain/por/pkg/logger"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestServer(t *testing.T) (*Server, *testClock) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Output: "stdout"})
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}

	params := oracle.DefaultParams()
	params.MinStake = math.NewInt(100)
	engine, err := oracle.NewEngine(params, log, oracle.WithClock(clock.Now))
	require.NoError(t, err)

	cfg := config.APIConfig{
		Port:        8080,
		CORSOrigins: []string{"*"},
		RateLimit:   1000,
		Timeout:     5 * time.Second,
		JWTSecret:   "test-secret",
	}
	return NewServer(cfg, engine, nil, nil, 0, nil, log), clock
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func adminToken(t *testing.T, s *Server) string {
	t.Helper()
	token, err := s.Auth().GenerateJWT("ops", RoleAdmin, time.Hour)
	require.NoError(t, err)
	return token
}

func registerVerifier(t *testing.T, s *Server, actor, stake string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/verifiers", jsonMap{"actor": actor, "stake": stake}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

type jsonMap = map[string]interface{}

func startRound(t *testing.T, s *Server, farm string, minVerifiers int) string {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/v1/rounds", jsonMap{
		"farm_id":          farm,
		"min_verifiers":    minVerifiers,
		"duration_seconds": 60,
	}, adminToken(t, s))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		RoundID string `json:"round_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RoundID)
	return resp.RoundID
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/version", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterVerifierEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	registerVerifier(t, s, "v1", "500")

	// duplicate registration conflicts
	w := doJSON(t, s, http.MethodPost, "/api/v1/verifiers", jsonMap{"actor": "v1", "stake": "500"}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	// below minimum stake
	w = doJSON(t, s, http.MethodPost, "/api/v1/verifiers", jsonMap{"actor": "v2", "stake": "10"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// malformed stake
	w = doJSON(t, s, http.MethodPost, "/api/v1/verifiers", jsonMap{"actor": "v3", "stake": "not-a-number"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/verifiers/v1", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/verifiers/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartRoundRequiresAdmin(t *testing.T) {
	s, _ := newTestServer(t)

	body := jsonMap{"farm_id": "farm-1", "min_verifiers": 3}

	w := doJSON(t, s, http.MethodPost, "/api/v1/rounds", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/rounds", body, "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// non-admin token is rejected
	token, err := s.Auth().GenerateJWT("viewer", "viewer", time.Hour)
	require.NoError(t, err)
	w = doJSON(t, s, http.MethodPost, "/api/v1/rounds", body, token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, s, http.MethodPost, "/api/v1/rounds", body, adminToken(t, s))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitProofFlow(t *testing.T) {
	s, _ := newTestServer(t)
	for _, actor := range []string{"v1", "v2", "v3"} {
		registerVerifier(t, s, actor, "100")
	}
	roundID := startRound(t, s, "farm-1", 3)

	submit := func(actor, value string) *httptest.ResponseRecorder {
		return doJSON(t, s, http.MethodPost, "/api/v1/rounds/"+roundID+"/proofs", jsonMap{
			"actor":         actor,
			"return_value":  value,
			"proof_payload": "sig",
		}, "")
	}

	w := submit("v1", "100")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// duplicate submission conflicts
	w = submit("v1", "100")
	assert.Equal(t, http.StatusConflict, w.Code)

	// unregistered actor
	w = submit("ghost", "100")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = submit("v2", "101")
	require.Equal(t, http.StatusOK, w.Code)

	w = submit("v3", "200")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Finalized       bool            `json:"finalized"`
		ConsensusReturn string          `json:"consensus_return"`
		Slashed         json.RawMessage `json:"slashed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Finalized)
	assert.Equal(t, "101.000000000000000000", resp.ConsensusReturn)
	assert.NotEmpty(t, resp.Slashed)

	// round is closed now
	w = submit("v1", "100")
	assert.Equal(t, http.StatusConflict, w.Code)

	// status reflects finalization
	w = doJSON(t, s, http.MethodGet, "/api/v1/rounds/"+roundID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Finalized bool   `json:"finalized"`
		State     string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Finalized)
	assert.Equal(t, "finalized", status.State)

	// the slashed verifier lost 5% of 100
	w = doJSON(t, s, http.MethodGet, "/api/v1/verifiers/v3", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var v struct {
		Stake      string `json:"stake"`
		Reputation uint32 `json:"reputation"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "95", v.Stake)
	assert.Equal(t, uint32(90), v.Reputation)
}

func TestGetParticipantsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	registerVerifier(t, s, "v1", "100")
	roundID := startRound(t, s, "farm-1", 3)

	w := doJSON(t, s, http.MethodPost, "/api/v1/rounds/"+roundID+"/proofs", jsonMap{
		"actor": "v1", "return_value": "100", "proof_payload": "sig",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/rounds/"+roundID+"/participants", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Participants []string `json:"participants"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"v1"}, resp.Participants)

	w = doJSON(t, s, http.MethodGet, "/api/v1/rounds/unknown/participants", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpireRoundEndpoint(t *testing.T) {
	s, clock := newTestServer(t)
	roundID := startRound(t, s, "farm-1", 3)
	token := adminToken(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/v1/rounds/"+roundID+"/expire", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// still open
	w = doJSON(t, s, http.MethodPost, "/api/v1/rounds/"+roundID+"/expire", nil, token)
	assert.Equal(t, http.StatusConflict, w.Code)

	clock.Advance(2 * time.Minute)
	w = doJSON(t, s, http.MethodPost, "/api/v1/rounds/"+roundID+"/expire", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "expired", status.State)
}

func TestParamsEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/params", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	body := jsonMap{
		"min_stake":              "2000",
		"consensus_threshold":    "3.5",
		"round_duration_seconds": 120,
		"slash_penalty_bps":      250,
	}

	w = doJSON(t, s, http.MethodPut, "/api/v1/params", body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, s, http.MethodPut, "/api/v1/params", body, adminToken(t, s))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, s, http.MethodGet, "/api/v1/params", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		MinStake string `json:"min_stake"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "2000", resp.MinStake)

	// invalid penalty
	bad := jsonMap{
		"min_stake":              "2000",
		"consensus_threshold":    "3.5",
		"round_duration_seconds": 120,
		"slash_penalty_bps":      20000,
	}
	w = doJSON(t, s, http.MethodPut, "/api/v1/params", bad, adminToken(t, s))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchiveRoutesDisabled(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/v1/farms/farm-1/rounds", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/v1/verifiers/v1/slashes", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
