package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/por-chain/por/internal/oracle"
)

//go:embed schema.sql
var schemaFile embed.FS

// Store is the postgres archive of verifiers, rounds and events. It is a
// write-behind record of the in-memory engine: the engine remains the source
// of truth for open rounds, the archive serves history queries and restarts.
type Store struct {
	*sql.DB
}

// Config holds database configuration
type Config struct {
	URL            string
	MaxConnections int
	MaxIdle        int
	ConnMaxLife    time.Duration
}

// New creates a new archive connection
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLife)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to archive database")

	return &Store{db}, nil
}

// InitSchema initializes the archive schema
func (s *Store) InitSchema() error {
	schema, err := schemaFile.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := s.Exec(string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	log.Info().Msg("Archive schema initialized successfully")
	return nil
}

// UpsertVerifier records the verifier's current ledger state
func (s *Store) UpsertVerifier(v oracle.Verifier) error {
	_, err := s.Exec(`
		INSERT INTO verifiers (actor, stake, reputation, active, total_submissions, times_slashed, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (actor) DO UPDATE SET
			stake = EXCLUDED.stake,
			reputation = EXCLUDED.reputation,
			active = EXCLUDED.active,
			total_submissions = EXCLUDED.total_submissions,
			times_slashed = EXCLUDED.times_slashed,
			updated_at = NOW()
	`, v.Actor, v.Stake.String(), v.Reputation, v.Active, v.TotalSubmissions, v.TimesSlashed, v.RegisteredAt)
	return err
}

// UpsertRound records the round's current state
func (s *Store) UpsertRound(r oracle.ConsensusRound) error {
	var consensus sql.NullString
	if r.State == oracle.RoundFinalized {
		consensus = sql.NullString{String: r.ConsensusReturn.String(), Valid: true}
	}
	_, err := s.Exec(`
		INSERT INTO rounds (id, farm_id, state, min_verifiers, num_submissions, consensus_return, threshold, penalty_bps, start_time, end_time, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			num_submissions = EXCLUDED.num_submissions,
			consensus_return = EXCLUDED.consensus_return,
			updated_at = NOW()
	`, r.ID, r.FarmID, r.State.String(), r.MinVerifiers, len(r.Participants),
		consensus, r.Threshold.String(), r.PenaltyBps, r.StartTime, r.EndTime)
	return err
}

// InsertSubmission records one verifier's proof for a round
func (s *Store) InsertSubmission(roundID string, p oracle.ReturnProof) error {
	_, err := s.Exec(`
		INSERT INTO submissions (round_id, actor, return_value, submitted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (round_id, actor) DO NOTHING
	`, roundID, p.Actor, p.ReturnValue.String(), p.SubmittedAt)
	return err
}

// InsertSlashEvent records a slashing outcome
func (s *Store) InsertSlashEvent(roundID string, res oracle.SlashResult, at time.Time) error {
	_, err := s.Exec(`
		INSERT INTO slash_events (round_id, actor, slashed_amount, remaining_stake, reputation, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, roundID, res.Actor, res.SlashedAmount.String(), res.RemainingStake.String(), res.Reputation, at)
	return err
}

// InsertEvent archives a raw core event
func (s *Store) InsertEvent(ev oracle.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal event attributes: %w", err)
	}
	_, err = s.Exec(`
		INSERT INTO oracle_events (type, attributes, emitted_at)
		VALUES ($1, $2, $3)
	`, ev.Type, attrs, ev.Timestamp)
	return err
}

// RoundRecord is an archived round row
type RoundRecord struct {
	ID              string    `json:"id"`
	FarmID          string    `json:"farm_id"`
	State           string    `json:"state"`
	MinVerifiers    int       `json:"min_verifiers"`
	NumSubmissions  int       `json:"num_submissions"`
	ConsensusReturn *string   `json:"consensus_return,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

// RoundsByFarm returns the farm's most recent rounds, newest first
func (s *Store) RoundsByFarm(farmID string, limit int) ([]RoundRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.Query(`
		SELECT id, farm_id, state, min_verifiers, num_submissions, consensus_return, start_time, end_time
		FROM rounds
		WHERE farm_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, farmID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		var rec RoundRecord
		var consensus sql.NullString
		if err := rows.Scan(&rec.ID, &rec.FarmID, &rec.State, &rec.MinVerifiers,
			&rec.NumSubmissions, &consensus, &rec.StartTime, &rec.EndTime); err != nil {
			return nil, err
		}
		if consensus.Valid {
			rec.ConsensusReturn = &consensus.String
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SlashEventRecord is an archived slashing row
type SlashEventRecord struct {
	ID             int64     `json:"id"`
	RoundID        string    `json:"round_id"`
	Actor          string    `json:"actor"`
	SlashedAmount  string    `json:"slashed_amount"`
	RemainingStake string    `json:"remaining_stake"`
	Reputation     uint32    `json:"reputation"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SlashEventsByActor returns the actor's slashing history, newest first
func (s *Store) SlashEventsByActor(actor string, limit int) ([]SlashEventRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.Query(`
		SELECT id, round_id, actor, slashed_amount, remaining_stake, reputation, occurred_at
		FROM slash_events
		WHERE actor = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, actor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SlashEventRecord
	for rows.Next() {
		var rec SlashEventRecord
		if err := rows.Scan(&rec.ID, &rec.RoundID, &rec.Actor, &rec.SlashedAmount,
			&rec.RemainingStake, &rec.Reputation, &rec.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
