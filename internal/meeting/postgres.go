package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/types"
)

// Schema is the SQL DDL for the tables the store reads and writes. Execute it
// via [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    instructions TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS meetings (
    id               TEXT PRIMARY KEY,
    agent_id         TEXT NOT NULL REFERENCES agents(id),
    room_id          TEXT NOT NULL DEFAULT '',
    connection_token TEXT NOT NULL DEFAULT '',
    summary          TEXT NOT NULL DEFAULT '',
    transcript       JSONB NOT NULL DEFAULT '[]',
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_meetings_agent ON meetings(agent_id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db       DB
	newToken func() string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on db. The caller is responsible for
// calling [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, newToken: uuid.NewString}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("meeting: migrate: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, meetingID string) (*Meeting, error) {
	const query = `
		SELECT id, agent_id, room_id, summary, created_at, updated_at
		FROM meetings
		WHERE id = $1`

	var m Meeting
	err := s.db.QueryRow(ctx, query, meetingID).Scan(
		&m.ID, &m.AgentID, &m.RoomID, &m.Summary, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("meeting: get %q: %w", meetingID, ErrNotFound)
		}
		return nil, fmt.Errorf("meeting: get %q: %w", meetingID, err)
	}
	if m.RoomID == "" {
		m.RoomID = m.ID
	}
	return &m, nil
}

// FetchAgentInstructions implements [Store].
func (s *PostgresStore) FetchAgentInstructions(ctx context.Context, agentID string) (string, error) {
	const query = `SELECT instructions FROM agents WHERE id = $1`

	var instructions string
	if err := s.db.QueryRow(ctx, query, agentID).Scan(&instructions); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("meeting: agent %q: %w", agentID, ErrNotFound)
		}
		return "", fmt.Errorf("meeting: agent %q: %w", agentID, err)
	}
	return instructions, nil
}

// PushTransportState implements [Store].
func (s *PostgresStore) PushTransportState(ctx context.Context, meetingID string) (audio.TransportState, error) {
	const query = `
		UPDATE meetings SET connection_token = $2, updated_at = now()
		WHERE id = $1
		RETURNING CASE WHEN room_id = '' THEN id ELSE room_id END`

	token := s.newToken()
	var room string
	if err := s.db.QueryRow(ctx, query, meetingID, token).Scan(&room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audio.TransportState{}, fmt.Errorf("meeting: push transport state %q: %w", meetingID, ErrNotFound)
		}
		return audio.TransportState{}, fmt.Errorf("meeting: push transport state %q: %w", meetingID, err)
	}
	return audio.TransportState{ConnectionToken: token, RoomIdentifier: room}, nil
}

// transcriptTurn is the JSONB form of one transcript entry.
type transcriptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SaveSummary implements [Store].
func (s *PostgresStore) SaveSummary(ctx context.Context, meetingID, summary string, transcript []types.ConversationTurn) error {
	rows := make([]transcriptTurn, 0, len(transcript))
	for _, t := range transcript {
		rows = append(rows, transcriptTurn{Role: string(t.Role), Content: t.Content})
	}
	transcriptJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("meeting: marshal transcript: %w", err)
	}

	const query = `
		UPDATE meetings SET summary = $2, transcript = $3, updated_at = now()
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, meetingID, summary, transcriptJSON)
	if err != nil {
		return fmt.Errorf("meeting: save summary %q: %w", meetingID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("meeting: save summary %q: %w", meetingID, ErrNotFound)
	}
	return nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("meeting: ping: %w", err)
	}
	return nil
}
