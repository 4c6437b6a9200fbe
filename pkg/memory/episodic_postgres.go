package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/embedding"
)

// EpisodicSchema creates the episodic memory table
const EpisodicSchema = `
CREATE TABLE IF NOT EXISTS episodic_memories (
    id                  UUID PRIMARY KEY,
    owner               TEXT NOT NULL,
    event_type          TEXT NOT NULL,
    payload             JSONB NOT NULL DEFAULT '{}',
    importance          DOUBLE PRECISION NOT NULL,
    emotional_valence   DOUBLE PRECISION NOT NULL,
    reinforcement_count INTEGER NOT NULL DEFAULT 0,
    last_accessed       TIMESTAMPTZ NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL,
    context_embedding   BYTEA
);
CREATE INDEX IF NOT EXISTS idx_episodic_owner ON episodic_memories (owner);
CREATE INDEX IF NOT EXISTS idx_episodic_importance ON episodic_memories (importance DESC, created_at DESC);
`

type episodicRow struct {
	ID            string    `db:"id"`
	Owner         string    `db:"owner"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	Importance    float64   `db:"importance"`
	Valence       float64   `db:"emotional_valence"`
	Reinforcement int       `db:"reinforcement_count"`
	LastAccessed  time.Time `db:"last_accessed"`
	CreatedAt     time.Time `db:"created_at"`
	Embedding     []byte    `db:"context_embedding"`
}

func toEpisodicRow(mem *EpisodicMemory) (*episodicRow, error) {
	payload, err := json.Marshal(mem.Payload)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindValidation, "payload is not serialisable")
	}
	return &episodicRow{
		ID:            mem.ID,
		Owner:         mem.Owner,
		EventType:     mem.EventType,
		Payload:       payload,
		Importance:    mem.Importance,
		Valence:       mem.Valence,
		Reinforcement: mem.Reinforcement,
		LastAccessed:  mem.LastAccessed,
		CreatedAt:     mem.CreatedAt,
		Embedding:     packVector(mem.Embedding),
	}, nil
}

func (r *episodicRow) toMemory() (*EpisodicMemory, error) {
	mem := &EpisodicMemory{
		ID:            r.ID,
		Owner:         r.Owner,
		EventType:     r.EventType,
		Importance:    r.Importance,
		Valence:       r.Valence,
		Reinforcement: r.Reinforcement,
		LastAccessed:  r.LastAccessed,
		CreatedAt:     r.CreatedAt,
		Embedding:     unpackVector(r.Embedding),
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &mem.Payload); err != nil {
			return nil, apperrors.Wrap(err, apperrors.KindPersistence, "corrupt episodic payload")
		}
	}
	return mem, nil
}

// PostgresEpisodicStore persists episodic memories in Postgres.
// Similarity search decodes embeddings and scores in process; the table
// stays portable across plain Postgres installs.
type PostgresEpisodicStore struct {
	db *sqlx.DB
}

func NewPostgresEpisodicStore(db *sqlx.DB) (*PostgresEpisodicStore, error) {
	if _, err := db.Exec(EpisodicSchema); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "create episodic schema")
	}
	return &PostgresEpisodicStore{db: db}, nil
}

func (s *PostgresEpisodicStore) Store(ctx context.Context, mem *EpisodicMemory) error {
	if err := validateEpisodic(mem); err != nil {
		return err
	}
	if mem.ID == "" {
		mem.ID = uuid.New().String()
	}
	now := time.Now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.LastAccessed.IsZero() {
		mem.LastAccessed = mem.CreatedAt
	}

	row, err := toEpisodicRow(mem)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO episodic_memories (id, owner, event_type, payload, importance, emotional_valence,
		                               reinforcement_count, last_accessed, created_at, context_embedding)
		VALUES (:id, :owner, :event_type, :payload, :importance, :emotional_valence,
		        :reinforcement_count, :last_accessed, :created_at, :context_embedding)`, row)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "insert episodic memory")
	}
	return nil
}

func (s *PostgresEpisodicStore) Get(ctx context.Context, id string) (*EpisodicMemory, error) {
	var row episodicRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM episodic_memories WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "episodic memory %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "get episodic memory")
	}
	return row.toMemory()
}

func (s *PostgresEpisodicStore) Update(ctx context.Context, mem *EpisodicMemory) error {
	if err := validateEpisodic(mem); err != nil {
		return err
	}
	row, err := toEpisodicRow(mem)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE episodic_memories
		SET payload = :payload, importance = :importance, emotional_valence = :emotional_valence,
		    reinforcement_count = :reinforcement_count, last_accessed = :last_accessed,
		    context_embedding = :context_embedding
		WHERE id = :id`, row)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "update episodic memory")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "episodic memory %s not found", mem.ID)
	}
	return nil
}

func (s *PostgresEpisodicStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM episodic_memories WHERE id IN (?)`, ids)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "build delete query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "delete episodic memories")
	}
	return nil
}

func (s *PostgresEpisodicStore) Reinforce(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE episodic_memories
		SET reinforcement_count = reinforcement_count + 1, last_accessed = NOW()
		WHERE id IN (?)`, ids)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "build reinforce query")
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "reinforce episodic memories")
	}
	return nil
}

func (s *PostgresEpisodicStore) Similar(ctx context.Context, vec []float32, k int) ([]*EpisodicMemory, error) {
	if len(vec) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "context vector is required")
	}
	if k <= 0 {
		k = 3
	}

	var rows []episodicRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM episodic_memories
		WHERE context_embedding IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1000`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "scan episodic memories")
	}

	type scored struct {
		mem *EpisodicMemory
		sim float64
	}
	candidates := make([]scored, 0, len(rows))
	for i := range rows {
		mem, err := rows[i].toMemory()
		if err != nil {
			return nil, err
		}
		if len(mem.Embedding) != len(vec) {
			continue
		}
		candidates = append(candidates, scored{mem, embedding.CosineSimilarity(vec, mem.Embedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].mem.ID < candidates[j].mem.ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]*EpisodicMemory, len(candidates))
	for i, c := range candidates {
		out[i] = c.mem
	}
	return out, nil
}

func (s *PostgresEpisodicStore) Recent(ctx context.Context, minImportance float64, limit int) ([]*EpisodicMemory, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []episodicRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM episodic_memories
		WHERE importance >= $1
		ORDER BY created_at DESC, id
		LIMIT $2`, minImportance, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "list episodic memories")
	}
	out := make([]*EpisodicMemory, 0, len(rows))
	for i := range rows {
		mem, err := rows[i].toMemory()
		if err != nil {
			return nil, err
		}
		out = append(out, mem)
	}
	return out, nil
}

// Prune evaluates the retention curve in process; the formula is not
// expressible in portable SQL
func (s *PostgresEpisodicStore) Prune(ctx context.Context, cutoff, importanceMax float64) (int, error) {
	var rows []episodicRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM episodic_memories WHERE importance < $1`, importanceMax)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindPersistence, "scan prune candidates")
	}

	now := time.Now()
	var doomed []string
	for i := range rows {
		mem, err := rows[i].toMemory()
		if err != nil {
			return 0, err
		}
		if mem.Retention(now) < cutoff {
			doomed = append(doomed, mem.ID)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

func (s *PostgresEpisodicStore) Close() error { return s.db.Close() }

// packVector encodes a float32 slice as little-endian bytes with a
// leading count, matching the cache's binary vector layout
func packVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return buf
}

func unpackVector(data []byte) []float32 {
	if len(data) < 4 {
		return nil
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+4*n {
		return nil
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4:]))
	}
	return vec
}
