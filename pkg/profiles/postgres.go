package profiles

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
)

// Schema for the talent_profiles table. Applied by the operator, kept
// here so the store and its migrations stay in one place.
const Schema = `
CREATE TABLE IF NOT EXISTS talent_profiles (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    age               INT NOT NULL DEFAULT 0,
    gender            TEXT NOT NULL DEFAULT '',
    location          TEXT NOT NULL DEFAULT '',
    height_cm         DOUBLE PRECISION NOT NULL DEFAULT 0,
    languages         TEXT[] NOT NULL DEFAULT '{}',
    skills            TEXT[] NOT NULL DEFAULT '{}',
    experience_years  INT NOT NULL DEFAULT 0,
    awards            INT NOT NULL DEFAULT 0,
    project_count     INT NOT NULL DEFAULT 0,
    followers         INT NOT NULL DEFAULT 0,
    rating            DOUBLE PRECISION NOT NULL DEFAULT 0,
    mentions          INT NOT NULL DEFAULT 0,
    trending          BOOLEAN NOT NULL DEFAULT FALSE,
    recent_box_office DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_project_at   TIMESTAMPTZ,
    avail_from        TIMESTAMPTZ,
    avail_to          TIMESTAMPTZ,
    budget_min        DOUBLE PRECISION,
    budget_max        DOUBLE PRECISION,
    bio               TEXT NOT NULL DEFAULT '',
    status            TEXT NOT NULL DEFAULT 'active',
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_talent_profiles_status ON talent_profiles(status);
CREATE INDEX IF NOT EXISTS idx_talent_profiles_location ON talent_profiles(location);
`

// profileRow is the flat scan target; slices and nullable windows need
// adapters sqlx cannot derive
type profileRow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	Age             int             `db:"age"`
	Gender          string          `db:"gender"`
	Location        string          `db:"location"`
	HeightCM        float64         `db:"height_cm"`
	Languages       pq.StringArray  `db:"languages"`
	Skills          pq.StringArray  `db:"skills"`
	ExperienceYears int             `db:"experience_years"`
	Awards          int             `db:"awards"`
	ProjectCount    int             `db:"project_count"`
	Followers       int             `db:"followers"`
	Rating          float64         `db:"rating"`
	Mentions        int             `db:"mentions"`
	Trending        bool            `db:"trending"`
	RecentBoxOffice float64         `db:"recent_box_office"`
	LastProjectAt   sql.NullTime    `db:"last_project_at"`
	AvailFrom       sql.NullTime    `db:"avail_from"`
	AvailTo         sql.NullTime    `db:"avail_to"`
	BudgetMin       sql.NullFloat64 `db:"budget_min"`
	BudgetMax       sql.NullFloat64 `db:"budget_max"`
	Bio             string          `db:"bio"`
	Status          string          `db:"status"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func toRow(p *models.TalentProfile) profileRow {
	row := profileRow{
		ID:              p.ID,
		Name:            p.Name,
		Age:             p.Age,
		Gender:          p.Gender,
		Location:        p.Location,
		HeightCM:        p.HeightCM,
		Languages:       pq.StringArray(p.Languages),
		Skills:          pq.StringArray(p.Skills),
		ExperienceYears: p.ExperienceYears,
		Awards:          p.Awards,
		ProjectCount:    p.ProjectCount,
		Followers:       p.Followers,
		Rating:          p.Rating,
		Mentions:        p.Mentions,
		Trending:        p.Trending,
		RecentBoxOffice: p.RecentBoxOffice,
		Bio:             p.Bio,
		Status:          string(p.Status),
		UpdatedAt:       p.UpdatedAt,
	}
	if !p.LastProjectAt.IsZero() {
		row.LastProjectAt = sql.NullTime{Time: p.LastProjectAt, Valid: true}
	}
	if p.Availability != nil {
		row.AvailFrom = sql.NullTime{Time: p.Availability.From, Valid: true}
		row.AvailTo = sql.NullTime{Time: p.Availability.To, Valid: true}
	}
	if p.Budget != nil {
		row.BudgetMin = sql.NullFloat64{Float64: p.Budget.Min, Valid: true}
		row.BudgetMax = sql.NullFloat64{Float64: p.Budget.Max, Valid: true}
	}
	return row
}

func (r profileRow) toProfile() *models.TalentProfile {
	p := &models.TalentProfile{
		ID:              r.ID,
		Name:            r.Name,
		Age:             r.Age,
		Gender:          r.Gender,
		Location:        r.Location,
		HeightCM:        r.HeightCM,
		Languages:       []string(r.Languages),
		Skills:          []string(r.Skills),
		ExperienceYears: r.ExperienceYears,
		Awards:          r.Awards,
		ProjectCount:    r.ProjectCount,
		Followers:       r.Followers,
		Rating:          r.Rating,
		Mentions:        r.Mentions,
		Trending:        r.Trending,
		RecentBoxOffice: r.RecentBoxOffice,
		Bio:             r.Bio,
		Status:          models.TalentStatus(r.Status),
		UpdatedAt:       r.UpdatedAt,
	}
	if r.LastProjectAt.Valid {
		p.LastProjectAt = r.LastProjectAt.Time
	}
	if r.AvailFrom.Valid && r.AvailTo.Valid {
		p.Availability = &models.AvailabilityWindow{From: r.AvailFrom.Time, To: r.AvailTo.Time}
	}
	if r.BudgetMin.Valid && r.BudgetMax.Valid {
		p.Budget = &models.BudgetRange{Min: r.BudgetMin.Float64, Max: r.BudgetMax.Float64}
	}
	return p
}

// PostgresStore persists profiles in Postgres via sqlx
type PostgresStore struct {
	db     *sqlx.DB
	logger observability.Logger
}

// NewPostgresStore wraps an open connection pool
func NewPostgresStore(db *sqlx.DB, logger observability.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const insertColumns = `id, name, age, gender, location, height_cm, languages, skills,
	experience_years, awards, project_count, followers, rating, mentions, trending,
	recent_box_office, last_project_at, avail_from, avail_to, budget_min, budget_max,
	bio, status, updated_at`

const insertBindings = `:id, :name, :age, :gender, :location, :height_cm, :languages, :skills,
	:experience_years, :awards, :project_count, :followers, :rating, :mentions, :trending,
	:recent_box_office, :last_project_at, :avail_from, :avail_to, :budget_min, :budget_max,
	:bio, :status, :updated_at`

func (s *PostgresStore) Create(ctx context.Context, profile *models.TalentProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	if profile.Status == "" {
		profile.Status = models.TalentActive
	}
	profile.UpdatedAt = time.Now().UTC()

	query := `INSERT INTO talent_profiles (` + insertColumns + `) VALUES (` + insertBindings + `)`
	if _, err := s.db.NamedExecContext(ctx, query, toRow(profile)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return apperrors.Newf(apperrors.KindValidation, "profile %s already exists", profile.ID)
		}
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to insert profile")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.TalentProfile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM talent_profiles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "failed to load profile")
	}
	return row.toProfile(), nil
}

func (s *PostgresStore) Update(ctx context.Context, profile *models.TalentProfile) error {
	if err := validateProfile(profile); err != nil {
		return err
	}
	profile.UpdatedAt = time.Now().UTC()

	query := `UPDATE talent_profiles SET
		name = :name, age = :age, gender = :gender, location = :location,
		height_cm = :height_cm, languages = :languages, skills = :skills,
		experience_years = :experience_years, awards = :awards,
		project_count = :project_count, followers = :followers, rating = :rating,
		mentions = :mentions, trending = :trending, recent_box_office = :recent_box_office,
		last_project_at = :last_project_at, avail_from = :avail_from, avail_to = :avail_to,
		budget_min = :budget_min, budget_max = :budget_max, bio = :bio,
		status = :status, updated_at = :updated_at
	WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, toRow(profile))
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to update profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", profile.ID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM talent_profiles WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to delete profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	return nil
}

func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE talent_profiles SET status = $1, updated_at = now() WHERE id = $2`,
		models.TalentArchived, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindPersistence, "failed to archive profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "profile %s not found", id)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*models.TalentProfile, error) {
	query := `SELECT * FROM talent_profiles WHERE 1=1`
	args := []interface{}{}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if opts.Location != "" {
		args = append(args, opts.Location)
		query += ` AND location = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY updated_at DESC, id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	var rows []profileRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "failed to list profiles")
	}
	out := make([]*models.TalentProfile, len(rows))
	for i, r := range rows {
		out[i] = r.toProfile()
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, opts ListOptions) (int, error) {
	query := `SELECT COUNT(*) FROM talent_profiles WHERE 1=1`
	args := []interface{}{}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if opts.Location != "" {
		args = append(args, opts.Location)
		query += ` AND location = $` + strconv.Itoa(len(args))
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindPersistence, "failed to count profiles")
	}
	return n, nil
}

func (s *PostgresStore) StaleSince(ctx context.Context, cutoff time.Time) ([]*models.TalentProfile, error) {
	var rows []profileRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM talent_profiles
		 WHERE status = $1 AND last_project_at IS NOT NULL AND last_project_at < $2`,
		models.TalentActive, cutoff)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindPersistence, "failed to load stale profiles")
	}
	out := make([]*models.TalentProfile, len(rows))
	for i, r := range rows {
		out[i] = r.toProfile()
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }
