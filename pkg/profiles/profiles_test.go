package profiles

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
)

func sampleProfile(id string) *models.TalentProfile {
	return &models.TalentProfile{
		ID:              id,
		Name:            "Imogen Hale",
		Age:             34,
		Gender:          "female",
		Location:        "london",
		Languages:       []string{"english", "french"},
		Skills:          []string{"stage combat", "horse riding"},
		ExperienceYears: 12,
		Rating:          4.6,
		Bio:             "classically trained stage and screen actress",
		Budget:          &models.BudgetRange{Min: 300, Max: 900},
		Status:          models.TalentActive,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := sampleProfile("t1")
	require.NoError(t, s.Create(ctx, p))

	err := s.Create(ctx, sampleProfile("t1"))
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Imogen Hale", got.Name)

	got.Bio = "updated bio"
	require.NoError(t, s.Update(ctx, got))
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "updated bio", again.Bio)

	require.NoError(t, s.Delete(ctx, "t1"))
	_, err = s.Get(ctx, "t1")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestMemoryStoreCopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := sampleProfile("t1")
	require.NoError(t, s.Create(ctx, p))

	// mutating the caller's copy must not leak into the store
	p.Skills[0] = "juggling"
	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "stage combat", got.Skills[0])

	got.Skills[0] = "juggling"
	again, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "stage combat", again.Skills[0])
}

func TestMemoryStoreArchive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, sampleProfile("t1")))
	require.NoError(t, s.Archive(ctx, "t1"))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TalentArchived, got.Status)

	active, err := s.List(ctx, ListOptions{Status: models.TalentActive})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestMemoryStoreListFiltersAndPages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		p := sampleProfile(id)
		if id == "c" {
			p.Location = "paris"
		}
		require.NoError(t, s.Create(ctx, p))
	}

	london, err := s.List(ctx, ListOptions{Location: "london"})
	require.NoError(t, err)
	assert.Len(t, london, 2)

	paged, err := s.List(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 2)

	n, err := s.Count(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStoreStaleSince(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	old := sampleProfile("old")
	old.LastProjectAt = time.Now().Add(-400 * 24 * time.Hour)
	fresh := sampleProfile("fresh")
	fresh.LastProjectAt = time.Now().Add(-24 * time.Hour)
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, fresh))

	stale, err := s.StaleSince(ctx, time.Now().Add(-365*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)
}

func TestValidateProfileRejectsBadBudget(t *testing.T) {
	p := sampleProfile("t1")
	p.Budget = &models.BudgetRange{Min: 900, Max: 300}
	err := validateProfile(p)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(sqlx.NewDb(db, "postgres"), observability.NewNoopLogger()), mock
}

func TestPostgresStoreDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM talent_profiles WHERE id = $1`)).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDeleteMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM talent_profiles WHERE id = $1`)).
		WithArgs("absent").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Delete(context.Background(), "absent")
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestPostgresStoreArchive(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE talent_profiles SET status = $1, updated_at = now() WHERE id = $2`)).
		WithArgs(models.TalentArchived, "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Archive(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM talent_profiles WHERE 1=1 AND status = $1`)).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background(), ListOptions{Status: models.TalentActive})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}
