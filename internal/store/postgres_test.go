package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboarding/api/internal/credentials"
	"onboarding/api/internal/forms"
)

func setupPostgresMock(t *testing.T, sealer credentials.Sealer) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresStore(db, sealer), mock
}

// withoutSecret matches a JSON argument that does not contain secret.
type withoutSecret struct {
	secret string
}

func (m withoutSecret) Match(value driver.Value) bool {
	encoded, ok := value.(string)
	return ok && strings.Contains(encoded, `"managers"`) && !strings.Contains(encoded, m.secret)
}

func TestPostgresInsertFormSealsPasswords(t *testing.T) {
	pg, mock := setupPostgresMock(t, credentials.NewAEADSealer("unit-key"))
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := testRecord("tok-1", now)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forms").
		WithArgs("tok-1", "a@x.com", "Acme", 1, 0, withoutSecret{"s3cret!pass"},
			now, now, record.ExpiresAt, "10.0.0.1", "test-agent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO form_versions").
		WithArgs("tok-1", 1, withoutSecret{"s3cret!pass"}, "{}", now, "10.0.0.1", "test-agent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, pg.InsertForm(context.Background(), record, firstSnapshot(record)))
}

func TestPostgresInsertFormReportsTakenToken(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	record := testRecord("tok-1", time.Now())

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO forms").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := pg.InsertForm(context.Background(), record, firstSnapshot(record))
	assert.ErrorIs(t, err, ErrTokenTaken)
}

func TestPostgresGetFormOpensSealedPasswords(t *testing.T) {
	sealer := credentials.NewAEADSealer("unit-key")
	pg, mock := setupPostgresMock(t, sealer)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := testRecord("tok-1", now)

	sealed, err := pg.encodeFormData(record.FormData)
	require.NoError(t, err)
	require.NotContains(t, sealed, "s3cret!pass")

	rows := sqlmock.NewRows([]string{
		"token", "email", "current_version", "edit_count", "form_data", "created_at", "last_edited_at",
		"expires_at", "first_submit_ip", "first_submit_user_agent",
	}).AddRow("tok-1", "a@x.com", 3, 2, []byte(sealed), now, now, record.ExpiresAt, "10.0.0.1", "test-agent")
	mock.ExpectQuery("FROM forms").WithArgs("tok-1").WillReturnRows(rows)

	loaded, err := pg.GetForm(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.CurrentVersion)
	assert.Equal(t, "s3cret!pass", loaded.FormData.SectionB.Managers[0].Password)
	assert.Equal(t, "test-agent", loaded.Metadata.FirstSubmitUserAgent)
}

func TestPostgresGetFormMissing(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	mock.ExpectQuery("FROM forms").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := pg.GetForm(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresAppendVersion(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := testRecord("tok-1", now)
	next, snapshot := nextVersion(record, "Acme2", now.Add(time.Minute))

	t.Run("commits when version matches", func(t *testing.T) {
		pg, mock := setupPostgresMock(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE forms").
			WithArgs("tok-1", "a@x.com", "Acme2", 2, 1, sqlmock.AnyArg(), next.LastEditedAt, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO form_versions").
			WithArgs("tok-1", 2, sqlmock.AnyArg(), `{"sectionA.companyName":{"old":"Acme","new":"Acme2"}}`, snapshot.EditedAt, "", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, pg.AppendVersion(context.Background(), "tok-1", 1, next, snapshot))
	})

	t.Run("conflict when version moved", func(t *testing.T) {
		pg, mock := setupPostgresMock(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE forms").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs("tok-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := pg.AppendVersion(context.Background(), "tok-1", 1, next, snapshot)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("not found when record is gone", func(t *testing.T) {
		pg, mock := setupPostgresMock(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE forms").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").WithArgs("tok-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := pg.AppendVersion(context.Background(), "tok-1", 1, next, snapshot)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate version row is a conflict", func(t *testing.T) {
		pg, mock := setupPostgresMock(t, nil)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE forms").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO form_versions").WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectRollback()

		err := pg.AppendVersion(context.Background(), "tok-1", 1, next, snapshot)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})
}

func TestPostgresListVersions(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := testRecord("tok-1", now)
	formJSON, err := json.Marshal(record.FormData)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"version_number", "form_data", "changes", "edited_at", "ip_address", "user_agent"}).
		AddRow(1, formJSON, []byte(`{}`), now, "10.0.0.1", "ua").
		AddRow(2, formJSON, []byte(`{"sectionA.cashoutLimit":{"old":"(empty)","new":"500"}}`), now, "10.0.0.2", "ua")
	mock.ExpectQuery("FROM form_versions").WithArgs("tok-1").WillReturnRows(rows)

	versions, err := pg.ListVersions(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Empty(t, versions[0].Changes)
	assert.Equal(t, forms.Change{Old: "(empty)", New: "500"}, versions[1].Changes["sectionA.cashoutLimit"])

	mock.ExpectQuery("FROM form_versions").WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"version_number", "form_data", "changes", "edited_at", "ip_address", "user_agent"}))
	_, err = pg.ListVersions(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresListFormsEscapesSearch(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM forms`).WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ORDER BY created_at DESC").WithArgs(`%50\%%`, 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{
			"token", "company_name", "email", "created_at", "last_edited_at", "expires_at", "edit_count", "current_version", "managers",
		}).AddRow("tok-1", "50% Club", "a@x.com", now, now, now.Add(time.Hour), 0, 1, 2))

	items, total, err := pg.ListForms(context.Background(), ListFilter{Search: " 50% ", Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "50% Club", items[0].CompanyName)
	assert.Equal(t, 2, items[0].ManagersCount)
}

func TestPostgresStats(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	monthStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("FILTER").WithArgs(monthStart).
		WillReturnRows(sqlmock.NewRows([]string{"total", "month", "edited", "avg"}).AddRow(4, 2, 1, 0.75))

	stats, err := pg.Stats(context.Background(), monthStart)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalForms: 4, FormsThisMonth: 2, EditedForms: 1, AverageEdits: 0.75}, stats)
}

func TestPostgresDeleteAndPurge(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)

	mock.ExpectExec("DELETE FROM forms WHERE token").WithArgs("tok-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM forms WHERE token").WithArgs("tok-2").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("DELETE FROM forms WHERE expires_at").
		WillReturnRows(sqlmock.NewRows([]string{"token"}).AddRow("old-1").AddRow("old-2"))

	require.NoError(t, pg.DeleteForm(context.Background(), "tok-1"))
	assert.ErrorIs(t, pg.DeleteForm(context.Background(), "tok-2"), ErrNotFound)

	purged, err := pg.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old-1", "old-2"}, purged)
}

func TestPostgresWrapsDriverErrors(t *testing.T) {
	pg, mock := setupPostgresMock(t, nil)
	mock.ExpectQuery("FROM forms").WillReturnError(errors.New("connection reset"))

	_, err := pg.GetForm(context.Background(), "tok-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get form")
}
