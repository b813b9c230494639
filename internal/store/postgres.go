package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"onboarding/api/internal/credentials"
	"onboarding/api/internal/forms"
)

const uniqueViolation = "23505"

const summaryColumns = `
	token, company_name, email, created_at, last_edited_at, expires_at, edit_count, current_version,
	COALESCE(jsonb_array_length(form_data->'sectionB'->'managers'), 0)
`

type PostgresStore struct {
	db     *sql.DB
	sealer credentials.Sealer
}

// NewPostgresStore wires the store. A nil sealer stores manager passwords as
// submitted.
func NewPostgresStore(db *sql.DB, sealer credentials.Sealer) *PostgresStore {
	if sealer == nil {
		log.Printf("store: CREDENTIALS_KEY not set, manager passwords are stored unsealed")
	}
	return &PostgresStore{db: db, sealer: sealer}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertForm(ctx context.Context, record FormRecord, first VersionSnapshot) error {
	formJSON, err := s.encodeFormData(record.FormData)
	if err != nil {
		return err
	}
	versionJSON, err := s.encodeFormData(first.FormData)
	if err != nil {
		return err
	}
	changesJSON, err := encodeChanges(first.Changes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert form: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO forms (
			token, email, company_name, current_version, edit_count, form_data,
			created_at, last_edited_at, expires_at, first_submit_ip, first_submit_user_agent
		)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11)
		ON CONFLICT (token) DO NOTHING
	`, record.Token, record.Email, record.FormData.SectionA.CompanyName, record.CurrentVersion, record.EditCount, formJSON,
		record.CreatedAt, record.LastEditedAt, record.ExpiresAt, record.Metadata.FirstSubmitIP, record.Metadata.FirstSubmitUserAgent)
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("insert form rows: %w", err)
	} else if affected == 0 {
		return ErrTokenTaken
	}

	if err := insertVersion(ctx, tx, record.Token, first, versionJSON, changesJSON); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetForm(ctx context.Context, token string) (FormRecord, error) {
	var (
		record  FormRecord
		rawForm []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, email, current_version, edit_count, form_data, created_at, last_edited_at, expires_at,
			first_submit_ip, first_submit_user_agent
		FROM forms
		WHERE token=$1 AND expires_at > NOW()
	`, token).Scan(
		&record.Token,
		&record.Email,
		&record.CurrentVersion,
		&record.EditCount,
		&rawForm,
		&record.CreatedAt,
		&record.LastEditedAt,
		&record.ExpiresAt,
		&record.Metadata.FirstSubmitIP,
		&record.Metadata.FirstSubmitUserAgent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return FormRecord{}, ErrNotFound
	}
	if err != nil {
		return FormRecord{}, fmt.Errorf("get form: %w", err)
	}
	record.FormData, err = s.decodeFormData(rawForm)
	if err != nil {
		return FormRecord{}, err
	}
	return record, nil
}

// AppendVersion writes next as the new root state and appends snapshot, but
// only if the stored version still equals expectedVersion.
func (s *PostgresStore) AppendVersion(ctx context.Context, token string, expectedVersion int, next FormRecord, snapshot VersionSnapshot) error {
	formJSON, err := s.encodeFormData(next.FormData)
	if err != nil {
		return err
	}
	versionJSON, err := s.encodeFormData(snapshot.FormData)
	if err != nil {
		return err
	}
	changesJSON, err := encodeChanges(snapshot.Changes)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE forms
		SET email=$2, company_name=$3, current_version=$4, edit_count=$5, form_data=$6::jsonb, last_edited_at=$7
		WHERE token=$1 AND current_version=$8 AND expires_at > NOW()
	`, token, next.Email, next.FormData.SectionA.CompanyName, next.CurrentVersion, next.EditCount, formJSON, next.LastEditedAt, expectedVersion)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form rows: %w", err)
	}
	if affected == 0 {
		var live bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM forms WHERE token=$1 AND expires_at > NOW())`, token).Scan(&live); err != nil {
			return fmt.Errorf("check form: %w", err)
		}
		if !live {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	if err := insertVersion(ctx, tx, token, snapshot, versionJSON, changesJSON); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append version: %w", err)
	}
	return nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, token string, snapshot VersionSnapshot, formJSON, changesJSON string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO form_versions (token, version_number, form_data, changes, edited_at, ip_address, user_agent)
		VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7)
	`, token, snapshot.VersionNumber, formJSON, changesJSON, snapshot.EditedAt, snapshot.IPAddress, snapshot.UserAgent)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert form version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, token string) ([]VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.version_number, v.form_data, v.changes, v.edited_at, v.ip_address, v.user_agent
		FROM form_versions v
		JOIN forms f ON f.token = v.token
		WHERE v.token=$1 AND f.expires_at > NOW()
		ORDER BY v.version_number ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("list form versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSnapshot, 0)
	for rows.Next() {
		item, err := s.scanVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form versions: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, token string, versionNumber int) (VersionSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT v.version_number, v.form_data, v.changes, v.edited_at, v.ip_address, v.user_agent
		FROM form_versions v
		JOIN forms f ON f.token = v.token
		WHERE v.token=$1 AND v.version_number=$2 AND f.expires_at > NOW()
	`, token, versionNumber)
	item, err := s.scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return VersionSnapshot{}, ErrNotFound
	}
	return item, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanVersion(row rowScanner) (VersionSnapshot, error) {
	var (
		item       VersionSnapshot
		rawForm    []byte
		rawChanges []byte
	)
	if err := row.Scan(&item.VersionNumber, &rawForm, &rawChanges, &item.EditedAt, &item.IPAddress, &item.UserAgent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VersionSnapshot{}, err
		}
		return VersionSnapshot{}, fmt.Errorf("scan form version: %w", err)
	}
	formData, err := s.decodeFormData(rawForm)
	if err != nil {
		return VersionSnapshot{}, err
	}
	item.FormData = formData
	item.Changes = forms.Changelog{}
	if len(rawChanges) > 0 {
		if err := json.Unmarshal(rawChanges, &item.Changes); err != nil {
			return VersionSnapshot{}, fmt.Errorf("decode changes: %w", err)
		}
	}
	return item, nil
}

func (s *PostgresStore) ListForms(ctx context.Context, filter ListFilter) ([]FormSummary, int, error) {
	pattern := likePattern(filter.Search)
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	const where = `
		WHERE expires_at > NOW()
			AND ($1 = '' OR company_name ILIKE $1 OR email ILIKE $1 OR token ILIKE $1)
	`
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM forms`+where, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM forms`+where+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	items, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// SummariesByTokens returns the live records among tokens, newest first.
func (s *PostgresStore) SummariesByTokens(ctx context.Context, tokens []string) ([]FormSummary, error) {
	if len(tokens) == 0 {
		return []FormSummary{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+`
		FROM forms
		WHERE token = ANY($1) AND expires_at > NOW()
		ORDER BY created_at DESC
	`, tokens)
	if err != nil {
		return nil, fmt.Errorf("list forms by token: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *PostgresStore) AllForms(ctx context.Context) ([]FormSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+`
		FROM forms
		WHERE expires_at > NOW()
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list all forms: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]FormSummary, error) {
	items := make([]FormSummary, 0)
	for rows.Next() {
		var item FormSummary
		if err := rows.Scan(
			&item.Token,
			&item.CompanyName,
			&item.Email,
			&item.CreatedAt,
			&item.LastEditedAt,
			&item.ExpiresAt,
			&item.EditCount,
			&item.CurrentVersion,
			&item.ManagersCount,
		); err != nil {
			return nil, fmt.Errorf("scan form summary: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form summaries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Stats(ctx context.Context, monthStart time.Time) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE edit_count > 0),
			COALESCE(AVG(edit_count), 0)::float8
		FROM forms
		WHERE expires_at > NOW()
	`, monthStart).Scan(&stats.TotalForms, &stats.FormsThisMonth, &stats.EditedForms, &stats.AverageEdits)
	if err != nil {
		return Stats{}, fmt.Errorf("form stats: %w", err)
	}
	return stats, nil
}

// DeleteForm removes a record and, through the foreign key, its versions.
func (s *PostgresStore) DeleteForm(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete form rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired deletes every expired record and returns the removed tokens.
func (s *PostgresStore) PurgeExpired(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `DELETE FROM forms WHERE expires_at <= NOW() RETURNING token`)
	if err != nil {
		return nil, fmt.Errorf("purge expired forms: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan purged token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged tokens: %w", err)
	}
	return tokens, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) encodeFormData(data forms.FormData) (string, error) {
	sealed := data.Normalize()
	if s.sealer != nil {
		for i := range sealed.SectionB.Managers {
			value, err := s.sealer.Seal(sealed.SectionB.Managers[i].Password)
			if err != nil {
				return "", fmt.Errorf("seal manager password: %w", err)
			}
			sealed.SectionB.Managers[i].Password = value
		}
	}
	encoded, err := json.Marshal(sealed)
	if err != nil {
		return "", fmt.Errorf("marshal form data: %w", err)
	}
	return string(encoded), nil
}

func (s *PostgresStore) decodeFormData(raw []byte) (forms.FormData, error) {
	var data forms.FormData
	if err := json.Unmarshal(raw, &data); err != nil {
		return forms.FormData{}, fmt.Errorf("decode form data: %w", err)
	}
	if s.sealer != nil {
		for i := range data.SectionB.Managers {
			value, err := s.sealer.Open(data.SectionB.Managers[i].Password)
			if err != nil {
				return forms.FormData{}, fmt.Errorf("open manager password: %w", err)
			}
			data.SectionB.Managers[i].Password = value
		}
	}
	return data.Normalize(), nil
}

func encodeChanges(changes forms.Changelog) (string, error) {
	if changes == nil {
		changes = forms.Changelog{}
	}
	encoded, err := json.Marshal(changes)
	if err != nil {
		return "", fmt.Errorf("marshal changes: %w", err)
	}
	return string(encoded), nil
}

// likePattern turns free text into an ILIKE substring pattern, escaping the
// wildcard characters the user typed.
func likePattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(search) + "%"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
