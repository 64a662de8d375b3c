package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/tenderfeed/tender-cli/internal/db"
	"github.com/tenderfeed/tender-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgUpsertRelease = `INSERT INTO releases (release_id, ocid, date, tag, initiation_type, raw_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (release_id) DO UPDATE SET
			ocid = EXCLUDED.ocid,
			date = EXCLUDED.date,
			tag = EXCLUDED.tag,
			initiation_type = EXCLUDED.initiation_type,
			raw_json = EXCLUDED.raw_json,
			updated_at = now(),
			last_seen = now()
		RETURNING id, created_at, updated_at, last_seen`

	pgUpsertEntity = `INSERT INTO procuring_entities (party_id, name, contact_name, contact_email, contact_phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (party_id) DO UPDATE SET
			name = EXCLUDED.name,
			contact_name = EXCLUDED.contact_name,
			contact_email = EXCLUDED.contact_email,
			contact_phone = EXCLUDED.contact_phone,
			updated_at = now()
		RETURNING id`

	pgUpsertTender = `INSERT INTO tenders (release_id, tender_id, ocid, title, description, status, category,
			additional_procurement_categories, province, city, value_amount, value_currency,
			tender_start_date, tender_end_date, procuring_entity_id, cpv_codes, submission_methods)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (release_id) DO UPDATE SET
			tender_id = EXCLUDED.tender_id,
			ocid = EXCLUDED.ocid,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			category = EXCLUDED.category,
			additional_procurement_categories = EXCLUDED.additional_procurement_categories,
			province = EXCLUDED.province,
			city = EXCLUDED.city,
			value_amount = EXCLUDED.value_amount,
			value_currency = EXCLUDED.value_currency,
			tender_start_date = EXCLUDED.tender_start_date,
			tender_end_date = EXCLUDED.tender_end_date,
			procuring_entity_id = EXCLUDED.procuring_entity_id,
			cpv_codes = EXCLUDED.cpv_codes,
			submission_methods = EXCLUDED.submission_methods,
			updated_at = now()
		RETURNING id, match_score, created_at, updated_at`

	pgInsertError = `INSERT INTO ingestion_errors (run_id, occurred_at, release_id, message, payload_snippet)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := newPoolConfig(connString, poolCfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// newPoolConfig parses connString and applies pool sizing. Hot upserts rely
// on pgx's per-connection statement cache.
func newPoolConfig(connString string, poolCfg *PoolConfig) (*pgxpool.Config, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute
	pgxCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	return pgxCfg, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Releases and tenders ---

func (s *PostgresStore) UpsertRelease(ctx context.Context, r *model.Release) error {
	tag, err := encodeList(r.Tag)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert release")
	}
	err = s.pool.QueryRow(ctx, pgUpsertRelease,
		r.ReleaseID, r.OCID, r.Date, tag, r.InitiationType, []byte(r.RawJSON),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt, &r.LastSeen)
	return eris.Wrapf(err, "postgres: upsert release %s", r.ReleaseID)
}

func (s *PostgresStore) UpsertProcuringEntity(ctx context.Context, e *model.ProcuringEntity) error {
	err := s.pool.QueryRow(ctx, pgUpsertEntity,
		e.PartyID, e.Name, e.ContactName, e.ContactEmail, e.ContactPhone,
	).Scan(&e.ID)
	return eris.Wrapf(err, "postgres: upsert procuring entity %s", e.PartyID)
}

func (s *PostgresStore) UpsertTender(ctx context.Context, t *model.Tender) error {
	apc, err := encodeList(t.AdditionalProcurementCategories)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert tender")
	}
	cpv, err := encodeList(t.CPVCodes)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert tender")
	}
	methods, err := encodeList(t.SubmissionMethods)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert tender")
	}

	err = s.pool.QueryRow(ctx, pgUpsertTender,
		t.ReleaseID, t.TenderID, t.OCID, t.Title, t.Description, string(t.Status), t.Category,
		apc, t.Province, t.City, t.ValueAmount, t.ValueCurrency,
		t.TenderStartDate, t.TenderEndDate, t.ProcuringEntityID, cpv, methods,
	).Scan(&t.ID, &t.MatchScore, &t.CreatedAt, &t.UpdatedAt)
	return eris.Wrapf(err, "postgres: upsert tender %s", t.TenderID)
}

// ReplaceTenderDocuments swaps a tender's document set in one transaction.
func (s *PostgresStore) ReplaceTenderDocuments(ctx context.Context, tenderID int64, docs []model.TenderDocument) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace documents")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM tender_documents WHERE tender_id = $1`, tenderID); err != nil {
		return eris.Wrapf(err, "postgres: delete documents for tender %d", tenderID)
	}

	rows := make([][]any, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []any{tenderID, d.DocumentID, d.DocumentType, d.Title, d.URL, d.DatePublished, d.Format})
	}
	if _, err := db.CopyFrom(ctx, tx, "tender_documents", documentCopyColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert documents for tender %d", tenderID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace documents")
}

func (s *PostgresStore) SetTenderMatchScore(ctx context.Context, tenderID int64, score int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenders SET match_score = $1 WHERE id = $2`,
		score, tenderID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set match score %d", tenderID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "tender %d", tenderID)
	}
	return nil
}

func (s *PostgresStore) GetTender(ctx context.Context, tenderID string) (*model.Tender, error) {
	t, err := scanTender(s.pool.QueryRow(ctx,
		`SELECT `+tenderColumns+`
		FROM tenders t
		LEFT JOIN procuring_entities pe ON pe.id = t.procuring_entity_id
		WHERE t.tender_id = $1`,
		tenderID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "tender %s", tenderID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get tender %s", tenderID)
	}
	return t, nil
}

func (s *PostgresStore) ListTenderDocuments(ctx context.Context, tenderID int64) ([]model.TenderDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM tender_documents WHERE tender_id = $1 ORDER BY id`,
		tenderID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list documents %d", tenderID)
	}
	defer rows.Close()

	docs := []model.TenderDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) CountReleases(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM releases`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count releases")
}

// --- Ingestion log ---

func (s *PostgresStore) CreateRun(ctx context.Context, source model.RunSource) (*model.IngestionRun, error) {
	run := &model.IngestionRun{Source: source, StartedAt: time.Now().UTC()}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingestion_runs (source, started_at) VALUES ($1, $2) RETURNING id`,
		string(source), run.StartedAt,
	).Scan(&run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

// FinishRun finalizes an open run. A run can be finished only once.
func (s *PostgresStore) FinishRun(ctx context.Context, run *model.IngestionRun) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs
		SET finished_at = $1, items_ingested = $2, items_failed = $3, success = $4, details = $5
		WHERE id = $6 AND finished_at IS NULL`,
		now, run.ItemsIngested, run.ItemsFailed, run.Success, run.Details, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %d", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunClosed, "run %d", run.ID)
	}
	run.FinishedAt = &now
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id int64) (*model.IngestionRun, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	switch filter.State {
	case model.RunStateRunning:
		query += ` AND finished_at IS NULL`
	case model.RunStateSucceeded:
		query += ` AND finished_at IS NOT NULL AND success`
	case model.RunStateFailed:
		query += ` AND finished_at IS NOT NULL AND NOT success`
	}
	query += ` ORDER BY started_at DESC, id DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RecordError(ctx context.Context, e *model.IngestionError) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, pgInsertError,
		e.RunID, e.OccurredAt, e.ReleaseID, e.Message, e.PayloadSnippet,
	).Scan(&e.ID)
	return eris.Wrap(err, "postgres: insert ingestion error")
}

func (s *PostgresStore) ListErrors(ctx context.Context, filter ErrorFilter) ([]model.IngestionError, error) {
	query := `SELECT ` + errorColumns + ` FROM ingestion_errors`
	args := []any{}
	if filter.RunID > 0 {
		query += ` WHERE run_id = $1`
		args = append(args, filter.RunID)
	}
	query += fmt.Sprintf(` ORDER BY occurred_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingestion errors")
	}
	defer rows.Close()

	var out []model.IngestionError
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingestion error")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list ingestion errors iterate")
}

// SweepStaleRuns fails every run still open that started before the cutoff.
func (s *PostgresStore) SweepStaleRuns(ctx context.Context, startedBefore time.Time, details string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs SET finished_at = $1, success = false, details = $2
		WHERE finished_at IS NULL AND started_at < $3`,
		time.Now().UTC(), details, startedBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep stale runs")
	}
	return tag.RowsAffected(), nil
}

// PruneRuns deletes finished runs. Their errors are kept with a null run.
func (s *PostgresStore) PruneRuns(ctx context.Context, startedBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM ingestion_runs WHERE finished_at IS NOT NULL AND started_at < $1`,
		startedBefore,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune runs")
	}
	return tag.RowsAffected(), nil
}

// --- Supplier profiles ---

func (s *PostgresStore) FirstProfile(ctx context.Context) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles ORDER BY id LIMIT 1`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrap(err, "postgres: first profile")
}

func (s *PostgresStore) GetProfile(ctx context.Context, id int64) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "profile %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile %d", id)
	}
	return p, nil
}

// GetOrCreateUserProfile returns the user's profile, creating it with
// defaults on first access.
func (s *PostgresStore) GetOrCreateUserProfile(ctx context.Context, userID, email string) (*model.SupplierProfile, error) {
	p, err := s.profileByUser(ctx, userID)
	if err == nil || !eris.Is(err, ErrNotFound) {
		return p, err
	}

	def := model.NewUserProfile(userID, email)
	cpv, _ := encodeList(def.PreferredCPVCodes)
	buyers, _ := encodeList(def.PreferredBuyers)
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO supplier_profiles (user_id, company_name, contact_email, preferred_cpv_codes, preferred_buyers,
			min_value, max_value, notify_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, def.CompanyName, def.ContactEmail, cpv, buyers, def.MinValue, def.MaxValue, def.NotifyEmail,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: create profile for %s", userID)
	}
	return s.profileByUser(ctx, userID)
}

func (s *PostgresStore) profileByUser(ctx context.Context, userID string) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles WHERE user_id = $1`, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "profile for user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get profile for user %s", userID)
	}
	return p, nil
}

// SaveProfile inserts a profile without an ID, updating any existing row
// for the same user, or updates the profile with the given ID.
func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.SupplierProfile) error {
	cpv, err := encodeList(p.PreferredCPVCodes)
	if err != nil {
		return eris.Wrap(err, "postgres: save profile")
	}
	buyers, err := encodeList(p.PreferredBuyers)
	if err != nil {
		return eris.Wrap(err, "postgres: save profile")
	}
	args := []any{
		nullString(p.UserID), p.CompanyName, p.RegistrationNumber, p.BBBEELevel, p.ContactEmail, p.ContactPhone,
		p.Province, p.City, cpv, buyers, p.MinValue, p.MaxValue,
		p.NotifyEmail, p.NotifySMS, p.NotifyWhatsApp, p.NotificationsPaused,
	}

	if p.ID == 0 {
		err := s.pool.QueryRow(ctx,
			`INSERT INTO supplier_profiles (user_id, company_name, registration_number, bbbee_level, contact_email,
				contact_phone, province, city, preferred_cpv_codes, preferred_buyers, min_value, max_value,
				notify_email, notify_sms, notify_whatsapp, notifications_paused)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (user_id) DO UPDATE SET
				company_name = EXCLUDED.company_name,
				registration_number = EXCLUDED.registration_number,
				bbbee_level = EXCLUDED.bbbee_level,
				contact_email = EXCLUDED.contact_email,
				contact_phone = EXCLUDED.contact_phone,
				province = EXCLUDED.province,
				city = EXCLUDED.city,
				preferred_cpv_codes = EXCLUDED.preferred_cpv_codes,
				preferred_buyers = EXCLUDED.preferred_buyers,
				min_value = EXCLUDED.min_value,
				max_value = EXCLUDED.max_value,
				notify_email = EXCLUDED.notify_email,
				notify_sms = EXCLUDED.notify_sms,
				notify_whatsapp = EXCLUDED.notify_whatsapp,
				notifications_paused = EXCLUDED.notifications_paused,
				updated_at = now()
			RETURNING id`,
			args...,
		).Scan(&p.ID)
		return eris.Wrap(err, "postgres: insert profile")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE supplier_profiles SET user_id = $1, company_name = $2, registration_number = $3, bbbee_level = $4,
			contact_email = $5, contact_phone = $6, province = $7, city = $8, preferred_cpv_codes = $9,
			preferred_buyers = $10, min_value = $11, max_value = $12, notify_email = $13, notify_sms = $14,
			notify_whatsapp = $15, notifications_paused = $16, updated_at = now()
		WHERE id = $17`,
		append(args, p.ID)...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update profile %d", p.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "profile %d", p.ID)
	}
	return nil
}
