package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tenderfeed/tender-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Upserts rely on RETURNING, and timestamps are read back through DATETIME
// columns so the driver parses them. One connection is used so
// per-connection pragmas such as foreign_keys stay in effect.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// withPragmas appends connection-level pragmas so reopened connections
// enforce foreign keys too.
func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS releases (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id      TEXT NOT NULL UNIQUE,
	ocid            TEXT NOT NULL DEFAULT '',
	date            DATETIME NOT NULL,
	tag             TEXT NOT NULL DEFAULT '[]',
	initiation_type TEXT NOT NULL DEFAULT '',
	raw_json        TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	last_seen       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_releases_ocid ON releases(ocid);

CREATE TABLE IF NOT EXISTS procuring_entities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	party_id      TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	contact_name  TEXT NOT NULL DEFAULT '',
	contact_email TEXT NOT NULL DEFAULT '',
	contact_phone TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tenders (
	id                                INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id                        INTEGER NOT NULL UNIQUE REFERENCES releases(id) ON DELETE CASCADE,
	tender_id                         TEXT NOT NULL UNIQUE,
	ocid                              TEXT NOT NULL DEFAULT '',
	title                             TEXT NOT NULL DEFAULT '',
	description                       TEXT NOT NULL DEFAULT '',
	status                            TEXT NOT NULL DEFAULT 'active',
	category                          TEXT NOT NULL DEFAULT '',
	additional_procurement_categories TEXT NOT NULL DEFAULT '[]',
	province                          TEXT NOT NULL DEFAULT '',
	city                              TEXT NOT NULL DEFAULT '',
	value_amount                      REAL,
	value_currency                    TEXT NOT NULL DEFAULT 'ZAR',
	tender_start_date                 DATETIME,
	tender_end_date                   DATETIME,
	procuring_entity_id               INTEGER REFERENCES procuring_entities(id) ON DELETE SET NULL,
	cpv_codes                         TEXT NOT NULL DEFAULT '[]',
	submission_methods                TEXT NOT NULL DEFAULT '[]',
	match_score                       INTEGER,
	created_at                        DATETIME NOT NULL,
	updated_at                        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tenders_status ON tenders(status);
CREATE INDEX IF NOT EXISTS idx_tenders_end_date ON tenders(tender_end_date);

CREATE TABLE IF NOT EXISTS tender_documents (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	tender_id      INTEGER NOT NULL REFERENCES tenders(id) ON DELETE CASCADE,
	document_id    TEXT NOT NULL,
	document_type  TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL DEFAULT '',
	url            TEXT NOT NULL DEFAULT '',
	date_published DATETIME,
	format         TEXT NOT NULL DEFAULT '',
	UNIQUE (tender_id, document_id)
);

CREATE TABLE IF NOT EXISTS supplier_profiles (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id              TEXT UNIQUE,
	company_name         TEXT NOT NULL,
	registration_number  TEXT NOT NULL DEFAULT '',
	bbbee_level          TEXT NOT NULL DEFAULT '',
	contact_email        TEXT NOT NULL DEFAULT '',
	contact_phone        TEXT NOT NULL DEFAULT '',
	province             TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	preferred_cpv_codes  TEXT NOT NULL DEFAULT '[]',
	preferred_buyers     TEXT NOT NULL DEFAULT '[]',
	min_value            REAL NOT NULL DEFAULT 0,
	max_value            REAL NOT NULL DEFAULT 100000000,
	notify_email         INTEGER NOT NULL DEFAULT 1,
	notify_sms           INTEGER NOT NULL DEFAULT 0,
	notify_whatsapp      INTEGER NOT NULL DEFAULT 0,
	notifications_paused INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	source         TEXT NOT NULL CHECK (source IN ('api', 'bulk')),
	started_at     DATETIME NOT NULL,
	finished_at    DATETIME,
	items_ingested INTEGER NOT NULL DEFAULT 0 CHECK (items_ingested >= 0),
	items_failed   INTEGER NOT NULL DEFAULT 0 CHECK (items_failed >= 0),
	success        INTEGER NOT NULL DEFAULT 0,
	details        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_started ON ingestion_runs(started_at);

CREATE TABLE IF NOT EXISTS ingestion_errors (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          INTEGER REFERENCES ingestion_runs(id) ON DELETE SET NULL,
	occurred_at     DATETIME NOT NULL,
	release_id      TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL,
	payload_snippet TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ingestion_errors_run ON ingestion_errors(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Releases and tenders ---

func (s *SQLiteStore) UpsertRelease(ctx context.Context, r *model.Release) error {
	tag, err := encodeList(r.Tag)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert release")
	}
	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO releases (release_id, ocid, date, tag, initiation_type, raw_json, created_at, updated_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (release_id) DO UPDATE SET
			ocid = excluded.ocid,
			date = excluded.date,
			tag = excluded.tag,
			initiation_type = excluded.initiation_type,
			raw_json = excluded.raw_json,
			updated_at = excluded.updated_at,
			last_seen = excluded.last_seen
		RETURNING id`,
		r.ReleaseID, r.OCID, r.Date.UTC(), string(tag), r.InitiationType, string(r.RawJSON), now, now, now,
	).Scan(&r.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert release %s", r.ReleaseID)
	}
	r.UpdatedAt, r.LastSeen = now, now
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM releases WHERE id = ?`, r.ID).Scan(&r.CreatedAt)
	return eris.Wrapf(err, "sqlite: read release %s", r.ReleaseID)
}

func (s *SQLiteStore) UpsertProcuringEntity(ctx context.Context, e *model.ProcuringEntity) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO procuring_entities (party_id, name, contact_name, contact_email, contact_phone)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (party_id) DO UPDATE SET
			name = excluded.name,
			contact_name = excluded.contact_name,
			contact_email = excluded.contact_email,
			contact_phone = excluded.contact_phone
		RETURNING id`,
		e.PartyID, e.Name, e.ContactName, e.ContactEmail, e.ContactPhone,
	).Scan(&e.ID)
	return eris.Wrapf(err, "sqlite: upsert procuring entity %s", e.PartyID)
}

func (s *SQLiteStore) UpsertTender(ctx context.Context, t *model.Tender) error {
	apc, err := encodeList(t.AdditionalProcurementCategories)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert tender")
	}
	cpv, err := encodeList(t.CPVCodes)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert tender")
	}
	methods, err := encodeList(t.SubmissionMethods)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert tender")
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO tenders (release_id, tender_id, ocid, title, description, status, category,
			additional_procurement_categories, province, city, value_amount, value_currency,
			tender_start_date, tender_end_date, procuring_entity_id, cpv_codes, submission_methods,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (release_id) DO UPDATE SET
			tender_id = excluded.tender_id,
			ocid = excluded.ocid,
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			category = excluded.category,
			additional_procurement_categories = excluded.additional_procurement_categories,
			province = excluded.province,
			city = excluded.city,
			value_amount = excluded.value_amount,
			value_currency = excluded.value_currency,
			tender_start_date = excluded.tender_start_date,
			tender_end_date = excluded.tender_end_date,
			procuring_entity_id = excluded.procuring_entity_id,
			cpv_codes = excluded.cpv_codes,
			submission_methods = excluded.submission_methods,
			updated_at = excluded.updated_at
		RETURNING id, match_score`,
		t.ReleaseID, t.TenderID, t.OCID, t.Title, t.Description, string(t.Status), t.Category,
		string(apc), t.Province, t.City, t.ValueAmount, t.ValueCurrency,
		utcPtr(t.TenderStartDate), utcPtr(t.TenderEndDate), t.ProcuringEntityID, string(cpv), string(methods),
		now, now,
	).Scan(&t.ID, &t.MatchScore)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert tender %s", t.TenderID)
	}
	t.UpdatedAt = now
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM tenders WHERE id = ?`, t.ID).Scan(&t.CreatedAt)
	return eris.Wrapf(err, "sqlite: read tender %s", t.TenderID)
}

// ReplaceTenderDocuments swaps a tender's document set in one transaction.
func (s *SQLiteStore) ReplaceTenderDocuments(ctx context.Context, tenderID int64, docs []model.TenderDocument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace documents")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tender_documents WHERE tender_id = ?`, tenderID); err != nil {
		return eris.Wrapf(err, "sqlite: delete documents for tender %d", tenderID)
	}

	if len(docs) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO tender_documents (`+strings.Join(documentCopyColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare document insert")
		}
		defer stmt.Close()

		for _, d := range docs {
			if _, err := stmt.ExecContext(ctx,
				tenderID, d.DocumentID, d.DocumentType, d.Title, d.URL, utcPtr(d.DatePublished), d.Format,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert document %s", d.DocumentID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace documents")
}

func (s *SQLiteStore) SetTenderMatchScore(ctx context.Context, tenderID int64, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenders SET match_score = ? WHERE id = ?`, score, tenderID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set match score %d", tenderID)
	}
	return checkRowsAffected(res, ErrNotFound, "tender %d", tenderID)
}

func (s *SQLiteStore) GetTender(ctx context.Context, tenderID string) (*model.Tender, error) {
	t, err := scanTender(s.db.QueryRowContext(ctx,
		`SELECT `+tenderColumns+`
		FROM tenders t
		LEFT JOIN procuring_entities pe ON pe.id = t.procuring_entity_id
		WHERE t.tender_id = ?`,
		tenderID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "tender %s", tenderID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get tender %s", tenderID)
	}
	return t, nil
}

func (s *SQLiteStore) ListTenderDocuments(ctx context.Context, tenderID int64) ([]model.TenderDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM tender_documents WHERE tender_id = ? ORDER BY id`,
		tenderID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list documents %d", tenderID)
	}
	defer rows.Close()

	docs := []model.TenderDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) CountReleases(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM releases`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count releases")
}

// --- Ingestion log ---

func (s *SQLiteStore) CreateRun(ctx context.Context, source model.RunSource) (*model.IngestionRun, error) {
	run := &model.IngestionRun{Source: source, StartedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (source, started_at) VALUES (?, ?)`,
		string(source), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, eris.Wrap(err, "sqlite: run id")
	}
	return run, nil
}

// FinishRun finalizes an open run. A run can be finished only once.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *model.IngestionRun) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		SET finished_at = ?, items_ingested = ?, items_failed = ?, success = ?, details = ?
		WHERE id = ? AND finished_at IS NULL`,
		now, run.ItemsIngested, run.ItemsFailed, run.Success, run.Details, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %d", run.ID)
	}
	if err := checkRowsAffected(res, ErrRunClosed, "run %d", run.ID); err != nil {
		return err
	}
	run.FinishedAt = &now
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*model.IngestionRun, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT ` + runColumns + ` FROM ingestion_runs WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	switch filter.State {
	case model.RunStateRunning:
		query += ` AND finished_at IS NULL`
	case model.RunStateSucceeded:
		query += ` AND finished_at IS NOT NULL AND success = 1`
	case model.RunStateFailed:
		query += ` AND finished_at IS NOT NULL AND success = 0`
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RecordError(ctx context.Context, e *model.IngestionError) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_errors (run_id, occurred_at, release_id, message, payload_snippet)
		VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.OccurredAt, e.ReleaseID, e.Message, e.PayloadSnippet,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert ingestion error")
	}
	e.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: ingestion error id")
}

func (s *SQLiteStore) ListErrors(ctx context.Context, filter ErrorFilter) ([]model.IngestionError, error) {
	query := `SELECT ` + errorColumns + ` FROM ingestion_errors`
	var args []any
	if filter.RunID > 0 {
		query += ` WHERE run_id = ?`
		args = append(args, filter.RunID)
	}
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingestion errors")
	}
	defer rows.Close()

	var out []model.IngestionError
	for rows.Next() {
		e, err := scanError(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingestion error")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ingestion errors iterate")
}

// SweepStaleRuns fails every run still open that started before the cutoff.
func (s *SQLiteStore) SweepStaleRuns(ctx context.Context, startedBefore time.Time, details string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs SET finished_at = ?, success = 0, details = ?
		WHERE finished_at IS NULL AND started_at < ?`,
		time.Now().UTC(), details, startedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep stale runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: sweep rows affected")
}

// PruneRuns deletes finished runs. Their errors are kept with a null run.
func (s *SQLiteStore) PruneRuns(ctx context.Context, startedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ingestion_runs WHERE finished_at IS NOT NULL AND started_at < ?`,
		startedBefore.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: prune rows affected")
}

// --- Supplier profiles ---

func (s *SQLiteStore) FirstProfile(ctx context.Context) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles ORDER BY id LIMIT 1`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, eris.Wrap(err, "sqlite: first profile")
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id int64) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "profile %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile %d", id)
	}
	return p, nil
}

// GetOrCreateUserProfile returns the user's profile, creating it with
// defaults on first access.
func (s *SQLiteStore) GetOrCreateUserProfile(ctx context.Context, userID, email string) (*model.SupplierProfile, error) {
	p, err := s.profileByUser(ctx, userID)
	if err == nil || !eris.Is(err, ErrNotFound) {
		return p, err
	}

	def := model.NewUserProfile(userID, email)
	cpv, _ := encodeList(def.PreferredCPVCodes)
	buyers, _ := encodeList(def.PreferredBuyers)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO supplier_profiles (user_id, company_name, contact_email, preferred_cpv_codes, preferred_buyers,
			min_value, max_value, notify_email)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, def.CompanyName, def.ContactEmail, string(cpv), string(buyers), def.MinValue, def.MaxValue, def.NotifyEmail,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: create profile for %s", userID)
	}
	return s.profileByUser(ctx, userID)
}

func (s *SQLiteStore) profileByUser(ctx context.Context, userID string) (*model.SupplierProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM supplier_profiles WHERE user_id = ?`, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "profile for user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get profile for user %s", userID)
	}
	return p, nil
}

// SaveProfile inserts a profile without an ID, updating any existing row
// for the same user, or updates the profile with the given ID.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.SupplierProfile) error {
	cpv, err := encodeList(p.PreferredCPVCodes)
	if err != nil {
		return eris.Wrap(err, "sqlite: save profile")
	}
	buyers, err := encodeList(p.PreferredBuyers)
	if err != nil {
		return eris.Wrap(err, "sqlite: save profile")
	}
	args := []any{
		nullString(p.UserID), p.CompanyName, p.RegistrationNumber, p.BBBEELevel, p.ContactEmail, p.ContactPhone,
		p.Province, p.City, string(cpv), string(buyers), p.MinValue, p.MaxValue,
		p.NotifyEmail, p.NotifySMS, p.NotifyWhatsApp, p.NotificationsPaused,
	}

	if p.ID == 0 {
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO supplier_profiles (user_id, company_name, registration_number, bbbee_level, contact_email,
				contact_phone, province, city, preferred_cpv_codes, preferred_buyers, min_value, max_value,
				notify_email, notify_sms, notify_whatsapp, notifications_paused)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE SET
				company_name = excluded.company_name,
				registration_number = excluded.registration_number,
				bbbee_level = excluded.bbbee_level,
				contact_email = excluded.contact_email,
				contact_phone = excluded.contact_phone,
				province = excluded.province,
				city = excluded.city,
				preferred_cpv_codes = excluded.preferred_cpv_codes,
				preferred_buyers = excluded.preferred_buyers,
				min_value = excluded.min_value,
				max_value = excluded.max_value,
				notify_email = excluded.notify_email,
				notify_sms = excluded.notify_sms,
				notify_whatsapp = excluded.notify_whatsapp,
				notifications_paused = excluded.notifications_paused
			RETURNING id`,
			args...,
		).Scan(&p.ID)
		return eris.Wrap(err, "sqlite: insert profile")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE supplier_profiles SET user_id = ?, company_name = ?, registration_number = ?, bbbee_level = ?,
			contact_email = ?, contact_phone = ?, province = ?, city = ?, preferred_cpv_codes = ?,
			preferred_buyers = ?, min_value = ?, max_value = ?, notify_email = ?, notify_sms = ?,
			notify_whatsapp = ?, notifications_paused = ?
		WHERE id = ?`,
		append(args, p.ID)...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update profile %d", p.ID)
	}
	return checkRowsAffected(res, ErrNotFound, "profile %d", p.ID)
}

// checkRowsAffected wraps sentinel when an update touched no rows.
func checkRowsAffected(res sql.Result, sentinel error, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(sentinel, format, args...)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
