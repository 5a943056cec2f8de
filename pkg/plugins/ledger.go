package plugins

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrVerificationNotFound is returned when no ledger row matches
var ErrVerificationNotFound = errors.New("verification not found")

// Dialect selects the DDL flavour used by Migrate
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Verification statuses stored in the ledger
const (
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)

// VerificationRecord is one stored verification run
type VerificationRecord struct {
	ID              int64     `json:"id"`
	PluginID        string    `json:"plugin_id"`
	Version         string    `json:"version"`
	Path            string    `json:"path"`
	Mode            string    `json:"mode"`
	FileDigest      string    `json:"file_digest,omitempty"`
	ContentChecksum string    `json:"content_checksum,omitempty"`
	Status          string    `json:"status"`
	Stage           string    `json:"stage,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	Errors          []string  `json:"errors,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Ledger stores verification results so repeated runs over the same package
// can be compared. Queries use $n placeholders, which both sqlite3 and
// postgres accept.
type Ledger struct {
	db      *sql.DB
	dialect Dialect
	logger  *logrus.Logger
	now     func() time.Time
}

// NewLedger creates a ledger over db
func NewLedger(db *sql.DB, dialect Dialect, logger *logrus.Logger) *Ledger {
	if logger == nil {
		logger = logrus.New()
	}
	return &Ledger{db: db, dialect: dialect, logger: logger, now: time.Now}
}

// Migrate creates the ledger tables when they do not exist
func (l *Ledger) Migrate(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if l.dialect == DialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS plugin_verifications (
			id ` + idColumn + `,
			plugin_id TEXT NOT NULL DEFAULT '',
			version TEXT NOT NULL DEFAULT '',
			target_path TEXT NOT NULL,
			mode TEXT NOT NULL,
			file_digest TEXT NOT NULL DEFAULT '',
			content_checksum TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plugin_verifications_path ON plugin_verifications (target_path, id)`,
		`CREATE TABLE IF NOT EXISTS plugin_verification_errors (
			id ` + idColumn + `,
			verification_id BIGINT NOT NULL REFERENCES plugin_verifications(id),
			seq INTEGER NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_verification_audit (
			id ` + idColumn + `,
			verification_id BIGINT NOT NULL REFERENCES plugin_verifications(id),
			action TEXT NOT NULL,
			actor TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate verification ledger: %w", err)
		}
	}
	return nil
}

// Record stores a verification result with its error list and an audit row,
// returning the new record ID. fileDigest is the SHA-256 of the verified file
// and may be empty for directory runs.
func (l *Ledger) Record(ctx context.Context, result *PackageValidationResult, fileDigest, actor string) (int64, error) {
	status := StatusInvalid
	if result.Valid {
		status = StatusValid
	}
	var pluginID, version string
	if result.Manifest != nil {
		pluginID, version = result.Manifest.ID, result.Manifest.Version
	}
	createdAt := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO plugin_verifications
			(plugin_id, version, target_path, mode, file_digest, content_checksum, status, stage, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, pluginID, version, result.Path, result.Mode, fileDigest, result.Checksum,
		status, string(result.Stage), result.Duration.Milliseconds(), createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record verification: %w", err)
	}

	for i, msg := range result.Errors {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plugin_verification_errors (verification_id, seq, message)
			VALUES ($1, $2, $3)
		`, id, i, msg); err != nil {
			return 0, fmt.Errorf("failed to record verification error: %w", err)
		}
	}

	details := fmt.Sprintf("%s verification of %s: %s (%d errors)", result.Mode, result.Path, status, len(result.Errors))
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plugin_verification_audit (verification_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, "verified", actor, details, createdAt); err != nil {
		return 0, fmt.Errorf("failed to record audit log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit verification: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"verification_id": id,
		"plugin_id":       pluginID,
		"status":          status,
	}).Info("Recorded plugin verification")

	return id, nil
}

const recordColumns = `id, plugin_id, version, target_path, mode, file_digest, content_checksum, status, stage, duration_ms, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*VerificationRecord, error) {
	rec := &VerificationRecord{}
	err := row.Scan(&rec.ID, &rec.PluginID, &rec.Version, &rec.Path, &rec.Mode,
		&rec.FileDigest, &rec.ContentChecksum, &rec.Status, &rec.Stage, &rec.DurationMS, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a record with its errors
func (l *Ledger) Get(ctx context.Context, id int64) (*VerificationRecord, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM plugin_verifications WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrVerificationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}

	rec.Errors, err = l.loadErrors(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the most recent records, newest first, without their errors
func (l *Ledger) List(ctx context.Context, limit int) ([]*VerificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM plugin_verifications ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	records := []*VerificationRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestByPath returns the newest record for a verified path
func (l *Ledger) LatestByPath(ctx context.Context, path string) (*VerificationRecord, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM plugin_verifications
		WHERE target_path = $1
		ORDER BY id DESC
		LIMIT 1
	`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrVerificationNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest verification: %w", err)
	}
	return rec, nil
}

// Paths returns every archive path with at least one recorded verification
func (l *Ledger) Paths(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT DISTINCT target_path FROM plugin_verifications
		WHERE mode = $1
		ORDER BY target_path
	`, ModeArchive)
	if err != nil {
		return nil, fmt.Errorf("failed to list verified paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (l *Ledger) loadErrors(ctx context.Context, id int64) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT message FROM plugin_verification_errors
		WHERE verification_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load verification errors: %w", err)
	}
	defer rows.Close()

	messages := []string{}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("failed to scan verification error: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// FileDigest returns the SHA-256 hex digest of a file's bytes
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
