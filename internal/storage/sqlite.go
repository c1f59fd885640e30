// Package storage provides the SQLite implementation of the Store interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/pkg/utils"
)

// SQLiteStore implements Store using SQLite in WAL mode. WAL gives readers a
// stable snapshot, so retrieval never observes a half-committed batch.
type SQLiteStore struct {
	db *sql.DB

	// One writer per dataset id: commits to the same dataset are serialized
	// here, commits to different datasets proceed in parallel.
	commitMu sync.Mutex
	commits  map[string]*sync.Mutex
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	// Foreign keys and busy timeout go in the DSN so every pooled connection
	// gets them, not just the first.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, commits: make(map[string]*sync.Mutex)}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		source_category TEXT NOT NULL DEFAULT '',
		backend TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		dataset_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_offset INTEGER NOT NULL DEFAULT 0,
		end_offset INTEGER NOT NULL DEFAULT 0,
		section TEXT NOT NULL DEFAULT '',
		page INTEGER NOT NULL DEFAULT 0,
		token_count INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		embedding BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE,
		UNIQUE (dataset_id, ordinal)
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_dataset_id ON chunks(dataset_id);

	CREATE TABLE IF NOT EXISTS consumers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		specialty_tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS consumer_links (
		consumer_id TEXT NOT NULL,
		dataset_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		weight REAL NOT NULL,
		access_level TEXT NOT NULL,
		use_count INTEGER NOT NULL DEFAULT 0,
		last_used_at TIMESTAMP,
		PRIMARY KEY (consumer_id, dataset_id),
		FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// datasetLock returns the commit mutex for a dataset id, creating it on first use.
func (s *SQLiteStore) datasetLock(id string) *sync.Mutex {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	mu, ok := s.commits[id]
	if !ok {
		mu = &sync.Mutex{}
		s.commits[id] = mu
	}
	return mu
}

// CreateDataset inserts a dataset. Status defaults to pending when unset.
func (s *SQLiteStore) CreateDataset(ctx context.Context, ds *models.Dataset) error {
	if ds.Status == "" {
		ds.Status = models.StatusPending
	}
	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, name, source_category, backend, embedding_model, dimensions, status, error_message, chunk_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.SourceCategory, string(ds.Backend), ds.EmbeddingModel, ds.Dimensions,
		string(ds.Status), ds.ErrorMessage, ds.ChunkCount, ds.CreatedAt, ds.UpdatedAt,
	)
	return err
}

func scanDataset(row interface{ Scan(...any) error }) (*models.Dataset, error) {
	var ds models.Dataset
	var backend, status string
	err := row.Scan(&ds.ID, &ds.Name, &ds.SourceCategory, &backend, &ds.EmbeddingModel,
		&ds.Dimensions, &status, &ds.ErrorMessage, &ds.ChunkCount, &ds.CreatedAt, &ds.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ds.Backend = models.BackendKind(backend)
	ds.Status = models.DatasetStatus(status)
	return &ds, nil
}

const datasetColumns = `id, name, source_category, backend, embedding_model, dimensions, status, error_message, chunk_count, created_at, updated_at`

// GetDataset returns a dataset by id, or ErrNotFound.
func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*models.Dataset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, models.ErrNotFound)
	}
	return ds, err
}

// ListDatasets returns all datasets ordered by creation time.
func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]*models.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// SetDatasetStatus transitions a dataset's status and records an error message
// (empty to clear).
func (s *SQLiteStore) SetDatasetStatus(ctx context.Context, id string, status models.DatasetStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMessage, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteDataset removes a dataset; chunks and links cascade.
func (s *SQLiteStore) DeleteDataset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dataset %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// CommitDataset atomically replaces a dataset's chunks with the given batch
// and marks the dataset ready. Every vector is validated against the
// dataset's dimensionality before the transaction begins; a mismatch fails
// the whole batch and nothing becomes visible.
func (s *SQLiteStore) CommitDataset(ctx context.Context, datasetID string, chunks []*models.Chunk) error {
	mu := s.datasetLock(datasetID)
	mu.Lock()
	defer mu.Unlock()

	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != ds.Dimensions {
			return &models.DimensionMismatchError{Got: len(ch.Embedding), Want: ds.Dimensions}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE dataset_id = ?`, datasetID); err != nil {
		return fmt.Errorf("clear previous chunks: %w", err)
	}
	now := time.Now().UTC()
	for _, ch := range chunks {
		tags, err := json.Marshal(ch.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		ch.CreatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, dataset_id, ordinal, content, start_offset, end_offset, section, page, token_count, tags, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.ID, datasetID, ch.Ordinal, ch.Content, ch.StartOffset, ch.EndOffset,
			ch.Section, ch.Page, ch.TokenCount, string(tags), utils.EncodeVector(ch.Embedding), ch.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Ordinal, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE datasets SET status = ?, error_message = '', chunk_count = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusReady), len(chunks), now, datasetID,
	); err != nil {
		return fmt.Errorf("mark dataset ready: %w", err)
	}
	return tx.Commit()
}

const chunkColumns = `id, dataset_id, ordinal, content, start_offset, end_offset, section, page, token_count, tags, embedding, created_at`

func scanChunk(row interface{ Scan(...any) error }) (*models.Chunk, error) {
	var ch models.Chunk
	var tagsJSON string
	var blob []byte
	err := row.Scan(&ch.ID, &ch.DatasetID, &ch.Ordinal, &ch.Content, &ch.StartOffset, &ch.EndOffset,
		&ch.Section, &ch.Page, &ch.TokenCount, &tagsJSON, &blob, &ch.CreatedAt)
	if err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &ch.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	ch.Embedding = utils.DecodeVector(blob)
	return &ch, nil
}

// QueryScope returns chunks of every ready dataset in scope, ordered by
// dataset id then ordinal. Unknown or non-ready dataset ids contribute zero
// candidates rather than failing the query.
func (s *SQLiteStore) QueryScope(ctx context.Context, datasetIDs []string) ([]models.ScopedChunk, error) {
	if len(datasetIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(datasetIDs)-1) + "?"
	args := make([]any, 0, len(datasetIDs))
	for _, id := range datasetIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.`+strings.ReplaceAll(chunkColumns, ", ", ", c.")+`, d.name
		 FROM chunks c JOIN datasets d ON d.id = c.dataset_id
		 WHERE d.status = '`+string(models.StatusReady)+`' AND c.dataset_id IN (`+placeholders+`)
		 ORDER BY c.dataset_id, c.ordinal`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScopedChunk
	for rows.Next() {
		var ch models.Chunk
		var tagsJSON, datasetName string
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.DatasetID, &ch.Ordinal, &ch.Content, &ch.StartOffset, &ch.EndOffset,
			&ch.Section, &ch.Page, &ch.TokenCount, &tagsJSON, &blob, &ch.CreatedAt, &datasetName); err != nil {
			return nil, err
		}
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &ch.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		ch.Embedding = utils.DecodeVector(blob)
		out = append(out, models.ScopedChunk{Chunk: &ch, DatasetName: datasetName})
	}
	return out, rows.Err()
}

// GetChunks returns all chunks of a dataset ordered by ordinal.
func (s *SQLiteStore) GetChunks(ctx context.Context, datasetID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE dataset_id = ? ORDER BY ordinal`, datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// UpsertConsumer inserts or updates a consumer and its specialty tags.
func (s *SQLiteStore) UpsertConsumer(ctx context.Context, c *models.Consumer) error {
	tags, err := json.Marshal(c.SpecialtyTags)
	if err != nil {
		return fmt.Errorf("marshal specialty tags: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consumers (id, name, specialty_tags, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, specialty_tags = excluded.specialty_tags`,
		c.ID, c.Name, string(tags), c.CreatedAt,
	)
	return err
}

// GetConsumer returns a consumer by id, or ErrNotFound.
func (s *SQLiteStore) GetConsumer(ctx context.Context, id string) (*models.Consumer, error) {
	var c models.Consumer
	var tagsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, specialty_tags, created_at FROM consumers WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &tagsJSON, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consumer %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &c.SpecialtyTags); err != nil {
			return nil, fmt.Errorf("unmarshal specialty tags: %w", err)
		}
	}
	return &c, nil
}

// SetLink inserts or updates a consumer-dataset link. Out-of-range weights
// are rejected, never clamped. Usage counters are preserved on update.
func (s *SQLiteStore) SetLink(ctx context.Context, link *models.ConsumerLink) error {
	if err := models.ValidateWeight(link.Weight); err != nil {
		return err
	}
	switch link.AccessLevel {
	case models.AccessFull, models.AccessSummary, models.AccessReferenceOnly:
	case "":
		link.AccessLevel = models.AccessFull
	default:
		return models.Validationf("unknown access level %q", link.AccessLevel)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consumer_links (consumer_id, dataset_id, enabled, weight, access_level) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(consumer_id, dataset_id) DO UPDATE SET enabled = excluded.enabled, weight = excluded.weight, access_level = excluded.access_level`,
		link.ConsumerID, link.DatasetID, link.Enabled, link.Weight, string(link.AccessLevel),
	)
	return err
}

func scanLink(row interface{ Scan(...any) error }) (*models.ConsumerLink, error) {
	var link models.ConsumerLink
	var access string
	var lastUsed sql.NullTime
	err := row.Scan(&link.ConsumerID, &link.DatasetID, &link.Enabled, &link.Weight, &access, &link.UseCount, &lastUsed)
	if err != nil {
		return nil, err
	}
	link.AccessLevel = models.AccessLevel(access)
	if lastUsed.Valid {
		link.LastUsedAt = lastUsed.Time
	}
	return &link, nil
}

const linkColumns = `consumer_id, dataset_id, enabled, weight, access_level, use_count, last_used_at`

// GetLink returns one link, or ErrNotFound.
func (s *SQLiteStore) GetLink(ctx context.Context, consumerID, datasetID string) (*models.ConsumerLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM consumer_links WHERE consumer_id = ? AND dataset_id = ?`,
		consumerID, datasetID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %s/%s: %w", consumerID, datasetID, models.ErrNotFound)
	}
	return link, err
}

// GetLinks returns all links of a consumer (enabled and disabled).
func (s *SQLiteStore) GetLinks(ctx context.Context, consumerID string) ([]*models.ConsumerLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM consumer_links WHERE consumer_id = ? ORDER BY dataset_id`, consumerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.ConsumerLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

// TouchLink increments a link's usage counter and records the time of use.
func (s *SQLiteStore) TouchLink(ctx context.Context, consumerID, datasetID string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE consumer_links SET use_count = use_count + 1, last_used_at = ? WHERE consumer_id = ? AND dataset_id = ?`,
		usedAt.UTC(), consumerID, datasetID,
	)
	return err
}

// CountDatasets returns the total number of datasets.
func (s *SQLiteStore) CountDatasets(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets`).Scan(&n)
	return n, err
}

// CountChunks returns the total number of committed chunks.
func (s *SQLiteStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
