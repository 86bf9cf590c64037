package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/vector"
)

// Ingredient roles in sandwich_ingredients.
const (
	roleTop     = "bread_top"
	roleBottom  = "bread_bottom"
	roleFilling = "filling"
)

var recordColumns = []string{
	"id", "name", "description", "containment_argument", "commentary",
	"bread_top", "bread_bottom", "filling", "structure_type", "source_snippet",
	"relation_compat", "containment", "specificity", "nontrivial", "novelty",
	"overall", "recommendation", "rationale",
	"source_url", "source_domain", "content_kind", "source_id",
	"emb_top", "emb_bottom", "emb_filling", "emb_full", "created_at",
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. Failures are fatal
// database_down errors.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errs.Fatal(errs.DatabaseDown, "create database directory", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errs.Fatal(errs.DatabaseDown, "open database", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, errs.Fatal(errs.DatabaseDown, "enable WAL", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, errs.Fatal(errs.DatabaseDown, "initialize schema", err)
	}

	return &SQLiteStorage{db: db, sb: sq.StatementBuilder.PlaceholderFormat(sq.Question)}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sandwiches (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		containment_argument TEXT,
		commentary TEXT,
		bread_top TEXT NOT NULL,
		bread_bottom TEXT NOT NULL,
		filling TEXT NOT NULL,
		structure_type TEXT NOT NULL,
		source_snippet TEXT,
		relation_compat REAL,
		containment REAL,
		specificity REAL,
		nontrivial REAL,
		novelty REAL,
		overall REAL NOT NULL,
		recommendation TEXT NOT NULL,
		rationale TEXT,
		source_url TEXT,
		source_domain TEXT,
		content_kind TEXT,
		source_id TEXT,
		emb_top BLOB,
		emb_bottom BLOB,
		emb_filling BLOB,
		emb_full BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sandwiches_created_at ON sandwiches(created_at);
	CREATE INDEX IF NOT EXISTS idx_sandwiches_structure_type ON sandwiches(structure_type);

	CREATE TABLE IF NOT EXISTS ingredients (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		kind TEXT NOT NULL,
		embedding BLOB,
		usage_count INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_ingredients_kind ON ingredients(kind);

	CREATE TABLE IF NOT EXISTS sandwich_ingredients (
		sandwich_id TEXT NOT NULL,
		ingredient_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (sandwich_id, role),
		FOREIGN KEY (sandwich_id) REFERENCES sandwiches(id) ON DELETE CASCADE,
		FOREIGN KEY (ingredient_id) REFERENCES ingredients(id)
	);

	CREATE TABLE IF NOT EXISTS foraging_log (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		session_id TEXT,
		source_url TEXT,
		stage TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		record_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_foraging_log_timestamp ON foraging_log(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStorage) exec(ctx context.Context, e execer, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = e.ExecContext(ctx, query, args...)
	return err
}

func (s *SQLiteStorage) upsertIngredient(ctx context.Context, e execer, ing models.Ingredient) error {
	return s.exec(ctx, e, s.sb.Insert("ingredients").
		Columns("id", "text", "kind", "embedding", "usage_count").
		Values(ing.ID, ing.Text, string(ing.Kind), vector.Encode(ing.Embedding), ing.UsageCount).
		Suffix("ON CONFLICT(id) DO UPDATE SET usage_count = excluded.usage_count"))
}

// SaveRecord inserts a record, upserts its three ingredients and links them,
// in one transaction.
func (s *SQLiteStorage) SaveRecord(ctx context.Context, rec *models.StoredRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	a, v, src, emb := rec.Assembled, rec.Validation, rec.Source, rec.Embeddings

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = s.exec(ctx, tx, s.sb.Insert("sandwiches").
		Columns(recordColumns...).
		Values(rec.ID, a.Name, a.Description, a.ContainmentArgument, a.Commentary,
			a.AnchorA, a.AnchorB, a.Filling, a.StructureType, a.SourceSnippet,
			v.RelationCompat, v.Containment, v.Specificity, v.Nontrivial, v.Novelty,
			v.Overall, string(v.Recommendation), v.Rationale,
			src.URL, src.Domain, string(src.ContentKind), src.SourceID,
			vector.Encode(emb.AnchorA), vector.Encode(emb.AnchorB), vector.Encode(emb.Filling), vector.Encode(emb.Full),
			rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}

	links := []struct {
		role string
		ing  models.Ingredient
	}{
		{roleTop, rec.Ingredients.AnchorA},
		{roleBottom, rec.Ingredients.AnchorB},
		{roleFilling, rec.Ingredients.Filling},
	}
	for _, l := range links {
		if l.ing.ID == "" {
			continue
		}
		if err := s.upsertIngredient(ctx, tx, l.ing); err != nil {
			return fmt.Errorf("save ingredient %s: %w", l.ing.ID, err)
		}
		err := s.exec(ctx, tx, s.sb.Insert("sandwich_ingredients").
			Columns("sandwich_id", "ingredient_id", "role").
			Values(rec.ID, l.ing.ID, l.role))
		if err != nil {
			return fmt.Errorf("link ingredient %s: %w", l.ing.ID, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.StoredRecord, error) {
	var (
		rec                           models.StoredRecord
		recommendation, kind          string
		top, bottom, filling, full    []byte
		description, containmentArg   sql.NullString
		commentary, snippet           sql.NullString
		rationale, url, domain, srcID sql.NullString
	)
	a, v := &rec.Assembled, &rec.Validation
	err := row.Scan(&rec.ID, &a.Name, &description, &containmentArg, &commentary,
		&a.AnchorA, &a.AnchorB, &a.Filling, &a.StructureType, &snippet,
		&v.RelationCompat, &v.Containment, &v.Specificity, &v.Nontrivial, &v.Novelty,
		&v.Overall, &recommendation, &rationale,
		&url, &domain, &kind, &srcID,
		&top, &bottom, &filling, &full, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Description, a.ContainmentArgument = description.String, containmentArg.String
	a.Commentary, a.SourceSnippet = commentary.String, snippet.String
	v.Recommendation, v.Rationale = models.Recommendation(recommendation), rationale.String
	rec.Source = models.SourceMetadata{URL: url.String, Domain: domain.String, ContentKind: models.ContentKind(kind), SourceID: srcID.String}

	for _, blob := range []struct {
		src []byte
		dst *[]float32
	}{
		{top, &rec.Embeddings.AnchorA},
		{bottom, &rec.Embeddings.AnchorB},
		{filling, &rec.Embeddings.Filling},
		{full, &rec.Embeddings.Full},
	} {
		vec, err := vector.Decode(blob.src)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		*blob.dst = vec
	}
	return &rec, nil
}

// loadIngredients fills rec.Ingredients from the link table.
func (s *SQLiteStorage) loadIngredients(ctx context.Context, rec *models.StoredRecord) error {
	query, args, err := s.sb.Select("l.role", "i.id", "i.text", "i.kind", "i.embedding", "i.usage_count").
		From("sandwich_ingredients l").
		Join("ingredients i ON i.id = l.ingredient_id").
		Where(sq.Eq{"l.sandwich_id": rec.ID}).
		ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		ing, err := scanIngredient(rows, &role)
		if err != nil {
			return err
		}
		switch role {
		case roleTop:
			rec.Ingredients.AnchorA = ing
		case roleBottom:
			rec.Ingredients.AnchorB = ing
		case roleFilling:
			rec.Ingredients.Filling = ing
		}
	}
	return rows.Err()
}

func scanIngredient(row rowScanner, prefix ...any) (models.Ingredient, error) {
	var (
		ing  models.Ingredient
		kind string
		blob []byte
	)
	dest := append(prefix, &ing.ID, &ing.Text, &kind, &blob, &ing.UsageCount)
	if err := row.Scan(dest...); err != nil {
		return models.Ingredient{}, err
	}
	ing.Kind = models.IngredientKind(kind)
	emb, err := vector.Decode(blob)
	if err != nil {
		return models.Ingredient{}, fmt.Errorf("ingredient %s: %w", ing.ID, err)
	}
	if len(emb) > 0 {
		ing.Embedding = emb
	}
	return ing, nil
}

// GetRecord returns a record by ID, or an error wrapping ErrNotFound.
func (s *SQLiteStorage) GetRecord(ctx context.Context, id string) (*models.StoredRecord, error) {
	query, args, err := s.sb.Select(recordColumns...).From("sandwiches").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadIngredients(ctx, rec); err != nil {
		return nil, fmt.Errorf("load ingredients of %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords returns records newest first.
func (s *SQLiteStorage) ListRecords(ctx context.Context, q ListQuery) ([]*models.StoredRecord, error) {
	b := s.sb.Select(recordColumns...).From("sandwiches").OrderBy("created_at DESC", "id")
	if q.StructureType != "" {
		b = b.Where(sq.Eq{"structure_type": q.StructureType})
	}
	if q.MinOverall > 0 {
		b = b.Where(sq.GtOrEq{"overall": q.MinOverall})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			b = b.Limit(uint64(1 << 62))
		}
		b = b.Offset(uint64(q.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var recs []*models.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, rec := range recs {
		if err := s.loadIngredients(ctx, rec); err != nil {
			return nil, fmt.Errorf("load ingredients of %s: %w", rec.ID, err)
		}
	}
	return recs, nil
}

// CountRecords returns the total number of records.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	return s.count(ctx, "sandwiches")
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	query, args, err := s.sb.Select("COUNT(*)").From(table).ToSql()
	if err != nil {
		return 0, err
	}
	var count int64
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// SaveIngredient inserts an ingredient or updates its usage count.
func (s *SQLiteStorage) SaveIngredient(ctx context.Context, ing models.Ingredient) error {
	return s.upsertIngredient(ctx, s.db, ing)
}

// ListIngredients returns all ingredients in insertion order.
func (s *SQLiteStorage) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	query, args, err := s.sb.Select("id", "text", "kind", "embedding", "usage_count").
		From("ingredients").OrderBy("rowid").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

// LogOutcome appends an entry to the foraging log.
func (s *SQLiteStorage) LogOutcome(ctx context.Context, e models.OutcomeLogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return s.exec(ctx, s.db, s.sb.Insert("foraging_log").
		Columns("id", "timestamp", "session_id", "source_url", "stage", "outcome", "detail", "record_id").
		Values(e.ID, e.Timestamp, e.SessionID, e.SourceURL, string(e.Stage), string(e.Outcome), e.Detail, e.RecordID))
}

// ListOutcomes returns the most recent log entries, newest first.
func (s *SQLiteStorage) ListOutcomes(ctx context.Context, limit int) ([]models.OutcomeLogEntry, error) {
	b := s.sb.Select("id", "timestamp", "session_id", "source_url", "stage", "outcome", "detail", "record_id").
		From("foraging_log").OrderBy("timestamp DESC", "rowid DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.OutcomeLogEntry
	for rows.Next() {
		var (
			e                              models.OutcomeLogEntry
			stage, outcome                 string
			session, url, detail, recordID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &session, &url, &stage, &outcome, &detail, &recordID); err != nil {
			return nil, err
		}
		e.SessionID, e.SourceURL, e.Detail, e.RecordID = session.String, url.String, detail.String, recordID.String
		e.Stage, e.Outcome = models.Stage(stage), models.OutcomeKind(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
