package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/ioc"
)

// Compile-time interface check
var _ IndicatorStore = (*SQLiteStore)(nil)

const schemaVersion = 1

// SQLiteStore implements IndicatorStore on a single SQLite database file.
// A single writer connection with WAL keeps concurrent readers fast while
// the per-key mutex serializes read-merge-write upserts on the same
// indicator.
type SQLiteStore struct {
	db     *sql.DB
	lock   *DirLock
	logger *slog.Logger

	// keyMu serializes upserts per (value, type) key so concurrent
	// observations of the same indicator merge sequentially.
	keyMu sync.Map // string -> *sync.Mutex
}

// Open creates or opens the store under dataDir, acquiring an exclusive
// data-directory lock first.
func Open(dataDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeStoreOpen,
			fmt.Sprintf("failed to create data directory %s", dataDir), err)
	}

	lock, err := AcquireDirLock(dataDir)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "threatvault.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		lock.Release()
		return nil, vaulterrors.New(vaulterrors.ErrCodeStoreOpen,
			fmt.Sprintf("failed to open database %s", dbPath), err)
	}

	// Single connection: modernc.org/sqlite serializes writes anyway and
	// this avoids SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			lock.Release()
			return nil, vaulterrors.New(vaulterrors.ErrCodeStoreOpen,
				fmt.Sprintf("failed to set %s", pragma), err)
		}
	}

	s := &SQLiteStore{db: db, lock: lock, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		lock.Release()
		return nil, err
	}

	logger.Debug("store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS indicators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		value TEXT NOT NULL,
		type TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		embed_model TEXT NOT NULL DEFAULT '',
		first_seen INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		times_seen INTEGER NOT NULL DEFAULT 1,
		UNIQUE(value, type)
	);
	CREATE INDEX IF NOT EXISTS idx_indicators_last_seen ON indicators(last_seen DESC);
	CREATE INDEX IF NOT EXISTS idx_indicators_risk ON indicators(risk_level);
	CREATE INDEX IF NOT EXISTS idx_indicators_category ON indicators(category);

	CREATE TABLE IF NOT EXISTS ttp_mappings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		indicator_id INTEGER NOT NULL REFERENCES indicators(id),
		technique_id TEXT NOT NULL,
		confidence REAL NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ttp_indicator ON ttp_mappings(indicator_id);

	CREATE TABLE IF NOT EXISTS analysis_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		analysis_type TEXT NOT NULL,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		processing_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analysis_type ON analysis_history(analysis_type);

	CREATE TABLE IF NOT EXISTS feed_sources (
		name TEXT PRIMARY KEY,
		endpoint TEXT NOT NULL,
		format TEXT NOT NULL,
		poll_interval_ns INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		headers TEXT NOT NULL DEFAULT '{}',
		state TEXT NOT NULL DEFAULT 'active',
		last_polled INTEGER NOT NULL DEFAULT 0,
		backoff_until INTEGER NOT NULL DEFAULT 0,
		fail_count INTEGER NOT NULL DEFAULT 0,
		fail_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeStoreOpen, "failed to initialize schema", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_info").Scan(&count); err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeStoreOpen, "failed to read schema version", err)
	}
	if count == 0 {
		if _, err := s.db.Exec("INSERT INTO schema_info (version) VALUES (?)", schemaVersion); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeStoreOpen, "failed to record schema version", err)
		}
	}
	return nil
}

// Close releases the database and data-directory lock.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Release()
	}
	return err
}

func (s *SQLiteStore) keyLock(value string, typ ioc.IndicatorType) *sync.Mutex {
	key := string(typ) + "\x00" + value
	mu, _ := s.keyMu.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// UpsertIndicator implements the merge-on-reobservation rule.
func (s *SQLiteStore) UpsertIndicator(ctx context.Context, req UpsertRequest) (int64, error) {
	value, err := ioc.Normalize(req.Value, req.Type)
	if err != nil {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator, err.Error(), err)
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInvalidConfidence,
			fmt.Sprintf("confidence %.3f outside [0,1]", req.Confidence), nil)
	}
	if req.RiskLevel != "" && req.RiskLevel.Rank() < 0 {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator,
			fmt.Sprintf("unknown risk level %q", req.RiskLevel), nil)
	}

	mu := s.keyLock(value, req.Type)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixNano()

	existing, err := s.FindIndicator(ctx, value, req.Type)
	if err != nil && !vaulterrors.IsNotFound(err) {
		return 0, err
	}

	if existing == nil {
		risk := req.RiskLevel
		if risk == "" {
			risk = ioc.RiskLow
		}
		meta, merr := marshalMetadata(req.Metadata)
		if merr != nil {
			return 0, merr
		}
		res, ierr := s.db.ExecContext(ctx, `
			INSERT INTO indicators (value, type, risk_level, category, confidence, source, metadata, first_seen, last_seen, times_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			value, string(req.Type), string(risk), req.Category, req.Confidence, req.Source, meta, now, now)
		if ierr != nil {
			return 0, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to insert indicator", ierr)
		}
		id, _ := res.LastInsertId()
		s.logger.Debug("indicator inserted", "id", id, "type", req.Type, "risk", risk)
		return id, nil
	}

	// Merge path. Weight grows with prior observations so established
	// assessments resist single-shot swings, capped so the indicator can
	// still drift.
	weight := ioc.ObservationWeight(existing.TimesSeen)
	confidence := ioc.CombineConfidence(existing.Confidence, weight, req.Confidence)
	risk := ioc.EscalateRisk(existing.RiskLevel, req.RiskLevel)
	category := existing.Category
	if req.Category != "" {
		category = req.Category
	}
	metadata := mergeMetadata(existing.Metadata, req.Metadata)
	meta, merr := marshalMetadata(metadata)
	if merr != nil {
		return 0, merr
	}

	_, uerr := s.db.ExecContext(ctx, `
		UPDATE indicators
		SET risk_level = ?, category = ?, confidence = ?, source = ?, metadata = ?,
		    last_seen = ?, times_seen = times_seen + 1
		WHERE id = ?`,
		string(risk), category, confidence, req.Source, meta, now, existing.ID)
	if uerr != nil {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to merge indicator", uerr)
	}
	s.logger.Debug("indicator merged", "id", existing.ID, "times_seen", existing.TimesSeen+1,
		"confidence", confidence, "risk", risk)
	return existing.ID, nil
}

// ForceSetRisk overrides the stored risk level, bypassing escalation.
func (s *SQLiteStore) ForceSetRisk(ctx context.Context, id int64, risk ioc.RiskLevel) error {
	if risk.Rank() < 0 {
		return vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator,
			fmt.Sprintf("unknown risk level %q", risk), nil)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE indicators SET risk_level = ? WHERE id = ?", string(risk), id)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to set risk level", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return vaulterrors.NotFound(fmt.Sprintf("indicator %d", id))
	}
	s.logger.Info("risk level overridden", "id", id, "risk", risk)
	return nil
}

const indicatorColumns = `id, value, type, risk_level, category, confidence, source, metadata, embedding, embed_model, first_seen, last_seen, times_seen`

func scanIndicator(row interface{ Scan(...any) error }) (*ioc.Indicator, error) {
	var (
		ind       ioc.Indicator
		typ, risk string
		metaJSON  string
		blob      []byte
		first     int64
		last      int64
	)
	err := row.Scan(&ind.ID, &ind.Value, &typ, &risk, &ind.Category, &ind.Confidence,
		&ind.Source, &metaJSON, &blob, &ind.EmbedModel, &first, &last, &ind.TimesSeen)
	if err != nil {
		return nil, err
	}
	ind.Type = ioc.IndicatorType(typ)
	ind.RiskLevel = ioc.RiskLevel(risk)
	ind.FirstSeen = time.Unix(0, first)
	ind.LastSeen = time.Unix(0, last)
	if metaJSON != "" && metaJSON != "{}" {
		if uerr := json.Unmarshal([]byte(metaJSON), &ind.Metadata); uerr != nil {
			return nil, uerr
		}
	}
	if len(blob) > 0 {
		ind.Embedding = decodeVector(blob)
	}
	return &ind, nil
}

// GetIndicator returns the indicator by id.
func (s *SQLiteStore) GetIndicator(ctx context.Context, id int64) (*ioc.Indicator, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+indicatorColumns+" FROM indicators WHERE id = ?", id)
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, vaulterrors.NotFound(fmt.Sprintf("indicator %d", id))
	}
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to load indicator", err)
	}
	return ind, nil
}

// FindIndicator looks up by the (value, type) unique key. The value is
// normalized before lookup so callers can pass raw observations.
func (s *SQLiteStore) FindIndicator(ctx context.Context, value string, typ ioc.IndicatorType) (*ioc.Indicator, error) {
	normalized, err := ioc.Normalize(value, typ)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInvalidIndicator, err.Error(), err)
	}
	row := s.db.QueryRowContext(ctx,
		"SELECT "+indicatorColumns+" FROM indicators WHERE value = ? AND type = ?",
		normalized, string(typ))
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, vaulterrors.NotFound(fmt.Sprintf("indicator %s:%s", typ, normalized))
	}
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to load indicator", err)
	}
	return ind, nil
}

// ListIndicators returns indicators matching the filter, most recently seen
// first with id as tiebreaker for stable ordering.
func (s *SQLiteStore) ListIndicators(ctx context.Context, filter IndicatorFilter) ([]*ioc.Indicator, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.RiskLevel != "" {
		conds = append(conds, "risk_level = ?")
		args = append(args, string(filter.RiskLevel))
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.MinConfidence > 0 {
		conds = append(conds, "confidence >= ?")
		args = append(args, filter.MinConfidence)
	}

	query := "SELECT " + indicatorColumns + " FROM indicators"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY last_seen DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to list indicators", err)
	}
	defer rows.Close()

	var out []*ioc.Indicator
	for rows.Next() {
		ind, serr := scanIndicator(rows)
		if serr != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan indicator", serr)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// Statistics returns aggregate counts.
func (s *SQLiteStore) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		RiskDistribution:     make(map[ioc.RiskLevel]int),
		CategoryDistribution: make(map[string]int),
		AnalysisDistribution: make(map[ioc.AnalysisType]int),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indicators").Scan(&stats.TotalIndicators); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to count indicators", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ttp_mappings").Scan(&stats.TotalMappings); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to count mappings", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_history").Scan(&stats.TotalAnalyses); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to count analyses", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM feed_sources").Scan(&stats.FeedSources); err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to count feed sources", err)
	}

	if err := s.groupCount(ctx, "SELECT risk_level, COUNT(*) FROM indicators GROUP BY risk_level", func(k string, n int) {
		stats.RiskDistribution[ioc.RiskLevel(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "SELECT category, COUNT(*) FROM indicators WHERE category != '' GROUP BY category", func(k string, n int) {
		stats.CategoryDistribution[k] = n
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "SELECT analysis_type, COUNT(*) FROM analysis_history GROUP BY analysis_type", func(k string, n int) {
		stats.AnalysisDistribution[ioc.AnalysisType(k)] = n
	}); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) groupCount(ctx context.Context, query string, add func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to aggregate", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan aggregate", err)
		}
		add(k, n)
	}
	return rows.Err()
}

// Recent returns the latest indicators, mappings, and analyses.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) (*RecentContext, error) {
	if limit <= 0 {
		limit = 10
	}
	indicators, err := s.ListIndicators(ctx, IndicatorFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	mappings, err := s.ListTTPMappings(ctx, 0, limit)
	if err != nil {
		return nil, err
	}
	analyses, err := s.ListAnalyses(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	return &RecentContext{Indicators: indicators, Mappings: mappings, Analyses: analyses}, nil
}

// SaveEmbedding caches an indicator's embedding vector.
func (s *SQLiteStore) SaveEmbedding(ctx context.Context, id int64, vector []float32, model string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE indicators SET embedding = ?, embed_model = ? WHERE id = ?",
		encodeVector(vector), model, id)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to save embedding", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return vaulterrors.NotFound(fmt.Sprintf("indicator %d", id))
	}
	return nil
}

// MissingEmbeddings returns indicators without a cached vector for model.
func (s *SQLiteStore) MissingEmbeddings(ctx context.Context, model string, limit int) ([]*ioc.Indicator, error) {
	query := "SELECT " + indicatorColumns +
		" FROM indicators WHERE embedding IS NULL OR embed_model != ? ORDER BY last_seen DESC, id ASC"
	args := []any{model}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to query missing embeddings", err)
	}
	defer rows.Close()
	var out []*ioc.Indicator
	for rows.Next() {
		ind, serr := scanIndicator(rows)
		if serr != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan indicator", serr)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// SaveTTPMapping appends a technique mapping after validating the technique
// id against the ATT&CK format.
func (s *SQLiteStore) SaveTTPMapping(ctx context.Context, m *ioc.TTPMapping) (int64, error) {
	if !ioc.ValidTechniqueID(m.TechniqueID) {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInvalidTechnique,
			fmt.Sprintf("technique id %q does not match T#### or T####.###", m.TechniqueID), nil)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInvalidConfidence,
			fmt.Sprintf("confidence %.3f outside [0,1]", m.Confidence), nil)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ttp_mappings (indicator_id, technique_id, confidence, context, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.IndicatorID, m.TechniqueID, m.Confidence, m.Context, created.UnixNano())
	if err != nil {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to save ttp mapping", err)
	}
	return res.LastInsertId()
}

// ListTTPMappings returns mappings, newest first.
func (s *SQLiteStore) ListTTPMappings(ctx context.Context, indicatorID int64, limit int) ([]*ioc.TTPMapping, error) {
	query := "SELECT id, indicator_id, technique_id, confidence, context, created_at FROM ttp_mappings"
	var args []any
	if indicatorID != 0 {
		query += " WHERE indicator_id = ?"
		args = append(args, indicatorID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to list ttp mappings", err)
	}
	defer rows.Close()
	var out []*ioc.TTPMapping
	for rows.Next() {
		var m ioc.TTPMapping
		var created int64
		if err := rows.Scan(&m.ID, &m.IndicatorID, &m.TechniqueID, &m.Confidence, &m.Context, &created); err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan ttp mapping", err)
		}
		m.CreatedAt = time.Unix(0, created)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// SaveAnalysis appends an immutable audit record.
func (s *SQLiteStore) SaveAnalysis(ctx context.Context, rec *ioc.AnalysisRecord) (int64, error) {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_history (session_id, analysis_type, input, output, confidence, processing_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.AnalysisType), rec.Input, rec.Output, rec.Confidence,
		rec.ProcessingTime.Milliseconds(), created.UnixNano())
	if err != nil {
		return 0, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to save analysis record", err)
	}
	return res.LastInsertId()
}

// ListAnalyses returns analysis records, newest first.
func (s *SQLiteStore) ListAnalyses(ctx context.Context, typ ioc.AnalysisType, limit int) ([]*ioc.AnalysisRecord, error) {
	query := "SELECT id, session_id, analysis_type, input, output, confidence, processing_ms, created_at FROM analysis_history"
	var args []any
	if typ != "" {
		query += " WHERE analysis_type = ?"
		args = append(args, string(typ))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to list analyses", err)
	}
	defer rows.Close()
	var out []*ioc.AnalysisRecord
	for rows.Next() {
		var rec ioc.AnalysisRecord
		var atype string
		var procMS, created int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &atype, &rec.Input, &rec.Output, &rec.Confidence, &procMS, &created); err != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan analysis record", err)
		}
		rec.AnalysisType = ioc.AnalysisType(atype)
		rec.ProcessingTime = time.Duration(procMS) * time.Millisecond
		rec.CreatedAt = time.Unix(0, created)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SaveFeedSource inserts or replaces a feed source registration by name.
func (s *SQLiteStore) SaveFeedSource(ctx context.Context, src *FeedSource) error {
	if src.Name == "" || src.Endpoint == "" {
		return vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedConfig, "feed source needs name and endpoint", nil)
	}
	if !src.Format.IsValid() {
		return vaulterrors.PermanentFeed(vaulterrors.ErrCodeFeedConfig,
			fmt.Sprintf("unknown feed format %q", src.Format), nil)
	}
	state := src.State
	if state == "" {
		state = SourceActive
	}
	created := src.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	headers, err := json.Marshal(src.Headers)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to encode headers", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feed_sources (name, endpoint, format, poll_interval_ns, priority, headers, state, last_polled, backoff_until, fail_count, fail_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			endpoint = excluded.endpoint,
			format = excluded.format,
			poll_interval_ns = excluded.poll_interval_ns,
			priority = excluded.priority,
			headers = excluded.headers`,
		src.Name, src.Endpoint, string(src.Format), int64(src.PollInterval), src.Priority,
		string(headers), string(state), timeToNano(src.LastPolled), timeToNano(src.BackoffUntil),
		src.FailCount, src.FailReason, created.UnixNano())
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to save feed source", err)
	}
	return nil
}

// GetFeedSource returns a feed source by name.
func (s *SQLiteStore) GetFeedSource(ctx context.Context, name string) (*FeedSource, error) {
	row := s.db.QueryRowContext(ctx, feedSourceSelect+" WHERE name = ?", name)
	src, err := scanFeedSource(row)
	if err == sql.ErrNoRows {
		return nil, vaulterrors.NotFound(fmt.Sprintf("feed source %q", name))
	}
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to load feed source", err)
	}
	return src, nil
}

// ListFeedSources returns all feed sources, highest priority first.
func (s *SQLiteStore) ListFeedSources(ctx context.Context) ([]*FeedSource, error) {
	rows, err := s.db.QueryContext(ctx, feedSourceSelect+" ORDER BY priority DESC, name ASC")
	if err != nil {
		return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to list feed sources", err)
	}
	defer rows.Close()
	var out []*FeedSource
	for rows.Next() {
		src, serr := scanFeedSource(rows)
		if serr != nil {
			return nil, vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to scan feed source", serr)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// UpdateFeedSourceStatus persists a scheduler state transition.
func (s *SQLiteStore) UpdateFeedSourceStatus(ctx context.Context, name string, status SourceStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE feed_sources SET state = ?, last_polled = ?, backoff_until = ?, fail_count = ?, fail_reason = ?
		WHERE name = ?`,
		string(status.State), timeToNano(status.LastPolled), timeToNano(status.BackoffUntil),
		status.FailCount, status.FailReason, name)
	if err != nil {
		return vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to update feed source", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return vaulterrors.NotFound(fmt.Sprintf("feed source %q", name))
	}
	return nil
}

const feedSourceSelect = `SELECT name, endpoint, format, poll_interval_ns, priority, headers, state, last_polled, backoff_until, fail_count, fail_reason, created_at FROM feed_sources`

func scanFeedSource(row interface{ Scan(...any) error }) (*FeedSource, error) {
	var (
		src                         FeedSource
		format, state, headers      string
		intervalNS, polled, backoff int64
		created                     int64
	)
	err := row.Scan(&src.Name, &src.Endpoint, &format, &intervalNS, &src.Priority,
		&headers, &state, &polled, &backoff, &src.FailCount, &src.FailReason, &created)
	if err != nil {
		return nil, err
	}
	src.Format = FeedFormat(format)
	src.State = SourceState(state)
	src.PollInterval = time.Duration(intervalNS)
	src.LastPolled = nanoToTime(polled)
	src.BackoffUntil = nanoToTime(backoff)
	src.CreatedAt = time.Unix(0, created)
	if headers != "" && headers != "{}" && headers != "null" {
		if uerr := json.Unmarshal([]byte(headers), &src.Headers); uerr != nil {
			return nil, uerr
		}
	}
	return &src, nil
}

func timeToNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanoToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func marshalMetadata(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", vaulterrors.New(vaulterrors.ErrCodeInternal, "failed to encode metadata", err)
	}
	return string(b), nil
}

// mergeMetadata is a shallow merge: incoming keys win, keys absent from the
// new observation survive.
func mergeMetadata(old, incoming map[string]string) map[string]string {
	if len(old) == 0 {
		return incoming
	}
	merged := make(map[string]string, len(old)+len(incoming))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}

// encodeVector serializes float32 vectors as little-endian for the BLOB
// column.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
