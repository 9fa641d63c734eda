package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"prism/internal/types"
)

// SQLiteStore persists entities in a single SQLite file. Dimension arrays
// and nested maps live in _json columns; dimension queries go through
// json_each.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and
// initializes the schema.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Debug("sqlite store ready", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		entity_class TEXT NOT NULL,
		entity_name TEXT,
		given_name TEXT,
		family_name TEXT,
		org_name TEXT,
		street_address TEXT,
		city TEXT,
		postcode TEXT,
		country TEXT,
		latitude REAL,
		longitude REAL,
		phone TEXT,
		email TEXT,
		website_url TEXT,
		description TEXT,
		summary TEXT,
		time_start TIMESTAMP,
		time_end TIMESTAMP,
		raw_categories_json TEXT NOT NULL DEFAULT '[]',
		canonical_activities_json TEXT NOT NULL DEFAULT '[]',
		canonical_roles_json TEXT NOT NULL DEFAULT '[]',
		canonical_place_types_json TEXT NOT NULL DEFAULT '[]',
		canonical_access_json TEXT NOT NULL DEFAULT '[]',
		modules_json TEXT NOT NULL DEFAULT '{}',
		field_confidence_json TEXT NOT NULL DEFAULT '{}',
		source_info_json TEXT NOT NULL DEFAULT '{}',
		external_ids_json TEXT NOT NULL DEFAULT '{}',
		raw_observations_json TEXT NOT NULL DEFAULT '{}',
		structural_counts_json TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_slug ON entities(slug);
	CREATE INDEX IF NOT EXISTS idx_entities_class ON entities(entity_class);

	CREATE TABLE IF NOT EXISTS quarantine (
		id TEXT PRIMARY KEY,
		slug TEXT,
		source TEXT,
		kind TEXT NOT NULL,
		error TEXT NOT NULL,
		entity_snapshot_json TEXT NOT NULL DEFAULT '{}',
		retry_count INTEGER NOT NULL DEFAULT 0,
		quarantined_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantine_slug ON quarantine(slug);

	CREATE TABLE IF NOT EXISTS merge_conflicts (
		id TEXT PRIMARY KEY,
		left_slug TEXT NOT NULL,
		right_slug TEXT NOT NULL,
		left_source TEXT NOT NULL,
		right_source TEXT NOT NULL,
		similarity REAL NOT NULL,
		distance_m REAL,
		detected_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// UpsertEntity writes the full record, replacing any previous row with the
// same slug and preserving its created_at.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *types.Entity) error {
	now := time.Now().UTC()

	dims, err := marshalEntityJSON(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, slug, entity_class, entity_name, given_name, family_name,
			org_name, street_address, city, postcode, country,
			latitude, longitude, phone, email, website_url, description, summary,
			time_start, time_end,
			raw_categories_json,
			canonical_activities_json, canonical_roles_json,
			canonical_place_types_json, canonical_access_json,
			modules_json, field_confidence_json, source_info_json,
			external_ids_json, raw_observations_json, structural_counts_json,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(slug) DO UPDATE SET
			id = excluded.id,
			entity_class = excluded.entity_class,
			entity_name = excluded.entity_name,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			org_name = excluded.org_name,
			street_address = excluded.street_address,
			city = excluded.city,
			postcode = excluded.postcode,
			country = excluded.country,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			phone = excluded.phone,
			email = excluded.email,
			website_url = excluded.website_url,
			description = excluded.description,
			summary = excluded.summary,
			time_start = excluded.time_start,
			time_end = excluded.time_end,
			raw_categories_json = excluded.raw_categories_json,
			canonical_activities_json = excluded.canonical_activities_json,
			canonical_roles_json = excluded.canonical_roles_json,
			canonical_place_types_json = excluded.canonical_place_types_json,
			canonical_access_json = excluded.canonical_access_json,
			modules_json = excluded.modules_json,
			field_confidence_json = excluded.field_confidence_json,
			source_info_json = excluded.source_info_json,
			external_ids_json = excluded.external_ids_json,
			raw_observations_json = excluded.raw_observations_json,
			structural_counts_json = excluded.structural_counts_json,
			updated_at = excluded.updated_at`,
		e.ID, e.Slug, e.EntityClass, e.EntityName, e.GivenName, e.FamilyName,
		e.OrgName, e.StreetAddress, e.City, e.Postcode, e.Country,
		nullFloat(e.Latitude), nullFloat(e.Longitude),
		e.Phone, e.Email, e.WebsiteURL, e.Description, e.Summary,
		nullTime(e.TimeStart), nullTime(e.TimeEnd),
		dims.rawCategories,
		dims.activities, dims.roles, dims.placeTypes, dims.access,
		dims.modules, dims.fieldConfidence, dims.sourceInfo,
		dims.externalIDs, dims.rawObservations, dims.structuralCounts,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", e.Slug, err)
	}
	return nil
}

const entityColumns = `id, slug, entity_class, entity_name, given_name, family_name,
	org_name, street_address, city, postcode, country,
	latitude, longitude, phone, email, website_url, description, summary,
	time_start, time_end,
	raw_categories_json,
	canonical_activities_json, canonical_roles_json,
	canonical_place_types_json, canonical_access_json,
	modules_json, field_confidence_json, source_info_json,
	external_ids_json, raw_observations_json, structural_counts_json,
	created_at, updated_at`

// GetEntityBySlug returns the entity or (nil, nil) when absent.
func (s *SQLiteStore) GetEntityBySlug(ctx context.Context, slug string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE slug = ?", slug)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %q: %w", slug, err)
	}
	return e, nil
}

var dimensionColumns = map[types.Dimension]string{
	types.DimActivities: "canonical_activities_json",
	types.DimRoles:      "canonical_roles_json",
	types.DimPlaceTypes: "canonical_place_types_json",
	types.DimAccess:     "canonical_access_json",
}

// QueryEntities filters by dimension membership via json_each. Filters AND
// together; hasSome ORs its values.
func (s *SQLiteStore) QueryEntities(ctx context.Context, filters []DimensionFilter) ([]types.Entity, error) {
	var clauses []string
	var args []any
	for _, f := range filters {
		col, ok := dimensionColumns[f.Dimension]
		if !ok {
			return nil, fmt.Errorf("unknown dimension %q", f.Dimension)
		}
		switch f.Match {
		case MatchHas, MatchHasSome:
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Values)), ",")
			clauses = append(clauses, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(entities.%s) WHERE json_each.value IN (%s))", col, placeholders))
			for _, v := range f.Values {
				args = append(args, v)
			}
		case MatchHasEvery:
			for _, v := range f.Values {
				clauses = append(clauses, fmt.Sprintf(
					"EXISTS (SELECT 1 FROM json_each(entities.%s) WHERE json_each.value = ?)", col))
				args = append(args, v)
			}
		default:
			return nil, fmt.Errorf("unknown match mode %q", f.Match)
		}
	}

	query := "SELECT " + entityColumns + " FROM entities"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY slug"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Quarantine stores a failed extraction for external retry.
func (s *SQLiteStore) Quarantine(ctx context.Context, f *types.FailedExtraction) error {
	snapshot, err := json.Marshal(f.EntitySnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal entity snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quarantine (id, slug, source, kind, error, entity_snapshot_json, retry_count, quarantined_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			retry_count = excluded.retry_count,
			error = excluded.error,
			quarantined_at = excluded.quarantined_at`,
		f.ID, f.Slug, f.Source, string(f.Kind), f.Error, string(snapshot), f.RetryCount, f.QuarantinedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to quarantine: %w", err)
	}
	return nil
}

// RecordConflict stores an ambiguous-merge record. Conflict ids are
// name-based, so re-detecting the same pair overwrites rather than piles up.
func (s *SQLiteStore) RecordConflict(ctx context.Context, c *types.MergeConflict) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_conflicts (id, left_slug, right_slug, left_source, right_source, similarity, distance_m, detected_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			similarity = excluded.similarity,
			distance_m = excluded.distance_m,
			detected_at = excluded.detected_at`,
		c.ID, c.LeftSlug, c.RightSlug, c.LeftSource, c.RightSource, c.Similarity, c.DistanceM, c.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

// ListConflicts returns all conflicts ordered by detection time.
func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]types.MergeConflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, left_slug, right_slug, left_source, right_source, similarity, distance_m, detected_at
		FROM merge_conflicts ORDER BY detected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []types.MergeConflict
	for rows.Next() {
		var c types.MergeConflict
		var dist sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.LeftSlug, &c.RightSlug, &c.LeftSource, &c.RightSource, &c.Similarity, &dist, &c.DetectedAt); err != nil {
			return nil, err
		}
		c.DistanceM = dist.Float64
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// entityJSON carries the marshalled _json column values for one entity.
type entityJSON struct {
	rawCategories    string
	activities       string
	roles            string
	placeTypes       string
	access           string
	modules          string
	fieldConfidence  string
	sourceInfo       string
	externalIDs      string
	rawObservations  string
	structuralCounts string
}

func marshalEntityJSON(e *types.Entity) (*entityJSON, error) {
	out := &entityJSON{}
	for _, field := range []struct {
		dst *string
		src any
	}{
		{&out.rawCategories, emptySlice(e.RawCategories)},
		{&out.activities, emptySlice(e.CanonicalActivities)},
		{&out.roles, emptySlice(e.CanonicalRoles)},
		{&out.placeTypes, emptySlice(e.CanonicalPlaceTypes)},
		{&out.access, emptySlice(e.CanonicalAccess)},
		{&out.modules, orEmptyMap(e.Modules == nil, e.Modules)},
		{&out.fieldConfidence, orEmptyMap(e.FieldConfidence == nil, e.FieldConfidence)},
		{&out.sourceInfo, orEmptyMap(e.SourceInfo == nil, e.SourceInfo)},
		{&out.externalIDs, orEmptyMap(e.ExternalIDs == nil, e.ExternalIDs)},
		{&out.rawObservations, orEmptyMap(e.RawObservations == nil, e.RawObservations)},
		{&out.structuralCounts, orEmptyMap(e.StructuralCounts == nil, e.StructuralCounts)},
	} {
		b, err := json.Marshal(field.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entity field: %w", err)
		}
		*field.dst = string(b)
	}
	return out, nil
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(isNil bool, m any) any {
	if isNil {
		return map[string]any{}
	}
	return m
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var lat, lng sql.NullFloat64
	var tStart, tEnd sql.NullTime
	var rawCategories, activities, roles, placeTypes, access string
	var modules, fieldConfidence, sourceInfo, externalIDs, rawObservations, structuralCounts string

	err := row.Scan(
		&e.ID, &e.Slug, &e.EntityClass, &e.EntityName, &e.GivenName, &e.FamilyName,
		&e.OrgName, &e.StreetAddress, &e.City, &e.Postcode, &e.Country,
		&lat, &lng, &e.Phone, &e.Email, &e.WebsiteURL, &e.Description, &e.Summary,
		&tStart, &tEnd,
		&rawCategories,
		&activities, &roles, &placeTypes, &access,
		&modules, &fieldConfidence, &sourceInfo,
		&externalIDs, &rawObservations, &structuralCounts,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lng.Valid {
		e.Latitude, e.Longitude = &lat.Float64, &lng.Float64
	}
	if tStart.Valid {
		t := tStart.Time
		e.TimeStart = &t
	}
	if tEnd.Valid {
		t := tEnd.Time
		e.TimeEnd = &t
	}

	for _, field := range []struct {
		src string
		dst any
	}{
		{rawCategories, &e.RawCategories},
		{activities, &e.CanonicalActivities},
		{roles, &e.CanonicalRoles},
		{placeTypes, &e.CanonicalPlaceTypes},
		{access, &e.CanonicalAccess},
		{modules, &e.Modules},
		{fieldConfidence, &e.FieldConfidence},
		{sourceInfo, &e.SourceInfo},
		{externalIDs, &e.ExternalIDs},
		{rawObservations, &e.RawObservations},
		{structuralCounts, &e.StructuralCounts},
	} {
		if err := json.Unmarshal([]byte(field.src), field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode entity column: %w", err)
		}
	}
	return &e, nil
}
