package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"prism/internal/types"
)

// PostgresStore persists entities with native text[] columns for the
// canonical dimensions so overlap and containment queries run against GIN
// indexes instead of JSON scans.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore wraps an open connection and ensures the schema. The
// caller owns connection pooling configuration.
func NewPostgresStore(db *sql.DB, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PostgresStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// OpenPostgresStore connects with the given DSN and ensures the schema.
func OpenPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	s, err := NewPostgresStore(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		entity_class TEXT NOT NULL,
		entity_name TEXT NOT NULL DEFAULT '',
		given_name TEXT NOT NULL DEFAULT '',
		family_name TEXT NOT NULL DEFAULT '',
		org_name TEXT NOT NULL DEFAULT '',
		street_address TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		postcode TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		website_url TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		time_start TIMESTAMPTZ,
		time_end TIMESTAMPTZ,
		raw_categories TEXT[] NOT NULL DEFAULT '{}',
		canonical_activities TEXT[] NOT NULL DEFAULT '{}',
		canonical_roles TEXT[] NOT NULL DEFAULT '{}',
		canonical_place_types TEXT[] NOT NULL DEFAULT '{}',
		canonical_access TEXT[] NOT NULL DEFAULT '{}',
		modules JSONB NOT NULL DEFAULT '{}',
		field_confidence JSONB NOT NULL DEFAULT '{}',
		source_info JSONB NOT NULL DEFAULT '{}',
		external_ids JSONB NOT NULL DEFAULT '{}',
		raw_observations JSONB NOT NULL DEFAULT '{}',
		structural_counts JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_slug ON entities(slug);
	CREATE INDEX IF NOT EXISTS idx_entities_class ON entities(entity_class);
	CREATE INDEX IF NOT EXISTS idx_entities_activities ON entities USING GIN (canonical_activities);
	CREATE INDEX IF NOT EXISTS idx_entities_roles ON entities USING GIN (canonical_roles);
	CREATE INDEX IF NOT EXISTS idx_entities_place_types ON entities USING GIN (canonical_place_types);
	CREATE INDEX IF NOT EXISTS idx_entities_access ON entities USING GIN (canonical_access);

	CREATE TABLE IF NOT EXISTS quarantine (
		id TEXT PRIMARY KEY,
		slug TEXT,
		source TEXT,
		kind TEXT NOT NULL,
		error TEXT NOT NULL,
		entity_snapshot JSONB NOT NULL DEFAULT '{}',
		retry_count INTEGER NOT NULL DEFAULT 0,
		quarantined_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantine_slug ON quarantine(slug);

	CREATE TABLE IF NOT EXISTS merge_conflicts (
		id TEXT PRIMARY KEY,
		left_slug TEXT NOT NULL,
		right_slug TEXT NOT NULL,
		left_source TEXT NOT NULL,
		right_source TEXT NOT NULL,
		similarity DOUBLE PRECISION NOT NULL,
		distance_m DOUBLE PRECISION,
		detected_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// UpsertEntity writes the full record by slug, preserving created_at on
// replacement.
func (s *PostgresStore) UpsertEntity(ctx context.Context, e *types.Entity) error {
	now := time.Now().UTC()

	modules, err := json.Marshal(orEmptyMap(e.Modules == nil, e.Modules))
	if err != nil {
		return fmt.Errorf("failed to marshal modules: %w", err)
	}
	fieldConfidence, _ := json.Marshal(orEmptyMap(e.FieldConfidence == nil, e.FieldConfidence))
	sourceInfo, _ := json.Marshal(orEmptyMap(e.SourceInfo == nil, e.SourceInfo))
	externalIDs, _ := json.Marshal(orEmptyMap(e.ExternalIDs == nil, e.ExternalIDs))
	rawObservations, _ := json.Marshal(orEmptyMap(e.RawObservations == nil, e.RawObservations))
	structuralCounts, _ := json.Marshal(orEmptyMap(e.StructuralCounts == nil, e.StructuralCounts))

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (
			id, slug, entity_class, entity_name, given_name, family_name,
			org_name, street_address, city, postcode, country,
			latitude, longitude, phone, email, website_url, description, summary,
			time_start, time_end,
			raw_categories,
			canonical_activities, canonical_roles, canonical_place_types, canonical_access,
			modules, field_confidence, source_info,
			external_ids, raw_observations, structural_counts,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33)
		ON CONFLICT (slug) DO UPDATE SET
			id = EXCLUDED.id,
			entity_class = EXCLUDED.entity_class,
			entity_name = EXCLUDED.entity_name,
			given_name = EXCLUDED.given_name,
			family_name = EXCLUDED.family_name,
			org_name = EXCLUDED.org_name,
			street_address = EXCLUDED.street_address,
			city = EXCLUDED.city,
			postcode = EXCLUDED.postcode,
			country = EXCLUDED.country,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			website_url = EXCLUDED.website_url,
			description = EXCLUDED.description,
			summary = EXCLUDED.summary,
			time_start = EXCLUDED.time_start,
			time_end = EXCLUDED.time_end,
			raw_categories = EXCLUDED.raw_categories,
			canonical_activities = EXCLUDED.canonical_activities,
			canonical_roles = EXCLUDED.canonical_roles,
			canonical_place_types = EXCLUDED.canonical_place_types,
			canonical_access = EXCLUDED.canonical_access,
			modules = EXCLUDED.modules,
			field_confidence = EXCLUDED.field_confidence,
			source_info = EXCLUDED.source_info,
			external_ids = EXCLUDED.external_ids,
			raw_observations = EXCLUDED.raw_observations,
			structural_counts = EXCLUDED.structural_counts,
			updated_at = EXCLUDED.updated_at`,
		e.ID, e.Slug, e.EntityClass, e.EntityName, e.GivenName, e.FamilyName,
		e.OrgName, e.StreetAddress, e.City, e.Postcode, e.Country,
		nullFloat(e.Latitude), nullFloat(e.Longitude),
		e.Phone, e.Email, e.WebsiteURL, e.Description, e.Summary,
		nullTime(e.TimeStart), nullTime(e.TimeEnd),
		pq.Array(emptySlice(e.RawCategories)),
		pq.Array(emptySlice(e.CanonicalActivities)),
		pq.Array(emptySlice(e.CanonicalRoles)),
		pq.Array(emptySlice(e.CanonicalPlaceTypes)),
		pq.Array(emptySlice(e.CanonicalAccess)),
		modules, fieldConfidence, sourceInfo,
		externalIDs, rawObservations, structuralCounts,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %q: %w", e.Slug, err)
	}
	return nil
}

const pgEntityColumns = `id, slug, entity_class, entity_name, given_name, family_name,
	org_name, street_address, city, postcode, country,
	latitude, longitude, phone, email, website_url, description, summary,
	time_start, time_end,
	raw_categories,
	canonical_activities, canonical_roles, canonical_place_types, canonical_access,
	modules, field_confidence, source_info,
	external_ids, raw_observations, structural_counts,
	created_at, updated_at`

// GetEntityBySlug returns the entity or (nil, nil) when absent.
func (s *PostgresStore) GetEntityBySlug(ctx context.Context, slug string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+pgEntityColumns+" FROM entities WHERE slug = $1", slug)
	e, err := scanPgEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %q: %w", slug, err)
	}
	return e, nil
}

var pgDimensionColumns = map[types.Dimension]string{
	types.DimActivities: "canonical_activities",
	types.DimRoles:      "canonical_roles",
	types.DimPlaceTypes: "canonical_place_types",
	types.DimAccess:     "canonical_access",
}

// QueryEntities filters with array operators: overlap (&&) for has/hasSome,
// containment (@>) for hasEvery.
func (s *PostgresStore) QueryEntities(ctx context.Context, filters []DimensionFilter) ([]types.Entity, error) {
	var clauses []string
	var args []any
	for _, f := range filters {
		col, ok := pgDimensionColumns[f.Dimension]
		if !ok {
			return nil, fmt.Errorf("unknown dimension %q", f.Dimension)
		}
		args = append(args, pq.Array(f.Values))
		switch f.Match {
		case MatchHas, MatchHasSome:
			clauses = append(clauses, fmt.Sprintf("%s && $%d", col, len(args)))
		case MatchHasEvery:
			clauses = append(clauses, fmt.Sprintf("%s @> $%d", col, len(args)))
		default:
			return nil, fmt.Errorf("unknown match mode %q", f.Match)
		}
	}

	query := "SELECT " + pgEntityColumns + " FROM entities"
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
		e, err := scanPgEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Quarantine stores a failed extraction for external retry.
func (s *PostgresStore) Quarantine(ctx context.Context, f *types.FailedExtraction) error {
	snapshot, err := json.Marshal(f.EntitySnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal entity snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quarantine (id, slug, source, kind, error, entity_snapshot, retry_count, quarantined_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			retry_count = EXCLUDED.retry_count,
			error = EXCLUDED.error,
			quarantined_at = EXCLUDED.quarantined_at`,
		f.ID, f.Slug, f.Source, string(f.Kind), f.Error, snapshot, f.RetryCount, f.QuarantinedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to quarantine: %w", err)
	}
	return nil
}

// RecordConflict stores an ambiguous-merge record.
func (s *PostgresStore) RecordConflict(ctx context.Context, c *types.MergeConflict) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_conflicts (id, left_slug, right_slug, left_source, right_source, similarity, distance_m, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			similarity = EXCLUDED.similarity,
			distance_m = EXCLUDED.distance_m,
			detected_at = EXCLUDED.detected_at`,
		c.ID, c.LeftSlug, c.RightSlug, c.LeftSource, c.RightSource, c.Similarity, c.DistanceM, c.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

// ListConflicts returns all conflicts ordered by detection time.
func (s *PostgresStore) ListConflicts(ctx context.Context) ([]types.MergeConflict, error) {
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

func (s *PostgresStore) Close() error { return s.db.Close() }

func scanPgEntity(row rowScanner) (*types.Entity, error) {
	var e types.Entity
	var lat, lng sql.NullFloat64
	var tStart, tEnd sql.NullTime
	var rawCategories, activities, roles, placeTypes, access pq.StringArray
	var modules, fieldConfidence, sourceInfo, externalIDs, rawObservations, structuralCounts []byte

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

	e.RawCategories = rawCategories
	e.CanonicalActivities = activities
	e.CanonicalRoles = roles
	e.CanonicalPlaceTypes = placeTypes
	e.CanonicalAccess = access

	for _, field := range []struct {
		src []byte
		dst any
	}{
		{modules, &e.Modules},
		{fieldConfidence, &e.FieldConfidence},
		{sourceInfo, &e.SourceInfo},
		{externalIDs, &e.ExternalIDs},
		{rawObservations, &e.RawObservations},
		{structuralCounts, &e.StructuralCounts},
	} {
		if len(field.src) == 0 {
			continue
		}
		if err := json.Unmarshal(field.src, field.dst); err != nil {
			return nil, fmt.Errorf("failed to decode entity column: %w", err)
		}
	}
	return &e, nil
}
