package types

import (
	"fmt"
	"time"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind classifies run errors. Kinds, not Go types, are what gets
// recorded and reported; only lens, resolution, and planning errors may
// terminate the process.
type ErrorKind string

const (
	KindLensConfig      ErrorKind = "LensConfigError"
	KindLensResolution  ErrorKind = "LensResolutionError"
	KindPlanning        ErrorKind = "PlanningError"
	KindConnector       ErrorKind = "ConnectorError"
	KindExtraction      ErrorKind = "ExtractionError"
	KindPurityViolation ErrorKind = "PurityViolation"
	KindMergeConflict   ErrorKind = "MergeConflict"
	KindPersistence     ErrorKind = "PersistenceError"
	KindBudgetExceeded  ErrorKind = "BudgetExceeded" // normal termination, not a failure
)

// RunError is one recoverable error recorded in a run's errors[] list.
type RunError struct {
	Connector string    `json:"connector,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

func (e RunError) Error() string {
	if e.Connector != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Connector, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// PurityError reports an extractor emitting keys outside the primitive
// contract. Fatal in tests; at runtime the payload is quarantined.
type PurityError struct {
	Source      string   `json:"source"`
	IllegalKeys []string `json:"illegal_keys"`
}

func (e *PurityError) Error() string {
	return fmt.Sprintf("purity violation in extractor %q: illegal keys %v", e.Source, e.IllegalKeys)
}

// =============================================================================
// OUT-OF-BAND RECORDS
// =============================================================================

// MergeConflict links two candidates that matched ambiguously. Neither is
// merged; both survive as separate entities and the conflict is emitted for
// out-of-band review.
type MergeConflict struct {
	ID          string    `json:"id"`
	LeftSlug    string    `json:"left_slug"`
	RightSlug   string    `json:"right_slug"`
	LeftSource  string    `json:"left_source"`
	RightSource string    `json:"right_source"`
	Similarity  float64   `json:"similarity"`
	DistanceM   float64   `json:"distance_m,omitempty"`
	DetectedAt  time.Time `json:"detected_at"`
}

// FailedExtraction is a quarantined payload or entity: the snapshot, the
// error that stopped it, and how often a retry has been attempted. Retry is
// an external operation, idempotent by slug.
type FailedExtraction struct {
	ID             string    `json:"id"`
	Slug           string    `json:"slug,omitempty"`
	Source         string    `json:"source,omitempty"`
	EntitySnapshot any       `json:"entity_snapshot"`
	Error          string    `json:"error"`
	Kind           ErrorKind `json:"kind"`
	RetryCount     int       `json:"retry_count"`
	QuarantinedAt  time.Time `json:"quarantined_at"`
}
