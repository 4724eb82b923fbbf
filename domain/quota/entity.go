package quota

import (
	"time"

	"github.com/uptrace/bun"
)

// Resources the gate admits or capacity-checks.
const (
	// ResourceQuery covers the query path: per-minute bucket + monthly counter
	ResourceQuery = "query"

	// ResourceAPICall covers every other API operation: per-second bucket +
	// monthly counter
	ResourceAPICall = "api_call"

	// Bulk resources, checked via CheckCapacity
	ResourceConcepts = "concepts"
	ResourceStorage  = "storage"
)

// Window resource names used in QuotaExceeded details and usage rows.
const (
	windowQueriesPerMinute  = "queries_per_minute"
	windowAPICallsPerSecond = "api_calls_per_second"
	windowQueriesPerMonth   = "queries_per_month"
	windowAPICallsPerMonth  = "api_calls_per_month"
)

// Limits are a tenant's quota ceilings.
type Limits struct {
	MaxConcepts       int64 `json:"max_concepts"`
	QueriesPerMonth   int64 `json:"max_queries_per_month"`
	APICallsPerMonth  int64 `json:"max_api_calls_per_month"`
	StorageBytes      int64 `json:"max_storage_bytes"`
	QueriesPerMinute  int   `json:"max_queries_per_minute"`
	APICallsPerSecond int   `json:"max_api_calls_per_second"`
	MaxPhase          int   `json:"max_phase"`
}

// TenantQuota is the persisted limits row.
type TenantQuota struct {
	bun.BaseModel `bun:"table:kb.tenant_quotas,alias:tq"`

	TenantID          string    `bun:"tenant_id,pk" json:"tenant_id"`
	MaxConcepts       int64     `bun:"max_concepts,notnull" json:"max_concepts"`
	QueriesPerMonth   int64     `bun:"max_queries_per_month,notnull" json:"max_queries_per_month"`
	APICallsPerMonth  int64     `bun:"max_api_calls_per_month,notnull" json:"max_api_calls_per_month"`
	StorageBytes      int64     `bun:"max_storage_bytes,notnull" json:"max_storage_bytes"`
	QueriesPerMinute  int       `bun:"max_queries_per_minute,notnull" json:"max_queries_per_minute"`
	APICallsPerSecond int       `bun:"max_api_calls_per_second,notnull" json:"max_api_calls_per_second"`
	MaxPhase          int       `bun:"max_phase,notnull,default:4" json:"max_phase"`
	CreatedAt         time.Time `bun:"created_at,notnull,default:now()" json:"created_at"`
	UpdatedAt         time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// Limits converts the row into the in-memory form.
func (q *TenantQuota) Limits() Limits {
	return Limits{
		MaxConcepts:       q.MaxConcepts,
		QueriesPerMonth:   q.QueriesPerMonth,
		APICallsPerMonth:  q.APICallsPerMonth,
		StorageBytes:      q.StorageBytes,
		QueriesPerMinute:  q.QueriesPerMinute,
		APICallsPerSecond: q.APICallsPerSecond,
		MaxPhase:          q.MaxPhase,
	}
}

// TenantUsage is a persisted monthly counter row keyed by
// (tenant, resource, window start).
type TenantUsage struct {
	bun.BaseModel `bun:"table:kb.tenant_usage,alias:tu"`

	TenantID    string    `bun:"tenant_id,pk" json:"tenant_id"`
	Resource    string    `bun:"resource,pk" json:"resource"`
	WindowStart time.Time `bun:"window_start,pk" json:"window_start"`
	Used        int64     `bun:"used,notnull,default:0" json:"used"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:now()" json:"updated_at"`
}

// ResourceUsage is one line of a usage snapshot.
type ResourceUsage struct {
	Resource string     `json:"resource"`
	Used     int64      `json:"used"`
	Limit    int64      `json:"limit"`
	Percent  float64    `json:"percent"`
	ResetAt  *time.Time `json:"reset_at,omitempty"`
}

// UsageSnapshot reports a tenant's consumption across resources.
type UsageSnapshot struct {
	TenantID  string          `json:"tenant_id"`
	Resources []ResourceUsage `json:"resources"`
	MaxPhase  int             `json:"max_phase"`
}

// monthStart returns the UTC calendar month boundary containing t.
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// nextMonthStart returns the start of the month after t.
func nextMonthStart(t time.Time) time.Time {
	return monthStart(t).AddDate(0, 1, 0)
}
