package logger

// Standard field names for consistent structured logging across tempo.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldScheduleID = "schedule_id"
	FieldJobID      = "job_id"
	FieldOrgID      = "org_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount     = "count"
	FieldBatchSize = "batch_size"

	// Symbol marker (see sym package)
	FieldSymbol = "symbol"
)
