package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teranos/tempo/errors"
)

// Store handles persistence of schedules. All read/write operations
// except FindDueBatch and the dispatch accounting writes are scoped to
// an org; the engine operates across all orgs.
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `id, org_id, created_by, name, description,
	job_type, job_config, frequency, hour, minute,
	day_of_week, day_of_month, cron_expr, timezone, start_date, end_date,
	delivery_method, delivery_config,
	is_active, next_run_at, last_run_at, last_job_id, failure_count,
	created_at, updated_at`

// ListOptions filters and pages a schedule listing.
type ListOptions struct {
	JobType        string
	Frequency      Frequency
	DeliveryMethod string
	IsActive       *bool
	Search         string // substring match on name

	Limit  int
	Offset int

	OrderBy   string // name, next_run_at, frequency, created_at
	OrderDesc bool
}

// orderableColumns is the allow-list for ListOptions.OrderBy. Anything
// else falls back to created_at rather than erroring.
var orderableColumns = map[string]string{
	"name":        "name",
	"next_run_at": "next_run_at",
	"frequency":   "frequency",
	"created_at":  "created_at",
}

// List returns a page of non-deleted schedules for the org plus the
// total count matching the filters.
func (s *Store) List(orgID string, opts ListOptions) ([]*Schedule, int, error) {
	where := []string{"org_id = ?", "deleted_at IS NULL"}
	args := []interface{}{orgID}

	if opts.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, opts.JobType)
	}
	if opts.Frequency != "" {
		where = append(where, "frequency = ?")
		args = append(args, string(opts.Frequency))
	}
	if opts.DeliveryMethod != "" {
		where = append(where, "delivery_method = ?")
		args = append(args, opts.DeliveryMethod)
	}
	if opts.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolToInt(*opts.IsActive))
	}
	if opts.Search != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+opts.Search+"%")
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM schedules WHERE " + whereClause
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count schedules")
	}

	orderCol, ok := orderableColumns[opts.OrderBy]
	if !ok {
		orderCol = "created_at"
	}
	direction := "ASC"
	if opts.OrderDesc {
		direction = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(
		"SELECT %s FROM schedules WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		scheduleColumns, whereClause, orderCol, direction,
	)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list schedules")
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "iterate schedules")
	}

	return schedules, total, nil
}

// GetByID retrieves a schedule by id within the org. Soft-deleted rows
// are invisible.
func (s *Store) GetByID(orgID, id string) (*Schedule, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM schedules WHERE id = ? AND org_id = ? AND deleted_at IS NULL",
		scheduleColumns,
	)

	sched, err := scanSchedule(s.db.QueryRow(query, id, orgID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(errors.ErrNotFound, "schedule %s", id)
		}
		return nil, err
	}
	return sched, nil
}

// Create inserts a new schedule row. The caller is responsible for
// setting ID and NextRunAt; the store never invokes the calculator.
func (s *Store) Create(sched *Schedule) error {
	now := time.Now().UTC()
	sched.CreatedAt = now
	sched.UpdatedAt = now

	if len(sched.JobConfig) == 0 {
		sched.JobConfig = json.RawMessage("{}")
	}
	if len(sched.DeliveryConfig) == 0 {
		sched.DeliveryConfig = json.RawMessage("{}")
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	query := `
		INSERT INTO schedules (
			id, org_id, created_by, name, description,
			job_type, job_config, frequency, hour, minute,
			day_of_week, day_of_month, cron_expr, timezone, start_date, end_date,
			delivery_method, delivery_config,
			is_active, next_run_at, last_run_at, last_job_id, failure_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		sched.ID,
		sched.OrgID,
		sched.CreatedBy,
		sched.Name,
		nullString(sched.Description),
		sched.JobType,
		string(sched.JobConfig),
		string(sched.Frequency),
		sched.Hour,
		sched.Minute,
		nullIntPtr(sched.DayOfWeek),
		nullIntPtr(sched.DayOfMonth),
		nullStringPtr(sched.CronExpr),
		sched.Timezone,
		nullTimePtr(sched.StartDate),
		nullTimePtr(sched.EndDate),
		nullString(sched.DeliveryMethod),
		string(sched.DeliveryConfig),
		boolToInt(sched.IsActive),
		nullTimePtr(sched.NextRunAt),
		nullTimePtr(sched.LastRunAt),
		nullStringPtr(sched.LastJobID),
		sched.FailureCount,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Wrap(err, "create schedule")
	}
	return nil
}

// Patch is a partial update to a schedule. Nil fields are left
// untouched. NextRunAt handling is explicit because recompute policy
// lives in the service, not here.
type Patch struct {
	Name        *string
	Description *string

	JobType   *string
	JobConfig json.RawMessage

	Frequency  *Frequency
	Hour       *int
	Minute     *int
	DayOfWeek  *int
	DayOfMonth *int
	CronExpr   *string
	Timezone   *string
	StartDate  *time.Time
	EndDate    *time.Time

	DeliveryMethod *string
	DeliveryConfig json.RawMessage

	IsActive *bool

	NextRunAt      *time.Time
	ClearNextRunAt bool

	ResetFailureCount bool
}

// HasRecurrenceChange reports whether the patch touches any field that
// determines when the schedule fires.
func (p Patch) HasRecurrenceChange() bool {
	return p.Frequency != nil || p.Hour != nil || p.Minute != nil ||
		p.DayOfWeek != nil || p.DayOfMonth != nil || p.CronExpr != nil
}

// Update applies a partial update and returns the updated row.
func (s *Store) Update(orgID, id string, patch Patch) (*Schedule, error) {
	var sets []string
	var args []interface{}

	set := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Description != nil {
		set("description", nullString(*patch.Description))
	}
	if patch.JobType != nil {
		set("job_type", *patch.JobType)
	}
	if patch.JobConfig != nil {
		set("job_config", string(patch.JobConfig))
	}
	if patch.Frequency != nil {
		set("frequency", string(*patch.Frequency))
	}
	if patch.Hour != nil {
		set("hour", *patch.Hour)
	}
	if patch.Minute != nil {
		set("minute", *patch.Minute)
	}
	if patch.DayOfWeek != nil {
		set("day_of_week", *patch.DayOfWeek)
	}
	if patch.DayOfMonth != nil {
		set("day_of_month", *patch.DayOfMonth)
	}
	if patch.CronExpr != nil {
		set("cron_expr", *patch.CronExpr)
	}
	if patch.Timezone != nil {
		set("timezone", *patch.Timezone)
	}
	if patch.StartDate != nil {
		set("start_date", patch.StartDate.Format(time.RFC3339))
	}
	if patch.EndDate != nil {
		set("end_date", patch.EndDate.Format(time.RFC3339))
	}
	if patch.DeliveryMethod != nil {
		set("delivery_method", nullString(*patch.DeliveryMethod))
	}
	if patch.DeliveryConfig != nil {
		set("delivery_config", string(patch.DeliveryConfig))
	}
	if patch.IsActive != nil {
		set("is_active", boolToInt(*patch.IsActive))
	}
	if patch.ClearNextRunAt {
		set("next_run_at", nil)
	} else if patch.NextRunAt != nil {
		set("next_run_at", patch.NextRunAt.Format(time.RFC3339))
	}
	if patch.ResetFailureCount {
		set("failure_count", 0)
	}

	if len(sets) == 0 {
		return s.GetByID(orgID, id)
	}

	set("updated_at", time.Now().UTC().Format(time.RFC3339))
	args = append(args, id, orgID)

	query := fmt.Sprintf(
		"UPDATE schedules SET %s WHERE id = ? AND org_id = ? AND deleted_at IS NULL",
		strings.Join(sets, ", "),
	)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "update schedule")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "update schedule rows affected")
	}
	if affected == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "schedule %s", id)
	}

	return s.GetByID(orgID, id)
}

// SoftDelete marks a schedule deleted. Returns false when no row was
// affected (unknown id, wrong org, or already deleted).
func (s *Store) SoftDelete(orgID, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.Exec(
		"UPDATE schedules SET deleted_at = ?, updated_at = ? WHERE id = ? AND org_id = ? AND deleted_at IS NULL",
		now, now, id, orgID,
	)
	if err != nil {
		return false, errors.Wrap(err, "soft delete schedule")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "soft delete rows affected")
	}
	return affected > 0, nil
}

// FindDueBatch returns up to limit dispatch-eligible schedules across
// all orgs, oldest due first. Eligibility: active, not deleted, next
// run at or before now, below the failure threshold.
func (s *Store) FindDueBatch(ctx context.Context, now time.Time, limit int) ([]*Schedule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM schedules
		WHERE is_active = 1
		  AND deleted_at IS NULL
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		  AND failure_count < ?
		ORDER BY next_run_at ASC
		LIMIT ?
	`, scheduleColumns)

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339), MaxFailureCount, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query due schedules")
	}
	defer rows.Close()

	var due []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate due schedules")
	}

	return due, nil
}

// RecordDispatchSuccess persists the outcome of a successful dispatch
// in one update: last run, last job, the recomputed next run, and a
// failure count reset.
func (s *Store) RecordDispatchSuccess(id, jobID string, now time.Time, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, last_job_id = ?, next_run_at = ?,
		    failure_count = 0, updated_at = ?
		WHERE id = ?
	`,
		now.UTC().Format(time.RFC3339),
		jobID,
		nullTimePtr(nextRunAt),
		now.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "record dispatch success")
	}
	return nil
}

// RecordDispatchFailure increments the failure count and, when the
// incremented count reaches the threshold, deactivates the schedule in
// the same update. next_run_at is deliberately untouched so the
// schedule stays due and is retried next tick.
func (s *Store) RecordDispatchFailure(id string, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET failure_count = failure_count + 1,
		    is_active = CASE WHEN failure_count + 1 >= ? THEN 0 ELSE is_active END,
		    updated_at = ?
		WHERE id = ?
	`,
		MaxFailureCount,
		now.UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Wrap(err, "record dispatch failure")
	}
	return nil
}

// RecordManualRun updates only last_run_at and last_job_id. Manual runs
// never advance next_run_at or touch the failure count.
func (s *Store) RecordManualRun(orgID, id, jobID string, now time.Time) error {
	result, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = ?, last_job_id = ?, updated_at = ?
		WHERE id = ? AND org_id = ? AND deleted_at IS NULL
	`,
		now.UTC().Format(time.RFC3339),
		jobID,
		now.UTC().Format(time.RFC3339),
		id,
		orgID,
	)
	if err != nil {
		return errors.Wrap(err, "record manual run")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "record manual run rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "schedule %s", id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var description, cronExpr, deliveryMethod, lastJobID sql.NullString
	var dayOfWeek, dayOfMonth sql.NullInt64
	var startDate, endDate, nextRunAt, lastRunAt sql.NullString
	var jobConfig, deliveryConfig string
	var isActive int
	var frequency, createdAt, updatedAt string

	err := row.Scan(
		&sched.ID,
		&sched.OrgID,
		&sched.CreatedBy,
		&sched.Name,
		&description,
		&sched.JobType,
		&jobConfig,
		&frequency,
		&sched.Hour,
		&sched.Minute,
		&dayOfWeek,
		&dayOfMonth,
		&cronExpr,
		&sched.Timezone,
		&startDate,
		&endDate,
		&deliveryMethod,
		&deliveryConfig,
		&isActive,
		&nextRunAt,
		&lastRunAt,
		&lastJobID,
		&sched.FailureCount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan schedule")
	}

	sched.Description = description.String
	sched.JobConfig = json.RawMessage(jobConfig)
	sched.Frequency = Frequency(frequency)
	sched.DeliveryMethod = deliveryMethod.String
	sched.DeliveryConfig = json.RawMessage(deliveryConfig)
	sched.IsActive = isActive != 0

	if dayOfWeek.Valid {
		v := int(dayOfWeek.Int64)
		sched.DayOfWeek = &v
	}
	if dayOfMonth.Valid {
		v := int(dayOfMonth.Int64)
		sched.DayOfMonth = &v
	}
	if cronExpr.Valid {
		sched.CronExpr = &cronExpr.String
	}
	if lastJobID.Valid {
		sched.LastJobID = &lastJobID.String
	}

	var parseErr error
	if sched.StartDate, parseErr = parseNullTime(startDate); parseErr != nil {
		return nil, parseErr
	}
	if sched.EndDate, parseErr = parseNullTime(endDate); parseErr != nil {
		return nil, parseErr
	}
	if sched.NextRunAt, parseErr = parseNullTime(nextRunAt); parseErr != nil {
		return nil, parseErr
	}
	if sched.LastRunAt, parseErr = parseNullTime(lastRunAt); parseErr != nil {
		return nil, parseErr
	}
	if sched.CreatedAt, parseErr = parseTime(createdAt); parseErr != nil {
		return nil, parseErr
	}
	if sched.UpdatedAt, parseErr = parseTime(updatedAt); parseErr != nil {
		return nil, parseErr
	}

	return &sched, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "parse timestamp %q", s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullStringPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullIntPtr(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
