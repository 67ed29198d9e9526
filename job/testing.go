package job

import (
	"database/sql"
	"testing"
	"time"

	tempotest "github.com/teranos/tempo/internal/testing"
)

// createTestDB creates an in-memory test database with migrations
// applied.
func createTestDB(t *testing.T) *sql.DB {
	return tempotest.CreateTestDB(t)
}

// insertTestSchedule inserts a minimal schedule row so jobs with a
// schedule_id satisfy the foreign key.
func insertTestSchedule(t *testing.T, db *sql.DB, id, orgID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO schedules (id, org_id, created_by, name, job_type, frequency, created_at, updated_at)
		VALUES (?, ?, 'user-1', 'test schedule', 'report', 'daily', ?, ?)
	`, id, orgID, now, now)
	if err != nil {
		t.Fatalf("Failed to insert test schedule: %v", err)
	}
}
