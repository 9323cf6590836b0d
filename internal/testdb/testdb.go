// README: Shared helpers for DB-backed tests; skip cleanly when no test database is configured.
package testdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"autoszkola/internal/app"
	"autoszkola/internal/types"
)

// New connects to AUTOSZKOLA_TEST_DSN, applies migrations, and truncates
// every table. Tests skip when the DSN is unset.
func New(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("AUTOSZKOLA_TEST_DSN")
	if dsn == "" {
		t.Skip("AUTOSZKOLA_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)

	root, err := repoRoot()
	if err != nil {
		t.Fatalf("locate repo root: %v", err)
	}
	migrator, err := app.NewMigrator(pool, filepath.Join(root, "migrations"))
	if err != nil {
		t.Fatalf("build migrator: %v", err)
	}
	defer migrator.Close()
	if err := migrator.Run(ctx); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE transaction_items, transactions, exams, canceled_rides,
		  rides, schedule_slots, hours_packages, vehicles, courses
		RESTART IDENTITY`)
	if err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	return pool
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// SeedCourse inserts a course and returns its id.
func SeedCourse(t *testing.T, pool *pgxpool.Pool, studentID int64, category types.Category) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO courses (student_id, category)
		VALUES ($1, $2)
		RETURNING id`, studentID, string(category),
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed course: %v", err)
	}
	return id
}

// SeedVehicle inserts a vehicle approved for the given categories.
func SeedVehicle(t *testing.T, pool *pgxpool.Pool, registration string, categories ...types.Category) int64 {
	t.Helper()
	cats := make([]string, len(categories))
	for i, c := range categories {
		cats[i] = string(c)
	}
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO vehicles (registration, categories)
		VALUES ($1, $2)
		RETURNING id`, registration, cats,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed vehicle: %v", err)
	}
	return id
}

// SeedHoursPackage inserts a purchased hours bundle.
func SeedHoursPackage(t *testing.T, pool *pgxpool.Pool, courseID int64, hours int) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `
		INSERT INTO hours_packages (course_id, hours)
		VALUES ($1, $2)
		RETURNING id`, courseID, hours,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed hours package: %v", err)
	}
	return id
}
