package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

func sqliteMigrateDriver(db *sql.DB) (database.Driver, error) {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: init migration driver: %w", err)
	}
	return driver, nil
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the concrete TaskStore backing both the crawler and
// healer binaries, schema-migrated from the embedded migrations/
// directory the same way the corpus's HydraDNS database layer embeds
// its own.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a WAL-mode SQLite database at
// path and brings it up to the latest embedded migration.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialise writers, WAL allows concurrent readers

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: load migration source: %w", err)
	}
	driver, err := sqliteMigrateDriver(db)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("store: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t Task) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tb_tasks (
			website_id, processed, total_numbers, input_filename,
			ok_file, not_ok_file, unknown_file, ok2_file,
			ok_count, not_ok_count, unknown_count, per_ip, ip_used, status, website_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.WebsiteID, t.Processed, t.TotalNumbers, t.InputFilename,
		t.OKFile, t.NotOKFile, t.UnknownFile, t.OK2File,
		t.OKCount, t.NotOKCount, t.UnknownCount, t.PerIP, t.IPUsed, int(t.Status), t.WebsiteAddress,
	)
	if err != nil {
		return 0, fmt.Errorf("store: create task: %w", err)
	}
	return res.LastInsertId()
}

// ListTaskIDsByStatus returns every task id currently in status. It is not
// part of the TaskStore interface — GetStoppedTasks takes an explicit id
// list for the healer's -t flag — but the crawler's own resume-on-startup
// scan needs the full set, so it uses the concrete store type directly.
func (s *SQLiteStore) ListTaskIDsByStatus(ctx context.Context, status TaskStatus) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tb_tasks WHERE status = ?`, int(status))
	if err != nil {
		return nil, fmt.Errorf("store: list task ids by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, website_id, processed, total_numbers, input_filename,
		       ok_file, not_ok_file, unknown_file, ok2_file,
		       ok_count, not_ok_count, unknown_count, per_ip, ip_used, status, website_address
		FROM tb_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *SQLiteStore) GetStoppedTasks(ctx context.Context, ids []int64) ([]Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, int(Stopped))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT id, website_id, processed, total_numbers, input_filename,
		       ok_file, not_ok_file, unknown_file, ok2_file,
		       ok_count, not_ok_count, unknown_count, per_ip, ip_used, status, website_address
		FROM tb_tasks WHERE status = ? AND id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: get stopped tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTaskRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id int64, processed, okCount, notOKCount, unknownCount int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tb_tasks SET processed = ?, ok_count = ?, not_ok_count = ?, unknown_count = ?
		WHERE id = ?`, processed, okCount, notOKCount, unknownCount, id)
	if err != nil {
		return fmt.Errorf("store: update progress for task %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status TaskStatus, processed, ipUsed int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tb_tasks SET status = ?, processed = ?, ip_used = ? WHERE id = ?`,
		int(status), processed, ipUsed, id)
	if err != nil {
		return fmt.Errorf("store: set status for task %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (Task, error) {
	var t Task
	var status int
	err := row.Scan(
		&t.ID, &t.WebsiteID, &t.Processed, &t.TotalNumbers, &t.InputFilename,
		&t.OKFile, &t.NotOKFile, &t.UnknownFile, &t.OK2File,
		&t.OKCount, &t.NotOKCount, &t.UnknownCount, &t.PerIP, &t.IPUsed, &status, &t.WebsiteAddress,
	)
	if err != nil {
		return Task{}, fmt.Errorf("store: scan task: %w", err)
	}
	t.Status = TaskStatus(status)
	return t, nil
}
