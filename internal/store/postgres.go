package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/altify/altify/db/migrations"
	"github.com/altify/altify/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is the production RS adapter. Driver presence, migration
// embedding, and the migration-application loop are lifted from the
// teacher's internal/state/postgres_store.go; the schema and queries are
// Altify's own single-table shape (spec.md §3, §6).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	if !hasSQLDriver("pgx") {
		return nil, errors.New("pgx SQL driver is not linked; import github.com/jackc/pgx/v5/stdlib")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ps := &PostgresStore{db: db}
	if err := ps.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ps, nil
}

func hasSQLDriver(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

func (p *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`); err != nil {
		return err
	}
	files, err := listMigrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	for _, file := range files {
		applied, err := p.isMigrationApplied(ctx, file)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) isMigrationApplied(ctx context.Context, version string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) applyMigration(ctx context.Context, file string) error {
	sqlBytes, err := migrations.Files.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		return fmt.Errorf("apply migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)`, file, time.Now().UTC()); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func listMigrationFiles(migFS fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(migFS, ".")
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (p *PostgresStore) InsertTask(ctx context.Context, task domain.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tasks (id, image_key, context_text, status, alt1, alt2, selected_index, final_alt, is_approved, attempts, created_at, updated_at, last_error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		task.ID, task.ImageKey, task.ContextText, string(task.Status), task.Alt1, task.Alt2,
		task.SelectedIndex, task.FinalAlt, task.IsApproved, task.Attempts, task.CreatedAt, task.UpdatedAt, task.LastError,
	)
	return err
}

func (p *PostgresStore) GetTask(ctx context.Context, id string) (domain.Task, bool, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, image_key, context_text, status, alt1, alt2, selected_index, final_alt, is_approved, attempts, created_at, updated_at, last_error
		 FROM tasks WHERE id=$1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, false, nil
	}
	if err != nil {
		return domain.Task{}, false, err
	}
	return t, true, nil
}

func (p *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	return err
}

func (p *PostgresStore) UpdateTask(ctx context.Context, task domain.Task) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE tasks SET image_key=$1, context_text=$2, status=$3, alt1=$4, alt2=$5, selected_index=$6,
		 final_alt=$7, is_approved=$8, attempts=$9, updated_at=$10, last_error=$11 WHERE id=$12`,
		task.ImageKey, task.ContextText, string(task.Status), task.Alt1, task.Alt2, task.SelectedIndex,
		task.FinalAlt, task.IsApproved, task.Attempts, time.Now().UTC(), task.LastError, task.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateIfStatusIn(ctx context.Context, id string, allowed []domain.Status, patch TaskPatch) (int, error) {
	sets := []string{"updated_at=$1"}
	args := []any{time.Now().UTC()}
	n := len(args)

	if patch.IncrementAttempts {
		sets = append(sets, "attempts = attempts + 1")
	}
	if patch.Status != "" {
		n++
		sets = append(sets, fmt.Sprintf("status=$%d", n))
		args = append(args, string(patch.Status))
	}
	if patch.Alt1 != nil {
		n++
		sets = append(sets, fmt.Sprintf("alt1=$%d", n))
		args = append(args, *patch.Alt1)
	}
	if patch.Alt2 != nil {
		n++
		sets = append(sets, fmt.Sprintf("alt2=$%d", n))
		args = append(args, *patch.Alt2)
	}
	if patch.LastError != nil {
		n++
		sets = append(sets, fmt.Sprintf("last_error=$%d", n))
		args = append(args, *patch.LastError)
	} else if patch.ClearLastError {
		sets = append(sets, "last_error=NULL")
	}

	statusStrs := make([]string, len(allowed))
	for i, s := range allowed {
		statusStrs[i] = string(s)
	}
	n++
	idArg := n
	n++
	statusArg := n
	args = append(args, id, statusStrs)

	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id=$%d AND status = ANY($%d)`, strings.Join(sets, ", "), idArg, statusArg)
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

func (p *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Task, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, image_key, context_text, status, alt1, alt2, selected_index, final_alt, is_approved, attempts, created_at, updated_at, last_error
		 FROM tasks WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`,
		string(domain.StatusPending), cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Task, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, image_key, context_text, status, alt1, alt2, selected_index, final_alt, is_approved, attempts, created_at, updated_at, last_error
		 FROM tasks WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]domain.Task, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (domain.Task, error) {
	var t domain.Task
	var status string
	if err := s.Scan(&t.ID, &t.ImageKey, &t.ContextText, &status, &t.Alt1, &t.Alt2,
		&t.SelectedIndex, &t.FinalAlt, &t.IsApproved, &t.Attempts, &t.CreatedAt, &t.UpdatedAt, &t.LastError); err != nil {
		return domain.Task{}, err
	}
	t.Status = domain.Status(status)
	return t, nil
}
