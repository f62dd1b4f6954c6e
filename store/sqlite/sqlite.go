/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the engine's persistence interfaces using SQLite. The Postgres
  store (store/postgres) follows the same schema with dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxStore:       Allocations and leave applications
  generic.EmployeeStore: Employee directory
  generic.AuditLog:      Audit event persistence
  generic.AuditReader:   Audit queries

KEY TABLES:
  allocations:        One row per (employee, year, category) with a version
  leave_applications: Leave requests and their decisions
  employees:          Known employees
  audit_events:       Typed audit events, payload as JSON

ATOMICITY:
  - Lazy creation: INSERT ... ON CONFLICT DO NOTHING on the
    (employee_id, year, category) primary key
  - Bucket writes: UPDATE ... WHERE version = ? (zero rows -> conflict)
  - Status changes: UPDATE ... WHERE status = ? (zero rows -> conflict)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  life of the transaction, so SQLite never sees two writers. In production
  with PostgreSQL, the version checks carry the concurrency control instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/leave-engine/generic"
)

// timeLayout is fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.TxStore       = (*Store)(nil)
	_ generic.EmployeeStore = (*Store)(nil)
	_ generic.AuditLog      = (*Store)(nil)
	_ generic.AuditReader   = (*Store)(nil)
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Allocation buckets, one per (employee, year, category)
	CREATE TABLE IF NOT EXISTS allocations (
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		category TEXT NOT NULL,
		total TEXT NOT NULL,
		used TEXT NOT NULL,
		remaining TEXT NOT NULL,
		unit TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, year, category)
	);

	-- Leave applications
	CREATE TABLE IF NOT EXISTS leave_applications (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		category TEXT NOT NULL,
		year INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		half_day INTEGER NOT NULL DEFAULT 0,
		half_day_period TEXT,
		total_days TEXT NOT NULL,
		unit TEXT NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		decided_by TEXT,
		decided_at TEXT,
		rejection_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_leave_employee_status
		ON leave_applications(employee_id, status);
	CREATE INDEX IF NOT EXISTS idx_leave_year
		ON leave_applications(year);
	CREATE INDEX IF NOT EXISTS idx_leave_applied_at
		ON leave_applications(applied_at DESC);

	-- Employees (entities)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	-- Audit events
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		target_id TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_target
		ON audit_events(target_id, at);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_events(actor_id, at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ALLOCATION STORE (generic.AllocationStore interface)
// =============================================================================

// EnsureAllocation inserts any missing buckets for key and returns the row set.
func (s *Store) EnsureAllocation(ctx context.Context, key generic.AllocationKey, seed []generic.Bucket) (generic.AllocationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.AllocationRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	record, err := ensureAllocation(ctx, sqlTx, key, seed)
	if err != nil {
		return generic.AllocationRecord{}, err
	}
	return record, sqlTx.Commit()
}

func ensureAllocation(ctx context.Context, q querier, key generic.AllocationKey, seed []generic.Bucket) (generic.AllocationRecord, error) {
	query := `
		INSERT INTO allocations
		(employee_id, year, category, total, used, remaining, unit, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, year, category) DO NOTHING
	`
	now := time.Now().UTC().Format(timeLayout)
	for _, b := range seed {
		_, err := q.ExecContext(ctx, query,
			key.EntityID, key.Year, b.ResourceType.ResourceID(),
			b.Total.Value.String(), b.Used.Value.String(), b.Remaining.Value.String(),
			b.Total.Unit, b.Version, now, now,
		)
		if err != nil {
			return generic.AllocationRecord{}, fmt.Errorf("failed to insert allocation: %w", err)
		}
	}

	record, err := loadAllocation(ctx, q, key)
	if err != nil {
		return generic.AllocationRecord{}, err
	}
	if record == nil {
		return generic.NewAllocationRecord(key), nil
	}
	return *record, nil
}

// LoadAllocation returns the row set for key, or nil if none exists.
func (s *Store) LoadAllocation(ctx context.Context, key generic.AllocationKey) (*generic.AllocationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadAllocation(ctx, s.db, key)
}

func loadAllocation(ctx context.Context, q querier, key generic.AllocationKey) (*generic.AllocationRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT category, total, used, remaining, unit, version, created_at, updated_at
		FROM allocations
		WHERE employee_id = ? AND year = ?
	`, key.EntityID, key.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	record := generic.NewAllocationRecord(key)
	found := false
	for rows.Next() {
		var (
			category, total, used, remaining, unit string
			version                                int64
			createdAt, updatedAt                   string
		)
		if err := rows.Scan(&category, &total, &used, &remaining, &unit, &version, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		found = true
		rt := generic.GetOrCreateResource(category)
		b := generic.Bucket{ResourceType: rt, Version: version}
		if b.Total, err = generic.ParseAmount(total, generic.Unit(unit)); err != nil {
			return nil, fmt.Errorf("allocation %s/%s total: %w", key, category, err)
		}
		if b.Used, err = generic.ParseAmount(used, generic.Unit(unit)); err != nil {
			return nil, fmt.Errorf("allocation %s/%s used: %w", key, category, err)
		}
		if b.Remaining, err = generic.ParseAmount(remaining, generic.Unit(unit)); err != nil {
			return nil, fmt.Errorf("allocation %s/%s remaining: %w", key, category, err)
		}
		record.Buckets[rt.ResourceID()] = b
		c := parseTime(createdAt)
		u := parseTime(updatedAt)
		if record.CreatedAt.IsZero() || c.Before(record.CreatedAt) {
			record.CreatedAt = c
		}
		if u.After(record.UpdatedAt) {
			record.UpdatedAt = u
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

// CompareAndSwapBucket writes next if the stored version is expectedVersion.
func (s *Store) CompareAndSwapBucket(ctx context.Context, key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return compareAndSwapBucket(ctx, s.db, key, next, expectedVersion)
}

func compareAndSwapBucket(ctx context.Context, q querier, key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	category := next.ResourceType.ResourceID()
	res, err := q.ExecContext(ctx, `
		UPDATE allocations
		SET total = ?, used = ?, remaining = ?, version = ?, updated_at = ?
		WHERE employee_id = ? AND year = ? AND category = ? AND version = ?
	`,
		next.Total.Value.String(), next.Used.Value.String(), next.Remaining.Value.String(),
		next.Version, time.Now().UTC().Format(timeLayout),
		key.EntityID, key.Year, category, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM allocations WHERE employee_id = ? AND year = ? AND category = ?",
		key.EntityID, key.Year, category,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check allocation: %w", err)
	}
	if exists == 0 {
		return &generic.NotFoundError{Kind: "allocation bucket", ID: key.String() + "/" + category}
	}
	return generic.ErrConcurrencyConflict
}

// =============================================================================
// REQUEST STORE (generic.RequestStore interface)
// =============================================================================

const requestColumns = `id, employee_id, category, start_date, end_date, half_day, half_day_period,
	total_days, unit, reason, status, applied_at, decided_by, decided_at, rejection_reason`

// CreateRequest inserts a new application.
func (s *Store) CreateRequest(ctx context.Context, r generic.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createRequest(ctx, s.db, r)
}

func createRequest(ctx context.Context, q querier, r generic.Request) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO leave_applications
		(id, employee_id, category, year, start_date, end_date, half_day, half_day_period,
		 total_days, unit, reason, status, applied_at, decided_by, decided_at, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EntityID, r.ResourceType.ResourceID(), r.Year(),
		r.Start.String(), r.End.String(), r.HalfDay, nullString(r.HalfDayPeriod),
		r.Amount.Value.String(), r.Amount.Unit, r.Reason, r.Status,
		r.AppliedAt.UTC().Format(timeLayout),
		nullString(r.DecidedBy), nullTime(r.DecidedAt), nullString(r.RejectionReason),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Invalid("id", "leave %s already exists", r.ID)
		}
		return fmt.Errorf("failed to insert leave application: %w", err)
	}
	return nil
}

// GetRequest returns the application, or nil if it does not exist.
func (s *Store) GetRequest(ctx context.Context, id generic.RequestID) (*generic.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getRequest(ctx, s.db, id)
}

func getRequest(ctx context.Context, q querier, id generic.RequestID) (*generic.Request, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+requestColumns+" FROM leave_applications WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave application: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	r, err := scanRequest(rows)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TransitionRequest persists the decision if the stored status is still from.
func (s *Store) TransitionRequest(ctx context.Context, next generic.Request, from generic.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transitionRequest(ctx, s.db, next, from)
}

func transitionRequest(ctx context.Context, q querier, next generic.Request, from generic.RequestStatus) error {
	res, err := q.ExecContext(ctx, `
		UPDATE leave_applications
		SET status = ?, decided_by = ?, decided_at = ?, rejection_reason = ?
		WHERE id = ? AND status = ?
	`,
		next.Status, nullString(next.DecidedBy), nullTime(next.DecidedAt), nullString(next.RejectionReason),
		next.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update leave application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update leave application: %w", err)
	}
	if n == 1 {
		return nil
	}

	existing, err := getRequest(ctx, q, next.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return &generic.NotFoundError{Kind: "leave", ID: string(next.ID)}
	}
	return generic.ErrConcurrencyConflict
}

// ListRequests returns matching applications, newest first.
func (s *Store) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listRequests(ctx, s.db, filter)
}

func listRequests(ctx context.Context, q querier, filter generic.RequestFilter) ([]generic.Request, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Year != 0 {
		where = append(where, "year = ?")
		args = append(args, filter.Year)
	}

	query := "SELECT " + requestColumns + " FROM leave_applications"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY applied_at DESC, id DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave applications: %w", err)
	}
	defer rows.Close()

	requests := []generic.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func scanRequest(rows *sql.Rows) (generic.Request, error) {
	var (
		r               generic.Request
		category        string
		startDate       string
		endDate         string
		halfDayPeriod   sql.NullString
		totalDays       string
		unit            string
		appliedAt       string
		decidedBy       sql.NullString
		decidedAt       sql.NullString
		rejectionReason sql.NullString
	)

	err := rows.Scan(
		&r.ID, &r.EntityID, &category, &startDate, &endDate, &r.HalfDay, &halfDayPeriod,
		&totalDays, &unit, &r.Reason, &r.Status, &appliedAt, &decidedBy, &decidedAt, &rejectionReason,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan leave application: %w", err)
	}

	// Convert string to ResourceType via registry
	r.ResourceType = generic.GetOrCreateResource(category)
	if r.Start, err = generic.ParseDate(startDate); err != nil {
		return r, fmt.Errorf("leave %s: bad start date: %w", r.ID, err)
	}
	if r.End, err = generic.ParseDate(endDate); err != nil {
		return r, fmt.Errorf("leave %s: bad end date: %w", r.ID, err)
	}
	r.HalfDayPeriod = halfDayPeriod.String
	if r.Amount, err = generic.ParseAmount(totalDays, generic.Unit(unit)); err != nil {
		return r, fmt.Errorf("leave %s: %w", r.ID, err)
	}
	r.AppliedAt = parseTime(appliedAt)
	r.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := parseTime(decidedAt.String)
		r.DecidedAt = &t
	}
	r.RejectionReason = rejectionReason.String
	return r, nil
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every statement on the open transaction. The parent's lock
// is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) EnsureAllocation(ctx context.Context, key generic.AllocationKey, seed []generic.Bucket) (generic.AllocationRecord, error) {
	return ensureAllocation(ctx, ts.tx, key, seed)
}

func (ts *txStore) LoadAllocation(ctx context.Context, key generic.AllocationKey) (*generic.AllocationRecord, error) {
	return loadAllocation(ctx, ts.tx, key)
}

func (ts *txStore) CompareAndSwapBucket(ctx context.Context, key generic.AllocationKey, next generic.Bucket, expectedVersion int64) error {
	return compareAndSwapBucket(ctx, ts.tx, key, next, expectedVersion)
}

func (ts *txStore) CreateRequest(ctx context.Context, r generic.Request) error {
	return createRequest(ctx, ts.tx, r)
}

func (ts *txStore) GetRequest(ctx context.Context, id generic.RequestID) (*generic.Request, error) {
	return getRequest(ctx, ts.tx, id)
}

func (ts *txStore) TransitionRequest(ctx context.Context, next generic.Request, from generic.RequestStatus) error {
	return transitionRequest(ctx, ts.tx, next, from)
}

func (ts *txStore) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	return listRequests(ctx, ts.tx, filter)
}

// =============================================================================
// EMPLOYEE STORE (generic.EmployeeStore interface)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO employees (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`

	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, nullString(emp.Email),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id generic.EntityID) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		emp       generic.Employee
		email     sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM employees WHERE id = ?",
		id,
	).Scan(&emp.ID, &emp.Name, &email, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	emp.Email = email.String
	emp.CreatedAt = parseTime(createdAt)
	return &emp, nil
}

// ListEmployees returns all employees.
func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM employees ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	employees := []generic.Employee{}
	for rows.Next() {
		var (
			emp       generic.Employee
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		emp.Email = email.String
		emp.CreatedAt = parseTime(createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// AUDIT LOG (generic.AuditLog / generic.AuditReader interfaces)
// =============================================================================

// Record persists an audit event.
func (s *Store) Record(ctx context.Context, event generic.AuditEvent) error {
	payload, err := generic.MarshalAuditPayload(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, at, actor_id, action, target_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, event.At.UTC().Format(timeLayout), event.ActorID, event.Action(), event.TargetID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// ListAudit returns matching events, oldest first.
func (s *Store) ListAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := "SELECT id, at, actor_id, action, target_id, payload_json FROM audit_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []generic.AuditEvent
	for rows.Next() {
		var (
			e               generic.AuditEvent
			at, action, raw string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &action, &e.TargetID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.At = parseTime(at)
		if e.Payload, err = generic.UnmarshalAuditPayload(generic.AuditAction(action), []byte(raw)); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest were selected for the limit; hand them back oldest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"allocations", "leave_applications", "employees", "audit_events"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written before the fixed-width layout.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
