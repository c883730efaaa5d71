package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/vantori/flowgate/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	if len(wf.Definition) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, org_id, key, name, enabled, trigger_type, definition, managed_by_pack, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OrgID, wf.Key, wf.Name, boolInt(wf.Enabled), string(wf.TriggerType),
		string(wf.Definition), boolInt(wf.ManagedByPack), nullTime(wf.NextRunAt),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow key %q already exists", wf.Key).WithCause(err)
	}
	return err
}

const workflowColumns = `id, org_id, key, name, enabled, trigger_type, definition, managed_by_pack, next_run_at, created_at, updated_at`

func (s *LibSQLStore) GetWorkflow(ctx context.Context, orgID, id string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE org_id = ? AND id = ?`, orgID, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) GetWorkflowByKey(ctx context.Context, orgID, key string) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE org_id = ? AND key = ?`, orgID, key)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", key)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, orgID, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.Definition != nil {
		sets = append(sets, "definition = ?")
		args = append(args, string(update.Definition))
	}
	if update.TriggerType != nil {
		sets = append(sets, "trigger_type = ?")
		args = append(args, string(*update.TriggerType))
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, orgID, id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE org_id = ? AND id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, orgID string, filter WorkflowFilter) ([]*Workflow, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.TriggerType != nil {
		where = append(where, "trigger_type = ?")
		args = append(args, string(*filter.TriggerType))
	}

	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) ListDueScheduledWorkflows(ctx context.Context, now time.Time) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows
		 WHERE enabled = 1 AND trigger_type = 'SCHEDULE'
		   AND (next_run_at IS NULL OR next_run_at <= ?)
		 ORDER BY org_id, created_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*Workflow, error) {
	wf := &Workflow{}
	var (
		enabled, managed int
		triggerType      string
		defJSON          string
		nextRunAt        sql.NullTime
	)
	err := row.Scan(&wf.ID, &wf.OrgID, &wf.Key, &wf.Name, &enabled, &triggerType,
		&defJSON, &managed, &nextRunAt, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		return nil, err
	}
	wf.Enabled = enabled != 0
	wf.ManagedByPack = managed != 0
	wf.TriggerType = schema.TriggerType(triggerType)
	wf.Definition = json.RawMessage(defJSON)
	if nextRunAt.Valid {
		wf.NextRunAt = &nextRunAt.Time
	}
	return wf, nil
}

// --- Workflow runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *WorkflowRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, org_id, workflow_id, trigger_event_id, status, loop_guard_hits, summary, error, started_at, finished_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.WorkflowID, run.TriggerEventID, string(run.Status),
		run.LoopGuardHits, nullRaw(run.Summary), nullRaw(run.Error),
		nullTime(run.StartedAt), nullTime(run.FinishedAt), timeOrNow(run.CreatedAt),
	)
	return err
}

const runColumns = `id, org_id, workflow_id, trigger_event_id, status, loop_guard_hits, summary, error, started_at, finished_at, created_at`

func (s *LibSQLStore) GetRun(ctx context.Context, orgID, id string) (*WorkflowRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE org_id = ? AND id = ?`, orgID, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow_run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, orgID, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, string(update.Summary))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, orgID, id)

	query := fmt.Sprintf("UPDATE workflow_runs SET %s WHERE org_id = ? AND id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, orgID string, filter RunFilter) ([]*WorkflowRun, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *LibSQLStore) CountRunsSince(ctx context.Context, orgID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_runs WHERE org_id = ? AND created_at >= ?`, orgID, since,
	).Scan(&n)
	return n, err
}

func (s *LibSQLStore) IncrementLoopGuardHits(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET loop_guard_hits = loop_guard_hits + 1 WHERE org_id = ? AND id = ?`,
		orgID, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow_run", id)
}

func scanRun(row rowScanner) (*WorkflowRun, error) {
	run := &WorkflowRun{}
	var (
		status               string
		summary, errJSON     sql.NullString
		startedAt, finishedAt sql.NullTime
	)
	err := row.Scan(&run.ID, &run.OrgID, &run.WorkflowID, &run.TriggerEventID, &status,
		&run.LoopGuardHits, &summary, &errJSON, &startedAt, &finishedAt, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.Summary = rawOrNil(summary)
	run.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return run, nil
}

// --- Action runs ---

func (s *LibSQLStore) CreateActionRun(ctx context.Context, ar *ActionRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_runs (id, org_id, workflow_run_id, action_type, status, idempotency_key, input, output, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ar.ID, ar.OrgID, ar.WorkflowRunID, string(ar.ActionType), string(ar.Status),
		ar.IdempotencyKey, nullRaw(ar.Input), nullRaw(ar.Output), nullRaw(ar.Error),
		timeOrNow(ar.CreatedAt), timeOrNow(ar.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"action run with idempotency key %q already exists", ar.IdempotencyKey).WithCause(err)
	}
	return err
}

const actionRunColumns = `id, org_id, workflow_run_id, action_type, status, idempotency_key, input, output, error, created_at, updated_at`

func (s *LibSQLStore) GetActionRun(ctx context.Context, orgID, id string) (*ActionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionRunColumns+` FROM action_runs WHERE org_id = ? AND id = ?`, orgID, id)
	ar, err := scanActionRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("action_run", id)
	}
	return ar, err
}

func (s *LibSQLStore) GetActionRunByIdempotencyKey(ctx context.Context, orgID, key string) (*ActionRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+actionRunColumns+` FROM action_runs WHERE org_id = ? AND idempotency_key = ?`, orgID, key)
	ar, err := scanActionRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("action_run", key)
	}
	return ar, err
}

func (s *LibSQLStore) UpdateActionRun(ctx context.Context, orgID, id string, update ActionRunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, orgID, id)

	query := fmt.Sprintf("UPDATE action_runs SET %s WHERE org_id = ? AND id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "action_run", id)
}

// ClaimActionRun takes the queued->running transition with a status
// predicate, so exactly one of any concurrent claimants wins.
func (s *LibSQLStore) ClaimActionRun(ctx context.Context, orgID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_runs SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ? AND status = ?`,
		string(schema.ActionRunRunning), orgID, id, string(schema.ActionRunQueued),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *LibSQLStore) ListActionRuns(ctx context.Context, orgID string, filter ActionRunFilter) ([]*ActionRun, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.WorkflowRunID != "" {
		where = append(where, "workflow_run_id = ?")
		args = append(args, filter.WorkflowRunID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + actionRunColumns + ` FROM action_runs WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actionRuns []*ActionRun
	for rows.Next() {
		ar, err := scanActionRun(rows)
		if err != nil {
			return nil, err
		}
		actionRuns = append(actionRuns, ar)
	}
	return actionRuns, rows.Err()
}

func scanActionRun(row rowScanner) (*ActionRun, error) {
	ar := &ActionRun{}
	var (
		actionType, status      string
		input, output, errJSON  sql.NullString
	)
	err := row.Scan(&ar.ID, &ar.OrgID, &ar.WorkflowRunID, &actionType, &status,
		&ar.IdempotencyKey, &input, &output, &errJSON, &ar.CreatedAt, &ar.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ar.ActionType = schema.ActionType(actionType)
	ar.Status = schema.ActionRunStatus(status)
	ar.Input = rawOrNil(input)
	ar.Output = rawOrNil(output)
	ar.Error = rawOrNil(errJSON)
	return ar, nil
}

// --- Approvals ---

func (s *LibSQLStore) CreateApproval(ctx context.Context, ap *Approval) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (id, org_id, entity_type, entity_id, status, requested_by, decided_by, decided_at, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ap.ID, ap.OrgID, string(ap.EntityType), ap.EntityID, string(ap.Status),
		nullStr(ap.RequestedBy), nullStr(ap.DecidedBy), nullTime(ap.DecidedAt),
		nullStr(ap.Notes), timeOrNow(ap.CreatedAt),
	)
	return err
}

const approvalColumns = `id, org_id, entity_type, entity_id, status, requested_by, decided_by, decided_at, notes, created_at`

func (s *LibSQLStore) GetApproval(ctx context.Context, orgID, id string) (*Approval, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE org_id = ? AND id = ?`, orgID, id)
	ap, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("approval", id)
	}
	return ap, err
}

func (s *LibSQLStore) DecideApproval(ctx context.Context, orgID, id string, status schema.ApprovalStatus, decidedBy, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_by = ?, notes = ?, decided_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ? AND status = 'pending'`,
		string(status), nullStr(decidedBy), nullStr(notes), orgID, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish missing from already decided.
		if _, getErr := s.GetApproval(ctx, orgID, id); getErr != nil {
			return getErr
		}
		return schema.NewErrorf(schema.ErrCodeConflict, "approval %q is already decided", id)
	}
	return nil
}

func (s *LibSQLStore) ListApprovals(ctx context.Context, orgID string, filter ApprovalFilter) ([]*Approval, error) {
	where := []string{"org_id = ?"}
	args := []any{orgID}

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE ` + strings.Join(where, " AND ")
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		ap, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		approvals = append(approvals, ap)
	}
	return approvals, rows.Err()
}

func scanApproval(row rowScanner) (*Approval, error) {
	ap := &Approval{}
	var (
		entityType, status           string
		requestedBy, decidedBy, notes sql.NullString
		decidedAt                    sql.NullTime
	)
	err := row.Scan(&ap.ID, &ap.OrgID, &entityType, &ap.EntityID, &status,
		&requestedBy, &decidedBy, &decidedAt, &notes, &ap.CreatedAt)
	if err != nil {
		return nil, err
	}
	ap.EntityType = schema.ApprovalEntityType(entityType)
	ap.Status = schema.ApprovalStatus(status)
	ap.RequestedBy = requestedBy.String
	ap.DecidedBy = decidedBy.String
	ap.Notes = notes.String
	if decidedAt.Valid {
		ap.DecidedAt = &decidedAt.Time
	}
	return ap, nil
}

// --- Connector health ---

const connectorHealthColumns = `org_id, provider, account_ref, last_ok_at, last_error_at, last_error_msg, last_http_status, last_provider_error_code, last_rate_limit_reset_at, reauth_required, consecutive_failures, updated_at`

func (s *LibSQLStore) GetConnectorHealth(ctx context.Context, orgID, provider, accountRef string) (*ConnectorHealth, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+connectorHealthColumns+` FROM connector_health
		 WHERE org_id = ? AND provider = ? AND account_ref = ?`,
		orgID, provider, accountRef)
	ch := &ConnectorHealth{}
	var (
		lastOK, lastErr, lastReset sql.NullTime
		lastMsg, lastCode          sql.NullString
		lastStatus                 sql.NullInt64
		reauth                     int
	)
	err := row.Scan(&ch.OrgID, &ch.Provider, &ch.AccountRef, &lastOK, &lastErr, &lastMsg,
		&lastStatus, &lastCode, &lastReset, &reauth, &ch.ConsecutiveFailures, &ch.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("connector_health", provider+"/"+accountRef)
	}
	if err != nil {
		return nil, err
	}
	if lastOK.Valid {
		ch.LastOKAt = &lastOK.Time
	}
	if lastErr.Valid {
		ch.LastErrorAt = &lastErr.Time
	}
	if lastReset.Valid {
		ch.LastRateLimitResetAt = &lastReset.Time
	}
	ch.LastErrorMsg = lastMsg.String
	ch.LastProviderErrorCode = lastCode.String
	if lastStatus.Valid {
		v := int(lastStatus.Int64)
		ch.LastHTTPStatus = &v
	}
	ch.ReauthRequired = reauth != 0
	return ch, nil
}

func (s *LibSQLStore) RecordConnectorSuccess(ctx context.Context, orgID, provider, accountRef string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connector_health (org_id, provider, account_ref, last_ok_at, consecutive_failures, reauth_required, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, 0, 0, CURRENT_TIMESTAMP)
		 ON CONFLICT(org_id, provider, account_ref) DO UPDATE SET
		   last_ok_at=CURRENT_TIMESTAMP, consecutive_failures=0, reauth_required=0,
		   last_error_msg=NULL, last_http_status=NULL, last_provider_error_code=NULL,
		   updated_at=CURRENT_TIMESTAMP`,
		orgID, provider, accountRef,
	)
	return err
}

func (s *LibSQLStore) RecordConnectorFailure(ctx context.Context, orgID, provider, accountRef string, failure ConnectorFailure) error {
	var httpStatus any
	if failure.HTTPStatus != nil {
		httpStatus = *failure.HTTPStatus
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connector_health (org_id, provider, account_ref, last_error_at, last_error_msg, last_http_status, last_provider_error_code, last_rate_limit_reset_at, consecutive_failures, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT(org_id, provider, account_ref) DO UPDATE SET
		   last_error_at=CURRENT_TIMESTAMP, last_error_msg=excluded.last_error_msg,
		   last_http_status=excluded.last_http_status,
		   last_provider_error_code=excluded.last_provider_error_code,
		   last_rate_limit_reset_at=excluded.last_rate_limit_reset_at,
		   consecutive_failures=consecutive_failures+1,
		   updated_at=CURRENT_TIMESTAMP`,
		orgID, provider, accountRef,
		nullStr(failure.Message), httpStatus, nullStr(failure.ProviderCode),
		nullTime(failure.RateLimitResetAt),
	)
	return err
}

func (s *LibSQLStore) MarkReauthRequired(ctx context.Context, orgID, provider, accountRef string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connector_health (org_id, provider, account_ref, reauth_required, updated_at)
		 VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
		 ON CONFLICT(org_id, provider, account_ref) DO UPDATE SET
		   reauth_required=1, updated_at=CURRENT_TIMESTAMP`,
		orgID, provider, accountRef,
	)
	return err
}

// --- Domain events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	payload, err := marshalMapOrDefault(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, org_id, source, channel, event_type, payload, actor_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OrgID, event.Source, nullStr(event.Channel), event.Type,
		string(payload), nullStr(event.ActorID), timeOrNow(event.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetEvent(ctx context.Context, orgID, id string) (*Event, error) {
	e := &Event{}
	var channel, actorID sql.NullString
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, source, channel, event_type, payload, actor_id, created_at
		 FROM events WHERE org_id = ? AND id = ?`, orgID, id,
	).Scan(&e.ID, &e.OrgID, &e.Source, &channel, &e.Type, &payload, &actorID, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("event", id)
	}
	if err != nil {
		return nil, err
	}
	e.Channel = channel.String
	e.ActorID = actorID.String
	if payload.Valid && payload.String != "" {
		_ = json.Unmarshal([]byte(payload.String), &e.Payload)
	}
	return e, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
