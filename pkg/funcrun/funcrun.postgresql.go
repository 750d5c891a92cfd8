package funcrun

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
)

// FuncRunPostgreSQLRepository is a Postgresql-specific implementation of
// the func run Repository.
type FuncRunPostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
	logTable   string
}

// NewFuncRunPostgreSQLRepository returns a new instance using the given
// Postgres connection.
func NewFuncRunPostgreSQLRepository(pc *libPostgres.PostgresConnection) *FuncRunPostgreSQLRepository {
	r := &FuncRunPostgreSQLRepository{
		connection: pc,
		tableName:  "func_run",
		logTable:   "func_run_log",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create inserts a new func run in state Created.
func (r *FuncRunPostgreSQLRepository) Create(ctx context.Context, run *FuncRun) (*FuncRun, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_func_run")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	if run.State == "" {
		run.State = constant.FuncRunStateCreated
	}

	query, args, err := squirrel.Insert(r.tableName).
		Columns("id", "workspace_id", "change_set_id", "component_id", "func_id", "func_kind",
			"state", "arguments", "result", "started_at", "ended_at", "created_at", "updated_at").
		Values(run.ID, run.WorkspaceID, run.ChangeSetID, run.ComponentID, run.FuncID, run.FuncKind,
			run.State, []byte(run.Arguments), []byte(run.Result), run.StartedAt, run.EndedAt, run.CreatedAt, run.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return run, nil
}

// Find retrieves a func run by id.
func (r *FuncRunPostgreSQLRepository) Find(ctx context.Context, id string) (*FuncRun, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_func_run")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("id", "workspace_id", "change_set_id", "component_id", "func_id", "func_kind",
		"state", "arguments", "result", "started_at", "ended_at", "created_at", "updated_at").
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	run := &FuncRun{}

	var arguments, result []byte

	err = db.QueryRowContext(ctx, query, args...).Scan(
		&run.ID, &run.WorkspaceID, &run.ChangeSetID, &run.ComponentID, &run.FuncID, &run.FuncKind,
		&run.State, &arguments, &result, &run.StartedAt, &run.EndedAt, &run.CreatedAt, &run.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ValidateBusinessError(constant.ErrFuncRunNotFound, "func run", id)
	}

	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	run.Arguments = arguments
	run.Result = result

	return run, nil
}

// UpdateState advances the run's state. Terminal runs are immutable:
// updating one is rejected. Entering Running stamps started_at; entering
// a terminal state stamps ended_at.
func (r *FuncRunPostgreSQLRepository) UpdateState(ctx context.Context, id string, state constant.FuncRunState, result json.RawMessage) (*FuncRun, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.update_func_run_state")
	defer span.End()

	current, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.State.IsTerminal() {
		return nil, pkg.ValidateBusinessError(constant.ErrFuncRunImmutable, "func run", id)
	}

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	builder := squirrel.Update(r.tableName).
		Set("state", state).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	if state == constant.FuncRunStateRunning && current.StartedAt == nil {
		builder = builder.Set("started_at", now)
		current.StartedAt = &now
	}

	if state.IsTerminal() {
		builder = builder.Set("ended_at", now)
		current.EndedAt = &now
	}

	if result != nil {
		builder = builder.Set("result", []byte(result))
		current.Result = result
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	current.State = state
	current.UpdatedAt = now

	return current, nil
}

// AppendLog stores one streamed line.
func (r *FuncRunPostgreSQLRepository) AppendLog(ctx context.Context, line *LogLine) error {
	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Insert(r.logTable).
		Columns("run_id", "line", "stream", "ts").
		Values(line.RunID, line.Line, line.Stream, line.Timestamp).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query, args...)

	return err
}

// FindLogs returns a run's log lines in arrival order.
func (r *FuncRunPostgreSQLRepository) FindLogs(ctx context.Context, runID string) ([]*LogLine, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("run_id", "line", "stream", "ts").
		From(r.logTable).
		Where(squirrel.Eq{"run_id": runID}).
		OrderBy("ts ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var lines []*LogLine

	for rows.Next() {
		line := &LogLine{}

		if err := rows.Scan(&line.RunID, &line.Line, &line.Stream, &line.Timestamp); err != nil {
			return nil, err
		}

		lines = append(lines, line)
	}

	return lines, rows.Err()
}
