package action

import (
	"context"
	"database/sql"
	"errors"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// ActionPostgreSQLRepository is a Postgresql-specific implementation of
// the action Repository.
type ActionPostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewActionPostgreSQLRepository returns a new instance using the given
// Postgres connection.
func NewActionPostgreSQLRepository(pc *libPostgres.PostgresConnection) *ActionPostgreSQLRepository {
	r := &ActionPostgreSQLRepository{
		connection: pc,
		tableName:  "action",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

var actionColumns = []string{
	"id", "workspace_id", "change_set_id", "originating_change_set_id", "component_id",
	"prototype_id", "kind", "state", "func_run_id", "depends_on", "created_at", "updated_at",
}

// Create inserts an action row.
func (r *ActionPostgreSQLRepository) Create(ctx context.Context, a *mmodel.Action) (*mmodel.Action, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_action")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if a.State == "" {
		a.State = constant.ActionStateQueued
	}

	query, args, err := squirrel.Insert(r.tableName).
		Columns(actionColumns...).
		Values(a.ID, a.WorkspaceID, a.ChangeSetID, a.OriginatingChangeSetID, a.ComponentID,
			a.PrototypeID, a.Kind, a.State, a.FuncRunID, pq.Array(a.DependsOn), a.CreatedAt, a.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return a, nil
}

// Find retrieves an action by id.
func (r *ActionPostgreSQLRepository) Find(ctx context.Context, id string) (*mmodel.Action, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(actionColumns...).
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	a, err := scanAction(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ValidateBusinessError(constant.ErrActionNotFound, "action", id)
	}

	if err != nil {
		return nil, err
	}

	return a, nil
}

// FindAllByChangeSet lists a change set's pending actions ordered by
// id, i.e. temporally.
func (r *ActionPostgreSQLRepository) FindAllByChangeSet(ctx context.Context, workspaceID, changeSetID string) ([]*mmodel.Action, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(actionColumns...).
		From(r.tableName).
		Where(squirrel.Eq{"workspace_id": workspaceID, "change_set_id": changeSetID}).
		OrderBy("id ASC").
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

	var actions []*mmodel.Action

	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}

		actions = append(actions, a)
	}

	return actions, rows.Err()
}

// UpdateState advances the action's dispatch state after validating the
// transition.
func (r *ActionPostgreSQLRepository) UpdateState(ctx context.Context, id string, state constant.ActionState) (*mmodel.Action, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.update_action_state")
	defer span.End()

	current, err := r.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if !current.State.CanTransitionTo(state) {
		return nil, pkg.ValidateBusinessError(constant.ErrInvalidActionTransition, "action", current.State, state)
	}

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("state", state).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	current.State = state

	return current, nil
}

// SetFuncRun records the func run an action dispatched as, before the
// sandbox is invoked.
func (r *ActionPostgreSQLRepository) SetFuncRun(ctx context.Context, id, funcRunID string) error {
	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("func_run_id", funcRunID).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query, args...)

	return err
}

// Delete removes an action row (success or explicit cancel).
func (r *ActionPostgreSQLRepository) Delete(ctx context.Context, id string) error {
	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Delete(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query, args...)

	return err
}

// RehomeQueued moves queued actions from an applied change set onto
// head.
func (r *ActionPostgreSQLRepository) RehomeQueued(ctx context.Context, workspaceID, fromChangeSetID, toChangeSetID string) (int64, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return 0, err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("change_set_id", toChangeSetID).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{
			"workspace_id":  workspaceID,
			"change_set_id": fromChangeSetID,
			"state":         constant.ActionStateQueued,
		}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*mmodel.Action, error) {
	a := &mmodel.Action{}

	var dependsOn pq.StringArray

	err := row.Scan(&a.ID, &a.WorkspaceID, &a.ChangeSetID, &a.OriginatingChangeSetID, &a.ComponentID,
		&a.PrototypeID, &a.Kind, &a.State, &a.FuncRunID, &dependsOn, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.DependsOn = dependsOn

	return a, nil
}
