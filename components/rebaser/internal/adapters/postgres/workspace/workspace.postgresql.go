package workspace

import (
	"context"
	"database/sql"
	"errors"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// WorkspacePostgreSQLRepository is a Postgresql-specific implementation
// of the workspace Repository.
type WorkspacePostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewWorkspacePostgreSQLRepository returns a new instance using the
// given Postgres connection.
func NewWorkspacePostgreSQLRepository(pc *libPostgres.PostgresConnection) *WorkspacePostgreSQLRepository {
	r := &WorkspacePostgreSQLRepository{
		connection: pc,
		tableName:  "workspace",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create inserts a workspace row.
func (r *WorkspacePostgreSQLRepository) Create(ctx context.Context, w *mmodel.Workspace) (*mmodel.Workspace, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_workspace")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now

	query, args, err := squirrel.Insert(r.tableName).
		Columns("id", "name", "default_change_set_id", "created_at", "updated_at").
		Values(w.ID, w.Name, w.DefaultChangeSetID, w.CreatedAt, w.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return w, nil
}

// Find retrieves a workspace by id.
func (r *WorkspacePostgreSQLRepository) Find(ctx context.Context, id string) (*mmodel.Workspace, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("id", "name", "default_change_set_id", "created_at", "updated_at").
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	w := &mmodel.Workspace{}

	err = db.QueryRowContext(ctx, query, args...).Scan(&w.ID, &w.Name, &w.DefaultChangeSetID, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ValidateBusinessError(constant.ErrWorkspaceNotFound, "workspace", id)
	}

	if err != nil {
		return nil, err
	}

	return w, nil
}

// SetDefaultChangeSet re-points the workspace head.
func (r *WorkspacePostgreSQLRepository) SetDefaultChangeSet(ctx context.Context, id, changeSetID string) (*mmodel.Workspace, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("default_change_set_id", changeSetID).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		return nil, pkg.ValidateBusinessError(constant.ErrWorkspaceNotFound, "workspace", id)
	}

	return r.Find(ctx, id)
}
