package changeset

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

// ChangeSetPostgreSQLRepository is a Postgresql-specific implementation
// of the change-set Repository.
type ChangeSetPostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewChangeSetPostgreSQLRepository returns a new instance using the
// given Postgres connection.
func NewChangeSetPostgreSQLRepository(pc *libPostgres.PostgresConnection) *ChangeSetPostgreSQLRepository {
	r := &ChangeSetPostgreSQLRepository{
		connection: pc,
		tableName:  "change_set",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

var changeSetColumns = []string{
	"id", "workspace_id", "base_change_set_id", "name", "status",
	"snapshot_address", "base_snapshot_address", "snapshot_address_history",
	"created_at", "updated_at",
}

// Create inserts a new change set row.
func (r *ChangeSetPostgreSQLRepository) Create(ctx context.Context, cs *mmodel.ChangeSet) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_change_set")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now

	if len(cs.SnapshotAddressHistory) == 0 && cs.SnapshotAddress != "" {
		cs.SnapshotAddressHistory = []string{cs.SnapshotAddress}
	}

	query, args, err := squirrel.Insert(r.tableName).
		Columns(changeSetColumns...).
		Values(cs.ID, cs.WorkspaceID, cs.BaseChangeSetID, cs.Name, cs.Status,
			cs.SnapshotAddress, cs.BaseSnapshotAddress, pq.Array(cs.SnapshotAddressHistory),
			cs.CreatedAt, cs.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return cs, nil
}

// Find retrieves a change set by id.
func (r *ChangeSetPostgreSQLRepository) Find(ctx context.Context, id string) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_change_set")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(changeSetColumns...).
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	cs, err := scanChangeSet(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotFound, "change set", id)
	}

	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return cs, nil
}

// FindAll lists a workspace's change sets, newest first.
func (r *ChangeSetPostgreSQLRepository) FindAll(ctx context.Context, workspaceID string) ([]*mmodel.ChangeSet, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select(changeSetColumns...).
		From(r.tableName).
		Where(squirrel.Eq{"workspace_id": workspaceID}).
		OrderBy("created_at DESC").
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

	var sets []*mmodel.ChangeSet

	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}

		sets = append(sets, cs)
	}

	return sets, rows.Err()
}

// UpdateStatus moves the change set to a new lifecycle status.
func (r *ChangeSetPostgreSQLRepository) UpdateStatus(ctx context.Context, id string, status constant.ChangeSetStatus) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.update_change_set_status")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("status", status).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotFound, "change set", id)
	}

	return r.Find(ctx, id)
}

// SwapSnapshotAddress performs the compare-and-swap of the branch
// pointer under the row lock the UPDATE takes.
func (r *ChangeSetPostgreSQLRepository) SwapSnapshotAddress(ctx context.Context, id, expected, next string) (bool, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.swap_snapshot_address")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return false, err
	}

	query, args, err := squirrel.Update(r.tableName).
		Set("snapshot_address", next).
		Set("snapshot_address_history", squirrel.Expr("array_append(snapshot_address_history, ?)", next)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": id, "snapshot_address": expected}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChangeSet(row rowScanner) (*mmodel.ChangeSet, error) {
	cs := &mmodel.ChangeSet{}

	var history pq.StringArray

	err := row.Scan(&cs.ID, &cs.WorkspaceID, &cs.BaseChangeSetID, &cs.Name, &cs.Status,
		&cs.SnapshotAddress, &cs.BaseSnapshotAddress, &history, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return nil, err
	}

	cs.SnapshotAddressHistory = history

	return cs, nil
}
