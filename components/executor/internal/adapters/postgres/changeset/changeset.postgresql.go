package changeset

import (
	"context"
	"database/sql"
	"errors"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

// ChangeSetPostgreSQLRepository is the executor's read-only view of the
// change_set table.
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

// Find retrieves a change set by id.
func (r *ChangeSetPostgreSQLRepository) Find(ctx context.Context, id string) (*mmodel.ChangeSet, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_change_set")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("id", "workspace_id", "base_change_set_id", "name", "status",
		"snapshot_address", "base_snapshot_address", "snapshot_address_history", "created_at", "updated_at").
		From(r.tableName).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	cs := &mmodel.ChangeSet{}

	var history pq.StringArray

	err = db.QueryRowContext(ctx, query, args...).Scan(&cs.ID, &cs.WorkspaceID, &cs.BaseChangeSetID,
		&cs.Name, &cs.Status, &cs.SnapshotAddress, &cs.BaseSnapshotAddress, &history, &cs.CreatedAt, &cs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotFound, "change set", id)
	}

	if err != nil {
		return nil, err
	}

	cs.SnapshotAddressHistory = history

	return cs, nil
}
