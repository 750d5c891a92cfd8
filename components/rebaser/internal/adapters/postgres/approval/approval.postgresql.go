package approval

import (
	"context"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"

	"github.com/weftworks/loom/pkg/mmodel"
)

// ApprovalPostgreSQLRepository is a Postgresql-specific implementation
// of the approval Repository.
type ApprovalPostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewApprovalPostgreSQLRepository returns a new instance using the
// given Postgres connection.
func NewApprovalPostgreSQLRepository(pc *libPostgres.PostgresConnection) *ApprovalPostgreSQLRepository {
	r := &ApprovalPostgreSQLRepository{
		connection: pc,
		tableName:  "change_set_approval",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create records one approval vote.
func (r *ApprovalPostgreSQLRepository) Create(ctx context.Context, approval *mmodel.Approval) (*mmodel.Approval, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_approval")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	approval.CreatedAt = time.Now().UTC()

	query, args, err := squirrel.Insert(r.tableName).
		Columns("id", "change_set_id", "user_id", "requirement_id", "checksum", "status", "ts").
		Values(approval.ID, approval.ChangeSetID, approval.UserID, approval.RequirementID,
			approval.Checksum, approval.Status, approval.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	return approval, nil
}

// FindAllByChangeSet lists every vote recorded for a change set, newest
// first, so later votes shadow older ones per (user, requirement).
func (r *ApprovalPostgreSQLRepository) FindAllByChangeSet(ctx context.Context, changeSetID string) ([]*mmodel.Approval, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("id", "change_set_id", "user_id", "requirement_id", "checksum", "status", "ts").
		From(r.tableName).
		Where(squirrel.Eq{"change_set_id": changeSetID}).
		OrderBy("ts DESC").
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

	var approvals []*mmodel.Approval

	for rows.Next() {
		a := &mmodel.Approval{}

		if err := rows.Scan(&a.ID, &a.ChangeSetID, &a.UserID, &a.RequirementID, &a.Checksum, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}

		approvals = append(approvals, a)
	}

	return approvals, rows.Err()
}
