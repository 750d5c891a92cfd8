package audit

import (
	"context"
	"encoding/json"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg/mmodel"
)

// AuditPostgreSQLRepository is a Postgresql-specific implementation of
// the audit Repository.
type AuditPostgreSQLRepository struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewAuditPostgreSQLRepository returns a new instance using the given
// Postgres connection.
func NewAuditPostgreSQLRepository(pc *libPostgres.PostgresConnection) *AuditPostgreSQLRepository {
	r := &AuditPostgreSQLRepository{
		connection: pc,
		tableName:  "audit_log",
	}

	_, err := r.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create appends one event.
func (r *AuditPostgreSQLRepository) Create(ctx context.Context, entry *mmodel.AuditLog) error {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_audit_log")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	entry.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}

	query, args, err := squirrel.Insert(r.tableName).
		Columns("id", "workspace_id", "change_set_id", "kind", "payload", "ts").
		Values(entry.ID, entry.WorkspaceID, entry.ChangeSetID, entry.Kind, payload, entry.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	if _, err = db.ExecContext(ctx, query, args...); err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return err
	}

	return nil
}

// FindAllByChangeSet lists events for one change set in arrival order.
func (r *AuditPostgreSQLRepository) FindAllByChangeSet(ctx context.Context, workspaceID, changeSetID string) ([]*mmodel.AuditLog, error) {
	db, err := r.connection.GetDB()
	if err != nil {
		return nil, err
	}

	query, args, err := squirrel.Select("id", "workspace_id", "change_set_id", "kind", "payload", "ts").
		From(r.tableName).
		Where(squirrel.Eq{"workspace_id": workspaceID, "change_set_id": changeSetID}).
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

	var entries []*mmodel.AuditLog

	for rows.Next() {
		entry := &mmodel.AuditLog{}

		var payload []byte

		if err := rows.Scan(&entry.ID, &entry.WorkspaceID, &entry.ChangeSetID, &entry.Kind, &payload, &entry.CreatedAt); err != nil {
			return nil, err
		}

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &entry.Payload); err != nil {
				return nil, err
			}
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
