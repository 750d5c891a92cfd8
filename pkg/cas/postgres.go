package cas

import (
	"context"
	"database/sql"
	"errors"

	libPostgres "github.com/LerianStudio/lib-commons/v2/commons/postgres"
	"github.com/Masterminds/squirrel"
)

// PostgresStore is the primary persistent tier. One instance per table:
// cas_values for heavy node payloads, workspace_snapshots for
// serialized graphs.
type PostgresStore struct {
	connection *libPostgres.PostgresConnection
	tableName  string
}

// NewPostgresStore returns a store over the given table.
func NewPostgresStore(pc *libPostgres.PostgresConnection, tableName string) *PostgresStore {
	s := &PostgresStore{
		connection: pc,
		tableName:  tableName,
	}

	_, err := s.connection.GetDB()
	if err != nil {
		panic("Failed to connect database")
	}

	return s
}

// Put implements Store. Rows are write-once; a conflicting insert of
// the same hash is ignored.
func (s *PostgresStore) Put(ctx context.Context, hash Hash, value []byte) error {
	db, err := s.connection.GetDB()
	if err != nil {
		return err
	}

	query, args, err := squirrel.Insert(s.tableName).
		Columns("hash", "bytes").
		Values(hash.String(), value).
		Suffix("ON CONFLICT (hash) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, query, args...)

	return err
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, hash Hash) ([]byte, bool, error) {
	db, err := s.connection.GetDB()
	if err != nil {
		return nil, false, err
	}

	query, args, err := squirrel.Select("bytes").
		From(s.tableName).
		Where(squirrel.Eq{"hash": hash.String()}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, false, err
	}

	var value []byte

	err = db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return value, true, nil
}
