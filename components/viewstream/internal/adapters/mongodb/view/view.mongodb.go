package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libMongo "github.com/LerianStudio/lib-commons/v2/commons/mongo"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/constant"
)

// MongoDBRepository is a MongoDB-specific implementation of Repository.
type MongoDBRepository struct {
	connection *libMongo.MongoConnection
	Database   string
	collection string
}

// NewMongoDBRepository returns a new instance of MongoDBRepository using
// the given MongoDB connection.
func NewMongoDBRepository(connection *libMongo.MongoConnection) (*MongoDBRepository, error) {
	r := &MongoDBRepository{
		connection: connection,
		Database:   connection.Database,
		collection: "materialized_views",
	}

	if _, err := r.connection.GetDB(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB for view repository: %w", err)
	}

	return r, nil
}

// Upsert stores one view version. The (kind, view_id, checksum) key is
// content-addressed, so replaying a write is harmless.
func (vm *MongoDBRepository) Upsert(ctx context.Context, doc *Document) error {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongodb.upsert_view")
	defer span.End()

	db, err := vm.connection.GetDB(ctx)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to get database", err)

		return err
	}

	doc.CreatedAt = time.Now().UTC()

	coll := db.Database(strings.ToLower(vm.Database)).Collection(vm.collection)

	filter := bson.M{"kind": doc.Kind, "view_id": doc.ViewID, "checksum": doc.Checksum}
	update := bson.M{"$setOnInsert": doc}

	_, err = coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to upsert view", err)

		return err
	}

	return nil
}

// Find retrieves one view version.
func (vm *MongoDBRepository) Find(ctx context.Context, kind constant.ViewKind, viewID, checksum string) (*Document, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "mongodb.find_view")
	defer span.End()

	db, err := vm.connection.GetDB(ctx)
	if err != nil {
		return nil, err
	}

	coll := db.Database(strings.ToLower(vm.Database)).Collection(vm.collection)

	var doc Document

	err = coll.FindOne(ctx, bson.M{"kind": kind, "view_id": viewID, "checksum": checksum}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, pkg.ValidateBusinessError(constant.ErrEntityNotFound, "view", viewID)
	}

	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Failed to find view", err)

		return nil, err
	}

	return &doc, nil
}
