// Package view persists materialized-view documents keyed by
// (kind, id, checksum). Content addressing by checksum makes the store
// immutable: a document is written once and cached forever.
package view

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weftworks/loom/pkg/constant"
)

// Document is one stored view version.
type Document struct {
	Kind      constant.ViewKind `bson:"kind" json:"kind"`
	ViewID    string            `bson:"view_id" json:"viewId"`
	Checksum  string            `bson:"checksum" json:"checksum"`
	Body      json.RawMessage   `bson:"body" json:"body"`
	CreatedAt time.Time         `bson:"created_at" json:"createdAt"`
}

// Repository provides an interface for operations related to view
// documents.
type Repository interface {
	Upsert(ctx context.Context, doc *Document) error
	Find(ctx context.Context, kind constant.ViewKind, viewID, checksum string) (*Document, error)
}
