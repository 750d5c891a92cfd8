package services

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"

	"github.com/weftworks/loom/components/viewstream/internal/adapters/mongodb/view"
	"github.com/weftworks/loom/components/viewstream/internal/adapters/rabbitmq"
	"github.com/weftworks/loom/components/viewstream/internal/adapters/redis"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// UseCase provides business logic operations for materialized views.
type UseCase struct {
	ViewRepo  view.Repository
	IndexRepo redis.IndexRepository
	Producer  rabbitmq.ProducerRepository
	Snapshots graph.BlobStore
}

// Checksum is the frontend checksum of a serialized view body.
func Checksum(body []byte) string {
	return cas.HashBytes(body).String()
}

// BuildViews rebuilds every view family triggered by the difference
// between the change set's last built snapshot and the new one, emits
// one patch batch for the versions that moved, stores the new versions
// and publishes the refreshed index.
func (uc *UseCase) BuildViews(ctx context.Context, workspaceID, changeSetID, snapshotAddress string, rebuildAll bool) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.build_views")
	defer span.End()

	previousAddress, err := uc.IndexRepo.GetLastBuiltAddress(ctx, workspaceID, changeSetID)
	if err != nil {
		return err
	}

	if previousAddress == snapshotAddress && !rebuildAll {
		return nil
	}

	address, err := cas.ParseHash(snapshotAddress)
	if err != nil {
		return err
	}

	g, err := graph.Load(ctx, uc.Snapshots, address)
	if err != nil {
		return err
	}

	changed, err := uc.changedNodeKinds(ctx, g, previousAddress, rebuildAll)
	if err != nil {
		// A missing previous snapshot degrades to a full rebuild.
		logger.Warnf("Falling back to full rebuild for %s: %v", changeSetID, err)

		changed = nil
	}

	previousIndex, err := uc.IndexRepo.GetIndex(ctx, workspaceID, changeSetID)
	if err != nil {
		return err
	}

	indexByKey := make(map[string]mmodel.IndexEntry, len(previousIndex))

	for _, entry := range previousIndex {
		indexByKey[indexEntryKey(entry.Kind, entry.ID)] = entry
	}

	var patches []mmodel.ViewPatch

	for _, definition := range Definitions() {
		if changed != nil && !definition.Triggered(changed) {
			continue
		}

		built, err := definition.Build(g)
		if err != nil {
			libOpentelemetry.HandleSpanError(&span, "View build failed", err)

			return err
		}

		kindPatches, err := uc.reconcileKind(ctx, definition.Kind, built, indexByKey)
		if err != nil {
			return err
		}

		patches = append(patches, kindPatches...)
	}

	entries := make([]mmodel.IndexEntry, 0, len(indexByKey))

	for _, entry := range indexByKey {
		entries = append(entries, entry)
	}

	sortIndexEntries(entries)

	if len(patches) > 0 {
		uc.publishPatchBatch(ctx, workspaceID, changeSetID, patches)
	}

	if err := uc.IndexRepo.SetIndex(ctx, workspaceID, changeSetID, entries); err != nil {
		return err
	}

	if err := uc.IndexRepo.SetLastBuiltAddress(ctx, workspaceID, changeSetID, snapshotAddress); err != nil {
		return err
	}

	uc.publishIndexUpdate(ctx, workspaceID, changeSetID, entries)

	logger.Infof("Rebuilt %d view versions for change set %s", len(patches), changeSetID)

	return nil
}

// BootstrapChangeSet copies the base change set's index onto a fresh
// fork so joining clients resolve views immediately.
func (uc *UseCase) BootstrapChangeSet(ctx context.Context, cs *mmodel.ChangeSet) error {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.bootstrap_change_set")
	defer span.End()

	if cs.BaseChangeSetID == nil {
		return nil
	}

	entries, err := uc.IndexRepo.GetIndex(ctx, cs.WorkspaceID, *cs.BaseChangeSetID)
	if err != nil {
		return err
	}

	if err := uc.IndexRepo.SetIndex(ctx, cs.WorkspaceID, cs.ID, entries); err != nil {
		return err
	}

	baseAddress, err := uc.IndexRepo.GetLastBuiltAddress(ctx, cs.WorkspaceID, *cs.BaseChangeSetID)
	if err != nil {
		return err
	}

	if baseAddress != "" {
		if err := uc.IndexRepo.SetLastBuiltAddress(ctx, cs.WorkspaceID, cs.ID, baseAddress); err != nil {
			return err
		}
	}

	uc.publishIndexUpdate(ctx, cs.WorkspaceID, cs.ID, entries)

	return nil
}

// reconcileKind diffs one view family's fresh build against the stored
// versions, mutating the index in place and returning the patches.
func (uc *UseCase) reconcileKind(ctx context.Context, kind constant.ViewKind, built map[string]any, indexByKey map[string]mmodel.IndexEntry) ([]mmodel.ViewPatch, error) {
	logger := libCommons.NewLoggerFromContext(ctx)

	var patches []mmodel.ViewPatch

	seen := make(map[string]bool, len(built))

	for viewID, body := range built {
		seen[indexEntryKey(kind, viewID)] = true

		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		checksum := Checksum(encoded)
		key := indexEntryKey(kind, viewID)

		previous, hasPrevious := indexByKey[key]
		if hasPrevious && previous.Checksum == checksum {
			continue
		}

		previousBody := json.RawMessage("null")

		if hasPrevious {
			if doc, err := uc.ViewRepo.Find(ctx, kind, viewID, previous.Checksum); err == nil {
				previousBody = doc.Body
			} else {
				logger.Warnf("Previous version of %s/%s missing, patching from null", kind, viewID)
			}
		}

		patch, err := jsondiff.CompareJSON(previousBody, encoded)
		if err != nil {
			return nil, err
		}

		patchJSON, err := json.Marshal(patch)
		if err != nil {
			return nil, err
		}

		if err := uc.ViewRepo.Upsert(ctx, &view.Document{
			Kind:     kind,
			ViewID:   viewID,
			Checksum: checksum,
			Body:     encoded,
		}); err != nil {
			return nil, err
		}

		fromChecksum := ""
		if hasPrevious {
			fromChecksum = previous.Checksum
		}

		patches = append(patches, mmodel.ViewPatch{
			Kind:         kind,
			ID:           viewID,
			FromChecksum: fromChecksum,
			ToChecksum:   checksum,
			Patch:        patchJSON,
		})

		indexByKey[key] = mmodel.IndexEntry{Kind: kind, ID: viewID, Checksum: checksum}
	}

	// Views of this kind that vanished from the build are retired from
	// the index with an empty target checksum.
	for key, entry := range indexByKey {
		if entry.Kind != kind || seen[key] {
			continue
		}

		patches = append(patches, mmodel.ViewPatch{
			Kind:         kind,
			ID:           entry.ID,
			FromChecksum: entry.Checksum,
			ToChecksum:   "",
			Patch:        json.RawMessage("[]"),
		})

		delete(indexByKey, key)
	}

	return patches, nil
}

// changedNodeKinds diffs the new snapshot against the previous build's
// snapshot. A nil result means "treat everything as changed".
func (uc *UseCase) changedNodeKinds(ctx context.Context, g *graph.Graph, previousAddress string, rebuildAll bool) (map[graph.NodeKind]bool, error) {
	if rebuildAll || previousAddress == "" {
		return nil, nil
	}

	address, err := cas.ParseHash(previousAddress)
	if err != nil {
		return nil, err
	}

	previous, err := graph.Load(ctx, uc.Snapshots, address)
	if err != nil {
		return nil, err
	}

	updates, err := g.DetectUpdates(previous)
	if err != nil {
		return nil, err
	}

	changed := make(map[graph.NodeKind]bool)

	noteNode := func(id graph.ID) {
		if n, ok := g.GetNode(id); ok {
			changed[n.Weight.Kind()] = true
		} else if n, ok := previous.GetNode(id); ok {
			changed[n.Weight.Kind()] = true
		}
	}

	for _, u := range updates {
		switch v := u.(type) {
		case graph.UpdateReplaceSubgraph:
			for _, n := range v.Nodes {
				changed[n.Weight.Kind()] = true
			}
		case graph.UpdateNewEdge:
			noteNode(v.From)
			noteNode(v.To)
		case graph.UpdateRemoveEdge:
			noteNode(v.From)
			noteNode(v.To)
		case graph.UpdateMergeCategoryNodes:
			noteNode(v.Keep)
		}
	}

	return changed, nil
}

func (uc *UseCase) publishPatchBatch(ctx context.Context, workspaceID, changeSetID string, patches []mmodel.ViewPatch) {
	logger := libCommons.NewLoggerFromContext(ctx)

	batch := mmodel.PatchBatch{
		WorkspaceID: workspaceID,
		ChangeSetID: changeSetID,
		Patches:     patches,
		EmittedAt:   time.Now().UTC(),
	}

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindPatchBatch, batch)
	if err != nil {
		logger.Errorf("Failed to build patch-batch envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal patch-batch envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectPatch(workspaceID, changeSetID), body); err != nil {
		logger.Errorf("Failed to publish patch batch for %s: %v", changeSetID, err)
	}
}

func (uc *UseCase) publishIndexUpdate(ctx context.Context, workspaceID, changeSetID string, entries []mmodel.IndexEntry) {
	logger := libCommons.NewLoggerFromContext(ctx)

	update := mmodel.IndexUpdate{
		WorkspaceID: workspaceID,
		ChangeSetID: changeSetID,
		Entries:     entries,
		EmittedAt:   time.Now().UTC(),
	}

	envelope, err := mmodel.NewEnvelope(uuid.New().String(), mmodel.MessageKindIndexUpdate, update)
	if err != nil {
		logger.Errorf("Failed to build index-update envelope: %v", err)

		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		logger.Errorf("Failed to marshal index-update envelope: %v", err)

		return
	}

	if _, err := uc.Producer.ProducerDefault(ctx, constant.ExchangeName,
		constant.SubjectIndex(workspaceID, changeSetID), body); err != nil {
		logger.Errorf("Failed to publish index update for %s: %v", changeSetID, err)
	}
}

func indexEntryKey(kind constant.ViewKind, id string) string {
	return string(kind) + "\x00" + id
}

func sortIndexEntries(entries []mmodel.IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}

		return entries[i].ID < entries[j].ID
	})
}
