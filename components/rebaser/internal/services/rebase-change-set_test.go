package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

func TestRebaseAppliesChangeBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	base := graph.New()
	_, err := base.EnsureCategory(graph.CategoryComponent)
	require.NoError(t, err)

	baseAddress := storeGraph(t, mocks.Snapshots, base)

	// The client's delta: one new component.
	working := base.Copy()
	componentID := newComponentNode(t, working)

	updates, err := working.DetectUpdates(base)
	require.NoError(t, err)

	batchAddress, err := graph.WriteChangeBatch(ctx, mocks.Snapshots, updates)
	require.NoError(t, err)

	cs := &mmodel.ChangeSet{
		ID:                  string(graph.NewID()),
		WorkspaceID:         "ws-1",
		Status:              constant.ChangeSetStatusOpen,
		SnapshotAddress:     baseAddress,
		BaseSnapshotAddress: baseAddress,
	}

	mocks.ChangeSets.EXPECT().Find(gomock.Any(), cs.ID).Return(cs, nil)
	mocks.ChangeSets.EXPECT().
		SwapSnapshotAddress(gomock.Any(), cs.ID, baseAddress, gomock.Any()).
		Return(true, nil)
	mocks.Producer.EXPECT().
		ProducerDefault(gomock.Any(), constant.ExchangeName, constant.SubjectViewUpdate("ws-1", cs.ID), gomock.Any()).
		Return(nil, nil)

	result, err := uc.RebaseChangeSet(ctx, &mmodel.RebaseRequest{
		ID:                  "req-1",
		WorkspaceID:         "ws-1",
		ChangeSetID:         cs.ID,
		FromSnapshotAddress: baseAddress,
		ChangeBatchAddress:  batchAddress.String(),
	})
	require.NoError(t, err)
	assert.NotEqual(t, baseAddress, result.SnapshotAddress)

	nextAddress, err := cas.ParseHash(result.SnapshotAddress)
	require.NoError(t, err)

	merged, err := graph.Load(ctx, mocks.Snapshots, nextAddress)
	require.NoError(t, err)

	_, ok := merged.GetNode(componentID)
	assert.True(t, ok, "batch component must land in the new snapshot")
}

func TestRebaseStaleRequestThreeWayMerges(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	base := graph.New()
	_, err := base.EnsureCategory(graph.CategoryComponent)
	require.NoError(t, err)

	baseAddress := storeGraph(t, mocks.Snapshots, base)

	// The change set advanced past the client's from-address.
	advanced := base.Copy()
	existingID := newComponentNode(t, advanced)
	advancedAddress := storeGraph(t, mocks.Snapshots, advanced)

	// The stale client adds a different component on top of base.
	working := base.Copy()
	lateID := newComponentNode(t, working)

	updates, err := working.DetectUpdates(base)
	require.NoError(t, err)

	batchAddress, err := graph.WriteChangeBatch(ctx, mocks.Snapshots, updates)
	require.NoError(t, err)

	cs := &mmodel.ChangeSet{
		ID:                  string(graph.NewID()),
		WorkspaceID:         "ws-1",
		Status:              constant.ChangeSetStatusOpen,
		SnapshotAddress:     advancedAddress,
		BaseSnapshotAddress: baseAddress,
	}

	mocks.ChangeSets.EXPECT().Find(gomock.Any(), cs.ID).Return(cs, nil)
	mocks.ChangeSets.EXPECT().
		SwapSnapshotAddress(gomock.Any(), cs.ID, advancedAddress, gomock.Any()).
		Return(true, nil)
	mocks.Producer.EXPECT().
		ProducerDefault(gomock.Any(), constant.ExchangeName, constant.SubjectViewUpdate("ws-1", cs.ID), gomock.Any()).
		Return(nil, nil)

	result, err := uc.RebaseChangeSet(ctx, &mmodel.RebaseRequest{
		ID:                  "req-2",
		WorkspaceID:         "ws-1",
		ChangeSetID:         cs.ID,
		FromSnapshotAddress: baseAddress,
		ChangeBatchAddress:  batchAddress.String(),
	})
	require.NoError(t, err)

	nextAddress, err := cas.ParseHash(result.SnapshotAddress)
	require.NoError(t, err)

	merged, err := graph.Load(ctx, mocks.Snapshots, nextAddress)
	require.NoError(t, err)

	_, okExisting := merged.GetNode(existingID)
	_, okLate := merged.GetNode(lateID)
	assert.True(t, okExisting, "pre-existing work must survive")
	assert.True(t, okLate, "stale client's delta must be re-applied")
}

func TestRebaseQuarantinesAfterSecondFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	base := graph.New()
	baseAddress := storeGraph(t, mocks.Snapshots, base)

	working := base.Copy()
	newComponentNode(t, working)

	updates, err := working.DetectUpdates(base)
	require.NoError(t, err)

	batchAddress, err := graph.WriteChangeBatch(ctx, mocks.Snapshots, updates)
	require.NoError(t, err)

	cs := &mmodel.ChangeSet{
		ID:                  string(graph.NewID()),
		WorkspaceID:         "ws-1",
		Status:              constant.ChangeSetStatusOpen,
		SnapshotAddress:     baseAddress,
		BaseSnapshotAddress: baseAddress,
	}

	infra := errors.New("connection reset")

	mocks.ChangeSets.EXPECT().Find(gomock.Any(), cs.ID).Return(cs, nil).Times(2)
	mocks.ChangeSets.EXPECT().
		SwapSnapshotAddress(gomock.Any(), cs.ID, baseAddress, gomock.Any()).
		Return(false, infra).
		Times(2)
	mocks.ChangeSets.EXPECT().
		UpdateStatus(gomock.Any(), cs.ID, constant.ChangeSetStatusQuarantined).
		Return(cs, nil)
	mocks.Audits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	_, err = uc.RebaseChangeSet(ctx, &mmodel.RebaseRequest{
		ID:                  "req-3",
		WorkspaceID:         "ws-1",
		ChangeSetID:         cs.ID,
		FromSnapshotAddress: baseAddress,
		ChangeBatchAddress:  batchAddress.String(),
	})
	require.Error(t, err)

	var quarantined pkg.QuarantinedError

	assert.True(t, errors.As(err, &quarantined))
}

func TestRebaseRejectsQuarantinedChangeSet(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	cs := &mmodel.ChangeSet{
		ID:     "cs-q",
		Status: constant.ChangeSetStatusQuarantined,
	}

	mocks.ChangeSets.EXPECT().Find(gomock.Any(), cs.ID).Return(cs, nil)

	_, err := uc.RebaseChangeSet(ctx, &mmodel.RebaseRequest{ChangeSetID: cs.ID})
	require.Error(t, err)

	var quarantined pkg.QuarantinedError

	assert.True(t, errors.As(err, &quarantined))
}
