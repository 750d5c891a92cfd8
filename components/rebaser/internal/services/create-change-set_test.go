package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/mmodel"
)

func TestCreateChangeSetForksFromHead(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	head := &mmodel.ChangeSet{
		ID:              "head",
		WorkspaceID:     "ws-1",
		Status:          constant.ChangeSetStatusOpen,
		SnapshotAddress: "addr-0",
	}

	mocks.Workspaces.EXPECT().Find(gomock.Any(), "ws-1").
		Return(&mmodel.Workspace{ID: "ws-1", DefaultChangeSetID: "head"}, nil)
	mocks.ChangeSets.EXPECT().Find(gomock.Any(), "head").Return(head, nil)
	mocks.ChangeSets.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, cs *mmodel.ChangeSet) (*mmodel.ChangeSet, error) {
			return cs, nil
		})
	mocks.Audits.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	mocks.Producer.EXPECT().
		ProducerDefault(gomock.Any(), constant.ExchangeName, gomock.Any(), gomock.Any()).
		Return(nil, nil)

	cs, err := uc.CreateChangeSet(ctx, &mmodel.CreateChangeSetInput{
		WorkspaceID: "ws-1",
		Name:        "feature work",
	})
	require.NoError(t, err)

	assert.Equal(t, constant.ChangeSetStatusOpen, cs.Status)
	assert.Equal(t, "addr-0", cs.SnapshotAddress, "fork shares the base snapshot")
	assert.Equal(t, "addr-0", cs.BaseSnapshotAddress)
	require.NotNil(t, cs.BaseChangeSetID)
	assert.Equal(t, "head", *cs.BaseChangeSetID)
	assert.NotEmpty(t, cs.ID)
}

func TestCreateChangeSetRejectsTerminalBase(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	uc, mocks := newTestUseCase(t, ctrl)
	ctx := context.Background()

	base := &mmodel.ChangeSet{
		ID:     "old",
		Status: constant.ChangeSetStatusAbandoned,
	}

	baseID := "old"

	mocks.Workspaces.EXPECT().Find(gomock.Any(), "ws-1").
		Return(&mmodel.Workspace{ID: "ws-1", DefaultChangeSetID: "head"}, nil)
	mocks.ChangeSets.EXPECT().Find(gomock.Any(), "old").Return(base, nil)

	_, err := uc.CreateChangeSet(ctx, &mmodel.CreateChangeSetInput{
		WorkspaceID:     "ws-1",
		Name:            "doomed",
		BaseChangeSetID: &baseID,
	})
	assert.Error(t, err)
}
