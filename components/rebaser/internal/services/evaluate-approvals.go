package services

import (
	"context"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	"github.com/google/uuid"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/mmodel"
)

// ContentChecksum computes the checksum approvals bind to: the change
// set's current snapshot address. Any landed rebase moves it, which is
// exactly what invalidates older approvals.
func (uc *UseCase) ContentChecksum(cs *mmodel.ChangeSet) string {
	return cs.SnapshotAddress
}

// RecordApproval stores one user's vote, bound to the change set's
// current content checksum.
func (uc *UseCase) RecordApproval(ctx context.Context, changeSetID, userID, requirementID string, status constant.ApprovalStatus) (*mmodel.Approval, error) {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.record_approval")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, changeSetID)
	if err != nil {
		return nil, err
	}

	if !cs.Status.IsMutable() {
		return nil, pkg.ValidateBusinessError(constant.ErrChangeSetNotOpen, "change set", cs.ID)
	}

	approval := &mmodel.Approval{
		ID:            uuid.New().String(),
		ChangeSetID:   cs.ID,
		UserID:        userID,
		RequirementID: requirementID,
		Checksum:      uc.ContentChecksum(cs),
		Status:        status,
	}

	approval, err = uc.ApprovalRepo.Create(ctx, approval)
	if err != nil {
		return nil, err
	}

	uc.appendAudit(ctx, cs.WorkspaceID, cs.ID, "change_set.approval_recorded", map[string]any{
		"user_id":        userID,
		"requirement_id": requirementID,
		"status":         status,
		"checksum":       approval.Checksum,
	})

	return approval, nil
}

// EvaluateApprovals gates an apply: every requirement attached to an
// entity the change set modified must hold enough matching-checksum
// approvals from distinct allowed users. Approvals recorded against an
// older checksum are ignored.
func (uc *UseCase) EvaluateApprovals(ctx context.Context, cs *mmodel.ChangeSet) error {
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.evaluate_approvals")
	defer span.End()

	requirements, err := uc.activeRequirements(ctx, cs)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return nil
	}

	approvals, err := uc.ApprovalRepo.FindAllByChangeSet(ctx, cs.ID)
	if err != nil {
		return err
	}

	checksum := uc.ContentChecksum(cs)
	deficits := make(map[string]int)

	for _, requirement := range requirements {
		approvers, err := uc.resolveApprovers(ctx, requirement)
		if err != nil {
			return err
		}

		// Newest vote per user wins; FindAllByChangeSet returns newest
		// first.
		voted := make(map[string]bool)
		satisfied := 0

		for _, a := range approvals {
			if a.RequirementID != requirement.ID || voted[a.UserID] {
				continue
			}

			voted[a.UserID] = true

			if a.Status != constant.ApprovalStatusApproved || a.Checksum != checksum {
				continue
			}

			if approvers[a.UserID] {
				satisfied++
			}
		}

		if satisfied < requirement.RequiredCount {
			deficits[requirement.ID] = requirement.RequiredCount - satisfied
		}
	}

	if len(deficits) > 0 {
		err := pkg.ValidateBusinessError(constant.ErrApprovalsMissing, "change set", cs.ID)

		missing, ok := err.(pkg.ApprovalsMissingError)
		if ok {
			missing.PerRequirement = deficits

			return missing
		}

		return err
	}

	return nil
}

// activeRequirements collects requirement definitions attached to the
// entities the change set modified relative to its fork base.
func (uc *UseCase) activeRequirements(ctx context.Context, cs *mmodel.ChangeSet) ([]*mmodel.ApprovalRequirement, error) {
	currentAddress, err := cas.ParseHash(cs.SnapshotAddress)
	if err != nil {
		return nil, err
	}

	baseAddress, err := cas.ParseHash(cs.BaseSnapshotAddress)
	if err != nil {
		return nil, err
	}

	if currentAddress == baseAddress {
		return nil, nil
	}

	current, err := graph.Load(ctx, uc.Snapshots, currentAddress)
	if err != nil {
		return nil, err
	}

	base, err := graph.Load(ctx, uc.Snapshots, baseAddress)
	if err != nil {
		return nil, err
	}

	updates, err := current.DetectUpdates(base)
	if err != nil {
		return nil, err
	}

	modified := modifiedEntityIDs(updates)

	seen := make(map[graph.ID]bool)

	var requirements []*mmodel.ApprovalRequirement

	for _, entityID := range modified {
		for _, e := range current.Incoming(entityID, graph.EdgeKindRequirement) {
			if seen[e.From] {
				continue
			}

			seen[e.From] = true

			n, ok := current.GetNode(e.From)
			if !ok {
				continue
			}

			weight, ok := n.Weight.(graph.ApprovalRequirementDefinitionWeight)
			if !ok {
				continue
			}

			requirements = append(requirements, &mmodel.ApprovalRequirement{
				ID:            string(n.ID),
				EntityID:      string(entityID),
				RequiredCount: weight.RequiredCount,
				Individuals:   weight.Individuals,
				Groups:        weight.Groups,
			})
		}
	}

	return requirements, nil
}

// resolveApprovers unions a requirement's individuals with its groups'
// members, resolved against the policy engine.
func (uc *UseCase) resolveApprovers(ctx context.Context, requirement *mmodel.ApprovalRequirement) (map[string]bool, error) {
	approvers := make(map[string]bool, len(requirement.Individuals))

	for _, user := range requirement.Individuals {
		approvers[user] = true
	}

	for _, group := range requirement.Groups {
		members, err := uc.PolicyRepo.ExpandGroup(ctx, group)
		if err != nil {
			return nil, err
		}

		for _, member := range members {
			approvers[member] = true
		}
	}

	return approvers, nil
}

// modifiedEntityIDs flattens an update list into the ids it touches.
func modifiedEntityIDs(updates []graph.Update) []graph.ID {
	seen := make(map[graph.ID]bool)

	var ids []graph.ID

	add := func(id graph.ID) {
		if !seen[id] {
			seen[id] = true

			ids = append(ids, id)
		}
	}

	for _, u := range updates {
		switch v := u.(type) {
		case graph.UpdateReplaceSubgraph:
			for _, n := range v.Nodes {
				add(n.ID)
			}
		case graph.UpdateNewEdge:
			add(v.From)
		case graph.UpdateRemoveEdge:
			add(v.From)
		case graph.UpdateMergeCategoryNodes:
			add(v.Keep)
		}
	}

	return ids
}
