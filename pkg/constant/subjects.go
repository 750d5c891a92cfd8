package constant

import "fmt"

// Broker topology. All subjects are routing keys on a single topic
// exchange; one queue per change set keeps per-change-set work
// serialized by construction.
const (
	ExchangeName = "loom"

	// HeaderFinalMessage signals a graceful drain: a consumer finishing
	// the message carrying it acks and stops pulling new deliveries.
	HeaderFinalMessage = "X-Final-Message"

	// HeaderEnvelopeVersion carries the wire envelope version.
	HeaderEnvelopeVersion = "X-Envelope-Version"
)

// SubjectRebaser is the per-change-set rebase request stream.
func SubjectRebaser(workspaceID, changeSetID string) string {
	return fmt.Sprintf("rebaser.ws.%s.cs.%s", workspaceID, changeSetID)
}

// SubjectViewUpdate triggers an incremental materialized-view rebuild.
func SubjectViewUpdate(workspaceID, changeSetID string) string {
	return fmt.Sprintf("edda.ws.%s.cs.%s.update", workspaceID, changeSetID)
}

// SubjectViewNewChangeSet bootstraps the view index of a fresh fork.
func SubjectViewNewChangeSet(workspaceID, changeSetID string) string {
	return fmt.Sprintf("edda.ws.%s.cs.%s.new_change_set", workspaceID, changeSetID)
}

// SubjectViewRebuild forces a full materialized-view rebuild.
func SubjectViewRebuild(workspaceID, changeSetID string) string {
	return fmt.Sprintf("edda.ws.%s.cs.%s.rebuild", workspaceID, changeSetID)
}

// SubjectPatch carries outgoing patch batches to clients.
func SubjectPatch(workspaceID, changeSetID string) string {
	return fmt.Sprintf("patch.%s.%s", workspaceID, changeSetID)
}

// SubjectIndex carries outgoing index updates to clients.
func SubjectIndex(workspaceID, changeSetID string) string {
	return fmt.Sprintf("index.%s.%s", workspaceID, changeSetID)
}

// SubjectJobs carries function and job execution requests.
func SubjectJobs(workspaceID, changeSetID string) string {
	return fmt.Sprintf("pinga.%s.%s", workspaceID, changeSetID)
}
