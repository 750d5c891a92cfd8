package pkg

import (
	"errors"
	"fmt"
	"strings"

	cn "github.com/weftworks/loom/pkg/constant"
)

// EntityNotFoundError records a lookup miss for a persisted entity —
// change set, snapshot, node, action or func run.
type EntityNotFoundError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e EntityNotFoundError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		if strings.TrimSpace(e.EntityType) != "" {
			return fmt.Sprintf("Entity %s not found", e.EntityType)
		}

		if e.Err != nil {
			return e.Err.Error()
		}

		return "entity not found"
	}

	return e.Message
}

// Unwrap returns the wrapped cause.
func (e EntityNotFoundError) Unwrap() error {
	return e.Err
}

// ValidationError records a request that is well-formed but violates a
// business rule.
type ValidationError struct {
	EntityType string
	Title      string
	Message    string
	Code       string
	Err        error
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if strings.TrimSpace(e.Code) != "" {
		return fmt.Sprintf("%s - %s", e.Code, e.Message)
	}

	return e.Message
}

// Unwrap returns the wrapped cause.
func (e ValidationError) Unwrap() error {
	return e.Err
}

// StaleBaselineError records a rebase request whose from-address no
// longer matches the change set's current snapshot and could not be
// re-applied. The client must re-read and retry.
type StaleBaselineError struct {
	ChangeSetID     string
	ExpectedAddress string
	CurrentAddress  string
	Code            string
	Err             error
}

// Error implements the error interface.
func (e StaleBaselineError) Error() string {
	return fmt.Sprintf("stale baseline for change set %s: request is based on %s but current is %s",
		e.ChangeSetID, e.ExpectedAddress, e.CurrentAddress)
}

// Unwrap returns the wrapped cause.
func (e StaleBaselineError) Unwrap() error {
	return e.Err
}

// CyclicDependencyError records a dependent-value graph with a cycle
// that cannot be collapsed. Members carries the attribute value ids of
// the offending strongly-connected component.
type CyclicDependencyError struct {
	ChangeSetID string
	Members     []string
	Code        string
	Err         error
}

// Error implements the error interface.
func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among attribute values %s", strings.Join(e.Members, ", "))
}

// Unwrap returns the wrapped cause.
func (e CyclicDependencyError) Unwrap() error {
	return e.Err
}

// ExclusiveEdgeMismatchError records a node left with more than one
// outgoing edge of an exclusive kind after a merge.
type ExclusiveEdgeMismatchError struct {
	NodeID   string
	EdgeKind string
	Code     string
	Err      error
}

// Error implements the error interface.
func (e ExclusiveEdgeMismatchError) Error() string {
	return fmt.Sprintf("node %s holds multiple exclusive %s edges", e.NodeID, e.EdgeKind)
}

// Unwrap returns the wrapped cause.
func (e ExclusiveEdgeMismatchError) Unwrap() error {
	return e.Err
}

// ApprovalsMissingError blocks an apply while requirement definitions
// still lack approvals. PerRequirement maps requirement id to the
// number of further approvals needed.
type ApprovalsMissingError struct {
	ChangeSetID    string
	PerRequirement map[string]int
	Code           string
	Err            error
}

// Error implements the error interface.
func (e ApprovalsMissingError) Error() string {
	return fmt.Sprintf("change set %s has %d unsatisfied approval requirements", e.ChangeSetID, len(e.PerRequirement))
}

// Unwrap returns the wrapped cause.
func (e ApprovalsMissingError) Unwrap() error {
	return e.Err
}

// QuarantinedError records a change set disabled by a prior fatal
// rebase failure. Operator action is required before further work.
type QuarantinedError struct {
	ChangeSetID string
	Code        string
	Err         error
}

// Error implements the error interface.
func (e QuarantinedError) Error() string {
	return fmt.Sprintf("change set %s is quarantined", e.ChangeSetID)
}

// Unwrap returns the wrapped cause.
func (e QuarantinedError) Unwrap() error {
	return e.Err
}

// SandboxFailureError records a function run that returned Failure,
// timed out or was cancelled.
type SandboxFailureError struct {
	ExecutionID string
	Kind        string
	Message     string
	Code        string
	Err         error
}

// Error implements the error interface.
func (e SandboxFailureError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("function execution %s failed (%s): %s", e.ExecutionID, e.Kind, e.Message)
	}

	return fmt.Sprintf("function execution %s failed (%s)", e.ExecutionID, e.Kind)
}

// Unwrap returns the wrapped cause.
func (e SandboxFailureError) Unwrap() error {
	return e.Err
}

// CorruptionError records a content-hash mismatch on read. Fatal for
// the worker that hits it.
type CorruptionError struct {
	Expected string
	Actual   string
	Code     string
	Err      error
}

// Error implements the error interface.
func (e CorruptionError) Error() string {
	return fmt.Sprintf("content hash mismatch: stored under %s but hashes to %s", e.Expected, e.Actual)
}

// Unwrap returns the wrapped cause.
func (e CorruptionError) Unwrap() error {
	return e.Err
}

// UnprocessableOperationError records an operation forbidden in the
// entity's current state, e.g. an illegal action transition.
type UnprocessableOperationError struct {
	Title   string
	Message string
	Code    string
	Err     error
}

// Error implements the error interface.
func (e UnprocessableOperationError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e UnprocessableOperationError) Unwrap() error {
	return e.Err
}

// InternalServerError covers unexpected infrastructure failures after
// retries are exhausted.
type InternalServerError struct {
	Title   string
	Message string
	Code    string
	Err     error
}

// Error implements the error interface.
func (e InternalServerError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped cause.
func (e InternalServerError) Unwrap() error {
	return e.Err
}

// ValidateBusinessError translates a coded sentinel from pkg/constant
// into its typed business error. Args feed the entity-specific slots of
// each message.
func ValidateBusinessError(err error, entityType string, args ...any) error {
	errorMap := map[error]error{
		cn.ErrEntityNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrEntityNotFound.Error(),
			Title:      "Entity Not Found",
			Message:    fmt.Sprintf("No %s was found for the given lookup. Verify the identifier and try again.", entityType),
		},
		cn.ErrSnapshotNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrSnapshotNotFound.Error(),
			Title:      "Snapshot Not Found",
			Message:    fmt.Sprintf("No workspace snapshot exists at address %s.", fmtArg(args, 0)),
		},
		cn.ErrChangeSetNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrChangeSetNotFound.Error(),
			Title:      "Change Set Not Found",
			Message:    fmt.Sprintf("No change set was found with id %s.", fmtArg(args, 0)),
		},
		cn.ErrNodeNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrNodeNotFound.Error(),
			Title:      "Graph Node Not Found",
			Message:    fmt.Sprintf("The update references node %s which is not present in the graph.", fmtArg(args, 0)),
		},
		cn.ErrActionNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrActionNotFound.Error(),
			Title:      "Action Not Found",
			Message:    fmt.Sprintf("No action was found with id %s.", fmtArg(args, 0)),
		},
		cn.ErrFuncRunNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrFuncRunNotFound.Error(),
			Title:      "Function Run Not Found",
			Message:    fmt.Sprintf("No function run was found with id %s.", fmtArg(args, 0)),
		},
		cn.ErrWorkspaceNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrWorkspaceNotFound.Error(),
			Title:      "Workspace Not Found",
			Message:    fmt.Sprintf("No workspace was found with id %s.", fmtArg(args, 0)),
		},
		cn.ErrRequirementNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrRequirementNotFound.Error(),
			Title:      "Approval Requirement Not Found",
			Message:    fmt.Sprintf("No approval requirement definition was found with id %s.", fmtArg(args, 0)),
		},
		cn.ErrStaleBaseline: StaleBaselineError{
			ChangeSetID:     fmtArg(args, 0),
			ExpectedAddress: fmtArg(args, 1),
			CurrentAddress:  fmtArg(args, 2),
			Code:            cn.ErrStaleBaseline.Error(),
		},
		cn.ErrCyclicDependency: CyclicDependencyError{
			ChangeSetID: fmtArg(args, 0),
			Code:        cn.ErrCyclicDependency.Error(),
		},
		cn.ErrExclusiveEdgeMismatch: ExclusiveEdgeMismatchError{
			NodeID:   fmtArg(args, 0),
			EdgeKind: fmtArg(args, 1),
			Code:     cn.ErrExclusiveEdgeMismatch.Error(),
		},
		cn.ErrCycleForbidden: ValidationError{
			EntityType: entityType,
			Code:       cn.ErrCycleForbidden.Error(),
			Title:      "Cycle Forbidden",
			Message:    fmt.Sprintf("Adding this %s edge would introduce a cycle, which its kind forbids.", fmtArg(args, 0)),
		},
		cn.ErrApprovalsMissing: ApprovalsMissingError{
			ChangeSetID: fmtArg(args, 0),
			Code:        cn.ErrApprovalsMissing.Error(),
		},
		cn.ErrSandboxFailure: SandboxFailureError{
			ExecutionID: fmtArg(args, 0),
			Kind:        fmtArg(args, 1),
			Code:        cn.ErrSandboxFailure.Error(),
		},
		cn.ErrSandboxTimeout: SandboxFailureError{
			ExecutionID: fmtArg(args, 0),
			Kind:        "Timeout",
			Code:        cn.ErrSandboxTimeout.Error(),
		},
		cn.ErrPersistenceUnavailable: InternalServerError{
			Code:    cn.ErrPersistenceUnavailable.Error(),
			Title:   "Persistence Unavailable",
			Message: "The backing store could not be reached after retries. Try again later.",
		},
		cn.ErrCorruption: CorruptionError{
			Expected: fmtArg(args, 0),
			Actual:   fmtArg(args, 1),
			Code:     cn.ErrCorruption.Error(),
		},
		cn.ErrChangeSetQuarantined: QuarantinedError{
			ChangeSetID: fmtArg(args, 0),
			Code:        cn.ErrChangeSetQuarantined.Error(),
		},
		cn.ErrChangeSetNotOpen: UnprocessableOperationError{
			Code:    cn.ErrChangeSetNotOpen.Error(),
			Title:   "Change Set Not Open",
			Message: fmt.Sprintf("Change set %s is not accepting changes in its current status.", fmtArg(args, 0)),
		},
		cn.ErrChangeSetAlreadyApplied: UnprocessableOperationError{
			Code:    cn.ErrChangeSetAlreadyApplied.Error(),
			Title:   "Change Set Already Applied",
			Message: fmt.Sprintf("Change set %s was already applied.", fmtArg(args, 0)),
		},
		cn.ErrHeadChangeSetImmutable: UnprocessableOperationError{
			Code:    cn.ErrHeadChangeSetImmutable.Error(),
			Title:   "Head Change Set Immutable",
			Message: "The head change set cannot be applied or abandoned.",
		},
		cn.ErrInvalidActionTransition: UnprocessableOperationError{
			Code:    cn.ErrInvalidActionTransition.Error(),
			Title:   "Invalid Action Transition",
			Message: fmt.Sprintf("An action in state %s cannot move to state %s.", fmtArg(args, 0), fmtArg(args, 1)),
		},
		cn.ErrFuncRunImmutable: UnprocessableOperationError{
			Code:    cn.ErrFuncRunImmutable.Error(),
			Title:   "Function Run Immutable",
			Message: fmt.Sprintf("Function run %s reached a terminal state and cannot change.", fmtArg(args, 0)),
		},
		cn.ErrUnsupportedEnvelopeVersion: ValidationError{
			EntityType: entityType,
			Code:       cn.ErrUnsupportedEnvelopeVersion.Error(),
			Title:      "Unsupported Envelope Version",
			Message:    fmt.Sprintf("Message envelope version %s is not supported by this consumer.", fmtArg(args, 0)),
		},
		cn.ErrApprovalChecksumMismatch: ValidationError{
			EntityType: entityType,
			Code:       cn.ErrApprovalChecksumMismatch.Error(),
			Title:      "Approval Checksum Mismatch",
			Message:    "The approval was recorded against older content and no longer matches the change set.",
		},
		cn.ErrViewKindUnknown: ValidationError{
			EntityType: entityType,
			Code:       cn.ErrViewKindUnknown.Error(),
			Title:      "Unknown View Kind",
			Message:    fmt.Sprintf("No materialized-view definition is registered for kind %s.", fmtArg(args, 0)),
		},
		cn.ErrDuplicateNode: ValidationError{
			EntityType: entityType,
			Code:       cn.ErrDuplicateNode.Error(),
			Title:      "Duplicate Node",
			Message:    fmt.Sprintf("A node with id %s already exists in the graph.", fmtArg(args, 0)),
		},
		cn.ErrEdgeNotFound: EntityNotFoundError{
			EntityType: entityType,
			Code:       cn.ErrEdgeNotFound.Error(),
			Title:      "Edge Not Found",
			Message:    "The referenced edge is not present in the graph.",
		},
		cn.ErrInternalServer: InternalServerError{
			Code:    cn.ErrInternalServer.Error(),
			Title:   "Internal Server Error",
			Message: "The server encountered an unexpected error. Try again later.",
		},
	}

	if mapped, found := errorMap[err]; found {
		return mapped
	}

	return err
}

func fmtArg(args []any, i int) string {
	if i >= len(args) {
		return ""
	}

	return fmt.Sprintf("%v", args[i])
}

// IsBusinessError reports whether err (or anything it wraps) is one of
// the typed business errors above.
func IsBusinessError(err error) bool {
	var (
		enf EntityNotFoundError
		val ValidationError
		stb StaleBaselineError
		cyc CyclicDependencyError
		exc ExclusiveEdgeMismatchError
		apm ApprovalsMissingError
		qrt QuarantinedError
		sbx SandboxFailureError
		unp UnprocessableOperationError
	)

	return errors.As(err, &enf) || errors.As(err, &val) || errors.As(err, &stb) ||
		errors.As(err, &cyc) || errors.As(err, &exc) || errors.As(err, &apm) ||
		errors.As(err, &qrt) || errors.As(err, &sbx) || errors.As(err, &unp)
}
