package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
	"sync"

	libCommons "github.com/LerianStudio/lib-commons/v2/commons"
	libOpentelemetry "github.com/LerianStudio/lib-commons/v2/commons/opentelemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/weftworks/loom/pkg"
	"github.com/weftworks/loom/pkg/cas"
	"github.com/weftworks/loom/pkg/constant"
	"github.com/weftworks/loom/pkg/graph"
	"github.com/weftworks/loom/pkg/sandbox"
)

// RunDependentValues executes one propagation pass over a change set's
// dirty attribute values: the dirty set plus everything downstream of
// it re-derives through each value's bound function, in dependency
// order, bounded by InsertConcurrencyLimit within a generation.
//
// A value whose function fails is flagged Failed; its dependents become
// Unknown and are not executed. A strongly-connected component whose
// members all bind identity or constant functions collapses into one
// sequential step; any other cycle flags its members Failed and the run
// reports CyclicDependency after finishing the rest of the graph.
//
// Re-running with an empty dirty set is a no-op.
func (uc *UseCase) RunDependentValues(ctx context.Context, workspaceID, changeSetID string) error {
	logger := libCommons.NewLoggerFromContext(ctx)
	tracer := libCommons.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "service.run_dependent_values")
	defer span.End()

	cs, err := uc.ChangeSetRepo.Find(ctx, changeSetID)
	if err != nil {
		return err
	}

	if !cs.Status.IsMutable() {
		logger.Infof("Skipping dependent-value run for %s: status %s", cs.ID, cs.Status)

		return nil
	}

	currentAddress, err := cas.ParseHash(cs.SnapshotAddress)
	if err != nil {
		return err
	}

	g, err := graph.Load(ctx, uc.Snapshots, currentAddress)
	if err != nil {
		return err
	}

	dirty := g.DirtyValueIDs()
	if len(dirty) == 0 {
		return nil
	}

	run := &dependentValueRun{
		uc:          uc,
		graph:       g,
		workspaceID: workspaceID,
		changeSetID: changeSetID,
		status:      make(map[graph.ID]constant.AttributeValueStatus),
	}

	cycleMembers, err := run.execute(ctx, dirty)
	if err != nil {
		libOpentelemetry.HandleSpanError(&span, "Dependent-value run aborted", err)

		return err
	}

	g.ClearDependentValueRoots()

	nextAddress, err := g.Serialize(ctx, uc.Snapshots)
	if err != nil {
		return err
	}

	if err := uc.Snapshots.Flush(ctx); err != nil {
		return err
	}

	if nextAddress.String() != cs.SnapshotAddress {
		swapped, err := uc.ChangeSetRepo.SwapSnapshotAddress(ctx, cs.ID, cs.SnapshotAddress, nextAddress.String())
		if err != nil {
			return err
		}

		if !swapped {
			return pkg.ValidateBusinessError(constant.ErrStaleBaseline, "change set",
				cs.ID, cs.SnapshotAddress, nextAddress.String())
		}

		cs.SnapshotAddress = nextAddress.String()

		uc.publishChangeSetUpdated(ctx, cs)
	}

	if len(cycleMembers) > 0 {
		cycleErr := pkg.ValidateBusinessError(constant.ErrCyclicDependency, "attribute value", cs.ID)

		if typed, ok := cycleErr.(pkg.CyclicDependencyError); ok {
			for _, member := range cycleMembers {
				typed.Members = append(typed.Members, string(member))
			}

			return typed
		}

		return cycleErr
	}

	logger.Infof("Dependent-value run for %s settled %d values", cs.ID, len(run.status))

	return nil
}

// dependentValueRun carries the mutable state of one pass.
type dependentValueRun struct {
	uc          *UseCase
	graph       *graph.Graph
	workspaceID string
	changeSetID string

	mu     sync.Mutex
	status map[graph.ID]constant.AttributeValueStatus
}

// execute walks the dependency graph generation by generation and
// returns the members of non-collapsible cycles.
func (r *dependentValueRun) execute(ctx context.Context, dirty []graph.ID) ([]graph.ID, error) {
	closure := r.downstreamClosure(dirty)

	components := stronglyConnected(closure, func(id graph.ID) []graph.ID {
		var deps []graph.ID

		for _, e := range r.graph.SubscriptionSources(id) {
			if closure[e.To] {
				deps = append(deps, e.To)
			}
		}

		return deps
	})

	var cycleMembers []graph.ID

	runnable := make([][]graph.ID, 0, len(components))

	for _, component := range components {
		if len(component) == 1 && !r.selfLoops(component[0]) {
			runnable = append(runnable, component)

			continue
		}

		if r.collapsible(component) {
			runnable = append(runnable, component)

			continue
		}

		for _, member := range component {
			r.setStatus(member, constant.AttributeValueStatusFailed)
			r.flagValue(member, constant.AttributeValueStatusFailed)
		}

		cycleMembers = append(cycleMembers, component...)
	}

	limit := int64(r.uc.InsertConcurrencyLimit)
	if limit <= 0 {
		limit = 1
	}

	sem := semaphore.NewWeighted(limit)

	for _, generation := range generations(runnable, r.dependsOn(closure)) {
		group, groupCtx := errgroup.WithContext(ctx)

		for _, component := range generation {
			component := component

			group.Go(func() error {
				if err := sem.Acquire(groupCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				// Collapsed cycles run their members sequentially.
				for _, valueID := range component {
					if err := r.runValue(groupCtx, valueID); err != nil {
						return err
					}
				}

				return nil
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}
	}

	return cycleMembers, nil
}

// runValue executes one attribute value's function, unless an upstream
// failure already decided its status.
func (r *dependentValueRun) runValue(ctx context.Context, valueID graph.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, e := range r.graph.SubscriptionSources(valueID) {
		switch r.getStatus(e.To) {
		case constant.AttributeValueStatusFailed, constant.AttributeValueStatusUnknown:
			r.setStatus(valueID, constant.AttributeValueStatusUnknown)
			r.flagValue(valueID, constant.AttributeValueStatusUnknown)

			return nil
		}
	}

	funcNode, err := r.graph.PrototypeFunc(valueID)
	if err != nil {
		return err
	}

	funcWeight, ok := funcNode.Weight.(graph.FuncWeight)
	if !ok {
		return pkg.ValidateBusinessError(constant.ErrEntityNotFound, "func", funcNode.ID)
	}

	args, err := r.resolveArguments(ctx, valueID)
	if err != nil {
		return err
	}

	code, err := r.loadCode(ctx, funcWeight)
	if err != nil {
		return err
	}

	_, result, err := r.uc.Runner.Run(ctx, &sandbox.Submission{
		WorkspaceID: r.workspaceID,
		ChangeSetID: r.changeSetID,
		FuncID:      string(funcNode.ID),
		FuncKind:    funcWeight.FuncKind,
		Handler:     funcWeight.Handler,
		CodeBase64:  code,
		Args:        args,
	})
	if err != nil {
		return err
	}

	if !result.Success {
		r.setStatus(valueID, constant.AttributeValueStatusFailed)
		r.flagValue(valueID, constant.AttributeValueStatusFailed)

		return nil
	}

	payloadAddress, err := r.uc.Snapshots.Put(ctx, result.Payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	err = r.graph.ReplaceNodeContent(valueID, graph.AttributeValueWeight{
		Value:            payloadAddress,
		UnprocessedValue: payloadAddress,
		Status:           constant.AttributeValueStatusOk,
	})
	r.mu.Unlock()

	if err != nil {
		return err
	}

	r.setStatus(valueID, constant.AttributeValueStatusOk)

	return nil
}

// resolveArguments walks the value's subscriptions and binds each
// source's current content under its path expression.
func (r *dependentValueRun) resolveArguments(ctx context.Context, valueID graph.ID) (json.RawMessage, error) {
	args := make(map[string]json.RawMessage)

	for _, e := range r.graph.SubscriptionSources(valueID) {
		source, ok := r.graph.GetNode(e.To)
		if !ok {
			return nil, pkg.ValidateBusinessError(constant.ErrNodeNotFound, "attribute value", e.To)
		}

		weight, ok := source.Weight.(graph.AttributeValueWeight)
		if !ok {
			continue
		}

		key := e.Weight.Path
		if key == "" {
			key = string(e.To)
		}

		if weight.Value.IsZero() {
			args[key] = json.RawMessage("null")

			continue
		}

		value, found, err := r.uc.Snapshots.Get(ctx, weight.Value)
		if err != nil {
			return nil, err
		}

		if !found {
			args[key] = json.RawMessage("null")

			continue
		}

		args[key] = value
	}

	return json.Marshal(args)
}

func (r *dependentValueRun) loadCode(ctx context.Context, weight graph.FuncWeight) (string, error) {
	if weight.CodeAddress.IsZero() {
		return "", nil
	}

	code, found, err := r.uc.Snapshots.Get(ctx, weight.CodeAddress)
	if err != nil {
		return "", err
	}

	if !found {
		return "", pkg.ValidateBusinessError(constant.ErrEntityNotFound, "func code", weight.CodeAddress)
	}

	return base64.StdEncoding.EncodeToString(code), nil
}

// flagValue writes the status into the value's weight so it survives
// the run in the snapshot.
func (r *dependentValueRun) flagValue(valueID graph.ID, status constant.AttributeValueStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.graph.GetNode(valueID)
	if !ok {
		return
	}

	weight, ok := n.Weight.(graph.AttributeValueWeight)
	if !ok {
		return
	}

	weight.Status = status

	_ = r.graph.ReplaceNodeContent(valueID, weight)
}

func (r *dependentValueRun) setStatus(id graph.ID, status constant.AttributeValueStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status[id] = status
}

func (r *dependentValueRun) getStatus(id graph.ID) constant.AttributeValueStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status[id]
}

// downstreamClosure is the dirty set plus every transitive subscriber.
func (r *dependentValueRun) downstreamClosure(dirty []graph.ID) map[graph.ID]bool {
	closure := make(map[graph.ID]bool)
	stack := append([]graph.ID(nil), dirty...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if closure[id] {
			continue
		}

		closure[id] = true

		for _, e := range r.graph.SubscriptionDependents(id) {
			stack = append(stack, e.From)
		}
	}

	return closure
}

func (r *dependentValueRun) selfLoops(id graph.ID) bool {
	for _, e := range r.graph.SubscriptionSources(id) {
		if e.To == id {
			return true
		}
	}

	return false
}

// collapsible reports whether every member of a cycle binds an identity
// or constant function.
func (r *dependentValueRun) collapsible(component []graph.ID) bool {
	for _, id := range component {
		funcNode, err := r.graph.PrototypeFunc(id)
		if err != nil {
			return false
		}

		weight, ok := funcNode.Weight.(graph.FuncWeight)
		if !ok {
			return false
		}

		if weight.FuncKind != constant.FuncKindIdentity && weight.FuncKind != constant.FuncKindConstant {
			return false
		}
	}

	return true
}

// dependsOn builds the component-level dependency lookup used to form
// generations.
func (r *dependentValueRun) dependsOn(closure map[graph.ID]bool) func(id graph.ID) []graph.ID {
	return func(id graph.ID) []graph.ID {
		var deps []graph.ID

		for _, e := range r.graph.SubscriptionSources(id) {
			if closure[e.To] && e.To != id {
				deps = append(deps, e.To)
			}
		}

		return deps
	}
}

// stronglyConnected is Tarjan's algorithm over the closure, with
// deterministic iteration order. With edges pointing at dependencies, a
// component is emitted only after everything it depends on, so the
// result lists dependencies before dependents.
func stronglyConnected(closure map[graph.ID]bool, deps func(graph.ID) []graph.ID) [][]graph.ID {
	ids := make([]graph.ID, 0, len(closure))

	for id := range closure {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var (
		index    int
		stack    []graph.ID
		onStack  = make(map[graph.ID]bool)
		indices  = make(map[graph.ID]int)
		lowlinks = make(map[graph.ID]int)
		result   [][]graph.ID
	)

	var connect func(v graph.ID)

	connect = func(v graph.ID) {
		indices[v] = index
		lowlinks[v] = index
		index++

		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps(v) {
			if _, visited := indices[w]; !visited {
				connect(w)

				if lowlinks[w] < lowlinks[v] {
					lowlinks[v] = lowlinks[w]
				}
			} else if onStack[w] && indices[w] < lowlinks[v] {
				lowlinks[v] = indices[w]
			}
		}

		if lowlinks[v] == indices[v] {
			var component []graph.ID

			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false

				component = append(component, w)

				if w == v {
					break
				}
			}

			sort.Slice(component, func(i, j int) bool { return component[i] < component[j] })
			result = append(result, component)
		}
	}

	for _, id := range ids {
		if _, visited := indices[id]; !visited {
			connect(id)
		}
	}

	return result
}

// generations groups components into parallelizable waves: a component
// joins the earliest wave after all its dependencies' waves.
func generations(components [][]graph.ID, deps func(graph.ID) []graph.ID) [][][]graph.ID {
	wave := make(map[graph.ID]int)

	var out [][][]graph.ID

	for _, component := range components {
		members := make(map[graph.ID]bool, len(component))

		for _, id := range component {
			members[id] = true
		}

		level := 0

		for _, id := range component {
			for _, dep := range deps(id) {
				if members[dep] {
					continue
				}

				if w, ok := wave[dep]; ok && w+1 > level {
					level = w + 1
				}
			}
		}

		for _, id := range component {
			wave[id] = level
		}

		for len(out) <= level {
			out = append(out, nil)
		}

		out[level] = append(out[level], component)
	}

	return out
}
