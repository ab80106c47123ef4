package engine

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pixline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Engine drives the task lifecycle: status transitions, the append-only log,
// persistence and the webhook/signal fan-out, plus serial/parallel execution
// of reference trees.
type Engine struct {
	Registry *Registry
	Client   *http.Client
	Timeout  time.Duration
	Logger   *log.Logger
	Now      func() time.Time
}

func New(reg *Registry) Engine {
	return Engine{
		Registry: reg,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Timeout:  defaultWebhookTimeout,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// AddLog appends a record to the task's log. Prior entries are never touched.
// With emit set, the entity is persisted and the fan-out fires for the same
// mutation; both are attempted and failures are logged, not returned, because
// the update is best-effort once initiated.
func (e Engine) AddLog(ctx context.Context, t Task, rec domain.TaskLogRecord, emit bool, extra map[string]any) {
	if rec.ReportedAt.IsZero() {
		rec.ReportedAt = e.now()
	}
	if rec.TaskStatus == "" {
		rec.TaskStatus = t.State().Status
	}
	t.State().Logs = append(t.State().Logs, rec)
	if emit {
		e.SaveAndEmit(ctx, t, extra)
	}
}

// SaveStatus transitions the task and records the change. Done forces
// progress to 100. Terminal tasks reject further transitions with
// ErrTerminal; retries need a new task.
func (e Engine) SaveStatus(ctx context.Context, t Task, status domain.StepStatus, extra map[string]any) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	state := t.State()
	if state.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, state.Status)
	}
	state.Status = status
	if status == domain.StepDone {
		state.Progress = 100
	}
	e.AddLog(ctx, t, domain.TaskLogRecord{
		Message:    fmt.Sprintf("Status changed to %s", status),
		TaskStatus: status,
	}, true, extra)
	return nil
}

// SaveReport replaces the human-readable report (latest wins) and records it.
func (e Engine) SaveReport(ctx context.Context, t Task, report string, extra map[string]any) error {
	state := t.State()
	if state.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, state.Status)
	}
	state.Report = report
	e.AddLog(ctx, t, domain.TaskLogRecord{
		Message:    report,
		TaskStatus: state.Status,
	}, true, extra)
	return nil
}

// AddReference appends a sub-task pointer to the reference tree.
func (e Engine) AddReference(ctx context.Context, t Task, ref domain.TaskReference, extra map[string]any) error {
	state := t.State()
	if state.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, state.Status)
	}
	if _, err := e.Registry.Handler(ref.TaskType); err != nil {
		return err
	}
	if state.References == nil {
		state.References = &domain.TaskReferenceList{Mode: domain.RunSerial}
	}
	state.References.Tasks = append(state.References.Tasks, domain.TaskNode{Ref: &ref})
	e.AddLog(ctx, t, domain.TaskLogRecord{
		Message:    fmt.Sprintf("Added reference to task %s", ref),
		TaskStatus: state.Status,
	}, true, extra)
	return nil
}

// Update bundles the fields one logical mutation may change, so a multi-field
// update emits exactly once instead of once per field.
type Update struct {
	Status   *domain.StepStatus
	Report   *string
	Progress *int
}

// UpdateAndEmit applies an update, appends one log record describing it, and
// saves+emits once. Transition to done forces progress to 100 unless the
// update carries an explicit value.
func (e Engine) UpdateAndEmit(ctx context.Context, t Task, u Update, extra map[string]any) error {
	state := t.State()
	if state.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, state.Status)
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("invalid task status %q", *u.Status)
		}
		state.Status = *u.Status
		if *u.Status == domain.StepDone && u.Progress == nil {
			state.Progress = 100
		}
	}
	if u.Progress != nil {
		state.Progress = *u.Progress
	}
	if u.Report != nil {
		state.Report = *u.Report
	}
	message := "Task updated"
	switch {
	case u.Report != nil:
		message = *u.Report
	case u.Status != nil:
		message = fmt.Sprintf("Status changed to %s", *u.Status)
	}
	e.AddLog(ctx, t, domain.TaskLogRecord{
		Message:    message,
		TaskStatus: state.Status,
	}, true, extra)
	return nil
}

// SaveAndEmit persists the task and fires the fan-out for one mutation. The
// webhook target and payload are serialized up front, before the save runs:
// Save handlers refresh the entity's updated_at, so the payload must not be
// read concurrently with them. Both halves are attempted even if one fails;
// neither failure reaches the caller.
func (e Engine) SaveAndEmit(ctx context.Context, t Task, extra map[string]any) {
	ref := t.TaskRef()
	var payload []byte
	url, hasWebhook := t.TaskEntity().WebhookURL()
	if hasWebhook {
		var err error
		payload, err = webhookBody(t, extra)
		if err != nil {
			e.logger().Printf("engine: webhook payload for %s failed: %v", ref, err)
			payload = nil
		}
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h, err := e.Registry.Handler(ref.TaskType)
		if err == nil {
			err = h.Save(ctx, t)
		}
		if err != nil {
			e.logger().Printf("engine: save %s failed: %v", ref, err)
		}
	}()
	go func() {
		defer wg.Done()
		e.emit(ctx, t, url, payload)
	}()
	wg.Wait()
}

// emit delivers the pre-serialized metadata webhook and invokes every
// registered signal for the task's type. All deliveries run concurrently;
// each failure is logged in isolation and the mutation waits for all of them
// to settle.
func (e Engine) emit(ctx context.Context, t Task, url string, payload []byte) {
	ref := t.TaskRef()
	var wg sync.WaitGroup
	if payload != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.deliverWebhook(ctx, url, payload); err != nil {
				e.logger().Printf("engine: webhook for %s failed: %v", ref, err)
			}
		}()
	}
	for _, sig := range e.Registry.Signals(ref.TaskType) {
		sig := sig
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sig(ctx, t); err != nil {
				e.logger().Printf("engine: signal for %s failed: %v", ref, err)
			}
		}()
	}
	wg.Wait()
}

// StartProcessing begins work on a task. Types with their own Start handler
// delegate to it; otherwise the task must carry a reference tree, which is
// evaluated recursively. A task with neither is a caller error.
func (e Engine) StartProcessing(ctx context.Context, t Task, scope domain.Scope) error {
	ref := t.TaskRef()
	h, err := e.Registry.Handler(ref.TaskType)
	if err != nil {
		return err
	}
	if h.Start != nil {
		return h.Start(ctx, t)
	}
	refs := t.State().References
	if refs == nil {
		return fmt.Errorf("%w: %s", ErrNoReferences, ref)
	}
	return e.runList(ctx, refs, scope)
}

// runList evaluates one tree node. Serial children run in list order, each to
// completion before the next; parallel children all dispatch up front and the
// call waits for every branch to settle before reporting the first error.
// Siblings of a failed branch are not cancelled.
func (e Engine) runList(ctx context.Context, list *domain.TaskReferenceList, scope domain.Scope) error {
	switch list.Mode {
	case domain.RunParallel:
		var g errgroup.Group
		for _, node := range list.Tasks {
			node := node
			g.Go(func() error {
				return e.runNode(ctx, node, scope)
			})
		}
		return g.Wait()
	case domain.RunSerial, "":
		for _, node := range list.Tasks {
			if err := e.runNode(ctx, node, scope); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid reference list mode %q", list.Mode)
	}
}

func (e Engine) runNode(ctx context.Context, node domain.TaskNode, scope domain.Scope) error {
	if node.List != nil {
		return e.runList(ctx, node.List, scope)
	}
	if node.Ref == nil {
		return fmt.Errorf("empty task node")
	}
	item, err := e.Resolve(ctx, *node.Ref, scope)
	if err != nil {
		return err
	}
	return e.StartProcessing(ctx, item, scope)
}

// Resolve loads the record a reference points at, dispatching on the type
// name it carries. Unknown types and missing records are errors, never
// silent skips.
func (e Engine) Resolve(ctx context.Context, ref domain.TaskReference, scope domain.Scope) (Task, error) {
	h, err := e.Registry.Handler(ref.TaskType)
	if err != nil {
		return nil, err
	}
	item, err := h.Load(ctx, ref.TaskID, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return item, nil
}
