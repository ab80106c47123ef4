package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StepStatus is the lifecycle status of a task-bearing entity.
type StepStatus string

const (
	StepDraft      StepStatus = "draft"
	StepInit       StepStatus = "init"
	StepProcessing StepStatus = "processing"
	StepPaused     StepStatus = "paused"
	StepDone       StepStatus = "done"
	StepError      StepStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s StepStatus) Terminal() bool {
	return s == StepDone || s == StepError
}

// Valid reports whether s is a known status value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepDraft, StepInit, StepProcessing, StepPaused, StepDone, StepError:
		return true
	}
	return false
}

// TaskLogRecord is a single append-only log entry on a task.
type TaskLogRecord struct {
	ReportedAt time.Time      `json:"reported_at" format:"date-time"`
	Message    string         `json:"message"`
	TaskStatus StepStatus     `json:"task_status" enum:"draft,init,processing,paused,done,error"`
	Duration   int64          `json:"duration"`
	Data       map[string]any `json:"data,omitempty"`
}

// Equal compares the scalar fields; Data is intentionally excluded so records
// can be deduplicated the same way they hash.
func (r TaskLogRecord) Equal(other TaskLogRecord) bool {
	return r.ReportedAt.Equal(other.ReportedAt) &&
		r.Message == other.Message &&
		r.TaskStatus == other.TaskStatus &&
		r.Duration == other.Duration
}

// TaskReference points at another task-bearing entity polymorphically. Tasks of
// different types live in different tables, so the type name is required to
// resolve the lookup.
type TaskReference struct {
	TaskID   string `json:"task_id" format:"uuid"`
	TaskType string `json:"task_type"`
}

func (r TaskReference) String() string {
	return r.TaskType + "/" + r.TaskID
}

// RunMode controls how the direct children of a reference list are executed.
type RunMode string

const (
	RunSerial   RunMode = "serial"
	RunParallel RunMode = "parallel"
)

// TaskReferenceList is a tree node composing sub-tasks. Children are either
// leaf references or nested lists, each evaluated recursively, so mixed
// fan-out/fan-in workflows ("A and B in parallel, then C") are expressible.
type TaskReferenceList struct {
	Tasks []TaskNode `json:"tasks"`
	Mode  RunMode    `json:"mode" enum:"serial,parallel"`
}

// TaskNode is one child of a reference list: exactly one of Ref or List is set.
type TaskNode struct {
	Ref  *TaskReference
	List *TaskReferenceList
}

func (n TaskNode) MarshalJSON() ([]byte, error) {
	switch {
	case n.Ref != nil:
		return json.Marshal(n.Ref)
	case n.List != nil:
		return json.Marshal(n.List)
	}
	return nil, fmt.Errorf("task node has neither reference nor list")
}

func (n *TaskNode) UnmarshalJSON(data []byte) error {
	var probe struct {
		Tasks json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Tasks != nil {
		var list TaskReferenceList
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		n.List = &list
		n.Ref = nil
		return nil
	}
	var ref TaskReference
	if err := json.Unmarshal(data, &ref); err != nil {
		return err
	}
	if ref.TaskID == "" || ref.TaskType == "" {
		return fmt.Errorf("task reference requires task_id and task_type")
	}
	n.Ref = &ref
	n.List = nil
	return nil
}

// Equal reports recursive structural equality.
func (l *TaskReferenceList) Equal(other *TaskReferenceList) bool {
	if l == nil || other == nil {
		return l == other
	}
	if l.Mode != other.Mode || len(l.Tasks) != len(other.Tasks) {
		return false
	}
	for i, n := range l.Tasks {
		o := other.Tasks[i]
		switch {
		case n.Ref != nil:
			if o.Ref == nil || *n.Ref != *o.Ref {
				return false
			}
		case n.List != nil:
			if !n.List.Equal(o.List) {
				return false
			}
		default:
			return o.Ref == nil && o.List == nil
		}
	}
	return true
}

// TaskState is the task capability attached to an entity. Embed it alongside
// Entity in a concrete type; the json tags keep the wire shape flat.
type TaskState struct {
	Status     StepStatus         `json:"task_status" enum:"draft,init,processing,paused,done,error"`
	Report     string             `json:"task_report,omitempty"`
	Progress   int                `json:"task_progress"`
	Logs       []TaskLogRecord    `json:"task_logs"`
	References *TaskReferenceList `json:"task_references,omitempty"`
}

// NewTaskState returns the draft state with unknown progress.
func NewTaskState() TaskState {
	return TaskState{Status: StepDraft, Progress: -1}
}
