package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStepStatusTerminal(t *testing.T) {
	for _, s := range []StepStatus{StepDraft, StepInit, StepProcessing, StepPaused} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
		if !s.Valid() {
			t.Fatalf("%s should be valid", s)
		}
	}
	for _, s := range []StepStatus{StepDone, StepError} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if StepStatus("bogus").Valid() {
		t.Fatalf("bogus status should be invalid")
	}
}

func TestReferenceTreeRoundTrip(t *testing.T) {
	tree := &TaskReferenceList{
		Mode: RunSerial,
		Tasks: []TaskNode{
			{Ref: &TaskReference{TaskID: "a", TaskType: "Webpage"}},
			{List: &TaskReferenceList{
				Mode: RunParallel,
				Tasks: []TaskNode{
					{Ref: &TaskReference{TaskID: "b", TaskType: "AIRequest"}},
					{Ref: &TaskReference{TaskID: "c", TaskType: "AIRequest"}},
				},
			}},
			{Ref: &TaskReference{TaskID: "d", TaskType: "Project"}},
		},
	}
	data, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded TaskReferenceList
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !tree.Equal(&decoded) {
		t.Fatalf("round trip mismatch:\n%s", data)
	}
	if decoded.Tasks[1].List == nil || decoded.Tasks[1].List.Mode != RunParallel {
		t.Fatalf("nested parallel list lost: %+v", decoded.Tasks[1])
	}
	if decoded.Tasks[0].Ref == nil || decoded.Tasks[0].Ref.TaskID != "a" {
		t.Fatalf("leaf reference lost: %+v", decoded.Tasks[0])
	}
}

func TestTaskNodeRejectsIncompleteRef(t *testing.T) {
	var node TaskNode
	if err := json.Unmarshal([]byte(`{"task_id":"x"}`), &node); err == nil {
		t.Fatalf("expected error for reference without task_type")
	}
}

func TestTaskStateFlatWireShape(t *testing.T) {
	req := AIRequest{
		Entity: Entity{
			UID:       "u-1",
			CreatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			UpdatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		TaskState: TaskState{Status: StepProcessing, Progress: 40},
		UserID:    "user-1",
		Prompt:    "hello",
		Engine:    EngineGPT4o,
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if flat["task_status"] != "processing" {
		t.Fatalf("task_status not at top level: %s", data)
	}
	if flat["uid"] != "u-1" {
		t.Fatalf("uid not at top level: %s", data)
	}
	if flat["task_progress"] != float64(40) {
		t.Fatalf("task_progress not at top level: %s", data)
	}
}

func TestWebhookURLFallback(t *testing.T) {
	e := Entity{Metadata: map[string]any{"webhook_url": "http://fallback"}}
	if url, ok := e.WebhookURL(); !ok || url != "http://fallback" {
		t.Fatalf("webhook_url fallback: %q %v", url, ok)
	}
	e.Metadata["webhook"] = "http://primary"
	if url, _ := e.WebhookURL(); url != "http://primary" {
		t.Fatalf("webhook should win over webhook_url, got %q", url)
	}
	if _, ok := (&Entity{}).WebhookURL(); ok {
		t.Fatalf("no metadata should mean no webhook")
	}
	e = Entity{Metadata: map[string]any{"webhook": ""}}
	if _, ok := e.WebhookURL(); ok {
		t.Fatalf("empty webhook value should not count")
	}
}

func TestNewTaskState(t *testing.T) {
	state := NewTaskState()
	if state.Status != StepDraft || state.Progress != -1 {
		t.Fatalf("unexpected initial state: %+v", state)
	}
}
