package orcmodel

import "testing"

func TestTask_HasApproval(t *testing.T) {
	task := &Task{Approvals: []string{"alice", "bob"}}

	if !task.HasApproval("alice") {
		t.Error("HasApproval(alice) = false, want true")
	}
	if task.HasApproval("carol") {
		t.Error("HasApproval(carol) = true, want false")
	}
}

func TestTask_HasApproval_Empty(t *testing.T) {
	task := &Task{}
	if task.HasApproval("alice") {
		t.Error("HasApproval on task with no approvals should be false")
	}
}

func TestTask_DependenciesSatisfied(t *testing.T) {
	tests := []struct {
		name      string
		dependsOn []string
		statusOf  map[string]TaskStatus
		want      bool
	}{
		{
			name:      "no dependencies",
			dependsOn: nil,
			statusOf:  map[string]TaskStatus{},
			want:      true,
		},
		{
			name:      "all done",
			dependsOn: []string{"a", "b"},
			statusOf:  map[string]TaskStatus{"a": StatusDone, "b": StatusDone},
			want:      true,
		},
		{
			name:      "mixed done and approved",
			dependsOn: []string{"a", "b"},
			statusOf:  map[string]TaskStatus{"a": StatusDone, "b": StatusApproved},
			want:      true,
		},
		{
			name:      "one still in progress",
			dependsOn: []string{"a", "b"},
			statusOf:  map[string]TaskStatus{"a": StatusDone, "b": StatusInProgress},
			want:      false,
		},
		{
			name:      "dependency unknown",
			dependsOn: []string{"a", "missing"},
			statusOf:  map[string]TaskStatus{"a": StatusDone},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{DependsOn: tt.dependsOn}
			if got := task.DependenciesSatisfied(tt.statusOf); got != tt.want {
				t.Errorf("DependenciesSatisfied() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoleExistsIn(t *testing.T) {
	tasks := []*Task{
		{RunID: "run-1", Kind: KindAnalysis, Role: RoleAnalystA},
		{RunID: "run-1", Kind: KindAnalysis, Role: RoleAnalystB},
		{RunID: "run-2", Kind: KindImpl, Role: RoleImplementer},
	}

	if !RoleExistsIn(tasks, "run-1", KindAnalysis, RoleAnalystA) {
		t.Error("expected RoleAnalystA analysis task to exist in run-1")
	}
	if RoleExistsIn(tasks, "run-1", KindImpl, RoleImplementer) {
		t.Error("did not expect implementer task in run-1")
	}
	if RoleExistsIn(tasks, "run-3", KindAnalysis, RoleAnalystA) {
		t.Error("did not expect any task in run-3")
	}
}

func TestRoleExistsIn_Empty(t *testing.T) {
	if RoleExistsIn(nil, "run-1", KindAnalysis, RoleAnalystA) {
		t.Error("RoleExistsIn on nil slice should be false")
	}
}
