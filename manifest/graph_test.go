package manifest

import (
	"errors"
	"testing"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// graphFixture builds groups and manifests from a compact description:
// edges maps child external ID to parent external ID, groupOf maps
// external ID to group name.
func graphFixture(groupOf map[string]string, edges map[string]string) ([]*Manifest, []*Group) {
	groupIDs := make(map[string]id.GroupID)
	var groups []*Group
	for _, gname := range groupOf {
		if _, ok := groupIDs[gname]; ok {
			continue
		}
		g := &Group{ID: id.NewGroupID(), Name: gname, Enabled: true}
		groupIDs[gname] = g.ID
		groups = append(groups, g)
	}

	manifestIDs := make(map[string]id.ManifestID)
	var manifests []*Manifest
	for ext, gname := range groupOf {
		m := &Manifest{
			ID:         id.NewManifestID(),
			ExternalID: ext,
			Schedule:   ScheduleInterval,
			GroupID:    groupIDs[gname],
			Enabled:    true,
		}
		manifestIDs[ext] = m.ID
		manifests = append(manifests, m)
	}
	for child, parent := range edges {
		for _, m := range manifests {
			if m.ExternalID == child {
				m.Schedule = ScheduleDependent
				m.DependsOn = manifestIDs[parent]
			}
		}
	}
	return manifests, groups
}

func TestValidateGroupDAG_Acyclic(t *testing.T) {
	t.Parallel()

	manifests, groups := graphFixture(
		map[string]string{"extract": "ingest", "transform": "process", "load": "publish"},
		map[string]string{"transform": "extract", "load": "transform"},
	)

	if err := ValidateGroupDAG(manifests, groups); err != nil {
		t.Fatalf("expected valid DAG, got %v", err)
	}
}

func TestValidateGroupDAG_Cycle(t *testing.T) {
	t.Parallel()

	// a → b → c → a across three groups.
	manifests, groups := graphFixture(
		map[string]string{"a": "g1", "b": "g2", "c": "g3"},
		map[string]string{"b": "a", "c": "b", "a": "c"},
	)

	err := ValidateGroupDAG(manifests, groups)
	if !errors.Is(err, manifold.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestValidateGroupDAG_WithinGroupEdgesIgnored(t *testing.T) {
	t.Parallel()

	// Mutual dependence inside one group would be a cycle if counted;
	// within-group edges are the runtime evaluator's problem.
	manifests, groups := graphFixture(
		map[string]string{"a": "shared", "b": "shared"},
		map[string]string{"b": "a", "a": "b"},
	)

	if err := ValidateGroupDAG(manifests, groups); err != nil {
		t.Fatalf("within-group edges must not trip validation, got %v", err)
	}
}

func TestValidateGroupDAG_DanglingParentIgnored(t *testing.T) {
	t.Parallel()

	manifests, groups := graphFixture(map[string]string{"orphaned": "g1"}, nil)
	manifests[0].Schedule = ScheduleDependent
	manifests[0].DependsOn = id.NewManifestID() // parent not in the set

	if err := ValidateGroupDAG(manifests, groups); err != nil {
		t.Fatalf("dangling parent must not trip validation, got %v", err)
	}
}

func TestDefinitionBuild(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	type payload struct {
		Region string `json:"region"`
	}

	def := &Definition[payload]{
		ExternalID:     "sync-eu",
		WorkflowName:   "sync",
		Schedule:       ScheduleCron,
		CronExpression: "0 * * * *",
		Input:          payload{Region: "eu-west-1"},
	}

	m, err := def.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ExternalID != "sync-eu" || m.WorkflowName != "sync" {
		t.Errorf("unexpected identity: %q / %q", m.ExternalID, m.WorkflowName)
	}
	if !m.Enabled {
		t.Error("built manifest should default to enabled")
	}
	if string(m.Input) != `{"region":"eu-west-1"}` {
		t.Errorf("Input = %s", m.Input)
	}
}

func TestDefinitionBuild_Rejects(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	bad := &Definition[struct{}]{
		ExternalID:     "bad-cron",
		WorkflowName:   "noop",
		Schedule:       ScheduleCron,
		CronExpression: "61 * * * *",
	}
	if _, err := bad.Build(ctx); err == nil {
		t.Error("expected invalid cron expression to be rejected")
	}

	outOfRange := &Definition[struct{}]{
		ExternalID:    "hot",
		WorkflowName:  "noop",
		Schedule:      ScheduleNone,
		GroupPriority: MaxGroupPriority + 1,
	}
	if _, err := outOfRange.Build(ctx); err == nil {
		t.Error("expected out-of-range group priority to be rejected")
	}
}

func TestDefinitionGroupName(t *testing.T) {
	t.Parallel()

	d := &Definition[struct{}]{ExternalID: "nightly-report"}
	if got := d.GroupName(); got != "nightly-report" {
		t.Errorf("GroupName() = %q, want external ID fallback", got)
	}
	d.Group = "reporting"
	if got := d.GroupName(); got != "reporting" {
		t.Errorf("GroupName() = %q, want %q", got, "reporting")
	}
}
