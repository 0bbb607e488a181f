// kgraph-tester runs the end-to-end acceptance scenarios against a
// configured backend and emits a JSON pass/fail report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kgfoundry/kgraph/internal/fusion"
	"github.com/kgfoundry/kgraph/internal/kgerr"
	"github.com/kgfoundry/kgraph/internal/metrics"
	"github.com/kgfoundry/kgraph/internal/model"
	"github.com/kgfoundry/kgraph/internal/store"
	"github.com/kgfoundry/kgraph/pkg/kgraph"
)

type StepResult struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

type Report struct {
	Backend    string       `json:"backend"`
	Tenant     string       `json:"tenant"`
	StartedAt  time.Time    `json:"started_at"`
	DurationMs int64        `json:"duration_ms"`
	Steps      []StepResult `json:"steps"`
	Passed     bool         `json:"passed"`
}

func main() {
	backend := flag.String("backend", "", "Backend to exercise (memory|libsql|postgres); empty uses KGRAPH_BACKEND")
	tenantID := flag.String("tenant", "kgraph-tester", "Tenant to run scenarios under")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	metrics.InitFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := kgraph.NewConfig()
	if *backend != "" {
		cfg.Backend = kgraph.Backend(*backend)
	}

	start := time.Now()
	report := Report{Backend: string(cfg.Backend), Tenant: *tenantID, StartedAt: start}

	svc, err := kgraph.NewService(ctx, cfg)
	if err != nil {
		report.Steps = append(report.Steps, StepResult{Name: "initialize", Error: err.Error()})
		finish(report, start)
	}
	defer svc.Close()
	report.Steps = append(report.Steps, StepResult{Name: "initialize", Success: true, ElapsedMs: elapsedMsSince(start)})

	scoped, err := svc.WithTenant(ctx, *tenantID)
	if err != nil {
		report.Steps = append(report.Steps, StepResult{Name: "scope_tenant", Error: err.Error()})
		finish(report, start)
	}
	report.Steps = append(report.Steps, StepResult{Name: "scope_tenant", Success: true})

	report.Steps = append(report.Steps,
		runStep("seed_org_graph", func() error { return seedOrgGraph(ctx, scoped) }),
		runStep("neighbors", func() error { return checkNeighbors(ctx, scoped) }),
		runStep("bounded_traverse", func() error { return checkTraverse(ctx, scoped) }),
		runStep("relation_integrity", func() error { return checkRelationIntegrity(ctx, scoped) }),
		runStep("tenant_isolation", func() error { return checkTenantIsolation(ctx, svc, *tenantID) }),
		runStep("find_paths", func() error { return checkFindPaths(ctx, scoped) }),
		runStep("fusion", func() error { return checkFusion(ctx, scoped) }),
		runStep("delete_cascade", func() error { return checkDeleteCascade(ctx, scoped) }),
	)

	finish(report, start)
}

func finish(report Report, start time.Time) {
	report.DurationMs = elapsedMsSince(start)
	report.Passed = true
	for _, s := range report.Steps {
		if !s.Success {
			report.Passed = false
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if !report.Passed {
		os.Exit(1)
	}
	os.Exit(0)
}

func elapsedMsSince(t time.Time) int64 { return time.Since(t).Milliseconds() }

func runStep(name string, fn func() error) StepResult {
	t := time.Now()
	res := StepResult{Name: name}
	if err := fn(); err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.ElapsedMs = elapsedMsSince(t)
	return res
}

func person(id string) model.Entity {
	props := model.NewProperties()
	props.Set("name", model.String(id))
	return model.Entity{ID: id, EntityType: "Person", Properties: props}
}

func seedOrgGraph(ctx context.Context, svc *kgraph.Service) error {
	entities := []model.Entity{person("alice"), person("bob")}
	techCorp := model.Entity{ID: "tech_corp", EntityType: "Company", Properties: model.NewProperties()}
	entities = append(entities, techCorp)
	for _, ent := range entities {
		if err := svc.AddEntity(ctx, nil, ent); err != nil && !kgerr.IsDuplicateID(err) {
			return err
		}
	}
	relations := []model.Relation{
		{ID: "works1", RelationType: "WORKS_FOR", SourceID: "alice", TargetID: "tech_corp"},
		{ID: "works2", RelationType: "WORKS_FOR", SourceID: "bob", TargetID: "tech_corp"},
		{ID: "knows1", RelationType: "KNOWS", SourceID: "alice", TargetID: "bob"},
	}
	for _, rel := range relations {
		if _, err := svc.AddRelation(ctx, nil, rel, false); err != nil && !kgerr.IsDuplicateID(err) {
			return err
		}
	}
	return nil
}

func checkNeighbors(ctx context.Context, svc *kgraph.Service) error {
	neighbors, err := svc.GetNeighbors(ctx, nil, "alice", model.DirectionOutgoing, nil)
	if err != nil {
		return err
	}
	found := map[string]bool{}
	for _, n := range neighbors {
		found[n.ID] = true
	}
	if len(neighbors) != 2 || !found["bob"] || !found["tech_corp"] {
		return fmt.Errorf("expected neighbors {bob, tech_corp}, got %v", found)
	}
	return nil
}

func checkTraverse(ctx context.Context, svc *kgraph.Service) error {
	paths, _, err := svc.Traverse(ctx, nil, store.TraverseSpec{StartID: "alice", MaxDepth: 2})
	if err != nil {
		return err
	}
	if len(paths) < 3 {
		return fmt.Errorf("expected at least 3 paths, got %d", len(paths))
	}
	for _, p := range paths {
		if p.Hops() > 2 {
			return fmt.Errorf("path exceeds depth bound: %d hops", p.Hops())
		}
	}
	return nil
}

func checkRelationIntegrity(ctx context.Context, svc *kgraph.Service) error {
	_, err := svc.AddRelation(ctx, nil, model.Relation{
		RelationType: "KNOWS", SourceID: "alice", TargetID: "nobody",
	}, false)
	if !kgerr.IsNotFound(err) {
		return fmt.Errorf("expected NotFound for dangling relation, got %v", err)
	}
	return nil
}

func checkTenantIsolation(ctx context.Context, svc *kgraph.Service, tenantID string) error {
	other, err := svc.WithTenant(ctx, tenantID+"-other")
	if err != nil {
		return err
	}
	if _, err := other.GetEntity(ctx, nil, "alice"); !kgerr.IsNotFound(err) {
		return fmt.Errorf("expected alice invisible to other tenant, got %v", err)
	}
	return nil
}

func checkFindPaths(ctx context.Context, svc *kgraph.Service) error {
	result, err := svc.FindPaths(ctx, nil, "alice", "tech_corp", 3)
	if err != nil {
		return err
	}
	if len(result.Paths) == 0 {
		return fmt.Errorf("expected at least one path alice -> tech_corp")
	}
	for i := 1; i < len(result.Paths); i++ {
		if result.Paths[i].Score > result.Paths[i-1].Score {
			return fmt.Errorf("paths not sorted by score")
		}
	}
	return nil
}

func checkFusion(ctx context.Context, svc *kgraph.Service) error {
	dupA := person("fuse-a")
	dupA.Properties.Set("name", model.String("Fuse Target"))
	dupA.Embedding = []float32{1, 0, 0, 0}
	dupB := person("fuse-b")
	dupB.Properties.Set("name", model.String("fuse target"))
	dupB.Embedding = []float32{1, 0, 0, 0}
	for _, ent := range []model.Entity{dupA, dupB} {
		if err := svc.AddEntity(ctx, nil, ent); err != nil && !kgerr.IsDuplicateID(err) {
			return err
		}
	}
	stats, err := svc.Fuse(ctx, nil, "Person", fusion.Options{SimilarityThreshold: 0.85})
	if err != nil {
		return err
	}
	if stats.EntitiesMerged < 1 {
		return fmt.Errorf("expected a merge, stats: %+v", stats)
	}
	again, err := svc.Fuse(ctx, nil, "Person", fusion.Options{SimilarityThreshold: 0.85})
	if err != nil {
		return err
	}
	if again.EntitiesMerged != 0 {
		return fmt.Errorf("fusion not idempotent, second pass merged %d", again.EntitiesMerged)
	}
	return nil
}

func checkDeleteCascade(ctx context.Context, svc *kgraph.Service) error {
	report, err := svc.DeleteEntity(ctx, nil, "alice")
	if err != nil {
		return err
	}
	if report.RelationsDeleted < 2 {
		return fmt.Errorf("expected cascade to remove alice's relations, got %d", report.RelationsDeleted)
	}
	return nil
}
