package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/liamavtal/vibe-agents/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestCreateAndGetProject(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	created, err := repo.CreateProject(ctx, "recipe-finder", "/projects/recipe-finder", "a recipe finder app", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if created.ID == 0 {
		t.Error("expected non-zero project ID")
	}
	if created.Status != domain.ProjectActive {
		t.Errorf("expected status active, got %s", created.Status)
	}

	got, err := repo.GetProject(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "recipe-finder" {
		t.Errorf("expected name recipe-finder, got %s", got.Name)
	}
	if got.Directory != "/projects/recipe-finder" {
		t.Errorf("unexpected directory %s", got.Directory)
	}
}

func TestGetProjectNotFound(t *testing.T) {
	repo := newTestStore(t)

	_, err := repo.GetProject(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetProjectByNameMostRecent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first, err := repo.CreateProject(ctx, "myapp", "/projects/myapp", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	second, err := repo.CreateProject(ctx, "myapp", "/projects/myapp-2", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	// Touch the later record so updated_at ordering is unambiguous even
	// with second-resolution timestamps.
	if err := repo.TouchProject(ctx, second.ID, 3); err != nil {
		t.Fatalf("TouchProject failed: %v", err)
	}

	got, err := repo.GetProjectByName(ctx, "myapp")
	if err != nil {
		t.Fatalf("GetProjectByName failed: %v", err)
	}
	if got.ID == first.ID && got.ID != second.ID {
		t.Errorf("expected most recently updated project %d, got %d", second.ID, got.ID)
	}
}

func TestSoftDeleteHidesProject(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreateProject(ctx, "doomed", "/projects/doomed", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := repo.UpdateProjectStatus(ctx, p.ID, domain.ProjectDeleted); err != nil {
		t.Fatalf("UpdateProjectStatus failed: %v", err)
	}

	if _, err := repo.GetProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted project to be absent, got %v", err)
	}

	active, err := repo.ListProjects(ctx, domain.ProjectActive, 10)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	for _, ap := range active {
		if ap.ID == p.ID {
			t.Error("deleted project still listed as active")
		}
	}
}

func TestListProjectsFiltersByStatus(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	a, _ := repo.CreateProject(ctx, "alpha", "/projects/alpha", "", "")
	b, _ := repo.CreateProject(ctx, "beta", "/projects/beta", "", "")
	if err := repo.UpdateProjectStatus(ctx, b.ID, domain.ProjectArchived); err != nil {
		t.Fatalf("UpdateProjectStatus failed: %v", err)
	}

	active, err := repo.ListProjects(ctx, domain.ProjectActive, 10)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("expected only project %d active, got %d projects", a.ID, len(active))
	}

	archived, err := repo.ListProjects(ctx, domain.ProjectArchived, 10)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(archived) != 1 || archived[0].ID != b.ID {
		t.Errorf("expected only project %d archived, got %d projects", b.ID, len(archived))
	}
}

func TestUpdateProjectPlanRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreateProject(ctx, "planned", "/projects/planned", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	plan := &domain.Plan{
		ProjectName: "planned",
		TechStack:   domain.TechStack{Language: "python"},
		Files:       []string{"main.py"},
		Tasks:       []domain.Task{{Title: "write main", File: "main.py"}},
	}
	if err := repo.UpdateProjectPlan(ctx, p.ID, plan.JSON()); err != nil {
		t.Fatalf("UpdateProjectPlan failed: %v", err)
	}

	got, err := repo.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	restored := got.Plan()
	if restored == nil {
		t.Fatal("expected stored plan, got nil")
	}
	if restored.ProjectName != "planned" || len(restored.Tasks) != 1 {
		t.Errorf("plan did not round-trip: %+v", restored)
	}
}

func TestUpdateMissingProject(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.UpdateProjectPlan(ctx, 404, "{}"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating plan, got %v", err)
	}
	if err := repo.TouchProject(ctx, 404, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound touching project, got %v", err)
	}
}

func TestTokenSaveAndRestore(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreateProject(ctx, "tokens", "/projects/tokens", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := repo.SaveToken(ctx, p.ID, "planner", "tok-1"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	if err := repo.SaveToken(ctx, p.ID, "implementer", "tok-2"); err != nil {
		t.Fatalf("SaveToken failed: %v", err)
	}
	// Replacing a token must upsert, not duplicate.
	if err := repo.SaveToken(ctx, p.ID, "planner", "tok-3"); err != nil {
		t.Fatalf("SaveToken upsert failed: %v", err)
	}

	tok, err := repo.GetToken(ctx, p.ID, "planner")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if tok != "tok-3" {
		t.Errorf("expected tok-3, got %s", tok)
	}

	all, err := repo.GetAllTokens(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetAllTokens failed: %v", err)
	}
	if len(all) != 2 || all["planner"] != "tok-3" || all["implementer"] != "tok-2" {
		t.Errorf("unexpected token map: %v", all)
	}
}

func TestGetTokenAbsentReturnsEmpty(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreateProject(ctx, "empty", "/projects/empty", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	tok, err := repo.GetToken(ctx, p.ID, "reviewer")
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	if tok != "" {
		t.Errorf("expected empty token, got %q", tok)
	}
}

func TestMemoryUpsertAndReadAll(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	p, err := repo.CreateProject(ctx, "memo", "/projects/memo", "", "")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	if err := repo.SetMemory(ctx, p.ID, "db", "sqlite"); err != nil {
		t.Fatalf("SetMemory failed: %v", err)
	}
	if err := repo.SetMemory(ctx, p.ID, "db", "postgres"); err != nil {
		t.Fatalf("SetMemory upsert failed: %v", err)
	}
	if err := repo.SetMemory(ctx, p.ID, "style", "dark"); err != nil {
		t.Fatalf("SetMemory failed: %v", err)
	}

	val, err := repo.GetMemory(ctx, p.ID, "db")
	if err != nil {
		t.Fatalf("GetMemory failed: %v", err)
	}
	if val != "postgres" {
		t.Errorf("expected postgres, got %s", val)
	}

	all, err := repo.GetAllMemory(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetAllMemory failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 memory entries, got %d", len(all))
	}
}
