//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"

	_ "github.com/lib/pq"
)

// setupTestDB starts a PostgreSQL container, applies the migrations and
// returns a connection.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "actions_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/actions_test?sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}

	m, err := migrate.New("file://../migrations", connStr)
	if err != nil {
		t.Fatalf("Failed to create migrator: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		container.Terminate(ctx)
	}
	return db, cleanup
}

func integrationRule(id, code string) *rules.Rule {
	return &rules.Rule{
		ID:               id,
		CompanyID:        "acme",
		Code:             code,
		Name:             "Integration rule " + code,
		ConditionType:    rules.ConditionScoreBelow,
		ConditionSection: rules.SectionOverall,
		TriggerValues:    rules.TriggerValues{Threshold: 60},
		ActionType:       rules.ActionCreatePIP,
		TargetModule:     "performance",
		Priority:         rules.PriorityHigh,
		Active:           true,
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresStore(db)
	ctx := context.Background()

	rule := integrationRule("00000000-0000-0000-0000-000000000001", "low-overall")
	if err := store.Upsert(ctx, rule); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	got, err := store.Get(ctx, "acme", rule.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Code != "low-overall" || got.TriggerValues.Threshold != 60 {
		t.Errorf("Get() = code %q threshold %v", got.Code, got.TriggerValues.Threshold)
	}

	rule.Name = "Renamed"
	if err := store.Upsert(ctx, rule); err != nil {
		t.Fatalf("Upsert() update failed: %v", err)
	}
	got, err = store.Get(ctx, "acme", rule.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got.Name)
	}
}

func TestPostgresStoreActiveCodeUniqueness(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresStore(db)
	ctx := context.Background()

	if err := store.Upsert(ctx, integrationRule("00000000-0000-0000-0000-000000000001", "shared")); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := store.Upsert(ctx, integrationRule("00000000-0000-0000-0000-000000000002", "shared")); err == nil {
		t.Error("Upsert() should reject a duplicate active code")
	}

	if err := store.Deactivate(ctx, "acme", "00000000-0000-0000-0000-000000000001"); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	if err := store.Upsert(ctx, integrationRule("00000000-0000-0000-0000-000000000003", "shared")); err != nil {
		t.Errorf("Upsert() should allow the code once the holder is inactive: %v", err)
	}
}

func TestPostgresStoreReactivationCodeCollision(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresStore(db)
	ctx := context.Background()

	original := integrationRule("00000000-0000-0000-0000-000000000001", "shared")
	if err := store.Upsert(ctx, original); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if err := store.Deactivate(ctx, "acme", original.ID); err != nil {
		t.Fatalf("Deactivate() failed: %v", err)
	}
	if err := store.Upsert(ctx, integrationRule("00000000-0000-0000-0000-000000000002", "shared")); err != nil {
		t.Fatalf("Upsert() should allow reusing the inactive rule's code: %v", err)
	}

	// The code now belongs to another rule, so re-activation must fail
	// as a validation error, not a raw constraint violation.
	original.Active = true
	err := store.Upsert(ctx, original)
	if err == nil {
		t.Fatal("Upsert() should reject re-activating a rule whose code was reused")
	}
	if !rules.IsValidation(err) {
		t.Errorf("error should be a validation error, got %T: %v", err, err)
	}
}

func TestPostgresStoreActiveRulesOrdering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := rules.NewPostgresStore(db)
	ctx := context.Background()

	low := integrationRule("00000000-0000-0000-0000-000000000001", "low")
	low.Priority = rules.PriorityLow
	high := integrationRule("00000000-0000-0000-0000-000000000002", "high")
	high.Priority = rules.PriorityCritical

	for _, r := range []*rules.Rule{low, high} {
		if err := store.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", r.Code, err)
		}
	}

	active, err := store.ActiveRules(ctx, "acme")
	if err != nil {
		t.Fatalf("ActiveRules() failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ActiveRules() returned %d rules, want 2", len(active))
	}
	if active[0].Code != "high" {
		t.Errorf("ActiveRules()[0] = %s, want high", active[0].Code)
	}
}
