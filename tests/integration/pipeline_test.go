package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reckon/engine/internal/application/ingest"
	"github.com/reckon/engine/internal/application/invoicing"
	"github.com/reckon/engine/internal/application/pipeline"
	"github.com/reckon/engine/internal/application/reconciliation"
	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
	"github.com/reckon/engine/internal/infrastructure/billing"
	"github.com/reckon/engine/internal/infrastructure/config"
	"github.com/reckon/engine/internal/infrastructure/persistence"
	"github.com/reckon/engine/internal/infrastructure/snapshot"
)

const testAPIToken = "test-token"

// TestMain runs before any tests and handles cleanup
func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

// billingStub is an in-memory stand-in for the billing system's REST API.
// It serves the catalog endpoints and records every invoice commit.
type billingStub struct {
	mu        sync.Mutex
	customers []stubCustomer
	items     []stubItem
	commits   []commitRequest
}

type stubCustomer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type stubItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice string `json:"unit_price"`
}

type commitLine struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type commitRequest struct {
	CustomerID string       `json:"customer_id"`
	Period     string       `json:"period"`
	LineItems  []commitLine `json:"line_items"`
}

func (b *billingStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testAPIToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/customers":
		_ = json.NewEncoder(w).Encode(map[string]any{"customers": b.customers})

	case r.Method == http.MethodGet && r.URL.Path == "/v1/items":
		_ = json.NewEncoder(w).Encode(map[string]any{"items": b.items})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/invoices":
		var req commitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.commits = append(b.commits, req)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("ext_inv_%d", len(b.commits))})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (b *billingStub) setCatalog(customers []stubCustomer, items []stubItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.customers = customers
	b.items = items
}

func (b *billingStub) commitLog() []commitRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]commitRequest, len(b.commits))
	copy(out, b.commits)
	return out
}

// operatorScript resolves the listed subjects the way an operator at the
// prompt would and skips everything else
type operatorScript struct {
	customers map[string]string // entity ID -> customer ID to choose
	items     map[string]string // tier ID -> catalog item ID to choose
}

func (s operatorScript) ResolveEntity(_ context.Context, finding reconcile.EntityFinding, candidates []reconcile.Customer) (reconcile.EntityDecision, error) {
	want, ok := s.customers[finding.EntityID]
	if !ok {
		return reconcile.EntityDecision{Skip: true}, nil
	}
	for _, c := range candidates {
		if c.ID == want {
			return reconcile.EntityDecision{Customer: c}, nil
		}
	}
	return reconcile.EntityDecision{Skip: true}, nil
}

func (s operatorScript) ResolveTier(_ context.Context, finding reconcile.TierFinding, candidates []reconcile.CatalogItem) (reconcile.TierDecision, error) {
	want, ok := s.items[finding.TierID]
	if !ok {
		return reconcile.TierDecision{Skip: true}, nil
	}
	for _, item := range candidates {
		if item.ID == want {
			return reconcile.TierDecision{Item: item}, nil
		}
	}
	return reconcile.TierDecision{Skip: true}, nil
}

// pipelineEnv wires the full run service over a real postgres container,
// a real snapshot directory, and the billing stub
type pipelineEnv struct {
	runner   *pipeline.RunService
	api      *billingStub
	dir      string
	entities *persistence.EntityMappingRepository
	tiers    *persistence.TierMappingRepository
	invoices *persistence.InvoiceRepository
}

func newPipelineEnv(t *testing.T) *pipelineEnv {
	t.Helper()

	testDB := NewTestDB(t)
	api := &billingStub{}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	log := zaptest.NewLogger(t)

	client, err := billing.NewClient(&config.BillingConfig{
		BaseURL:             server.URL,
		APIToken:            testAPIToken,
		RequestTimeout:      10 * time.Second,
		MinRequestInterval:  time.Millisecond,
		MaxRetries:          2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     10 * time.Millisecond,
	}, log)
	require.NoError(t, err)

	dir := t.TempDir()
	source, err := snapshot.NewLocalSource(dir, log)
	require.NoError(t, err)

	exclusions, err := usage.NewExclusionFilter(nil, nil)
	require.NoError(t, err)

	records := persistence.NewUsageRecordRepository(testDB.DB)
	highWater := persistence.NewMonthlyHighWaterRepository(testDB.DB)
	entities := persistence.NewEntityMappingRepository(testDB.DB)
	tiers := persistence.NewTierMappingRepository(testDB.DB)
	changeLog := persistence.NewChangeLogRepository(testDB.DB)
	invoices := persistence.NewInvoiceRepository(testDB.DB)

	runner := pipeline.NewRunService(
		client,
		ingest.NewService(source, records, highWater, exclusions, log),
		reconciliation.NewService(entities, tiers, changeLog, highWater, exclusions, mapping.PricingPolicySnapshot, log),
		invoicing.NewService(highWater, entities, tiers, invoices, client, exclusions, log),
		log,
	)

	return &pipelineEnv{
		runner:   runner,
		api:      api,
		dir:      dir,
		entities: entities,
		tiers:    tiers,
		invoices: invoices,
	}
}

func (e *pipelineEnv) writeSnapshot(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, name), []byte(content), 0o644))
}

func (e *pipelineEnv) seedEntityMapping(t *testing.T, entityID, customerID, customerName string) {
	t.Helper()
	m, err := mapping.NewEntityMapping(entityID)
	require.NoError(t, err)
	require.NoError(t, m.Resolve(customerID, customerName))
	require.NoError(t, e.entities.Upsert(context.Background(), m))
}

func (e *pipelineEnv) seedTierMapping(t *testing.T, tierID, itemID, itemName, price string) {
	t.Helper()
	m, err := mapping.NewTierMapping(tierID)
	require.NoError(t, err)
	unitPrice, err := valueobject.NewMoneyUSDFromString(price)
	require.NoError(t, err)
	require.NoError(t, m.Resolve(itemID, itemName, unitPrice, mapping.PricingPolicySnapshot))
	require.NoError(t, e.tiers.Upsert(context.Background(), m))
}

func testPeriod(t *testing.T) valueobject.BillingPeriod {
	t.Helper()
	period, err := valueobject.NewBillingPeriod(2025, 11)
	require.NoError(t, err)
	return period
}

// TestPipelineCommitsPeakInvoice_Integration runs the full pipeline against
// real postgres: two snapshots for one mapped (entity, tier) pair must
// produce one committed invoice line billing the higher count.
func TestPipelineCommitsPeakInvoice_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newPipelineEnv(t)
	ctx := context.Background()
	period := testPeriod(t)

	env.api.setCatalog(
		[]stubCustomer{{ID: "cus_c1", Name: "C1 Industries"}},
		[]stubItem{{ID: "item_plan_a", Name: "Plan A", UnitPrice: "12.50"}},
	)
	env.seedEntityMapping(t, "acme.com", "cus_c1", "C1 Industries")
	env.seedTierMapping(t, "plan-a", "item_plan_a", "Plan A", "12.50")

	env.writeSnapshot(t, "usage_2025-11-05.txt", "Usage for acme.com:\n- plan-a: 4\n")
	env.writeSnapshot(t, "usage_2025-11-12.txt", "Usage for acme.com:\n- plan-a: 9\n")

	summary, err := env.runner.Execute(ctx, pipeline.RunOptions{Period: period})
	require.NoError(t, err)

	require.NotNil(t, summary.Ingest)
	assert.Equal(t, 2, summary.Ingest.SnapshotsParsed)
	assert.Equal(t, 2, summary.Ingest.RecordsIngested)
	assert.Equal(t, 1, summary.Ingest.HighWaterRows)

	require.NotNil(t, summary.Invoices)
	assert.Equal(t, 1, summary.Invoices.Attempted)
	assert.Equal(t, 1, summary.Invoices.Committed)
	assert.Zero(t, summary.Invoices.Failed)
	assert.False(t, summary.HasIssues())

	commits := env.api.commitLog()
	require.Len(t, commits, 1)
	assert.Equal(t, "cus_c1", commits[0].CustomerID)
	assert.Equal(t, "2025-11", commits[0].Period)
	require.Len(t, commits[0].LineItems, 1)
	assert.Equal(t, int64(9), commits[0].LineItems[0].Quantity)
	assert.Equal(t, "12.5", commits[0].LineItems[0].UnitPrice)

	stored, err := env.invoices.FindByPeriod(ctx, period)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].IsCommitted())
	assert.Equal(t, "ext_inv_1", stored[0].ExternalInvoiceID)
	assert.True(t, stored[0].TotalAmount.Amount().Equal(decimal.RequireFromString("112.50")),
		"expected 112.50, got %s", stored[0].TotalAmount.Amount())
}

// TestPipelineRerunIsIdempotent_Integration reruns an unchanged period end
// to end: re-ingestion must not duplicate usage rows and the second run
// must not commit a second invoice.
func TestPipelineRerunIsIdempotent_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newPipelineEnv(t)
	ctx := context.Background()
	period := testPeriod(t)

	env.api.setCatalog(
		[]stubCustomer{{ID: "cus_c1", Name: "C1 Industries"}},
		[]stubItem{{ID: "item_plan_a", Name: "Plan A", UnitPrice: "12.50"}},
	)
	env.seedEntityMapping(t, "acme.com", "cus_c1", "C1 Industries")
	env.seedTierMapping(t, "plan-a", "item_plan_a", "Plan A", "12.50")
	env.writeSnapshot(t, "usage_2025-11-05.txt", "Usage for acme.com:\n- plan-a: 4\n")
	env.writeSnapshot(t, "usage_2025-11-12.txt", "Usage for acme.com:\n- plan-a: 9\n")

	first, err := env.runner.Execute(ctx, pipeline.RunOptions{Period: period})
	require.NoError(t, err)
	require.NotNil(t, first.Invoices)
	require.Equal(t, 1, first.Invoices.Committed)

	second, err := env.runner.Execute(ctx, pipeline.RunOptions{Period: period})
	require.NoError(t, err)

	require.NotNil(t, second.Ingest)
	assert.Equal(t, 1, second.Ingest.HighWaterRows, "re-aggregation must stay at one peak row")

	require.NotNil(t, second.Invoices)
	assert.Zero(t, second.Invoices.Committed)
	assert.Equal(t, 1, second.Invoices.SkippedDuplicates)
	assert.False(t, second.HasIssues())

	assert.Len(t, env.api.commitLog(), 1, "billing system must see exactly one commit")

	stored, err := env.invoices.FindByPeriod(ctx, period)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

// TestPipelineHoldsUnmappedEntity_Integration observes usage for an entity
// with no mapping. Non-interactive, its rows stay unbilled and reported;
// after an operator decision a plain rerun bills them.
func TestPipelineHoldsUnmappedEntity_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newPipelineEnv(t)
	ctx := context.Background()
	period := testPeriod(t)

	env.api.setCatalog(
		[]stubCustomer{{ID: "cus_new", Name: "New Customer Inc"}},
		[]stubItem{{ID: "item_plan_a", Name: "Plan A", UnitPrice: "12.50"}},
	)
	env.seedTierMapping(t, "plan-a", "item_plan_a", "Plan A", "12.50")
	env.writeSnapshot(t, "usage_2025-11-08.txt", "Usage for new-customer.com:\n- plan-a: 6\n")

	first, err := env.runner.Execute(ctx, pipeline.RunOptions{Period: period})
	require.NoError(t, err)

	require.NotNil(t, first.Changes)
	assert.Equal(t, 1, first.Changes.NewEntities)
	require.NotNil(t, first.Resolution)
	assert.Contains(t, first.Resolution.UnresolvedEntities, "new-customer.com")
	require.NotNil(t, first.Invoices)
	assert.Zero(t, first.Invoices.Committed)
	assert.Equal(t, 1, first.SkippedInvoiceRows)
	assert.True(t, first.HasIssues())
	assert.Empty(t, env.api.commitLog())

	// Operator resolves the entity; the rerun re-reads the same snapshots
	// and must bill without any special flags
	second, err := env.runner.Execute(ctx, pipeline.RunOptions{
		Period:    period,
		Strategy:  operatorScript{customers: map[string]string{"new-customer.com": "cus_new"}},
		DecidedBy: mapping.DecidedByOperator,
	})
	require.NoError(t, err)

	require.NotNil(t, second.Resolution)
	assert.Equal(t, 1, second.Resolution.ResolvedEntities)
	require.NotNil(t, second.Invoices)
	assert.Equal(t, 1, second.Invoices.Committed)
	assert.Zero(t, second.SkippedInvoiceRows)
	assert.False(t, second.HasIssues())

	commits := env.api.commitLog()
	require.Len(t, commits, 1)
	assert.Equal(t, "cus_new", commits[0].CustomerID)
	require.Len(t, commits[0].LineItems, 1)
	assert.Equal(t, int64(6), commits[0].LineItems[0].Quantity)
}

// TestPipelineStaleTierMapping_Integration bills nothing for a tier whose
// catalog item was deleted externally until the tier is remapped.
func TestPipelineStaleTierMapping_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newPipelineEnv(t)
	ctx := context.Background()
	period := testPeriod(t)

	// item_x is gone from the catalog; the stored mapping still points at it
	env.api.setCatalog(
		[]stubCustomer{{ID: "cus_c1", Name: "C1 Industries"}},
		[]stubItem{{ID: "item_plan_b", Name: "Plan B", UnitPrice: "9.99"}},
	)
	env.seedEntityMapping(t, "acme.com", "cus_c1", "C1 Industries")
	env.seedTierMapping(t, "old-plan", "item_x", "Legacy Plan", "20.00")
	env.writeSnapshot(t, "usage_2025-11-10.txt", "Usage for acme.com:\n- old-plan: 3\n")

	first, err := env.runner.Execute(ctx, pipeline.RunOptions{Period: period})
	require.NoError(t, err)

	require.NotNil(t, first.Changes)
	assert.Equal(t, 1, first.Changes.InvalidTiers)
	require.NotNil(t, first.Invoices)
	assert.Zero(t, first.Invoices.Committed)
	assert.Equal(t, 1, first.SkippedInvoiceRows)
	assert.True(t, first.HasIssues())
	assert.Empty(t, env.api.commitLog())

	// Remap the tier to a live catalog item and rerun
	second, err := env.runner.Execute(ctx, pipeline.RunOptions{
		Period:    period,
		Strategy:  operatorScript{items: map[string]string{"old-plan": "item_plan_b"}},
		DecidedBy: mapping.DecidedByOperator,
	})
	require.NoError(t, err)

	require.NotNil(t, second.Resolution)
	assert.Equal(t, 1, second.Resolution.ResolvedTiers)
	require.NotNil(t, second.Invoices)
	assert.Equal(t, 1, second.Invoices.Committed)
	assert.Zero(t, second.SkippedInvoiceRows)

	commits := env.api.commitLog()
	require.Len(t, commits, 1)
	require.Len(t, commits[0].LineItems, 1)
	assert.Equal(t, int64(3), commits[0].LineItems[0].Quantity)
	assert.Equal(t, "9.99", commits[0].LineItems[0].UnitPrice)
}
