package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/reckon/engine/internal/domain/mapping"
	"github.com/reckon/engine/internal/domain/reconcile"
	"github.com/reckon/engine/internal/domain/shared/valueobject"
	"github.com/reckon/engine/internal/domain/usage"
)

type mockEntityMappingRepository struct {
	mock.Mock
}

func (m *mockEntityMappingRepository) FindByEntityID(ctx context.Context, entityID string) (*mapping.EntityMapping, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mapping.EntityMapping), args.Error(1)
}

func (m *mockEntityMappingRepository) FindAll(ctx context.Context) ([]*mapping.EntityMapping, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.EntityMapping), args.Error(1)
}

func (m *mockEntityMappingRepository) FindActive(ctx context.Context) ([]*mapping.EntityMapping, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.EntityMapping), args.Error(1)
}

func (m *mockEntityMappingRepository) Upsert(ctx context.Context, row *mapping.EntityMapping) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

type mockTierMappingRepository struct {
	mock.Mock
}

func (m *mockTierMappingRepository) FindByTierID(ctx context.Context, tierID string) (*mapping.TierMapping, error) {
	args := m.Called(ctx, tierID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mapping.TierMapping), args.Error(1)
}

func (m *mockTierMappingRepository) FindAll(ctx context.Context) ([]*mapping.TierMapping, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.TierMapping), args.Error(1)
}

func (m *mockTierMappingRepository) FindActive(ctx context.Context) ([]*mapping.TierMapping, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.TierMapping), args.Error(1)
}

func (m *mockTierMappingRepository) Upsert(ctx context.Context, row *mapping.TierMapping) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

type mockChangeLogRepository struct {
	mock.Mock
}

func (m *mockChangeLogRepository) Append(ctx context.Context, entry *mapping.ChangeLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockChangeLogRepository) FindBySubject(ctx context.Context, subjectID string) ([]*mapping.ChangeLogEntry, error) {
	args := m.Called(ctx, subjectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.ChangeLogEntry), args.Error(1)
}

func (m *mockChangeLogRepository) FindRecent(ctx context.Context, limit int) ([]*mapping.ChangeLogEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*mapping.ChangeLogEntry), args.Error(1)
}

type mockHighWaterRepository struct {
	mock.Mock
}

func (m *mockHighWaterRepository) ReplaceForPeriod(ctx context.Context, period valueobject.BillingPeriod, rows []*usage.MonthlyHighWater) error {
	args := m.Called(ctx, period, rows)
	return args.Error(0)
}

func (m *mockHighWaterRepository) FindByPeriod(ctx context.Context, period valueobject.BillingPeriod) ([]*usage.MonthlyHighWater, error) {
	args := m.Called(ctx, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*usage.MonthlyHighWater), args.Error(1)
}

func (m *mockHighWaterRepository) DistinctEntityIDs(ctx context.Context, period valueobject.BillingPeriod) ([]string, error) {
	args := m.Called(ctx, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// scriptedStrategy answers from fixed decision tables and skips anything
// not scripted
type scriptedStrategy struct {
	entityDecisions map[string]reconcile.EntityDecision
	tierDecisions   map[string]reconcile.TierDecision
}

func (s *scriptedStrategy) ResolveEntity(_ context.Context, finding reconcile.EntityFinding, _ []reconcile.Customer) (reconcile.EntityDecision, error) {
	if d, ok := s.entityDecisions[finding.EntityID]; ok {
		return d, nil
	}
	return reconcile.EntityDecision{Skip: true}, nil
}

func (s *scriptedStrategy) ResolveTier(_ context.Context, finding reconcile.TierFinding, _ []reconcile.CatalogItem) (reconcile.TierDecision, error) {
	if d, ok := s.tierDecisions[finding.TierID]; ok {
		return d, nil
	}
	return reconcile.TierDecision{Skip: true}, nil
}

type testFixture struct {
	entities  *mockEntityMappingRepository
	tiers     *mockTierMappingRepository
	changeLog *mockChangeLogRepository
	highWater *mockHighWaterRepository
	service   *Service
}

func newFixture(t *testing.T, policy mapping.PricingPolicy) *testFixture {
	t.Helper()
	f := &testFixture{
		entities:  new(mockEntityMappingRepository),
		tiers:     new(mockTierMappingRepository),
		changeLog: new(mockChangeLogRepository),
		highWater: new(mockHighWaterRepository),
	}
	f.service = NewService(f.entities, f.tiers, f.changeLog, f.highWater, nil, policy, zaptest.NewLogger(t))
	return f
}

func reconciliationPeriod(t *testing.T) valueobject.BillingPeriod {
	t.Helper()
	period, err := valueobject.NewBillingPeriod(2025, 11)
	require.NoError(t, err)
	return period
}

func highWaterRow(entityID, tierID string, peak int64) *usage.MonthlyHighWater {
	return &usage.MonthlyHighWater{
		EntityID:     entityID,
		TierID:       tierID,
		BillingYear:  2025,
		BillingMonth: 11,
		PeakCount:    peak,
	}
}

func activeEntityMapping(t *testing.T, entityID, customerID, customerName string) *mapping.EntityMapping {
	t.Helper()
	row, err := mapping.NewEntityMapping(entityID)
	require.NoError(t, err)
	require.NoError(t, row.Resolve(customerID, customerName))
	return row
}

func inactiveEntityMapping(t *testing.T, entityID, customerID, customerName string) *mapping.EntityMapping {
	t.Helper()
	row := activeEntityMapping(t, entityID, customerID, customerName)
	require.NoError(t, row.Deactivate())
	return row
}

func testCatalog(t *testing.T) *reconcile.CatalogView {
	t.Helper()
	price, err := valueobject.NewMoneyUSDFromString("12.50")
	require.NoError(t, err)
	return reconcile.NewCatalogView(
		[]reconcile.Customer{
			{ID: "cus_1", Name: "Acme Corp"},
			{ID: "cus_2", Name: "Globex"},
		},
		[]reconcile.CatalogItem{
			{ID: "item_web", Name: "Web Hosting", UnitPrice: price},
		},
	)
}

func TestService_Detect_ClassifiesAndReportsMissing(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)
	catalog := testCatalog(t)

	f.highWater.On("FindByPeriod", ctx, period).Return([]*usage.MonthlyHighWater{
		highWaterRow("acme.example.com", "web", 5),
		highWaterRow("newsite.example.com", "web", 2),
	}, nil)
	f.entities.On("FindAll", ctx).Return([]*mapping.EntityMapping{
		activeEntityMapping(t, "acme.example.com", "cus_1", "Acme Corp"),
		activeEntityMapping(t, "gone.example.com", "cus_2", "Globex"),
	}, nil)
	f.tiers.On("FindAll", ctx).Return([]*mapping.TierMapping{}, nil)
	f.highWater.On("DistinctEntityIDs", ctx, period.Previous()).
		Return([]string{"acme.example.com", "gone.example.com"}, nil)

	report, err := f.service.Detect(ctx, period, catalog)

	require.NoError(t, err)
	assert.Equal(t, 1, report.CountEntities(reconcile.BucketMapped))
	assert.Equal(t, 1, report.CountEntities(reconcile.BucketNew))
	assert.Equal(t, []string{"gone.example.com"}, report.MissingEntities)
	assert.Equal(t, 1, report.CountTiers(reconcile.BucketNew))
}

func TestService_Detect_AppliesExclusions(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)

	exclusions, err := usage.NewExclusionFilter([]string{"*.internal.example.com"}, nil)
	require.NoError(t, err)

	entities := new(mockEntityMappingRepository)
	tiers := new(mockTierMappingRepository)
	changeLog := new(mockChangeLogRepository)
	highWater := new(mockHighWaterRepository)
	service := NewService(entities, tiers, changeLog, highWater, exclusions, mapping.PricingPolicySnapshot, zaptest.NewLogger(t))

	highWater.On("FindByPeriod", ctx, period).Return([]*usage.MonthlyHighWater{
		highWaterRow("acme.example.com", "web", 5),
		highWaterRow("staging.internal.example.com", "web", 50),
	}, nil)
	entities.On("FindAll", ctx).Return([]*mapping.EntityMapping{}, nil)
	tiers.On("FindAll", ctx).Return([]*mapping.TierMapping{}, nil)
	highWater.On("DistinctEntityIDs", ctx, period.Previous()).
		Return([]string{"staging.internal.example.com"}, nil)

	report, err := service.Detect(ctx, period, testCatalog(t))

	require.NoError(t, err)
	require.Len(t, report.Entities, 1)
	assert.Equal(t, "acme.example.com", report.Entities[0].EntityID)
	assert.Empty(t, report.MissingEntities)
}

func TestService_Resolve_NewEntityChosen(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "newsite.example.com", Bucket: reconcile.BucketNew},
		},
	}
	strategy := &scriptedStrategy{
		entityDecisions: map[string]reconcile.EntityDecision{
			"newsite.example.com": {Customer: reconcile.Customer{ID: "cus_2", Name: "Globex"}},
		},
	}

	f.entities.On("Upsert", ctx, mock.MatchedBy(func(row *mapping.EntityMapping) bool {
		return row.EntityID == "newsite.example.com" &&
			row.CustomerID == "cus_2" &&
			row.IsActive()
	})).Return(nil)
	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.SubjectID == "newsite.example.com" &&
			e.ChangeKind == mapping.ChangeKindNew &&
			e.DecidedBy == mapping.DecidedByOperator
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), strategy, mapping.DecidedByOperator)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedEntities)
	assert.Equal(t, 0, result.SkippedEntities)
	f.entities.AssertExpectations(t)
	f.changeLog.AssertExpectations(t)
}

func TestService_Resolve_NewEntitySkippedLeavesNoMapping(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "newsite.example.com", Bucket: reconcile.BucketNew},
		},
	}

	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindNew && e.Detail == "observed with usage, left unresolved"
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), reconcile.NewSkipStrategy(), mapping.DecidedByPolicy)

	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedEntities)
	assert.Equal(t, []string{"newsite.example.com"}, result.UnresolvedEntities)
	f.entities.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
	f.changeLog.AssertExpectations(t)
}

func TestService_Resolve_InvalidEntityAlwaysLogsInvalidated(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	stale := activeEntityMapping(t, "acme.example.com", "cus_gone", "Old Corp")
	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "acme.example.com", Bucket: reconcile.BucketInvalid, Mapping: stale},
		},
	}

	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindInvalidated &&
			e.DecidedBy == mapping.DecidedByPolicy
	})).Return(nil).Once()

	result, err := f.service.Resolve(ctx, report, testCatalog(t), reconcile.NewSkipStrategy(), mapping.DecidedByPolicy)

	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedEntities)
	// The invalidated entry is the only audit fact for an unfixed mapping.
	f.changeLog.AssertNumberOfCalls(t, "Append", 1)
	f.entities.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestService_Resolve_InvalidEntityFixedLogsRemapped(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	stale := activeEntityMapping(t, "acme.example.com", "cus_gone", "Old Corp")
	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "acme.example.com", Bucket: reconcile.BucketInvalid, Mapping: stale},
		},
	}
	strategy := &scriptedStrategy{
		entityDecisions: map[string]reconcile.EntityDecision{
			"acme.example.com": {Customer: reconcile.Customer{ID: "cus_1", Name: "Acme Corp"}},
		},
	}

	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindInvalidated
	})).Return(nil).Once()
	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindRemapped && e.DecidedBy == mapping.DecidedByOperator
	})).Return(nil).Once()
	f.entities.On("Upsert", ctx, mock.MatchedBy(func(row *mapping.EntityMapping) bool {
		return row.CustomerID == "cus_1" && row.IsActive()
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), strategy, mapping.DecidedByOperator)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedEntities)
	f.changeLog.AssertExpectations(t)
	f.entities.AssertExpectations(t)
}

func TestService_Resolve_ReappearedSameTargetReactivates(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	dormant := inactiveEntityMapping(t, "acme.example.com", "cus_1", "Acme Corp")
	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "acme.example.com", Bucket: reconcile.BucketReappeared, Mapping: dormant},
		},
	}
	strategy := &scriptedStrategy{
		entityDecisions: map[string]reconcile.EntityDecision{
			"acme.example.com": {Customer: reconcile.Customer{ID: "cus_1", Name: "Acme Corp"}},
		},
	}

	f.entities.On("Upsert", ctx, mock.MatchedBy(func(row *mapping.EntityMapping) bool {
		return row.CustomerID == "cus_1" && row.IsActive()
	})).Return(nil)
	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindRemapped &&
			e.Detail == "reactivated with customer cus_1 (Acme Corp)"
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), strategy, mapping.DecidedByOperator)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedEntities)
	assert.True(t, dormant.IsActive())
	f.changeLog.AssertExpectations(t)
}

func TestService_Resolve_ReappearedSkippedStaysInactive(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	dormant := inactiveEntityMapping(t, "acme.example.com", "cus_1", "Acme Corp")
	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "acme.example.com", Bucket: reconcile.BucketReappeared, Mapping: dormant},
		},
	}

	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.ChangeKind == mapping.ChangeKindNew &&
			e.Detail == "usage reappeared for inactive mapping, left inactive"
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), reconcile.NewSkipStrategy(), mapping.DecidedByPolicy)

	require.NoError(t, err)
	assert.Equal(t, 1, result.SkippedEntities)
	assert.False(t, dormant.IsActive())
	f.entities.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestService_Resolve_MissingEntitiesLogged(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	report := &reconcile.ChangeReport{
		Period:          period,
		MissingEntities: []string{"gone.example.com"},
	}

	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.SubjectID == "gone.example.com" &&
			e.ChangeKind == mapping.ChangeKindMissing &&
			e.DecidedBy == mapping.DecidedByPolicy
	})).Return(nil)

	_, err := f.service.Resolve(ctx, report, testCatalog(t), reconcile.NewSkipStrategy(), mapping.DecidedByPolicy)

	require.NoError(t, err)
	f.changeLog.AssertExpectations(t)
}

func TestService_Resolve_TierUsesConfiguredPolicy(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicyLive)

	price, err := valueobject.NewMoneyUSDFromString("12.50")
	require.NoError(t, err)
	report := &reconcile.ChangeReport{
		Period: period,
		Tiers: []reconcile.TierFinding{
			{TierID: "web", Bucket: reconcile.BucketNew},
		},
	}
	strategy := &scriptedStrategy{
		tierDecisions: map[string]reconcile.TierDecision{
			"web": {Item: reconcile.CatalogItem{ID: "item_web", Name: "Web Hosting", UnitPrice: price}},
		},
	}

	f.tiers.On("Upsert", ctx, mock.MatchedBy(func(row *mapping.TierMapping) bool {
		return row.TierID == "web" &&
			row.CatalogItemID == "item_web" &&
			row.PricingPolicy == mapping.PricingPolicyLive &&
			row.UnitPrice.Equals(price)
	})).Return(nil)
	f.changeLog.On("Append", ctx, mock.MatchedBy(func(e *mapping.ChangeLogEntry) bool {
		return e.SubjectKind == mapping.SubjectKindTier && e.ChangeKind == mapping.ChangeKindNew
	})).Return(nil)

	result, err := f.service.Resolve(ctx, report, testCatalog(t), strategy, mapping.DecidedByOperator)

	require.NoError(t, err)
	assert.Equal(t, 1, result.ResolvedTiers)
	f.tiers.AssertExpectations(t)
}

func TestService_Resolve_AuditFailureAbortsPhase(t *testing.T) {
	ctx := context.Background()
	period := reconciliationPeriod(t)
	f := newFixture(t, mapping.PricingPolicySnapshot)

	report := &reconcile.ChangeReport{
		Period: period,
		Entities: []reconcile.EntityFinding{
			{EntityID: "newsite.example.com", Bucket: reconcile.BucketNew},
		},
	}

	f.changeLog.On("Append", ctx, mock.Anything).Return(errors.New("disk full"))

	_, err := f.service.Resolve(ctx, report, testCatalog(t), reconcile.NewSkipStrategy(), mapping.DecidedByPolicy)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append audit entry")
}
