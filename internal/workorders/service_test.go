package workorders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

type recordedEvent struct {
	eventType string
	id        string
	payload   ChangeEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, aggregateID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{eventType: eventType, id: aggregateID, payload: payload.(ChangeEvent)})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.eventType
	}
	return out
}

type countingMetrics struct {
	mu          sync.Mutex
	mutations   map[string]int
	conflicts   int
	transitions []string
	created     int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{mutations: make(map[string]int)}
}

func (m *countingMetrics) RecordCreated(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *countingMetrics) RecordMutation(op, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mutations[op+":"+outcome]++
}

func (m *countingMetrics) RecordConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

func (m *countingMetrics) RecordTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+">"+to)
}

// racingStore lets a competing writer bump the document before the next
// `races` guarded updates land.
type racingStore struct {
	*docstore.Memory
	mu    sync.Mutex
	races int
}

func (s *racingStore) UpdateOne(ctx context.Context, collection string, filter docstore.Filter, patch docstore.Patch) (docstore.Document, error) {
	s.mu.Lock()
	race := s.races > 0 && len(filter.And) == 2
	if race {
		s.races--
	}
	s.mu.Unlock()
	if race {
		id := filter.And[0].Value.(string)
		competing := docstore.Patch{}
		competing.SetField("remarks", "touched elsewhere")
		if _, err := s.Memory.UpdateOne(ctx, collection, docstore.ByID(id), competing); err != nil {
			return docstore.Document{}, err
		}
	}
	return s.Memory.UpdateOne(ctx, collection, filter, patch)
}

type fixture struct {
	svc     *Service
	store   *racingStore
	events  *recordingPublisher
	metrics *countingMetrics
	now     time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	mem := docstore.NewMemory(docstore.WithUniqueField(Collection, "workOrderNumber"))
	store := &racingStore{Memory: mem}
	repo := NewRepository(store)
	numbers := NewNumberGenerator(store, repo.CountCreatedBetween, time.UTC)
	f := &fixture{store: store, events: &recordingPublisher{}, metrics: newCountingMetrics(), now: testNow}
	base := []Option{
		WithClock(func() time.Time { return f.now }),
		WithEvents(f.events),
		WithMetrics(f.metrics),
	}
	f.svc = NewService(repo, numbers, shared.NewLocalLocker(), ServiceConfig{MaxRetries: 3}, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, input WorkOrder) *WorkOrder {
	t.Helper()
	res, err := f.svc.Create(context.Background(), input, "")
	require.NoError(t, err)
	return res.WorkOrder
}

func TestServiceCreateAssignsNumber(t *testing.T) {
	f := newFixture(t)
	ctx := shared.ContextWithActor(context.Background(), "planner")

	res, err := f.svc.Create(ctx, sampleInput(), "")
	require.NoError(t, err)
	wo := res.WorkOrder
	assert.Equal(t, "WO/24/03/04/00001", wo.WorkOrderNumber)
	assert.Equal(t, "planner", wo.CreatedBy)
	assert.Equal(t, int64(1), wo.Version)
	assert.Equal(t, 150.0, wo.PlannedCost)

	second := f.create(t, sampleInput())
	assert.Equal(t, "WO/24/03/04/00002", second.WorkOrderNumber)

	f.now = testNow.AddDate(0, 0, 1)
	third := f.create(t, sampleInput())
	assert.Equal(t, "WO/24/03/05/00001", third.WorkOrderNumber)

	loaded, err := f.svc.GetByNumber(context.Background(), "WO/24/03/04/00002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)
	assert.Equal(t, []string{EventCreated, EventCreated, EventCreated}, f.events.types())
	assert.Equal(t, 3, f.metrics.created)
}

func TestServiceCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	in := sampleInput()
	in.ProductName = ""
	_, err := f.svc.Create(context.Background(), in, "")
	require.ErrorIs(t, err, ErrValidation)

	n, err := f.store.Count(context.Background(), Collection, docstore.Filter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.metrics.mutations["create:rejected"])
}

func TestServiceCreateAcceptsZeroPlannedQuantity(t *testing.T) {
	f := newFixture(t)
	in := sampleInput()
	in.PlannedQuantity = 0

	res, err := f.svc.Create(context.Background(), in, "")
	require.NoError(t, err)
	assert.Zero(t, res.WorkOrder.PlannedQuantity)
}

func TestServiceCreateIgnoresDerivedInput(t *testing.T) {
	f := newFixture(t)
	in := sampleInput()
	in.ProgressPercentage = 150
	in.Status = "BOGUS"
	in.NextOperation = "Shipping"
	in.LastOperationCompleted = "Inspection"

	res, err := f.svc.Create(context.Background(), in, "")
	require.NoError(t, err)

	stored, err := f.svc.Get(context.Background(), res.WorkOrder.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.ProgressPercentage)
	assert.Equal(t, StatusPlanned, stored.Status)
	assert.Equal(t, "Milling", stored.NextOperation)
	assert.Empty(t, stored.LastOperationCompleted)
}

func TestServiceConcurrentCreatesGetDistinctNumbers(t *testing.T) {
	f := newFixture(t)
	const workers = 25

	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Create(context.Background(), sampleInput(), "")
			if assert.NoError(t, err) {
				numbers <- res.WorkOrder.WorkOrderNumber
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[string]bool)
	for n := range numbers {
		assert.False(t, seen[n], "duplicate number %s", n)
		seen[n] = true
	}
	require.Len(t, seen, workers)
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[fmt.Sprintf("WO/24/03/04/%05d", i)])
	}
}

func TestServiceCreateIdempotent(t *testing.T) {
	f := newFixture(t, WithIdempotency(shared.NewMemoryIdempotency()))
	ctx := context.Background()

	first, err := f.svc.Create(ctx, sampleInput(), "req-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	again, err := f.svc.Create(ctx, sampleInput(), "req-1")
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.WorkOrder.ID, again.WorkOrder.ID)

	other, err := f.svc.Create(ctx, sampleInput(), "req-2")
	require.NoError(t, err)
	assert.NotEqual(t, first.WorkOrder.WorkOrderNumber, other.WorkOrder.WorkOrderNumber)

	bad := sampleInput()
	bad.PlannedQuantity = -1
	_, err = f.svc.Create(ctx, bad, "req-3")
	require.ErrorIs(t, err, ErrValidation)
	retried, err := f.svc.Create(ctx, sampleInput(), "req-3")
	require.NoError(t, err)
	assert.False(t, retried.Replayed)
}

func TestServiceLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := sampleInput()
	in.Operations = []Operation{{OperationSequence: 1, OperationName: "Assembly"}}
	in.Resources = []Resource{{ResourceType: ResourceMaterial, ResourceName: "Kit", PlannedQuantity: 10, StandardCost: 5}}
	wo := f.create(t, in)
	assert.Equal(t, 50.0, wo.PlannedCost)
	assert.Equal(t, 0, wo.ProgressPercentage)

	_, err := f.svc.ChangeStatus(ctx, wo.ID, TransitionRequest{Status: StatusStarted})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.ChangeStatus(ctx, wo.ID, TransitionRequest{Status: StatusReleased})
	require.NoError(t, err)
	f.now = testNow.Add(time.Hour)
	wo, err = f.svc.ChangeStatus(ctx, wo.ID, TransitionRequest{Status: StatusStarted, UpdatedBy: "lead"})
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, wo.Status)
	require.NotNil(t, wo.ActualStartDate)
	assert.True(t, wo.ActualStartDate.Equal(f.now))

	done := OperationCompleted
	wo, err = f.svc.UpdateOperation(ctx, wo.ID, 1, OperationUpdate{Status: &done})
	require.NoError(t, err)
	assert.Equal(t, 100, wo.ProgressPercentage)
	assert.Equal(t, "Assembly", wo.LastOperationCompleted)
	assert.Empty(t, wo.CurrentOperation)

	wo, err = f.svc.ChangeStatus(ctx, wo.ID, TransitionRequest{Status: StatusCompleted})
	require.NoError(t, err)
	require.NotNil(t, wo.ActualEndDate)
	assert.Equal(t, 100, wo.ProgressPercentage)
	assert.Len(t, wo.StatusHistory, 3)

	stored, err := f.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, wo.Version, stored.Version)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, "lead", stored.StatusHistory[1].By)
	assert.Equal(t, []string{"PLANNED>RELEASED", "RELEASED>STARTED", "STARTED>COMPLETED"}, f.metrics.transitions)
}

func TestServiceResourceUpdateSumsActualCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.create(t, sampleInput())

	_, err := f.svc.UpdateResource(ctx, wo.ID, 1, ResourceUpdate{ActualCost: ptr(80.0)})
	require.NoError(t, err)
	wo, err = f.svc.UpdateResource(ctx, wo.ID, 0, ResourceUpdate{ActualCost: ptr(500.0)})
	require.NoError(t, err)

	assert.Equal(t, 580.0, wo.ActualCost)
	assert.Equal(t, 500.0, wo.MaterialCost)
	assert.Equal(t, 80.0, wo.LaborCost)

	_, err = f.svc.UpdateResource(ctx, wo.ID, 7, ResourceUpdate{ActualCost: ptr(1.0)})
	assert.ErrorIs(t, err, ErrResourceIndexOutOfRange)
}

func TestServiceOperationNotFoundLeavesDocumentUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.create(t, sampleInput())

	notes := "n/a"
	_, err := f.svc.UpdateOperation(ctx, wo.ID, 42, OperationUpdate{Notes: &notes})
	require.ErrorIs(t, err, ErrOperationNotFound)

	after, err := f.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, wo.Version, after.Version)
	assert.Equal(t, wo.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, 1, f.metrics.mutations["operation_update:not_found"])
}

func TestServiceMissingWorkOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Work Order not found")
	_, err = f.svc.ChangeStatus(ctx, "missing", TransitionRequest{Status: StatusReleased})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, "missing"), ErrNotFound)
}

func TestServiceRetriesStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.create(t, sampleInput())

	f.store.races = 2
	updated, err := f.svc.UpdateResource(ctx, wo.ID, 0, ResourceUpdate{ActualCost: ptr(42.0)})
	require.NoError(t, err)
	assert.Equal(t, "touched elsewhere", updated.Remarks)
	assert.Equal(t, 42.0, updated.ActualCost)
	assert.Equal(t, int64(4), updated.Version)
	assert.Equal(t, 2, f.metrics.conflicts)
}

func TestServiceGivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.create(t, sampleInput())

	f.store.races = 10
	_, err := f.svc.UpdateResource(ctx, wo.ID, 0, ResourceUpdate{ActualCost: ptr(42.0)})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, f.metrics.mutations["resource_update:conflict"])

	stored, err := f.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ActualCost)
}

func TestServiceConcurrentResourceUpdatesKeepRollupConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := sampleInput()
	for i := 0; i < 6; i++ {
		in.Resources = append(in.Resources, Resource{ResourceType: ResourceOverhead, ResourceName: fmt.Sprintf("Line %d", i), PlannedQuantity: 1, StandardCost: 1})
	}
	wo := f.create(t, in)

	var wg sync.WaitGroup
	for i := range in.Resources {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := f.svc.UpdateResource(ctx, wo.ID, idx, ResourceUpdate{ActualCost: ptr(10.0)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := f.svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, stored.ActualCost)
	assert.Equal(t, 60.0, stored.OverheadCost)
}

func TestServiceStructuralOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wo := f.create(t, sampleInput())

	wo, err := f.svc.AddOperation(ctx, wo.ID, Operation{OperationSequence: 5, OperationName: "Packing"})
	require.NoError(t, err)
	assert.Len(t, wo.Operations, 5)

	wo, err = f.svc.RemoveOperation(ctx, wo.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, sequences(wo.Operations))
	assert.Equal(t, "Milling", wo.CurrentOperation)

	wo, err = f.svc.AddResource(ctx, wo.ID, Resource{ResourceType: ResourceEquipment, ResourceName: "Press", PlannedQuantity: 3, StandardCost: 10})
	require.NoError(t, err)
	assert.Len(t, wo.Resources, 3)
	assert.Equal(t, 180.0, wo.PlannedCost)

	wo, err = f.svc.RemoveResource(ctx, wo.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 80.0, wo.PlannedCost)
	assert.Equal(t, "Press", wo.Resources[1].ResourceName)
}

func TestServiceUpdateAndApprove(t *testing.T) {
	f := newFixture(t)
	ctx := shared.ContextWithActor(context.Background(), "director")
	wo := f.create(t, sampleInput())

	in := sampleInput()
	in.WorkOrderName = "Renamed"
	in.Priority = PriorityUrgent
	updated, err := f.svc.Update(ctx, wo.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.WorkOrderName)
	assert.Equal(t, wo.WorkOrderNumber, updated.WorkOrderNumber)

	approved, err := f.svc.Approve(ctx, wo.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "director", approved.ApprovedBy)
	assert.Equal(t, []string{EventCreated, EventUpdated, EventApproved}, f.events.types())
	assert.Equal(t, "director", f.events.events[2].payload.Actor)
}

func TestServiceListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	names := []string{"Alpha housing", "Beta shaft", "gamma HOUSING cover"}
	var ids []string
	for _, n := range names {
		in := sampleInput()
		in.WorkOrderName = n
		ids = append(ids, f.create(t, in).ID)
	}

	res, err := f.svc.List(ctx, ListOptions{Search: "housing"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 10, res.Limit)

	res, err = f.svc.List(ctx, ListOptions{Limit: 2, Page: 2, SortBy: "workOrderNumber"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.WorkOrders, 1)
	assert.Equal(t, "gamma HOUSING cover", res.WorkOrders[0].WorkOrderName)

	require.NoError(t, f.svc.Delete(ctx, ids[0]))
	res, err = f.svc.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	stats, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalWorkOrders)
	assert.Contains(t, f.events.types(), EventDeleted)
}

func TestServiceDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	past := testNow.AddDate(0, 0, -1)
	future := testNow.AddDate(0, 0, 10)

	overdue := sampleInput()
	overdue.DueDate = &past
	a := f.create(t, overdue)

	b := f.create(t, sampleInput())
	_, err := f.svc.ChangeStatus(ctx, b.ID, TransitionRequest{Status: StatusReleased})
	require.NoError(t, err)

	doneLate := sampleInput()
	doneLate.DueDate = &past
	c := f.create(t, doneLate)
	for _, s := range []Status{StatusReleased, StatusStarted, StatusCompleted} {
		_, err := f.svc.ChangeStatus(ctx, c.ID, TransitionRequest{Status: s})
		require.NoError(t, err)
	}
	_, err = f.svc.UpdateResource(ctx, c.ID, 0, ResourceUpdate{ActualCost: ptr(100.0)})
	require.NoError(t, err)

	onTime := sampleInput()
	onTime.DueDate = &future
	f.create(t, onTime)

	stats, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, DashboardStats{
		TotalWorkOrders:      4,
		PlannedWorkOrders:    2,
		InProgressWorkOrders: 1,
		CompletedWorkOrders:  1,
		OverdueWorkOrders:    1,
		TotalPlannedCost:     600,
		TotalActualCost:      100,
		EfficiencyPercentage: 600,
	}, stats)

	items, total, err := f.svc.Overdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, a.ID, items[0].ID)
}

func TestServiceDashboardCacheInvalidatedOnWrite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, WithDashboardCache(cache.NewVersioned(client, "test:dashboard", time.Minute)))
	ctx := context.Background()

	f.create(t, sampleInput())
	stats, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalWorkOrders)

	// A write that bypasses the service leaves the cached value in place.
	_, err = f.store.Insert(ctx, Collection, "", map[string]any{"status": "PLANNED"})
	require.NoError(t, err)
	stats, err = f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalWorkOrders)

	f.create(t, sampleInput())
	stats, err = f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalWorkOrders)
}

func TestNumberGeneratorSeedsFromExistingCount(t *testing.T) {
	store := docstore.NewMemory()
	gen := NewNumberGenerator(store, func(ctx context.Context, from, to time.Time) (int, error) {
		assert.Equal(t, time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), from)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), to)
		return 41, nil
	}, time.UTC)

	n, err := gen.Next(context.Background(), time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "WO/24/12/31/00042", n)
}

func TestNumberGeneratorUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	gen := NewNumberGenerator(docstore.NewMemory(), nil, loc)
	n, err := gen.Next(context.Background(), time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "WO/24/03/05/00001", n)
}

func TestBuildFilterAndSort(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := BuildFilter(ListOptions{Status: StatusPlanned, PlannedStartFrom: &from, MinPlannedCost: ptr(10.0)})
	require.Len(t, f.And, 3)
	assert.Equal(t, docstore.Eq("status", StatusPlanned), f.And[0])

	assert.True(t, BuildFilter(ListOptions{}).IsZero())
	search := BuildFilter(ListOptions{Search: "abc"})
	assert.Len(t, search.Or, len(searchFields))

	assert.Equal(t, []docstore.SortField{{Field: docstore.FieldCreatedAt, Desc: true}}, SortOrder(ListOptions{SortBy: "bogus"}))
	assert.Equal(t, []docstore.SortField{{Field: "dueDate"}}, SortOrder(ListOptions{SortBy: "dueDate"}))
}

func TestEfficiency(t *testing.T) {
	assert.Equal(t, 0.0, Efficiency(100, 0))
	assert.Equal(t, 80.0, Efficiency(80, 100))
	assert.Equal(t, 66.67, Efficiency(200, 300))
}
