package workorders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

const idempotencyModule = "workorders"

// Metrics receives domain counters. Implemented by observability.WorkOrderMetrics.
type Metrics interface {
	RecordCreated(workOrderType string)
	RecordMutation(operation, outcome string)
	RecordConflict(operation string)
	RecordTransition(from, to string)
}

// DashboardCache caches dashboard aggregates. Implemented by cache.Versioned.
type DashboardCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// ServiceConfig tunes the service.
type ServiceConfig struct {
	// MaxRetries bounds optimistic-concurrency attempts per mutation.
	MaxRetries int
}

// Option configures optional collaborators.
type Option func(*Service)

// WithEvents publishes a domain event after every successful write.
func WithEvents(p Publisher) Option { return func(s *Service) { s.events = p } }

// WithDashboardCache caches dashboard results and invalidates them on writes.
func WithDashboardCache(c DashboardCache) Option { return func(s *Service) { s.cache = c } }

// WithIdempotency enables Idempotency-Key handling on create.
func WithIdempotency(store shared.IdempotencyStore) Option {
	return func(s *Service) { s.idem = store }
}

// WithMetrics records domain counters.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now, for tests.
func WithClock(clock func() time.Time) Option { return func(s *Service) { s.clock = clock } }

// Service coordinates the work-order use cases. Every write goes through
// mutate, which serialises per work order and retries stale versions.
type Service struct {
	repo       *Repository
	numbers    *NumberGenerator
	locker     shared.Locker
	maxRetries int

	events  Publisher
	cache   DashboardCache
	idem    shared.IdempotencyStore
	metrics Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService wires the service.
func NewService(repo *Repository, numbers *NumberGenerator, locker shared.Locker, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if locker == nil {
		locker = shared.NewLocalLocker()
	}
	s := &Service{
		repo:       repo,
		numbers:    numbers,
		locker:     locker,
		maxRetries: cfg.MaxRetries,
		logger:     slog.Default(),
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateResult reports the created work order and whether it was replayed
// from an earlier request with the same idempotency key.
type CreateResult struct {
	WorkOrder *WorkOrder
	Replayed  bool
}

// Create validates input, assigns a number and stores a new PLANNED work order.
func (s *Service) Create(ctx context.Context, input WorkOrder, idempotencyKey string) (CreateResult, error) {
	if idempotencyKey != "" && s.idem != nil {
		ref, err := s.idem.Begin(ctx, idempotencyModule, idempotencyKey)
		switch {
		case errors.Is(err, shared.ErrIdempotencyInFlight):
			return CreateResult{}, fmt.Errorf("%w: request with this Idempotency-Key is still in progress", ErrConflict)
		case err != nil:
			return CreateResult{}, fmt.Errorf("%w: idempotency: %v", ErrStoreUnavailable, err)
		case ref != "":
			w, err := s.repo.GetByNumber(ctx, ref)
			if err != nil {
				return CreateResult{}, err
			}
			return CreateResult{WorkOrder: w, Replayed: true}, nil
		}
	}

	w, err := s.create(ctx, input)
	if idempotencyKey != "" && s.idem != nil {
		if err != nil {
			_ = s.idem.Release(ctx, idempotencyModule, idempotencyKey)
		} else if cerr := s.idem.Complete(ctx, idempotencyModule, idempotencyKey, w.WorkOrderNumber); cerr != nil {
			s.logger.Warn("workorders: store idempotency key", slog.String("work_order_id", w.ID), slog.Any("error", cerr))
		}
	}
	if err != nil {
		s.recordMutation("create", err)
		return CreateResult{}, err
	}
	return CreateResult{WorkOrder: w}, nil
}

func (s *Service) create(ctx context.Context, input WorkOrder) (*WorkOrder, error) {
	now := s.clock()
	actor := shared.ActorFromContext(ctx)
	w, err := prepareNew(input, uuid.NewString(), "", actor, now)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		number, err := s.numbers.Next(ctx, now)
		if err != nil {
			return nil, mapStoreError(err)
		}
		w.WorkOrderNumber = number
		err = s.repo.Insert(ctx, w)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) || attempt >= s.maxRetries {
			return nil, err
		}
		s.recordConflict("create")
		s.logger.Warn("workorders: number collision, retrying", slog.String("work_order_number", number), slog.Int("attempt", attempt))
	}

	if s.metrics != nil {
		s.metrics.RecordCreated(string(w.WorkOrderType))
	}
	s.recordMutation("create", nil)
	s.afterWrite(ctx, EventCreated, w, actor, "")
	s.logger.Info("workorders: created", slog.String("work_order_id", w.ID), slog.String("work_order_number", w.WorkOrderNumber))
	return w, nil
}

// Get loads a work order by id.
func (s *Service) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return s.repo.Get(ctx, id)
}

// GetByNumber loads a work order by number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*WorkOrder, error) {
	return s.repo.GetByNumber(ctx, number)
}

// ListResult is one page of work orders.
type ListResult struct {
	WorkOrders []WorkOrder `json:"workOrders"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"totalPages"`
}

// List returns the page of work orders selected by opts.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := shared.NewPagination(opts.Page, opts.Limit, 0)
	items, total, err := s.repo.List(ctx, opts, page.Offset(), page.PerPage)
	if err != nil {
		return ListResult{}, err
	}
	page = shared.NewPagination(page.Page, page.PerPage, total)
	return ListResult{
		WorkOrders: items,
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.PerPage,
		TotalPages: page.TotalPages,
	}, nil
}

// Update replaces the editable fields of a work order.
func (s *Service) Update(ctx context.Context, id string, input WorkOrder) (*WorkOrder, error) {
	return s.mutate(ctx, id, "update", EventUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "", w.Replace(input)
	})
}

// Delete hard-deletes a work order.
func (s *Service) Delete(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.recordMutation("delete", err)
		return err
	}
	s.recordMutation("delete", nil)
	s.afterWrite(ctx, EventDeleted, w, shared.ActorFromContext(ctx), "")
	return nil
}

// ChangeStatus applies a lifecycle transition.
func (s *Service) ChangeStatus(ctx context.Context, id string, req TransitionRequest) (*WorkOrder, error) {
	if req.UpdatedBy == "" {
		req.UpdatedBy = shared.ActorFromContext(ctx)
	}
	var from Status
	w, err := s.mutate(ctx, id, "status", EventStatusChanged, func(w *WorkOrder, now time.Time) (string, error) {
		from = w.Status
		return fmt.Sprintf("%s -> %s", w.Status, req.Status), w.Transition(req, now)
	})
	if err == nil && s.metrics != nil {
		s.metrics.RecordTransition(string(from), string(w.Status))
	}
	return w, err
}

// Approve records approval of a PLANNED work order.
func (s *Service) Approve(ctx context.Context, id, approvedBy string) (*WorkOrder, error) {
	if approvedBy == "" {
		approvedBy = shared.ActorFromContext(ctx)
	}
	return s.mutate(ctx, id, "approve", EventApproved, func(w *WorkOrder, now time.Time) (string, error) {
		return approvedBy, w.Approve(approvedBy, now)
	})
}

// UpdateOperation applies a targeted update to operation seq.
func (s *Service) UpdateOperation(ctx context.Context, id string, seq int, upd OperationUpdate) (*WorkOrder, error) {
	return s.mutate(ctx, id, "operation_update", EventOperationUpdated, func(w *WorkOrder, now time.Time) (string, error) {
		return "operation " + strconv.Itoa(seq), w.UpdateOperation(seq, upd, now)
	})
}

// AddOperation inserts an operation.
func (s *Service) AddOperation(ctx context.Context, id string, op Operation) (*WorkOrder, error) {
	return s.mutate(ctx, id, "operation_add", EventOperationUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "operation " + strconv.Itoa(op.OperationSequence) + " added", w.AddOperation(op)
	})
}

// RemoveOperation deletes operation seq.
func (s *Service) RemoveOperation(ctx context.Context, id string, seq int) (*WorkOrder, error) {
	return s.mutate(ctx, id, "operation_remove", EventOperationUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "operation " + strconv.Itoa(seq) + " removed", w.RemoveOperation(seq)
	})
}

// UpdateResource applies a targeted update to the resource at index.
func (s *Service) UpdateResource(ctx context.Context, id string, index int, upd ResourceUpdate) (*WorkOrder, error) {
	return s.mutate(ctx, id, "resource_update", EventResourceUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "resource " + strconv.Itoa(index), w.UpdateResource(index, upd)
	})
}

// AddResource appends a resource line.
func (s *Service) AddResource(ctx context.Context, id string, r Resource) (*WorkOrder, error) {
	return s.mutate(ctx, id, "resource_add", EventResourceUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "resource added", w.AddResource(r)
	})
}

// RemoveResource deletes the resource at index.
func (s *Service) RemoveResource(ctx context.Context, id string, index int) (*WorkOrder, error) {
	return s.mutate(ctx, id, "resource_remove", EventResourceUpdated, func(w *WorkOrder, _ time.Time) (string, error) {
		return "resource " + strconv.Itoa(index) + " removed", w.RemoveResource(index)
	})
}

// Dashboard returns the dashboard aggregate, served from cache when possible.
func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	load := func(ctx context.Context) (any, error) {
		return s.repo.Dashboard(ctx, s.clock())
	}
	if s.cache == nil {
		return s.repo.Dashboard(ctx, s.clock())
	}
	key, err := s.cache.BuildKey(ctx, "workorders", "dashboard")
	if err == nil {
		var stats DashboardStats
		if err = s.cache.FetchJSON(ctx, key, &stats, load); err == nil {
			return stats, nil
		}
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return DashboardStats{}, err
	}
	s.logger.Warn("workorders: dashboard cache bypassed", slog.Any("error", err))
	return s.repo.Dashboard(ctx, s.clock())
}

// RefreshDashboard invalidates and recomputes the cached dashboard.
func (s *Service) RefreshDashboard(ctx context.Context) (DashboardStats, error) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("workorders: bump dashboard cache", slog.Any("error", err))
		}
	}
	return s.Dashboard(ctx)
}

// Overdue lists open work orders past their due date.
func (s *Service) Overdue(ctx context.Context, limit int) ([]WorkOrder, int, error) {
	return s.repo.ListOverdue(ctx, s.clock(), limit)
}

// mutate runs fn against the latest stored aggregate under the per-id lock
// and persists its changes guarded by version. A stale version is re-read and
// fn re-applied up to maxRetries times.
func (s *Service) mutate(ctx context.Context, id, operation, event string, fn func(w *WorkOrder, now time.Time) (string, error)) (*WorkOrder, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		w      *WorkOrder
		detail string
	)
	for attempt := 1; ; attempt++ {
		w, err = s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if detail, err = fn(w, s.clock()); err != nil {
			s.recordMutation(operation, err)
			return nil, err
		}
		err = s.repo.Save(ctx, w)
		if err == nil {
			break
		}
		if !errors.Is(err, errStaleVersion) {
			s.recordMutation(operation, err)
			return nil, err
		}
		s.recordConflict(operation)
		if attempt >= s.maxRetries {
			s.recordMutation(operation, ErrConflict)
			return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, attempt)
		}
	}

	s.recordMutation(operation, nil)
	s.afterWrite(ctx, event, w, shared.ActorFromContext(ctx), detail)
	return w, nil
}

func (s *Service) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, shared.WorkOrderLockKey(id))
	switch {
	case err == nil:
		return unlock, nil
	case errors.Is(err, shared.ErrLockTimeout):
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	}
	return nil, fmt.Errorf("%w: lock: %v", ErrStoreUnavailable, err)
}

func (s *Service) afterWrite(ctx context.Context, event string, w *WorkOrder, actor, detail string) {
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("workorders: bump dashboard cache", slog.String("work_order_id", w.ID), slog.Any("error", err))
		}
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, event, w.ID, changeEventOf(w, actor, detail)); err != nil {
			s.logger.Warn("workorders: publish event", slog.String("event", event), slog.String("work_order_id", w.ID), slog.Any("error", err))
		}
	}
}

func (s *Service) recordMutation(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordMutation(operation, outcomeOf(err))
}

func (s *Service) recordConflict(operation string) {
	if s.metrics != nil {
		s.metrics.RecordConflict(operation)
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTerminalState):
		return "rejected"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrOperationNotFound), errors.Is(err, ErrResourceIndexOutOfRange):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	}
	return "error"
}
