package workorders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

// Collection is the document-store collection holding work orders.
const Collection = "work_orders"

// metaFields live in document metadata, not in the stored body.
var metaFields = []string{"version", "createdAt", "updatedAt"}

// errStaleVersion means the document changed between read and write.
var errStaleVersion = errors.New("work order version is stale")

// Repository persists work orders in the document store.
type Repository struct {
	store docstore.Store
}

// NewRepository constructs the repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Insert stores a new aggregate and refreshes its metadata.
func (r *Repository) Insert(ctx context.Context, w *WorkOrder) error {
	body, err := toBody(w)
	if err != nil {
		return err
	}
	doc, err := r.store.Insert(ctx, Collection, w.ID, body)
	if err != nil {
		return mapStoreError(err)
	}
	applyMeta(w, doc)
	return nil
}

// Get loads a work order by id.
func (r *Repository) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return r.findOne(ctx, docstore.ByID(id))
}

// GetByNumber loads a work order by its WO/YY/MM/DD/NNNNN number.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*WorkOrder, error) {
	return r.findOne(ctx, docstore.Eq("workOrderNumber", number))
}

func (r *Repository) findOne(ctx context.Context, filter docstore.Filter) (*WorkOrder, error) {
	doc, err := r.store.FindOne(ctx, Collection, filter)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return decode(doc)
}

// Save writes the aggregate's pending changes guarded by its loaded version.
// On success w reflects the stored document.
func (r *Repository) Save(ctx context.Context, w *WorkOrder) error {
	if !w.HasChanges() {
		return nil
	}
	patch, err := buildPatch(w)
	if err != nil {
		return err
	}
	doc, err := r.store.UpdateOne(ctx, Collection, docstore.ByIDAndVersion(w.ID, w.Version), patch)
	if errors.Is(err, docstore.ErrNotFound) {
		n, countErr := r.store.Count(ctx, Collection, docstore.ByID(w.ID))
		if countErr != nil {
			return mapStoreError(countErr)
		}
		if n == 0 {
			return ErrNotFound
		}
		return errStaleVersion
	}
	if err != nil {
		return mapStoreError(err)
	}
	saved, err := decode(doc)
	if err != nil {
		return err
	}
	*w = *saved
	return nil
}

// Delete hard-deletes a work order.
func (r *Repository) Delete(ctx context.Context, id string) error {
	n, err := r.store.Delete(ctx, Collection, docstore.ByID(id))
	if err != nil {
		return mapStoreError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns one page of work orders matching opts and the total match count.
func (r *Repository) List(ctx context.Context, opts ListOptions, skip, limit int) ([]WorkOrder, int, error) {
	docs, total, err := r.store.FindMany(ctx, Collection, docstore.Query{
		Filter: BuildFilter(opts),
		Sort:   SortOrder(opts),
		Skip:   skip,
		Limit:  limit,
	})
	if err != nil {
		return nil, 0, mapStoreError(err)
	}
	out := make([]WorkOrder, 0, len(docs))
	for _, doc := range docs {
		w, err := decode(doc)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *w)
	}
	return out, total, nil
}

// ListOverdue returns open work orders whose due date passed, oldest due first.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]WorkOrder, int, error) {
	docs, total, err := r.store.FindMany(ctx, Collection, docstore.Query{
		Filter: OverdueFilter(now),
		Sort:   []docstore.SortField{{Field: "dueDate"}},
		Limit:  limit,
	})
	if err != nil {
		return nil, 0, mapStoreError(err)
	}
	out := make([]WorkOrder, 0, len(docs))
	for _, doc := range docs {
		w, err := decode(doc)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *w)
	}
	return out, total, nil
}

// CountCreatedBetween counts work orders created in [from, to).
func (r *Repository) CountCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	n, err := r.store.Count(ctx, Collection, docstore.And(
		docstore.Gte(docstore.FieldCreatedAt, from),
		docstore.Lt(docstore.FieldCreatedAt, to),
	))
	return n, mapStoreError(err)
}

// Dashboard computes bucket counts and cost totals over all work orders.
func (r *Repository) Dashboard(ctx context.Context, now time.Time) (DashboardStats, error) {
	counts := make(map[string]int)
	for name, filter := range dashboardBuckets(now) {
		n, err := r.store.Count(ctx, Collection, filter)
		if err != nil {
			return DashboardStats{}, mapStoreError(err)
		}
		counts[name] = n
	}
	sums, err := r.store.Sum(ctx, Collection, docstore.Filter{}, "plannedCost", "actualCost")
	if err != nil {
		return DashboardStats{}, mapStoreError(err)
	}
	return DashboardStats{
		TotalWorkOrders:      counts["total"],
		PlannedWorkOrders:    counts["planned"],
		InProgressWorkOrders: counts["inProgress"],
		CompletedWorkOrders:  counts["completed"],
		OverdueWorkOrders:    counts["overdue"],
		TotalPlannedCost:     sums["plannedCost"],
		TotalActualCost:      sums["actualCost"],
		EfficiencyPercentage: Efficiency(sums["plannedCost"], sums["actualCost"]),
	}, nil
}

func toBody(w *WorkOrder) (map[string]any, error) {
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode work order: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("encode work order: %w", err)
	}
	for _, f := range metaFields {
		delete(body, f)
	}
	return body, nil
}

func decode(doc docstore.Document) (*WorkOrder, error) {
	var w WorkOrder
	if err := doc.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode work order %s: %w", doc.ID, err)
	}
	applyMeta(&w, doc)
	return &w, nil
}

func applyMeta(w *WorkOrder, doc docstore.Document) {
	w.ID = doc.ID
	w.Version = doc.Version
	w.CreatedAt = doc.CreatedAt
	w.UpdatedAt = doc.UpdatedAt
	w.changes.reset()
}

// buildPatch turns the aggregate's change log into a document patch.
func buildPatch(w *WorkOrder) (docstore.Patch, error) {
	var patch docstore.Patch
	body, err := toBody(w)
	if err != nil {
		return patch, err
	}
	for _, path := range w.ChangedPaths() {
		v, err := resolvePath(body, path)
		if err != nil {
			return patch, err
		}
		patch.SetField(path, v)
	}
	for path, values := range w.PushedValues() {
		if len(values) == 1 {
			patch.PushField(path, values[0])
			continue
		}
		v, err := resolvePath(body, path)
		if err != nil {
			return patch, err
		}
		patch.SetField(path, v)
	}
	return patch, nil
}

// resolvePath reads "field" or "field.index" from an encoded body. Missing
// top-level fields resolve to nil so cleared optional values are written.
func resolvePath(body map[string]any, path string) (any, error) {
	field, rest, nested := strings.Cut(path, ".")
	v := body[field]
	if !nested {
		return v, nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("resolve %s: %s is not a list", path, field)
	}
	idx, err := strconv.Atoi(rest)
	if err != nil || idx < 0 || idx >= len(arr) {
		return nil, fmt.Errorf("resolve %s: bad index", path)
	}
	return arr[idx], nil
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, docstore.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, docstore.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
