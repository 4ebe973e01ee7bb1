package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

const maxRetries = 3

var validate = validator.New()

// Service implements catalog CRUD on the document store.
type Service struct {
	store  docstore.Store
	logger *slog.Logger
}

// NewService constructs the service.
func NewService(store docstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Create stores a new entry.
func (s *Service) Create(ctx context.Context, op Operation) (*Operation, error) {
	op.ID = ""
	if op.CreatedBy == "" {
		op.CreatedBy = shared.ActorFromContext(ctx)
	}
	if err := check(&op); err != nil {
		return nil, err
	}
	doc, err := s.store.Insert(ctx, Collection, "", body(op))
	if err != nil {
		return nil, mapError(err)
	}
	s.logger.Info("catalog: operation created", slog.String("operation_code", op.OperationCode))
	return decode(doc)
}

// Get loads an entry by id.
func (s *Service) Get(ctx context.Context, id string) (*Operation, error) {
	doc, err := s.store.FindOne(ctx, Collection, docstore.ByID(id))
	if err != nil {
		return nil, mapError(err)
	}
	return decode(doc)
}

// List returns a page of entries ordered by operation code.
func (s *Service) List(ctx context.Context, f ListFilter) (ListResult, error) {
	var clauses []docstore.Filter
	if q := strings.TrimSpace(f.Search); q != "" {
		clauses = append(clauses, docstore.Or(
			docstore.ContainsFold("operationCode", q),
			docstore.ContainsFold("operationName", q),
		))
	}
	if f.WorkCenter != "" {
		clauses = append(clauses, docstore.Eq("workCenter", f.WorkCenter))
	}
	if f.ActiveOnly {
		clauses = append(clauses, docstore.Eq("active", true))
	}
	page := shared.NewPagination(f.Page, f.Limit, 0)
	docs, total, err := s.store.FindMany(ctx, Collection, docstore.Query{
		Filter: docstore.And(clauses...),
		Sort:   []docstore.SortField{{Field: "operationCode"}},
		Skip:   page.Offset(),
		Limit:  page.PerPage,
	})
	if err != nil {
		return ListResult{}, mapError(err)
	}
	out := make([]Operation, 0, len(docs))
	for _, doc := range docs {
		op, err := decode(doc)
		if err != nil {
			return ListResult{}, err
		}
		out = append(out, *op)
	}
	page = shared.NewPagination(page.Page, page.PerPage, total)
	return ListResult{Operations: out, Total: total, Page: page.Page, Limit: page.PerPage, TotalPages: page.TotalPages}, nil
}

// Update replaces the editable fields of an entry and re-derives its total time.
func (s *Service) Update(ctx context.Context, id string, in Operation) (*Operation, error) {
	if err := check(&in); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		next := *current
		next.OperationCode = in.OperationCode
		next.OperationName = in.OperationName
		next.Description = in.Description
		next.WorkCenter = in.WorkCenter
		next.Machine = in.Machine
		next.SetupTime = in.SetupTime
		next.CNCTime = in.CNCTime
		next.Active = in.Active
		next.derive()

		patch := docstore.Patch{Set: body(next)}
		doc, err := s.store.UpdateOne(ctx, Collection, docstore.ByIDAndVersion(id, current.Version), patch)
		if err == nil {
			return decode(doc)
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return nil, mapError(err)
		}
		if attempt >= maxRetries {
			return nil, fmt.Errorf("%w: entry %s kept changing", ErrConflict, id)
		}
	}
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, Collection, docstore.ByID(id))
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func check(op *Operation) error {
	op.OperationCode = strings.TrimSpace(op.OperationCode)
	op.OperationName = strings.TrimSpace(op.OperationName)
	op.derive()
	if err := validate.Struct(op); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(parts, "; "))
	}
	return nil
}

func body(op Operation) map[string]any {
	return map[string]any{
		"operationCode": op.OperationCode,
		"operationName": op.OperationName,
		"description":   op.Description,
		"workCenter":    op.WorkCenter,
		"machine":       op.Machine,
		"setupTime":     op.SetupTime,
		"cncTime":       op.CNCTime,
		"totalTime":     op.TotalTime,
		"active":        op.Active,
		"createdBy":     op.CreatedBy,
	}
}

func decode(doc docstore.Document) (*Operation, error) {
	var op Operation
	if err := doc.Decode(&op); err != nil {
		return nil, fmt.Errorf("decode catalog operation %s: %w", doc.ID, err)
	}
	op.ID = doc.ID
	op.Version = doc.Version
	op.CreatedAt = doc.CreatedAt
	op.UpdatedAt = doc.UpdatedAt
	return &op, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, docstore.ErrDuplicate):
		return fmt.Errorf("%w: operation code already exists", ErrConflict)
	}
	return err
}
