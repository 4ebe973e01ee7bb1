package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// Memory is an in-process Store and Counter. It backs DOCSTORE_DRIVER=memory
// and the service tests.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]map[string]*memDoc
	unique   map[string][]string
	seq      int64
	clock    func() time.Time
	counterM sync.Mutex
	counters map[string]int64
}

type memDoc struct {
	id        string
	version   int64
	raw       []byte
	body      map[string]any
	createdAt time.Time
	updatedAt time.Time
	seq       int64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithUniqueField rejects inserts/updates that would duplicate field within collection.
func WithUniqueField(collection, field string) MemoryOption {
	return func(m *Memory) {
		m.unique[collection] = append(m.unique[collection], field)
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.clock = clock
	}
}

// NewMemory constructs an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data:     make(map[string]map[string]*memDoc),
		unique:   make(map[string][]string),
		counters: make(map[string]int64),
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, collection, id string, body any) (Document, error) {
	raw, decoded, err := encodeBody(body)
	if err != nil {
		return Document{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.collection(collection)
	if _, exists := coll[id]; exists {
		return Document{}, fmt.Errorf("%w: id %s", ErrDuplicate, id)
	}
	if err := m.checkUnique(collection, id, decoded); err != nil {
		return Document{}, err
	}
	now := m.clock()
	m.seq++
	doc := &memDoc{id: id, version: 1, raw: raw, body: decoded, createdAt: now, updatedAt: now, seq: m.seq}
	coll[id] = doc
	return doc.document(), nil
}

// FindOne implements Store.
func (m *Memory) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched, err := m.matching(collection, filter)
	if err != nil {
		return Document{}, err
	}
	if len(matched) == 0 {
		return Document{}, ErrNotFound
	}
	return matched[0].document(), nil
}

// FindMany implements Store.
func (m *Memory) FindMany(ctx context.Context, collection string, q Query) ([]Document, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched, err := m.matching(collection, q.Filter)
	if err != nil {
		return nil, 0, err
	}
	sortDocs(matched, q.Sort)

	total := len(matched)
	start := q.Skip
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	out := make([]Document, 0, end-start)
	for _, d := range matched[start:end] {
		out = append(out, d.document())
	}
	return out, total, nil
}

// UpdateOne implements Store.
func (m *Memory) UpdateOne(ctx context.Context, collection string, filter Filter, patch Patch) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched, err := m.matching(collection, filter)
	if err != nil {
		return Document{}, err
	}
	if len(matched) == 0 {
		return Document{}, ErrNotFound
	}
	target := matched[0]

	var working map[string]any
	if err := json.Unmarshal(target.raw, &working); err != nil {
		return Document{}, err
	}
	if err := applyPatch(working, patch); err != nil {
		return Document{}, err
	}
	raw, err := json.Marshal(working)
	if err != nil {
		return Document{}, err
	}
	if err := m.checkUnique(collection, target.id, working); err != nil {
		return Document{}, err
	}

	target.raw = raw
	target.body = working
	target.version++
	target.updatedAt = m.clock()
	return target.document(), nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched, err := m.matching(collection, filter)
	if err != nil {
		return 0, err
	}
	coll := m.collection(collection)
	for _, d := range matched {
		delete(coll, d.id)
	}
	return int64(len(matched)), nil
}

// Count implements Store.
func (m *Memory) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched, err := m.matching(collection, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Sum implements Store.
func (m *Memory) Sum(ctx context.Context, collection string, filter Filter, fields ...string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched, err := m.matching(collection, filter)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]float64, len(fields))
	for _, field := range fields {
		parts, err := splitPath(field)
		if err != nil {
			return nil, err
		}
		var total float64
		for _, d := range matched {
			if v, ok := lookup(d.body, parts); ok {
				if f, ok := v.(float64); ok {
					total += f
				}
			}
		}
		sums[field] = total
	}
	return sums, nil
}

// Next implements Counter.
func (m *Memory) Next(ctx context.Context, key string, seed SeedFunc) (int64, error) {
	m.counterM.Lock()
	defer m.counterM.Unlock()

	current, ok := m.counters[key]
	if !ok && seed != nil {
		start, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		current = start
	}
	current++
	m.counters[key] = current
	return current, nil
}

func (m *Memory) collection(name string) map[string]*memDoc {
	coll, ok := m.data[name]
	if !ok {
		coll = make(map[string]*memDoc)
		m.data[name] = coll
	}
	return coll
}

func (m *Memory) matching(collection string, filter Filter) ([]*memDoc, error) {
	coll := m.data[collection]
	out := make([]*memDoc, 0, len(coll))
	for _, d := range coll {
		ok, err := matchDoc(d, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (m *Memory) checkUnique(collection, id string, body map[string]any) error {
	for _, field := range m.unique[collection] {
		parts, err := splitPath(field)
		if err != nil {
			return err
		}
		v, ok := lookup(body, parts)
		if !ok || v == nil || v == "" {
			continue
		}
		for otherID, other := range m.data[collection] {
			if otherID == id {
				continue
			}
			if ov, ok := lookup(other.body, parts); ok && reflect.DeepEqual(ov, v) {
				return fmt.Errorf("%w: %s=%v", ErrDuplicate, field, v)
			}
		}
	}
	return nil
}

func (d *memDoc) document() Document {
	raw := make([]byte, len(d.raw))
	copy(raw, d.raw)
	return Document{ID: d.id, Version: d.version, Body: raw, CreatedAt: d.createdAt, UpdatedAt: d.updatedAt}
}

func (d *memDoc) value(field string) (any, bool, error) {
	switch field {
	case FieldID:
		return d.id, true, nil
	case FieldVersion:
		return float64(d.version), true, nil
	case FieldCreatedAt:
		return d.createdAt, true, nil
	case FieldUpdatedAt:
		return d.updatedAt, true, nil
	}
	parts, err := splitPath(field)
	if err != nil {
		return nil, false, err
	}
	v, ok := lookup(d.body, parts)
	return v, ok, nil
}

func encodeBody(body any) ([]byte, map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("docstore: encode body: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, nil, fmt.Errorf("docstore: body must be a JSON object: %w", err)
	}
	return raw, decoded, nil
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func lookup(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, p := range parts {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func setPath(root map[string]any, parts []string, v any) error {
	var cur any = root
	for i, p := range parts {
		last := i == len(parts)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[p] = v
				return nil
			}
			next, ok := node[p]
			if !ok || next == nil {
				created := make(map[string]any)
				node[p] = created
				next = created
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return fmt.Errorf("%w: index %s out of range", ErrInvalidPath, p)
			}
			if last {
				node[idx] = v
				return nil
			}
			cur = node[idx]
		default:
			return fmt.Errorf("%w: %s is not a container", ErrInvalidPath, strings.Join(parts[:i], "."))
		}
	}
	return nil
}

func applyPatch(body map[string]any, patch Patch) error {
	for _, path := range sortedKeys(patch.Set) {
		parts, err := splitPath(path)
		if err != nil {
			return err
		}
		v, err := normalize(patch.Set[path])
		if err != nil {
			return err
		}
		if err := setPath(body, parts, v); err != nil {
			return err
		}
	}
	for _, path := range sortedKeys(patch.Push) {
		parts, err := splitPath(path)
		if err != nil {
			return err
		}
		v, err := normalize(patch.Push[path])
		if err != nil {
			return err
		}
		var arr []any
		if existing, ok := lookup(body, parts); ok && existing != nil {
			cast, ok := existing.([]any)
			if !ok {
				return fmt.Errorf("%w: %s is not an array", ErrInvalidPath, path)
			}
			arr = cast
		}
		if err := setPath(body, parts, append(arr, v)); err != nil {
			return err
		}
	}
	return nil
}

func matchDoc(d *memDoc, f Filter) (bool, error) {
	if f.IsZero() {
		return true, nil
	}
	if len(f.And) > 0 {
		for _, child := range f.And {
			ok, err := matchDoc(d, child)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
	if len(f.Or) > 0 {
		for _, child := range f.Or {
			ok, err := matchDoc(d, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	v, present, err := d.value(f.Field)
	if err != nil {
		return false, err
	}
	switch f.Op {
	case OpEq:
		return present && equalValues(v, f.Value), nil
	case OpIn:
		return present && inValues(v, f.Value), nil
	case OpNotIn:
		return !present || !inValues(v, f.Value), nil
	case OpGte, OpLte, OpLt:
		if !present {
			return false, nil
		}
		cmp, ok := compareValues(v, f.Value)
		if !ok {
			return false, nil
		}
		switch f.Op {
		case OpGte:
			return cmp >= 0, nil
		case OpLte:
			return cmp <= 0, nil
		default:
			return cmp < 0, nil
		}
	case OpContainsFold:
		s, ok := v.(string)
		needle, _ := canonical(f.Value).(string)
		if !present || !ok {
			return false, nil
		}
		return strings.Contains(cases.Fold().String(s), cases.Fold().String(needle)), nil
	default:
		return false, fmt.Errorf("docstore: unsupported operator %q", f.Op)
	}
}

func inValues(v any, list any) bool {
	values, ok := list.([]any)
	if !ok {
		return false
	}
	for _, candidate := range values {
		if equalValues(v, candidate) {
			return true
		}
	}
	return false
}

func equalValues(docVal, filterVal any) bool {
	cmp, ok := compareValues(docVal, filterVal)
	return ok && cmp == 0
}

// canonical reduces named and sized types to string, float64, bool or time.Time.
func canonical(v any) any {
	switch t := v.(type) {
	case nil, string, float64, bool, time.Time:
		return t
	case *time.Time:
		if t == nil {
			return nil
		}
		return *t
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func compareValues(docVal, filterVal any) (int, bool) {
	switch want := canonical(filterVal).(type) {
	case string:
		got, ok := docVal.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(got, want), true
	case float64:
		got, ok := docVal.(float64)
		if !ok {
			return 0, false
		}
		return compareFloat(got, want), true
	case bool:
		got, ok := docVal.(bool)
		if !ok {
			return 0, false
		}
		if got == want {
			return 0, true
		}
		if !got {
			return -1, true
		}
		return 1, true
	case time.Time:
		got, ok := asTime(docVal)
		if !ok {
			return 0, false
		}
		return got.Compare(want), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortDocs(docs []*memDoc, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			vi, _, _ := docs[i].value(sf.Field)
			vj, _, _ := docs[j].value(sf.Field)
			cmp := orderValues(vi, vj)
			if cmp == 0 {
				continue
			}
			if sf.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return docs[i].seq < docs[j].seq
	})
}

func orderValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
