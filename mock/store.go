package mock

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

// Store is an in-memory lcdk.Store for tests. Failures are injected through
// the Fail* fields, which may be set before use. Store is safe for
// concurrent use; the connections it hands out are not.
type Store struct {
	// FailConnect, when non-nil, is returned by every Connect.
	FailConnect error
	// FailContainer, when non-nil, is returned by EnsureContainer.
	FailContainer error
	// FailParent, when non-nil, is returned by EnsureParentTable.
	FailParent error
	// FailCreate is consulted for each CreateChildTables call with the
	// zero-based call index.
	FailCreate func(call int, tables []lcdk.ChildTable) error
	// FailExecute is consulted for each Execute with the child table name and
	// the zero-based index of the batch within that table.
	FailExecute func(table string, batch int) error
	// QueryFunc answers Query. If nil, Query returns no rows.
	QueryFunc func(sql string, args ...interface{}) (lcdk.Rows, error)

	mu          sync.Mutex
	containers  map[string]lcdk.ContainerSpec
	parents     map[string]lcdk.ParentTable
	tables      map[string]lcdk.ChildTable
	rows        map[string][]lcdk.Observation
	execs       map[string]int
	createCalls int
	connects    int
	open        int
	queries     []string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		containers: make(map[string]lcdk.ContainerSpec),
		parents:    make(map[string]lcdk.ParentTable),
		tables:     make(map[string]lcdk.ChildTable),
		rows:       make(map[string][]lcdk.Observation),
		execs:      make(map[string]int),
	}
}

// EnsureContainer implements lcdk.Store.
func (s *Store) EnsureContainer(ctx context.Context, spec lcdk.ContainerSpec) error {
	if s.FailContainer != nil {
		return s.FailContainer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[spec.Name]; !ok {
		s.containers[spec.Name] = spec
	}
	return nil
}

// DropContainer implements lcdk.Store.
func (s *Store) DropContainer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, name)
	s.parents = make(map[string]lcdk.ParentTable)
	s.tables = make(map[string]lcdk.ChildTable)
	s.rows = make(map[string][]lcdk.Observation)
	s.execs = make(map[string]int)
	return nil
}

// Connect implements lcdk.Store.
func (s *Store) Connect(ctx context.Context, container string) (lcdk.Conn, error) {
	if s.FailConnect != nil {
		return nil, s.FailConnect
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[container]; !ok {
		return nil, errors.Errorf("container %s does not exist", container)
	}
	s.connects++
	s.open++
	return &conn{s: s}, nil
}

// Close implements io.Closer.
func (s *Store) Close() error { return nil }

// Connects returns how many connections have been opened.
func (s *Store) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Open returns how many connections are currently open.
func (s *Store) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// HasContainer reports whether the named container exists.
func (s *Store) HasContainer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.containers[name]
	return ok
}

// HasParent reports whether the named parent table exists.
func (s *Store) HasParent(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.parents[name]
	return ok
}

// Tables returns the names of all child tables, sorted.
func (s *Store) Tables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]string, 0, len(s.tables))
	for name := range s.tables {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Table returns the tag values of a child table.
func (s *Store) Table(name string) (lcdk.ChildTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	return t, ok
}

// Rows returns a copy of the rows written to a child table.
func (s *Store) Rows(table string) []lcdk.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lcdk.Observation(nil), s.rows[table]...)
}

// RowCount returns the number of rows in all child tables.
func (s *Store) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		n += len(r)
	}
	return n
}

// Queries returns every SQL string passed to Query.
func (s *Store) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type conn struct {
	s      *Store
	closed bool
}

func (c *conn) EnsureParentTable(ctx context.Context, table lcdk.ParentTable) error {
	if c.s.FailParent != nil {
		return c.s.FailParent
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.parents[table.Name] = table
	return nil
}

func (c *conn) CreateChildTables(ctx context.Context, parent string, tables []lcdk.ChildTable) (int64, error) {
	c.s.mu.Lock()
	call := c.s.createCalls
	c.s.createCalls++
	c.s.mu.Unlock()
	if c.s.FailCreate != nil {
		if err := c.s.FailCreate(call, tables); err != nil {
			return 0, err
		}
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.parents[parent]; !ok {
		return 0, errors.Errorf("parent table %s does not exist", parent)
	}
	var created int64
	for _, t := range tables {
		if _, ok := c.s.tables[t.Name]; ok {
			continue
		}
		c.s.tables[t.Name] = t
		created++
	}
	return created, nil
}

func (c *conn) PrepareInsert(ctx context.Context, parent string) (lcdk.InsertStmt, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, ok := c.s.parents[parent]; !ok {
		return nil, errors.Errorf("parent table %s does not exist", parent)
	}
	return &stmt{s: c.s}, nil
}

func (c *conn) Query(ctx context.Context, sql string, args ...interface{}) (lcdk.Rows, error) {
	c.s.mu.Lock()
	c.s.queries = append(c.s.queries, sql)
	c.s.mu.Unlock()
	if c.s.QueryFunc != nil {
		return c.s.QueryFunc(sql, args...)
	}
	return NewRows(nil), nil
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.s.mu.Lock()
	c.s.open--
	c.s.mu.Unlock()
	return nil
}

type stmt struct {
	s       *Store
	table   string
	bound   []lcdk.Observation
	pending []lcdk.Observation
}

func (st *stmt) SetTable(ctx context.Context, name string) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if _, ok := st.s.tables[name]; !ok {
		return errors.Errorf("table %s does not exist", name)
	}
	st.table = name
	st.bound, st.pending = nil, nil
	return nil
}

func (st *stmt) BindBatch(b *lcdk.ColumnBatch) error {
	if st.table == "" {
		return errors.New("no table set")
	}
	st.bound = st.bound[:0]
	for i := 0; i < b.Len(); i++ {
		st.bound = append(st.bound, b.Row(i))
	}
	return nil
}

func (st *stmt) AddBatch() error {
	if st.bound == nil {
		return errors.New("nothing bound")
	}
	st.pending = append(st.pending, st.bound...)
	st.bound = nil
	return nil
}

func (st *stmt) Execute(ctx context.Context) (int64, error) {
	st.s.mu.Lock()
	batch := st.s.execs[st.table]
	st.s.execs[st.table]++
	st.s.mu.Unlock()
	pending := st.pending
	st.pending = nil
	if st.s.FailExecute != nil {
		if err := st.s.FailExecute(st.table, batch); err != nil {
			return 0, err
		}
	}
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	st.s.rows[st.table] = append(st.s.rows[st.table], pending...)
	return int64(len(pending)), nil
}

func (st *stmt) Close() error { return nil }

// Rows is an in-memory lcdk.Rows. Scan assigns each value to the
// destination pointer, converting between numeric types where needed.
type Rows struct {
	data [][]interface{}
	i    int
	// Fail, when non-nil, is returned by Err once all rows are read.
	Fail error
}

// NewRows returns Rows iterating over data.
func NewRows(data [][]interface{}) *Rows {
	return &Rows{data: data, i: -1}
}

// Next implements lcdk.Rows.
func (r *Rows) Next() bool {
	r.i++
	return r.i < len(r.data)
}

// Scan implements lcdk.Rows.
func (r *Rows) Scan(dest ...interface{}) error {
	if r.i < 0 || r.i >= len(r.data) {
		return errors.New("scan called without a current row")
	}
	row := r.data[r.i]
	if len(dest) != len(row) {
		return errors.Errorf("expected %d destinations, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Ptr || dv.IsNil() {
			return errors.Errorf("destination %d is not a non-nil pointer", i)
		}
		sv := reflect.ValueOf(row[i])
		if !sv.Type().ConvertibleTo(dv.Elem().Type()) {
			return errors.Errorf("column %d: cannot assign %T to %T", i, row[i], d)
		}
		dv.Elem().Set(sv.Convert(dv.Elem().Type()))
	}
	return nil
}

// Err implements lcdk.Rows.
func (r *Rows) Err() error { return r.Fail }

// Close implements lcdk.Rows.
func (r *Rows) Close() error { return nil }
