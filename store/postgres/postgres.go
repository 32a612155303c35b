// Package postgres is an lcdk.Store in PostgreSQL. Each container is a
// schema; workers each hold one connection acquired from a per-container
// pool whose search_path is that schema.
package postgres

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/store/sqlutil"
	"github.com/pkg/errors"
)

// Store connects to the database named by DSN.
type Store struct {
	DSN string

	// MaxConns caps each container pool. Zero leaves the pgxpool default.
	MaxConns int32

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// New returns a Store for dsn.
func New(dsn string) *Store {
	return &Store{DSN: dsn, pools: make(map[string]*pgxpool.Pool)}
}

// schemaName folds a container name the way Postgres folds unquoted
// identifiers, so catalog lookups match what CREATE SCHEMA stored.
func schemaName(container string) string {
	return strings.ToLower(container)
}

func (s *Store) pool(ctx context.Context, schema string) (*pgxpool.Pool, error) {
	if !lcdk.ValidIdentifier(schema) {
		return nil, errors.Errorf("invalid container name '%s'", schema)
	}
	schema = schemaName(schema)
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pools[schema]; ok {
		return p, nil
	}
	cfg, err := pgxpool.ParseConfig(s.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres dsn")
	}
	if schema != "public" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	if s.MaxConns > 0 {
		cfg.MaxConns = s.MaxConns
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	s.pools[schema] = p
	return p, nil
}

// EnsureContainer implements lcdk.Store by creating a schema.
func (s *Store) EnsureContainer(ctx context.Context, spec lcdk.ContainerSpec) error {
	p, err := s.pool(ctx, "public")
	if err != nil {
		return err
	}
	if !lcdk.ValidIdentifier(spec.Name) {
		return errors.Errorf("invalid container name '%s'", spec.Name)
	}
	_, err = p.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schemaName(spec.Name))
	return errors.Wrap(err, "creating schema")
}

// DropContainer implements lcdk.Store.
func (s *Store) DropContainer(ctx context.Context, name string) error {
	if !lcdk.ValidIdentifier(name) {
		return errors.Errorf("invalid container name '%s'", name)
	}
	name = schemaName(name)
	s.mu.Lock()
	if p, ok := s.pools[name]; ok {
		p.Close()
		delete(s.pools, name)
	}
	s.mu.Unlock()
	p, err := s.pool(ctx, "public")
	if err != nil {
		return err
	}
	_, err = p.Exec(ctx, "DROP SCHEMA IF EXISTS "+name+" CASCADE")
	return errors.Wrap(err, "dropping schema")
}

// Connect implements lcdk.Store.
func (s *Store) Connect(ctx context.Context, container string) (lcdk.Conn, error) {
	p, err := s.pool(ctx, container)
	if err != nil {
		return nil, err
	}
	var exists bool
	err = p.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)", schemaName(container)).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "checking schema")
	}
	if !exists {
		return nil, errors.Errorf("container %s does not exist", container)
	}
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquiring connection")
	}
	return &conn{c: c}, nil
}

// Close closes every pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, p := range s.pools {
		p.Close()
		delete(s.pools, name)
	}
	return nil
}

func pgType(typ string) string {
	t := strings.ToUpper(typ)
	switch {
	case t == "TIMESTAMP", t == "BIGINT":
		return "BIGINT"
	case t == "DOUBLE", t == "FLOAT":
		return "DOUBLE PRECISION"
	case strings.HasPrefix(t, "NCHAR"):
		return "VARCHAR" + strings.TrimPrefix(t, "NCHAR")
	case strings.HasPrefix(t, "INT"):
		return "INTEGER"
	}
	return "TEXT"
}

type conn struct {
	c *pgxpool.Conn
}

func (c *conn) EnsureParentTable(ctx context.Context, table lcdk.ParentTable) error {
	stmts, err := sqlutil.ParentDDL(table, pgType, "", "CREATE OR REPLACE VIEW")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := c.c.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "executing '%s'", stmt)
		}
	}
	return nil
}

func (c *conn) CreateChildTables(ctx context.Context, parent string, tables []lcdk.ChildTable) (int64, error) {
	if len(tables) == 0 {
		return 0, nil
	}
	if !lcdk.ValidIdentifier(parent) {
		return 0, errors.Errorf("invalid parent table name '%s'", parent)
	}
	query, args := sqlutil.InsertTags(parent, tables, sqlutil.Dollar)
	tag, err := c.c.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "inserting tags")
	}
	return tag.RowsAffected(), nil
}

func (c *conn) PrepareInsert(ctx context.Context, parent string) (lcdk.InsertStmt, error) {
	if !lcdk.ValidIdentifier(parent) {
		return nil, errors.Errorf("invalid parent table name '%s'", parent)
	}
	return &stmt{c: c.c, parent: parent}, nil
}

func (c *conn) Query(ctx context.Context, query string, args ...interface{}) (lcdk.Rows, error) {
	r, err := c.c.Query(ctx, sqlutil.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying")
	}
	return rows{r}, nil
}

func (c *conn) Close() error {
	c.c.Release()
	return nil
}

// rows adapts pgx.Rows, whose Close returns nothing.
type rows struct {
	pgx.Rows
}

func (r rows) Close() error {
	r.Rows.Close()
	return r.Rows.Err()
}

type stmt struct {
	c      *pgxpool.Conn
	parent string

	table   string
	bound   [][]interface{}
	pending [][]interface{}
}

func (s *stmt) SetTable(ctx context.Context, name string) error {
	var exists bool
	err := s.c.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+sqlutil.TagsTable(s.parent)+" WHERE "+sqlutil.TableName+" = $1)", name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "checking table")
	}
	if !exists {
		return errors.Errorf("table %s does not exist", name)
	}
	s.table = name
	s.bound, s.pending = nil, nil
	return nil
}

func (s *stmt) BindBatch(b *lcdk.ColumnBatch) error {
	if s.table == "" {
		return errors.New("no table set")
	}
	s.bound = make([][]interface{}, 0, b.Len())
	for i := 0; i < b.Len(); i++ {
		if int(b.BandLens[i]) != len(b.Bands[i]) {
			return errors.Errorf("row %d: band length %d does not match '%s'", i, b.BandLens[i], b.Bands[i])
		}
		s.bound = append(s.bound, []interface{}{
			s.table, b.Timestamps[i], b.Bands[i], b.Mags[i], b.MagErrs[i], b.Fluxes[i], b.FluxErrs[i], b.JDs[i],
		})
	}
	return nil
}

func (s *stmt) AddBatch() error {
	if len(s.bound) == 0 {
		return errors.New("nothing bound")
	}
	s.pending = append(s.pending, s.bound...)
	s.bound = nil
	return nil
}

// Execute copies the pending rows with the COPY protocol.
func (s *stmt) Execute(ctx context.Context) (int64, error) {
	pending := s.pending
	s.pending = nil
	if len(pending) == 0 {
		return 0, nil
	}
	n, err := s.c.CopyFrom(ctx, pgx.Identifier{sqlutil.ObsTable(s.parent)}, sqlutil.ObsColumns, pgx.CopyFromRows(pending))
	return n, errors.Wrap(err, "copying rows")
}

func (s *stmt) Close() error { return nil }
