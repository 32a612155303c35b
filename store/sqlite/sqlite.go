// Package sqlite is an lcdk.Store kept in SQLite database files, one file
// per container.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/store/sqlutil"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps each container in <Dir>/<name>.db.
type Store struct {
	Dir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New returns a Store rooted at dir. The directory is created on first use.
func New(dir string) *Store {
	return &Store{Dir: dir, dbs: make(map[string]*sql.DB)}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name+".db")
}

// db returns the open handle for a container, opening it if needed.
// create allows a missing file to be created.
func (s *Store) db(ctx context.Context, name string, create bool) (*sql.DB, error) {
	if !lcdk.ValidIdentifier(name) {
		return nil, errors.Errorf("invalid container name '%s'", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[name]; ok {
		return db, nil
	}
	path := s.path(name)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrapf(err, "container %s", name)
		}
	} else if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging sqlite")
	}
	s.dbs[name] = db
	return db, nil
}

// EnsureContainer implements lcdk.Store. Groups and KeepDays have no SQLite
// equivalent and are ignored.
func (s *Store) EnsureContainer(ctx context.Context, spec lcdk.ContainerSpec) error {
	_, err := s.db(ctx, spec.Name, true)
	return err
}

// DropContainer implements lcdk.Store.
func (s *Store) DropContainer(ctx context.Context, name string) error {
	if !lcdk.ValidIdentifier(name) {
		return errors.Errorf("invalid container name '%s'", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[name]; ok {
		if err := db.Close(); err != nil {
			return errors.Wrap(err, "closing sqlite")
		}
		delete(s.dbs, name)
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path(name) + suffix); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "removing database file")
		}
	}
	return nil
}

// Connect implements lcdk.Store.
func (s *Store) Connect(ctx context.Context, container string) (lcdk.Conn, error) {
	db, err := s.db(ctx, container, false)
	if err != nil {
		return nil, err
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting connection")
	}
	return &conn{c: c}, nil
}

// Close closes every open database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "closing %s", name)
		}
		delete(s.dbs, name)
	}
	return first
}

func sqliteType(typ string) string {
	t := strings.ToUpper(typ)
	switch {
	case t == "TIMESTAMP", t == "BIGINT", t == "INT", strings.HasPrefix(t, "INT"):
		return "INTEGER"
	case t == "DOUBLE", t == "FLOAT":
		return "REAL"
	}
	return "TEXT"
}

type conn struct {
	c *sql.Conn
}

func (c *conn) EnsureParentTable(ctx context.Context, table lcdk.ParentTable) error {
	key := "PRIMARY KEY (" + sqlutil.TableName + ", " + lcdk.ColTimestamp + ")"
	stmts, err := sqlutil.ParentDDL(table, sqliteType, key, "CREATE VIEW IF NOT EXISTS")
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := c.c.ExecContext(ctx, stmt); err != nil {
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
	query, args := sqlutil.InsertTags(parent, tables, sqlutil.Question)
	res, err := c.c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "inserting tags")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "getting rows affected")
}

func (c *conn) PrepareInsert(ctx context.Context, parent string) (lcdk.InsertStmt, error) {
	if !lcdk.ValidIdentifier(parent) {
		return nil, errors.Errorf("invalid parent table name '%s'", parent)
	}
	insert := "INSERT OR REPLACE INTO " + sqlutil.ObsTable(parent) + " (" + strings.Join(sqlutil.ObsColumns, ", ") +
		") VALUES (?" + strings.Repeat(", ?", len(sqlutil.ObsColumns)-1) + ")"
	ps, err := c.c.PrepareContext(ctx, insert)
	if err != nil {
		return nil, errors.Wrap(err, "preparing insert")
	}
	exists, err := c.c.PrepareContext(ctx, "SELECT 1 FROM "+sqlutil.TagsTable(parent)+" WHERE "+sqlutil.TableName+" = ?")
	if err != nil {
		ps.Close()
		return nil, errors.Wrap(err, "preparing table check")
	}
	return &stmt{c: c.c, insert: ps, exists: exists}, nil
}

func (c *conn) Query(ctx context.Context, query string, args ...interface{}) (lcdk.Rows, error) {
	rows, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying")
	}
	return rows, nil
}

func (c *conn) Close() error {
	return c.c.Close()
}

type stmt struct {
	c      *sql.Conn
	insert *sql.Stmt
	exists *sql.Stmt

	table   string
	bound   []lcdk.Observation
	pending []lcdk.Observation
}

func (s *stmt) SetTable(ctx context.Context, name string) error {
	var one int
	err := s.exists.QueryRowContext(ctx, name).Scan(&one)
	if err == sql.ErrNoRows {
		return errors.Errorf("table %s does not exist", name)
	} else if err != nil {
		return errors.Wrap(err, "checking table")
	}
	s.table = name
	s.bound, s.pending = s.bound[:0], s.pending[:0]
	return nil
}

func (s *stmt) BindBatch(b *lcdk.ColumnBatch) error {
	if s.table == "" {
		return errors.New("no table set")
	}
	s.bound = s.bound[:0]
	for i := 0; i < b.Len(); i++ {
		if int(b.BandLens[i]) != len(b.Bands[i]) {
			return errors.Errorf("row %d: band length %d does not match '%s'", i, b.BandLens[i], b.Bands[i])
		}
		s.bound = append(s.bound, b.Row(i))
	}
	return nil
}

func (s *stmt) AddBatch() error {
	if len(s.bound) == 0 {
		return errors.New("nothing bound")
	}
	s.pending = append(s.pending, s.bound...)
	s.bound = s.bound[:0]
	return nil
}

// Execute writes the pending rows in one transaction.
func (s *stmt) Execute(ctx context.Context) (n int64, err error) {
	pending := s.pending
	s.pending = s.pending[:0]
	if len(pending) == 0 {
		return 0, nil
	}
	tx, err := s.c.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	ins := tx.StmtContext(ctx, s.insert)
	for _, o := range pending {
		if _, err = ins.ExecContext(ctx, s.table, o.Timestamp, o.Band, o.Mag, o.MagErr, o.Flux, o.FluxErr, o.JD); err != nil {
			return 0, errors.Wrap(err, "inserting row")
		}
		n++
	}
	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "committing")
	}
	return n, nil
}

func (s *stmt) Close() error {
	err := s.insert.Close()
	if err2 := s.exists.Close(); err == nil {
		err = err2
	}
	return err
}
