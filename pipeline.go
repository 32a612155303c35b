package lcdk

import (
	"context"
	"io"
)

// Store is the time-series store that light curves are loaded into. A Store
// hands out connections; each ingest worker owns exactly one Conn for its
// whole lifetime.
type Store interface {
	// EnsureContainer creates the named container (database) if it does not
	// exist yet.
	EnsureContainer(ctx context.Context, spec ContainerSpec) error
	// DropContainer removes the container and everything in it. Dropping a
	// container which does not exist is not an error.
	DropContainer(ctx context.Context, name string) error
	// Connect opens a new connection to the named container.
	Connect(ctx context.Context, container string) (Conn, error)
	io.Closer
}

// Conn is a single connection to a container. Implementations need not be
// safe for concurrent use.
type Conn interface {
	// EnsureParentTable creates the parent table if it does not exist.
	EnsureParentTable(ctx context.Context, table ParentTable) error
	// CreateChildTables creates every table in tables which does not exist
	// yet, in a single statement, and returns how many were newly created.
	CreateChildTables(ctx context.Context, parent string, tables []ChildTable) (int64, error)
	// PrepareInsert prepares a multi-row insert into children of parent.
	PrepareInsert(ctx context.Context, parent string) (InsertStmt, error)
	// Query runs sql with '?' placeholders bound to args.
	Query(ctx context.Context, sql string, args ...interface{}) (Rows, error)
	io.Closer
}

// InsertStmt is a prepared multi-row insert. Use follows
// SetTable -> BindBatch -> AddBatch -> Execute, repeated as needed. An
// InsertStmt must never be shared between goroutines.
type InsertStmt interface {
	SetTable(ctx context.Context, name string) error
	BindBatch(b *ColumnBatch) error
	AddBatch() error
	Execute(ctx context.Context) (int64, error)
	io.Closer
}

// Rows iterates over a query result. Columns are read by position in
// select-list order.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// ContainerSpec describes a container to create. Groups is a parallelism
// hint for the number of internal storage groups and KeepDays a retention
// policy; backends apply what they support.
type ContainerSpec struct {
	Name     string
	Groups   int
	KeepDays int
}

// Column is a named, typed column of a parent table.
type Column struct {
	Name string
	Type string
}

// ParentTable is the schema shared by all child tables: the per-row value
// columns and the per-table tag columns.
type ParentTable struct {
	Name    string
	Columns []Column
	Tags    []Column
}

// ChildTable is one per-source table and its tag values.
type ChildTable struct {
	Name         string
	PartitionKey int64
	SourceID     int64
	RA           float64
	Dec          float64
	Class        string
}

// DefaultParent is the default parent table name.
const DefaultParent = "sensor_data"

// Column and tag names of the parent table. Query SQL refers to these.
const (
	ColTimestamp = "ts"
	ColBand      = "band"
	ColMag       = "mag"
	ColMagErr    = "mag_error"
	ColFlux      = "flux"
	ColFluxErr   = "flux_error"
	ColJD        = "jd_tcb"

	TagPartition = "healpix_id"
	TagSourceID  = "source_id"
	TagRA        = "ra"
	TagDec       = "dec"
	TagClass     = "cls"
)

// DefaultParentTable returns the light curve parent table definition.
func DefaultParentTable(name string) ParentTable {
	if name == "" {
		name = DefaultParent
	}
	return ParentTable{
		Name: name,
		Columns: []Column{
			{ColTimestamp, "TIMESTAMP"},
			{ColBand, "NCHAR(16)"},
			{ColMag, "DOUBLE"},
			{ColMagErr, "DOUBLE"},
			{ColFlux, "DOUBLE"},
			{ColFluxErr, "DOUBLE"},
			{ColJD, "DOUBLE"},
		},
		Tags: []Column{
			{TagPartition, "BIGINT"},
			{TagSourceID, "BIGINT"},
			{TagRA, "DOUBLE"},
			{TagDec, "DOUBLE"},
			{TagClass, "NCHAR(32)"},
		},
	}
}

// ValidIdentifier reports whether name can be used unquoted as a table,
// view or container name: a letter or underscore followed by letters,
// digits and underscores.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
