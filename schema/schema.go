// Package schema makes sure the storage layout exists before any
// observation is written: the container, the parent table, and one child
// table per source.
package schema

import (
	"context"
	"time"

	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

// DefaultBatchSize is the number of child tables created per statement.
const DefaultBatchSize = 2000

// CreateReport summarizes a BatchCreateChildTables run.
type CreateReport struct {
	Batches int
	Failed  int
	Created int64
	Elapsed time.Duration
}

// Provisioner creates containers and tables in a Store.
type Provisioner struct {
	Store     lcdk.Store
	BatchSize int
	Log       lcdk.Logger
	Stats     lcdk.Statter

	// OnBatch, if set, is called after each child table batch with the number
	// of tables it created and its error, if any.
	OnBatch func(created int64, err error)
}

// NewProvisioner returns a Provisioner for s with default settings.
func NewProvisioner(s lcdk.Store) *Provisioner {
	return &Provisioner{
		Store:     s,
		BatchSize: DefaultBatchSize,
		Log:       lcdk.NopLogger{},
		Stats:     lcdk.NopStatter{},
	}
}

// EnsureContainer creates the container if it does not exist. Calling it
// repeatedly is harmless.
func (p *Provisioner) EnsureContainer(ctx context.Context, spec lcdk.ContainerSpec) error {
	if spec.Name == "" {
		return errors.New("container name is empty")
	}
	err := p.Store.EnsureContainer(ctx, spec)
	return errors.Wrapf(err, "ensuring container %s", spec.Name)
}

// Reset drops the container and creates it again, empty.
func (p *Provisioner) Reset(ctx context.Context, spec lcdk.ContainerSpec) error {
	if err := p.Store.DropContainer(ctx, spec.Name); err != nil {
		return errors.Wrapf(err, "dropping container %s", spec.Name)
	}
	p.log().Printf("dropped container %s", spec.Name)
	return p.EnsureContainer(ctx, spec)
}

// EnsureParentTable creates the parent table over conn if it does not exist.
func (p *Provisioner) EnsureParentTable(ctx context.Context, conn lcdk.Conn, table lcdk.ParentTable) error {
	if len(table.Columns) == 0 || len(table.Tags) == 0 {
		return errors.Errorf("parent table %s needs columns and tags", table.Name)
	}
	err := conn.EnsureParentTable(ctx, table)
	return errors.Wrapf(err, "ensuring parent table %s", table.Name)
}

// BatchCreateChildTables creates a child table for every entry, BatchSize at
// a time with one call per batch. A failed batch is logged and counted and
// the remaining batches still run. The returned error is non-nil only if ctx
// is canceled, in which case the report covers the batches attempted so far.
func (p *Provisioner) BatchCreateChildTables(ctx context.Context, conn lcdk.Conn, parent string, entries []*lcdk.Source) (CreateReport, error) {
	start := time.Now()
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	var rep CreateReport
	tables := make([]lcdk.ChildTable, 0, size)
	for i := 0; i < len(entries); i += size {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		tables = tables[:0]
		for _, src := range entries[i:end] {
			tables = append(tables, src.ChildTable(parent))
		}
		created, err := conn.CreateChildTables(ctx, parent, tables)
		rep.Batches++
		if err != nil {
			rep.Failed++
			p.log().Printf("creating child tables %d-%d: %v", i, end-1, err)
			p.stats().Count("tables.batch_failures", 1, 1)
		} else {
			rep.Created += created
			p.stats().Count("tables.created", created, 1)
			p.log().Debugf("created child tables %d-%d (%d new)", i, end-1, created)
		}
		if p.OnBatch != nil {
			p.OnBatch(created, err)
		}
	}
	rep.Elapsed = time.Since(start)
	return rep, nil
}

func (p *Provisioner) log() lcdk.Logger {
	if p.Log == nil {
		return lcdk.NopLogger{}
	}
	return p.Log
}

func (p *Provisioner) stats() lcdk.Statter {
	if p.Stats == nil {
		return lcdk.NopStatter{}
	}
	return p.Stats
}
