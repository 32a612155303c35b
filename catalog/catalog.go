// Package catalog builds the in-memory set of sources to ingest: object
// coordinates from a coordinate file, and observations from combined
// measurement files or from per-object light curve files.
package catalog

import (
	"bufio"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pkg/errors"
)

// Stats summarizes what a Catalog has read so far.
type Stats struct {
	// Coordinates is the number of objects loaded from coordinate files.
	Coordinates int
	// CoordinateSkips counts coordinate rows that were malformed or out of
	// range.
	CoordinateSkips int
	// Files is the number of measurement or light curve files read or
	// attached.
	Files int
	// Rows is the number of observation rows accepted.
	Rows int
	// Skipped counts malformed measurement rows.
	Skipped int
	// Unknown counts well formed rows for objects missing from the
	// coordinate file.
	Unknown int
}

// Catalog maps object ids to sources. It is built by a single goroutine and
// must not be modified once writers have started.
type Catalog struct {
	pix     *healpix.Pixelizer
	epoch   Epoch
	fetcher *Fetcher
	log     lcdk.Logger

	sources map[int64]*lcdk.Source
	// perFile is set once light curve files have been attached; Entries then
	// only returns sources with a file.
	perFile bool
	stats   Stats
}

// Option is a functional option to pass to New.
type Option func(*Catalog)

// OptEpoch sets the mission epoch used to convert time columns.
func OptEpoch(e Epoch) Option {
	return func(c *Catalog) {
		c.epoch = e
	}
}

// OptFetcher sets the Fetcher used to list and open input locations.
func OptFetcher(f *Fetcher) Option {
	return func(c *Catalog) {
		c.fetcher = f
	}
}

// OptLogger sets the logger.
func OptLogger(l lcdk.Logger) Option {
	return func(c *Catalog) {
		c.log = l
	}
}

// New returns an empty Catalog which computes partition keys with pix.
func New(pix *healpix.Pixelizer, opts ...Option) *Catalog {
	c := &Catalog{
		pix:     pix,
		epoch:   DefaultEpoch,
		fetcher: &Fetcher{},
		log:     lcdk.NopLogger{},
		sources: make(map[int64]*lcdk.Source),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Epoch returns the epoch rows are converted with.
func (c *Catalog) Epoch() Epoch { return c.epoch }

// LoadCoordinates reads "id,ra,dec[,class]" rows following a header line.
// Rows which are short, non-numeric or out of range are skipped and counted.
// A repeated id replaces the earlier position.
func (c *Catalog) LoadCoordinates(r io.Reader) error {
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	first := true
	for scan.Scan() {
		txt := strings.TrimSpace(scan.Text())
		if first {
			first = false
			continue
		}
		if txt == "" {
			continue
		}
		fields := strings.Split(txt, ",")
		src, err := c.parseCoordinate(fields)
		if err != nil {
			c.stats.CoordinateSkips++
			c.log.Debugf("skipping coordinate row '%s': %v", txt, err)
			continue
		}
		if _, ok := c.sources[src.ID]; !ok {
			c.stats.Coordinates++
		}
		c.sources[src.ID] = src
	}
	return errors.Wrap(scan.Err(), "scanning coordinates")
}

func (c *Catalog) parseCoordinate(fields []string) (*lcdk.Source, error) {
	if len(fields) < 3 {
		return nil, errors.Errorf("expected at least 3 fields, got %d", len(fields))
	}
	id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parsing id")
	}
	ra, err := parseFloat(fields[1], "ra")
	if err != nil {
		return nil, err
	}
	dec, err := parseFloat(fields[2], "dec")
	if err != nil {
		return nil, err
	}
	if !lcdk.ValidCoordinates(ra, dec) {
		return nil, errors.Errorf("coordinates (%v, %v) out of range", ra, dec)
	}
	src := &lcdk.Source{
		ID:           id,
		RA:           ra,
		Dec:          dec,
		PartitionKey: c.pix.PartitionKey(ra, dec),
	}
	if len(fields) > 3 {
		src.Class = strings.TrimSpace(fields[3])
	}
	return src, nil
}

// LoadMeasurements reads rows in the given layout from r, appending each
// observation to its source. name identifies r in log messages. Rows for
// objects without coordinates are dropped and counted.
func (c *Catalog) LoadMeasurements(name string, r io.Reader, layout Layout) error {
	if layout.SourceID < 0 {
		return errors.New("measurement layout needs a source id column")
	}
	if err := layout.Validate(); err != nil {
		return errors.Wrap(err, "validating layout")
	}
	c.stats.Files++
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scan.Scan() {
		line++
		if line == 1 && !layout.NoHeader {
			continue
		}
		txt := strings.TrimSpace(scan.Text())
		if txt == "" {
			continue
		}
		row, err := layout.parse(strings.Split(txt, ","), c.epoch)
		if err != nil {
			c.stats.Skipped++
			c.log.Debugf("%s: skipping line %d: %v", name, line, err)
			continue
		}
		src, ok := c.sources[row.sourceID]
		if !ok {
			c.stats.Unknown++
			continue
		}
		if (src.Class == "" || src.Class == lcdk.UnknownClass) && row.class != "" {
			src.Class = row.class
		}
		src.Observations = append(src.Observations, row.obs)
		c.stats.Rows++
	}
	return errors.Wrapf(scan.Err(), "scanning '%s', line %d", name, line)
}

// LoadCatalogDir reads every catalog_*.csv file under location, a local
// directory or s3://bucket/prefix, in name order.
func (c *Catalog) LoadCatalogDir(location string, layout Layout) error {
	files, err := c.fetcher.List(location, func(base string) bool {
		return strings.HasPrefix(base, "catalog_") && strings.HasSuffix(base, ".csv")
	})
	if err != nil {
		return errors.Wrap(err, "listing catalog files")
	}
	for _, f := range files {
		if err := c.loadFile(f, layout); err != nil {
			return err
		}
	}
	c.log.Printf("read %d catalog files from %s", len(files), location)
	return nil
}

func (c *Catalog) loadFile(f lcdk.Opener, layout Layout) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening %s", f)
	}
	defer rc.Close()
	return c.LoadMeasurements(f.String(), rc, layout)
}

// LoadCoordinateFile opens location with the catalog's Fetcher and loads it
// with LoadCoordinates.
func (c *Catalog) LoadCoordinateFile(location string) error {
	f := c.fetcher.Opener(location)
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "opening %s", f)
	}
	defer rc.Close()
	return c.LoadCoordinates(rc)
}

// ScanLightCurveDir attaches each <anything>_<id>.csv file under location to
// the source with that id. Observations are not read; writers read each file
// with ReadLightCurve. Files whose id can't be parsed or has no coordinates
// are ignored. After a scan, Entries only returns sources with a file.
func (c *Catalog) ScanLightCurveDir(location string) error {
	files, err := c.fetcher.List(location, func(base string) bool {
		return strings.HasSuffix(base, ".csv")
	})
	if err != nil {
		return errors.Wrap(err, "listing light curve files")
	}
	c.perFile = true
	for _, f := range files {
		id, ok := SourceIDFromName(f.String())
		if !ok {
			continue
		}
		src, ok := c.sources[id]
		if !ok {
			c.stats.Unknown++
			continue
		}
		src.File = f
		c.stats.Files++
	}
	c.log.Printf("attached %d light curve files from %s", c.stats.Files, location)
	return nil
}

// SourceIDFromName extracts the id from a file name of the form
// <anything>_<id>.<ext>.
func SourceIDFromName(name string) (int64, bool) {
	base := filepath.Base(name)
	us := strings.LastIndex(base, "_")
	if us < 0 {
		return 0, false
	}
	rest := base[us+1:]
	if dot := strings.LastIndex(rest, "."); dot >= 0 {
		rest = rest[:dot]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ReadLightCurve parses every row of r in the given layout. It returns the
// observations and the number of malformed rows skipped.
func ReadLightCurve(r io.Reader, layout Layout, epoch Epoch) ([]lcdk.Observation, int, error) {
	if err := layout.Validate(); err != nil {
		return nil, 0, errors.Wrap(err, "validating layout")
	}
	scan := bufio.NewScanner(r)
	obs := make([]lcdk.Observation, 0)
	skipped, line := 0, 0
	for scan.Scan() {
		line++
		if line == 1 && !layout.NoHeader {
			continue
		}
		txt := strings.TrimSpace(scan.Text())
		if txt == "" {
			continue
		}
		row, err := layout.parse(strings.Split(txt, ","), epoch)
		if err != nil {
			skipped++
			continue
		}
		obs = append(obs, row.obs)
	}
	return obs, skipped, errors.Wrapf(scan.Err(), "scanning line %d", line)
}

// Entries returns the catalog's sources ordered by object id.
func (c *Catalog) Entries() []*lcdk.Source {
	ret := make([]*lcdk.Source, 0, len(c.sources))
	for _, src := range c.sources {
		if c.perFile && src.File == nil {
			continue
		}
		ret = append(ret, src)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	if !c.perFile {
		return len(c.sources)
	}
	n := 0
	for _, src := range c.sources {
		if src.File != nil {
			n++
		}
	}
	return n
}

// Source returns the source with the given id.
func (c *Catalog) Source(id int64) (*lcdk.Source, bool) {
	src, ok := c.sources[id]
	return src, ok
}

// Stats returns read statistics.
func (c *Catalog) Stats() Stats { return c.stats }
