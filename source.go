package lcdk

import (
	"fmt"
	"io"
)

// UnknownClass is the classification label given to sources whose class is
// not known at ingest time.
const UnknownClass = "unknown"

// Source is one astronomical object: its position, partition key, class
// label and the observations collected for it. A Source is built during the
// catalog scan and is read-only once writers start.
type Source struct {
	ID           int64
	RA           float64
	Dec          float64
	Class        string
	PartitionKey int64

	// Observations holds records read during the scan. It is empty when File
	// is set, in which case the writer reads the records itself.
	Observations []Observation

	// File is the per-object light curve file, if the observations were not
	// loaded during the scan.
	File Opener
}

// TableName returns the name of the child table holding this source's
// observations under the given parent table.
func (s *Source) TableName(parent string) string {
	return fmt.Sprintf("%s_%d_%d", parent, s.PartitionKey, s.ID)
}

// ChildTable returns the child table definition (name and tag values) for
// this source.
func (s *Source) ChildTable(parent string) ChildTable {
	cls := s.Class
	if cls == "" {
		cls = UnknownClass
	}
	return ChildTable{
		Name:         s.TableName(parent),
		PartitionKey: s.PartitionKey,
		SourceID:     s.ID,
		RA:           s.RA,
		Dec:          s.Dec,
		Class:        cls,
	}
}

// ValidCoordinates reports whether ra is in [0,360) and dec in [-90,90].
func ValidCoordinates(ra, dec float64) bool {
	return ra >= 0 && ra < 360 && dec >= -90 && dec <= 90
}

// Opener is a resource which can be repeatedly opened; each call to Open
// reads from the beginning.
type Opener interface {
	Open() (io.ReadCloser, error)
	fmt.Stringer
}
