package catalog

import (
	"strconv"
	"strings"

	"github.com/pilosa/lcdk"
	"github.com/pkg/errors"
)

// Profile selects how the magnitude error of a row is obtained.
type Profile int

const (
	// DirectFields reads every value, including magnitude error, from its
	// own column.
	DirectFields Profile = iota
	// DerivedMagError computes the magnitude error from flux and flux error
	// as 1.0857*fluxErr/flux, or DefaultMagErr when flux is not positive.
	DerivedMagError
)

// DefaultMagErr is the magnitude error assigned by DerivedMagError when flux
// is not positive.
const DefaultMagErr = 0.01

// magErrCoeff is 2.5/ln(10).
const magErrCoeff = 1.0857

func (p Profile) String() string {
	switch p {
	case DirectFields:
		return "direct"
	case DerivedMagError:
		return "derived"
	}
	return "Profile(" + strconv.Itoa(int(p)) + ")"
}

// ParseProfile is the inverse of Profile.String.
func ParseProfile(s string) (Profile, error) {
	switch strings.ToLower(s) {
	case "", "direct":
		return DirectFields, nil
	case "derived":
		return DerivedMagError, nil
	}
	return 0, errors.Errorf("unknown ingestion profile '%s'", s)
}

// Layout gives the column index of each field in a measurement row. An index
// of -1 means the field is absent from the row.
type Layout struct {
	SourceID int
	Class    int
	Band     int
	Time     int
	Flux     int
	FluxErr  int
	Mag      int
	MagErr   int

	Profile Profile

	// NoHeader is set when the first line of a file is data.
	NoHeader bool
}

// CatalogLayout is the column order of combined measurement files:
// source_id,ra,dec,class,band,time,flux,flux_err,mag,mag_err.
var CatalogLayout = Layout{
	SourceID: 0,
	Class:    3,
	Band:     4,
	Time:     5,
	Flux:     6,
	FluxErr:  7,
	Mag:      8,
	MagErr:   9,
}

// LightCurveLayout is the column order of per-object light curve files:
// time,band,flux,flux_err,mag,mag_err. The object id comes from the file name.
var LightCurveLayout = Layout{
	SourceID: -1,
	Class:    -1,
	Time:     0,
	Band:     1,
	Flux:     2,
	FluxErr:  3,
	Mag:      4,
	MagErr:   5,
}

// LayoutByName returns a predefined layout: "catalog" or "lightcurve".
func LayoutByName(name string) (Layout, error) {
	switch strings.ToLower(name) {
	case "catalog", "":
		return CatalogLayout, nil
	case "lightcurve", "light-curve", "lc":
		return LightCurveLayout, nil
	}
	return Layout{}, errors.Errorf("unknown layout '%s'", name)
}

// ParseColumns returns base with the column indexes named in spec replaced.
// spec is a comma separated list of name=index pairs, for example
// "time=0,band=1,source_id=-1". The names are source_id, class, band, time,
// flux, flux_err, mag and mag_err. An index of -1 marks the field absent.
func ParseColumns(base Layout, spec string) (Layout, error) {
	l := base
	fields := map[string]*int{
		"source_id": &l.SourceID,
		"class":     &l.Class,
		"band":      &l.Band,
		"time":      &l.Time,
		"flux":      &l.Flux,
		"flux_err":  &l.FluxErr,
		"mag":       &l.Mag,
		"mag_err":   &l.MagErr,
	}
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return base, errors.Errorf("column '%s' is not name=index", pair)
		}
		name := strings.ToLower(strings.TrimSpace(pair[:eq]))
		dst, ok := fields[name]
		if !ok {
			return base, errors.Errorf("unknown column '%s'", name)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(pair[eq+1:]))
		if err != nil || idx < -1 {
			return base, errors.Errorf("invalid index for column %s: '%s'", name, pair[eq+1:])
		}
		*dst = idx
	}
	return l, nil
}

// WithProfile returns a copy of l using profile p.
func (l Layout) WithProfile(p Profile) Layout {
	l.Profile = p
	return l
}

// width is the minimum number of fields a row must have.
func (l Layout) width() int {
	w := 0
	for _, idx := range []int{l.SourceID, l.Class, l.Band, l.Time, l.Flux, l.FluxErr, l.Mag, l.MagErr} {
		if idx+1 > w {
			w = idx + 1
		}
	}
	return w
}

// Validate checks that the columns required by the profile are present.
func (l Layout) Validate() error {
	if l.Time < 0 || l.Band < 0 || l.Flux < 0 || l.FluxErr < 0 || l.Mag < 0 {
		return errors.New("layout must locate time, band, flux, flux error and magnitude")
	}
	if l.Profile == DirectFields && l.MagErr < 0 {
		return errors.New("direct profile needs a magnitude error column")
	}
	return nil
}

// row is one parsed measurement line.
type row struct {
	sourceID int64
	class    string
	obs      lcdk.Observation
}

// parse converts the fields of one line. Any non-numeric value or a short row
// is an error.
func (l Layout) parse(fields []string, epoch Epoch) (row, error) {
	var r row
	if len(fields) < l.width() {
		return r, errors.Errorf("expected at least %d fields, got %d", l.width(), len(fields))
	}
	var err error
	if l.SourceID >= 0 {
		r.sourceID, err = strconv.ParseInt(strings.TrimSpace(fields[l.SourceID]), 10, 64)
		if err != nil {
			return r, errors.Wrap(err, "parsing source id")
		}
	}
	if l.Class >= 0 {
		r.class = strings.TrimSpace(fields[l.Class])
	}
	days, err := parseFloat(fields[l.Time], "time")
	if err != nil {
		return r, err
	}
	o := lcdk.Observation{
		Timestamp: epoch.Timestamp(days),
		JD:        epoch.JulianDate(days),
		Band:      strings.TrimSpace(fields[l.Band]),
	}
	if o.Flux, err = parseFloat(fields[l.Flux], "flux"); err != nil {
		return r, err
	}
	if o.FluxErr, err = parseFloat(fields[l.FluxErr], "flux error"); err != nil {
		return r, err
	}
	if o.Mag, err = parseFloat(fields[l.Mag], "mag"); err != nil {
		return r, err
	}
	switch l.Profile {
	case DerivedMagError:
		o.MagErr = DeriveMagErr(o.Flux, o.FluxErr)
	default:
		if o.MagErr, err = parseFloat(fields[l.MagErr], "mag error"); err != nil {
			return r, err
		}
	}
	r.obs = o
	return r, nil
}

// DeriveMagErr converts a flux error to a magnitude error.
func DeriveMagErr(flux, fluxErr float64) float64 {
	if flux <= 0 {
		return DefaultMagErr
	}
	return magErrCoeff * fluxErr / flux
}

func parseFloat(s, field string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", field)
	}
	return f, nil
}
