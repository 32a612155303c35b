package query

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CSVHeader is the first line written by WriteCSV.
var CSVHeader = []string{"ts", "source_id", "ra", "dec", "band", "cls", "mag", "mag_error", "flux", "flux_error", "jd_tcb"}

// WriteCSV writes rows with a header line. Coordinates carry 8 decimals,
// photometry 6 and Julian dates 10.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return errors.Wrap(err, "writing header")
	}
	rec := make([]string, len(CSVHeader))
	for _, r := range rows {
		rec[0] = strconv.FormatInt(r.Timestamp, 10)
		rec[1] = strconv.FormatInt(r.SourceID, 10)
		rec[2] = strconv.FormatFloat(r.RA, 'f', 8, 64)
		rec[3] = strconv.FormatFloat(r.Dec, 'f', 8, 64)
		rec[4] = r.Band
		rec[5] = r.Class
		rec[6] = strconv.FormatFloat(r.Mag, 'f', 6, 64)
		rec[7] = strconv.FormatFloat(r.MagErr, 'f', 6, 64)
		rec[8] = strconv.FormatFloat(r.Flux, 'f', 6, 64)
		rec[9] = strconv.FormatFloat(r.FluxErr, 'f', 6, 64)
		rec[10] = strconv.FormatFloat(r.JD, 'f', 10, 64)
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "writing row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flushing")
}

// WriteCSVFile writes rows to the named file, replacing it.
func WriteCSVFile(path string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating output file")
	}
	if err := WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return errors.Wrap(f.Close(), "closing output file")
}

// WriteBatch writes each batch result to dir/query_<index>.csv.
func WriteBatch(dir string, res *BatchResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating output directory")
	}
	for i, r := range res.Results {
		if r == nil {
			continue
		}
		if err := WriteCSVFile(filepath.Join(dir, fmt.Sprintf("query_%d.csv", i)), r.Rows); err != nil {
			return errors.Wrapf(err, "query %d", i)
		}
	}
	return nil
}

// ParseCones reads a batch file of ra,dec,radius lines. The first line is
// a header and is always skipped, as are blank lines. Lines that do not hold
// three numbers are skipped and counted.
func ParseCones(r io.Reader) (cones []Cone, skipped int, err error) {
	scan := bufio.NewScanner(r)
	first := true
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if first {
			first = false
			continue
		}
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			skipped++
			continue
		}
		var vals [3]float64
		ok := true
		for i := range vals {
			vals[i], err = strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
			if err != nil {
				ok = false
				break
			}
		}
		if !ok || vals[2] <= 0 {
			skipped++
			continue
		}
		cones = append(cones, Cone{RA: vals[0], Dec: vals[1], Radius: vals[2]})
	}
	if err := scan.Err(); err != nil {
		return nil, skipped, errors.Wrap(err, "reading cones")
	}
	return cones, skipped, nil
}
