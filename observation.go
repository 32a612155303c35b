package lcdk

// BandWidth is the fixed width of the band column. Longer band labels are
// truncated.
const BandWidth = 16

// Observation is a single light curve measurement.
type Observation struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64
	Band      string
	Mag       float64
	MagErr    float64
	Flux      float64
	FluxErr   float64
	// JD is the Julian date the timestamp was derived from.
	JD float64
}

// ColumnBatch holds a batch of observations as the seven parallel column
// buffers bound to a prepared insert. BandLens carries the explicit byte
// length of each band value.
type ColumnBatch struct {
	Timestamps []int64
	Bands      []string
	BandLens   []int32
	Mags       []float64
	MagErrs    []float64
	Fluxes     []float64
	FluxErrs   []float64
	JDs        []float64
}

// NewColumnBatch returns a ColumnBatch with room for size rows.
func NewColumnBatch(size int) *ColumnBatch {
	return &ColumnBatch{
		Timestamps: make([]int64, 0, size),
		Bands:      make([]string, 0, size),
		BandLens:   make([]int32, 0, size),
		Mags:       make([]float64, 0, size),
		MagErrs:    make([]float64, 0, size),
		Fluxes:     make([]float64, 0, size),
		FluxErrs:   make([]float64, 0, size),
		JDs:        make([]float64, 0, size),
	}
}

// Reset empties the batch, keeping the allocated buffers.
func (b *ColumnBatch) Reset() {
	b.Timestamps = b.Timestamps[:0]
	b.Bands = b.Bands[:0]
	b.BandLens = b.BandLens[:0]
	b.Mags = b.Mags[:0]
	b.MagErrs = b.MagErrs[:0]
	b.Fluxes = b.Fluxes[:0]
	b.FluxErrs = b.FluxErrs[:0]
	b.JDs = b.JDs[:0]
}

// Append copies o into the batch.
func (b *ColumnBatch) Append(o Observation) {
	band := o.Band
	if len(band) > BandWidth {
		band = band[:BandWidth]
	}
	b.Timestamps = append(b.Timestamps, o.Timestamp)
	b.Bands = append(b.Bands, band)
	b.BandLens = append(b.BandLens, int32(len(band)))
	b.Mags = append(b.Mags, o.Mag)
	b.MagErrs = append(b.MagErrs, o.MagErr)
	b.Fluxes = append(b.Fluxes, o.Flux)
	b.FluxErrs = append(b.FluxErrs, o.FluxErr)
	b.JDs = append(b.JDs, o.JD)
}

// Len returns the number of rows in the batch.
func (b *ColumnBatch) Len() int {
	return len(b.Timestamps)
}

// Row returns the i'th row of the batch as an Observation.
func (b *ColumnBatch) Row(i int) Observation {
	return Observation{
		Timestamp: b.Timestamps[i],
		Band:      b.Bands[i],
		Mag:       b.Mags[i],
		MagErr:    b.MagErrs[i],
		Flux:      b.Fluxes[i],
		FluxErr:   b.FluxErrs[i],
		JD:        b.JDs[i],
	}
}
