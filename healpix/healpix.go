// Package healpix maps sky positions to pixels of the nested HEALPix
// equal-area pixelization. Pixel ids are used as partition keys: coarse
// spatial buckets for data placement and for pruning cone searches.
package healpix

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// MaxOrder is the deepest supported resolution, nside = 2^MaxOrder.
const MaxOrder = 29

// DefaultNside is the resolution used when none is configured.
const DefaultNside = 64

// DefaultExpand is the factor a cone radius is multiplied by before the
// coarse pixel query.
const DefaultExpand = 1.5

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
	halfPi  = math.Pi / 2
	twoPi   = 2 * math.Pi
)

// face-dependent ring and longitude offsets of the 12 base pixels.
var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// Pixelizer computes nested pixel ids at a fixed resolution. It is safe for
// concurrent use.
type Pixelizer struct {
	nside int64
	order uint
}

// New returns a Pixelizer for nside, which must be a power of two between 1
// and 2^MaxOrder.
func New(nside int) (*Pixelizer, error) {
	if nside < 1 || nside&(nside-1) != 0 {
		return nil, errors.Errorf("nside must be a positive power of two, got %d", nside)
	}
	order := uint(0)
	for 1<<order < nside {
		order++
	}
	if order > MaxOrder {
		return nil, errors.Errorf("nside %d exceeds maximum 2^%d", nside, MaxOrder)
	}
	return &Pixelizer{nside: int64(nside), order: order}, nil
}

// Nside returns the resolution parameter.
func (p *Pixelizer) Nside() int64 { return p.nside }

// NPix returns the number of pixels covering the sphere.
func (p *Pixelizer) NPix() int64 { return 12 * p.nside * p.nside }

// PartitionKey returns the nested pixel id containing (ra, dec), both in
// degrees. The colatitude is clamped to [0, π] so that floating point
// overshoot at the poles can't push it out of range.
func (p *Pixelizer) PartitionKey(ra, dec float64) int64 {
	theta := (90 - dec) * deg2rad
	if theta < 0 {
		theta = 0
	}
	if theta > math.Pi {
		theta = math.Pi
	}
	return Ang2PixNest(p.nside, theta, ra*deg2rad)
}

// PixelsInDisc returns, in ascending order, every pixel which may intersect
// the disc of radiusDeg around (ra, dec). The result is a superset of the
// exact answer and always contains the pixel of the center itself.
func (p *Pixelizer) PixelsInDisc(ra, dec, radiusDeg float64) []int64 {
	ra = NormalizeRA(ra)
	dec = ClampDec(dec)
	radius := radiusDeg * deg2rad
	if radius < 0 || math.IsNaN(radius) {
		radius = 0
	}
	center := vector(halfPi-dec*deg2rad, ra*deg2rad)

	var out []int64
	for face := int64(0); face < 12; face++ {
		p.descend(0, face, center, radius, &out)
	}

	own := p.PartitionKey(ra, dec)
	found := false
	for _, pix := range out {
		if pix == own {
			found = true
			break
		}
	}
	if !found {
		out = append(out, own)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExpandedDisc is PixelsInDisc with the radius multiplied by factor first, to
// tolerate partition boundary effects. A factor below 1 is treated as 1.
func (p *Pixelizer) ExpandedDisc(ra, dec, radiusDeg, factor float64) []int64 {
	if factor < 1 {
		factor = 1
	}
	return p.PixelsInDisc(ra, dec, radiusDeg*factor)
}

// descend walks the nested quadtree, keeping children whose center is close
// enough to the disc that some part of the pixel could lie inside it.
func (p *Pixelizer) descend(order uint, pix int64, center [3]float64, radius float64, out *[]int64) {
	nside := int64(1) << order
	theta, phi := Pix2AngNest(nside, pix)
	if angle(center, vector(theta, phi)) > radius+maxPixRadius(nside) {
		return
	}
	if order == p.order {
		*out = append(*out, pix)
		return
	}
	for child := int64(0); child < 4; child++ {
		p.descend(order+1, pix<<2|child, center, radius, out)
	}
}

// maxPixRadius is an upper bound on the angular distance between a pixel's
// center and any point of that pixel. The exact maximum at nside=1 is about
// 0.841 rad and shrinks roughly as 1/nside.
func maxPixRadius(nside int64) float64 {
	return 1.5 * math.Sqrt(math.Pi/3) / float64(nside)
}

// Ang2PixNest returns the nested pixel id of the point at colatitude theta
// and longitude phi (radians).
func Ang2PixNest(nside int64, theta, phi float64) int64 {
	z := math.Cos(theta)
	za := math.Abs(z)
	phi = math.Mod(phi, twoPi)
	if phi < 0 {
		phi += twoPi
	}
	tt := phi / halfPi // in [0,4)

	var face, ix, iy int64
	if za <= 2.0/3 {
		temp1 := float64(nside) * (0.5 + tt)
		temp2 := float64(nside) * z * 0.75
		jp := int64(temp1 - temp2) // ascending edge line
		jm := int64(temp1 + temp2) // descending edge line
		ifp := jp / nside
		ifm := jm / nside
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix = jm & (nside - 1)
		iy = nside - (jp & (nside - 1)) - 1
	} else {
		ntt := int64(tt)
		if ntt >= 4 {
			ntt = 3
		}
		tp := tt - float64(ntt)
		// sqrt(3(1-|z|)) computed from sin(theta), which stays accurate
		// near the poles.
		tmp := float64(nside) * math.Sin(theta) * math.Sqrt(3/(1+za))
		jp := int64(tp * tmp)
		jm := int64((1 - tp) * tmp)
		if jp >= nside {
			jp = nside - 1
		}
		if jm >= nside {
			jm = nside - 1
		}
		if z >= 0 {
			face = ntt
			ix = nside - jm - 1
			iy = nside - jp - 1
		} else {
			face = ntt + 8
			ix = jp
			iy = jm
		}
	}
	return xyf2nest(nside, ix, iy, face)
}

// Pix2AngNest returns the colatitude and longitude (radians) of the center
// of nested pixel pix.
func Pix2AngNest(nside int64, pix int64) (theta, phi float64) {
	npface := nside * nside
	order := uint(0)
	for int64(1)<<order < nside {
		order++
	}
	face := pix >> (2 * order)
	p := pix & (npface - 1)
	ix := compressBits(p)
	iy := compressBits(p >> 1)

	jr := jrll[face]*nside - ix - iy - 1
	npix := 12 * npface
	fact2 := 4 / float64(npix)
	fact1 := float64(nside<<1) * fact2

	var nr, kshift int64
	var z float64
	switch {
	case jr < nside:
		nr = jr
		z = 1 - float64(nr*nr)*fact2
	case jr > 3*nside:
		nr = 4*nside - jr
		z = float64(nr*nr)*fact2 - 1
	default:
		nr = nside
		z = float64(2*nside-jr) * fact1
		kshift = (jr - nside) & 1
	}
	jp := (jpll[face]*nr + ix - iy + 1 + kshift) / 2
	if jp > 4*nside {
		jp -= 4 * nside
	}
	if jp < 1 {
		jp += 4 * nside
	}
	phi = (float64(jp) - float64(1+kshift)*0.5) * (halfPi / float64(nr))
	return math.Acos(z), phi
}

func xyf2nest(nside, ix, iy, face int64) int64 {
	return face*nside*nside + spreadBits(ix) + spreadBits(iy)<<1
}

// spreadBits moves bit i of v to bit 2i.
func spreadBits(v int64) int64 {
	var r int64
	for i := uint(0); i <= MaxOrder; i++ {
		r |= (v >> i & 1) << (2 * i)
	}
	return r
}

// compressBits is the inverse of spreadBits, reading the even bits of v.
func compressBits(v int64) int64 {
	var r int64
	for i := uint(0); i <= MaxOrder; i++ {
		r |= (v >> (2 * i) & 1) << i
	}
	return r
}

func vector(theta, phi float64) [3]float64 {
	st := math.Sin(theta)
	return [3]float64{st * math.Cos(phi), st * math.Sin(phi), math.Cos(theta)}
}

// angle returns the angle in radians between two unit vectors.
func angle(a, b [3]float64) float64 {
	cx := a[1]*b[2] - a[2]*b[1]
	cy := a[2]*b[0] - a[0]*b[2]
	cz := a[0]*b[1] - a[1]*b[0]
	dot := a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
	return math.Atan2(math.Sqrt(cx*cx+cy*cy+cz*cz), dot)
}
