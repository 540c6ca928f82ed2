package geo

import (
	"fmt"
	"strings"
)

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultCellPrecision is the geohash length whose cells are roughly 153m x 153m.
const DefaultCellPrecision = 7

// MaxCellPrecision bounds the precision to what a float64 can meaningfully resolve.
const MaxCellPrecision = 12

// Encode returns the base32 geohash of c at the given precision.
func Encode(c Coordinate, precision int) string {
	if precision <= 0 {
		return ""
	}
	if precision > MaxCellPrecision {
		precision = MaxCellPrecision
	}
	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	bit, ch := 0, 0
	even := true
	for sb.Len() < precision {
		if even {
			mid := (lonLo + lonHi) / 2
			if c.Longitude >= mid {
				ch = ch<<1 | 1
				lonLo = mid
			} else {
				ch <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if c.Latitude >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		even = !even
		if bit < 4 {
			bit++
			continue
		}
		sb.WriteByte(geohashAlphabet[ch])
		bit, ch = 0, 0
	}
	return sb.String()
}

// DecodeBounds returns the cell rectangle addressed by hash.
func DecodeBounds(hash string) (Bounds, error) {
	if hash == "" {
		return Bounds{}, fmt.Errorf("empty geohash")
	}
	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0
	even := true
	for i := 0; i < len(hash); i++ {
		idx := strings.IndexByte(geohashAlphabet, hash[i])
		if idx < 0 {
			return Bounds{}, fmt.Errorf("invalid geohash character %q in %q", hash[i], hash)
		}
		for mask := 16; mask > 0; mask >>= 1 {
			if even {
				mid := (lonLo + lonHi) / 2
				if idx&mask != 0 {
					lonLo = mid
				} else {
					lonHi = mid
				}
			} else {
				mid := (latLo + latHi) / 2
				if idx&mask != 0 {
					latLo = mid
				} else {
					latHi = mid
				}
			}
			even = !even
		}
	}
	return Bounds{South: latLo, North: latHi, West: lonLo, East: lonHi}, nil
}

// DecodeCenter returns the center point of the cell addressed by hash.
func DecodeCenter(hash string) (Coordinate, error) {
	b, err := DecodeBounds(hash)
	if err != nil {
		return Coordinate{}, err
	}
	return b.Center(), nil
}
