package batch

import (
	"github.com/zeebo/xxh3"
)

// Digest is an order-independent fingerprint of row contents. Two streams
// with the same multiset of rows (compared through FormatValue) produce the
// same digest regardless of row order or batch boundaries.
type Digest struct {
	sum   uint64
	count int64
	buf   []byte
}

// Add folds every row of b into the digest.
func (d *Digest) Add(b *Batch) {
	for _, row := range b.Rows {
		d.AddRow(row)
	}
}

// AddRow folds one row into the digest.
func (d *Digest) AddRow(row []any) {
	d.buf = d.buf[:0]
	for i, v := range row {
		if i > 0 {
			d.buf = append(d.buf, 0x1f)
		}
		d.buf = append(d.buf, FormatValue(v)...)
	}
	d.sum += xxh3.Hash(d.buf)
	d.count++
}

// Sum returns the combined hash.
func (d *Digest) Sum() uint64 { return d.sum }

// Count returns the number of rows folded in.
func (d *Digest) Count() int64 { return d.count }
