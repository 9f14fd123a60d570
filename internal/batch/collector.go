package batch

import "context"

// Collector is an in-memory Writer capped at Limit rows. It backs previews.
type Collector struct {
	Limit       int
	Schema      []Column
	Rows        [][]any
	ParseErrors []ParseError
}

// NewCollector returns a collector that keeps at most limit rows.
func NewCollector(limit int) *Collector {
	return &Collector{Limit: limit}
}

// Full reports whether the collector has reached its limit.
func (c *Collector) Full() bool {
	return c.Limit > 0 && len(c.Rows) >= c.Limit
}

// Write keeps rows up to the limit and returns how many were kept.
func (c *Collector) Write(_ context.Context, b *Batch) (int, error) {
	if c.Schema == nil {
		c.Schema = b.Schema
	}
	c.ParseErrors = append(c.ParseErrors, b.ParseErrors...)

	rows := b.Rows
	if c.Limit > 0 {
		room := c.Limit - len(c.Rows)
		if room <= 0 {
			return 0, nil
		}
		if len(rows) > room {
			rows = rows[:room]
		}
	}
	c.Rows = append(c.Rows, rows...)
	return len(rows), nil
}

// Close does nothing.
func (c *Collector) Close() error { return nil }
