// Package topk maintains the best k candidates of a scan as a bounded
// max-heap keyed by distance.
package topk

import (
	"sort"

	"github.com/vexdb/vexdb/core"
)

// Item is a candidate with its distance.
type Item struct {
	ID       core.VectorID
	Distance float32
}

// Collector keeps the k smallest-distance items offered to it.
type Collector struct {
	k     int
	items []Item // max-heap on Distance
}

// New creates a collector for the best k items. k <= 0 collects nothing.
func New(k int) *Collector {
	if k < 0 {
		k = 0
	}
	return &Collector{k: k, items: make([]Item, 0, k)}
}

// Offer considers a candidate.
func (c *Collector) Offer(id core.VectorID, distance float32) {
	if c.k == 0 {
		return
	}
	if len(c.items) < c.k {
		c.items = append(c.items, Item{ID: id, Distance: distance})
		c.siftUp(len(c.items) - 1)
		return
	}
	if distance >= c.items[0].Distance {
		return
	}
	c.items[0] = Item{ID: id, Distance: distance}
	c.siftDown(0)
}

// Full reports whether k items have been collected.
func (c *Collector) Full() bool {
	return len(c.items) == c.k
}

// Worst returns the largest collected distance.
func (c *Collector) Worst() (float32, bool) {
	if len(c.items) == 0 {
		return 0, false
	}
	return c.items[0].Distance, true
}

// Len returns the number of collected items.
func (c *Collector) Len() int {
	return len(c.items)
}

// Sorted drains the collector and returns the items by ascending distance.
func (c *Collector) Sorted() []Item {
	out := c.items
	c.items = nil
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func (c *Collector) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if c.items[i].Distance <= c.items[p].Distance {
			return
		}
		c.items[i], c.items[p] = c.items[p], c.items[i]
		i = p
	}
}

func (c *Collector) siftDown(i int) {
	n := len(c.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		largest := l
		if r := l + 1; r < n && c.items[r].Distance > c.items[l].Distance {
			largest = r
		}
		if c.items[i].Distance >= c.items[largest].Distance {
			return
		}
		c.items[i], c.items[largest] = c.items[largest], c.items[i]
		i = largest
	}
}
