package monitor

import (
	"sort"
	"time"

	"amese/labsync/internal/model"
)

// Group is one candidate order aggregate built from the current fetch.
type Group struct {
	Event     *model.Event
	MinItemID int64
	MaxItemID int64
}

// BuildGroups partitions fetched rows by order id. Rows arrive ascending by
// item id, so each group's item list is ordered too. The second return is
// the order ids sorted ascending, for deterministic processing.
func BuildGroups(rows []model.Row) (map[int64]*Group, []int64) {
	groups := make(map[int64]*Group)
	ids := make([]int64, 0)

	for _, row := range rows {
		id := row.Order.OrderID
		g, ok := groups[id]
		if !ok {
			g = &Group{
				Event: &model.Event{
					Order:   row.Order,
					Patient: row.Patient,
				},
				MinItemID: row.Item.ItemID,
				MaxItemID: row.Item.ItemID,
			}
			groups[id] = g
			ids = append(ids, id)
		}
		g.Event.Items = append(g.Event.Items, row.Item)
		if row.Item.ItemID < g.MinItemID {
			g.MinItemID = row.Item.ItemID
		}
		if row.Item.ItemID > g.MaxItemID {
			g.MaxItemID = row.Item.ItemID
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return groups, ids
}

// PendingSet tracks when each order was first observed with undelivered
// items. Owned by the Monitor and advanced once per cycle; the injected
// clock keeps it testable.
type PendingSet struct {
	firstSeen map[int64]time.Time
	now       func() time.Time
}

// NewPendingSet creates an empty set on the given clock.
func NewPendingSet(now func() time.Time) *PendingSet {
	if now == nil {
		now = time.Now
	}
	return &PendingSet{
		firstSeen: make(map[int64]time.Time),
		now:       now,
	}
}

// Advance records the current cycle's candidate orders and splits them into
// ready and still-waiting ids.
//
// A disabled window (<= 0) makes every candidate ready. Otherwise an order
// is ready once its first observation is at least window old; a first-cycle
// order is never ready. Entries whose order id is absent from the candidates
// are dropped: with delivered-basis watermark advance, absence means the
// rows are gone from the source, not merely consumed.
func (p *PendingSet) Advance(orderIDs []int64, window time.Duration) (ready, waiting []int64) {
	if window <= 0 {
		p.firstSeen = make(map[int64]time.Time)
		return orderIDs, nil
	}

	current := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		current[id] = true
	}
	for id := range p.firstSeen {
		if !current[id] {
			delete(p.firstSeen, id)
		}
	}

	now := p.now()
	for _, id := range orderIDs {
		first, seen := p.firstSeen[id]
		if !seen {
			first = now
			p.firstSeen[id] = now
		}
		if now.Sub(first) >= window {
			ready = append(ready, id)
		} else {
			waiting = append(waiting, id)
		}
	}
	return ready, waiting
}

// Remove drops an order committed for delivery (or abandoned to the sink).
func (p *PendingSet) Remove(orderID int64) {
	delete(p.firstSeen, orderID)
}

// RemainingWait returns how long an order still has to wait out the window.
func (p *PendingSet) RemainingWait(orderID int64, window time.Duration) time.Duration {
	first, seen := p.firstSeen[orderID]
	if !seen {
		return window
	}
	remaining := window - p.now().Sub(first)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Len returns the number of orders still waiting out the window.
func (p *PendingSet) Len() int {
	return len(p.firstSeen)
}
