package trigger

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/Aidin1998/tradecore/pkg/models"
)

type entry struct {
	price decimal.Decimal
	id    uuid.UUID
}

func lessEntry(a, b entry) bool {
	if c := a.price.Cmp(b.price); c != 0 {
		return c < 0
	}
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

// book holds the resting orders of one symbol, keyed by trigger price.
// Market orders waiting for a first price have no key and cross on any
// tick.
type book struct {
	markets    map[uuid.UUID]struct{}
	buyLimits  *btree.BTreeG[entry]
	sellLimits *btree.BTreeG[entry]
	buyStops   *btree.BTreeG[entry]
	sellStops  *btree.BTreeG[entry]
}

func newBook() *book {
	return &book{
		markets:    make(map[uuid.UUID]struct{}),
		buyLimits:  btree.NewBTreeG(lessEntry),
		sellLimits: btree.NewBTreeG(lessEntry),
		buyStops:   btree.NewBTreeG(lessEntry),
		sellStops:  btree.NewBTreeG(lessEntry),
	}
}

type indexed struct {
	order *models.Order
	book  *book
	tree  *btree.BTreeG[entry]
	key   entry
}

// Index is an ordered view of resting orders. It is not safe for
// concurrent use.
type Index struct {
	books  map[string]*book
	orders map[uuid.UUID]*indexed
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{books: make(map[string]*book), orders: make(map[uuid.UUID]*indexed)}
}

// Len returns the number of indexed orders.
func (ix *Index) Len() int {
	return len(ix.orders)
}

// Get returns the indexed snapshot of an order.
func (ix *Index) Get(id uuid.UUID) (*models.Order, bool) {
	it, ok := ix.orders[id]
	if !ok {
		return nil, false
	}
	return it.order, true
}

// Add indexes o by the price that can next change its state, replacing any
// earlier entry for the same order. Orders without such a price are ignored.
func (ix *Index) Add(o *models.Order) {
	ix.Remove(o.ID)

	b, ok := ix.books[o.Symbol]
	if !ok {
		b = newBook()
		ix.books[o.Symbol] = b
	}

	if o.Type == models.OrderTypeMarket {
		b.markets[o.ID] = struct{}{}
		ix.orders[o.ID] = &indexed{order: o, book: b}
		return
	}

	var tree *btree.BTreeG[entry]
	var price *decimal.Decimal
	switch {
	case o.Type == models.OrderTypeLimit || (o.Type == models.OrderTypeStopLimit && o.StopTriggered):
		price = o.Price
		tree = b.sellLimits
		if o.Side == models.SideBuy {
			tree = b.buyLimits
		}
	case o.Type == models.OrderTypeStop || o.Type == models.OrderTypeStopLimit:
		price = o.StopPrice
		tree = b.sellStops
		if o.Side == models.SideBuy {
			tree = b.buyStops
		}
	}
	if tree == nil || price == nil {
		return
	}

	key := entry{price: *price, id: o.ID}
	tree.Set(key)
	ix.orders[o.ID] = &indexed{order: o, book: b, tree: tree, key: key}
}

// Remove drops an order from the index.
func (ix *Index) Remove(id uuid.UUID) {
	it, ok := ix.orders[id]
	if !ok {
		return
	}
	if it.tree != nil {
		it.tree.Delete(it.key)
	} else {
		delete(it.book.markets, id)
	}
	delete(ix.orders, id)
}

// Crossed returns the orders of symbol whose trigger condition holds at p:
// waiting market orders first, then the priced groups, most favourably
// priced first within each group.
func (ix *Index) Crossed(symbol string, p decimal.Decimal) []*models.Order {
	b, ok := ix.books[symbol]
	if !ok {
		return nil
	}
	var out []*models.Order
	collect := func(e entry) bool {
		out = append(out, ix.orders[e.id].order)
		return true
	}
	upTo := func(e entry) bool {
		if e.price.GreaterThan(p) {
			return false
		}
		return collect(e)
	}
	floor := entry{price: p, id: uuid.Nil}

	for id := range b.markets {
		out = append(out, ix.orders[id].order)
	}

	// buy limit: limit >= p, highest first
	b.buyLimits.Reverse(func(e entry) bool {
		if e.price.LessThan(p) {
			return false
		}
		return collect(e)
	})
	// sell limit: limit <= p, lowest first
	b.sellLimits.Scan(upTo)
	// buy stop: stop <= p
	b.buyStops.Scan(upTo)
	// sell stop: stop >= p
	b.sellStops.Ascend(floor, collect)
	return out
}

// Orders returns every indexed order.
func (ix *Index) Orders() []*models.Order {
	out := make([]*models.Order, 0, len(ix.orders))
	for _, it := range ix.orders {
		out = append(out, it.order)
	}
	return out
}
