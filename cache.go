package gatt

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// A sighting is the merged scan data of one peripheral.
type sighting struct {
	p           *Peripheral
	name        string
	adv         []byte
	scanRsp     []byte
	connectable bool
	rssi        int
	seen        time.Time
}

// cache remembers discovered peripherals by address. Writers hold the
// manager lock; readers need none.
type cache struct {
	c *lru.Cache
}

func newCache(size int) (*cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &cache{c: c}, nil
}

// merge folds s into the cached entry for its address and stores the
// result. A report without a local name or scan response keeps the
// previously seen ones, and so does the advertising data on a scan
// response report.
func (c *cache) merge(addr BDAddr, s sighting, isScanRsp bool) sighting {
	if v, ok := c.c.Get(addr); ok {
		old := v.(sighting)
		s.p = old.p
		if s.name == "" {
			s.name = old.name
		}
		if len(s.scanRsp) == 0 {
			s.scanRsp = old.scanRsp
		}
		if isScanRsp {
			s.adv = old.adv
			s.connectable = old.connectable
		}
	}
	c.c.Add(addr, s)
	return s
}

func (c *cache) get(addr BDAddr) (sighting, bool) {
	v, ok := c.c.Peek(addr)
	if !ok {
		return sighting{}, false
	}
	return v.(sighting), true
}

// peripherals returns the cached peripherals, least recently seen first.
func (c *cache) peripherals() []*Peripheral {
	var pp []*Peripheral
	for _, k := range c.c.Keys() {
		if v, ok := c.c.Peek(k); ok {
			pp = append(pp, v.(sighting).p)
		}
	}
	return pp
}

func (c *cache) purge() { c.c.Purge() }

func (c *cache) len() int { return c.c.Len() }
