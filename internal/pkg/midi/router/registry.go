package router

import (
	"sort"

	"github.com/gethiox/midiroute/internal/pkg/midi/driver"
)

// registry keeps at most one handle per name and direction, and the reverse
// index from bound addresses to the names bound to them. A name is present in
// the reverse index exactly while its handle is bound.
type registry struct {
	handles [2]map[string]*handle
	reverse [2]map[driver.Address][]string
}

func newRegistry() *registry {
	r := &registry{}
	for _, d := range directions {
		r.handles[d] = make(map[string]*handle)
		r.reverse[d] = make(map[driver.Address][]string)
	}
	return r
}

func (r *registry) get(dir direction, name string) *handle {
	return r.handles[dir][name]
}

func (r *registry) add(h *handle) {
	r.handles[h.dir][h.name] = h
}

func (r *registry) remove(h *handle) {
	if r.handles[h.dir][h.name] == h {
		delete(r.handles[h.dir], h.name)
	}
}

// sorted returns handles of a direction ordered by name.
func (r *registry) sorted(dir direction) []*handle {
	hs := make([]*handle, 0, len(r.handles[dir]))
	for _, h := range r.handles[dir] {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].name < hs[j].name
	})
	return hs
}

func (r *registry) bound(dir direction, addr driver.Address) bool {
	return len(r.reverse[dir][addr]) > 0
}

// names returns a copy of the names bound to addr, in binding order.
func (r *registry) names(dir direction, addr driver.Address) []string {
	names := r.reverse[dir][addr]
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	copy(out, names)
	return out
}

func (r *registry) bind(h *handle, addr driver.Address) {
	h.addr = &addr
	names := r.reverse[h.dir][addr]
	for _, n := range names {
		if n == h.name {
			return
		}
	}
	r.reverse[h.dir][addr] = append(names, h.name)
}

// unbind clears the handle's address and reports whether it was the last
// name bound to that address.
func (r *registry) unbind(h *handle) (addr driver.Address, last bool) {
	if h.addr == nil {
		return driver.Address{}, false
	}
	addr = *h.addr
	h.addr = nil

	names := r.reverse[h.dir][addr]
	kept := names[:0]
	for _, n := range names {
		if n != h.name {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		delete(r.reverse[h.dir], addr)
		return addr, true
	}
	r.reverse[h.dir][addr] = kept
	return addr, false
}

// forget unbinds every handle bound to addr and drops the address from the index.
func (r *registry) forget(dir direction, addr driver.Address) []*handle {
	names := r.reverse[dir][addr]
	delete(r.reverse[dir], addr)

	var hs []*handle
	for _, n := range names {
		h := r.handles[dir][n]
		if h == nil || h.addr == nil || *h.addr != addr {
			continue
		}
		h.addr = nil
		hs = append(hs, h)
	}
	return hs
}
