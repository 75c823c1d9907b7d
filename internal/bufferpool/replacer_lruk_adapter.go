package bufferpool

import "github.com/ticketstore/storageengine/pkg/lruk"

// lrukAdapter wraps pkg/lruk.LRUK so it satisfies Replacer without the pool
// package needing to know about the replacer's internals.
type lrukAdapter struct {
	r *lruk.LRUK
}

func newLRUKReplacer(k int) Replacer {
	return &lrukAdapter{r: lruk.New(k)}
}

func (a *lrukAdapter) RecordAccess(frameID int) {
	a.r.RecordAccess(frameID)
}

func (a *lrukAdapter) SetEvictable(frameID int, e bool) {
	a.r.SetEvictable(frameID, e)
}

func (a *lrukAdapter) Evict() (int, bool) {
	return a.r.Evict()
}

func (a *lrukAdapter) Remove(frameID int) error {
	return a.r.Remove(frameID)
}

func (a *lrukAdapter) Size() int {
	return a.r.Size()
}
