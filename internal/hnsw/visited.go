package hnsw

import "sync"

// visitedList marks visited nodes with an epoch stamp so a fresh search
// only bumps the epoch instead of clearing the whole array. The epoch
// wraps at 16 bits, at which point the array is zeroed once.
type visitedList struct {
	epoch uint16
	tags  []uint16
}

func (v *visitedList) reset() {
	v.epoch++
	if v.epoch == 0 {
		for i := range v.tags {
			v.tags[i] = 0
		}
		v.epoch = 1
	}
}

func (v *visitedList) visit(id uint32) { v.tags[id] = v.epoch }

func (v *visitedList) seen(id uint32) bool { return v.tags[id] == v.epoch }

// visitedPool recycles visited lists across concurrent searches.
type visitedPool struct {
	mu   sync.Mutex
	free []*visitedList
	size int
}

func newVisitedPool(size int) *visitedPool {
	return &visitedPool{size: size}
}

func (p *visitedPool) get() *visitedList {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return &visitedList{epoch: 1, tags: make([]uint16, p.size)}
	}
	v := p.free[n-1]
	p.free = p.free[:n-1]
	v.reset()
	return v
}

func (p *visitedPool) put(v *visitedList) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, v)
}
