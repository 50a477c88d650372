package coordinator

import "sync"

// playerLocks serializes load-accrue-save sequences per player so the tick
// loop and event handlers never interleave writes to one document.
type playerLocks struct {
	mu    sync.Mutex
	locks map[int64]*playerLock
}

type playerLock struct {
	mu   sync.Mutex
	refs int
}

func newPlayerLocks() *playerLocks {
	return &playerLocks{locks: make(map[int64]*playerLock)}
}

// lock acquires the mutex for playerID and returns its release function.
func (p *playerLocks) lock(playerID int64) func() {
	p.mu.Lock()
	l, ok := p.locks[playerID]
	if !ok {
		l = &playerLock{}
		p.locks[playerID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, playerID)
		}
		p.mu.Unlock()
	}
}

func (p *playerLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
