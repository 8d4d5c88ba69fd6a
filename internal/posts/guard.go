package posts

import "sync"

// SubmitGuard serializes mutating submits per identity, so a double submit runs one after the other.
type SubmitGuard struct {
	mutex sync.Mutex
	locks map[string]*guardLock
}

type guardLock struct {
	mutex sync.Mutex
	refs  int
}

func NewSubmitGuard() *SubmitGuard {
	return &SubmitGuard{
		locks: map[string]*guardLock{},
	}
}

// Lock blocks until the key is free and returns its unlock func.
func (g *SubmitGuard) Lock(key string) func() {
	g.mutex.Lock()
	l, ok := g.locks[key]
	if !ok {
		l = &guardLock{}
		g.locks[key] = l
	}
	l.refs++
	g.mutex.Unlock()

	l.mutex.Lock()

	return func() {
		l.mutex.Unlock()

		g.mutex.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, key)
		}
		g.mutex.Unlock()
	}
}

func (g *SubmitGuard) size() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return len(g.locks)
}
