package token

import (
	"fmt"
	"sync"
)

// Pool is a set of logged-in sessions on one token, one per benchmark
// worker. A session on its own may have at most one operation inflight at a
// time, so each worker takes a session with Get and hands it back with Put.
type Pool struct {
	token *Token
	// This slice acts more or less like a concurrent stack. Sessions are popped
	// off the top for use, and then pushed back on when they are no longer in use.
	sessions []*Session
	// The initial length of sessions, before any are popped off for use.
	totalCount int
	// This variable signals the condition that there are Sessions available to
	// be used.
	cond *sync.Cond
}

// NewPool opens n sessions on tk. Sessions are opened one after the other on
// the calling goroutine, before any worker starts.
func NewPool(tk *Token, n int) (*Pool, error) {
	var err error
	sessions := make([]*Session, n)
	for i := 0; i < n; i++ {
		sessions[i], err = tk.NewSession()
		// If any of the sessions fail, exit early. This could be, e.g., a bad PIN,
		// and we want to make sure not to lock the token.
		if err != nil {
			for j := 0; j < i; j++ {
				tk.CloseSession(sessions[j])
			}
			return nil, fmt.Errorf("problem opening session %d: %w", i, err)
		}
	}

	var mutex sync.Mutex
	return &Pool{
		token:      tk,
		sessions:   sessions,
		totalCount: len(sessions),
		cond:       sync.NewCond(&mutex),
	}, nil
}

// Size returns the number of sessions in the pool.
func (p *Pool) Size() int {
	return p.totalCount
}

// Get takes a session from the pool. If there is no session available, it
// blocks until there is.
func (p *Pool) Get() *Session {
	p.cond.L.Lock()
	for len(p.sessions) == 0 {
		p.cond.Wait()
	}

	instance := p.sessions[len(p.sessions)-1]
	p.sessions = p.sessions[:len(p.sessions)-1]
	p.cond.L.Unlock()
	return instance
}

// Put returns a session taken with Get.
func (p *Pool) Put(instance *Session) {
	p.cond.L.Lock()
	p.sessions = append(p.sessions, instance)
	p.cond.Signal()
	p.cond.L.Unlock()
}

// Destroy closes every session of the pool, waiting for those in use to be
// put back.
func (p *Pool) Destroy() error {
	var first error
	for i := 0; i < p.totalCount; i++ {
		err := p.token.CloseSession(p.Get())
		if err != nil && first == nil {
			first = fmt.Errorf("close session: %w", err)
		}
	}
	return first
}
