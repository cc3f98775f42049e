package bgapi

import "sync"

// EventHandler receives decoded events. Events are delivered one at a time
// in arrival order on the parse worker, so handlers must not block.
type EventHandler interface {
	HandleEvent(evt interface{})
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(evt interface{})

func (f HandlerFunc) HandleEvent(evt interface{}) { f(evt) }

type subscription struct {
	h EventHandler
}

type event struct {
	mu   sync.RWMutex
	subs []*subscription
}

func newEvent() *event {
	return &event{}
}

func (e *event) subscribe(h EventHandler) func() {
	s := &subscription{h: h}
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, x := range e.subs {
				if x == s {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (e *event) dispatch(evt interface{}) {
	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()
	for _, s := range subs {
		s.h.HandleEvent(evt)
	}
}
