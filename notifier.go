package gatt

import (
	"github.com/golang-collections/go-datastructures/queue"
	"github.com/sirupsen/logrus"
)

// notifier runs user callbacks on its own goroutine, in the order they were
// posted. Posting never blocks.
type notifier struct {
	q   *queue.Queue
	log *logrus.Entry
}

func newNotifier(l *logrus.Entry) *notifier {
	n := &notifier{q: queue.New(32), log: l}
	go n.loop()
	return n
}

func (n *notifier) post(f func()) {
	if err := n.q.Put(f); err != nil {
		n.log.Debug("notifier stopped, callback dropped")
	}
}

// stop lets the callbacks posted so far run, then ends the loop.
func (n *notifier) stop() {
	n.post(func() { n.q.Dispose() })
}

func (n *notifier) loop() {
	for {
		items, err := n.q.Get(1)
		if err != nil {
			return
		}
		for _, it := range items {
			n.run(it.(func()))
		}
	}
}

func (n *notifier) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Errorf("callback panic: %v", r)
		}
	}()
	f()
}
