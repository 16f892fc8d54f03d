package hotkey

import "sync"

// Bridge runs an Arbiter inside a Poller callback and forwards the resulting
// events to a channel. The callback never blocks: events queue up in memory and
// a forwarding goroutine delivers them in order.
type Bridge struct {
	arb    *Arbiter
	out    chan Event
	unsub  func()
	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// Attach subscribes arb to p. Close detaches it and closes Events.
func Attach(p *Poller, arb *Arbiter) *Bridge {
	b := &Bridge{
		arb:    arb,
		out:    make(chan Event),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	b.unsub = p.Subscribe(b.onSample)
	go b.forward()
	return b
}

// Events delivers hotkey transitions in the order they occurred.
func (b *Bridge) Events() <-chan Event { return b.out }

// Close stops forwarding. Queued events that were not yet delivered are dropped.
func (b *Bridge) Close() {
	b.once.Do(func() {
		b.unsub()
		close(b.closed)
	})
}

func (b *Bridge) onSample(s KeyState) {
	evs := b.arb.Update(s)
	if len(evs) == 0 {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, evs...)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) forward() {
	defer close(b.out)
	for {
		select {
		case <-b.closed:
			return
		case <-b.wake:
		}
		for {
			b.mu.Lock()
			if len(b.queue) == 0 {
				b.mu.Unlock()
				break
			}
			ev := b.queue[0]
			b.queue = b.queue[1:]
			b.mu.Unlock()
			select {
			case b.out <- ev:
			case <-b.closed:
				return
			}
		}
	}
}
