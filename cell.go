package bettershare

import (
	"sync"
)

// ListenerID identifies a registered update listener.
type ListenerID uint64

// listener wraps a callback with a unique ID for reliable removal.
type listener struct {
	id ListenerID
	fn func(UserPreferences)
}

// cell caches the preferences record and fans updates out to listeners.
//
// gen increases with every published update. A load remembers gen before it
// reads storage and only fills the cell if no update arrived in between.
type cell struct {
	mu        sync.RWMutex
	value     UserPreferences
	valid     bool
	gen       uint64
	listeners []listener
	nextID    ListenerID
}

func (c *cell) get() (UserPreferences, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.valid
}

func (c *cell) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// fill caches p unless an update was published after gen was read, and
// returns whatever is cached afterwards.
func (c *cell) fill(gen uint64, p UserPreferences) UserPreferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.value, c.valid = p, true
	}
	return c.value
}

// publish caches p and calls every listener with it.
func (c *cell) publish(p UserPreferences) {
	c.mu.Lock()
	c.value, c.valid = p, true
	c.gen++
	// Snapshot listeners under lock, then notify without holding the lock.
	// A listener may add or remove listeners from within the callback.
	listeners := append([]listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(p)
	}
}

func (c *cell) subscribe(fn func(UserPreferences)) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners = append(c.listeners, listener{id: c.nextID, fn: fn})
	return c.nextID
}

func (c *cell) unsubscribe(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.listeners {
		if l.id == id {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}
