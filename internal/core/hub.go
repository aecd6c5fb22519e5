package core

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Trigger names a class of state change a waiting query can block on.
type Trigger int

const (
	TriggerAll Trigger = iota
	TriggerCheck
	TriggerState
	TriggerLog
	TriggerDowntime
	TriggerComment
	TriggerCommand
	TriggerProgram

	numTriggers
)

var triggerNames = [numTriggers]string{"all", "check", "state", "log", "downtime", "comment", "command", "program"}

func (t Trigger) String() string {
	if t < 0 || t >= numTriggers {
		return "unknown"
	}
	return triggerNames[t]
}

// ParseTrigger resolves a WaitTrigger argument.
func ParseTrigger(s string) (Trigger, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range triggerNames {
		if name == s {
			return Trigger(i), true
		}
	}
	return TriggerAll, false
}

// Hub broadcasts state changes. Every trigger owns a generation channel that is
// closed on Notify and replaced, so any number of waiters wake up at once
// without the publisher ever blocking.
type Hub struct {
	mu      sync.Mutex
	gens    [numTriggers]chan struct{}
	waiters atomic.Int64
}

func NewHub() *Hub {
	h := &Hub{}
	for i := range h.gens {
		h.gens[i] = make(chan struct{})
	}
	return h
}

// Notify wakes every watcher of t and of TriggerAll.
func (h *Hub) Notify(t Trigger) {
	if t < 0 || t >= numTriggers {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.gens[t])
	h.gens[t] = make(chan struct{})
	if t != TriggerAll {
		close(h.gens[TriggerAll])
		h.gens[TriggerAll] = make(chan struct{})
	}
}

func (h *Hub) current(t Trigger) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gens[t]
}

// Watch subscribes to t. The caller must Close the watch.
func (h *Hub) Watch(t Trigger) *Watch {
	if t < 0 || t >= numTriggers {
		t = TriggerAll
	}
	h.waiters.Add(1)
	return &Watch{hub: h, trigger: t}
}

// Waiters returns the number of open watches.
func (h *Hub) Waiters() int64 { return h.waiters.Load() }

type Watch struct {
	hub     *Hub
	trigger Trigger
	once    sync.Once
}

// Changed returns a channel closed by the next Notify of the watched trigger.
// Take it before checking the condition so no notification is lost in between.
func (w *Watch) Changed() <-chan struct{} {
	return w.hub.current(w.trigger)
}

func (w *Watch) Close() {
	w.once.Do(func() { w.hub.waiters.Add(-1) })
}
