// Package stream serves the mix of a running recording to live listeners
// over HTTP (MP3 via ffmpeg) and WebRTC (Opus).
package stream

import (
	"sync"
	"sync/atomic"
)

// listenerBuffer is the number of frames a listener may lag behind, about
// three seconds of 2048-sample cycles at 44.1kHz.
const listenerBuffer = 64

// Broadcaster fans out PCM frames from the recording worker to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	dropped   atomic.Int64
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	C    chan []int16
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []int16, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped returns how many frames were discarded for slow listeners.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Publish hands frame to every listener without blocking. Listeners must
// not modify the frame. Slow listeners get frames dropped rather than
// stalling the recording.
func (b *Broadcaster) Publish(frame []int16) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for l := range b.listeners {
		select {
		case l.C <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}
