package job

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Liveness is an ownership token shared between an object and the jobs queued
// on its behalf. Jobs check it instead of dereferencing their owner, so a job
// that outlives its owner becomes a no-op.
type Liveness struct {
	id   uuid.UUID
	dead atomic.Bool
}

// NewLiveness returns a live token.
func NewLiveness() *Liveness { return &Liveness{id: uuid.New()} }

func (l *Liveness) ID() uuid.UUID { return l.id }

// Alive reports whether the owner still exists. A nil token is always alive.
func (l *Liveness) Alive() bool { return l == nil || !l.dead.Load() }

// Kill marks the owner as gone. It returns false if it was already dead.
func (l *Liveness) Kill() bool { return l.dead.CompareAndSwap(false, true) }
