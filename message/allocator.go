package message

import (
	"sync"

	"github.com/CUXIDUMDUM/qpid/amqperror"
)

// ID is a message identity. Valid identities are positive.
type ID int64

// Mode is the allocator state
type Mode int

const (
	// ModeRecovering accepts explicitly asserted identities in any order.
	ModeRecovering Mode = iota
	// ModeNormal hands out identities sequentially.
	ModeNormal
)

func (m Mode) String() string {
	if m == ModeNormal {
		return "normal"
	}
	return "recovering"
}

// Allocator assigns message identities for the lifetime of a store.
//
// It starts in ModeRecovering, where the recovery path replays persisted
// messages with AssertIdentity, and moves to ModeNormal exactly once through
// CompleteRecovery. From then on AllocateNext continues after the highest
// identity seen during recovery.
type Allocator struct {
	mu          sync.Mutex
	mode        Mode
	nextID      ID
	highestSeen ID
}

// NewAllocator creates an allocator in recovery mode
func NewAllocator() *Allocator {
	return &Allocator{mode: ModeRecovering}
}

// AssertIdentity records id as used during recovery.
func (a *Allocator) AssertIdentity(id ID) error {
	if id <= 0 {
		return amqperror.NegativeIdentity("assert identity", int64(id))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != ModeRecovering {
		return amqperror.RecoveryStateViolation("assert identity", a.mode.String())
	}
	if id > a.highestSeen {
		a.highestSeen = id
	}
	return nil
}

// AllocateNext returns the next sequential identity.
func (a *Allocator) AllocateNext() (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != ModeNormal {
		return 0, amqperror.RecoveryStateViolation("allocate identity", a.mode.String())
	}
	id := a.nextID
	a.nextID++
	if id > a.highestSeen {
		a.highestSeen = id
	}
	return id, nil
}

// CompleteRecovery ends the recovery phase. Calling it again is a no-op.
func (a *Allocator) CompleteRecovery() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode == ModeNormal {
		return
	}
	a.mode = ModeNormal
	a.nextID = a.highestSeen + 1
}

// Reset returns the allocator to recovery mode with no identities seen.
// Only test harnesses and administrative tooling call it.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.mode = ModeRecovering
	a.highestSeen = 0
	a.nextID = 0
}

// Mode returns the current mode.
func (a *Allocator) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// HighestSeen returns the highest identity accepted so far.
func (a *Allocator) HighestSeen() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highestSeen
}
