// Package access mints and verifies the capabilities that authorize
// privileged engine calls. A capability is an opaque handle; holders can
// present it but only the issuing Authority can vouch for it.
package access

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrAdminMinted      = errors.New("access: admin capability already minted")
	ErrUnknown          = errors.New("access: capability was not issued by this authority")
	ErrRevoked          = errors.New("access: capability revoked")
	ErrWrongKind        = errors.New("access: capability has the wrong kind")
	ErrCannotRevokeSelf = errors.New("access: admin capability cannot be revoked")
)

// Kind distinguishes what a capability authorizes.
type Kind string

const (
	KindAdmin   Kind = "admin"
	KindExecute Kind = "execute"
)

// Capability is an authorization handle. Its ID is random and carries no
// meaning outside the issuing Authority.
type Capability struct {
	ID     uuid.UUID `json:"id"`
	Kind   Kind      `json:"kind"`
	Holder string    `json:"holder"`
}

// Authority issues capabilities and checks their provenance.
type Authority struct {
	mu          sync.RWMutex
	adminMinted bool
	issued      map[uuid.UUID]Capability
	revoked     map[uuid.UUID]bool
}

// NewAuthority creates an authority with nothing issued.
func NewAuthority() *Authority {
	return &Authority{
		issued:  make(map[uuid.UUID]Capability),
		revoked: make(map[uuid.UUID]bool),
	}
}

// MintAdmin issues the single admin capability.
func (a *Authority) MintAdmin(holder string) (Capability, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.adminMinted {
		return Capability{}, ErrAdminMinted
	}
	c := Capability{ID: uuid.New(), Kind: KindAdmin, Holder: holder}
	a.issued[c.ID] = c
	a.adminMinted = true
	return c, nil
}

// MintExecute issues an execute capability naming executor, the account
// that receives execution fees.
func (a *Authority) MintExecute(admin Capability, executor string) (Capability, error) {
	if err := a.Verify(admin, KindAdmin); err != nil {
		return Capability{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	c := Capability{ID: uuid.New(), Kind: KindExecute, Holder: executor}
	a.issued[c.ID] = c
	return c, nil
}

// Revoke invalidates an execute capability.
func (a *Authority) Revoke(admin, c Capability) error {
	if err := a.Verify(admin, KindAdmin); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	issued, ok := a.issued[c.ID]
	if !ok {
		return ErrUnknown
	}
	if issued.Kind == KindAdmin {
		return ErrCannotRevokeSelf
	}
	a.revoked[c.ID] = true
	return nil
}

// Verify checks that c was issued by this authority with the given kind,
// has not been revoked, and has not been altered by its holder.
func (a *Authority) Verify(c Capability, kind Kind) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	issued, ok := a.issued[c.ID]
	if !ok || issued != c {
		return ErrUnknown
	}
	if a.revoked[c.ID] {
		return ErrRevoked
	}
	if issued.Kind != kind {
		return ErrWrongKind
	}
	return nil
}

// Lookup resolves a capability by its ID, for transports that only carry
// the ID.
func (a *Authority) Lookup(id uuid.UUID) (Capability, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.issued[id]
	return c, ok
}
