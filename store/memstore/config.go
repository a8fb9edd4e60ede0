package memstore

import (
	"github.com/juju/aclstore/v2"
	"github.com/juju/clock"
	"github.com/juju/simplekv"
	"github.com/juju/simplekv/memsimplekv"

	"github.com/canonical/hybridauth/store"
)

func init() {
	store.Register("memory", func(func(interface{}) error) (store.BackendFactory, error) {
		return NewBackend(clock.WallClock), nil
	})
}

// NewBackend returns a backend that holds everything in memory. The
// backend is also its own store.BackendFactory; every call to NewBackend
// on it returns the same data.
func NewBackend(clk clock.Clock) interface {
	store.Backend
	store.BackendFactory
} {
	s := NewStore(clk)
	return &backend{
		linkStore:    s,
		accountStore: s,
		sessionStore: memsimplekv.NewStore(),
		aclStore:     aclstore.NewACLStore(memsimplekv.NewStore()),
	}
}

type backend struct {
	linkStore    store.LinkStore
	accountStore store.AccountStore
	sessionStore simplekv.Store
	aclStore     aclstore.ACLStore
}

// NewBackend implements store.BackendFactory.NewBackend.
func (b *backend) NewBackend() (store.Backend, error) {
	return b, nil
}

// LinkStore implements store.Backend.LinkStore.
func (b *backend) LinkStore() store.LinkStore {
	return b.linkStore
}

// AccountStore implements store.Backend.AccountStore.
func (b *backend) AccountStore() store.AccountStore {
	return b.accountStore
}

// SessionStore implements store.Backend.SessionStore.
func (b *backend) SessionStore() simplekv.Store {
	return b.sessionStore
}

func (b *backend) ACLStore() aclstore.ACLStore {
	return b.aclStore
}

func (b *backend) Close() {
}
