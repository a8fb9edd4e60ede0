// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store

import (
	"sort"
	"strings"

	"github.com/juju/aclstore/v2"
	"github.com/juju/simplekv"
	errgo "gopkg.in/errgo.v1"
)

// Backend is a storage backend holding everything the service
// persists. It must be closed after use.
type Backend interface {
	LinkStore() LinkStore
	AccountStore() AccountStore

	// SessionStore returns the key value store that holds the
	// state of authentication sessions.
	SessionStore() simplekv.Store

	// ACLStore returns the store holding the ACLs that control
	// account creation, unlinking and administration.
	ACLStore() aclstore.ACLStore

	Close()
}

// BackendFactory creates storage backends.
type BackendFactory interface {
	NewBackend() (Backend, error)
}

// An UnmarshalBackendFunc creates a BackendFactory from the storage
// section of the configuration. The unmarshal argument decodes that
// section according to the rules of gopkg.in/yaml.v2.
type UnmarshalBackendFunc func(unmarshal func(interface{}) error) (BackendFactory, error)

var backends = make(map[string]UnmarshalBackendFunc)

// Register makes a storage backend available under the given type
// name. It is intended to be called from the init function of the
// backend's package.
func Register(storageType string, f UnmarshalBackendFunc) {
	backends[storageType] = f
}

// BackendTypes returns the names of all the registered backends in
// alphabetical order.
func BackendTypes() []string {
	types := make([]string, 0, len(backends))
	for t := range backends {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Config is the storage section of the configuration file. The "type"
// field selects the registered backend that decodes the rest of it.
type Config struct {
	BackendFactory
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var t struct {
		Type string `yaml:"type"`
	}
	if err := unmarshal(&t); err != nil {
		return errgo.Notef(err, "cannot unmarshal storage")
	}
	if t.Type == "" {
		return errgo.Newf("storage type not specified")
	}
	f, ok := backends[t.Type]
	if !ok {
		return errgo.Newf("unrecognised storage backend type %q (available: %s)", t.Type, strings.Join(BackendTypes(), ", "))
	}
	bf, err := f(unmarshal)
	if err != nil {
		return errgo.Notef(err, "cannot unmarshal %s configuration", t.Type)
	}
	c.BackendFactory = bf
	return nil
}
