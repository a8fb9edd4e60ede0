// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package storetest

import (
	"context"
	"time"

	qt "github.com/frankban/quicktest"
	"gopkg.in/yaml.v2"

	"github.com/canonical/hybridauth/store"
)

// TestUnmarshal checks that the storage section in configYAML creates
// a working backend. The storage section must be under a top level
// "storage" key.
func TestUnmarshal(c *qt.C, configYAML string) {
	var cfg struct {
		Storage *store.Config `yaml:"storage"`
	}
	err := yaml.Unmarshal([]byte(configYAML), &cfg)
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Storage, qt.Not(qt.IsNil))

	backend, err := cfg.Storage.NewBackend()
	c.Assert(err, qt.IsNil)
	defer backend.Close()

	kv := backend.SessionStore()
	ctx, close := kv.Context(context.Background())
	defer close()
	err = kv.Set(ctx, "hybridauth-test", []byte("session"), time.Time{})
	c.Assert(err, qt.IsNil)
	v, err := kv.Get(ctx, "hybridauth-test")
	c.Assert(err, qt.IsNil)
	c.Assert(string(v), qt.Equals, "session")

	_, err = backend.LinkStore().LinkCounts(ctx)
	c.Assert(err, qt.IsNil)
	_, err = backend.AccountStore().AccountsByEmail(ctx, "nobody@example.com")
	c.Assert(err, qt.IsNil)
	err = backend.ACLStore().CreateACL(ctx, "hybridauth-test", []string{"admin"})
	c.Assert(err, qt.IsNil)
}
