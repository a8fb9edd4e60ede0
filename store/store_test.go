// Copyright 2017 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package store_test

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/store"
)

func TestCanonicalName(t *testing.T) {
	c := qt.New(t)

	tests := []struct {
		about       string
		name        string
		expect      string
		expectError string
	}{{
		about:  "already canonical",
		name:   "Alice",
		expect: "Alice",
	}, {
		about:  "first letter upper cased",
		name:   "alice",
		expect: "Alice",
	}, {
		about:  "underscores and spaces",
		name:   "  alice__in_ wonderland ",
		expect: "Alice in wonderland",
	}, {
		about:  "non ascii",
		name:   "élodie",
		expect: "Élodie",
	}, {
		about:       "empty",
		name:        " _ ",
		expectError: `empty account name`,
	}, {
		about:       "invalid character",
		name:        "bob@example.com",
		expectError: `account name "bob@example.com" contains invalid character '@'`,
	}, {
		about:       "too long",
		name:        strings.Repeat("a", 256),
		expectError: `account name too long`,
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			name, err := store.CanonicalName(test.name)
			if test.expectError != "" {
				c.Assert(err, qt.ErrorMatches, test.expectError)
				c.Assert(errgo.Cause(err), qt.Equals, store.ErrInvalidName)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(name, qt.Equals, test.expect)
		})
	}
}

func TestAccountClone(t *testing.T) {
	c := qt.New(t)
	a := &store.Account{
		ID:          1,
		Name:        "Alice",
		Preferences: map[string]string{"language": "en"},
	}
	a1 := a.Clone()
	c.Assert(a1, qt.DeepEquals, a)
	a1.Preferences["language"] = "fr"
	c.Assert(a.Preferences["language"], qt.Equals, "en")
}
