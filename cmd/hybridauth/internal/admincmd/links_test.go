// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package admincmd_test

import (
	"strconv"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestLinks(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	a := f.createAccount(c, "alice", map[string]string{
		"corp":    "uid=alice",
		"partner": "alice@partner",
	})
	stdout := f.CheckSuccess(c, "links", strconv.FormatInt(a.ID, 10))
	c.Assert(stdout, qt.Equals, `
DOMAIN   EXTERNAL-KEY   CREATED
corp     uid=alice      2024-03-01T12:00:00Z
partner  alice@partner  2024-03-01T12:00:00Z
`[1:])
}

func TestLinksYAML(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	a := f.createAccount(c, "alice", map[string]string{
		"corp": "uid=alice",
	})
	stdout := f.CheckSuccess(c, "links", "--format", "yaml", strconv.FormatInt(a.ID, 10))
	c.Assert(stdout, qt.Equals, `
- domain: corp
  external-key: uid=alice
  created: "2024-03-01T12:00:00Z"
`[1:])
}

var linksErrorTests = []struct {
	about         string
	args          []string
	expectCode    int
	expectMessage string
}{{
	about:         "no account",
	args:          []string{"links"},
	expectCode:    2,
	expectMessage: `account ID required`,
}, {
	about:         "invalid account",
	args:          []string{"links", "alice"},
	expectCode:    2,
	expectMessage: `invalid account ID "alice"`,
}, {
	about:         "too many arguments",
	args:          []string{"links", "1", "2"},
	expectCode:    2,
	expectMessage: `unrecognized args: \["2"\]`,
}, {
	about:         "account not found",
	args:          []string{"links", "42"},
	expectCode:    1,
	expectMessage: `.*account 42 not found`,
}}

func TestLinksErrors(t *testing.T) {
	c := qt.New(t)
	for _, test := range linksErrorTests {
		c.Run(test.about, func(c *qt.C) {
			f := newFixture(c)
			f.CheckError(c, test.expectCode, test.expectMessage, test.args...)
		})
	}
}
