// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hybridauth_test

import (
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/juju/clock"
	"github.com/juju/qthttptest"

	"github.com/canonical/hybridauth"
	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/idp/static"
	"github.com/canonical/hybridauth/internal/hybridtest"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
	"github.com/canonical/hybridauth/store/memstore"
)

func TestServer(t *testing.T) {
	qtsuite.Run(qt.New(t), &serverSuite{})
}

type serverSuite struct {
	backend store.Backend
}

func (s *serverSuite) Init(c *qt.C) {
	hybridtest.LogTo(c)
	s.backend = memstore.NewBackend(clock.WallClock)
}

func (s *serverSuite) params() hybridauth.ServerParams {
	return hybridauth.ServerParams{
		LinkStore:     s.backend.LinkStore(),
		AccountStore:  s.backend.AccountStore(),
		SessionStore:  s.backend.SessionStore(),
		ACLStore:      s.backend.ACLStore(),
		AdminPassword: "password",
		Domains: []mapper.DomainParams{{
			Name: "corp",
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{}),
			},
		}},
	}
}

func (s *serverSuite) TestNewServerWithNoVersions(c *qt.C) {
	h, err := hybridauth.NewServer(s.params())
	c.Assert(err, qt.ErrorMatches, `identity server must serve at least one version of the API`)
	c.Assert(h, qt.IsNil)
}

func (s *serverSuite) TestNewServerWithUnregisteredVersion(c *qt.C) {
	h, err := hybridauth.NewServer(s.params(), "wrong")
	c.Assert(err, qt.ErrorMatches, `unknown version "wrong"`)
	c.Assert(h, qt.IsNil)
}

func (s *serverSuite) TestVersions(c *qt.C) {
	c.Assert(hybridauth.Versions(), qt.DeepEquals, []string{"debug", "v1"})
}

func (s *serverSuite) TestNewServerWithVersions(c *qt.C) {
	h, err := hybridauth.NewServer(s.params(), hybridauth.V1)
	c.Assert(err, qt.IsNil)
	defer h.Close()

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      h,
		URL:          "/v1/domains",
		Username:     "admin",
		Password:     "password",
		ExpectStatus: http.StatusOK,
		ExpectBody: params.DomainsResponse{
			Domains: []params.Domain{{
				Name:        "corp",
				Type:        "static",
				Description: "Static: corp",
				Enabled:     true,
				AutoCreate:  true,
			}},
		},
	})
	assertDoesNotServeVersion(c, h, "v0")
	assertDoesNotServeVersion(c, h, "debug")
}

func assertDoesNotServeVersion(c *qt.C, h http.Handler, vers string) {
	rec := qthttptest.DoRequest(c, qthttptest.DoRequestParams{
		Handler: h,
		URL:     "/" + vers + "/some/path",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
}
