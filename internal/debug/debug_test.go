// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package debug_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/juju/clock/testclock"
	"github.com/juju/qthttptest"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/idp/static"
	"github.com/canonical/hybridauth/internal/auth"
	"github.com/canonical/hybridauth/internal/debug"
	"github.com/canonical/hybridauth/internal/hybridtest"
	"github.com/canonical/hybridauth/internal/identity"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
	"github.com/canonical/hybridauth/store/memstore"
)

const adminPassword = "secret"

func TestDebug(t *testing.T) {
	qtsuite.Run(qt.New(t), &debugSuite{})
}

type debugSuite struct {
	backend store.Backend
	srv     *identity.Server
}

func (s *debugSuite) Init(c *qt.C) {
	hybridtest.LogTo(c)
	s.backend = memstore.NewBackend(testclock.NewClock(time.Now()))
	disabled := false
	srv, err := identity.New(identity.ServerParams{
		LinkStore:     s.backend.LinkStore(),
		AccountStore:  s.backend.AccountStore(),
		SessionStore:  s.backend.SessionStore(),
		ACLStore:      s.backend.ACLStore(),
		AdminPassword: adminPassword,
		Domains: []mapper.DomainParams{{
			Name: "corp",
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{
					Description: "Corporate directory",
				}),
			},
		}, {
			Name:    "partner",
			Enabled: &disabled,
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{}),
			},
		}},
	}, map[string]identity.NewAPIHandlerFunc{
		"debug": debug.NewAPIHandler,
	})
	c.Assert(err, qt.IsNil)
	c.Cleanup(srv.Close)
	s.srv = srv
}

func (s *debugSuite) TestStatus(c *qt.C) {
	ctx := context.Background()
	a := &store.Account{Name: "bob"}
	err := s.backend.AccountStore().CreateAccount(ctx, a)
	c.Assert(err, qt.IsNil)
	_, err = s.backend.LinkStore().Link(ctx, a.ID, "corp", "bob@corp")
	c.Assert(err, qt.IsNil)

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/debug/status",
		ExpectStatus: http.StatusOK,
		ExpectBody: qthttptest.BodyAsserter(func(c *qt.C, body json.RawMessage) {
			var result map[string]debug.Result
			err := json.Unmarshal(body, &result)
			c.Assert(err, qt.IsNil)
			for k, v := range result {
				v.Duration = 0
				result[k] = v
			}
			c.Assert(result, qt.DeepEquals, map[string]debug.Result{
				"server_started": {
					Name:   "Server started",
					Value:  debug.StartTime.String(),
					Passed: true,
				},
				"store": {
					Name:   "Link store",
					Value:  "corp=1",
					Passed: true,
				},
				"domain_corp": {
					Name:   "Domain corp",
					Value:  "Corporate directory",
					Passed: true,
				},
				"domain_partner": {
					Name:   "Domain partner",
					Value:  "disabled",
					Passed: true,
				},
			})
		}),
	})
}

func (s *debugSuite) TestStatusNoLinks(c *qt.C) {
	rr := qthttptest.DoRequest(c, qthttptest.DoRequestParams{
		Handler: s.srv,
		URL:     "/debug/status",
	})
	c.Assert(rr.Code, qt.Equals, http.StatusOK)
	var result map[string]debug.Result
	err := json.Unmarshal(rr.Body.Bytes(), &result)
	c.Assert(err, qt.IsNil)
	c.Assert(result["store"].Value, qt.Equals, "no links")
	c.Assert(result["store"].Passed, qt.IsTrue)
}

func (s *debugSuite) TestInfo(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/debug/info",
		ExpectStatus: http.StatusOK,
		ExpectBody:   debug.BuildInfo(),
	})
}

func (s *debugSuite) TestPprofUnauthenticated(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/debug/pprof/cmdline",
		ExpectStatus: http.StatusUnauthorized,
		ExpectBody: params.Error{
			Code:    params.ErrUnauthorized,
			Message: "authentication required",
		},
	})
}

func (s *debugSuite) TestPprofAdmin(c *qt.C) {
	rr := qthttptest.DoRequest(c, qthttptest.DoRequestParams{
		Handler:  s.srv,
		URL:      "/debug/pprof/cmdline",
		Username: "admin",
		Password: adminPassword,
	})
	c.Assert(rr.Code, qt.Equals, http.StatusOK)
}

func (s *debugSuite) TestPprofNotInAdminACL(c *qt.C) {
	err := s.backend.ACLStore().Remove(context.Background(), auth.AdminACL, []string{"admin"})
	c.Assert(err, qt.IsNil)
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/debug/pprof/",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusForbidden,
		ExpectBody: params.Error{
			Code:    params.ErrForbidden,
			Message: "permission denied",
		},
	})
}
