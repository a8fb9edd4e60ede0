// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hybridclient_test

import (
	"context"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/juju/clock"
	"gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth"
	"github.com/canonical/hybridauth/hybridclient"
	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/idp/static"
	"github.com/canonical/hybridauth/internal/hybridtest"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
	"github.com/canonical/hybridauth/store/memstore"
)

func TestClient(t *testing.T) {
	qtsuite.Run(qt.New(t), &clientSuite{})
}

type clientSuite struct {
	backend store.Backend
	srv     *httptest.Server
}

func (s *clientSuite) Init(c *qt.C) {
	hybridtest.LogTo(c)
	s.backend = memstore.NewBackend(clock.WallClock)
	h, err := hybridauth.NewServer(hybridauth.ServerParams{
		LinkStore:     s.backend.LinkStore(),
		AccountStore:  s.backend.AccountStore(),
		SessionStore:  s.backend.SessionStore(),
		ACLStore:      s.backend.ACLStore(),
		AdminPassword: "secret",
		Domains: []mapper.DomainParams{{
			Name: "corp",
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{
					Users: map[string]static.UserInfo{
						"alice": {Password: "alice-pw"},
					},
				}),
			},
			User: mapper.UserParams{
				MapType: "email",
			},
		}},
	}, hybridauth.V1)
	c.Assert(err, qt.IsNil)
	c.Cleanup(h.Close)
	s.srv = httptest.NewServer(h)
	c.Cleanup(s.srv.Close)
}

func (s *clientSuite) client(c *qt.C, password string) *hybridclient.Client {
	client, err := hybridclient.New(hybridclient.NewParams{
		BaseURL:  s.srv.URL,
		Password: password,
	})
	c.Assert(err, qt.IsNil)
	return client
}

func (s *clientSuite) TestNewBadURL(c *qt.C) {
	client, err := hybridclient.New(hybridclient.NewParams{})
	c.Assert(err, qt.ErrorMatches, `bad hybridauth client base URL ""`)
	c.Assert(client, qt.IsNil)
}

func (s *clientSuite) TestDomains(c *qt.C) {
	resp, err := s.client(c, "secret").Domains(context.Background(), &params.DomainsRequest{})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Domains, qt.HasLen, 1)
	c.Assert(resp.Domains[0].Name, qt.Equals, "corp")
}

func (s *clientSuite) TestBadPassword(c *qt.C) {
	_, err := s.client(c, "wrong").Domains(context.Background(), &params.DomainsRequest{})
	c.Assert(err, qt.ErrorMatches, `.*invalid credentials`)
	c.Assert(errgo.Cause(err), qt.Equals, params.ErrUnauthorized)
}

func (s *clientSuite) TestLinksAndUnlink(c *qt.C) {
	ctx := context.Background()
	a := &store.Account{Name: "alice"}
	err := s.backend.AccountStore().CreateAccount(ctx, a)
	c.Assert(err, qt.IsNil)
	_, err = s.backend.LinkStore().Link(ctx, a.ID, "corp", "uid=alice")
	c.Assert(err, qt.IsNil)
	_, err = s.backend.LinkStore().Link(ctx, a.ID, "partner", "alice@partner")
	c.Assert(err, qt.IsNil)

	client := s.client(c, "secret")
	links, err := client.Links(ctx, &params.LinksRequest{AccountID: a.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(links.Links, qt.HasLen, 2)

	resp, err := client.Unlink(ctx, &params.UnlinkRequest{
		Body: params.UnlinkBody{
			Domain:      "corp",
			ExternalKey: "uid=alice",
		},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Existed, qt.IsTrue)

	resp, err = client.UnlinkAccount(ctx, &params.UnlinkAccountRequest{
		AccountID: a.ID,
		Domain:    "partner",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Existed, qt.IsTrue)

	links, err = client.Links(ctx, &params.LinksRequest{AccountID: a.ID})
	c.Assert(err, qt.IsNil)
	c.Assert(links.Links, qt.HasLen, 0)
}

func (s *clientSuite) TestLinksNotFound(c *qt.C) {
	_, err := s.client(c, "secret").Links(context.Background(), &params.LinksRequest{AccountID: 99})
	c.Assert(errgo.Cause(err), qt.Equals, params.ErrNotFound)
}

func (s *clientSuite) TestLoginAndCreateAccount(c *qt.C) {
	ctx := context.Background()
	client := s.client(c, "secret")
	reqs, err := client.AuthenticationRequests(ctx, &params.AuthenticationRequestsRequest{})
	c.Assert(err, qt.IsNil)
	c.Assert(reqs.Requests, qt.HasLen, 1)
	c.Assert(reqs.Requests[0].Domain, qt.Equals, "corp")

	creds := map[string]string{"username": "alice", "password": "alice-pw"}
	resp, err := client.Login(ctx, &params.LoginRequest{
		Body: params.LoginBody{
			Domain: "corp",
			Fields: creds,
		},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.CreateAccount, qt.Equals, "Alice")

	a, err := client.CreateAccount(ctx, &params.CreateAccountRequest{
		Session: resp.Session,
		Body:    params.CreateAccountBody{Username: resp.CreateAccount},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(a.Username, qt.Equals, "Alice")

	err = client.Logout(ctx, &params.LogoutRequest{Session: resp.Session})
	c.Assert(err, qt.IsNil)

	id, err := client.Authenticate(ctx, &params.AuthenticateRequest{
		Body: params.AuthenticateBody{
			Domain: "corp",
			Fields: creds,
		},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(id.ID, qt.Equals, a.ID)

	exists, err := client.UserExists(ctx, &params.UserExistsRequest{Username: "alice"})
	c.Assert(err, qt.IsNil)
	c.Assert(exists.Exists, qt.IsTrue)

	err = client.Change(ctx, &params.ChangeRequest{
		Body: params.ChangeBody{
			Action:   "unlink",
			Domain:   "corp",
			Username: "alice",
		},
	})
	c.Assert(err, qt.IsNil)
	exists, err = client.UserExists(ctx, &params.UserExistsRequest{Username: "alice"})
	c.Assert(err, qt.IsNil)
	c.Assert(exists.Exists, qt.IsFalse)
}
