// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/frankban/quicktest/qtsuite"
	"github.com/juju/clock/testclock"
	"github.com/juju/qthttptest"
	errgo "gopkg.in/errgo.v1"

	"github.com/canonical/hybridauth/idp"
	"github.com/canonical/hybridauth/idp/static"
	"github.com/canonical/hybridauth/internal/hybridtest"
	"github.com/canonical/hybridauth/internal/identity"
	"github.com/canonical/hybridauth/internal/mapper"
	v1 "github.com/canonical/hybridauth/internal/v1"
	"github.com/canonical/hybridauth/params"
	"github.com/canonical/hybridauth/store"
	"github.com/canonical/hybridauth/store/memstore"
)

func TestLogin(t *testing.T) {
	qtsuite.Run(qt.New(t), &loginSuite{})
}

type loginSuite struct {
	backend store.Backend
	srv     *identity.Server
}

func (s *loginSuite) Init(c *qt.C) {
	hybridtest.LogTo(c)
	s.backend = memstore.NewBackend(testclock.NewClock(epoch))
	users := map[string]static.UserInfo{
		"alice": {
			Password: "alice-pw",
			Name:     "Alice Smith",
			Email:    "alice@example.com",
		},
		"bob": {
			Password: "bob-pw",
			Name:     "Bob Jones",
		},
	}
	srv, err := identity.New(identity.ServerParams{
		LinkStore:     s.backend.LinkStore(),
		AccountStore:  s.backend.AccountStore(),
		SessionStore:  s.backend.SessionStore(),
		ACLStore:      s.backend.ACLStore(),
		AdminPassword: adminPassword,
		LocalEnabled:  true,
		Domains: []mapper.DomainParams{{
			Name: "corp",
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{
					Description:        "Corporate directory",
					Users:              users,
					AllowSudo:          true,
					EditableAttributes: []string{"timezone"},
				}),
			},
			User: mapper.UserParams{
				MapType: "email",
			},
		}, {
			Name: "lab",
			Provider: idp.Config{
				Provider: static.NewProvider(static.Params{
					Users: users,
				}),
			},
		}},
	}, map[string]identity.NewAPIHandlerFunc{
		"v1": v1.NewAPIHandler,
	})
	c.Assert(err, qt.IsNil)
	c.Cleanup(srv.Close)
	s.srv = srv
}

func creds(user string) map[string]string {
	return map[string]string{
		"username": user,
		"password": user + "-pw",
	}
}

// do makes an authenticated request and unmarshals any response body
// into resp.
func (s *loginSuite) do(c *qt.C, method, url string, body, resp interface{}) int {
	rec := qthttptest.DoRequest(c, qthttptest.DoRequestParams{
		Handler:  s.srv,
		Method:   method,
		URL:      url,
		JSONBody: body,
		Username: "admin",
		Password: adminPassword,
	})
	if resp != nil && rec.Code == http.StatusOK {
		err := json.Unmarshal(rec.Body.Bytes(), resp)
		c.Assert(err, qt.IsNil, qt.Commentf("%s", rec.Body))
	}
	return rec.Code
}

func (s *loginSuite) login(c *qt.C, body params.LoginBody) params.LoginResponse {
	var resp params.LoginResponse
	code := s.do(c, "POST", "/v1/login", body, &resp)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(resp.Session, qt.Not(qt.Equals), "")
	return resp
}

func (s *loginSuite) createAccount(c *qt.C, name string) *store.Account {
	a := &store.Account{Name: name}
	err := s.backend.AccountStore().CreateAccount(context.Background(), a)
	c.Assert(err, qt.IsNil)
	return a
}

func (s *loginSuite) linkedAccount(c *qt.C, domain, key string) int64 {
	id, err := s.backend.LinkStore().AccountForExternalKey(context.Background(), domain, key)
	if errgo.Cause(err) == store.ErrNotFound {
		return 0
	}
	c.Assert(err, qt.IsNil)
	return id
}

func (s *loginSuite) TestAuthenticationRequests(c *qt.C) {
	passwordFields := []params.Field{{
		Name:  "username",
		Label: "Username",
		Type:  "string",
	}, {
		Name:      "password",
		Label:     "Password",
		Type:      "password",
		Sensitive: true,
	}}
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/v1/authentication-requests",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody: params.AuthenticationRequestsResponse{
			Requests: []params.AuthenticationRequest{{
				Domain:      "corp",
				Description: "Corporate directory",
				Fields:      passwordFields,
			}, {
				Domain:      "lab",
				Description: "Static: lab",
				Fields:      passwordFields,
			}, {
				Domain:      "local",
				Description: "Local account",
				Local:       true,
				Fields:      passwordFields,
			}},
		},
	})
}

func (s *loginSuite) TestAuthenticationRequestsUnknownAccount(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          "/v1/authentication-requests?action=unlink&username=nobody",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusNotFound,
		ExpectBody: params.Error{
			Code:    params.ErrNotFound,
			Message: `account "nobody" not found`,
		},
	})
}

func (s *loginSuite) TestLoginCreatesAccount(c *qt.C) {
	resp := s.login(c, params.LoginBody{
		Domain: "corp",
		Fields: creds("alice"),
	})
	c.Assert(resp.Status, qt.Equals, params.LoginPass)
	c.Assert(resp.CreateAccount, qt.Equals, "Alice")
	c.Assert(resp.Account, qt.IsNil)
	c.Assert(resp.LinkRequest, qt.IsNil)

	var a params.Account
	code := s.do(c, "POST", "/v1/login/"+resp.Session+"/account", params.CreateAccountBody{
		Username: resp.CreateAccount,
		RealName: "Alice Smith",
	}, &a)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(a.ID, qt.Not(qt.Equals), int64(0))
	c.Assert(a.Username, qt.Equals, "Alice")
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, a.ID)

	// The creation cannot be completed twice.
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		Method:       "POST",
		URL:          "/v1/login/" + resp.Session + "/account",
		JSONBody:     params.CreateAccountBody{Username: "Mallory"},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusNotFound,
		ExpectBody: params.Error{
			Code:    params.ErrNotFound,
			Message: "no account creation pending",
		},
	})
	_, err := s.backend.AccountStore().AccountByName(context.Background(), "Mallory")
	c.Assert(errgo.Cause(err), qt.Equals, store.ErrNotFound)

	// The next login finds the linked account.
	resp = s.login(c, params.LoginBody{
		Domain: "corp",
		Fields: creds("alice"),
	})
	c.Assert(resp.Account, qt.DeepEquals, &params.Account{
		ID:       a.ID,
		Username: "Alice",
		RealName: "Alice Smith",
	})
}

func (s *loginSuite) TestCreateAccountExists(c *qt.C) {
	resp := s.login(c, params.LoginBody{
		Domain: "corp",
		Fields: creds("alice"),
	})
	c.Assert(resp.CreateAccount, qt.Equals, "Alice")
	s.createAccount(c, "taken")
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		Method:       "POST",
		URL:          "/v1/login/" + resp.Session + "/account",
		JSONBody:     params.CreateAccountBody{Username: "taken"},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusConflict,
		ExpectBody: params.Error{
			Code:    params.ErrLinkConflict,
			Message: `account "taken" already exists`,
		},
	})

	// The creation is still pending.
	code := s.do(c, "POST", "/v1/login/"+resp.Session+"/account", params.CreateAccountBody{
		Username: "alice2",
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)
}

func (s *loginSuite) TestLoginLinkRequest(c *qt.C) {
	a := s.createAccount(c, "asmith")
	resp := s.login(c, params.LoginBody{
		Domain: "lab",
		Fields: creds("alice"),
	})
	c.Assert(resp.Status, qt.Equals, params.LoginPass)
	c.Assert(resp.LinkRequest, qt.DeepEquals, &params.LinkRequest{
		Domain:      "lab",
		Description: "Static: lab",
		ExternalKey: "alice",
	})

	code := s.do(c, "POST", "/v1/change", params.ChangeBody{
		Session:     resp.Session,
		Action:      "link",
		Domain:      "lab",
		Username:    "asmith",
		ExternalKey: resp.LinkRequest.ExternalKey,
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(s.linkedAccount(c, "lab", "alice"), qt.Equals, a.ID)

	resp = s.login(c, params.LoginBody{
		Domain: "lab",
		Fields: creds("alice"),
	})
	c.Assert(resp.Account.ID, qt.Equals, a.ID)
}

func (s *loginSuite) TestChangeLinkForgedKey(c *qt.C) {
	s.createAccount(c, "mallory")
	resp := s.login(c, params.LoginBody{
		Domain: "lab",
		Fields: creds("bob"),
	})
	c.Assert(resp.LinkRequest.ExternalKey, qt.Equals, "bob")

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/change",
		JSONBody: params.ChangeBody{
			Session:     resp.Session,
			Action:      "link",
			Domain:      "lab",
			Username:    "mallory",
			ExternalKey: "alice",
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusForbidden,
		ExpectBody: params.Error{
			Code:    params.ErrForbidden,
			Message: "external identity was not authenticated in this session",
		},
	})

	// Without a session there is nothing to link.
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/change",
		JSONBody: params.ChangeBody{
			Action:      "link",
			Domain:      "lab",
			Username:    "mallory",
			ExternalKey: "alice",
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusBadRequest,
		ExpectBody: params.Error{
			Code:    params.ErrBadRequest,
			Message: "no external identity to link",
		},
	})
	c.Assert(s.linkedAccount(c, "lab", "alice"), qt.Equals, int64(0))
	c.Assert(s.linkedAccount(c, "lab", "bob"), qt.Equals, int64(0))
}

func (s *loginSuite) TestLoginWithTargetAccount(c *qt.C) {
	a := s.createAccount(c, "asmith")
	resp := s.login(c, params.LoginBody{
		Domain:  "corp",
		Fields:  creds("alice"),
		Account: "asmith",
	})
	c.Assert(resp.Account.ID, qt.Equals, a.ID)
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, a.ID)
}

func (s *loginSuite) TestLoginContinuesSession(c *qt.C) {
	first := s.login(c, params.LoginBody{
		Domain: "lab",
		Fields: creds("alice"),
	})
	second := s.login(c, params.LoginBody{
		Session: first.Session,
		Domain:  "corp",
		Fields:  creds("alice"),
	})
	c.Assert(second.Session, qt.Equals, first.Session)
	c.Assert(second.CreateAccount, qt.Equals, "Alice")
}

func (s *loginSuite) TestLoginAbstains(c *qt.C) {
	resp := s.login(c, params.LoginBody{
		Domain: "corp",
		Fields: map[string]string{"username": "alice", "password": "wrong"},
	})
	c.Assert(resp.Status, qt.Equals, params.LoginAbstain)
	c.Assert(resp.Message, qt.Equals, `authentication failed for user "alice"`)
}

func (s *loginSuite) TestLoginErrors(c *qt.C) {
	tests := []struct {
		about        string
		body         params.LoginBody
		expectStatus int
		expectError  params.Error
	}{{
		about:        "no domain",
		body:         params.LoginBody{Fields: creds("alice")},
		expectStatus: http.StatusBadRequest,
		expectError: params.Error{
			Code:    params.ErrBadRequest,
			Message: "domain not specified",
		},
	}, {
		about:        "unknown domain",
		body:         params.LoginBody{Domain: "nowhere", Fields: creds("alice")},
		expectStatus: http.StatusNotFound,
		expectError: params.Error{
			Code:    params.ErrNotFound,
			Message: `domain "nowhere" not found`,
		},
	}, {
		about:        "bad session",
		body:         params.LoginBody{Session: "../x", Domain: "corp", Fields: creds("alice")},
		expectStatus: http.StatusBadRequest,
		expectError: params.Error{
			Code:    params.ErrBadRequest,
			Message: `invalid session "../x"`,
		},
	}, {
		about:        "unknown target",
		body:         params.LoginBody{Domain: "corp", Fields: creds("alice"), Account: "nobody"},
		expectStatus: http.StatusNotFound,
		expectError: params.Error{
			Code:    params.ErrNotFound,
			Message: `account "Nobody" not found`,
		},
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
				Handler:      s.srv,
				Method:       "POST",
				URL:          "/v1/login",
				JSONBody:     test.body,
				Username:     "admin",
				Password:     adminPassword,
				ExpectStatus: test.expectStatus,
				ExpectBody:   test.expectError,
			})
		})
	}
}

func (s *loginSuite) TestLogoutClearsCreation(c *qt.C) {
	resp := s.login(c, params.LoginBody{
		Domain: "corp",
		Fields: creds("alice"),
	})
	code := s.do(c, "DELETE", "/v1/login/"+resp.Session, nil, nil)
	c.Assert(code, qt.Equals, http.StatusOK)
	code = s.do(c, "POST", "/v1/login/"+resp.Session+"/account", params.CreateAccountBody{
		Username: "Alice",
	}, nil)
	c.Assert(code, qt.Equals, http.StatusNotFound)
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, int64(0))
}

func (s *loginSuite) TestChangeAttributesAndUnlink(c *qt.C) {
	ctx := context.Background()
	a := s.createAccount(c, "asmith")
	_, err := s.backend.LinkStore().Link(ctx, a.ID, "corp", "alice")
	c.Assert(err, qt.IsNil)

	code := s.do(c, "POST", "/v1/change", params.ChangeBody{
		Action:   "change",
		Domain:   "corp",
		Username: "asmith",
		Fields:   map[string]string{"timezone": "Europe/Paris"},
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)

	code = s.do(c, "POST", "/v1/change", params.ChangeBody{
		Action:   "unlink",
		Domain:   "corp",
		Username: "asmith",
	}, nil)
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, int64(0))

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/change",
		JSONBody: params.ChangeBody{
			Action:   "unlink",
			Domain:   "corp",
			Username: "nobody",
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusNotFound,
		ExpectBody: params.Error{
			Code:    params.ErrNotFound,
			Message: `account "Nobody" not found`,
		},
	})
}

func (s *loginSuite) TestAuthenticate(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/authenticate",
		JSONBody: params.AuthenticateBody{
			Domain: "corp",
			Fields: creds("alice"),
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody: params.Identity{
			ID:       1,
			Username: "Alice",
		},
	})
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, int64(1))

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/authenticate",
		JSONBody: params.AuthenticateBody{
			Domain: "corp",
			Fields: map[string]string{"username": "alice", "password": "wrong"},
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusForbidden,
		ExpectBody: params.Error{
			Code:    params.ErrCredential,
			Message: `authentication failed for user "alice"`,
		},
	})
}

func (s *loginSuite) TestUserExists(c *qt.C) {
	a := s.createAccount(c, "asmith")
	_, err := s.backend.LinkStore().Link(context.Background(), a.ID, "lab", "alice")
	c.Assert(err, qt.IsNil)
	s.createAccount(c, "carol")
	for name, expect := range map[string]bool{
		"asmith": true,
		"carol":  false,
		"nobody": false,
	} {
		qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
			Handler:      s.srv,
			URL:          "/v1/users/" + name + "/exists",
			Username:     "admin",
			Password:     adminPassword,
			ExpectStatus: http.StatusOK,
			ExpectBody:   params.UserExistsResponse{Exists: expect},
		})
	}
}

func (s *loginSuite) TestLoginACL(c *qt.C) {
	err := s.backend.ACLStore().Remove(context.Background(), "login", []string{"admin"})
	c.Assert(err, qt.IsNil)
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler: s.srv,
		Method:  "POST",
		URL:     "/v1/login",
		JSONBody: params.LoginBody{
			Domain: "corp",
			Fields: creds("alice"),
		},
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusForbidden,
		ExpectBody: params.Error{
			Code:    params.ErrForbidden,
			Message: "permission denied",
		},
	})
	c.Assert(s.linkedAccount(c, "corp", "alice"), qt.Equals, int64(0))
}
