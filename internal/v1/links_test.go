// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package v1_test

import (
	"context"
	"net/http"

	qt "github.com/frankban/quicktest"
	"github.com/juju/qthttptest"

	"github.com/canonical/hybridauth/params"
)

func (s *apiSuite) TestLinks(c *qt.C) {
	a := s.createAccount(c, "alice", map[string]string{
		"partner": "alice@partner",
		"corp":    "uid=alice",
	})
	s.createAccount(c, "bob", map[string]string{"corp": "uid=bob"})
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          linksURL(a.ID),
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody: params.LinksResponse{
			Links: []params.Link{{
				AccountID:   a.ID,
				Domain:      "corp",
				ExternalKey: "uid=alice",
				Created:     epoch,
			}, {
				AccountID:   a.ID,
				Domain:      "partner",
				ExternalKey: "alice@partner",
				Created:     epoch,
			}},
		},
	})
}

func (s *apiSuite) TestLinksNoLinks(c *qt.C) {
	a := s.createAccount(c, "alice", nil)
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          linksURL(a.ID),
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody: params.LinksResponse{
			Links: []params.Link{},
		},
	})
}

func (s *apiSuite) TestLinksAccountNotFound(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		URL:          linksURL(42),
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusNotFound,
		ExpectBody: params.Error{
			Code:    params.ErrNotFound,
			Message: "account 42 not found",
		},
	})
}

func (s *apiSuite) TestLinksBadAccountID(c *qt.C) {
	rec := qthttptest.DoRequest(c, qthttptest.DoRequestParams{
		Handler:  s.srv,
		URL:      "/v1/accounts/alice/links",
		Username: "admin",
		Password: adminPassword,
	})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func (s *apiSuite) TestUnlink(c *qt.C) {
	a := s.createAccount(c, "alice", map[string]string{
		"corp":    "uid=alice",
		"partner": "alice@partner",
	})
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:  s.srv,
		Method:   "POST",
		URL:      "/v1/unlink",
		Username: "admin",
		Password: adminPassword,
		JSONBody: params.UnlinkBody{
			Domain:      "corp",
			ExternalKey: "uid=alice",
		},
		ExpectStatus: http.StatusOK,
		ExpectBody:   params.UnlinkResponse{Existed: true},
	})
	s.assertLinkedDomains(c, a.ID, "partner")

	// Unlinking again succeeds but reports that there was no link.
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:  s.srv,
		Method:   "POST",
		URL:      "/v1/unlink",
		Username: "admin",
		Password: adminPassword,
		JSONBody: params.UnlinkBody{
			Domain:      "corp",
			ExternalKey: "uid=alice",
		},
		ExpectStatus: http.StatusOK,
		ExpectBody:   params.UnlinkResponse{Existed: false},
	})
}

func (s *apiSuite) TestUnlinkUnconfiguredDomain(c *qt.C) {
	a := s.createAccount(c, "alice", map[string]string{
		"retired": "alice",
	})
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:  s.srv,
		Method:   "POST",
		URL:      "/v1/unlink",
		Username: "admin",
		Password: adminPassword,
		JSONBody: params.UnlinkBody{
			Domain:      "retired",
			ExternalKey: "alice",
		},
		ExpectStatus: http.StatusOK,
		ExpectBody:   params.UnlinkResponse{Existed: true},
	})
	s.assertLinkedDomains(c, a.ID)
}

var unlinkErrorTests = []struct {
	about         string
	body          params.UnlinkBody
	expectMessage string
}{{
	about: "no domain",
	body: params.UnlinkBody{
		ExternalKey: "uid=alice",
	},
	expectMessage: "domain not specified",
}, {
	about: "no external key",
	body: params.UnlinkBody{
		Domain: "corp",
	},
	expectMessage: "external key not specified",
}}

func (s *apiSuite) TestUnlinkErrors(c *qt.C) {
	for _, test := range unlinkErrorTests {
		c.Run(test.about, func(c *qt.C) {
			qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
				Handler:      s.srv,
				Method:       "POST",
				URL:          "/v1/unlink",
				Username:     "admin",
				Password:     adminPassword,
				JSONBody:     test.body,
				ExpectStatus: http.StatusBadRequest,
				ExpectBody: params.Error{
					Code:    params.ErrBadRequest,
					Message: test.expectMessage,
				},
			})
		})
	}
}

func (s *apiSuite) TestUnlinkAccount(c *qt.C) {
	a := s.createAccount(c, "alice", map[string]string{
		"corp":    "uid=alice",
		"partner": "alice@partner",
	})
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		Method:       "DELETE",
		URL:          linksURL(a.ID) + "/partner",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody:   params.UnlinkResponse{Existed: true},
	})
	s.assertLinkedDomains(c, a.ID, "corp")

	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		Method:       "DELETE",
		URL:          linksURL(a.ID) + "/partner",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusOK,
		ExpectBody:   params.UnlinkResponse{Existed: false},
	})
}

func (s *apiSuite) TestUnlinkAccountNotFound(c *qt.C) {
	qthttptest.AssertJSONCall(c, qthttptest.JSONCallParams{
		Handler:      s.srv,
		Method:       "DELETE",
		URL:          linksURL(42) + "/corp",
		Username:     "admin",
		Password:     adminPassword,
		ExpectStatus: http.StatusNotFound,
		ExpectBody: params.Error{
			Code:    params.ErrNotFound,
			Message: "account 42 not found",
		},
	})
}

func (s *apiSuite) assertLinkedDomains(c *qt.C, id int64, domains ...string) {
	links, err := s.backend.LinkStore().Links(context.Background(), id)
	c.Assert(err, qt.IsNil)
	var got []string
	for _, l := range links {
		got = append(got, l.Domain)
	}
	c.Assert(got, qt.DeepEquals, domains)
}
