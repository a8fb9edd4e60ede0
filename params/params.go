// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package params holds the request and response types of the
// hybridauth administrative API along with the error codes used across
// the service.
package params

import (
	"time"

	"gopkg.in/httprequest.v1"
)

// Domain describes a configured external identity domain.
type Domain struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	AutoCreate  bool   `json:"auto-create"`
}

// DomainsRequest is a request for the configured domains.
type DomainsRequest struct {
	httprequest.Route `httprequest:"GET /v1/domains"`
}

// DomainsResponse holds the response to a DomainsRequest.
type DomainsResponse struct {
	Domains []Domain `json:"domains"`
}

// Link is a persisted association between a local account and an
// external identity in one domain.
type Link struct {
	AccountID   int64     `json:"account-id"`
	Domain      string    `json:"domain"`
	ExternalKey string    `json:"external-key"`
	Created     time.Time `json:"created"`
}

// LinksRequest is a request for all the links of an account.
type LinksRequest struct {
	httprequest.Route `httprequest:"GET /v1/accounts/:account/links"`
	AccountID         int64 `httprequest:"account,path"`
}

// LinksResponse holds the response to a LinksRequest.
type LinksResponse struct {
	Links []Link `json:"links"`
}

// UnlinkRequest removes the link held by an external identity. It is
// used when the external identity itself is being retired.
type UnlinkRequest struct {
	httprequest.Route `httprequest:"POST /v1/unlink"`
	Body              UnlinkBody `httprequest:",body"`
}

// UnlinkBody holds the body of an UnlinkRequest.
type UnlinkBody struct {
	Domain      string `json:"domain"`
	ExternalKey string `json:"external-key"`
}

// UnlinkAccountRequest removes the link an account holds in a domain.
type UnlinkAccountRequest struct {
	httprequest.Route `httprequest:"DELETE /v1/accounts/:account/links/:domain"`
	AccountID         int64  `httprequest:"account,path"`
	Domain            string `httprequest:"domain,path"`
}

// UnlinkResponse holds the response to an UnlinkRequest or
// UnlinkAccountRequest.
type UnlinkResponse struct {
	Existed bool `json:"existed"`
}
