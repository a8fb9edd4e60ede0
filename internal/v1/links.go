// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package v1

import (
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/params"
)

// Links serves the GET /v1/accounts/:account/links endpoint.
func (h *apiHandler) Links(p httprequest.Params, req *params.LinksRequest) (*params.LinksResponse, error) {
	if _, err := h.h.params.AccountStore.Account(p.Context, req.AccountID); err != nil {
		return nil, storeError(err)
	}
	links, err := h.links.Links(p.Context, req.AccountID)
	if err != nil {
		return nil, storeError(err)
	}
	resp := params.LinksResponse{
		Links: make([]params.Link, len(links)),
	}
	for i, l := range links {
		resp.Links[i] = params.Link{
			AccountID:   l.AccountID,
			Domain:      l.Domain,
			ExternalKey: l.ExternalKey,
			Created:     l.Created,
		}
	}
	return &resp, nil
}

// Unlink serves the POST /v1/unlink endpoint. It removes the link held
// by an external identity whatever account it is linked to. The domain
// need not be configured, so that links in retired domains can be
// removed.
func (h *apiHandler) Unlink(p httprequest.Params, req *params.UnlinkRequest) (*params.UnlinkResponse, error) {
	if req.Body.Domain == "" {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "domain not specified")
	}
	if req.Body.ExternalKey == "" {
		return nil, errgo.WithCausef(nil, params.ErrBadRequest, "external key not specified")
	}
	existed, err := h.links.UnlinkByExternalKey(p.Context, req.Body.Domain, req.Body.ExternalKey)
	if err != nil {
		return nil, storeError(err)
	}
	if existed {
		logger.Infof("%s unlinked %q in domain %q", h.id, req.Body.ExternalKey, req.Body.Domain)
	}
	return &params.UnlinkResponse{
		Existed: existed,
	}, nil
}

// UnlinkAccount serves the DELETE /v1/accounts/:account/links/:domain
// endpoint.
func (h *apiHandler) UnlinkAccount(p httprequest.Params, req *params.UnlinkAccountRequest) (*params.UnlinkResponse, error) {
	if _, err := h.h.params.AccountStore.Account(p.Context, req.AccountID); err != nil {
		return nil, storeError(err)
	}
	existed, err := h.links.Unlink(p.Context, req.AccountID, req.Domain)
	if err != nil {
		return nil, storeError(err)
	}
	if existed {
		logger.Infof("%s unlinked account %d in domain %q", h.id, req.AccountID, req.Domain)
	}
	return &params.UnlinkResponse{
		Existed: existed,
	}, nil
}
