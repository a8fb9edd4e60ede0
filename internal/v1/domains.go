// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package v1

import (
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/params"
)

// Domains serves the GET /v1/domains endpoint. Domains whose
// configuration is invalid are left out.
func (h *apiHandler) Domains(p httprequest.Params, req *params.DomainsRequest) (*params.DomainsResponse, error) {
	domains := h.engine.Domains().Describe(p.Context)
	if domains == nil {
		domains = []params.Domain{}
	}
	return &params.DomainsResponse{
		Domains: domains,
	}, nil
}
