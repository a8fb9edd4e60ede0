// Copyright 2016 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package debug serves the health, version and profiling endpoints of
// the service.
package debug

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	pprof "github.com/juju/httpprof"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/internal/auth"
	"github.com/canonical/hybridauth/internal/identity"
	"github.com/canonical/hybridauth/internal/mapper"
	"github.com/canonical/hybridauth/store"
)

var logger = loggo.GetLogger("hybridauth.internal.debug")

// checkTimeout is the time allowed for all the status checks.
const checkTimeout = 10 * time.Second

// NewAPIHandler returns the handlers for the /debug endpoints. The
// status and info endpoints are public. The pprof endpoints may only be
// used by members of the admin ACL.
func NewAPIHandler(p identity.HandlerParams) ([]httprequest.Handler, error) {
	checks := []Check{
		serverStarted,
		storeCheck(p.LinkStore),
	}
	ds := p.Engine.Domains()
	for _, name := range ds.Names() {
		checks = append(checks, domainCheck(ds, name))
	}
	h := &handler{
		checks:     checks,
		info:       BuildInfo(),
		authorizer: p.Authorizer,
	}
	return identity.ReqServer.Handlers(func(p httprequest.Params) (*handler, context.Context, error) {
		return h, p.Context, nil
	}), nil
}

type handler struct {
	checks     []Check
	info       Info
	authorizer *auth.Authorizer
}

// StatusRequest is the request for the service health.
type StatusRequest struct {
	httprequest.Route `httprequest:"GET /debug/status"`
}

// Status runs the health checks.
func (h *handler) Status(p httprequest.Params, _ *StatusRequest) (map[string]Result, error) {
	return RunChecks(p.Context, checkTimeout, h.checks), nil
}

// InfoRequest is the request for the version of the service.
type InfoRequest struct {
	httprequest.Route `httprequest:"GET /debug/info"`
}

// Info returns the version of the running binary.
func (h *handler) Info(*InfoRequest) (Info, error) {
	return h.info, nil
}

// PprofIndexRequest is the request for the list of profiles.
type PprofIndexRequest struct {
	httprequest.Route `httprequest:"GET /debug/pprof/"`
}

// PprofIndex lists the available profiles.
func (h *handler) PprofIndex(p httprequest.Params, _ *PprofIndexRequest) error {
	if err := h.checkAdmin(p.Context, p.Request); err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	pprof.Index(p.Response, p.Request)
	return nil
}

// PprofRequest is the request for a single profile.
type PprofRequest struct {
	httprequest.Route `httprequest:"GET /debug/pprof/:name"`
	Name              string `httprequest:"name,path"`
}

// Pprof serves the named profile.
func (h *handler) Pprof(p httprequest.Params, req *PprofRequest) error {
	if err := h.checkAdmin(p.Context, p.Request); err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	switch req.Name {
	case "cmdline":
		pprof.Cmdline(p.Response, p.Request)
	case "profile":
		pprof.Profile(p.Response, p.Request)
	case "symbol":
		pprof.Symbol(p.Response, p.Request)
	default:
		pprof.Handler(req.Name).ServeHTTP(p.Response, p.Request)
	}
	return nil
}

func (h *handler) checkAdmin(ctx context.Context, req *http.Request) error {
	id, err := h.authorizer.Authenticate(ctx, req)
	if err != nil {
		return errgo.Mask(err, errgo.Any)
	}
	if err := h.authorizer.CheckACL(ctx, auth.AdminACL, id); err != nil {
		logger.Infof("pprof access denied to %q: %s", id, err)
		return errgo.Mask(err, errgo.Any)
	}
	return nil
}

// storeCheck checks that the link store can be queried, reporting the
// number of links in each domain.
func storeCheck(links store.LinkStore) Check {
	return Check{
		Key:  "store",
		Name: "Link store",
		Run: func(ctx context.Context) (string, error) {
			counts, err := links.LinkCounts(ctx)
			if err != nil {
				return "", errgo.Mask(err)
			}
			if len(counts) == 0 {
				return "no links", nil
			}
			domains := make([]string, 0, len(counts))
			for d := range counts {
				domains = append(domains, d)
			}
			sort.Strings(domains)
			for i, d := range domains {
				domains[i] = fmt.Sprintf("%s=%d", d, counts[d])
			}
			return strings.Join(domains, " "), nil
		},
	}
}

// domainCheck checks that the provider of the named domain can be
// initialized.
func domainCheck(ds *mapper.Domains, name string) Check {
	return Check{
		Key:  "domain_" + name,
		Name: "Domain " + name,
		Run: func(ctx context.Context) (string, error) {
			d, err := ds.Domain(ctx, name)
			if err != nil {
				return "", errgo.Mask(err, errgo.Any)
			}
			if !d.Enabled() {
				return "disabled", nil
			}
			return d.Provider().Description(), nil
		},
	}
}
