// Copyright 2014 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package identity

import (
	"context"
	"net/http"

	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/canonical/hybridauth/params"
)

var (
	ReqServer = httprequest.Server{
		ErrorMapper: errToResp,
	}
	WriteError = ReqServer.WriteError
)

func errToResp(ctx context.Context, err error) (int, interface{}) {
	errorBody := errorResponseBody(err)
	status := http.StatusInternalServerError
	switch errorBody.Code {
	case params.ErrNotFound:
		status = http.StatusNotFound
	case params.ErrForbidden, params.ErrCredential:
		status = http.StatusForbidden
	case params.ErrBadRequest:
		status = http.StatusBadRequest
	case params.ErrUnauthorized:
		status = http.StatusUnauthorized
	case params.ErrMethodNotAllowed:
		status = http.StatusMethodNotAllowed
	case params.ErrLinkConflict:
		status = http.StatusConflict
	case params.ErrDirectory, params.ErrDirectoryConnection, params.ErrDirectoryBind, params.ErrProvider:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.Errorf("Internal Server Error: %s (%s)", err, errgo.Details(err))
	}

	return status, errorBody
}

// errorResponseBody returns an appropriate error response for the
// provided error.
func errorResponseBody(err error) *apiError {
	errResp := params.Error{
		Message: err.Error(),
	}
	cause := errgo.Cause(err)
	if coder, ok := cause.(errorCoder); ok {
		errResp.Code = coder.ErrorCode()
	} else if cause == httprequest.ErrUnmarshal {
		errResp.Code = params.ErrBadRequest
	}
	if errResp.Code == params.ErrUnauthorized {
		return &apiError{
			Error:     errResp,
			challenge: true,
		}
	}
	return &apiError{
		Error: errResp,
	}
}

type apiError struct {
	params.Error

	// challenge is set when the client should be asked for basic
	// authentication credentials.
	challenge bool
}

// SetHeader implements httprequest.HeaderSetter.
func (err *apiError) SetHeader(h http.Header) {
	if err.challenge {
		h.Set("WWW-Authenticate", `Basic realm="hybridauth"`)
	}
}

type errorCoder interface {
	ErrorCode() params.ErrorCode
}
