// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaingraph

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/gin-gonic/gin"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeMissingParameter = "MISSING_PARAMETER"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeNodeNotFound     = "NODE_NOT_FOUND"
	CodeNotFound         = "NOT_FOUND"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL_ERROR"
)

// statusFor maps an error from the engine or graph to an HTTP status and
// error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, analytics.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, graph.ErrNodeNotFound):
		return http.StatusNotFound, CodeNodeNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeTimeout
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
