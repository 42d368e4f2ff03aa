package api

import "github.com/nhle/maildesk/internal/apperror"

// Result is the response envelope the frontend unwraps: either ok with
// data, or not ok with an error.
type Result struct {
	OK    bool               `json:"ok"`
	Data  any                `json:"data,omitempty"`
	Error *apperror.External `json:"error,omitempty"`
}

func success(data any) Result {
	return Result{OK: true, Data: data}
}

func failure(ext apperror.External) Result {
	return Result{Error: &ext}
}
