package rpc

import "github.com/jcdickinson/quarry/internal/rustdoc"

// StructRequest is the request body for POST /struct and POST /exists.
type StructRequest struct {
	Path string `json:"path"`
}

// StructResponse is the response body for POST /struct.
type StructResponse struct {
	Struct *rustdoc.StructInfo `json:"struct"`
}

// ExistsResponse is the response body for POST /exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// ListResponse is the response body for GET /list.
type ListResponse struct {
	Paths []string `json:"paths"`
}

// StatsResponse is the response body for GET /stats.
type StatsResponse struct {
	Entries     int  `json:"entries"`
	Initialized bool `json:"initialized"`
}

// ClearRequest is the request body for POST /clear-cache.
type ClearRequest struct {
	Purge bool `json:"purge,omitempty"`
}

// ErrorResponse is returned with any non-200 status. Code is one of the
// errdefs codes; Path and Kind carry the details needed to rebuild the
// typed error on the client.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Path  string `json:"path,omitempty"`
	Kind  string `json:"kind,omitempty"`

	Ambiguous []string `json:"ambiguous,omitempty"`
}
