package gateway

import "errors"

// Sentinel errors for the gateway domain. HTTP status mapping happens once,
// centrally, in internal/server.
var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrWriteRejected      = errors.New("write operations are not allowed on the query endpoint")
	ErrBulkRejected       = errors.New("bulk operations are not allowed")
	ErrAdminRejected      = errors.New("admin operations are not allowed")
	ErrSchemaDDLRejected  = errors.New("schema DDL is not allowed on the query endpoint")
	ErrSharedRepoWrite    = errors.New("write access to shared repositories is not permitted")
	ErrNoCreditPool       = errors.New("no credit pool for graph")
	ErrCreditInsufficient = errors.New("insufficient credits")
	ErrAccessDenied       = errors.New("no access to repository")
	ErrCapacity           = errors.New("capacity exceeded")
	ErrUserLimit          = errors.New("per-user concurrent query limit reached")
	ErrQueueFull          = errors.New("query queue is full")
	ErrAdmissionRejected  = errors.New("admission control rejected the request")
	ErrCircuitOpen        = errors.New("circuit open")
	ErrTimeout            = errors.New("timeout")
	ErrRepository         = errors.New("repository error")
	ErrConnectionLimit    = errors.New("connection limit reached")
	ErrRateLimited        = errors.New("rate limited")
)
