package domain

import "context"

type Principal struct {
	Subject  string
	TenantID string
	Roles    []string
}

// Authenticator resolves a bearer token to a principal. Session and password
// management live outside this service; this is the only surface it sees.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) (Principal, error)
}
