// Package credential owns the current access/refresh credential pair.
//
// A Store is the single source of truth for the credential of one
// session. It hydrates lazily from a storage.Storage, persists every Set,
// and runs at most one refresh at a time: concurrent Refresh callers join
// the refresh already in progress. A failed refresh never clears the
// credential; deciding to log out is the caller's policy.
//
// OAuth2Refresher implements the refresh_token and password grants
// against an OAuth2 token endpoint. InspectToken decodes JWT access token
// claims for client-side display and expiry inference. It never verifies
// signatures and must not be used for authorization decisions.
package credential
