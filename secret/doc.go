// Package secret resolves credentials referenced from configuration.
//
// Configuration values may embed environment variables (${VAR}, expanded
// strictly: a missing variable is an error) and secret references of the
// form
//
//	secretref:<provider>:<ref>
//
// The env provider reads an environment variable and the file provider
// reads a file such as a mounted Kubernetes or Docker secret. A reference
// may be the whole value or appear inline ("Bearer secretref:env:TOKEN").
package secret
