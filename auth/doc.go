// Package auth verifies and issues the bearer tokens presented on join.
//
// Tokens are HS256 JWTs signed with a process-wide secret. The subject
// claim carries the user id. Verification fails for a bad signature, an
// unexpected algorithm, a missing or past expiry, or an empty subject, and
// every failure wraps ErrInvalidToken so callers need not tell them apart.
package auth
