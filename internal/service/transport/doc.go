// Package transport resolves and implements the per-user SMTP transport.
//
// A Resolver looks up the user's SMTP settings on every send batch and
// returns a transport bound to them. Cached transports are keyed by user
// and dropped whenever that user's settings are saved.
package transport
