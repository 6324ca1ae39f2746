// Package email implements the email lifecycle: authoring, scheduling,
// immediate sends, queued sends and analytics.
//
// Status changes go through Repository.Transition, a single conditional
// update that only applies when the current status is in the expected set.
// That is what keeps a duplicate queue delivery or a concurrent "send now"
// from sending the same email twice.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package email
