// Package queue is a durable delayed-job queue on Redis for scheduled sends.
//
// A job lives in four keys under one prefix:
//
//	{prefix}:jobs     HASH  job id -> JSON payload
//	{prefix}:delayed  ZSET  job id scored by the unix-millis it becomes due
//	{prefix}:active   ZSET  claimed job id scored by its lease expiry
//	{prefix}:dead     LIST  JSON records of jobs that ran out of attempts
//
// Job ids are derived from the email id, so enqueueing the same email
// twice replaces the pending job rather than adding a second one. Claims
// are leases: a job whose lease expires before it is acked goes back to
// delayed and is delivered again. Consumers must therefore be idempotent.
package queue
