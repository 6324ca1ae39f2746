// Package tracking records opens and clicks and prepares outgoing HTML so
// those events can be observed.
//
// Only the first open and the first click per recipient are kept. The
// store enforces that with a unique key, so concurrent pixel loads race
// safely.
package tracking
