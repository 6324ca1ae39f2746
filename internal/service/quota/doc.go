// Package quota implements the per-user monthly send ledger.
//
// The ledger counts attempted sends, not successful deliveries. Checks are
// pure; commits are a single conditional increment in the store so two
// concurrent sends can never push usage past the monthly allotment.
package quota
