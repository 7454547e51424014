// Package sqlstore persists the committed ledger of a simulated world in
// SQL through bun. LedgerStore implements chain.Backend for sqlite and
// postgres.
package sqlstore
