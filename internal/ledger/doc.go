// Package ledger holds the pure rules of the prepaid-funds ledger: the
// balance projection over a user's history, the point-before-credit split,
// the campaign reference ids and the ledger error taxonomy.
//
// Nothing in this package touches storage.
package ledger
