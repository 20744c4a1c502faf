// Package store is the DynamoDB layer under the places service.
//
// Users and places live in separate tables. Any change touching both goes
// through one TransactWriteItems call, built with a [Txn], so the two records
// never disagree. On top of that the Store offers:
//
//   - consistent reads that hide soft-deleted items ([Store.Get])
//   - paginated queries with the same filter ([Store.Query])
//   - version-checked updates ([Txn.Update])
//   - soft delete by ttl ([Store.Delete], [Store.SetTTLByKey])
//   - unique values reserved in their own table ([UniqueFielder])
//   - a circuit breaker around every call ([BreakerConfig])
//
// Every queued transaction item carries a label, so a cancelled transaction
// reports which condition failed:
//
//	txn := s.Begin()
//	txn.PutNew("place", place, placeItem)
//	txn.Update("user", user, userItem, user.Version)
//	err := txn.Commit(ctx)
//	var condErr *store.ConditionError
//	if errors.As(err, &condErr) && condErr.Label == "user" {
//	    // the user changed since it was read
//	}
//
// Errors: [ErrNotFound], [ErrAlreadyExists], [ErrDuplicateValue],
// [ErrConditionFailed] (as *[ConditionError]), [ErrTxConflict],
// [ErrTxnTooLarge] and [ErrUnavailable].
package store
