package store

import "context"

// RunInTx runs fn inside a transaction and commits when it returns nil.
// Any error rolls the whole unit back.
func RunInTx(ctx context.Context, b TxBeginner, fn func(tx DBTransaction) error) error {
	tx, err := b.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
