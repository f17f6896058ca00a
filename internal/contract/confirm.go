package contract

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	errMessageOutOfGas       = "transaction ran out of gas"
	errMessageReverted       = "transaction reverted"
	errMessageMissingReceipt = "receipt lookup returned nothing"
)

var (
	errOutOfGas       = errors.New(errMessageOutOfGas)
	errReverted       = errors.New(errMessageReverted)
	errMissingReceipt = errors.New(errMessageMissingReceipt)
)

// pendingTransaction is a sent postProfile transaction awaiting inclusion.
type pendingTransaction struct {
	client      *Client
	transaction *types.Transaction
}

// Identifier returns the transaction hash.
func (pending *pendingTransaction) Identifier() string {
	return pending.transaction.Hash().Hex()
}

// AwaitConfirmation polls for the receipt until the transaction is mined. Lookup
// errors other than "not found" are logged and retried; only ctx ends the wait.
func (pending *pendingTransaction) AwaitConfirmation(ctx context.Context) error {
	transactionHash := pending.transaction.Hash()
	for {
		receipt, err := pending.client.backend.TransactionReceipt(ctx, transactionHash)
		switch {
		case err == nil && receipt != nil:
			return receiptOutcome(receipt, pending.transaction)
		case err == nil:
			pending.client.logger.Debug(logMessageReceiptRetry,
				zap.String(logFieldTransaction, transactionHash.Hex()),
				zap.Error(errMissingReceipt),
			)
		case !errors.Is(err, ethereum.NotFound):
			pending.client.logger.Debug(logMessageReceiptRetry,
				zap.String(logFieldTransaction, transactionHash.Hex()),
				zap.Error(err),
			)
		}

		if waitErr := waitForDuration(ctx, pending.client.pollInterval); waitErr != nil {
			return portal.NewError(portal.KindUnknown, waitErr)
		}
	}
}

// receiptOutcome maps a failed receipt to ResourceExceeded when the whole gas
// limit was consumed and to RemoteRejected otherwise.
func receiptOutcome(receipt *types.Receipt, transaction *types.Transaction) error {
	if receipt.Status == types.ReceiptStatusSuccessful {
		return nil
	}
	if receipt.GasUsed >= transaction.Gas() {
		return portal.NewError(portal.KindResourceExceeded, errOutOfGas)
	}
	return portal.NewError(portal.KindRemoteRejected, errReverted)
}

func waitForDuration(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
