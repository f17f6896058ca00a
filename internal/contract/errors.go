package contract

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/metalinked/metalinked/internal/portal"
)

var (
	resourceExceededFragments = []string{
		"out of gas",
		"intrinsic gas too low",
		"exceeds block gas limit",
		"gas limit reached",
		"gas required exceeds allowance",
	}
	remoteRejectedFragments = []string{
		"execution reverted",
		"invalid opcode",
	}
	userRejectedFragments = []string{
		"user denied",
		"user rejected",
		"request denied",
	}
)

// classifyError maps node and signer errors onto the portal error taxonomy.
// Errors that already carry a kind pass through unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var kindErr *portal.Error
	if errors.As(err, &kindErr) {
		return err
	}
	if errors.Is(err, accounts.ErrUnknownAccount) || errors.Is(err, accounts.ErrUnknownWallet) {
		return portal.NewError(portal.KindCapabilityMissing, err)
	}

	message := strings.ToLower(err.Error())
	switch {
	case containsAny(message, resourceExceededFragments):
		return portal.NewError(portal.KindResourceExceeded, err)
	case containsAny(message, remoteRejectedFragments):
		return portal.NewError(portal.KindRemoteRejected, err)
	case containsAny(message, userRejectedFragments):
		return portal.NewError(portal.KindUserRejected, err)
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		return portal.NewError(portal.KindRemoteRejected, err)
	}
	return portal.NewError(portal.KindUnknown, err)
}

func containsAny(message string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(message, fragment) {
			return true
		}
	}
	return false
}
