// Package wallet provides a keystore-backed wallet for the portal session.
//
// Accounts live in a go-ethereum keystore directory. An account becomes usable
// by the portal only after the operator approves a connection request, and the
// approval is remembered in a GrantStore. Every transaction is approved again
// before it is signed.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	errMessageMissingGrants      = "grant store is required"
	errMessageMissingChainID     = "chain id is required"
	errMessageNoKeystore         = "no keystore accounts available"
	errMessageConnectionDeclined = "connection request declined"
	errMessageSigningDeclined    = "transaction declined"
	errMessageNotGranted         = "account has not been authorized"
	errMessageApproval           = "approval prompt"
	errMessageSign               = "sign transaction"

	logMessageGrantStored   = "account authorization stored"
	logMessageGrantSkipped  = "authorized account missing from keystore"
	logMessageTxSigned      = "transaction signed"
	logFieldAccount         = "account"
	logFieldKeystoreDir     = "keystore_dir"
	logFieldTransactionHash = "transaction"
)

var (
	errMissingGrants      = errors.New(errMessageMissingGrants)
	errMissingChainID     = errors.New(errMessageMissingChainID)
	errNoKeystore         = errors.New(errMessageNoKeystore)
	errConnectionDeclined = errors.New(errMessageConnectionDeclined)
	errSigningDeclined    = errors.New(errMessageSigningDeclined)
	errNotGranted         = errors.New(errMessageNotGranted)
)

// Config configures a Wallet.
type Config struct {
	KeystoreDir string
	Passphrase  string
	ChainID     *big.Int
	Grants      *GrantStore
	Approver    Approver
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Wallet implements portal.Wallet over a keystore directory and signs
// transactions for authorized accounts.
type Wallet struct {
	keystore    *keystore.KeyStore
	keystoreDir string
	passphrase  string
	chainID     *big.Int
	grants      *GrantStore
	approver    Approver
	logger      *zap.Logger
	clock       func() time.Time
}

var _ portal.Wallet = (*Wallet)(nil)

// New builds a Wallet. An empty KeystoreDir yields a wallet without capability.
func New(configuration Config) (*Wallet, error) {
	if configuration.Grants == nil {
		return nil, errMissingGrants
	}
	if configuration.ChainID == nil {
		return nil, errMissingChainID
	}
	approver := configuration.Approver
	if approver == nil {
		approver = AutoApprover{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := configuration.Clock
	if clock == nil {
		clock = time.Now
	}

	var store *keystore.KeyStore
	if configuration.KeystoreDir != "" {
		store = keystore.NewKeyStore(configuration.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
	}
	return &Wallet{
		keystore:    store,
		keystoreDir: configuration.KeystoreDir,
		passphrase:  configuration.Passphrase,
		chainID:     new(big.Int).Set(configuration.ChainID),
		grants:      configuration.Grants,
		approver:    approver,
		logger:      logger,
		clock:       clock,
	}, nil
}

// HasCapability reports whether the keystore holds at least one account.
func (wallet *Wallet) HasCapability() bool {
	return wallet.keystore != nil && len(wallet.keystore.Accounts()) > 0
}

// AuthorizedAccounts returns the granted accounts still present in the
// keystore without prompting.
func (wallet *Wallet) AuthorizedAccounts(ctx context.Context) ([]portal.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if wallet.keystore == nil {
		return nil, portal.NewError(portal.KindCapabilityMissing, errNoKeystore)
	}
	grants, err := wallet.grants.List()
	if err != nil {
		return nil, err
	}
	authorized := make([]portal.Account, 0, len(grants))
	for _, grant := range grants {
		if !wallet.keystore.HasAddress(common.HexToAddress(string(grant.Account))) {
			wallet.logger.Debug(logMessageGrantSkipped, zap.String(logFieldAccount, string(grant.Account)))
			continue
		}
		authorized = append(authorized, grant.Account)
	}
	return authorized, nil
}

// RequestAccounts asks the operator to authorize the primary keystore account
// and remembers the grant.
func (wallet *Wallet) RequestAccounts(ctx context.Context) ([]portal.Account, error) {
	if !wallet.HasCapability() {
		return nil, portal.NewError(portal.KindCapabilityMissing, errNoKeystore)
	}
	primary := portal.Account(wallet.keystore.Accounts()[0].Address.Hex())

	approved, err := wallet.approver.ApproveConnection(ctx, primary)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageApproval, err)
	}
	if !approved {
		return nil, portal.NewError(portal.KindUserRejected, errConnectionDeclined)
	}
	if err := wallet.grants.Save(primary, wallet.clock()); err != nil {
		return nil, err
	}
	wallet.logger.Info(logMessageGrantStored,
		zap.String(logFieldAccount, string(primary)),
		zap.String(logFieldKeystoreDir, wallet.keystoreDir),
	)
	return []portal.Account{primary}, nil
}

// SignTransaction signs transaction for an authorized account after the
// operator approves it.
func (wallet *Wallet) SignTransaction(ctx context.Context, from common.Address, transaction *types.Transaction) (*types.Transaction, error) {
	if wallet.keystore == nil {
		return nil, portal.NewError(portal.KindCapabilityMissing, accounts.ErrUnknownWallet)
	}
	account := accounts.Account{Address: from}
	if !wallet.keystore.HasAddress(from) {
		return nil, portal.NewError(portal.KindCapabilityMissing, accounts.ErrUnknownAccount)
	}
	granted, err := wallet.isGranted(from)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, portal.NewError(portal.KindCapabilityMissing, errNotGranted)
	}

	approved, err := wallet.approver.ApproveTransaction(ctx, portal.Account(from.Hex()), transaction)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageApproval, err)
	}
	if !approved {
		return nil, portal.NewError(portal.KindUserRejected, errSigningDeclined)
	}

	signed, err := wallet.keystore.SignTxWithPassphrase(account, wallet.passphrase, transaction, wallet.chainID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageSign, err)
	}
	wallet.logger.Debug(logMessageTxSigned,
		zap.String(logFieldAccount, from.Hex()),
		zap.String(logFieldTransactionHash, signed.Hash().Hex()),
	)
	return signed, nil
}

func (wallet *Wallet) isGranted(address common.Address) (bool, error) {
	grants, err := wallet.grants.List()
	if err != nil {
		return false, err
	}
	for _, grant := range grants {
		if common.HexToAddress(string(grant.Account)) == address {
			return true, nil
		}
	}
	return false, nil
}
