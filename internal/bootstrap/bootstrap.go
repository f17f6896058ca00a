// Package bootstrap assembles a portal session from its configuration: the
// Ethereum node connection, the keystore wallet with its grant store and the
// contract client.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/contract"
	"github.com/metalinked/metalinked/internal/portal"
	"github.com/metalinked/metalinked/internal/wallet"
)

const (
	errMessageMissingRPCURL   = "rpc url is required"
	errMessageInvalidContract = "contract address must be a hex address"
	errMessageDial            = "dial ethereum node"
	errMessageChainID         = "read chain id"
	errMessageGrantStore      = "open grant store"
	errMessageWallet          = "create wallet"
	errMessageContract        = "create contract client"
	errMessageSession         = "create session"

	logMessageNodeConnected = "connected to ethereum node"
	logFieldRPCURL          = "rpc_url"
	logFieldChainID         = "chain_id"
	logFieldKeystoreDir     = "keystore_dir"
)

var (
	errMissingRPCURL   = errors.New(errMessageMissingRPCURL)
	errInvalidContract = errors.New(errMessageInvalidContract)
)

// Dialer opens a JSON-RPC connection to an Ethereum node.
type Dialer func(ctx context.Context, rawURL string) (*ethclient.Client, error)

// Config describes how to assemble a session.
type Config struct {
	RPCURL          string
	ContractAddress string
	ResourceCeiling uint64
	KeystoreDir     string
	GrantsPath      string
	Passphrase      string
	ExternalLink    string
	PollInterval    time.Duration

	Approver wallet.Approver
	Notifier portal.Notifier
	Recorder portal.OutcomeRecorder
	Dial     Dialer
	Logger   *zap.Logger
}

// Runtime owns the assembled session and the resources behind it.
type Runtime struct {
	Session *portal.Session
	Wallet  *wallet.Wallet
	Client  *contract.Client

	node   *ethclient.Client
	grants *wallet.GrantStore
}

// Open dials the node and builds the session. Close releases everything Open acquired.
func Open(ctx context.Context, configuration Config) (*Runtime, error) {
	rpcURL := strings.TrimSpace(configuration.RPCURL)
	if rpcURL == "" {
		return nil, errMissingRPCURL
	}
	if !common.IsHexAddress(configuration.ContractAddress) {
		return nil, fmt.Errorf("%w: %q", errInvalidContract, configuration.ContractAddress)
	}
	dial := configuration.Dial
	if dial == nil {
		dial = ethclient.DialContext
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	node, err := dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageDial, err)
	}
	chainID, err := node.ChainID(ctx)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("%s: %w", errMessageChainID, err)
	}
	logger.Info(logMessageNodeConnected,
		zap.String(logFieldRPCURL, rpcURL),
		zap.String(logFieldChainID, chainID.String()),
		zap.String(logFieldKeystoreDir, configuration.KeystoreDir),
	)

	grants, err := wallet.OpenGrantStore(configuration.GrantsPath)
	if err != nil {
		node.Close()
		return nil, fmt.Errorf("%s: %w", errMessageGrantStore, err)
	}
	runtime := &Runtime{node: node, grants: grants}

	runtime.Wallet, err = wallet.New(wallet.Config{
		KeystoreDir: configuration.KeystoreDir,
		Passphrase:  configuration.Passphrase,
		ChainID:     chainID,
		Grants:      grants,
		Approver:    configuration.Approver,
		Logger:      logger,
	})
	if err != nil {
		runtime.Close()
		return nil, fmt.Errorf("%s: %w", errMessageWallet, err)
	}

	runtime.Client, err = contract.NewClient(contract.Config{
		Address:      configuration.ContractAddress,
		Backend:      node,
		Signer:       runtime.Wallet,
		PollInterval: configuration.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		runtime.Close()
		return nil, fmt.Errorf("%s: %w", errMessageContract, err)
	}

	runtime.Session, err = portal.NewSession(portal.Config{
		ContractAddress: runtime.Client.Address(),
		ResourceCeiling: configuration.ResourceCeiling,
		ExternalLink:    configuration.ExternalLink,
		Wallet:          runtime.Wallet,
		Contract:        runtime.Client,
		Notifier:        configuration.Notifier,
		Recorder:        configuration.Recorder,
		Logger:          logger,
	})
	if err != nil {
		runtime.Close()
		return nil, fmt.Errorf("%s: %w", errMessageSession, err)
	}
	return runtime, nil
}

// Close releases the node connection and the grant store.
func (runtime *Runtime) Close() error {
	if runtime.node != nil {
		runtime.node.Close()
	}
	if runtime.grants != nil {
		return runtime.grants.Close()
	}
	return nil
}
