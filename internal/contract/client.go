// Package contract talks to the LinkedIn portal contract over Ethereum JSON-RPC.
package contract

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	methodGetAllProfiles   = "getAllProfiles"
	methodGetTotalProfiles = "getTotalProfiles"
	methodPostProfile      = "postProfile"
	defaultPollInterval    = time.Second

	errMessageParseABI          = "parse contract abi"
	errMessageInvalidAddress    = "invalid contract address"
	errMessageInvalidSender     = "invalid sender account"
	errMessageMissingBackend    = "contract backend is required"
	errMessageMissingSigner     = "transaction signer is required"
	errMessagePack              = "pack call"
	errMessageUnpack            = "unpack result"
	errMessageUnexpectedResult  = "unexpected result shape"
	errMessageTimestampOverflow = "profile timestamp out of range"
	errMessageNonce             = "pending nonce"
	errMessageGasPrice          = "suggest gas price"

	logMessageWriteSent    = "profile write sent"
	logMessageReceiptRetry = "transaction receipt lookup failed, retrying"
	logFieldTransaction    = "transaction"
	logFieldSender         = "sender"
	logFieldGasLimit       = "gas_limit"
)

//go:embed abi/linkedin_portal.json
var portalABIJSON string

var (
	errMissingBackend      = errors.New(errMessageMissingBackend)
	errMissingSigner       = errors.New(errMessageMissingSigner)
	errUnexpectedResult    = errors.New(errMessageUnexpectedResult)
	errTimestampOverflow   = errors.New(errMessageTimestampOverflow)
	errInvalidSenderFormat = errors.New(errMessageInvalidSender)
)

// Backend is the subset of an Ethereum JSON-RPC client used by Client.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs transactions on behalf of an authorized account.
type Signer interface {
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction) (*types.Transaction, error)
}

// Config configures a Client.
type Config struct {
	Address      string
	Backend      Backend
	Signer       Signer
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Client implements portal.Contract against a deployed LinkedIn portal contract.
type Client struct {
	address      common.Address
	abi          abi.ABI
	backend      Backend
	signer       Signer
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ portal.Contract = (*Client)(nil)

// profileRecord mirrors the contract's Profile struct for ABI decoding.
type profileRecord struct {
	Poster    common.Address
	Timestamp *big.Int
	Name      string
	Url       string
}

// NewClient parses the contract ABI and validates the configuration.
func NewClient(configuration Config) (*Client, error) {
	if !common.IsHexAddress(configuration.Address) {
		return nil, fmt.Errorf("%s: %q", errMessageInvalidAddress, configuration.Address)
	}
	if configuration.Backend == nil {
		return nil, errMissingBackend
	}
	if configuration.Signer == nil {
		return nil, errMissingSigner
	}
	parsedABI, err := abi.JSON(strings.NewReader(portalABIJSON))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageParseABI, err)
	}
	pollInterval := configuration.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		address:      common.HexToAddress(configuration.Address),
		abi:          parsedABI,
		backend:      configuration.Backend,
		signer:       configuration.Signer,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Address returns the contract address in checksummed hex.
func (client *Client) Address() string {
	return client.address.Hex()
}

// GetAllProfiles reads every profile in contract order.
func (client *Client) GetAllProfiles(ctx context.Context) ([]portal.RawProfile, error) {
	values, err := client.call(ctx, methodGetAllProfiles)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(values[0], new([]profileRecord)).(*[]profileRecord)

	profiles := make([]portal.RawProfile, 0, len(records))
	for _, record := range records {
		timestamp := record.Timestamp
		if timestamp == nil {
			timestamp = new(big.Int)
		}
		if !timestamp.IsUint64() {
			return nil, portal.NewError(portal.KindUnknown, errTimestampOverflow)
		}
		profiles = append(profiles, portal.RawProfile{
			Poster:    portal.Account(record.Poster.Hex()),
			Timestamp: timestamp.Uint64(),
			Name:      record.Name,
			URL:       record.Url,
		})
	}
	return profiles, nil
}

// GetTotalProfiles reads the number of profiles posted so far.
func (client *Client) GetTotalProfiles(ctx context.Context) (uint64, error) {
	values, err := client.call(ctx, methodGetTotalProfiles)
	if err != nil {
		return 0, err
	}
	total, ok := values[0].(*big.Int)
	if !ok || total == nil || !total.IsUint64() {
		return 0, portal.NewError(portal.KindUnknown, errUnexpectedResult)
	}
	return total.Uint64(), nil
}

// PostProfile signs and sends a postProfile transaction with a fixed gas limit.
// The returned write resolves once the transaction is mined.
func (client *Client) PostProfile(ctx context.Context, from portal.Account, name string, url string, resourceCeiling uint64) (portal.PendingWrite, error) {
	if !common.IsHexAddress(string(from)) {
		return nil, portal.NewError(portal.KindUnknown, fmt.Errorf("%w: %q", errInvalidSenderFormat, from))
	}
	sender := common.HexToAddress(string(from))

	data, err := client.abi.Pack(methodPostProfile, name, url)
	if err != nil {
		return nil, portal.NewError(portal.KindUnknown, fmt.Errorf("%s: %w", errMessagePack, err))
	}
	nonce, err := client.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, classifyError(fmt.Errorf("%s: %w", errMessageNonce, err))
	}
	gasPrice, err := client.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, classifyError(fmt.Errorf("%s: %w", errMessageGasPrice, err))
	}

	contractAddress := client.address
	transaction := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      resourceCeiling,
		To:       &contractAddress,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := client.signer.SignTransaction(ctx, sender, transaction)
	if err != nil {
		return nil, classifyError(err)
	}
	if err := client.backend.SendTransaction(ctx, signed); err != nil {
		return nil, classifyError(err)
	}

	client.logger.Info(logMessageWriteSent,
		zap.String(logFieldTransaction, signed.Hash().Hex()),
		zap.String(logFieldSender, sender.Hex()),
		zap.Uint64(logFieldGasLimit, resourceCeiling),
	)
	return &pendingTransaction{client: client, transaction: signed}, nil
}

func (client *Client) call(ctx context.Context, method string) ([]interface{}, error) {
	data, err := client.abi.Pack(method)
	if err != nil {
		return nil, portal.NewError(portal.KindUnknown, fmt.Errorf("%s: %w", errMessagePack, err))
	}
	contractAddress := client.address
	output, err := client.backend.CallContract(ctx, ethereum.CallMsg{To: &contractAddress, Data: data}, nil)
	if err != nil {
		return nil, classifyError(err)
	}
	values, err := client.abi.Unpack(method, output)
	if err != nil {
		return nil, portal.NewError(portal.KindUnknown, fmt.Errorf("%s: %w", errMessageUnpack, err))
	}
	if len(values) != 1 {
		return nil, portal.NewError(portal.KindUnknown, errUnexpectedResult)
	}
	return values, nil
}
