package contract

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	testContractAddress = "0xd606c77b9a9009940f4063878F7714771Fc01c49"
	testPosterAddress   = "0x00000000000000000000000000000000000000aB"
	testPollInterval    = time.Millisecond
)

var testChainID = big.NewInt(1337)

type receiptResponse struct {
	receipt *types.Receipt
	err     error
}

type backendStub struct {
	mutex        sync.Mutex
	callOutput   []byte
	callErr      error
	calls        []ethereum.CallMsg
	nonce        uint64
	gasPrice     *big.Int
	sendErr      error
	sent         []*types.Transaction
	receipts     []receiptResponse
	receiptCalls int
}

func (stub *backendStub) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	stub.calls = append(stub.calls, call)
	return stub.callOutput, stub.callErr
}

func (stub *backendStub) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return stub.nonce, nil
}

func (stub *backendStub) SuggestGasPrice(context.Context) (*big.Int, error) {
	if stub.gasPrice == nil {
		return big.NewInt(1), nil
	}
	return stub.gasPrice, nil
}

func (stub *backendStub) SendTransaction(_ context.Context, transaction *types.Transaction) error {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	if stub.sendErr != nil {
		return stub.sendErr
	}
	stub.sent = append(stub.sent, transaction)
	return nil
}

func (stub *backendStub) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	index := stub.receiptCalls
	stub.receiptCalls++
	if len(stub.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	if index >= len(stub.receipts) {
		index = len(stub.receipts) - 1
	}
	return stub.receipts[index].receipt, stub.receipts[index].err
}

type keySigner struct {
	signErr error
}

func (signer keySigner) SignTransaction(_ context.Context, _ common.Address, transaction *types.Transaction) (*types.Transaction, error) {
	if signer.signErr != nil {
		return nil, signer.signErr
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return types.SignTx(transaction, types.NewEIP155Signer(testChainID), key)
}

func newTestClient(t *testing.T, backend *backendStub, signer Signer) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Address:      testContractAddress,
		Backend:      backend,
		Signer:       signer,
		PollInterval: testPollInterval,
	})
	require.NoError(t, err)
	return client
}

func packOutputs(t *testing.T, method string, values ...interface{}) []byte {
	t.Helper()
	parsedABI, err := abi.JSON(strings.NewReader(portalABIJSON))
	require.NoError(t, err)
	output, err := parsedABI.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return output
}

func TestNewClientValidatesConfig(t *testing.T) {
	testCases := []struct {
		name          string
		configuration Config
	}{
		{name: "invalid address", configuration: Config{Address: "not-an-address", Backend: &backendStub{}, Signer: keySigner{}}},
		{name: "missing backend", configuration: Config{Address: testContractAddress, Signer: keySigner{}}},
		{name: "missing signer", configuration: Config{Address: testContractAddress, Backend: &backendStub{}}},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewClient(testCase.configuration)
			require.Error(t, err)
		})
	}
}

func TestGetAllProfilesDecodesContractOrder(t *testing.T) {
	backend := &backendStub{callOutput: packOutputs(t, methodGetAllProfiles, []profileRecord{
		{Poster: common.HexToAddress(testPosterAddress), Timestamp: big.NewInt(1640995200), Name: "Ada", Url: "https://ada.example"},
		{Poster: common.HexToAddress(testContractAddress), Timestamp: big.NewInt(1641081600), Name: "", Url: ""},
	})}
	client := newTestClient(t, backend, keySigner{})

	profiles, err := client.GetAllProfiles(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []portal.RawProfile{
		{Poster: portal.Account(common.HexToAddress(testPosterAddress).Hex()), Timestamp: 1640995200, Name: "Ada", URL: "https://ada.example"},
		{Poster: portal.Account(common.HexToAddress(testContractAddress).Hex()), Timestamp: 1641081600},
	}, profiles)
	require.Len(t, backend.calls, 1)
	assert.Equal(t, common.HexToAddress(testContractAddress), *backend.calls[0].To)
	assert.Equal(t, client.abi.Methods[methodGetAllProfiles].ID, backend.calls[0].Data[:4])
}

func TestGetAllProfilesEmptyList(t *testing.T) {
	backend := &backendStub{callOutput: packOutputs(t, methodGetAllProfiles, []profileRecord{})}
	client := newTestClient(t, backend, keySigner{})

	profiles, err := client.GetAllProfiles(context.Background())

	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestGetAllProfilesClassifiesFailures(t *testing.T) {
	testCases := []struct {
		name         string
		backend      *backendStub
		expectedKind portal.ErrorKind
	}{
		{name: "revert", backend: &backendStub{callErr: errors.New("execution reverted")}, expectedKind: portal.KindRemoteRejected},
		{name: "transport", backend: &backendStub{callErr: errors.New("dial tcp: connection refused")}, expectedKind: portal.KindUnknown},
		{name: "no contract code", backend: &backendStub{callOutput: []byte{}}, expectedKind: portal.KindUnknown},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			client := newTestClient(t, testCase.backend, keySigner{})
			_, err := client.GetAllProfiles(context.Background())
			require.Error(t, err)
			assert.Equal(t, testCase.expectedKind, portal.KindOf(err))
		})
	}
}

func TestGetTotalProfiles(t *testing.T) {
	backend := &backendStub{callOutput: packOutputs(t, methodGetTotalProfiles, big.NewInt(42))}
	client := newTestClient(t, backend, keySigner{})

	total, err := client.GetTotalProfiles(context.Background())

	require.NoError(t, err)
	assert.Equal(t, uint64(42), total)
}

func TestPostProfileSendsSignedTransaction(t *testing.T) {
	backend := &backendStub{nonce: 7, gasPrice: big.NewInt(2)}
	client := newTestClient(t, backend, keySigner{})

	pending, err := client.PostProfile(context.Background(), testPosterAddress, "Ada", "https://ada.example", portal.DefaultResourceCeiling)

	require.NoError(t, err)
	require.Len(t, backend.sent, 1)
	sent := backend.sent[0]
	assert.Equal(t, sent.Hash().Hex(), pending.Identifier())
	assert.Equal(t, portal.DefaultResourceCeiling, sent.Gas())
	assert.Equal(t, uint64(7), sent.Nonce())
	assert.Zero(t, big.NewInt(2).Cmp(sent.GasPrice()))
	assert.Equal(t, common.HexToAddress(testContractAddress), *sent.To())

	method := client.abi.Methods[methodPostProfile]
	assert.Equal(t, method.ID, sent.Data()[:4])
	arguments, err := method.Inputs.Unpack(sent.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Ada", "https://ada.example"}, arguments)
}

func TestPostProfileClassifiesDispatchFailures(t *testing.T) {
	testCases := []struct {
		name        string
		from        portal.Account
		signErr     error
		sendErr     error
		expectedErr error
	}{
		{name: "invalid sender", from: "0xnothex", expectedErr: portal.ErrUnknown},
		{name: "user declined", from: testPosterAddress, signErr: portal.NewError(portal.KindUserRejected, errors.New("declined")), expectedErr: portal.ErrUserRejected},
		{name: "account missing", from: testPosterAddress, signErr: accounts.ErrUnknownAccount, expectedErr: portal.ErrCapabilityMissing},
		{name: "ceiling too low", from: testPosterAddress, sendErr: errors.New("intrinsic gas too low"), expectedErr: portal.ErrResourceExceeded},
		{name: "node rejected", from: testPosterAddress, sendErr: errors.New("nonce too low"), expectedErr: portal.ErrUnknown},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			backend := &backendStub{sendErr: testCase.sendErr}
			client := newTestClient(t, backend, keySigner{signErr: testCase.signErr})

			pending, err := client.PostProfile(context.Background(), testCase.from, "Ada", "https://ada.example", portal.DefaultResourceCeiling)

			assert.Nil(t, pending)
			require.ErrorIs(t, err, testCase.expectedErr)
			assert.Empty(t, backend.sent)
		})
	}
}

func TestAwaitConfirmation(t *testing.T) {
	testCases := []struct {
		name        string
		receipts    []receiptResponse
		expectedErr error
		minLookups  int
	}{
		{
			name: "mined after pending lookups",
			receipts: []receiptResponse{
				{err: ethereum.NotFound},
				{err: errors.New("temporary node failure")},
				{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 50000}},
			},
			minLookups: 3,
		},
		{
			name:        "out of gas",
			receipts:    []receiptResponse{{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: portal.DefaultResourceCeiling}}},
			expectedErr: portal.ErrResourceExceeded,
			minLookups:  1,
		},
		{
			name:        "reverted",
			receipts:    []receiptResponse{{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, GasUsed: 21000}}},
			expectedErr: portal.ErrRemoteRejected,
			minLookups:  1,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			backend := &backendStub{receipts: testCase.receipts}
			client := newTestClient(t, backend, keySigner{})
			pending, err := client.PostProfile(context.Background(), testPosterAddress, "Ada", "https://ada.example", portal.DefaultResourceCeiling)
			require.NoError(t, err)

			confirmErr := pending.AwaitConfirmation(context.Background())

			if testCase.expectedErr == nil {
				require.NoError(t, confirmErr)
			} else {
				require.ErrorIs(t, confirmErr, testCase.expectedErr)
			}
			assert.GreaterOrEqual(t, backend.receiptCalls, testCase.minLookups)
		})
	}
}

func TestAwaitConfirmationStopsWithContext(t *testing.T) {
	backend := &backendStub{}
	client := newTestClient(t, backend, keySigner{})
	pending, err := client.PostProfile(context.Background(), testPosterAddress, "Ada", "https://ada.example", portal.DefaultResourceCeiling)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	confirmErr := pending.AwaitConfirmation(ctx)

	require.ErrorIs(t, confirmErr, context.DeadlineExceeded)
	assert.Equal(t, portal.KindUnknown, portal.KindOf(confirmErr))
}

func TestClassifyError(t *testing.T) {
	testCases := []struct {
		name         string
		err          error
		expectedKind portal.ErrorKind
	}{
		{name: "already classified", err: portal.NewError(portal.KindUserRejected, nil), expectedKind: portal.KindUserRejected},
		{name: "unknown account", err: accounts.ErrUnknownAccount, expectedKind: portal.KindCapabilityMissing},
		{name: "gas allowance", err: errors.New("gas required exceeds allowance (300000)"), expectedKind: portal.KindResourceExceeded},
		{name: "revert reason", err: errors.New("execution reverted: profile exists"), expectedKind: portal.KindRemoteRejected},
		{name: "external signer denial", err: errors.New("Request denied"), expectedKind: portal.KindUserRejected},
		{name: "anything else", err: errors.New("EOF"), expectedKind: portal.KindUnknown},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expectedKind, portal.KindOf(classifyError(testCase.err)))
		})
	}
	assert.NoError(t, classifyError(nil))
}
