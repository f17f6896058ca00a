package portal

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	operationProbe   = "probe_existing_authorization"
	operationConnect = "request_connection"

	logMessageWalletMissing          = "make sure you have a wallet installed"
	logMessageNoAuthorizedAccount    = "no authorized account found"
	logMessageAmbiguousAuthorization = "several authorized accounts found, waiting for explicit connect"
	logMessageAuthorizedAccount      = "found an authorized account"
	logMessageConnected              = "wallet connected"
	logMessageOperationFailed        = "session operation failed"
	logFieldAccountCount             = "account_count"
)

var errNoAccountsReturned = errors.New(errMessageNoAccountsReturned)

// ProbeExistingAuthorization checks, without prompting, whether the wallet already
// authorized an account. The account is adopted only when exactly one is returned,
// after which profiles are loaded. A missing wallet is logged and is not an error.
func (session *Session) ProbeExistingAuthorization(ctx context.Context) (Account, error) {
	if !session.beginConnecting() {
		return "", ErrConnectionInFlight
	}
	defer session.endConnecting()

	if account := session.currentAccount(); account != "" {
		return account, nil
	}
	if !session.wallet.HasCapability() {
		session.logger.Info(logMessageWalletMissing)
		return "", nil
	}

	accounts, err := session.wallet.AuthorizedAccounts(ctx)
	if err != nil {
		return "", session.fail(operationProbe, err)
	}
	switch {
	case len(accounts) == 0 || (len(accounts) == 1 && accounts[0] == ""):
		session.logger.Info(logMessageNoAuthorizedAccount)
		return "", nil
	case len(accounts) > 1:
		session.logger.Info(logMessageAmbiguousAuthorization, zap.Int(logFieldAccountCount, len(accounts)))
		return "", nil
	}

	account := accounts[0]
	session.logger.Info(logMessageAuthorizedAccount, zap.String(logFieldAccount, string(account)))
	session.establish(ctx, operationProbe, account)
	return account, nil
}

// RequestConnection asks the wallet to authorize an account, which may prompt the
// user. Without a wallet the install notice is delivered and CapabilityMissing is
// returned. Once connected the existing account is returned without prompting.
func (session *Session) RequestConnection(ctx context.Context) (Account, error) {
	if !session.beginConnecting() {
		return "", ErrConnectionInFlight
	}
	defer session.endConnecting()

	if account := session.currentAccount(); account != "" {
		return account, nil
	}
	if !session.wallet.HasCapability() {
		session.notifier.Notify(InstallWalletNotice)
		return "", session.fail(operationConnect, NewError(KindCapabilityMissing, nil))
	}

	accounts, err := session.wallet.RequestAccounts(ctx)
	if err != nil {
		return "", session.fail(operationConnect, err)
	}
	if len(accounts) == 0 || accounts[0] == "" {
		return "", session.fail(operationConnect, errNoAccountsReturned)
	}

	account := accounts[0]
	session.establish(ctx, operationConnect, account)
	return account, nil
}

// establish adopts the account and performs the initial profile load.
func (session *Session) establish(ctx context.Context, operation string, account Account) {
	session.mutex.Lock()
	session.account = account
	session.setPhaseLocked(PhaseLoading)
	generation := session.loadGeneration
	session.mutex.Unlock()

	session.logger.Info(logMessageConnected,
		zap.String(logFieldAccount, string(account)),
		zap.String(logFieldOperation, operation),
	)
	session.recorder.RecordOutcome(operation, "")

	// Read failures are non-fatal here; readProfiles already logged them.
	_ = session.readProfiles(ctx, generation)
}

func (session *Session) beginConnecting() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.connecting {
		return false
	}
	session.connecting = true
	return true
}

func (session *Session) endConnecting() {
	session.mutex.Lock()
	session.connecting = false
	session.mutex.Unlock()
}

func (session *Session) currentAccount() Account {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.account
}

// fail classifies err, logs it and records the outcome. It never returns nil.
func (session *Session) fail(operation string, err error) *Error {
	classified := classify(operation, err)
	session.logger.Warn(logMessageOperationFailed,
		zap.String(logFieldOperation, operation),
		zap.String(logFieldErrorKind, string(classified.Kind)),
		zap.Error(err),
	)
	session.recorder.RecordOutcome(operation, classified.Kind)
	return classified
}
