// Package portal implements the wallet connection and profile posting session
// behind the MetaLinked front-end.
package portal

import (
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultResourceCeiling is the gas limit attached to every profile write.
	DefaultResourceCeiling uint64 = 300000
	// DefaultExternalLink is the footer link shown by the front-end.
	DefaultExternalLink = "https://twitter.com/Dape25"
	// InstallWalletNotice is the blocking notice shown when connect finds no wallet.
	InstallWalletNotice = "No wallet found. Install a wallet to connect."

	defaultSubscriptionBuffer = 64
	errMessageMissingWallet   = "wallet capability is required"
	errMessageMissingContract = "contract is required"
	errMessageMissingAddress  = "contract address is required"

	logMessageSnapshotDropped = "oldest snapshot dropped for slow subscriber"
	logMessagePhaseChanged    = "session phase changed"
	logFieldContract          = "contract"
	logFieldPhase             = "phase"
	logFieldFromPhase         = "from_phase"
	logFieldAccount           = "account"
	logFieldOperation         = "operation"
	logFieldErrorKind         = "error_kind"
)

var (
	errMissingWallet   = errors.New(errMessageMissingWallet)
	errMissingContract = errors.New(errMessageMissingContract)
	errMissingAddress  = errors.New(errMessageMissingAddress)
)

// Config configures a Session. Zero values fall back to defaults.
type Config struct {
	ContractAddress string
	ResourceCeiling uint64
	ExternalLink    string

	Wallet   Wallet
	Contract Contract
	Notifier Notifier
	Recorder OutcomeRecorder
	Logger   *zap.Logger
}

// Session owns the account, the profile list and the UI phase of one page session.
type Session struct {
	contractAddress string
	resourceCeiling uint64
	externalLink    string

	wallet   Wallet
	contract Contract
	notifier Notifier
	recorder OutcomeRecorder
	logger   *zap.Logger

	mutex           sync.Mutex
	account         Account
	phase           Phase
	profiles        []Profile
	draft           ProfileDraft
	totalProfiles   uint64
	lastTransaction string
	connecting      bool
	loadGeneration  uint64
	subscribers     map[*Subscription]struct{}

	refreshGroup singleflight.Group
}

// NewSession validates the configuration and returns a session in the NotConnected phase.
func NewSession(configuration Config) (*Session, error) {
	if configuration.Wallet == nil {
		return nil, errMissingWallet
	}
	if configuration.Contract == nil {
		return nil, errMissingContract
	}
	if strings.TrimSpace(configuration.ContractAddress) == "" {
		return nil, errMissingAddress
	}
	resourceCeiling := configuration.ResourceCeiling
	if resourceCeiling == 0 {
		resourceCeiling = DefaultResourceCeiling
	}
	externalLink := strings.TrimSpace(configuration.ExternalLink)
	if externalLink == "" {
		externalLink = DefaultExternalLink
	}
	notifier := configuration.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	recorder := configuration.Recorder
	if recorder == nil {
		recorder = discardRecorder{}
	}
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	session := &Session{
		contractAddress: strings.TrimSpace(configuration.ContractAddress),
		resourceCeiling: resourceCeiling,
		externalLink:    externalLink,
		wallet:          configuration.Wallet,
		contract:        configuration.Contract,
		notifier:        notifier,
		recorder:        recorder,
		logger:          logger.With(zap.String(logFieldContract, strings.TrimSpace(configuration.ContractAddress))),
		phase:           PhaseNotConnected,
		profiles:        []Profile{},
		subscribers:     make(map[*Subscription]struct{}),
	}
	return session, nil
}

// ContractAddress returns the configured contract address.
func (session *Session) ContractAddress() string {
	return session.contractAddress
}

// ResourceCeiling returns the gas limit attached to profile writes.
func (session *Session) ResourceCeiling() uint64 {
	return session.resourceCeiling
}

// HasWallet reports whether the wallet capability is currently available.
func (session *Session) HasWallet() bool {
	return session.wallet.HasCapability()
}

// Snapshot returns a copy of the current state.
func (session *Session) Snapshot() Snapshot {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.snapshotLocked()
}

// Subscription delivers a snapshot after every state change.
type Subscription struct {
	session  *Session
	channel  chan Snapshot
	closeOne sync.Once
}

// C returns the snapshot channel. It is closed by Close.
func (subscription *Subscription) C() <-chan Snapshot {
	return subscription.channel
}

// Close detaches the subscription from its session.
func (subscription *Subscription) Close() {
	subscription.closeOne.Do(func() {
		subscription.session.mutex.Lock()
		delete(subscription.session.subscribers, subscription)
		close(subscription.channel)
		subscription.session.mutex.Unlock()
	})
}

// Subscribe registers an observer. The current snapshot is delivered first.
// When the buffer is full the oldest queued snapshot is dropped, so the last
// value in the channel is always the latest state.
func (session *Session) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	subscription := &Subscription{session: session, channel: make(chan Snapshot, buffer)}

	session.mutex.Lock()
	defer session.mutex.Unlock()
	session.subscribers[subscription] = struct{}{}
	subscription.channel <- session.snapshotLocked()
	return subscription
}

func (session *Session) snapshotLocked() Snapshot {
	profiles := make([]Profile, len(session.profiles))
	copy(profiles, session.profiles)
	return Snapshot{
		Account:         session.account,
		Phase:           session.phase,
		Profiles:        profiles,
		Draft:           session.draft,
		TotalProfiles:   session.totalProfiles,
		LastTransaction: session.lastTransaction,
		ExternalLink:    session.externalLink,
	}
}

// publishLocked must be called with the mutex held so observers see changes in order.
func (session *Session) publishLocked() {
	if len(session.subscribers) == 0 {
		return
	}
	snapshot := session.snapshotLocked()
	for subscription := range session.subscribers {
		select {
		case subscription.channel <- snapshot:
			continue
		default:
		}
		// Full buffer: the oldest queued snapshot makes room for the newest.
		select {
		case <-subscription.channel:
		default:
		}
		subscription.channel <- snapshot
		session.logger.Debug(logMessageSnapshotDropped, zap.Stringer(logFieldPhase, snapshot.Phase))
	}
}

func (session *Session) setPhaseLocked(phase Phase) {
	if session.phase == phase {
		return
	}
	session.logger.Debug(logMessagePhaseChanged,
		zap.Stringer(logFieldFromPhase, session.phase),
		zap.Stringer(logFieldPhase, phase),
	)
	session.phase = phase
	session.publishLocked()
}

type discardNotifier struct{}

func (discardNotifier) Notify(string) {}

type discardRecorder struct{}

func (discardRecorder) RecordOutcome(string, ErrorKind) {}
