package portal

import (
	"context"
	"time"
)

// Account identifies the authorized wallet account.
type Account string

// Profile is a profile record as read from the contract.
type Profile struct {
	PosterAddress Account   `json:"posterAddress"`
	Timestamp     time.Time `json:"timestamp"`
	Name          string    `json:"name"`
	URL           string    `json:"url"`
}

// RawProfile is the contract's representation of a profile before mapping.
type RawProfile struct {
	Poster    Account
	Timestamp uint64
	Name      string
	URL       string
}

// ProfileDraft holds the fields of a profile being composed.
type ProfileDraft struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Snapshot is an immutable view of the session state.
type Snapshot struct {
	Account         Account      `json:"account,omitempty"`
	Phase           Phase        `json:"phase"`
	Profiles        []Profile    `json:"profiles"`
	Draft           ProfileDraft `json:"draft"`
	TotalProfiles   uint64       `json:"totalProfiles"`
	LastTransaction string       `json:"lastTransaction,omitempty"`
	ExternalLink    string       `json:"externalLink,omitempty"`
}

// IsConnected reports whether the snapshot has an authorized account.
func (snapshot Snapshot) IsConnected() bool {
	return snapshot.Phase.IsConnected()
}

// IsLoading reports whether a profile read was in progress.
func (snapshot Snapshot) IsLoading() bool {
	return snapshot.Phase.IsLoading()
}

// IsPosting reports whether a profile write was in progress.
func (snapshot Snapshot) IsPosting() bool {
	return snapshot.Phase.IsPosting()
}

// Wallet is the injected wallet capability.
type Wallet interface {
	HasCapability() bool
	// AuthorizedAccounts returns previously granted accounts without prompting.
	AuthorizedAccounts(ctx context.Context) ([]Account, error)
	// RequestAccounts asks the user to authorize an account and may prompt.
	RequestAccounts(ctx context.Context) ([]Account, error)
}

// Contract is the remote profile contract.
type Contract interface {
	GetAllProfiles(ctx context.Context) ([]RawProfile, error)
	GetTotalProfiles(ctx context.Context) (uint64, error)
	PostProfile(ctx context.Context, from Account, name string, url string, resourceCeiling uint64) (PendingWrite, error)
}

// PendingWrite is a dispatched write awaiting ledger inclusion.
type PendingWrite interface {
	Identifier() string
	AwaitConfirmation(ctx context.Context) error
}

// Notifier delivers blocking notices to the user.
type Notifier interface {
	Notify(message string)
}

// OutcomeRecorder observes the outcome of each session operation.
type OutcomeRecorder interface {
	RecordOutcome(operation string, kind ErrorKind)
}

func mapProfiles(rawProfiles []RawProfile) []Profile {
	profiles := make([]Profile, 0, len(rawProfiles))
	for _, raw := range rawProfiles {
		profiles = append(profiles, Profile{
			PosterAddress: raw.Poster,
			Timestamp:     time.Unix(int64(raw.Timestamp), 0).UTC(),
			Name:          raw.Name,
			URL:           raw.URL,
		})
	}
	return profiles
}
