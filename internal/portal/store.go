package portal

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

const (
	operationRefresh = "refresh_profiles"
	operationPost    = "post_profile"
	operationTotal   = "get_total_profiles"
	refreshFlightKey = "profiles"

	logMessageProfilesLoaded  = "profiles loaded"
	logMessageTotalProfiles   = "retrieved total profiles"
	logMessageWriteDispatched = "mining profile write"
	logMessageWriteConfirmed  = "profile write mined"
	logMessageDraftIgnored    = "draft update ignored while posting"
	logMessageLoadSuperseded  = "profile load superseded by a post, result discarded"
	logFieldCount             = "count"
	logFieldTransaction       = "transaction"
)

var errMissingPendingWrite = errors.New(errMessageMissingConfirmation)

// SetDraft records the fields being composed. Updates are ignored while posting.
func (session *Session) SetDraft(draft ProfileDraft) bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if session.phase == PhasePosting {
		session.logger.Debug(logMessageDraftIgnored)
		return false
	}
	session.draft = draft
	session.publishLocked()
	return true
}

// RefreshProfiles replaces the profile list with the contract's current records.
// On failure the previous list is kept. Concurrent callers share a single read,
// and a call made while another load is already running returns immediately.
func (session *Session) RefreshProfiles(ctx context.Context) error {
	_, err, _ := session.refreshGroup.Do(refreshFlightKey, func() (interface{}, error) {
		session.mutex.Lock()
		switch session.phase {
		case PhaseNotConnected:
			session.mutex.Unlock()
			return nil, ErrNotConnected
		case PhasePosting:
			session.mutex.Unlock()
			return nil, ErrPostInFlight
		case PhaseLoading:
			session.mutex.Unlock()
			return nil, nil
		}
		session.setPhaseLocked(PhaseLoading)
		generation := session.loadGeneration
		session.mutex.Unlock()

		return nil, session.readProfiles(ctx, generation)
	})
	return err
}

// ClaimedPost is a profile write that holds the Posting phase. Run must be
// called exactly once to perform the write and release the phase.
type ClaimedPost struct {
	session    *Session
	account    Account
	draft      ProfileDraft
	generation uint64
}

// BeginPost claims the Posting phase for draft without touching the contract.
// It fails with ErrNotConnected or ErrPostInFlight. A load still running when
// the claim is made is superseded and its result discarded.
func (session *Session) BeginPost(draft ProfileDraft) (*ClaimedPost, error) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	switch session.phase {
	case PhaseNotConnected:
		return nil, ErrNotConnected
	case PhasePosting:
		return nil, ErrPostInFlight
	}
	session.loadGeneration++
	session.draft = draft
	session.setPhaseLocked(PhasePosting)
	return &ClaimedPost{
		session:    session,
		account:    session.account,
		draft:      draft,
		generation: session.loadGeneration,
	}, nil
}

// PostProfile submits draft as a new profile and waits for the write to be mined.
// The draft is cleared as soon as the write has been dispatched. On confirmation
// the profile list is refreshed exactly once; on failure the phase returns to
// idle without a refresh.
func (session *Session) PostProfile(ctx context.Context, draft ProfileDraft) error {
	claimed, err := session.BeginPost(draft)
	if err != nil {
		return err
	}
	return claimed.Run(ctx)
}

// Run dispatches the claimed write, waits for confirmation and refreshes.
func (claimed *ClaimedPost) Run(ctx context.Context) error {
	session := claimed.session
	session.readTotalProfiles(ctx)

	pending, dispatchErr := session.dispatch(ctx, claimed.account, claimed.draft)

	session.mutex.Lock()
	session.draft = ProfileDraft{}
	if dispatchErr != nil {
		session.setPhaseLocked(PhaseIdle)
		session.mutex.Unlock()
		return session.fail(operationPost, dispatchErr)
	}
	session.lastTransaction = pending.Identifier()
	session.publishLocked()
	session.mutex.Unlock()
	session.logger.Info(logMessageWriteDispatched, zap.String(logFieldTransaction, pending.Identifier()))

	if err := pending.AwaitConfirmation(ctx); err != nil {
		session.mutex.Lock()
		session.setPhaseLocked(PhaseIdle)
		session.mutex.Unlock()
		return session.fail(operationPost, err)
	}
	session.logger.Info(logMessageWriteConfirmed, zap.String(logFieldTransaction, pending.Identifier()))
	session.recorder.RecordOutcome(operationPost, "")

	session.mutex.Lock()
	session.setPhaseLocked(PhaseIdle)
	session.setPhaseLocked(PhaseLoading)
	session.mutex.Unlock()

	session.readTotalProfiles(ctx)
	// The write is settled; a failed refresh is logged and leaves the old list.
	_ = session.readProfiles(ctx, claimed.generation)
	return nil
}

func (session *Session) dispatch(ctx context.Context, account Account, draft ProfileDraft) (PendingWrite, error) {
	if !session.wallet.HasCapability() {
		return nil, NewError(KindCapabilityMissing, nil)
	}
	pending, err := session.contract.PostProfile(ctx, account, draft.Name, draft.URL, session.resourceCeiling)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, errMissingPendingWrite
	}
	return pending, nil
}

// readProfiles performs the contract read and leaves the loading phase. The list
// is only replaced when the read succeeds and no post started after the load
// began; a superseded load changes neither the list nor the phase.
func (session *Session) readProfiles(ctx context.Context, generation uint64) error {
	rawProfiles, err := session.contract.GetAllProfiles(ctx)

	session.mutex.Lock()
	defer session.mutex.Unlock()
	if generation != session.loadGeneration {
		session.logger.Debug(logMessageLoadSuperseded)
		if err != nil {
			return session.fail(operationRefresh, err)
		}
		return nil
	}
	if err != nil {
		session.leaveLoadingLocked()
		return session.fail(operationRefresh, err)
	}

	session.profiles = mapProfiles(rawProfiles)
	session.logger.Info(logMessageProfilesLoaded, zap.Int(logFieldCount, len(session.profiles)))
	session.recorder.RecordOutcome(operationRefresh, "")
	if !session.leaveLoadingLocked() {
		session.publishLocked()
	}
	return nil
}

// leaveLoadingLocked returns to idle when a load is in progress and reports whether
// the phase changed.
func (session *Session) leaveLoadingLocked() bool {
	if session.phase != PhaseLoading {
		return false
	}
	session.setPhaseLocked(PhaseIdle)
	return true
}

// readTotalProfiles logs the advisory profile count. Failures are logged only.
func (session *Session) readTotalProfiles(ctx context.Context) {
	total, err := session.contract.GetTotalProfiles(ctx)
	if err != nil {
		session.fail(operationTotal, err)
		return
	}
	session.logger.Info(logMessageTotalProfiles, zap.Uint64(logFieldCount, total))

	session.mutex.Lock()
	session.totalProfiles = total
	session.publishLocked()
	session.mutex.Unlock()
}
