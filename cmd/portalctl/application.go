package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/metalinked/metalinked/internal/bootstrap"
	"github.com/metalinked/metalinked/internal/portal"
)

const (
	openSessionErrorFormat = "open session: %w"
	connectErrorFormat     = "connect wallet: %w"
	postErrorFormat        = "post profile: %w"
	closeWarningFormat     = "warning: close session: %v\n"
	connectedMessageFormat = "connected as %s\n"
	totalMessageFormat     = "MetaLinked Profiles (%d)\n"
	emptyListMessage       = "No profiles yet"
	postedMessageFormat    = "posted %q in transaction %s\n"
	profileTableHeader     = "POSTER\tPOSTED\tNAME\tURL"
	profileRowFormat       = "%s\t%s\t%s\t%s\n"
	profileTimestampLayout = "2006-01-02 15:04:05"
	unnamedProfileLabel    = "Unnamed"
)

// ProfileSession is the part of the portal session the terminal front-end drives.
type ProfileSession interface {
	ProbeExistingAuthorization(ctx context.Context) (portal.Account, error)
	RequestConnection(ctx context.Context) (portal.Account, error)
	PostProfile(ctx context.Context, draft portal.ProfileDraft) error
	Snapshot() portal.Snapshot
}

// SessionOpener assembles a session and returns the function releasing it.
type SessionOpener func(ctx context.Context) (ProfileSession, func() error, error)

type ProfilesDependencies struct {
	OpenSession SessionOpener
	Stdout      io.Writer
	Stderr      io.Writer
}

type ProfilesApplication struct {
	dependencies ProfilesDependencies
}

func NewProfilesApplicationWithDependencies(dependencies ProfilesDependencies) ProfilesApplication {
	defaultDependencies := newDefaultProfilesDependencies()

	if dependencies.OpenSession == nil {
		dependencies.OpenSession = defaultDependencies.OpenSession
	}
	if dependencies.Stdout == nil {
		dependencies.Stdout = defaultDependencies.Stdout
	}
	if dependencies.Stderr == nil {
		dependencies.Stderr = defaultDependencies.Stderr
	}

	return ProfilesApplication{dependencies: dependencies}
}

// List connects the wallet and prints the profiles loaded by the connection.
func (application ProfilesApplication) List(executionContext context.Context) error {
	return application.withSession(executionContext, func(session ProfileSession) error {
		snapshot := session.Snapshot()
		fmt.Fprintf(application.dependencies.Stdout, totalMessageFormat, len(snapshot.Profiles))
		if len(snapshot.Profiles) == 0 {
			fmt.Fprintln(application.dependencies.Stdout, emptyListMessage)
			return nil
		}

		writer := tabwriter.NewWriter(application.dependencies.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(writer, profileTableHeader)
		for _, profile := range snapshot.Profiles {
			name := profile.Name
			if name == "" {
				name = unnamedProfileLabel
			}
			fmt.Fprintf(writer, profileRowFormat, profile.PosterAddress, profile.Timestamp.Format(profileTimestampLayout), name, profile.URL)
		}
		return writer.Flush()
	})
}

// Post connects the wallet, writes the draft and waits for its confirmation.
func (application ProfilesApplication) Post(executionContext context.Context, draft portal.ProfileDraft) error {
	return application.withSession(executionContext, func(session ProfileSession) error {
		if err := session.PostProfile(executionContext, draft); err != nil {
			return fmt.Errorf(postErrorFormat, err)
		}
		fmt.Fprintf(application.dependencies.Stdout, postedMessageFormat, draft.Name, session.Snapshot().LastTransaction)
		return nil
	})
}

func (application ProfilesApplication) withSession(executionContext context.Context, run func(ProfileSession) error) error {
	session, closeSession, err := application.dependencies.OpenSession(executionContext)
	if err != nil {
		return fmt.Errorf(openSessionErrorFormat, err)
	}
	defer func() {
		if closeErr := closeSession(); closeErr != nil {
			fmt.Fprintf(application.dependencies.Stderr, closeWarningFormat, closeErr)
		}
	}()

	account, err := connect(executionContext, session)
	if err != nil {
		return fmt.Errorf(connectErrorFormat, err)
	}
	fmt.Fprintf(application.dependencies.Stderr, connectedMessageFormat, account)
	return run(session)
}

// connect restores a granted account and falls back to asking for one.
func connect(executionContext context.Context, session ProfileSession) (portal.Account, error) {
	account, err := session.ProbeExistingAuthorization(executionContext)
	if err != nil || account != "" {
		return account, err
	}
	return session.RequestConnection(executionContext)
}

func newDefaultProfilesDependencies() ProfilesDependencies {
	return ProfilesDependencies{
		OpenSession: func(ctx context.Context) (ProfileSession, func() error, error) {
			configuration, err := bootstrap.LoadConfig(settings)
			if err != nil {
				return nil, nil, err
			}
			configuration.Approver = newApprover()
			configuration.Notifier = stderrNotifier{output: os.Stderr}
			runtime, err := bootstrap.Open(ctx, configuration)
			if err != nil {
				return nil, nil, err
			}
			return runtime.Session, runtime.Close, nil
		},
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// stderrNotifier prints blocking notices for the terminal user.
type stderrNotifier struct {
	output io.Writer
}

func (notifier stderrNotifier) Notify(message string) {
	fmt.Fprintln(notifier.output, message)
}
