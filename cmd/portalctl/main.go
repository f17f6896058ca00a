package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metalinked/metalinked/internal/bootstrap"
	"github.com/metalinked/metalinked/internal/portal"
	"github.com/metalinked/metalinked/internal/wallet"
)

const (
	rootCommandUse              = "portalctl"
	rootCommandShortDescription = "Read and post MetaLinked profiles from the terminal"
	profilesCommandUse          = "profiles"
	profilesCommandShort        = "Work with the profiles stored in the contract"
	listCommandUse              = "list"
	listCommandShort            = "List every stored profile"
	postCommandUse              = "post"
	postCommandShort            = "Post a profile and wait for its confirmation"
	flagNameName                = "name"
	flagNameDescription         = "Display name of the profile"
	flagURLName                 = "url"
	flagURLDescription          = "Profile link"
)

// settings holds the flags, environment and config file values of the commands.
var settings = viper.New()

func main() {
	cobra.CheckErr(newRootCommand(ProfilesDependencies{}).Execute())
}

func newRootCommand(dependencies ProfilesDependencies) *cobra.Command {
	application := NewProfilesApplicationWithDependencies(dependencies)

	rootCommand := &cobra.Command{
		Use:          rootCommandUse,
		Short:        rootCommandShortDescription,
		SilenceUsage: true,
	}
	bootstrap.RegisterSessionFlags(rootCommand, settings)
	cobra.OnInitialize(func() {
		bootstrap.ConfigureEnvironment(settings)
	})

	profilesCommand := &cobra.Command{
		Use:   profilesCommandUse,
		Short: profilesCommandShort,
	}

	listCommand := &cobra.Command{
		Use:   listCommandUse,
		Short: listCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return application.List(command.Context())
		},
	}

	var draft portal.ProfileDraft
	postCommand := &cobra.Command{
		Use:   postCommandUse,
		Short: postCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			return application.Post(command.Context(), draft)
		},
	}
	postCommand.Flags().StringVar(&draft.Name, flagNameName, "", flagNameDescription)
	postCommand.Flags().StringVar(&draft.URL, flagURLName, "", flagURLDescription)

	profilesCommand.AddCommand(listCommand, postCommand)
	rootCommand.AddCommand(profilesCommand)
	return rootCommand
}

func newApprover() wallet.Approver {
	if bootstrap.AutoApprove(settings) {
		return wallet.AutoApprover{}
	}
	return wallet.NewTerminalApprover(os.Stdin, os.Stderr)
}
