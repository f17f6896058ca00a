package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	// EnvPrefix prefixes every environment variable read by the binaries.
	EnvPrefix = "METALINKED"

	FlagRPCURLName          = "rpc-url"
	FlagContractAddressName = "contract-address"
	FlagResourceCeilingName = "resource-ceiling"
	FlagKeystoreDirName     = "keystore-dir"
	FlagGrantsDBName        = "grants-db"
	FlagPassphraseName      = "passphrase"
	FlagAutoApproveName     = "auto-approve"
	FlagExternalLinkName    = "external-link"
	FlagPollIntervalName    = "poll-interval"
	FlagConfigName          = "config"

	flagRPCURLDescription          = "JSON-RPC endpoint of the Ethereum node"
	flagContractAddressDescription = "Address of the profile contract"
	flagResourceCeilingDescription = "Gas ceiling attached to each profile write"
	flagKeystoreDirDescription     = "Directory holding the wallet keystore files"
	flagGrantsDBDescription        = "Path of the authorization grant database (empty keeps grants in memory)"
	flagPassphraseDescription      = "Passphrase unlocking the keystore account"
	flagAutoApproveDescription     = "Approve connection and transaction prompts without asking"
	flagExternalLinkDescription    = "Link rendered in the page footer"
	flagPollIntervalDescription    = "Interval between transaction receipt polls"
	flagConfigDescription          = "Optional configuration file"

	defaultRPCURL       = "http://127.0.0.1:8545"
	defaultGrantsDB     = "metalinked-grants.db"
	defaultPollInterval = 2 * time.Second

	errMessageReadConfig = "read config file"
)

var sessionFlagNames = []string{
	FlagRPCURLName,
	FlagContractAddressName,
	FlagResourceCeilingName,
	FlagKeystoreDirName,
	FlagGrantsDBName,
	FlagPassphraseName,
	FlagAutoApproveName,
	FlagExternalLinkName,
	FlagPollIntervalName,
}

// RegisterSessionFlags declares the session flags on the command's persistent
// flag set and binds each one into settings.
func RegisterSessionFlags(command *cobra.Command, settings *viper.Viper) {
	flags := command.PersistentFlags()
	flags.String(FlagRPCURLName, defaultRPCURL, flagRPCURLDescription)
	flags.String(FlagContractAddressName, "", flagContractAddressDescription)
	flags.Uint64(FlagResourceCeilingName, portal.DefaultResourceCeiling, flagResourceCeilingDescription)
	flags.String(FlagKeystoreDirName, "", flagKeystoreDirDescription)
	flags.String(FlagGrantsDBName, defaultGrantsDB, flagGrantsDBDescription)
	flags.String(FlagPassphraseName, "", flagPassphraseDescription)
	flags.Bool(FlagAutoApproveName, false, flagAutoApproveDescription)
	flags.String(FlagExternalLinkName, portal.DefaultExternalLink, flagExternalLinkDescription)
	flags.Duration(FlagPollIntervalName, defaultPollInterval, flagPollIntervalDescription)
	flags.String(FlagConfigName, "", flagConfigDescription)

	for _, flagName := range append(sessionFlagNames, FlagConfigName) {
		cobra.CheckErr(settings.BindPFlag(flagName, flags.Lookup(flagName)))
	}
}

// ConfigureEnvironment maps METALINKED_* variables onto the flag keys.
func ConfigureEnvironment(settings *viper.Viper) {
	settings.SetEnvPrefix(EnvPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
}

// LoadConfig reads the optional config file and returns the session
// configuration held in settings. Collaborators such as the approver are left
// for the caller.
func LoadConfig(settings *viper.Viper) (Config, error) {
	if configPath := strings.TrimSpace(settings.GetString(FlagConfigName)); configPath != "" {
		settings.SetConfigFile(configPath)
		if err := settings.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%s: %w", errMessageReadConfig, err)
		}
	}
	return Config{
		RPCURL:          settings.GetString(FlagRPCURLName),
		ContractAddress: strings.TrimSpace(settings.GetString(FlagContractAddressName)),
		ResourceCeiling: settings.GetUint64(FlagResourceCeilingName),
		KeystoreDir:     settings.GetString(FlagKeystoreDirName),
		GrantsPath:      settings.GetString(FlagGrantsDBName),
		Passphrase:      settings.GetString(FlagPassphraseName),
		ExternalLink:    settings.GetString(FlagExternalLinkName),
		PollInterval:    settings.GetDuration(FlagPollIntervalName),
	}, nil
}

// AutoApprove reports whether prompts should be approved without asking.
func AutoApprove(settings *viper.Viper) bool {
	return settings.GetBool(FlagAutoApproveName)
}
