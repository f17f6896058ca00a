package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/metalinked/metalinked/internal/bootstrap"
	"github.com/metalinked/metalinked/internal/observability"
	"github.com/metalinked/metalinked/internal/server"
	"github.com/metalinked/metalinked/internal/wallet"
)

const (
	commandUse               = "portal"
	commandShortDescription  = "Serve the MetaLinked profile portal over HTTP"
	flagHostName             = "host"
	flagHostDescription      = "Host interface for the HTTP server"
	flagPortName             = "port"
	flagPortDescription      = "Port for the HTTP server"
	defaultHost              = "127.0.0.1"
	defaultPort              = 8080
	shutdownTimeout          = 5 * time.Second
	errMessageLoggerCreate   = "create logger"
	errMessageConfigLoad     = "load configuration"
	errMessageSessionOpen    = "open session"
	errMessageRouterCreate   = "create router"
	errMessageListenAndServe = "listen and serve"
	errMessageShutdown       = "shutdown server"
	logMessageStartingServer = "starting HTTP server"
	logMessageServerStopped  = "server stopped"
	logMessageListenError    = "server listen failure"
	logMessageProbeFailed    = "existing authorization probe failed"
	logMessageProbeAccount   = "restored authorized account"
	logMessageNotice         = "user notice"
	logFieldAddress          = "address"
	logFieldAccount          = "account"
	logFieldContract         = "contract"
	logFieldNotice           = "notice"
)

// settings holds the flags, environment and config file values of the command.
var settings = viper.New()

func main() {
	cobra.CheckErr(newPortalCommand().Execute())
}

func newPortalCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   commandUse,
		Short: commandShortDescription,
		RunE:  runPortalCommand,
	}

	command.Flags().String(flagHostName, defaultHost, flagHostDescription)
	command.Flags().Int(flagPortName, defaultPort, flagPortDescription)
	bindFlagToViper(command, flagHostName)
	bindFlagToViper(command, flagPortName)
	bootstrap.RegisterSessionFlags(command, settings)

	cobra.OnInitialize(func() {
		bootstrap.ConfigureEnvironment(settings)
	})

	return command
}

func bindFlagToViper(command *cobra.Command, flagName string) {
	cobra.CheckErr(settings.BindPFlag(flagName, command.Flags().Lookup(flagName)))
}

// logNotifier reports blocking notices through the process log.
type logNotifier struct {
	logger *zap.Logger
}

func (notifier logNotifier) Notify(message string) {
	notifier.logger.Warn(logMessageNotice, zap.String(logFieldNotice, message))
}

func runPortalCommand(command *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageLoggerCreate, err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	configuration, err := bootstrap.LoadConfig(settings)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageConfigLoad, err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	configuration.Approver = wallet.NewTerminalApprover(os.Stdin, os.Stderr)
	if bootstrap.AutoApprove(settings) {
		configuration.Approver = wallet.AutoApprover{}
	}
	configuration.Notifier = logNotifier{logger: logger}
	configuration.Recorder = metrics
	configuration.Logger = logger

	signalContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	runtime, err := bootstrap.Open(signalContext, configuration)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageSessionOpen, err)
	}
	defer runtime.Close()

	router, err := server.NewRouter(server.RouterConfig{
		Session:  runtime.Session,
		Metrics:  metrics,
		Gatherer: registry,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageRouterCreate, err)
	}

	address := fmt.Sprintf("%s:%d", settings.GetString(flagHostName), settings.GetInt(flagPortName))
	httpServer := &http.Server{Addr: address, Handler: router}

	group, groupContext := errgroup.WithContext(signalContext)
	group.Go(func() error {
		logger.Info(logMessageStartingServer,
			zap.String(logFieldAddress, address),
			zap.String(logFieldContract, runtime.Session.ContractAddress()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(logMessageListenError, zap.Error(err))
			return fmt.Errorf("%s: %w", errMessageListenAndServe, err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupContext.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownContext); err != nil {
			return fmt.Errorf("%s: %w", errMessageShutdown, err)
		}
		return nil
	})
	group.Go(func() error {
		account, probeErr := runtime.Session.ProbeExistingAuthorization(groupContext)
		if probeErr != nil {
			logger.Warn(logMessageProbeFailed, zap.Error(probeErr))
			return nil
		}
		if account != "" {
			logger.Info(logMessageProbeAccount, zap.String(logFieldAccount, string(account)))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info(logMessageServerStopped)
	return nil
}
