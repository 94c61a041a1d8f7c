package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/gamification"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

const (
	commandUseName                = "server"
	commandShortDescription       = "Run the review funnel server"
	commandLongDescription        = "Launch the review collection HTTP server and its reward retry worker"
	missingConfigurationMessage   = "missing required configuration"
	loggerCreationErrorMessage    = "logger"
	logEventListening             = "listening"
	logEventShutdown              = "shutdown"
	logEventWorkerStarted         = "worker_started"
	logFieldAddress               = "addr"
	logFieldServeMode             = "serve_mode"
	loggerContextOpenDatabase     = "open_db"
	loggerContextServer           = "server"
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
	environmentFileError          = "failed to load environment file"
	defaultEnvironmentFile        = ".env"
	readHeaderTimeoutSeconds      = 5
	shutdownTimeout               = 10 * time.Second

	flagNameApplicationAddress    = "app-addr"
	flagNameDatabaseDriver        = "db-driver"
	flagNameDatabaseDataSource    = "db-dsn"
	flagNameSessionSecret         = "session-secret"
	flagNameNavigationSecret      = "navigation-secret"
	flagNameNavigationTTL         = "navigation-ttl"
	flagNameCatalogFile           = "catalog-file"
	flagNameSyncPolicy            = "sync-policy"
	flagNameRewardRetryInterval   = "reward-retry-interval"
	flagNameSnowflakeNode         = "snowflake-node"
	flagNameServeMode             = "serve-mode"
	flagNameRateLimitPerWindow    = "rate-limit"
	environmentKeyAppAddress      = "APP_ADDR"
	environmentKeyDatabaseDriver  = "DB_DRIVER"
	environmentKeyDatabaseDSN     = "DB_DSN"
	environmentKeySessionSecret   = "SESSION_SECRET"
	environmentKeyNavigation      = "NAVIGATION_SECRET"
	environmentKeyNavigationTTL   = "NAVIGATION_TTL"
	environmentKeyCatalogFile     = "CATALOG_FILE"
	environmentKeySyncPolicy      = "SYNC_POLICY"
	environmentKeyRewardRetry     = "REWARD_RETRY_INTERVAL"
	environmentKeySnowflakeNode   = "SNOWFLAKE_NODE"
	environmentKeyServeMode       = "SERVE_MODE"
	environmentKeyRateLimit       = "RATE_LIMIT"
	defaultApplicationAddress     = ":8080"
	defaultNavigationTTL          = 2 * time.Hour
	defaultRewardRetryInterval    = 5 * time.Minute
	defaultSnowflakeNode          = 1
	defaultRateLimitPerWindow     = 20
	defaultServeModeConfiguration = string(ServeModeMonolith)
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress  string
	DatabaseDriver      string
	DatabaseDSN         string
	SessionSecret       string
	NavigationSecret    string
	NavigationTTL       time.Duration
	CatalogFile         string
	SyncPolicy          gamification.SyncPolicy
	RewardRetryInterval time.Duration
	SnowflakeNode       int64
	ServeMode           ServeMode
	RateLimitPerWindow  int
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
	environmentFile     string
}

type configurationFlag struct {
	environmentKey string
	flagName       string
	register       func(*pflag.FlagSet)
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
		environmentFile:     defaultEnvironmentFile,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// WithEnvironmentFile overrides the dotenv file read before flags are configured.
func (application *ServerApplication) WithEnvironmentFile(path string) *ServerApplication {
	application.environmentFile = path
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	if environmentErr := application.loadEnvironmentFile(); environmentErr != nil {
		return nil, environmentErr
	}

	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) loadEnvironmentFile() error {
	path := strings.TrimSpace(application.environmentFile)
	if path == "" {
		return nil
	}
	if loadErr := godotenv.Load(path); loadErr != nil && !errors.Is(loadErr, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", environmentFileError, loadErr)
	}
	return nil
}

func configurationFlags() []configurationFlag {
	return []configurationFlag{
		{environmentKeyAppAddress, flagNameApplicationAddress, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on")
		}},
		{environmentKeyDatabaseDriver, flagNameDatabaseDriver, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameDatabaseDriver, storage.DriverNameSQLite, "database driver (sqlite or postgres)")
		}},
		{environmentKeyDatabaseDSN, flagNameDatabaseDataSource, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameDatabaseDataSource, "", "database connection string")
		}},
		{environmentKeySessionSecret, flagNameSessionSecret, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameSessionSecret, "", "secret used to sign the flow session cookie")
		}},
		{environmentKeyNavigation, flagNameNavigationSecret, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameNavigationSecret, "", "secret used to sign gamification navigation tokens")
		}},
		{environmentKeyNavigationTTL, flagNameNavigationTTL, func(flagSet *pflag.FlagSet) {
			flagSet.Duration(flagNameNavigationTTL, defaultNavigationTTL, "lifetime of a navigation token")
		}},
		{environmentKeyCatalogFile, flagNameCatalogFile, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameCatalogFile, "", "YAML catalog of companies and industry issue lists")
		}},
		{environmentKeySyncPolicy, flagNameSyncPolicy, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameSyncPolicy, string(gamification.SyncPolicyOptimisticWithBestEffortSync), "task sync policy (optimistic or strict)")
		}},
		{environmentKeyRewardRetry, flagNameRewardRetryInterval, func(flagSet *pflag.FlagSet) {
			flagSet.Duration(flagNameRewardRetryInterval, defaultRewardRetryInterval, "interval between reward retry runs")
		}},
		{environmentKeySnowflakeNode, flagNameSnowflakeNode, func(flagSet *pflag.FlagSet) {
			flagSet.Int64(flagNameSnowflakeNode, defaultSnowflakeNode, "snowflake node id used for coupon codes")
		}},
		{environmentKeyServeMode, flagNameServeMode, func(flagSet *pflag.FlagSet) {
			flagSet.String(flagNameServeMode, defaultServeModeConfiguration, "monolith, api or worker")
		}},
		{environmentKeyRateLimit, flagNameRateLimitPerWindow, func(flagSet *pflag.FlagSet) {
			flagSet.Int(flagNameRateLimitPerWindow, defaultRateLimitPerWindow, "flow writes allowed per client IP per window")
		}},
	}
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, flagDefinition := range configurationFlags() {
		flagDefinition.register(commandFlags)
		if bindErr := application.bindFlag(commandFlags, flagDefinition.environmentKey, flagDefinition.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, flagDefinition.environmentKey, flagDefinition.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	for _, requiredFlag := range []string{flagNameDatabaseDataSource, flagNameSessionSecret, flagNameNavigationSecret} {
		if markErr := command.MarkFlagRequired(requiredFlag); markErr != nil {
			return markErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	loader := application.configurationLoader
	serverConfig := ServerConfig{
		ApplicationAddress:  strings.TrimSpace(loader.GetString(environmentKeyAppAddress)),
		DatabaseDriver:      strings.TrimSpace(loader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDSN:         strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		SessionSecret:       strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		NavigationSecret:    strings.TrimSpace(loader.GetString(environmentKeyNavigation)),
		NavigationTTL:       loader.GetDuration(environmentKeyNavigationTTL),
		CatalogFile:         strings.TrimSpace(loader.GetString(environmentKeyCatalogFile)),
		RewardRetryInterval: loader.GetDuration(environmentKeyRewardRetry),
		SnowflakeNode:       loader.GetInt64(environmentKeySnowflakeNode),
		RateLimitPerWindow:  loader.GetInt(environmentKeyRateLimit),
	}

	if validationErr := ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return ServerConfig{}, validationErr
	}

	syncPolicy, policyErr := gamification.ParseSyncPolicy(loader.GetString(environmentKeySyncPolicy))
	if policyErr != nil {
		return ServerConfig{}, policyErr
	}
	serverConfig.SyncPolicy = syncPolicy

	serveMode, modeErr := ParseServeMode(loader.GetString(environmentKeyServeMode))
	if modeErr != nil {
		return ServerConfig{}, modeErr
	}
	serverConfig.ServeMode = serveMode

	return serverConfig, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDSN,
	})
	if databaseErr != nil {
		logger.Error(loggerContextOpenDatabase, zap.Error(databaseErr))
		return databaseErr
	}

	runtimeContext, stop := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, serviceErr := newFlowService(runtimeContext, serverConfig, database, logger)
	if serviceErr != nil {
		return serviceErr
	}
	return service.run(runtimeContext, serverConfig, logger)
}

func (service *flowService) run(ctx context.Context, serverConfig ServerConfig, logger *zap.Logger) error {
	if serverConfig.ServeMode.RunsWorker() {
		logger.Info(logEventWorkerStarted, zap.String(logFieldServeMode, string(serverConfig.ServeMode)))
		service.scheduler.Start(ctx)
		defer service.scheduler.Stop()
	}

	if !serverConfig.ServeMode.ServesHTTP() {
		<-ctx.Done()
		logger.Info(logEventShutdown)
		return nil
	}

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress), zap.String(logFieldServeMode, string(serverConfig.ServeMode)))
	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           service.router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info(logEventShutdown)
	shutdownContext, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownContext)
}

func ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.DatabaseDSN == "" {
		missingParameters = append(missingParameters, flagNameDatabaseDataSource)
	}

	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if configuration.NavigationSecret == "" {
		missingParameters = append(missingParameters, flagNameNavigationSecret)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
