package main_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	servercmd "github.com/MarkoPoloResearchLab/reviewfunnel/cmd/server"
	"github.com/MarkoPoloResearchLab/reviewfunnel/internal/storage"
)

const (
	testEnvironmentKeyDatabaseDSN      = "DB_DSN"
	testEnvironmentKeySessionSecret    = "SESSION_SECRET"
	testEnvironmentKeyNavigationSecret = "NAVIGATION_SECRET"
	testEnvironmentKeyDatabaseDriver   = "DB_DRIVER"
	testEnvironmentKeySyncPolicy       = "SYNC_POLICY"
	testPlaceholderDatabaseDSN         = "file:reviewfunnel?mode=memory"
	testPlaceholderSessionSecret       = "session-secret"
	testPlaceholderNavigationSecret    = "navigation-secret"
	testMissingConfigurationMessage    = "missing required configuration"
	testFlagNameDatabaseDataSource     = "db-dsn"
	testFlagNameSessionSecret          = "session-secret"
	testFlagNameNavigationSecret       = "navigation-secret"
	testFlagIndicator                  = "--"
	testUsagePrefix                    = "Usage:"
)

var errTestOpenerStop = errors.New("opener stop")

func TestServerCommandMissingConfigurationShowsHelp(testingT *testing.T) {
	testCases := []struct {
		name                string
		databaseDSN         string
		sessionSecret       string
		navigationSecret    string
		expectedMissingFlag string
	}{
		{
			name:                "missing database dsn",
			sessionSecret:       testPlaceholderSessionSecret,
			navigationSecret:    testPlaceholderNavigationSecret,
			expectedMissingFlag: testFlagNameDatabaseDataSource,
		},
		{
			name:                "missing session secret",
			databaseDSN:         testPlaceholderDatabaseDSN,
			navigationSecret:    testPlaceholderNavigationSecret,
			expectedMissingFlag: testFlagNameSessionSecret,
		},
		{
			name:                "missing navigation secret",
			databaseDSN:         testPlaceholderDatabaseDSN,
			sessionSecret:       testPlaceholderSessionSecret,
			expectedMissingFlag: testFlagNameNavigationSecret,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(testingT *testing.T) {
			testingT.Setenv(testEnvironmentKeyDatabaseDSN, testCase.databaseDSN)
			testingT.Setenv(testEnvironmentKeySessionSecret, testCase.sessionSecret)
			testingT.Setenv(testEnvironmentKeyNavigationSecret, testCase.navigationSecret)

			databaseOpenerStub := func(configuration storage.Config) (*gorm.DB, error) {
				testingT.Fatalf("database opener invoked with %s", configuration.DataSourceName)
				return nil, nil
			}

			application := servercmd.NewServerApplication().WithDatabaseOpener(databaseOpenerStub).WithEnvironmentFile("")
			command, commandErr := application.Command()
			require.NoError(testingT, commandErr)

			commandOutput := &bytes.Buffer{}
			command.SetOut(commandOutput)
			command.SetErr(commandOutput)
			command.SetArgs([]string{})

			require.Error(testingT, command.Execute())

			combinedOutput := commandOutput.String()
			require.Contains(testingT, combinedOutput, testMissingConfigurationMessage)
			require.Contains(testingT, combinedOutput, testUsagePrefix)
			require.Contains(testingT, combinedOutput, testFlagIndicator+testCase.expectedMissingFlag)
		})
	}
}

func TestServerCommandRejectsUnknownSyncPolicy(testingT *testing.T) {
	testingT.Setenv(testEnvironmentKeyDatabaseDSN, testPlaceholderDatabaseDSN)
	testingT.Setenv(testEnvironmentKeySessionSecret, testPlaceholderSessionSecret)
	testingT.Setenv(testEnvironmentKeyNavigationSecret, testPlaceholderNavigationSecret)
	testingT.Setenv(testEnvironmentKeySyncPolicy, "eventual")

	application := servercmd.NewServerApplication().WithEnvironmentFile("").WithDatabaseOpener(func(configuration storage.Config) (*gorm.DB, error) {
		testingT.Fatalf("database opener invoked")
		return nil, nil
	})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)
	command.SetOut(&bytes.Buffer{})
	command.SetErr(&bytes.Buffer{})
	command.SetArgs([]string{})

	executionErr := command.Execute()
	require.Error(testingT, executionErr)
	require.Contains(testingT, executionErr.Error(), "invalid_sync_policy")
}

func TestServerCommandReadsEnvironmentFile(testingT *testing.T) {
	for _, key := range []string{testEnvironmentKeyDatabaseDSN, testEnvironmentKeySessionSecret, testEnvironmentKeyNavigationSecret, testEnvironmentKeyDatabaseDriver} {
		previousValue, wasSet := os.LookupEnv(key)
		require.NoError(testingT, os.Unsetenv(key))
		key := key
		testingT.Cleanup(func() {
			if wasSet {
				_ = os.Setenv(key, previousValue)
				return
			}
			_ = os.Unsetenv(key)
		})
	}

	environmentFile := filepath.Join(testingT.TempDir(), "server.env")
	contents := strings.Join([]string{
		testEnvironmentKeyDatabaseDriver + "=postgres",
		testEnvironmentKeyDatabaseDSN + "=postgres://funnel@localhost/funnel",
		testEnvironmentKeySessionSecret + "=" + testPlaceholderSessionSecret,
		testEnvironmentKeyNavigationSecret + "=" + testPlaceholderNavigationSecret,
	}, "\n")
	require.NoError(testingT, os.WriteFile(environmentFile, []byte(contents), 0o600))

	var openedConfiguration storage.Config
	application := servercmd.NewServerApplication().
		WithEnvironmentFile(environmentFile).
		WithDatabaseOpener(func(configuration storage.Config) (*gorm.DB, error) {
			openedConfiguration = configuration
			return nil, errTestOpenerStop
		})
	command, commandErr := application.Command()
	require.NoError(testingT, commandErr)
	command.SetOut(&bytes.Buffer{})
	command.SetErr(&bytes.Buffer{})
	command.SetArgs([]string{})

	require.ErrorIs(testingT, command.Execute(), errTestOpenerStop)
	require.Equal(testingT, storage.DriverNamePostgres, openedConfiguration.DriverName)
	require.Equal(testingT, "postgres://funnel@localhost/funnel", openedConfiguration.DataSourceName)
}

func TestServerCommandIgnoresMissingEnvironmentFile(testingT *testing.T) {
	application := servercmd.NewServerApplication().WithEnvironmentFile(filepath.Join(testingT.TempDir(), "absent.env"))
	_, commandErr := application.Command()
	require.NoError(testingT, commandErr)
}
