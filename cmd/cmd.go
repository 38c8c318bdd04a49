// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package cmd implements Quorate's command-line interface.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs" // Automatically sets GOMAXPROCS to match Linux container CPU quota.

	"github.com/quoratelab/quorate/app"
	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/featureset"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
)

const (
	// The name of our config file, without the file extension because
	// viper supports many different config file languages.
	defaultConfigFilename = "quorate"

	// The environment variable prefix of all environment variables bound to our command line flags.
	envPrefix = "quorate"
)

// New returns a new root cobra command that handles our command line tool.
func New() *cobra.Command {
	return newRootCmd(
		newRunCmd(app.Run),
		newVerifyCmd(app.Verify),
		newProfileCmd(runProfileCmd),
		newVersionCmd(runVersionCmd),
	)
}

func newRootCmd(cmds ...*cobra.Command) *cobra.Command {
	root := &cobra.Command{
		Use:   "quorate",
		Short: "Quorate - The cluster formation validation harness",
		Long: `Quorate boots a fleet of virtual machines, shapes their data network to a
declarative topology and validates that a cluster forms and stays healthy on it.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initializeConfig(cmd)
		},
	}

	root.AddCommand(cmds...)

	return root
}

// initializeConfig sets up the general viper config and binds the cobra flags to the viper flags.
func initializeConfig(cmd *cobra.Command) error {
	v := viper.New()

	v.SetConfigName(defaultConfigFilename)
	v.AddConfigPath(".")

	// Attempt to read the config file, gracefully ignoring errors
	// caused by a config file not being found. Return an error
	// if we cannot parse the config file.
	if err := v.ReadInConfig(); err != nil {
		var cfgError viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgError) {
			return errors.Wrap(err, "read config")
		}
	}

	v.SetEnvPrefix(envPrefix)
	// Environment variables can't have dashes in them, so bind them to their equivalent
	// keys with underscores.
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	return bindFlags(cmd, v)
}

// bindFlags binds each cobra flag to its associated viper configuration (config file and environment variable).
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Cobra provided flags take priority.
		if f.Changed {
			return
		}

		// Define all the viper flag names to check.
		viperNames := []string{
			f.Name,
			strings.ReplaceAll(f.Name, "_", "."), // TOML uses "." to indicate hierarchy, while we use "_" in this example.
		}

		for _, name := range viperNames {
			if !v.IsSet(name) {
				continue
			}

			val := v.Get(name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				lastErr = errors.Wrap(err, "set flag from config", z.Str("flag", f.Name))
			}

			break
		}
	})

	return lastErr
}

func bindLogFlags(flags *pflag.FlagSet, config *log.Config) {
	flags.StringVar(&config.Format, "log-format", "console", "Log format; console, logfmt or json")
	flags.StringVar(&config.Level, "log-level", "info", "Log level; debug, info, warn or error")
	flags.StringVar(&config.Color, "log-color", "auto", "Log color; auto, force or disable")
	flags.StringVar(&config.File, "log-file", "", "Path of an optional debug logfmt run log")
}

func bindFeatureFlags(flags *pflag.FlagSet, config *featureset.Config) {
	flags.StringSliceVar(&config.Enabled, "feature-set-enable", nil, "Comma-separated list of features to enable, overriding the default minimum feature set.")
	flags.StringSliceVar(&config.Disabled, "feature-set-disable", nil, "Comma-separated list of features to disable, overriding the default minimum feature set.")
	flags.StringVar(&config.MinStatus, "feature-set", "stable", "Minimum feature set level; alpha, beta or stable. Warning: modify at own risk.")
}

// printFlags INFO logs all the given flags in alphabetical order.
func printFlags(ctx context.Context, flags *pflag.FlagSet) {
	log.Info(ctx, "Parsed config", flagsToLogFields(flags)...)
}

// printLicense INFO logs the license notice.
func printLicense(ctx context.Context) {
	log.Info(ctx, "This software is licensed under the Business Source License 1.1, "+
		"it is not open source unless and until converted per its change terms")
}

// flagsToLogFields converts the given flags to log fields.
func flagsToLogFields(flags *pflag.FlagSet) []z.Field {
	var fields []z.Field

	flags.VisitAll(func(flag *pflag.Flag) {
		val := redact(flag.Name, flag.Value.String())

		if sliceVal, ok := flag.Value.(pflag.SliceValue); ok {
			val = redact(flag.Name, strings.Join(sliceVal.GetSlice(), ","))
		}

		fields = append(fields, z.Str(flag.Name, val))
	})

	return fields
}

// redact returns a redacted version of the given flag value if the flag name
// hints at a secret.
func redact(flag, val string) string {
	if val == "" {
		return val
	}

	for _, hint := range []string{"password", "token", "secret", "auth"} {
		if strings.Contains(flag, hint) {
			return "xxxxx"
		}
	}

	return val
}
