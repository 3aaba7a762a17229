// Package cli wires configuration, storage and the HTTP surface into the
// unison-context command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"unison-context/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string

	// lookup reads the environment. Tests replace it.
	lookup func(string) (string, bool)
}

// loadConfig reads configuration, letting --config override the
// environment's config file path.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	lookup := o.lookup
	if o.ConfigFile != "" {
		lookup = func(key string) (string, bool) {
			if key == config.EnvConfigFile {
				return o.ConfigFile, true
			}
			return o.lookup(key)
		}
	}
	return config.LoadWith(lookup)
}

// NewRootCommand creates the root command reading the process environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.LookupEnv)
}

func newRootCommand(lookup func(string) (string, bool)) *cobra.Command {
	opts := &RootOptions{lookup: lookup}

	cmd := &cobra.Command{
		Use:   "unison-context",
		Short: "Per-person context store",
		Long: `unison-context keeps profiles, dashboards, conversation sessions and
small key/value entries for each person, optionally encrypted at rest.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (overrides "+config.EnvConfigFile+")")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLambdaCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewKeygenCommand())

	return cmd
}
