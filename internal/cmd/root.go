// Package cmd implements the accompanist command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chase3718/accompanist/internal/config"
)

// NewRootCmd builds the accompanist command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "accompanist",
		Short: "Score-following accompaniment engine",
		Long: `accompanist plays a MIDI accompaniment that follows a live soloist.

A speed policy compares the soloist's recent onsets with the written solo part
and stretches or compresses the accompaniment schedule to match.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (YAML)")

	root.AddCommand(newPlayCmd())
	root.AddCommand(newRehearseCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig merges defaults, the --config file, ACCOMPANIST_* variables and
// any flags bound through binds (viper key -> flag name).
func loadConfig(cmd *cobra.Command, binds map[string]string) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	v := config.NewViper(path)
	if err := bindFlags(v, cmd, binds); err != nil {
		return nil, err
	}
	return config.LoadViper(v, path != "")
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, binds map[string]string) error {
	for key, name := range binds {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}
