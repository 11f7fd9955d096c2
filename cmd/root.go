package cmd

import (
	"github.com/spf13/cobra"

	"github.com/arctir/kernelcore/internal/config"
)

// SetupCommands builds the kernelctl root command and wires every
// subcommand tree onto it, mirroring the teacher's SetupCommands.
func SetupCommands() *cobra.Command {
	root := &cobra.Command{
		Use:   "kernelctl",
		Short: "Drive and inspect the cooperative thread manager and I/O core",
	}

	cfg, err := config.Load(config.Config{})
	if err != nil {
		// Default() has no fallible fields today; surfaced for completeness
		// and so a future overrides source (env, flags) fails loudly.
		panic(err)
	}

	root.AddCommand(newThreadsCmd(cfg))
	root.AddCommand(newIOCmd())
	root.AddCommand(newScenarioCmd(cfg))
	root.AddCommand(newReleaseCmd(cfg))

	return root
}
