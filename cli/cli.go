// Package cli is the cobra command tree of the aetros binary.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mteguhsat/aetros-cli/config"
)

// ConfigPathEnvVar sets the config file when --config is not given.
const ConfigPathEnvVar = "AETROS_CONFIG"

var rootArgs struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:           "aetros",
	Short:         "Report job status and metrics to the AETROS trainer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var bashcompCmd = &cobra.Command{
	Use:    "bashcomp path/to/out/file",
	Short:  "generate bash completions",
	Args:   cobra.ExactArgs(1),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return errors.Wrap(rootCmd.GenBashCompletionFile(args[0]), "cannot generate bash completion")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArgs.configPath, "config", os.Getenv(ConfigPathEnvVar),
		fmt.Sprintf("config file path (env %s, default: search the default locations)", ConfigPathEnvVar))
	rootCmd.AddCommand(bashcompCmd)
}

// A Subcommand is a command that runs with a parsed config.
// Commands with NoRequireConfig run even if no config could be loaded.
type Subcommand struct {
	Use             string
	Short           string
	Example         string
	NoRequireConfig bool
	Run             func(ctx context.Context, subcommand *Subcommand, args []string) error
	SetupFlags      func(f *pflag.FlagSet)

	config    *config.Config
	configErr error
}

func (s *Subcommand) ConfigParsingError() error {
	return s.configErr
}

func (s *Subcommand) Config() *config.Config {
	if !s.NoRequireConfig && s.config == nil {
		panic("command that requires config is running and has no config set")
	}
	return s.config
}

func (s *Subcommand) run(cmd *cobra.Command, args []string) error {
	if err := s.loadConfig(rootArgs.configPath); err != nil {
		return err
	}
	return s.Run(cmd.Context(), s, args)
}

func (s *Subcommand) loadConfig(path string) error {
	s.config, s.configErr = config.ParseConfig(path)
	if s.configErr != nil {
		s.config = nil
		if !s.NoRequireConfig {
			return errors.Wrap(s.configErr, "could not parse config")
		}
	}
	return nil
}

func (s *Subcommand) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     s.Use,
		Short:   s.Short,
		Example: s.Example,
		RunE:    s.run,
	}
	if s.SetupFlags != nil {
		s.SetupFlags(cmd.Flags())
	}
	return cmd
}

func AddSubcommand(s *Subcommand) {
	rootCmd.AddCommand(s.command())
}

// Run executes the command line and exits with status 1 on error.
func Run() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
