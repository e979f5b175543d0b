package commands

import (
	"context"
	"fmt"

	"github.com/mteguhsat/aetros-cli/cli"
	"github.com/mteguhsat/aetros-cli/version"
)

var VersionCmd = &cli.Subcommand{
	Use:             "version",
	Short:           "print version information",
	NoRequireConfig: true,
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		fmt.Println(version.NewVersionInformation().String())
		return nil
	},
}
