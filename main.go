// See commands package.
package main

import (
	"github.com/mteguhsat/aetros-cli/cli"
	"github.com/mteguhsat/aetros-cli/commands"
)

func init() {
	cli.AddSubcommand(commands.ReportCmd)
	cli.AddSubcommand(commands.ConfigcheckCmd)
	cli.AddSubcommand(commands.VersionCmd)
}

func main() {
	cli.Run()
}
