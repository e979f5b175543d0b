package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/zrepl/yaml-config"

	"github.com/mteguhsat/aetros-cli/backend"
	"github.com/mteguhsat/aetros-cli/cli"
	"github.com/mteguhsat/aetros-cli/logging"
	"github.com/mteguhsat/aetros-cli/transport/fromconfig"
)

var configcheckArgs struct {
	format string
}

var ConfigcheckCmd = &cli.Subcommand{
	Use:   "configcheck",
	Short: "check if config can be parsed without errors",
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&configcheckArgs.format, "format", "", "dump parsed config object [pretty|yaml|json]")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		formatMap := map[string]func(interface{}){
			"": func(i interface{}) {},
			"pretty": func(i interface{}) {
				if _, err := pretty.Println(i); err != nil {
					panic(err)
				}
			},
			"json": func(i interface{}) {
				if err := json.NewEncoder(os.Stdout).Encode(i); err != nil {
					panic(err)
				}
			},
			"yaml": func(i interface{}) {
				if err := yaml.NewEncoder(os.Stdout).Encode(i); err != nil {
					panic(err)
				}
			},
		}

		formatter, ok := formatMap[configcheckArgs.format]
		if !ok {
			return fmt.Errorf("unsupported --format %q", configcheckArgs.format)
		}

		conf := subcommand.Config()
		var hadErr bool
		check := func(what string, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", errors.Wrapf(err, "cannot build %s from config", what))
				hadErr = true
			}
		}

		_, err := fromconfig.ProviderFromConfig(conf.Connect)
		check("transport", err)
		_, err = backend.ConfigFromConfig(conf.Client)
		check("client", err)
		_, err = logging.OutletsFromConfig(*conf.Global.Logging)
		check("logging", err)

		formatter(conf)

		if hadErr {
			return fmt.Errorf("config parsing failed")
		}
		return nil
	},
}
