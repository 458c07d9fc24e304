package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/chaz8081/ecotherm/internal/config"
)

func main() {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to config file",
		EnvVars: []string{"ECOTHERM_CONFIG"},
		Value:   config.DefaultConfigPath(),
	}
	logLevelFlag := &cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{"ECOTHERM_LOG_LEVEL"},
		Value:   "info",
	}

	app := &cli.App{
		Name:  "ecotherm",
		Usage: "bridge Bluetooth radiator thermostats to MQTT",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "poll every configured thermostat and serve commands",
				Flags:  []cli.Flag{configFlag},
				Action: RunCommand,
			},
			{
				Name:   "scan",
				Usage:  "list nearby thermostats",
				Flags:  []cli.Flag{logLevelFlag, &cli.DurationFlag{Name: "timeout", Value: 10 * time.Second}},
				Action: ScanCommand,
			},
			{
				Name:      "pair",
				Usage:     "read the secret key while the thermostat button is pressed",
				ArgsUsage: "<address>",
				Flags: []cli.Flag{
					logLevelFlag,
					&cli.StringFlag{Name: "pin", Usage: "4 digit PIN, if the thermostat has one"},
					&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second},
				},
				Action: PairCommand,
			},
			{
				Name:   "check-config",
				Usage:  "validate the config file",
				Flags:  []cli.Flag{configFlag},
				Action: CheckConfigCommand,
			},
			{
				Name:   "init",
				Usage:  "write a starter config file",
				Action: InitCommand,
			},
		},
		DefaultCommand: "run",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
