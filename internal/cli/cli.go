package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/release-orchestrator/internal/cmd"
)

// Run handles the instantiation of the CLI application.
func Run(version string, args []string) {
	err := NewApp(version, time.Now()).Run(args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application with its commands, flags and metadata.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "release-orchestrator"
	app.Version = version
	app.Usage = "Build, publish and roll out container artifacts driven by commit events"
	app.EnableBashCompletion = true

	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "internal-monitoring-listener-address",
			Aliases: []string{"m"},
			EnvVars: []string{"RO_INTERNAL_MONITORING_LISTENER_ADDRESS"},
			Usage:   "internal monitoring listener address",
		},
	}

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "run the orchestrator daemon",
			Action: cmd.ExecWrapper(cmd.Run),
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					EnvVars: []string{"RO_CONFIG"},
					Usage:   "config `file`",
					Value:   "./config.yml",
				},
				&cli.StringFlag{
					Name:    "redis-url",
					EnvVars: []string{"RO_REDIS_URL"},
					Usage:   "redis `url` for an HA setup (format: redis[s]://[:password@]host[:port][/db-number][?option=value])",
				},
				&cli.StringFlag{
					Name:    "webhook-secret-token",
					EnvVars: []string{"RO_WEBHOOK_SECRET_TOKEN"},
					Usage:   "`token` used to authenticate incoming webhook requests",
				},
				&cli.StringFlag{
					Name:    "registry-password",
					EnvVars: []string{"RO_REGISTRY_PASSWORD"},
					Usage:   "`password` used to authenticate against the container registry",
				},
			},
		},
		{
			Name:      "deploy",
			Usage:     "execute one pipeline run synchronously and exit",
			Action:    cmd.ExecWrapper(cmd.Deploy),
			ArgsUsage: " ",
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					EnvVars: []string{"RO_CONFIG"},
					Usage:   "config `file`",
					Value:   "./config.yml",
				},
				&cli.StringFlag{
					Name:     "branch",
					Aliases:  []string{"b"},
					EnvVars:  []string{"RO_BRANCH"},
					Usage:    "`branch` to deploy",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "revision",
					Aliases:  []string{"r"},
					EnvVars:  []string{"RO_REVISION"},
					Usage:    "commit `revision` to deploy",
					Required: true,
				},
				&cli.StringFlag{
					Name:    "registry-password",
					EnvVars: []string{"RO_REGISTRY_PASSWORD"},
					Usage:   "`password` used to authenticate against the container registry",
				},
			},
		},
		{
			Name:   "validate",
			Usage:  "validate the configuration file and exit",
			Action: cmd.ExecWrapper(cmd.Validate),
			Flags: cli.FlagsByName{
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					EnvVars: []string{"RO_CONFIG"},
					Usage:   "config `file`",
					Value:   "./config.yml",
				},
			},
		},
		{
			Name:   "monitor",
			Usage:  "display a realtime monitoring TUI",
			Action: cmd.ExecWrapper(cmd.Monitor),
		},
	}

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}
