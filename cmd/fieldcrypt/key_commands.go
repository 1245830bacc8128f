package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/carevault/fieldcrypt/cmd/fieldcrypt/commands"
	"github.com/carevault/fieldcrypt/internal/app"
	"github.com/carevault/fieldcrypt/internal/config"
)

func getKeyCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "bootstrap-key",
			Usage: "Create and promote the first key version",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotationUseCase, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunBootstrapKey(
					ctx,
					rotationUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "rotate-key",
			Usage: "Rotate the encryption key to a new version",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Value: false,
					Usage: "Rotate even when the current key is not yet due",
				},
				&cli.IntFlag{
					Name:    "period-days",
					Aliases: []string{"p"},
					Value:   0,
					Usage:   "Override the rotation period for the due check (0 uses the configured period)",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotationUseCase, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunRotateKey(
					ctx,
					rotationUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.Bool("force"),
					int(cmd.Int("period-days")),
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "key-status",
			Usage: "Show key versions and rotation readiness",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				rotationUseCase, err := container.RotationUseCase()
				if err != nil {
					return err
				}

				return commands.RunKeyStatus(
					ctx,
					rotationUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					cmd.String("format"),
				)
			},
		},
		{
			Name:  "reencrypt-fields",
			Usage: "Re-encrypt stored field payloads onto the current key version",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "from-version",
					Value: 0,
					Usage: "Only re-encrypt payloads sealed under this version (0 selects all stale payloads)",
				},
				&cli.IntFlag{
					Name:    "batch-size",
					Aliases: []string{"b"},
					Value:   0,
					Usage:   "Number of records to process per batch (0 uses the configured default)",
				},
				&cli.BoolFlag{
					Name:    "dry-run",
					Aliases: []string{"n"},
					Value:   false,
					Usage:   "Report what would be re-encrypted without writing",
				},
				&cli.BoolFlag{
					Name:  "skip-failed",
					Value: false,
					Usage: "Leave records that fail authentication in place instead of aborting",
				},
				&cli.IntFlag{
					Name:    "rate-limit",
					Aliases: []string{"r"},
					Value:   0,
					Usage:   "Maximum records per second (0 disables throttling)",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				migratorUseCase, err := container.MigratorUseCase()
				if err != nil {
					return err
				}

				return commands.RunReencryptFields(
					ctx,
					migratorUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					int(cmd.Int("from-version")),
					int(cmd.Int("batch-size")),
					cmd.Bool("dry-run"),
					cmd.Bool("skip-failed"),
					int(cmd.Int("rate-limit")),
					cmd.String("format"),
				)
			},
		},
	}
}
