// Command brennholzctl runs operator tasks: schema migrations, stock
// reconciliation and dead letter replay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/noah-isme/brennholz-api/internal/app"
	"github.com/noah-isme/brennholz-api/internal/cache"
	"github.com/noah-isme/brennholz-api/internal/config"
	"github.com/noah-isme/brennholz-api/internal/inventory"
	"github.com/noah-isme/brennholz-api/internal/migrate"
	"github.com/noah-isme/brennholz-api/internal/queue"
	"github.com/noah-isme/brennholz-api/internal/settings"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	databaseURL := &cli.StringFlag{
		Name:     "database-url",
		Usage:    "postgres connection string",
		EnvVars:  []string{"DATABASE_URL"},
		Required: true,
	}
	return &cli.App{
		Name:  "brennholzctl",
		Usage: "operate the brennholz checkout backend",
		Before: func(*cli.Context) error {
			_ = godotenv.Load()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Flags: []cli.Flag{databaseURL},
						Action: func(c *cli.Context) error {
							if err := migrate.Up(c.Context, c.String("database-url")); err != nil {
								return err
							}
							fmt.Fprintln(c.App.Writer, "migrations applied")
							return nil
						},
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{databaseURL, &cli.IntFlag{Name: "steps", Value: 1}},
						Action: func(c *cli.Context) error {
							return migrate.Down(c.Context, c.String("database-url"), c.Int("steps"))
						},
					},
					{
						Name:  "version",
						Usage: "print the schema version",
						Flags: []cli.Flag{databaseURL},
						Action: func(c *cli.Context) error {
							v, dirty, err := migrate.Version(c.Context, c.String("database-url"))
							if err != nil {
								return err
							}
							fmt.Fprintf(c.App.Writer, "version=%d dirty=%t\n", v, dirty)
							return nil
						},
					},
				},
			},
			{
				Name:  "reconcile-stock",
				Usage: "rebuild products.stock_quantity from the movement ledger",
				Action: withDeps(func(c *cli.Context, d *app.Dependencies) error {
					n, err := inventory.Reconciler{Store: inventory.PGStore{DB: d.DB}, Logger: d.Logger}.Run(c.Context)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "reconciled %d products\n", n)
					return nil
				}),
			},
			{
				Name:  "settings",
				Usage: "shop settings cache",
				Subcommands: []*cli.Command{{
					Name:  "invalidate",
					Usage: "drop the cached settings snapshot",
					Action: withDeps(func(c *cli.Context, d *app.Dependencies) error {
						svc := &settings.Service{Cache: cache.NewJSON(d.Redis, "settings", d.Config.SettingsCacheTTL)}
						return svc.Invalidate(c.Context)
					}),
				}},
			},
			{
				Name:  "dlq",
				Usage: "inspect and replay dead lettered side effects",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list dead letters",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "kind"},
							&cli.IntFlag{Name: "limit", Value: 50},
						},
						Action: withDeps(func(c *cli.Context, d *app.Dependencies) error {
							entries, err := queue.NewStore(d.DB).ListQueueDlq(c.Context, c.String("kind"), c.Int("limit"), 0)
							if err != nil {
								return err
							}
							for _, e := range entries {
								lastErr := ""
								if e.LastError != nil {
									lastErr = *e.LastError
								}
								fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\tattempts=%d\t%s\n",
									e.ID, e.Kind, e.CreatedAt.Format(time.RFC3339), e.Attempts, lastErr)
							}
							return nil
						}),
					},
					{
						Name:      "replay",
						Usage:     "replay dead letters by id or by kind",
						ArgsUsage: "[id...]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "kind"},
							&cli.IntFlag{Name: "limit", Value: 100},
						},
						Action: withDeps(func(c *cli.Context, d *app.Dependencies) error {
							r := queue.Replayer{Store: queue.NewStore(d.DB), Queue: app.Queue(d.Config, d.Redis)}
							var (
								res queue.ReplayResult
								err error
							)
							switch {
							case c.NArg() > 0:
								res, err = r.ReplayIDs(c.Context, c.Args().Slice())
							case c.String("kind") != "":
								res, err = r.ReplayKind(c.Context, c.String("kind"), c.Int("limit"))
							default:
								return errors.New("pass ids or --kind")
							}
							if err != nil {
								return err
							}
							enc := json.NewEncoder(c.App.Writer)
							enc.SetIndent("", "  ")
							return enc.Encode(res)
						}),
					},
				},
			},
		},
	}
}

// withDeps loads configuration and opens the shared connections for one
// command invocation.
func withDeps(fn func(*cli.Context, *app.Dependencies) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		d, err := app.Open(c.Context, cfg, "brennholzctl")
		if err != nil {
			return err
		}
		defer func() { _ = d.Close(context.Background()) }()
		return fn(c, d)
	}
}
