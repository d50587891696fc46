package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/creamcroissant/clashpilot/internal/bootstrap"
	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/migrations"
	"github.com/creamcroissant/clashpilot/internal/proxygroup"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/service"
)

// profileScope records selections under a fixed profile for commands run
// outside the daemon, where the orchestrator is not running.
type profileScope struct {
	*service.Orchestrator
	profile *repository.Profile
}

func (p profileScope) CurrentProfile() *repository.Profile { return p.profile }

// activeScope uses the active profile; without one selections are not recorded.
func activeScope(ctx context.Context, app *bootstrap.App) (profileScope, error) {
	p, err := app.Profiles.Active(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return profileScope{}, err
	}
	return profileScope{Orchestrator: app.Service, profile: p}, nil
}

// withApp builds the daemon components for a one-shot command.
func withApp(fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := bootstrap.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx, app)
}

func init() {
	// Migrate
	var migrateCmd = &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Database migration management",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := bootstrap.OpenSQLite(cfg.DB.Path)
			if err != nil {
				return err
			}
			fmt.Printf("Using DB path: %s\n", cfg.DB.Path)
			defer db.Close()

			action := "up"
			if len(args) > 0 {
				action = args[0]
			}
			switch action {
			case "up":
				return migrations.Up(db)
			case "down":
				return migrations.Down(db)
			case "status":
				return migrations.Status(db)
			default:
				return fmt.Errorf("unknown migrate action %q", action)
			}
		},
	}
	rootCmd.AddCommand(migrateCmd)

	// Backup
	var backupOutput string
	var backupCompress bool
	var backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Backup the selection database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			target := backupOutput
			if target == "" {
				backupDir := filepath.Join(filepath.Dir(cfg.DB.Path), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("create backup dir: %w", err)
				}
				ext := ".db"
				if backupCompress {
					ext += ".gz"
				}
				target = filepath.Join(backupDir, fmt.Sprintf("clashpilot_%s%s", time.Now().Format("20060102_150405"), ext))
			}

			db, err := bootstrap.OpenSQLite(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			tempFile := target
			if backupCompress {
				tempFile = strings.TrimSuffix(target, ".gz")
				if tempFile == target {
					tempFile = target + ".tmp"
				}
			}
			if _, err := db.Exec("VACUUM INTO ?", tempFile); err != nil {
				return fmt.Errorf("sqlite vacuum into: %w", err)
			}
			if backupCompress {
				err := compressFile(tempFile, target)
				os.Remove(tempFile)
				if err != nil {
					return err
				}
			}
			fmt.Printf("Backup created at %s\n", target)
			return nil
		},
	}
	backupCmd.Flags().StringVar(&backupOutput, "output", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupCompress, "compress", false, "Compress output with gzip")
	rootCmd.AddCommand(backupCmd)

	// Groups
	var groupsSort string
	var groupsCmd = &cobra.Command{
		Use:   "groups [name]",
		Short: "Print proxy groups as the core reports them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				if groupsSort != "" {
					app.Groups.SetSortOrder(clash.ParseSortOrder(groupsSort))
				}
				scope, err := activeScope(ctx, app)
				if err != nil {
					return err
				}
				if err := app.Groups.RefreshGroups(ctx, false, scope.profile); err != nil {
					return err
				}
				groups := app.Groups.Groups().Value()
				if len(args) == 1 {
					for _, g := range groups {
						if g.Name == args[0] {
							return printMembers(g)
						}
					}
					return fmt.Errorf("%w: %s", clash.ErrGroupNotFound, args[0])
				}
				return printGroups(groups)
			})
		},
	}
	groupsCmd.Flags().StringVar(&groupsSort, "sort", "", "member order: default, title or delay")
	rootCmd.AddCommand(groupsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "select <group> <proxy>",
		Short: "Switch a Selector group and remember the choice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				scope, err := activeScope(ctx, app)
				if err != nil {
					return err
				}
				if !app.Groups.SelectProxy(ctx, args[0], args[1], scope.profile) {
					return fmt.Errorf("select %s in %s was not applied", args[1], args[0])
				}
				fmt.Printf("%s → %s\n", args[0], args[1])
				return nil
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "pin <group> [proxy]",
		Short: "Pin a group to a member, or unpin it when proxy is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			proxy := ""
			if len(args) == 2 {
				proxy = args[1]
			}
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				scope, err := activeScope(ctx, app)
				if err != nil {
					return err
				}
				if !app.Groups.ForceSelectProxy(ctx, args[0], proxy, scope.profile) {
					return fmt.Errorf("pin on %s was not applied", args[0])
				}
				if proxy == "" {
					fmt.Printf("%s unpinned\n", args[0])
				} else {
					fmt.Printf("%s pinned to %s\n", args[0], proxy)
				}
				return nil
			})
		},
	})

	// Profile
	var profileCmd = &cobra.Command{
		Use:   "profile",
		Short: "Profile management",
	}
	var profileName string
	var profileActivate bool
	profileAdd := &cobra.Command{
		Use:   "add <path>",
		Short: "Import a Clash configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				name := profileName
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				}
				p, summary, err := app.Profiles.Add(ctx, name, args[0])
				if err != nil {
					return err
				}
				if profileActivate {
					if _, err := app.Profiles.Activate(ctx, p.ID); err != nil {
						return err
					}
				}
				fmt.Printf("Imported %s (%s): %d proxies, %d groups\n", p.Name, p.ID, summary.Proxies, len(summary.ProxyGroups))
				return nil
			})
		},
	}
	profileAdd.Flags().StringVar(&profileName, "name", "", "display name (defaults to the file name)")
	profileAdd.Flags().BoolVar(&profileActivate, "activate", false, "make it the active profile")
	profileCmd.AddCommand(profileAdd)

	profileCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				items, err := app.Profiles.List(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ACTIVE\tID\tNAME\tUPDATED\tPATH")
				for _, p := range items {
					mark := ""
					if p.Active {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, p.ID, p.Name,
						time.Unix(p.UpdatedAt, 0).Format(time.DateTime), p.Path)
				}
				return w.Flush()
			})
		},
	})

	profileCmd.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Make a profile the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				p, err := app.Profiles.Activate(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Active profile: %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	})

	profileCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a profile with its remembered selections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, app *bootstrap.App) error {
				if err := app.Profiles.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	})
	rootCmd.AddCommand(profileCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clashpilot %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	})
}

func printGroups(groups []proxygroup.GroupInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tTYPE\tNOW\tFIXED\tMEMBERS\tCHAIN")
	for _, g := range groups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", g.Name, g.Type, g.Now, g.Fixed, len(g.Proxies), strings.Join(g.ChainPath, " → "))
	}
	return w.Flush()
}

func printMembers(g proxygroup.GroupInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, " \tPROXY\tTYPE\tDELAY")
	for _, p := range g.Proxies {
		mark := ""
		switch p.Name {
		case g.Fixed:
			mark = "pinned"
		case g.Now:
			mark = "*"
		}
		typ := string(p.Type)
		if p.Subtitle != "" {
			typ = p.Subtitle
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, p.Name, typ, formatDelay(p.Delay))
	}
	return w.Flush()
}

func formatDelay(delay int) string {
	switch {
	case delay == clash.DelayFailed:
		return "timeout"
	case delay <= 0:
		return "-"
	default:
		return fmt.Sprintf("%dms", delay)
	}
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	return gz.Close()
}
