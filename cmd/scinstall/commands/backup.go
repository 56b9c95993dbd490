package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/superclaude-org/scinstall/pkg/engine"
)

func newBackupCommand() *cobra.Command {
	var (
		create    bool
		list      bool
		info      string
		restore   string
		cleanup   bool
		name      string
		compress  string
		overwrite bool
		keep      int
		olderThan int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, inspect, restore and prune backups",
		Long: `Manage backups of the installation directory.

Backups are tar archives in <install-dir>/backups. Each archive starts
with a backup_metadata.json member describing the installed components.
Restoring never writes outside the installation directory and keeps
existing files unless --overwrite is given.`,
		Example: `  # Create a gzip backup
  scinstall backup --create

  # Create an uncompressed backup with a custom name
  scinstall backup --create --name before-upgrade --compress none

  # List and inspect backups
  scinstall backup --list
  scinstall backup --info superclaude_backup_20250101_120000.tar.gz

  # Restore, replacing existing files
  scinstall backup --restore superclaude_backup_20250101_120000.tar.gz --overwrite

  # Keep the five newest backups and drop anything older than 30 days
  scinstall backup --cleanup --keep 5 --older-than 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, create || restore != "")
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			switch {
			case create:
				c := compress
				if c == "" {
					c = a.cfg.Backup.Compression
				}
				compression, err := engine.ParseCompression(c)
				if err != nil {
					return err
				}
				res, err := a.backups.Create(engine.CreateOptions{Name: name, Compression: compression})
				if err != nil {
					return report(a.console, "backup", nil, err)
				}
				switch {
				case res.DryRun:
					a.console.Info("would back up %d files to %s", res.Files, res.Path)
				case res.Empty:
					a.console.Warning("no files were backed up; %s is empty", res.Path)
				default:
					a.console.Success("backed up %d files (%s) to %s", res.Files, formatSize(res.Size), res.Path)
				}
				return nil

			case list:
				return a.listBackups()

			case info != "":
				return a.showBackup(info)

			case restore != "":
				path := a.backups.Resolve(restore)
				if !dryRun && !confirm(cmd, fmt.Sprintf("Restore %s into %s?", path, a.cfg.InstallDir)) {
					a.console.Info("restore cancelled")
					return nil
				}
				res, err := a.backups.Restore(path, engine.RestoreOptions{Overwrite: overwrite})
				if err != nil {
					return report(a.console, "restore", nil, err)
				}
				a.console.Success("restored %d files, skipped %d", res.Restored, res.Skipped)
				if res.Skipped > 0 && !overwrite {
					a.console.Info("use --overwrite to replace existing files")
				}
				return nil

			default:
				if !cmd.Flags().Changed("keep") {
					keep = a.cfg.Backup.Keep
				}
				removed, err := a.backups.Cleanup(keep, time.Duration(olderThan)*24*time.Hour)
				if err != nil {
					return report(a.console, "cleanup", nil, err)
				}
				for _, p := range removed {
					a.console.Info("removed %s", p)
				}
				a.console.Success("removed %d backups", len(removed))
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "create a backup")
	cmd.Flags().BoolVar(&list, "list", false, "list backups, newest first")
	cmd.Flags().StringVar(&info, "info", "", "show details of a backup")
	cmd.Flags().StringVar(&restore, "restore", "", "restore a backup")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "remove old backups")
	cmd.Flags().StringVar(&name, "name", "", "name prefix for a new backup")
	cmd.Flags().StringVar(&compress, "compress", "", "compression for a new backup (gzip, none)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files on restore")
	cmd.Flags().IntVar(&keep, "keep", 0, "number of backups to keep on cleanup")
	cmd.Flags().IntVar(&olderThan, "older-than", 0, "on cleanup, also remove backups older than this many days")
	cmd.MarkFlagsOneRequired("create", "list", "info", "restore", "cleanup")
	cmd.MarkFlagsMutuallyExclusive("create", "list", "info", "restore", "cleanup")

	return cmd
}

func (a *app) listBackups() error {
	backups, err := a.backups.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		a.console.Info("no backups in %s", a.backups.BackupDir())
		return nil
	}
	a.console.Println("%-48s %10s  %-19s  %s", "NAME", "SIZE", "CREATED", "FILES")
	for _, b := range backups {
		files := fmt.Sprint(b.Files)
		if b.Empty {
			files = "empty"
		}
		a.console.Println("%-48s %10s  %-19s  %s", b.Name, formatSize(b.Size), b.Created.Format("2006-01-02 15:04:05"), files)
	}
	return nil
}

func (a *app) showBackup(nameOrPath string) error {
	b, err := a.backups.Info(a.backups.Resolve(nameOrPath))
	if err != nil {
		return err
	}
	a.console.Println("Path:     %s", b.Path)
	a.console.Println("Size:     %s", formatSize(b.Size))
	a.console.Println("Created:  %s", b.Created.Format(time.RFC3339))
	a.console.Println("Files:    %d", b.Files)
	if b.Empty {
		a.console.Println("Empty:    no files were archived")
	}
	if m := b.Metadata; m != nil {
		a.console.Println("Framework: %s", m.FrameworkVersion)
		a.console.Println("Source:   %s", m.InstallDir)
		for _, name := range sortedKeys(m.Components) {
			a.console.Println("  %s %s", name, m.Components[name])
		}
	}
	return nil
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
