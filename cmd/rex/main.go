package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rex-go/internal/app"
	"rex-go/internal/browse"
	"rex-go/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, browse.ErrAborted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

var verbose bool

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "ls", "get").
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config (run 'rex config init' first?): %w", err)
	}

	a, err := app.New(defaults["config_path"], cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "rex",
	Short:         "Browse and restore restic repositories as a file hierarchy",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Cache Dir: %s\n", cfg.CacheDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Cache Dir: %s\n", cfg.CacheDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		if len(cfg.Repositories) == 0 {
			fmt.Println("No repositories configured.")
			return nil
		}
		fmt.Println("Repositories:")
		for _, r := range cfg.Repositories {
			fmt.Printf("  %-20s %s\n", r.Name, r.Target)
		}
		return nil
	},
}

// repo command
var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a repository (prompts for target, name and password)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("repo-add")
		if err != nil {
			return err
		}
		defer a.Close()

		_, err = a.Engine.List(cmd.Context(), browse.AddRepositoryName)
		if err != nil {
			return err
		}
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("repo-list")
		if err != nil {
			return err
		}
		defer a.Close()

		repos := a.Engine.Repositories()
		if len(repos) == 0 {
			fmt.Println("No repositories configured.")
			return nil
		}
		for _, r := range repos {
			fmt.Printf("%-20s %s\n", r.Name, r.Target)
		}
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a path in the backup hierarchy",
	Long: `List a path in the backup hierarchy.

Paths start at the repository name and descend through backup path,
snapshot, and directories, e.g.:

  rex ls /
  rex ls myrepo
  rex ls "myrepo/D_Photos"
  rex ls "myrepo/D_Photos/2024-01-02 15-04-05 (1a2b3c4d)/vacation"
  rex ls "myrepo/D_Photos/[All Files]/vacation"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}

		a, err := newApp("ls")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Engine.List(cmd.Context(), path)
		if err != nil {
			return err
		}

		for _, e := range entries {
			if e.Traversable() {
				fmt.Printf("%10s  %-20s %s/\n", "", modTime(e), e.DisplayName())
				continue
			}
			fmt.Printf("%10s  %-20s %s\n", humanize.Bytes(uint64(e.Size)), modTime(e), e.DisplayName())
		}
		return nil
	},
}

func modTime(e browse.Entry) string {
	if e.ModTime.IsZero() {
		return ""
	}
	return e.ModTime.Format("2006-01-02 15:04:05")
}

// get command
var getCmd = &cobra.Command{
	Use:   "get REMOTE... [flags]",
	Short: "Restore files to a local directory",
	Long: `Restore one or more files from the backup hierarchy.

With several remote paths from the same snapshot, the common subtree is
restored in one pass and files are copied out of it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir, _ := cmd.Flags().GetString("output")
		overwrite, _ := cmd.Flags().GetBool("overwrite")

		a, err := newApp("get")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()

		// A multi-file transfer hints the engine to restore the common
		// subtree once instead of dumping files one by one. The session
		// keys on the transfer's directory, the way a host panel would
		// report it.
		if len(args) > 1 {
			if err := a.Engine.TransferStart(ctx, parentDir(args[0])); err != nil {
				return err
			}
			defer a.Engine.TransferEnd()
		}

		for _, remote := range args {
			entry, err := a.Engine.Stat(ctx, remote)
			if err != nil {
				return fmt.Errorf("%s: %w", remote, err)
			}

			local := filepath.Join(outDir, localName(entry))
			opts := browse.FetchOptions{
				Overwrite: overwrite,
				Size:      entry.Size,
				Progress:  printProgress(remote),
			}
			if err := a.Engine.Fetch(ctx, remote, local, opts); err != nil {
				return fmt.Errorf("%s: %w", remote, err)
			}
			fmt.Printf("\r%s -> %s (%s)\n", remote, local, humanize.Bytes(uint64(entry.Size)))
		}
		return nil
	},
}

// localName strips the version marker so a restored version lands
// under the plain file name.
func localName(e browse.Entry) string {
	return strings.TrimPrefix(e.Name, browse.VersionMarker)
}

// parentDir strips the last segment from a remote path, accepting
// either separator. An empty result means the path had one segment.
func parentDir(p string) string {
	trimmed := strings.TrimRight(p, `/\`)
	i := strings.LastIndexAny(trimmed, `/\`)
	if i < 0 {
		return ""
	}
	return trimmed[:i]
}

func printProgress(remote string) browse.ProgressFunc {
	return func(written, total int64) bool {
		if total > 0 {
			fmt.Printf("\r%s: %s / %s", remote, humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total)))
		} else {
			fmt.Printf("\r%s: %s", remote, humanize.Bytes(uint64(written)))
		}
		return true
	}
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove a file from all snapshots containing it",
	Long: `Remove a file from every snapshot that contains it.

This rewrites the affected snapshots and forgets the originals. It is
irreversible; a confirmation prompt precedes the rewrite.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("rm")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Engine.RemovePath(cmd.Context(), args[0]); err != nil {
			if errors.Is(err, browse.ErrAborted) {
				fmt.Println("Cancelled.")
				return nil
			}
			return err
		}
		fmt.Println("Removed.")
		return nil
	},
}

// refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh REPO",
	Short: "Force a fresh snapshot list for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("refresh")
		if err != nil {
			return err
		}
		defer a.Close()

		a.Engine.Refresh(args[0])
		fmt.Printf("Snapshot list for %s will be refetched on next access.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr as well as the log file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)

	getCmd.Flags().StringP("output", "o", ".", "Directory to restore into")
	getCmd.Flags().Bool("overwrite", false, "Replace existing local files")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(refreshCmd)
}
