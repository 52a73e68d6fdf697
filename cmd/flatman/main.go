package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flatman-go/internal/app"
	"flatman-go/internal/config"
	"flatman-go/internal/model"
	"flatman-go/internal/notify"
	"flatman-go/internal/orchestrator"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "flatman",
	Short: "Flatpak build and publish orchestrator",
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
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Printf("Repos:    %s\n", cfg.Repos.BasePath)
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
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Repos:     %s\n", cfg.Repos.BasePath)
		fmt.Printf("Staging:   %s\n", cfg.Repos.StagingPath)
		fmt.Printf("Workers:   %d\n", cfg.Build.WorkersOrDefault())
		fmt.Printf("Queue:     %s (lease %s)\n", cfg.Queue.Type, cfg.Queue.LeaseOrDefault())
		return nil
	},
}

// repo command
var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage OSTree repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collectionID, _ := cmd.Flags().GetString("collection-id")
		gpgKeyID, _ := cmd.Flags().GetString("gpg-key")
		parents, _ := cmd.Flags().GetStringSlice("parent")
		public, _ := cmd.Flags().GetBool("public")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repo := &model.Repository{
			Name:         args[0],
			CollectionID: collectionID,
			GPGKeyID:     gpgKeyID,
			ParentIDs:    parents,
			IsActive:     true,
			IsPublic:     public,
		}
		if err := a.Service().CreateRepository(cmd.Context(), repo); err != nil {
			return err
		}

		fmt.Printf("Repository %s registered (%s)\n", repo.Name, repo.ID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		repos, err := a.Service().ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			fmt.Println("No repositories registered.")
			return nil
		}

		for _, r := range repos {
			flags := ""
			if r.GPGKeyID != "" {
				flags += " signed"
			}
			if r.HasParents() {
				flags += " promoted"
			}
			fmt.Printf("%-20s %s%s\n", r.Name, r.ID, flags)
		}
		return nil
	},
}

// package command
var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Manage packages",
}

var packageCreateCmd = &cobra.Command{
	Use:   "create APP_ID",
	Short: "Register a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoName, _ := cmd.Flags().GetString("repo")
		name, _ := cmd.Flags().GetString("name")
		gitURL, _ := cmd.Flags().GetString("git-url")
		gitBranch, _ := cmd.Flags().GetString("git-branch")
		branch, _ := cmd.Flags().GetString("branch")
		arch, _ := cmd.Flags().GetString("arch")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, err := a.Service().CreatePackage(cmd.Context(), orchestrator.CreatePackageParams{
			RepositoryName: repoName,
			AppID:          args[0],
			Name:           name,
			GitURL:         gitURL,
			GitBranch:      gitBranch,
			Branch:         branch,
			Arch:           arch,
			CreatedBy:      os.Getenv("USER"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Package %s created (%s)\n", pkg.AppID, pkg.ID)
		if pkg.Workflow() == model.WorkflowSource {
			fmt.Println("Build task queued.")
		} else {
			fmt.Println("Waiting for upload; run 'flatman build mark-built' when content is in staging.")
		}
		return nil
	},
}

var packageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pkgs, err := a.Service().ListPackages(cmd.Context())
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			fmt.Println("No packages.")
			return nil
		}

		for _, p := range pkgs {
			fmt.Printf("%-36s  %-10s  #%d  %s/%s/%s\n",
				p.ID, p.Status, p.BuildCounter, p.AppID, p.Arch, p.Branch)
		}
		return nil
	},
}

// build command
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Inspect and drive build lifecycles",
}

var statusCmd = &cobra.Command{
	Use:   "status PACKAGE_ID",
	Short: "View package status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Service().GetStatus(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		p := status.Package
		fmt.Printf("Package:  %s (%s)\n", p.AppID, p.ID)
		fmt.Printf("Ref:      %s\n", p.Ref())
		fmt.Printf("Status:   %s (attempt #%d)\n", p.Status, p.BuildCounter)
		if p.Version != "" {
			fmt.Printf("Version:  %s\n", p.Version)
		}
		if p.ErrorMessage != "" {
			fmt.Printf("Error:    %s\n", p.ErrorMessage)
		}
		if b := status.Latest; b != nil {
			fmt.Printf("Build:    %s started %s\n", b.ID, b.StartedAt.Format("2006-01-02 15:04:05"))
			if b.CommitHash != "" {
				fmt.Printf("Commit:   %s\n", b.CommitHash)
			}
			if b.PublishedAt != nil {
				fmt.Printf("Published: %s\n", b.PublishedAt.Format("2006-01-02 15:04:05"))
			}
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history PACKAGE_ID",
	Short: "View a package's build attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		builds, err := a.Service().ListHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(builds) == 0 {
			fmt.Println("No build attempts.")
			return nil
		}

		for _, b := range builds {
			duration := ""
			if b.CompletedAt != nil {
				duration = b.CompletedAt.Sub(b.StartedAt).Truncate(time.Second).String()
			}
			fmt.Printf("#%d  %-10s  %s  %-8s  %s\n",
				b.Attempt,
				b.Status,
				b.StartedAt.Format("2006-01-02 15:04:05"),
				duration,
				b.ID,
			)
		}
		return nil
	},
}

// logs command
var logsCmd = &cobra.Command{
	Use:   "logs BUILD_ID",
	Short: "View a build's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Service().GetLogs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No log entries.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %-7s  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"),
				strings.ToUpper(e.Level),
				e.Message,
			)
		}
		return nil
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [PACKAGE_ID]",
	Short: "Follow live build events",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		packageID := ""
		if len(args) > 0 {
			packageID = args[0]
		}
		sub := a.Service().Subscribe(packageID)
		defer sub.Cancel()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-sub.C:
				if !ok {
					return nil
				}
				switch event.Kind {
				case notify.KindStatus:
					fmt.Printf("%s  %s -> %s\n",
						event.Timestamp.Format("15:04:05"), event.PackageID, event.Status)
				case notify.KindLog:
					fmt.Printf("%s  %s  %-7s  %s\n",
						event.Timestamp.Format("15:04:05"), event.PackageID,
						strings.ToUpper(event.Level), event.Message)
				}
			}
		}
	},
}

// lifecycle commands
var markBuiltCmd = &cobra.Command{
	Use:   "mark-built PACKAGE_ID",
	Short: "Record an uploaded build as built",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, err := a.Service().MarkBuilt(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Package %s is %s\n", pkg.AppID, pkg.Status)
		return nil
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit PACKAGE_ID",
	Short: "Verify and commit a built package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Commit(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Commit task queued.")
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish PACKAGE_ID",
	Short: "Publish a committed package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Publish(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Publish task queued.")
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel PACKAGE_ID",
	Short: "Cancel a package's current attempt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("Cancellation requested.")
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry PACKAGE_ID",
	Short: "Retry a failed or cancelled package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pkg, err := a.Service().Retry(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Package %s back to pending (attempt #%d)\n", pkg.AppID, pkg.BuildCounter)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete PACKAGE_ID",
	Short: "Delete a package and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		deleted, err := a.Service().Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if deleted {
			fmt.Println("Package deleted.")
		} else {
			fmt.Println("Package has a running attempt; cancellation requested instead. Delete again once it settles.")
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the build daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return a.Serve(ctx)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// repo subcommands
	repoCmd.AddCommand(repoAddCmd)
	repoAddCmd.Flags().String("collection-id", "", "OSTree collection ID")
	repoAddCmd.Flags().String("gpg-key", "", "GPG key ID for summary signing")
	repoAddCmd.Flags().StringSlice("parent", nil, "Parent repository ID (repeatable)")
	repoAddCmd.Flags().Bool("public", false, "Mark the repository public")
	repoCmd.AddCommand(repoListCmd)

	// package subcommands
	packageCmd.AddCommand(packageCreateCmd)
	packageCreateCmd.Flags().String("repo", "", "Target repository name")
	packageCreateCmd.Flags().String("name", "", "Human-readable name")
	packageCreateCmd.Flags().String("git-url", "", "Source repository URL (omit for upload workflow)")
	packageCreateCmd.Flags().String("git-branch", "", "Source branch to build")
	packageCreateCmd.Flags().String("branch", "", "Flatpak branch label")
	packageCreateCmd.Flags().String("arch", "", "Target architecture")
	packageCmd.AddCommand(packageListCmd)

	// build subcommands
	buildCmd.AddCommand(statusCmd)
	buildCmd.AddCommand(historyCmd)
	buildCmd.AddCommand(logsCmd)
	buildCmd.AddCommand(watchCmd)
	buildCmd.AddCommand(markBuiltCmd)
	buildCmd.AddCommand(commitCmd)
	buildCmd.AddCommand(publishCmd)
	buildCmd.AddCommand(cancelCmd)
	buildCmd.AddCommand(retryCmd)
	buildCmd.AddCommand(deleteCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(packageCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(serveCmd)
}
