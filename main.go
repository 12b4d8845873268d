package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mcpanel/handlers"
	"mcpanel/logging"
	"mcpanel/minecraft"
)

const (
	defaultDir     = "."
	defaultAddr    = "127.0.0.1:4010"
	shutdownPeriod = 30 * time.Second
)

var logger = logging.GetSubsystemLogger("main")

var rootCmd = &cobra.Command{
	Use:           "mcpanel",
	Short:         "Control panel for a locally hosted Minecraft server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		// .env never overrides variables that are already set
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		level := stringSetting(cmd, "log-level", "MCPANEL_LOG_LEVEL", "info")
		logging.SetOutput(os.Stderr, level)
		logger = logging.GetSubsystemLogger("main")
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP panel",
	RunE:  runServe,
}

var installCmd = &cobra.Command{
	Use:   "install [version]",
	Short: "Install a server jar into the server directory",
	Long: `Install a server jar into the server directory and accept the EULA.

With --source bundled (the default) the version names a directory under
server_options/. With --source vanilla it names a Mojang release, and
"latest" or no version picks the current release.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List installable server versions",
	RunE:  runVersions,
}

func init() {
	rootCmd.PersistentFlags().String("dir", "", "server directory (env MCPANEL_DIR)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (env MCPANEL_LOG_LEVEL)")
	rootCmd.PersistentFlags().String("bundle-dir", "", "directory holding server_options/ (defaults to the server directory)")

	serveCmd.Flags().String("addr", "", "listen address (env MCPANEL_ADDR)")
	serveCmd.Flags().String("dist", "", "built web frontend to serve at /")

	installCmd.Flags().String("source", "bundled", "bundled or vanilla")
	versionsCmd.Flags().String("source", "bundled", "bundled or vanilla")

	rootCmd.AddCommand(serveCmd, installCmd, versionsCmd)
}

// stringSetting resolves flag, then environment, then fallback
func stringSetting(cmd *cobra.Command, flag, env, fallback string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

func newManager(cmd *cobra.Command, opts minecraft.ManagerOptions) (*minecraft.Manager, error) {
	dir := stringSetting(cmd, "dir", "MCPANEL_DIR", defaultDir)
	bundleDir, _ := cmd.Flags().GetString("bundle-dir")
	opts.BundleDir = bundleDir
	return minecraft.NewManager(dir, opts)
}

func runServe(cmd *cobra.Command, _ []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mgr, err := newManager(cmd, minecraft.ManagerOptions{Registerer: reg})
	if err != nil {
		return fmt.Errorf("failed to initialize manager: %w", err)
	}

	distDir, _ := cmd.Flags().GetString("dist")
	if distDir == "" {
		distDir = filepath.Join(mgr.Dir(), "dist")
	}

	addr := stringSetting(cmd, "addr", "MCPANEL_ADDR", defaultAddr)
	srv := &http.Server{
		Addr: addr,
		Handler: handlers.NewRouter(mgr, handlers.RouterOptions{
			DistDir: distDir,
			Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("dir", mgr.Dir()).Msg("panel listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = mgr.Close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := mgr.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server did not stop in time and was killed")
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	mgr, err := newManager(cmd, minecraft.ManagerOptions{NoWatch: true})
	if err != nil {
		return err
	}
	defer mgr.Close(context.Background())

	source, _ := cmd.Flags().GetString("source")
	version := ""
	if len(args) > 0 {
		version = args[0]
	}
	if version == "" && source != "vanilla" {
		versions, err := mgr.Versions(cmd.Context(), source)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return fmt.Errorf("no bundled server versions found")
		}
		version = versions[0].Version
	}

	installed, err := mgr.Install(cmd.Context(), source, version)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed %s server %s into %s\n", source, installed, mgr.Dir())
	return nil
}

func runVersions(cmd *cobra.Command, _ []string) error {
	mgr, err := newManager(cmd, minecraft.ManagerOptions{NoWatch: true})
	if err != nil {
		return err
	}
	defer mgr.Close(context.Background())

	source, _ := cmd.Flags().GetString("source")
	versions, err := mgr.Versions(cmd.Context(), source)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if v.Latest {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (latest)\n", v.Version)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), v.Version)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("mcpanel failed")
		os.Exit(1)
	}
}
