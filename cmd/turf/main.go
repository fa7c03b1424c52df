package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/turf/internal/adapters/server"
	"github.com/hylla/turf/internal/adapters/server/common"
	"github.com/hylla/turf/internal/domain"
	"github.com/hylla/turf/internal/geometry"
	"github.com/hylla/turf/internal/platform"
)

// version is stamped at build time.
var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run builds the command tree and executes args against it.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRootCommand wires every subcommand under `turf`.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{appName: platform.AppName, devMode: version == "dev"}
	if envApp := strings.TrimSpace(os.Getenv("TURF_APP_NAME")); envApp != "" {
		opts.appName = envApp
	}

	root := &cobra.Command{
		Use:           "turf",
		Short:         "Territory conquest engine for GPS activity loops",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to config TOML")
	flags.StringVar(&opts.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&opts.appName, "app", opts.appName, "application name for config/data path resolution")
	flags.BoolVar(&opts.devMode, "dev", opts.devMode, "use dev mode paths (<app>-dev)")
	flags.BoolVar(&opts.quiet, "quiet", false, "keep runtime logs off the console")

	root.AddCommand(
		newPathsCommand(opts),
		newServeCommand(opts),
		newConquerCommand(opts),
		newTerritoriesCommand(opts),
		newInvasionsCommand(opts),
		newReindexCommand(opts),
		newExportCommand(opts),
		newEventCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "turf %s\n", version)
			return err
		},
	}
}

func newPathsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show resolved config, data, and log paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "env: %s\n", paths.EnvPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "logs: %s\n", paths.LogDir)
			return nil
		},
	}
}

func newServeCommand(opts *globalOptions) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API, MCP tools, and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			cfg := serveradapter.Config{
				HTTPBind:      rt.cfg.Server.Bind,
				APIEndpoint:   rt.cfg.Server.APIEndpoint,
				MCPEndpoint:   rt.cfg.Server.MCPEndpoint,
				ServerName:    opts.appName,
				ServerVersion: version,
			}
			if strings.TrimSpace(bind) != "" {
				cfg.HTTPBind = bind
			}
			rt.logger.Info("command flow start", "command", "serve", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
			err = serveCommandRunner(cmd.Context(), cfg, serveradapter.Dependencies{
				Service: rt.adapter,
				Metrics: rt.recorder.Handler(),
				Ready:   rt.Ready,
			})
			if err != nil {
				rt.logger.Error("command flow failed", "command", "serve", "err", err)
				return fmt.Errorf("run serve command: %w", err)
			}
			rt.logger.Info("command flow complete", "command", "serve")
			return nil
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override server bind address")
	return cmd
}

func newConquerCommand(opts *globalOptions) *cobra.Command {
	var (
		ownerID    string
		activityID string
		inPath     string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "conquer",
		Short: "Claim the loop recorded in a JSON points file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			points, err := readPoints(inPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			rt.logger.Info("command flow start", "command", "conquer", "owner_id", ownerID, "points", len(points))
			result, err := rt.adapter.Conquer(cmd.Context(), common.ConquerRequest{
				OwnerID:    ownerID,
				ActivityID: activityID,
				Points:     points,
			})
			if err != nil {
				if reason := common.RejectionReason(err); reason != "" {
					return fmt.Errorf("conquest rejected (%s): %w", reason, err)
				}
				return fmt.Errorf("run conquer command: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printConquest(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "claiming owner id")
	cmd.Flags().StringVar(&activityID, "activity", "", "activity id")
	cmd.Flags().StringVar(&inPath, "in", "-", "points JSON file ('-' for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("activity")
	return cmd
}

func newTerritoriesCommand(opts *globalOptions) *cobra.Command {
	var bbox string
	cmd := &cobra.Command{
		Use:   "territories [id]",
		Short: "Show one territory or list territories inside a bounding box",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && strings.TrimSpace(bbox) == "" {
				return fmt.Errorf("either a territory id or --bbox is required")
			}
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			if len(args) == 1 {
				territory, err := rt.adapter.GetTerritory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), territory)
			}
			territories, err := rt.adapter.ListTerritories(cmd.Context(), common.ListTerritoriesRequest{BBox: bbox})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"territories": territories})
		},
	}
	cmd.Flags().StringVar(&bbox, "bbox", "", "minLng,minLat,maxLng,maxLat")
	return cmd
}

func newInvasionsCommand(opts *globalOptions) *cobra.Command {
	var (
		ownerID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "invasions",
		Short: "List the newest invasions against one owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			invasions, err := rt.adapter.ListInvasions(cmd.Context(), common.ListInvasionsRequest{OwnerID: ownerID, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(invasions) == 0 {
				_, _ = fmt.Fprintln(out, "no invasions")
				return nil
			}
			for _, inv := range invasions {
				status := color.New(color.FgYellow).Sprint("reduced")
				if inv.TerritoryWasDestroyed {
					status = color.New(color.FgRed).Sprint("destroyed")
				}
				_, _ = fmt.Fprintf(out, "%s  %s by %s  %.1f m2  %s\n",
					inv.CreatedAt.Format(time.RFC3339), inv.InvadedTerritoryID, inv.InvaderID, inv.OverlapArea, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "invaded owner id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 for the default)")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newReindexCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the spatial index from stored territories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			n, err := rt.service.RebuildIndex(cmd.Context())
			if err != nil {
				return fmt.Errorf("rebuild spatial index: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d territories\n", n)
			return nil
		},
	}
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		outPath string
		bbox    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write territories as a GeoJSON FeatureCollection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bounds := domain.Bounds{MinLat: -90, MinLng: -180, MaxLat: 90, MaxLng: 180}
			if strings.TrimSpace(bbox) != "" {
				parsed, err := common.ParseBBox(bbox)
				if err != nil {
					return err
				}
				bounds = parsed
			}
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			territories, err := rt.service.ListTerritoriesInBounds(cmd.Context(), bounds)
			if err != nil {
				return fmt.Errorf("list territories: %w", err)
			}
			encoded, err := geometry.MarshalFeatureCollection(territories)
			if err != nil {
				return fmt.Errorf("encode territories: %w", err)
			}
			encoded = append(encoded, '\n')
			rt.logger.Info("export complete", "territories", len(territories), "out", outPath)

			if outPath == "-" {
				_, err := cmd.OutOrStdout().Write(encoded)
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create export output dir: %w", err)
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	cmd.Flags().StringVar(&bbox, "bbox", "", "only export territories inside minLng,minLat,maxLng,maxLat")
	return cmd
}

func newEventCommand(opts *globalOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:       "event on|off|status",
		Short:     "Toggle the shared event-mode flag in Redis",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := strings.ToLower(strings.TrimSpace(args[0]))
			if action != "on" && action != "off" && action != "status" {
				return fmt.Errorf("unknown event action %q", args[0])
			}
			cfg, _, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			logger, err := newRuntimeLogger(cmd.ErrOrStderr(), opts.appName, opts.devMode, cfg.Logging, time.Now)
			if err != nil {
				return fmt.Errorf("configure runtime logger: %w", err)
			}
			logger.SetConsoleEnabled(!opts.quiet)
			rt := &runtimeEnv{cfg: cfg, logger: logger, closers: []func() error{logger.Close}}
			defer closeRuntime(rt, cmd.ErrOrStderr())

			eventFlag, err := rt.openRedis()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch action {
			case "on", "off":
				if err := eventFlag.SetEventMode(cmd.Context(), action == "on", ttl); err != nil {
					return fmt.Errorf("set event mode: %w", err)
				}
				logger.Info("event mode updated", "key", eventFlag.Key(), "on", action == "on", "ttl", ttl)
			}
			active, err := eventFlag.IsConflictResolutionActive(cmd.Context())
			if err != nil {
				return fmt.Errorf("read event mode: %w", err)
			}
			state := color.New(color.FgGreen).Sprint("off")
			if !active {
				state = color.New(color.FgMagenta).Sprint("on")
			}
			_, _ = fmt.Fprintf(out, "event mode: %s (%s)\n", state, eventFlag.Key())
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the flag after this long (0 keeps it)")
	return cmd
}

// readPoints decodes a JSON array of points, or an object with a "points" field.
func readPoints(path string, stdin io.Reader) ([]common.Point, error) {
	var (
		content []byte
		err     error
	)
	if strings.TrimSpace(path) == "" || path == "-" {
		content, err = io.ReadAll(stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read points: %w", err)
	}
	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Points []common.Point `json:"points"`
		}
		if err := json.Unmarshal(content, &wrapped); err != nil {
			return nil, fmt.Errorf("decode points json: %w", err)
		}
		return wrapped.Points, nil
	}
	var points []common.Point
	if err := json.Unmarshal(content, &points); err != nil {
		return nil, fmt.Errorf("decode points json: %w", err)
	}
	return points, nil
}

// printConquest writes a short human summary of one conquest.
func printConquest(out io.Writer, result common.ConquerResponse) {
	_, _ = fmt.Fprintf(out, "%s %s  %.1f m2\n",
		color.New(color.FgGreen, color.Bold).Sprint("claimed"), result.NewTerritory.ID, result.TotalConqueredArea)
	if !result.ConflictResolution {
		_, _ = fmt.Fprintln(out, color.New(color.FgMagenta).Sprint("event mode: no conflicts resolved"))
		return
	}
	if result.ContestedArea > 0 {
		_, _ = fmt.Fprintf(out, "contested: %.1f m2\n", result.ContestedArea)
	}
	for _, t := range result.ModifiedTerritories {
		_, _ = fmt.Fprintf(out, "%s %s (%s)\n", color.New(color.FgYellow).Sprint("reduced"), t.ID, t.OwnerID)
	}
	for _, id := range result.DeletedTerritoryIDs {
		_, _ = fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed).Sprint("destroyed"), id)
	}
	for _, id := range result.MergedTerritoryIDs {
		_, _ = fmt.Fprintf(out, "%s %s\n", color.New(color.FgCyan).Sprint("merged"), id)
	}
}

func writeJSON(out io.Writer, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	encoded = append(encoded, '\n')
	_, err = out.Write(encoded)
	return err
}

// closeRuntime releases the runtime and reports close failures on stderr.
func closeRuntime(rt *runtimeEnv, stderr io.Writer) {
	if err := rt.Close(); err != nil {
		_, _ = fmt.Fprintf(stderr, "warning: close runtime: %v\n", err)
	}
}
