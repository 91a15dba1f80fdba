package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/tjfontaine/oapipe/internal/core/domain"
	"github.com/tjfontaine/oapipe/internal/core/ports"
	"github.com/tjfontaine/oapipe/internal/logging"
	"github.com/tjfontaine/oapipe/internal/pkg/config"
	"github.com/tjfontaine/oapipe/internal/runtime"
	"github.com/tjfontaine/oapipe/internal/storage"
)

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "oapipe",
		Usage:     "inspect and validate OpenAPI operation registries",
		Writer:    stdout,
		ErrWriter: stderr,
		// main owns the exit code.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "path to the configuration file",
				Sources: cli.EnvVars("OAPIPE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "trace, debug, info, warn, error or fatal",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "json or text",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "routes",
				Usage:  "list the operations of every version",
				Action: routesAction,
			},
			{
				Name:  "runs",
				Usage: "list recorded operation runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "only runs of this version"},
					&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Usage: "only runs of this operation"},
					&cli.StringFlag{Name: "status", Usage: "succeeded, failed or canceled"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "maximum runs to list, 0 for all"},
				},
				Action: runsAction,
			},
			{
				Name:      "validate",
				Usage:     "validate a request or response document against an operation",
				ArgsUsage: "<operation-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "version", Aliases: []string{"v"}, Usage: "API version (defaults to the first declared)"},
					&cli.StringFlag{Name: "request", Usage: "JSON file with params, query, headers and body"},
					&cli.StringFlag{Name: "response", Usage: "JSON file with status_code, headers and body"},
				},
				Action: validateAction,
			},
		},
	}
}

// startRuntime builds the registries declared by the --config file.
func startRuntime(ctx context.Context, cmd *cli.Command) (*runtime.Runtime, error) {
	logger := slog.New(logging.NewHandler(cmd.Root().ErrWriter, cmd.String("log-format"), cmd.String("log-level")))

	rt, err := runtime.New(
		runtime.WithLogger(logger),
		runtime.WithFileConfig(cmd.String("config")),
	)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	return rt, nil
}

func routesAction(ctx context.Context, cmd *cli.Command) error {
	rt, err := startRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.WithoutCancel(ctx))

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tOPERATION\tMETHOD\tPATH\tFLAGS")
	for _, version := range rt.Versions() {
		reg, _ := rt.Registry(version)
		for _, id := range reg.IDs() {
			op, _ := reg.Lookup(id)
			method, path := "-", "-"
			if route, ok := op.Route(); ok {
				method, path = route.Method, route.URL
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", version, id, method, path, operationFlags(op.Private(), op.Deprecated(), op.InheritedFrom() != nil))
		}
	}
	return tw.Flush()
}

func runsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.Journal)
	if err != nil {
		return err
	}
	if store == nil {
		return cli.Exit("run journal disabled (set journal.driver)", 1)
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, ports.RunListOptions{
		Version:     cmd.String("version"),
		OperationID: cmd.String("operation"),
		Status:      domain.RunStatus(cmd.String("status")),
		Limit:       int(cmd.Int("limit")),
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tVERSION\tOPERATION\tSTATUS\tDURATION\tEXECUTION\tERROR")
	for _, r := range runs {
		errCode := r.ErrorCode
		if errCode == "" {
			errCode = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.Version, r.OperationID, r.Status, r.Duration, r.ExecutionID, errCode)
	}
	return tw.Flush()
}

func operationFlags(private, deprecated, inherited bool) string {
	var flags []string
	if private {
		flags = append(flags, "private")
	}
	if deprecated {
		flags = append(flags, "deprecated")
	}
	if inherited {
		flags = append(flags, "inherited")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return cli.Exit("operation id required", 2)
	}
	if cmd.String("request") == "" && cmd.String("response") == "" {
		return cli.Exit("one of --request or --response is required", 2)
	}

	rt, err := startRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Shutdown(context.WithoutCancel(ctx))

	version := cmd.String("version")
	if version == "" {
		versions := rt.Versions()
		if len(versions) == 0 {
			return cli.Exit("no versions configured", 1)
		}
		version = versions[0]
	}
	reg, ok := rt.Registry(version)
	if !ok {
		return &domain.NotFoundError{OperationID: id, Version: version}
	}
	op, ok := reg.Lookup(id)
	if !ok {
		return &domain.NotFoundError{OperationID: id, Version: version}
	}
	validators := op.Validators()
	if validators == nil {
		return cli.Exit(fmt.Sprintf("operation %s has no schemas", id), 1)
	}

	var failures []error
	if path := cmd.String("request"); path != "" {
		var req domain.Request
		if err := readJSON(path, &req); err != nil {
			return err
		}
		if err := validators.ValidateRequest(&req); err != nil {
			failures = append(failures, err)
		}
	}
	if path := cmd.String("response"); path != "" {
		var resp domain.Response
		if err := readJSON(path, &resp); err != nil {
			return err
		}
		if err := validators.ValidateResponse(&resp, resp.StatusCode); err != nil {
			failures = append(failures, err)
		}
	}

	out := cmd.Root().Writer
	if len(failures) == 0 {
		fmt.Fprintf(out, "%s %s: valid\n", version, id)
		return nil
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, f := range failures {
		if err := enc.Encode(domain.Serialize(f)); err != nil {
			return err
		}
	}
	return cli.Exit("validation failed", 1)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
