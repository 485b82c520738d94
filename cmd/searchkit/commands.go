package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/backend"
	httpapi "github.com/LerianStudio/lib-searchkit/searchkit/net/http"
	"github.com/LerianStudio/lib-searchkit/searchkit/runtime"
	"github.com/LerianStudio/lib-searchkit/searchkit/server"
	"github.com/spf13/cobra"
)

// ErrIndexUnsupported is returned when the configured primary store cannot index.
var ErrIndexUnsupported = errors.New("primary store does not support indexing")

func serveCmd(configPath *string) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd.Context(), *configPath)
			if err != nil {
				return err
			}

			opts := []httpapi.Option{httpapi.WithLogger(a.logger)}
			if indexer, ok := a.indexer(); ok {
				opts = append(opts, httpapi.WithIndexer(indexer))
			}

			fiberApp := httpapi.NewApp(httpapi.NewHandler(a.orch, a.cfg.Search.DefaultLimit, opts...))

			samplerCtx, stopSampler := context.WithCancel(context.Background())

			runtime.SafeGo(samplerCtx, a.logger, "cmd", "system_sampler", func() {
				a.telemetry.MetricsFactory.RunSystemSampler(samplerCtx, a.cfg.Telemetry.SystemMetricsInterval)
			})

			return server.NewManager(a.logger).
				WithHTTPServer(fiberApp, a.cfg.HTTP.Address).
				WithCloser("system-sampler", func(context.Context) error {
					stopSampler()
					return nil
				}).
				WithCloser("orchestrator", a.orch.Close).
				WithCloser("telemetry", a.telemetry.Shutdown).
				WithShutdownTimeout(shutdownTimeout).
				Run()
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for draining requests and closing backends")

	return cmd
}

func searchCmd(configPath *string) *cobra.Command {
	var (
		limit   int
		offset  int
		sortBy  string
		order   string
		noCache bool
		filters []string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one search and print the result with its performance record",
		Example: `  searchkit search "circuit breaker" --limit 5
  searchkit search "payments" --filter kind=invoice --sort-by date`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				if limit <= 0 {
					limit = a.cfg.Search.DefaultLimit
				}

				result, record, err := a.orch.Search(ctx, args[0], backend.Options{
					Limit:        limit,
					Offset:       offset,
					Filters:      parsed,
					SortBy:       backend.SortBy(sortBy),
					SortOrder:    backend.SortOrder(strings.ToLower(order)),
					DisableCache: noCache,
				})
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), httpapi.SearchResponse{Items: result.Items, Total: result.Total, Record: record})
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "page size, defaults to search.defaultLimit")
	cmd.Flags().IntVar(&offset, "offset", 0, "items to skip")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "relevance, date or custom")
	cmd.Flags().StringVar(&order, "sort-order", "", "asc or desc")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the cache for reads and write-through")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "field=value filter, repeatable")

	return cmd
}

func healthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe both backends and print their health and breaker state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				report := a.orch.Health(ctx)

				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}

				if !report.Healthy() {
					return errors.New("no backend is able to serve searches")
				}

				return nil
			})
		},
	}
}

func invalidateCmd(configPath *string) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Remove cached result sets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				removed, err := a.orch.Invalidate(ctx, pattern)
				if err != nil {
					return err
				}

				return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
			})
		},
	}

	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "glob over cache keys, defaults to every result set")

	return cmd
}

func indexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "index [file]",
		Short: "Index a JSON array of documents into the primary store",
		Long: `Reads a JSON array of documents ({"id", "text", "fields", "createdAt"})
from file, or from standard input when file is "-", and writes them to the
primary store. Cached result sets are invalidated afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := readDocuments(cmd, args[0])
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), *configPath, func(ctx context.Context, a *app) error {
				indexer, ok := a.indexer()
				if !ok {
					return fmt.Errorf("%w: %s", ErrIndexUnsupported, a.cfg.Primary.Kind)
				}

				if err := indexer.Index(ctx, docs...); err != nil {
					return err
				}

				if _, err := a.orch.Invalidate(ctx, ""); err != nil {
					return fmt.Errorf("documents indexed but cache invalidation failed: %w", err)
				}

				return printJSON(cmd.OutOrStdout(), map[string]int{"indexed": len(docs)})
			})
		},
	}
}

func withApp(ctx context.Context, configPath string, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := bootstrap(ctx, configPath)
	if err != nil {
		return err
	}

	return errors.Join(fn(ctx, a), a.close(ctx))
}

func parseFilters(raw []string) (map[string][]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	filters := make(map[string][]string, len(raw))

	for _, f := range raw {
		name, value, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: filter %q must be field=value", backend.ErrInvalidQuery, f)
		}

		filters[name] = append(filters[name], value)
	}

	return filters, nil
}

func readDocuments(cmd *cobra.Command, path string) ([]backend.Document, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}

	var docs []backend.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}

	for i, doc := range docs {
		if strings.TrimSpace(doc.ID) == "" {
			return nil, fmt.Errorf("document %d has no id", i)
		}
	}

	return docs, nil
}
