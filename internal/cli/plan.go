package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/h3-netplan/internal/audit"
	"github.com/mohammed-shakir/h3-netplan/internal/cache/memstore"
	"github.com/mohammed-shakir/h3-netplan/internal/core/httpclient"
	"github.com/mohammed-shakir/h3-netplan/internal/core/router"
	"github.com/mohammed-shakir/h3-netplan/internal/engine"
	"github.com/mohammed-shakir/h3-netplan/internal/geostore"
	"github.com/mohammed-shakir/h3-netplan/internal/pipeline"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial"
	"github.com/mohammed-shakir/h3-netplan/internal/spatial/backend"
	"github.com/mohammed-shakir/h3-netplan/internal/transform"
)

type PlanOptions struct {
	*RootOptions
	Algorithm string
	Spatial   string
	Res       int
}

func (o *PlanOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Algorithm, "algorithm", "a", "", "override the request's algorithm")
	cmd.Flags().StringVar(&o.Spatial, "spatial", "", "spatial backend h3|grid (overrides SPATIAL_BACKEND)")
	cmd.Flags().IntVar(&o.Res, "res", -1, "h3 resolution (overrides H3_RES)")
}

// index opens the configured spatial index. The returned store is nil for
// the h3 backend; callers close it when set.
func (o *PlanOptions) index(ctx context.Context) (spatial.Index, *geostore.Store, error) {
	name, res := o.cfg.SpatialBackend, o.cfg.H3Res
	if o.Spatial != "" {
		name = o.Spatial
	}
	if o.Res >= 0 {
		res = o.Res
	}
	if name != backend.Grid {
		idx, err := backend.Open(ctx, name, res, nil)
		if err != nil {
			return nil, nil, commandError("spatial index: %w", err)
		}
		return idx, nil, nil
	}
	store, err := geostore.Open(ctx, o.cfg.GeoDBPath)
	if err != nil {
		return nil, nil, commandError("%w", err)
	}
	idx, err := backend.Open(ctx, name, res, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, commandError("spatial index: %w", err)
	}
	return idx, store, nil
}

func NewFingerprintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "fingerprint <request.json|->",
		Short: "Print the cache key a plan request is stored under",
		Long: `Converts the request's coordinates to cells with the configured spatial
index and prints the SHA-1 fingerprint of the converted request. Use it to
find or evict a cached plan without running an engine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFingerprint(cmd, opts, args[0])
		},
	}
	opts.bind(cmd)
	return cmd
}

func runFingerprint(cmd *cobra.Command, opts *PlanOptions, path string) error {
	ctx := cmd.Context()
	req, err := readRequest(cmd, path, opts.Algorithm)
	if err != nil {
		return err
	}
	idx, store, err := opts.index(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	p := pipeline.New(transform.New(idx, opts.cfg.LookupConcurrency), nil, nil, pipeline.WithLogger(opts.logger(cmd)))
	digest, err := p.Fingerprint(ctx, req)
	if err != nil {
		return err
	}
	return emit(cmd, opts.RootOptions, map[string]string{"fingerprint": digest, "algorithm": req.Algorithm}, digest)
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "run <request.json|->",
		Short: "Run one plan request through the pipeline and print the reply",
		Long: `Runs the request exactly as the service would, using the engines from the
environment (or ENGINES_FILE) and a throwaway in-memory cache. The output is
the same body POST /submitNetworkRawData returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, opts, args[0])
		},
	}
	opts.bind(cmd)
	return cmd
}

func runPlan(cmd *cobra.Command, opts *PlanOptions, path string) error {
	ctx := cmd.Context()
	log := opts.logger(cmd)
	req, err := readRequest(cmd, path, opts.Algorithm)
	if err != nil {
		return err
	}

	algos, err := engine.FromSpecs(opts.cfg.Engines, httpclient.NewOutbound(0))
	if err != nil {
		return commandError("engines: %w", err)
	}
	runner, err := engine.NewRunner(algos,
		engine.WithTimeout(opts.cfg.EngineTimeout),
		engine.WithRecorder(audit.LogRecorder{Log: log}),
		engine.WithLogger(log),
	)
	if err != nil {
		return commandError("engines: %w", err)
	}

	idx, store, err := opts.index(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	}

	p := pipeline.New(transform.New(idx, opts.cfg.LookupConcurrency), runner, memstore.New(1), pipeline.WithLogger(log))
	out, err := p.Submit(ctx, req)
	if err != nil {
		return err
	}

	h := &router.Handlers{Log: log}
	if store != nil {
		h.Boundary = store
	}
	payload := router.PlanPayload(out.Result, req, h.BoundaryFor(ctx))
	text := fmt.Sprintf("%s: %d nodes, %d edges (fingerprint %s)",
		out.Result.Algorithm, len(out.Result.Nodes), len(out.Result.Edges), out.Fingerprint)
	return emit(cmd, opts.RootOptions, payload, text)
}
