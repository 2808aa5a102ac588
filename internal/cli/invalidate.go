package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/h3-netplan/internal/invalidation"
	invkafka "github.com/mohammed-shakir/h3-netplan/pkg/invalidation/kafka"
)

type InvalidateOptions struct {
	*RootOptions
	Fingerprints []string
	Request      string
	Algorithm    string
	Version      uint64
	Source       string

	// publisher overrides the Kafka producer in tests.
	publisher func(brokers []string, topic string) (eventPublisher, error)
}

type eventPublisher interface {
	Publish(ev invalidation.Event) (int32, int64, error)
	Close() error
}

func NewInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvalidateOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Evict cached plans on every planner replica",
		Long: `Publishes one invalidation event to the configured Kafka topic.

Either name fingerprints directly:
  planctl invalidate --fingerprint 3f2a... --fingerprint 9bc1...
or pass the coordinate request and the algorithm it ran with, and each replica
derives the fingerprint with its own spatial index:
  planctl invalidate --request req.json --algorithm "Min Cost Flow"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInvalidate(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.Fingerprints, "fingerprint", nil, "fingerprint to evict (repeatable)")
	cmd.Flags().StringVar(&opts.Request, "request", "", "plan request file whose cached result should be cleared")
	cmd.Flags().StringVarP(&opts.Algorithm, "algorithm", "a", "", "algorithm the request was run with")
	cmd.Flags().Uint64Var(&opts.Version, "version", 0, "event version; 0 defaults to the current unix time in ms")
	cmd.Flags().StringVar(&opts.Source, "source", "", "origin recorded in the event (defaults to the hostname)")
	cmd.MarkFlagsMutuallyExclusive("fingerprint", "request")
	cmd.MarkFlagsOneRequired("fingerprint", "request")
	return cmd
}

func runInvalidate(cmd *cobra.Command, opts *InvalidateOptions) error {
	version := opts.Version
	if version == 0 {
		version = uint64(time.Now().UnixMilli())
	}
	source := opts.Source
	if source == "" {
		source, _ = os.Hostname()
		source = "planctl@" + source
	}

	var ev invalidation.Event
	if opts.Request != "" {
		req, err := readRequest(cmd, opts.Request, "")
		if err != nil {
			return err
		}
		algo := opts.Algorithm
		if algo == "" {
			algo = req.Algorithm
		}
		ev = invalidation.NewClear(version, source, req, algo)
	} else {
		fps := make([]string, len(opts.Fingerprints))
		for i, fp := range opts.Fingerprints {
			fps[i] = strings.ToLower(strings.TrimSpace(fp))
		}
		ev = invalidation.NewEvict(version, source, fps...)
	}
	if err := ev.Validate(); err != nil {
		return commandError("invalid event: %w", err)
	}

	inv := invkafka.FromConfig(opts.cfg.Invalidation)
	if len(inv.Brokers) == 0 {
		return commandError("no kafka brokers configured (KAFKA_BROKERS)")
	}
	newPub := opts.publisher
	if newPub == nil {
		newPub = func(brokers []string, topic string) (eventPublisher, error) {
			return invkafka.NewPublisher(brokers, topic)
		}
	}
	pub, err := newPub(inv.Brokers, inv.Topic)
	if err != nil {
		return commandError("%w", err)
	}
	defer func() { _ = pub.Close() }()

	part, off, err := pub.Publish(ev)
	if err != nil {
		return commandError("%w", err)
	}
	return emit(cmd, opts.RootOptions,
		map[string]any{"topic": inv.Topic, "partition": part, "offset": off, "op": ev.Op, "version": version},
		fmt.Sprintf("published %s event v%d to %s[%d]@%d", ev.Op, version, inv.Topic, part, off))
}
