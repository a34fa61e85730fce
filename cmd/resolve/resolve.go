// Package resolve provides the resolve command, mapping dataset identifiers
// to storage locations.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/logging"
	"github.com/mwittgen/obs-base/internal/mapper"
	"github.com/mwittgen/obs-base/internal/observability"
	"github.com/mwittgen/obs-base/internal/runtime"
)

// Flag values for the resolve command.
var (
	ids     []string
	write   bool
	verbose bool
	listen  string
)

// Command creates and returns the resolve command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <dataset type>",
		Short: "Resolve dataset identifiers to storage locations",
		Long:  `Resolve maps dataset identifiers to storage locations in the configured repository, filling missing identifier keys from the metadata registry.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), settings, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&ids, "id", "i", nil, "dataset identifier as key=value[,key=value...], repeatable")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "resolve for writing instead of reading")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also print types, the used identifier and write-time configuration")
	cmd.Flags().StringVar(&listen, "listen", "", "serve the Prometheus metrics endpoint on this address while resolving")

	return cmd
}

func runResolve(ctx context.Context, settings *conf.Settings, datasetType string) error {
	if len(ids) == 0 {
		return fmt.Errorf("at least one --id is required")
	}

	parsed := make([]dataid.DataID, len(ids))
	for i, raw := range ids {
		id, err := dataid.Parse(raw)
		if err != nil {
			return err
		}
		parsed[i] = id
	}

	rc, err := runtime.Build(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			logging.Error("Failed to close registries", "error", err)
		}
	}()

	// Optional metrics endpoint, served for the lifetime of the command.
	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	if listen != "" {
		endpoint := observability.NewEndpoint(listen, rc.Metrics)
		endpoint.Start(&wg, quitChan)
	}
	defer func() {
		close(quitChan)
		wg.Wait()
	}()

	// The engine is safe for concurrent use, so identifiers resolve in
	// parallel. Results keep the input order.
	locations := make([]*mapper.StorageLocation, len(parsed))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range parsed {
		i, id := i, id
		g.Go(func() error {
			location, err := rc.Mapper.Resolve(gctx, datasetType, id, write)
			if err != nil {
				return fmt.Errorf("resolving %s %s: %w", datasetType, id, err)
			}
			locations[i] = location
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, location := range locations {
		printLocation(location)
	}
	return nil
}

func printLocation(location *mapper.StorageLocation) {
	for _, path := range location.AbsolutePaths() {
		fmt.Printf("%s\t%s\t%s\n", path, location.StorageKind, location.DataID)
	}
	if !verbose {
		return
	}
	fmt.Printf("  python: %s  persistable: %s\n", location.PythonType, location.PersistableType)
	fmt.Printf("  used: %s\n", location.UsedDataID)
	keys := make([]string, 0, len(location.AdditionalData))
	for key := range location.AdditionalData {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("  %s: %+v\n", key, location.AdditionalData[key])
	}
}
