// Package query provides the query command for registry metadata lookups.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/logging"
	"github.com/mwittgen/obs-base/internal/runtime"
)

// Flag values for the query command.
var (
	show   []string
	idFlag string
)

// Command creates and returns the query command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <dataset type>",
		Short: "Query registry metadata for a dataset type",
		Long:  `Query prints the requested metadata columns for every dataset of the given type matching the identifier.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), settings, args[0])
		},
	}

	cmd.Flags().StringSliceVarP(&show, "show", "s", nil, "metadata columns to return")
	cmd.Flags().StringVarP(&idFlag, "id", "i", "", "identifier constraining the query, key=value[,key=value...]")

	return cmd
}

func runQuery(ctx context.Context, settings *conf.Settings, datasetType string) error {
	if len(show) == 0 {
		return fmt.Errorf("at least one --show column is required")
	}

	id, err := dataid.Parse(idFlag)
	if err != nil {
		return err
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

	rows, err := rc.Mapper.QueryMetadata(ctx, datasetType, show, id)
	if err != nil {
		return err
	}

	fmt.Println(strings.Join(show, "\t"))
	for _, row := range rows {
		values := make([]string, len(row))
		for i, value := range row {
			values[i] = fmt.Sprint(value)
		}
		fmt.Println(strings.Join(values, "\t"))
	}
	return nil
}
