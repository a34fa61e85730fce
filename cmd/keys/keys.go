// Package keys provides the keys command, listing the identifier keys
// dataset types require.
package keys

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/mapper"
	"github.com/mwittgen/obs-base/internal/storage"
)

// level holds the --level flag value
var level string

// Command creates and returns the keys command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys [dataset type]",
		Short: "List the identifier keys a dataset type requires",
		Long:  `Keys prints the identifier keys and value types of one dataset type, or the union over every declared type when no argument is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			datasetType := ""
			if len(args) > 0 {
				datasetType = args[0]
			}
			return runKeys(settings, datasetType)
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", `subtract the keys beneath this hierarchy level ("default" uses the policy default)`)

	return cmd
}

// runKeys inspects the dataset policy only; no registry is opened.
func runKeys(settings *conf.Settings, datasetType string) error {
	policy, err := conf.LoadPolicy(settings.Policy.Path)
	if err != nil {
		return err
	}

	m, err := mapper.New(mapper.Config{
		Policy: policy,
		Root:   storage.NewPosix(settings.Repository.Root),
	})
	if err != nil {
		return err
	}

	schema, err := m.GetKeys(datasetType, level)
	if err != nil {
		return err
	}
	for _, key := range schema.Keys() {
		fmt.Printf("%s\t%s\n", key, schema[key])
	}
	return nil
}
