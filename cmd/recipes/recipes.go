// Package recipes provides the recipes command for inspecting write recipes.
package recipes

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwittgen/obs-base/internal/conf"
	"github.com/mwittgen/obs-base/internal/recipe"
)

// Flag values for the recipes command.
var (
	storageKind string
	name        string
)

// Command creates and returns the recipes command
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "List or print validated write recipes",
		Long:  `Recipes loads and validates the write recipe documents, then lists the available recipe names or prints one recipe with its schema defaults filled in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecipes(settings)
		},
	}

	cmd.Flags().StringVar(&storageKind, "storage", "", "only this storage kind, empty lists all")
	cmd.Flags().StringVarP(&name, "name", "n", "", "recipe to print, empty lists the available names")

	return cmd
}

func runRecipes(settings *conf.Settings) error {
	resolver, err := recipe.Load(settings.Policy.RecipeSupplement)
	if err != nil {
		return err
	}

	if name == "" {
		for _, kind := range resolver.Kinds() {
			if storageKind != "" && kind != storageKind {
				continue
			}
			for _, recipeName := range resolver.Names(kind) {
				fmt.Printf("%s\t%s\n", kind, recipeName)
			}
		}
		return nil
	}

	kind := storageKind
	if kind == "" {
		kind = "FitsStorage"
	}
	rec, ok := resolver.Recipe(kind, name)
	if !ok {
		return fmt.Errorf("no recipe %q for storage kind %q", name, kind)
	}
	out, err := yaml.Marshal(rec)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
