// Package recipe loads and resolves write recipes: named, schema-validated
// bundles of storage-format options attached to a location when a dataset is
// written. Recipes are grouped by storage kind; only FITS storage interprets
// them today, as tile compression and pixel scaling settings.
package recipe

import (
	"embed"
	"io/fs"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
)

//go:embed writeRecipes.yaml
var recipeFiles embed.FS

// DefaultName is the recipe every storage kind must define. Mappings that do
// not name a recipe resolve to it.
const DefaultName = "default"

// Compression configures tile compression for one image plane.
type Compression struct {
	Algorithm     string
	Rows          int64
	Columns       int64
	QuantizeLevel float64
}

// Scaling configures pixel scaling for one image plane.
type Scaling struct {
	Algorithm     string
	Bitpix        int64
	MaskPlanes    []string
	Seed          int64
	QuantizeLevel float64
	QuantizePad   float64
	Fuzz          bool
	BScale        float64
	BZero         float64
}

// PlaneSettings bundles the compression and scaling settings of one plane.
type PlaneSettings struct {
	Compression Compression
	Scaling     Scaling
}

// Recipe is one validated write recipe: settings per image plane. Leaves not
// declared in the source document carry the schema defaults.
type Recipe struct {
	Image    PlaneSettings
	Mask     PlaneSettings
	Variance PlaneSettings
}

// Copy returns an independent copy of the recipe.
func (r Recipe) Copy() Recipe {
	out := r
	out.Image.Scaling.MaskPlanes = slices.Clone(r.Image.Scaling.MaskPlanes)
	out.Mask.Scaling.MaskPlanes = slices.Clone(r.Mask.Scaling.MaskPlanes)
	out.Variance.Scaling.MaskPlanes = slices.Clone(r.Variance.Scaling.MaskPlanes)
	return out
}

// planes lists the per-plane settings in schema order.
func (r *Recipe) planes() []*PlaneSettings {
	return []*PlaneSettings{&r.Image, &r.Mask, &r.Variance}
}

// Raw document levels: storage kind -> recipe name -> plane -> settings
// section -> leaf. Kept as plain maps so unrecognized keys stay visible to
// validation.
type (
	rawSettings = map[string]any
	rawPlane    = map[string]rawSettings
	rawRecipe   = map[string]rawPlane
	rawKind     = map[string]rawRecipe
	rawDocument = map[string]rawKind
)

// Each storage kind that understands write recipes registers a validator
// here. A recipe document section for any other kind is a configuration
// error.
var validationMenu = map[string]func(string, rawKind) (map[string]Recipe, error){
	"FitsStorage": validateFitsStorage,
}

// Resolver hands out validated write recipes. It is built once at engine
// initialization and read-only afterwards.
type Resolver struct {
	recipes map[string]map[string]Recipe
}

// Load reads the built-in write recipes plus an optional site supplement
// file and returns the validated resolver.
func Load(supplementPath string) (*Resolver, error) {
	base, err := fs.ReadFile(recipeFiles, "writeRecipes.yaml")
	if err != nil {
		return nil, errors.New(err).
			Component("recipe").
			Category(errors.CategoryConfiguration).
			Context("operation", "load-recipes").
			Build()
	}
	var supplement []byte
	if supplementPath != "" {
		supplement, err = os.ReadFile(supplementPath)
		if err != nil {
			return nil, errors.New(err).
				Component("recipe").
				Category(errors.CategoryConfiguration).
				Context("operation", "load-recipes").
				Context("supplement_path", supplementPath).
				Build()
		}
	}
	return Parse(base, supplement)
}

// Parse validates a base recipe document merged with an optional supplement.
// Supplements may add recipe names under a storage kind but never redefine a
// name the base document already carries.
func Parse(base, supplement []byte) (*Resolver, error) {
	doc, err := parseDocument(base)
	if err != nil {
		return nil, err
	}
	if len(supplement) > 0 {
		suppDoc, err := parseDocument(supplement)
		if err != nil {
			return nil, err
		}
		if err := mergeSupplement(doc, suppDoc); err != nil {
			return nil, err
		}
	}

	resolver := &Resolver{recipes: make(map[string]map[string]Recipe, len(doc))}
	for _, kind := range sortedKeys(doc) {
		recipes := doc[kind]
		if _, ok := recipes[DefaultName]; !ok {
			return nil, errors.Newf("no %q recipe defined for storage kind %s", DefaultName, kind).
				Component("recipe").
				Category(errors.CategoryConfiguration).
				Context("operation", "validate-recipes").
				Build()
		}
		validate, ok := validationMenu[kind]
		if !ok {
			return nil, errors.Newf("write recipes declared for storage kind %s, which takes none", kind).
				Component("recipe").
				Category(errors.CategoryConfiguration).
				Context("operation", "validate-recipes").
				Build()
		}
		validated, err := validate(kind, recipes)
		if err != nil {
			return nil, err
		}
		resolver.recipes[kind] = validated
	}
	return resolver, nil
}

func parseDocument(data []byte) (rawDocument, error) {
	doc := rawDocument{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(err).
			Component("recipe").
			Category(errors.CategoryConfiguration).
			Context("operation", "parse-recipes").
			Build()
	}
	return doc, nil
}

// mergeSupplement folds the supplement into the base document. Collisions
// are fatal: sites add recipes, they do not override the built-in ones.
func mergeSupplement(doc, supplement rawDocument) error {
	for _, kind := range sortedKeys(supplement) {
		for _, name := range sortedKeys(supplement[kind]) {
			if _, ok := doc[kind][name]; ok {
				return errors.Newf("supplemental write recipe %s under %s overrides a built-in recipe", name, kind).
					Component("recipe").
					Category(errors.CategoryConfiguration).
					Context("operation", "merge-recipes").
					Build()
			}
		}
		if doc[kind] == nil {
			doc[kind] = rawKind{}
		}
		for name, rec := range supplement[kind] {
			doc[kind][name] = rec
		}
	}
	return nil
}

// Kinds returns the storage kinds carrying recipes, sorted.
func (r *Resolver) Kinds() []string {
	return sortedKeys(r.recipes)
}

// Names returns the recipe names under one storage kind, sorted. Unknown
// kinds yield nil.
func (r *Resolver) Names(storageKind string) []string {
	recipes, ok := r.recipes[storageKind]
	if !ok {
		return nil
	}
	return sortedKeys(recipes)
}

// Recipe returns the validated recipe as loaded, without per-identifier
// seeding.
func (r *Resolver) Recipe(storageKind, recipeName string) (Recipe, bool) {
	rec, ok := r.recipes[storageKind][recipeName]
	if !ok {
		return Recipe{}, false
	}
	return rec.Copy(), true
}

// Settings returns the write settings for the named recipe under a storage
// kind, for one dataset identifier. Storage kinds that carry no recipes at
// all yield (nil, nil): such writes take no extra configuration. An empty
// recipe name selects the default recipe; an unknown name under a kind that
// does carry recipes is an error.
//
// Scaling seeds declared as 0 are replaced with a hash of the identifier, so
// fuzzed quantization is reproducible for a dataset yet distinct across
// datasets.
func (r *Resolver) Settings(storageKind, recipeName string, id dataid.DataID) (*Recipe, error) {
	recipes, ok := r.recipes[storageKind]
	if !ok {
		return nil, nil
	}
	if recipeName == "" {
		recipeName = DefaultName
	}
	rec, ok := recipes[recipeName]
	if !ok {
		return nil, errors.Newf("unrecognized write recipe for %s storage: %s", storageKind, recipeName).
			Component("recipe").
			Category(errors.CategoryRecipe).
			Context("operation", "resolve-recipe").
			Context("storage", storageKind).
			Build()
	}
	out := rec.Copy()
	seed := id.Hash()
	if seed == 0 {
		seed = 1 // 0 reads as "unseeded" downstream
	}
	for _, plane := range out.planes() {
		if plane.Scaling.Seed == 0 {
			plane.Scaling.Seed = seed
		}
	}
	return &out, nil
}

// validateFitsStorage checks every recipe under the FitsStorage kind against
// the fixed plane/compression/scaling schema. Missing settings sections are
// filled with defaults; declared leaves are coerced to the default's type;
// anything unrecognized fails.
func validateFitsStorage(kind string, recipes rawKind) (map[string]Recipe, error) {
	validated := make(map[string]Recipe, len(recipes))
	for _, name := range sortedKeys(recipes) {
		raw := recipes[name]
		where := kind + "->" + name
		if err := checkUnrecognized(raw, []string{"image", "mask", "variance"}, where); err != nil {
			return nil, err
		}
		var rec Recipe
		targets := rec.planes()
		for i, plane := range []string{"image", "mask", "variance"} {
			body, ok := raw[plane]
			if !ok {
				return nil, errors.Newf("write recipe %s does not define the %s plane", where, plane).
					Component("recipe").
					Category(errors.CategoryConfiguration).
					Context("operation", "validate-recipes").
					Build()
			}
			planeWhere := where + "->" + plane
			if err := checkUnrecognized(body, []string{"compression", "scaling"}, planeWhere); err != nil {
				return nil, err
			}
			compression, err := validateCompression(body["compression"], planeWhere+"->compression")
			if err != nil {
				return nil, err
			}
			scaling, err := validateScaling(body["scaling"], planeWhere+"->scaling")
			if err != nil {
				return nil, err
			}
			*targets[i] = PlaneSettings{Compression: compression, Scaling: scaling}
		}
		validated[name] = rec
	}
	return validated, nil
}

// Schema defaults. The default value also fixes the type a declared leaf is
// coerced to.
func defaultCompression() Compression {
	return Compression{
		Algorithm:     "NONE",
		Rows:          1,
		Columns:       0,
		QuantizeLevel: 0.0,
	}
}

func defaultScaling() Scaling {
	return Scaling{
		Algorithm:     "NONE",
		Bitpix:        0,
		MaskPlanes:    []string{"NO_DATA"},
		Seed:          0,
		QuantizeLevel: 4.0,
		QuantizePad:   5.0,
		Fuzz:          true,
		BScale:        1.0,
		BZero:         0.0,
	}
}

func validateCompression(entry rawSettings, where string) (Compression, error) {
	out := defaultCompression()
	allowed := []string{"algorithm", "columns", "quantizeLevel", "rows"}
	if err := checkUnrecognized(entry, allowed, where); err != nil {
		return out, err
	}
	var err error
	if v, ok := entry["algorithm"]; ok {
		if out.Algorithm, err = cast.ToStringE(v); err != nil {
			return out, coercionError(where, "algorithm", err)
		}
	}
	if v, ok := entry["rows"]; ok {
		if out.Rows, err = cast.ToInt64E(v); err != nil {
			return out, coercionError(where, "rows", err)
		}
	}
	if v, ok := entry["columns"]; ok {
		if out.Columns, err = cast.ToInt64E(v); err != nil {
			return out, coercionError(where, "columns", err)
		}
	}
	if v, ok := entry["quantizeLevel"]; ok {
		if out.QuantizeLevel, err = cast.ToFloat64E(v); err != nil {
			return out, coercionError(where, "quantizeLevel", err)
		}
	}
	return out, nil
}

func validateScaling(entry rawSettings, where string) (Scaling, error) {
	out := defaultScaling()
	allowed := []string{
		"algorithm", "bitpix", "bscale", "bzero", "fuzz",
		"maskPlanes", "quantizeLevel", "quantizePad", "seed",
	}
	if err := checkUnrecognized(entry, allowed, where); err != nil {
		return out, err
	}
	var err error
	if v, ok := entry["algorithm"]; ok {
		if out.Algorithm, err = cast.ToStringE(v); err != nil {
			return out, coercionError(where, "algorithm", err)
		}
	}
	if v, ok := entry["bitpix"]; ok {
		if out.Bitpix, err = cast.ToInt64E(v); err != nil {
			return out, coercionError(where, "bitpix", err)
		}
	}
	if v, ok := entry["maskPlanes"]; ok {
		if out.MaskPlanes, err = cast.ToStringSliceE(v); err != nil {
			return out, coercionError(where, "maskPlanes", err)
		}
	}
	if v, ok := entry["seed"]; ok {
		if out.Seed, err = cast.ToInt64E(v); err != nil {
			return out, coercionError(where, "seed", err)
		}
	}
	if v, ok := entry["quantizeLevel"]; ok {
		if out.QuantizeLevel, err = cast.ToFloat64E(v); err != nil {
			return out, coercionError(where, "quantizeLevel", err)
		}
	}
	if v, ok := entry["quantizePad"]; ok {
		if out.QuantizePad, err = cast.ToFloat64E(v); err != nil {
			return out, coercionError(where, "quantizePad", err)
		}
	}
	if v, ok := entry["fuzz"]; ok {
		if out.Fuzz, err = cast.ToBoolE(v); err != nil {
			return out, coercionError(where, "fuzz", err)
		}
	}
	if v, ok := entry["bscale"]; ok {
		if out.BScale, err = cast.ToFloat64E(v); err != nil {
			return out, coercionError(where, "bscale", err)
		}
	}
	if v, ok := entry["bzero"]; ok {
		if out.BZero, err = cast.ToFloat64E(v); err != nil {
			return out, coercionError(where, "bzero", err)
		}
	}
	return out, nil
}

// checkUnrecognized rejects keys outside the allowed set. A nil entry (an
// absent or empty section) passes and keeps its defaults.
func checkUnrecognized[V any](entry map[string]V, allowed []string, where string) error {
	var unrecognized []string
	for key := range entry {
		if !slices.Contains(allowed, key) {
			unrecognized = append(unrecognized, key)
		}
	}
	if len(unrecognized) == 0 {
		return nil
	}
	sort.Strings(unrecognized)
	return errors.Newf("unrecognized entries in write recipe %s: %s", where, strings.Join(unrecognized, ", ")).
		Component("recipe").
		Category(errors.CategoryConfiguration).
		Context("operation", "validate-recipes").
		Build()
}

func coercionError(where, key string, err error) error {
	return errors.Newf("invalid %s value in write recipe %s: %v", key, where, err).
		Component("recipe").
		Category(errors.CategoryConfiguration).
		Context("operation", "validate-recipes").
		Build()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
