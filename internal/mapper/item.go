package mapper

import (
	"context"
	"strings"

	"github.com/mwittgen/obs-base/internal/dataid"
	"github.com/mwittgen/obs-base/internal/errors"
)

// ItemKind tags the image-like shapes standardization understands. Anything
// else is Opaque and passes through untouched.
type ItemKind int

const (
	KindOpaque ItemKind = iota
	KindImage
	KindDecoratedImage
	KindMaskedImage
	KindExposure
)

// String returns the kind name.
func (k ItemKind) String() string {
	switch k {
	case KindImage:
		return "Image"
	case KindDecoratedImage:
		return "DecoratedImage"
	case KindMaskedImage:
		return "MaskedImage"
	case KindExposure:
		return "Exposure"
	default:
		return "Opaque"
	}
}

// KindOf classifies an opaque in-memory type tag such as
// "lsst.afw.image.ExposureF". Only the final dotted segment is inspected;
// pixel-width suffixes (U, I, F, D) are ignored.
func KindOf(pythonType string) ItemKind {
	name := pythonType
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case strings.HasPrefix(name, "Exposure"):
		return KindExposure
	case strings.HasPrefix(name, "DecoratedImage"):
		return KindDecoratedImage
	case strings.HasPrefix(name, "MaskedImage"):
		return KindMaskedImage
	case strings.HasPrefix(name, "Image"):
		return KindImage
	default:
		return KindOpaque
	}
}

// Item is a loaded dataset on its way through standardization. Image-like
// kinds carry the header metadata and the filter and detector labels the
// resolver can complete; Opaque items carry none of that and are returned
// unchanged.
type Item struct {
	Kind     ItemKind
	Metadata map[string]any
	Filter   string
	Detector string
}

// DetectorNamer resolves an identifier to the detector name attached during
// standardization. The engine owns the hook; standardization runs without a
// detector when none is registered.
type DetectorNamer func(id dataid.DataID) (string, error)

// standardizeExposure promotes an image-like item to an exposure and fills
// the detector and filter labels. A decorated image donates its metadata to
// the promoted exposure. The filter is completed from the identifier only
// when the item carries none; a registry miss leaves it as stored.
func (m *Mapper) standardizeExposure(ctx context.Context, mapping *Mapping, item *Item, id dataid.DataID, setFilter bool) (*Item, error) {
	if item == nil || item.Kind == KindOpaque {
		return item, nil
	}
	out := &Item{
		Kind:     KindExposure,
		Metadata: item.Metadata,
		Filter:   item.Filter,
		Detector: item.Detector,
	}

	level := strings.ToLower(mapping.Level)
	if m.detectorNamer != nil && (level == "amp" || level == "ccd") {
		name, err := m.detectorNamer(id)
		if err != nil {
			return nil, err
		}
		out.Detector = name
	}

	if setFilter && out.Filter == "" {
		actual, err := mapping.Need(ctx, []string{"filter"}, id)
		switch {
		case err == nil:
			out.Filter = dataid.AsString(actual["filter"])
		case errors.IsCategory(err, errors.CategoryAmbiguity):
			// No unique filter for this identifier; keep what the file
			// carried.
			getLogger().Debug("filter not resolvable during standardization",
				"dataset_type", mapping.DatasetType,
				"data_id", id.String(),
				"error", err)
		default:
			return nil, err
		}
	}
	return out, nil
}
