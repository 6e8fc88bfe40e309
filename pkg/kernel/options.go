package kernel

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Options control the cooperative limits and search behavior of the
// normalizer, the type inferer and the elaborator.
type Options struct {
	// NormalizerMaxDepth bounds the normalizer's recursion; exhaustion
	// fails with DeepRecursionError.
	NormalizerMaxDepth int `yaml:"normalizer_max_depth"`
	// UnfoldOpaque lets the normalizer unfold opaque definitions too.
	UnfoldOpaque bool `yaml:"unfold_opaque"`
	// UseNormalizer enables normalization during constraint processing.
	UseNormalizer bool `yaml:"use_normalizer"`
}

// DefaultOptions returns the options used when a driver supplies none.
func DefaultOptions() Options {
	return Options{
		NormalizerMaxDepth: 1 << 20,
		UnfoldOpaque:       false,
		UseNormalizer:      true,
	}
}

// OptionsFromYAML decodes options from a YAML document, starting from the
// defaults for any omitted field.
func OptionsFromYAML(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "decoding elaborator options")
	}
	if opts.NormalizerMaxDepth <= 0 {
		return Options{}, errors.Errorf("normalizer_max_depth must be positive, got %d", opts.NormalizerMaxDepth)
	}
	return opts, nil
}
