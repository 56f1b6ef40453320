package partition

import (
	"flag"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"

	dserrors "github.com/grafana/arrow-dataset/internal/errors"
)

// Supported scheme names.
const (
	SchemeNone       = "none"
	SchemePositional = "positional"
	SchemeKeyValue   = "keyvalue"
)

// Config selects and describes a partition scheme.
type Config struct {
	Scheme string                 `yaml:"scheme"`
	Fields flagext.StringSliceCSV `yaml:"fields"`
}

// RegisterFlagsWithPrefix registers flags with the given prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Scheme, prefix+"partition.scheme", SchemeNone, "Partition scheme of the dataset paths. Supported values: none, positional, keyvalue.")
	f.Var(&cfg.Fields, prefix+"partition.fields", "Comma-separated partition fields as name:type, for example year:int32,month:int32,country:utf8.")
}

// RegisterFlags registers flags.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("", f)
}

// Validate validates the config.
func (cfg *Config) Validate() error {
	switch cfg.Scheme {
	case SchemeNone, "":
		return nil
	case SchemePositional, SchemeKeyValue:
	default:
		return errors.Errorf("unsupported partition scheme %q", cfg.Scheme)
	}

	if len(cfg.Fields) == 0 {
		return errors.Errorf("partition scheme %q requires at least one field", cfg.Scheme)
	}
	if _, err := ParseFields(cfg.Fields); err != nil {
		return errors.Wrap(err, "invalid partition fields")
	}
	return nil
}

// New returns the scheme described by cfg, or nil when no scheme is
// configured.
func New(cfg Config) (Scheme, error) {
	if cfg.Scheme == SchemeNone || cfg.Scheme == "" {
		return nil, nil
	}

	schema, err := ParseFields(cfg.Fields)
	if err != nil {
		return nil, err
	}

	switch cfg.Scheme {
	case SchemePositional:
		return NewPositional(schema), nil
	case SchemeKeyValue:
		return NewKeyValue(schema), nil
	}
	return nil, fmt.Errorf("unsupported partition scheme %q: %w", cfg.Scheme, dserrors.ErrInvalid)
}

var typesByName = map[string]arrow.DataType{
	"int8":    arrow.PrimitiveTypes.Int8,
	"int16":   arrow.PrimitiveTypes.Int16,
	"int32":   arrow.PrimitiveTypes.Int32,
	"int64":   arrow.PrimitiveTypes.Int64,
	"uint8":   arrow.PrimitiveTypes.Uint8,
	"uint16":  arrow.PrimitiveTypes.Uint16,
	"uint32":  arrow.PrimitiveTypes.Uint32,
	"uint64":  arrow.PrimitiveTypes.Uint64,
	"float32": arrow.PrimitiveTypes.Float32,
	"float64": arrow.PrimitiveTypes.Float64,
	"bool":    arrow.FixedWidthTypes.Boolean,
	"utf8":    arrow.BinaryTypes.String,
	"string":  arrow.BinaryTypes.String,
}

// ParseFields parses "name:type" specs into a schema. A spec without a
// type is a utf8 field.
func ParseFields(specs []string) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))

	for _, spec := range specs {
		name, typeName, hasType := strings.Cut(strings.TrimSpace(spec), ":")
		if name == "" {
			return nil, fmt.Errorf("empty partition field name in %q: %w", spec, dserrors.ErrInvalid)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate partition field %q: %w", name, dserrors.ErrInvalid)
		}
		seen[name] = struct{}{}

		dt := arrow.DataType(arrow.BinaryTypes.String)
		if hasType {
			var ok bool
			if dt, ok = typesByName[strings.ToLower(typeName)]; !ok {
				return nil, fmt.Errorf("unsupported type %q for partition field %q: %w", typeName, name, dserrors.ErrInvalid)
			}
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}
