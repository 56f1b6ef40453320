// Package cfg loads configuration structs from flag defaults, a YAML file
// and the command line, in that order.
package cfg

import (
	"flag"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/drone/envsubst"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Source is a generic configuration source. It is passed a pointer to the
// destination, which may already hold values from previous sources.
type Source func(dst Cloneable) error

// Cloneable is a configuration struct that registers its flags and can
// produce a fresh copy of itself.
type Cloneable interface {
	flagext.Registerer
	Clone() flagext.Registerer
}

// Unmarshal applies sources to dst in order.
func Unmarshal(dst Cloneable, sources ...Source) error {
	if len(sources) == 0 {
		panic("no sources supplied to cfg.Unmarshal")
	}
	if v := reflect.ValueOf(dst); v.Kind() != reflect.Ptr {
		panic("dst not a pointer")
	}
	for _, source := range sources {
		if err := source(dst); err != nil {
			return errors.Wrap(err, "sourcing")
		}
	}
	return nil
}

// Parse loads dst from the flag defaults, the YAML file named by the
// -config.file flag and the flags of args.
func Parse(dst Cloneable, args []string, fs *flag.FlagSet) error {
	return Unmarshal(dst,
		Defaults(fs),
		ConfigFileLoader(args, "config.file", true),
		Flags(args, fs),
	)
}

// Defaults registers the flags of dst on fs, setting every field to its
// flag default.
func Defaults(fs *flag.FlagSet) Source {
	return func(dst Cloneable) error {
		dst.RegisterFlags(fs)
		return nil
	}
}

// Flags parses args on fs. The flags must have been registered by
// [Defaults]; only flags present in args override earlier sources.
func Flags(args []string, fs *flag.FlagSet) Source {
	return func(Cloneable) error {
		return fs.Parse(args)
	}
}

// ConfigFileLoader loads the YAML file named by the flag name of args, if
// any. Flags are parsed on a clone so dst is left untouched by the lookup.
func ConfigFileLoader(args []string, name string, strict bool) Source {
	return func(dst Cloneable) error {
		fresh := flag.NewFlagSet("config-file-loader", flag.ContinueOnError)
		fresh.SetOutput(io.Discard)
		dst.Clone().RegisterFlags(fresh)

		if err := fresh.Parse(args); err != nil {
			return err
		}
		f := fresh.Lookup(name)
		if f == nil || f.Value.String() == "" {
			return nil
		}
		return YAML(f.Value.String(), true, strict)(dst)
	}
}

// YAML loads the file at path into dst. When expandEnv is set, ${VAR}
// references are replaced by environment variables first.
func YAML(path string, expandEnv, strict bool) Source {
	return func(dst Cloneable) error {
		buf, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "reading config file")
		}
		if expandEnv {
			s, err := envsubst.EvalEnv(string(buf))
			if err != nil {
				return fmt.Errorf("expanding env vars in %s: %w", path, err)
			}
			buf = []byte(s)
		}
		return dYAML(buf, strict)(dst)
	}
}

func dYAML(buf []byte, strict bool) Source {
	return func(dst Cloneable) error {
		if strict {
			return yaml.UnmarshalStrict(buf, dst)
		}
		return yaml.Unmarshal(buf, dst)
	}
}
