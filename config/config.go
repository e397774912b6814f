// Package config holds the core's own ambient knobs — where the
// .socket/ directory lives, GC and fetch concurrency defaults, offline
// mode, log level — separate from the explicit per-call parameters
// (PURLs, package roots, manifest paths) that stay as real call-site
// arguments rather than implicit globals.
//
// A struct tree decoded from YAML, then selectively overridden by
// environment variables named after the field's path, joined with
// underscores and upper-cased (SOCKET_PATCH_FETCHER_MAXCONCURRENCY etc).
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the core's ambient configuration.
type Config struct {
	// Root is the project-relative path owning the manifest and blob
	// store, ".socket" by default.
	Root string `yaml:"root"`

	// LogLevel is one of logrus's level names ("debug", "info", "warn",
	// "error").
	LogLevel string `yaml:"logLevel"`

	// Offline disables on-demand blob fetches; missing blobs become
	// BlobMissing failures instead.
	Offline bool `yaml:"offline"`

	GC      GC      `yaml:"gc"`
	Fetcher Fetcher `yaml:"fetcher"`
}

// GC holds blob-garbage-collector defaults.
type GC struct {
	DryRun bool `yaml:"dryRun"`
}

// Fetcher holds the bounded-concurrency knob for missing-blob
// reconciliation.
type Fetcher struct {
	MaxConcurrency int `yaml:"maxConcurrency"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Root:     ".socket",
		LogLevel: "info",
		Offline:  false,
		GC:       GC{DryRun: false},
		Fetcher:  Fetcher{MaxConcurrency: 10},
	}
}

const envPrefix = "SOCKET_PATCH"

// Load reads path as YAML into Default(), then applies any
// SOCKET_PATCH_... environment overrides. A missing file is not an
// error: Load falls back to Default() plus env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, uerr)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, envPrefix); err != nil {
		return Config{}, fmt.Errorf("config: environment override: %w", err)
	}
	return cfg, nil
}

// applyEnv walks v's exported fields, looking up "<prefix>_<FIELD>" for
// each, recursing into nested structs with an extended prefix.
func applyEnv(v any, prefix string) error {
	rv := reflect.ValueOf(v).Elem()
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		fieldPrefix := strings.ToUpper(prefix + "_" + field.Name)

		if fv.Kind() == reflect.Struct {
			if err := applyEnv(fv.Addr().Interface(), fieldPrefix); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(fieldPrefix)
		if !ok {
			continue
		}

		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", fieldPrefix, err)
			}
			fv.SetBool(b)
		case reflect.Int:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", fieldPrefix, err)
			}
			fv.SetInt(n)
		default:
			return fmt.Errorf("%s: unsupported config field kind %s", fieldPrefix, fv.Kind())
		}
	}
	return nil
}
