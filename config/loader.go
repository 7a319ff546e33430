package config

import (
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts the file lookups of the loader so tests can fake them.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem reads the local disk.
type RealFileSystem struct{}

// Exists reports whether path can be stat'ed.
func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadEnv loads path into the process environment without overriding
// variables that are already set.
func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver finds the config.yml and .env files of a binary.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles are the files LoadConfig reads. Empty means none found.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// searchDirs lists where a binary's files may live, nearest first. The
// relative parents cover tests running inside cmd/<service>.
func searchDirs(service string) []string {
	bases := []string{".", "..", "../.."}
	var dirs []string
	for _, sub := range []string{"cmd/" + service, "config/" + service, "config", ""} {
		for _, base := range bases {
			dirs = append(dirs, path.Join(base, sub))
		}
	}
	return dirs
}

// ResolveFiles returns explicit paths from opts and searches for the rest.
func (r *Resolver) ResolveFiles(service string, opts LoaderConfig) ResolvedFiles {
	files := ResolvedFiles{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile}
	dirs := searchDirs(service)
	if files.ConfigFile == "" {
		files.ConfigFile = r.first(dirs, "config.yml")
	}
	if files.EnvFile == "" {
		files.EnvFile = r.first(dirs, ".env."+service, ".env")
	}
	return files
}

// first returns the first existing name, trying every directory for a
// name before moving to the next name.
func (r *Resolver) first(dirs []string, names ...string) string {
	for _, name := range names {
		for _, dir := range dirs {
			p := path.Join(dir, name)
			if dir == "." {
				p = "./" + name
			} else if !strings.HasPrefix(p, ".") {
				p = "./" + p
			}
			if r.FileSystem.Exists(p) {
				return p
			}
		}
	}
	return ""
}

// LoaderConfig holds the loader's dependencies and overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	// ConfigFile and EnvFile skip the search when set.
	ConfigFile string
	EnvFile    string
	// EnvPrefix restricts overrides to PREFIX_<KEY> variables.
	EnvPrefix string
}

// LoaderOption configures LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem replaces the disk, mainly for tests.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix restricts environment overrides to PREFIX_<KEY>.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = strings.ToUpper(strings.TrimSuffix(prefix, "_")) }
}

// LoadConfig fills cfg, a pointer to a struct with mapstructure tags, from
// the service's config.yml, then its .env file and the environment. Every
// leaf key of cfg can be overridden by the upper-cased key with dots
// replaced by underscores.
func LoadConfig(service string, cfg any, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: RealFileSystem{}}
	for _, opt := range opts {
		opt(&lc)
	}

	files := (&Resolver{FileSystem: lc.FileSystem}).ResolveFiles(service, lc)
	v := viper.New()

	// A config file that exists but does not parse is fatal; a missing one
	// leaves defaults to ApplyDefaults.
	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", files.ConfigFile, err)
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", files.EnvFile, err)
		}
	}

	for key, env := range EnvBindings(cfg, lc.EnvPrefix) {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config for %s: %w", service, err)
	}
	return nil
}

// EnvBindings maps every leaf key of cfg to its environment variable:
//
//	registry.lease.eviction_factor -> REGISTRY_LEASE_EVICTION_FACTOR
//
// Squashed embedded structs contribute their keys at the parent level. Maps
// are not bound since their keys are not known up front.
func EnvBindings(cfg any, prefix string) map[string]string {
	out := make(map[string]string)
	t := reflect.TypeOf(cfg)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return out
	}
	collectKeys(t, "", func(key string) {
		env := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if prefix != "" {
			env = prefix + "_" + env
		}
		out[key] = env
	})
	return out
}

func collectKeys(t reflect.Type, parent string, emit func(string)) {
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, squash := fieldKey(f)
		if name == "-" {
			continue
		}

		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if squash && ft.Kind() == reflect.Struct {
			collectKeys(ft, parent, emit)
			continue
		}
		key := name
		if parent != "" {
			key = parent + "." + name
		}

		switch {
		case ft.Kind() == reflect.Map:
		case ft.Kind() == reflect.Struct && ft.PkgPath() != "time":
			collectKeys(ft, key, emit)
		default:
			emit(key)
		}
	}
}

// fieldKey returns the mapstructure name of f, defaulting to the lower-cased
// field name, and whether the field is squashed.
func fieldKey(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("mapstructure")
	name, opts, _ := strings.Cut(tag, ",")
	squash := strings.Contains(opts, "squash")
	if name == "" {
		name = strings.ToLower(f.Name)
	}
	return name, squash
}
