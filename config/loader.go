package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem abstracts file lookups so resolution can be tested.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
}

// RealFileSystem implements FileSystem using actual file operations.
type RealFileSystem struct{}

func (rfs *RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (rfs *RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

// Resolver finds the config, overlay and env files for a service.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved file paths. Empty means not found.
type ResolvedFiles struct {
	ConfigFile  string
	OverlayFile string
	EnvFile     string
}

// ResolveFiles returns explicit paths if provided, otherwise searches for them.
func (r *Resolver) ResolveFiles(serviceName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{
		ConfigFile: opts.ConfigFile,
		EnvFile:    opts.EnvFile,
	}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = r.firstExisting(configSearchPaths(serviceName, "config.yml"))
	}
	if resolved.ConfigFile != "" && opts.Environment != "" {
		overlay := overlayPath(resolved.ConfigFile, opts.Environment)
		if r.FileSystem.Exists(overlay) {
			resolved.OverlayFile = overlay
		}
	}
	if resolved.EnvFile == "" {
		candidates := configSearchPaths(serviceName, fmt.Sprintf(".env.%s", serviceName))
		candidates = append(candidates, configSearchPaths(serviceName, ".env")...)
		resolved.EnvFile = r.firstExisting(candidates)
	}
	return resolved
}

func (r *Resolver) firstExisting(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

func configSearchPaths(serviceName, fileName string) []string {
	return []string{
		fmt.Sprintf("./cmd/%s/%s", serviceName, fileName),
		fmt.Sprintf("../cmd/%s/%s", serviceName, fileName),
		fmt.Sprintf("./config/%s", fileName),
		fmt.Sprintf("./%s", fileName),
	}
}

// overlayPath maps config.yml to config.<env>.yml in the same directory.
func overlayPath(configFile, environment string) string {
	ext := filepath.Ext(configFile)
	base := strings.TrimSuffix(configFile, ext)
	return fmt.Sprintf("%s.%s%s", base, environment, ext)
}

// LoaderConfig holds dependencies and optional overrides.
type LoaderConfig struct {
	FileSystem  FileSystem
	ConfigFile  string // explicit config file path
	EnvFile     string // explicit env file path
	Environment string // selects the config.<env>.yml overlay
	EnvPrefix   string // only variables starting with PREFIX_ are bound
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
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

// WithEnvironment selects the environment overlay file.
func WithEnvironment(env string) LoaderOption {
	return func(lc *LoaderConfig) { lc.Environment = env }
}

// WithEnvPrefix restricts environment binding to variables carrying prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = strings.ToUpper(strings.TrimSuffix(prefix, "_")) }
}

// LoadConfig loads configuration for a service into cfg.
// A missing config file is not an error; an unreadable one is.
func LoadConfig(serviceName string, cfg interface{}, opts ...LoaderOption) error {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.FileSystem == nil {
		lc.FileSystem = &RealFileSystem{}
	}
	if lc.Environment == "" {
		lc.Environment = os.Getenv("ENVIRONMENT")
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(serviceName, lc)

	v := viper.New()

	if files.ConfigFile != "" && lc.FileSystem.Exists(files.ConfigFile) {
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", files.ConfigFile, err)
		}
	}
	if files.OverlayFile != "" {
		v.SetConfigFile(files.OverlayFile)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("merge config overlay %s: %w", files.OverlayFile, err)
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("load env file %s: %w", files.EnvFile, err)
		}
	}
	bindEnvVars(v, lc.EnvPrefix)

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config for service %s: %w", serviceName, err)
	}
	return nil
}

// bindEnvVars sets every matching environment variable under each nested
// key spelling it could stand for.
func bindEnvVars(v *viper.Viper, prefix string) {
	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"_") {
				continue
			}
			key = strings.TrimPrefix(key, prefix+"_")
		}
		for _, variant := range envKeyVariants(key) {
			v.Set(variant, value)
		}
	}
}

// envKeyVariants expands an environment key into candidate viper keys:
//
//	SERVER_ADMIN_PREFIX -> [server_admin_prefix, server.admin.prefix, server.admin_prefix]
//	INSTANCE_CACHE_REFRESH_INTERVAL -> [..., instance_cache.refresh_interval, ...]
func envKeyVariants(envKey string) []string {
	lowerKey := strings.ToLower(envKey)
	parts := strings.Split(lowerKey, "_")
	if len(parts) <= 1 {
		return []string{lowerKey}
	}

	variants := []string{lowerKey, strings.ReplaceAll(lowerKey, "_", ".")}
	// One dot at every split point: section.rest_of_key and section_part.rest.
	for i := 1; i < len(parts); i++ {
		variants = append(variants,
			strings.Join(parts[:i], "_")+"."+strings.Join(parts[i:], "_"),
			strings.Join(parts[:i], ".")+"."+strings.Join(parts[i:], "_"),
		)
	}
	return dedupe(variants)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			result = append(result, item)
		}
	}
	return result
}
