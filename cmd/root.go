// Package cmd implements the slipway CLI commands.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/initializ/slipway/config"
	"github.com/initializ/slipway/container"
	"github.com/initializ/slipway/logging"
	"github.com/initializ/slipway/validate"
)

var (
	cfgFile       string
	verbose       bool
	plain         bool
	engineName    string
	themeOverride string

	appVersion = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Slipway — build, test, and roll out compose services from git",
	Long: "Slipway watches a git repository and, on demand or on push, checks out a revision,\n" +
		"builds and tests its container images, and swaps the running docker compose\n" +
		"services over to the new generation.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "slipway.yaml", "manifest file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable the interactive progress view")
	rootCmd.PersistentFlags().StringVar(&engineName, "engine", "", "container engine: docker or podman (default: auto-detect)")
	rootCmd.PersistentFlags().StringVar(&themeOverride, "theme", "", "progress view color theme: dark or light")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(initCmd)
}

// SetVersionInfo sets the version and commit for display.
func SetVersionInfo(version, commit string) {
	appVersion = version
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("slipway %s (commit: %s)\n", version, commit))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath makes the --config flag absolute against the working
// directory.
func resolveConfigPath() (string, error) {
	cfgPath := cfgFile
	if !filepath.IsAbs(cfgPath) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting working directory: %w", err)
		}
		cfgPath = filepath.Join(wd, cfgPath)
	}
	return cfgPath, nil
}

// loadValidManifest loads the manifest, anchors its relative paths against
// the manifest directory, and fails on validation errors the same way every
// pipeline-facing command does.
func loadValidManifest(cfgPath string) (*config.Manifest, error) {
	m, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	result := validate.ValidateManifest(m)
	if !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", e)
		}
		return nil, fmt.Errorf("config validation failed: %d error(s)", len(result.Errors))
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
	}

	anchorManifestPaths(m, filepath.Dir(cfgPath))
	return m, nil
}

// anchorManifestPaths resolves relative manifest paths against the manifest
// directory so commands behave the same from any working directory.
func anchorManifestPaths(m *config.Manifest, dir string) {
	if !filepath.IsAbs(m.Source.WorkDir) {
		m.Source.WorkDir = filepath.Join(dir, m.Source.WorkDir)
	}
	if !filepath.IsAbs(m.Store.Path) {
		m.Store.Path = filepath.Join(dir, m.Store.Path)
	}
	if !filepath.IsAbs(m.ComposeFile) {
		m.ComposeFile = filepath.Join(dir, m.ComposeFile)
	}
	for name, env := range m.Environments {
		if env.ComposeFile != "" && !filepath.IsAbs(env.ComposeFile) {
			env.ComposeFile = filepath.Join(dir, env.ComposeFile)
			m.Environments[name] = env
		}
	}
}

// resolveEngine honors --engine or auto-detects docker then podman.
func resolveEngine() (container.Engine, error) {
	if engineName != "" {
		eng, err := container.Get(engineName)
		if err != nil {
			return nil, err
		}
		if !eng.Available() {
			return nil, fmt.Errorf("container engine %q is not available on this host", engineName)
		}
		return eng, nil
	}
	eng := container.Detect()
	if eng == nil {
		return nil, fmt.Errorf("no container engine found: install docker or podman, or select one with --engine")
	}
	return eng, nil
}

func newLogger() logging.Logger {
	return logging.NewJSONLogger(os.Stderr, verbose)
}

// userPrefs loads ~/.config/slipway/config.toml and folds it into the flag
// values that were not set explicitly.
func userPrefs() config.UserConfig {
	prefs, err := config.LoadUserConfig(config.DefaultUserConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: ignoring user config: %v\n", err)
		return config.UserConfig{}
	}
	if prefs.Plain {
		plain = true
	}
	if themeOverride == "" {
		themeOverride = prefs.Theme
	}
	return prefs
}
