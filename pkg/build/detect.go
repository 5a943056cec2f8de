package build

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ProjectDescriptorFile is the Node.js project descriptor
const ProjectDescriptorFile = "package.json"

var webpackConfigs = []string{
	"webpack.config.js",
	"webpack.config.ts",
	"webpack.config.mjs",
	"webpack.config.cjs",
}

// ProjectDescriptor is the subset of package.json the orchestrator reads
type ProjectDescriptor struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Scripts map[string]string `json:"scripts"`
}

// HasScript reports whether the descriptor declares a non-empty script
func (d *ProjectDescriptor) HasScript(name string) bool {
	if d == nil {
		return false
	}
	return d.Scripts[name] != ""
}

// ReadProjectDescriptor loads package.json from projectDir. A missing file
// returns (nil, nil).
func ReadProjectDescriptor(projectDir string) (*ProjectDescriptor, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, ProjectDescriptorFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ProjectDescriptorFile, err)
	}

	var desc ProjectDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ProjectDescriptorFile, err)
	}
	return &desc, nil
}

// DetectStrategy picks the build toolchain for a project. The first match
// wins: a webpack config, a build script, a tsconfig.json, then plain copy.
func DetectStrategy(projectDir string, desc *ProjectDescriptor) StrategyKind {
	for _, name := range webpackConfigs {
		if fileExists(filepath.Join(projectDir, name)) {
			return StrategyWebpack
		}
	}
	if desc.HasScript("build") {
		return StrategyScript
	}
	if fileExists(filepath.Join(projectDir, "tsconfig.json")) {
		return StrategyTypeScript
	}
	return StrategyCopy
}

// DetectPackageManager picks the package manager from the lock file present
func DetectPackageManager(projectDir string) PackageManager {
	switch {
	case fileExists(filepath.Join(projectDir, "yarn.lock")):
		return PackageManagerYarn
	case fileExists(filepath.Join(projectDir, "pnpm-lock.yaml")):
		return PackageManagerPNPM
	default:
		return PackageManagerNPM
	}
}

// Strategy is a detected toolchain bound to a project
type Strategy struct {
	Kind           StrategyKind
	PackageManager PackageManager
	Descriptor     *ProjectDescriptor
}

// RequiresDescriptor reports whether the strategy runs a Node.js toolchain
// and therefore needs package.json
func (s Strategy) RequiresDescriptor() bool {
	return s.Kind != StrategyCopy
}

// Command returns the process to run for opts, or nil for the copy strategy
func (s Strategy) Command(opts Options) *Command {
	pm := s.PackageManager
	switch s.Kind {
	case StrategyWebpack:
		mode := "development"
		if opts.Production {
			mode = "production"
		}
		args := pm.Exec("webpack", "--mode", mode)
		if opts.Watch {
			args = append(args, "--watch")
		}
		return &Command{Args: args}

	case StrategyScript:
		if !opts.Watch {
			return &Command{Args: pm.RunScript("build")}
		}
		switch {
		case s.Descriptor.HasScript("dev"):
			return &Command{Args: pm.RunScript("dev")}
		case s.Descriptor.HasScript("watch"):
			return &Command{Args: pm.RunScript("watch")}
		default:
			return &Command{Args: pm.RunScript("build", "--watch")}
		}

	case StrategyTypeScript:
		args := pm.Exec("tsc", "-p", "tsconfig.json")
		if opts.Watch {
			args = append(args, "--watch")
		}
		return &Command{Args: args}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
