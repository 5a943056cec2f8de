package build

import (
	"strings"
	"time"
)

// DistDir is the build output directory, relative to the project root
const DistDir = "dist"

// Options controls a single build invocation
type Options struct {
	Production bool // minified production bundle instead of a development build
	Watch      bool // keep the toolchain running and rebuild on change
}

// StrategyKind names the toolchain a project is built with
type StrategyKind string

const (
	StrategyWebpack    StrategyKind = "webpack"
	StrategyScript     StrategyKind = "script"
	StrategyTypeScript StrategyKind = "typescript"
	StrategyCopy       StrategyKind = "copy"
)

// PackageManager is the Node.js package manager used to invoke toolchains
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
)

// RunScript returns the argv that runs a package.json script. extra is
// forwarded to the script itself.
func (pm PackageManager) RunScript(script string, extra ...string) []string {
	args := []string{string(pm), "run", script}
	if len(extra) == 0 {
		return args
	}
	if pm == PackageManagerNPM {
		args = append(args, "--")
	}
	return append(args, extra...)
}

// Exec returns the argv that runs a locally installed binary
func (pm PackageManager) Exec(bin string, args ...string) []string {
	var argv []string
	switch pm {
	case PackageManagerYarn:
		argv = []string{"yarn", bin}
	case PackageManagerPNPM:
		argv = []string{"pnpm", "exec", bin}
	default:
		argv = []string{"npx", "--no-install", bin}
	}
	return append(argv, args...)
}

// Command is one external process invocation
type Command struct {
	Args []string
	Dir  string
	Env  []string // extra KEY=VALUE pairs
}

func (c *Command) String() string {
	return strings.Join(c.Args, " ")
}

// Outcome describes a finished build, or a started one in watch mode
type Outcome struct {
	ID             string         `json:"id"`
	Strategy       StrategyKind   `json:"strategy"`
	PackageManager PackageManager `json:"package_manager"`
	Command        []string       `json:"command,omitempty"`
	OutputDir      string         `json:"output_dir"`
	Warnings       []error        `json:"-"`
	Watching       bool           `json:"watching"`
	Duration       time.Duration  `json:"duration"`

	// Session controls the toolchain process while Watching
	Session *Session `json:"-"`
}
