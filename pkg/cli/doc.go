// Package cli implements the cadplug command line:
//
//	cadplug build [dir] [--production] [--watch]
//	cadplug package [dir] [-o file]
//	cadplug validate <dir|archive> [--json]
//	cadplug lint-manifest <plugin.json> [--json]
//
// Every command exits non-zero when it fails or finds a problem.
package cli
