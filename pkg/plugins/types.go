package plugins

// ManifestFileName is the plugin descriptor file at the project root and at
// the root of every package archive.
const ManifestFileName = "plugin.json"

// Manifest describes a CAD/CAM host plugin (plugin.json)
type Manifest struct {
	ID               string            `json:"id"`          // Namespaced ID (e.g., "com.example.toolpath")
	Name             string            `json:"name"`        // Display name
	Version          string            `json:"version"`     // Strict MAJOR.MINOR.PATCH
	Description      string            `json:"description"` // Short description
	Author           string            `json:"author"`      // Author name
	License          string            `json:"license,omitempty"`
	Homepage         string            `json:"homepage,omitempty"`
	Repository       string            `json:"repository,omitempty"`
	Icon             string            `json:"icon,omitempty"`
	Main             string            `json:"main"` // Entry point, relative to the build output
	Engines          Engines           `json:"engines"`
	Permissions      []Permission      `json:"permissions"`
	Contributes      *Contributes      `json:"contributes,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"` // plugin ID -> semver range
	Configuration    *Configuration    `json:"configuration,omitempty"`
	Marketplace      *Marketplace      `json:"marketplace,omitempty"`
	ActivationEvents []string          `json:"activationEvents,omitempty"`
}

// Engines declares the host versions a plugin supports
type Engines struct {
	CADCAM string `json:"cadcam"` // semver range
}

// Permission is a host capability a plugin asks to be granted
type Permission string

// Contributes lists the extension points a plugin wires into
type Contributes struct {
	Sidebar      *SidebarContribution             `json:"sidebar,omitempty"`
	Commands     []CommandContribution            `json:"commands,omitempty"`
	Menus        map[string][]MenuItemContribution `json:"menus,omitempty"`
	Keybindings  []KeybindingContribution         `json:"keybindings,omitempty"`
	Toolbar      []ToolbarContribution            `json:"toolbar,omitempty"`
	StatusBar    []StatusBarContribution          `json:"statusBar,omitempty"`
	Views        []ViewContribution               `json:"views,omitempty"`
	FileHandlers []FileHandlerContribution        `json:"fileHandlers,omitempty"`
}

type SidebarContribution struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Icon     string `json:"icon,omitempty"`
	Entry    string `json:"entry"`
	Position string `json:"position,omitempty"`
}

type CommandContribution struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

type MenuItemContribution struct {
	Command string `json:"command"`
	Group   string `json:"group,omitempty"`
	When    string `json:"when,omitempty"`
}

type KeybindingContribution struct {
	Command string `json:"command"`
	Key     string `json:"key"`
	Mac     string `json:"mac,omitempty"`
	When    string `json:"when,omitempty"`
}

type ToolbarContribution struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Title   string `json:"title,omitempty"`
	Icon    string `json:"icon,omitempty"`
	Group   string `json:"group,omitempty"`
}

type StatusBarContribution struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Tooltip   string `json:"tooltip,omitempty"`
	Command   string `json:"command,omitempty"`
	Alignment string `json:"alignment,omitempty"`
	Priority  *int   `json:"priority,omitempty"`
}

type ViewContribution struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Entry    string `json:"entry"`
	Location string `json:"location,omitempty"`
}

type FileHandlerContribution struct {
	ID          string   `json:"id"`
	Extensions  []string `json:"extensions"`
	Entry       string   `json:"entry"`
	Description string   `json:"description,omitempty"`
}

// Configuration is the user-settable settings schema of a plugin
type Configuration struct {
	Title      string                     `json:"title,omitempty"`
	Properties map[string]*ConfigProperty `json:"properties"`
}

// ConfigProperty is one setting. Array items and object properties nest
// the same shape to any depth.
type ConfigProperty struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description,omitempty"`
	Default     any                        `json:"default,omitempty"`
	Enum        []any                      `json:"enum,omitempty"`
	Minimum     *float64                   `json:"minimum,omitempty"`
	Maximum     *float64                   `json:"maximum,omitempty"`
	Items       *ConfigProperty            `json:"items,omitempty"`
	Properties  map[string]*ConfigProperty `json:"properties,omitempty"`
}

// Marketplace holds listing metadata
type Marketplace struct {
	Categories  []string `json:"categories,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Screenshots []string `json:"screenshots,omitempty"`
	Pricing     string   `json:"pricing,omitempty"`
}

// EntryPoints returns every file the manifest expects to ship, keyed by the
// manifest field that declares it.
func (m *Manifest) EntryPoints() map[string]string {
	entries := map[string]string{}
	if m.Main != "" {
		entries["main"] = m.Main
	}
	if m.Contributes == nil {
		return entries
	}
	if m.Contributes.Sidebar != nil && m.Contributes.Sidebar.Entry != "" {
		entries["contributes.sidebar.entry"] = m.Contributes.Sidebar.Entry
	}
	for i, view := range m.Contributes.Views {
		if view.Entry != "" {
			entries[indexPath("contributes.views", i)+".entry"] = view.Entry
		}
	}
	for i, handler := range m.Contributes.FileHandlers {
		if handler.Entry != "" {
			entries[indexPath("contributes.fileHandlers", i)+".entry"] = handler.Entry
		}
	}
	return entries
}

// ValidationResult is the outcome of manifest schema validation. Each error
// reads "<dot.separated.path>: <message>".
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}
