package plugins

import "strings"

// Permissions recognized by the host
const (
	PermissionModelRead          Permission = "model:read"
	PermissionModelWrite         Permission = "model:write"
	PermissionModelExport        Permission = "model:export"
	PermissionUISidebar          Permission = "ui:sidebar"
	PermissionUIToolbar          Permission = "ui:toolbar"
	PermissionUIDialog           Permission = "ui:dialog"
	PermissionUINotifications    Permission = "ui:notifications"
	PermissionUIStatusBar        Permission = "ui:statusBar"
	PermissionUIContextMenu      Permission = "ui:contextMenu"
	PermissionStorageLocal       Permission = "storage:local"
	PermissionStorageCloud       Permission = "storage:cloud"
	PermissionNetworkFetch       Permission = "network:fetch"
	PermissionNetworkCrossOrigin Permission = "network:crossOrigin"
	PermissionFileRead           Permission = "file:read"
	PermissionFileWrite          Permission = "file:write"
	PermissionFileDialog         Permission = "file:dialog"
	PermissionCAMRead            Permission = "cam:read"
	PermissionCAMWrite           Permission = "cam:write"
	PermissionCAMSimulate        Permission = "cam:simulate"
	PermissionClipboardRead      Permission = "clipboard:read"
	PermissionClipboardWrite     Permission = "clipboard:write"
	PermissionProcessSpawn       Permission = "process:spawn"
)

// AllPermissions lists every permission in declaration order
var AllPermissions = []Permission{
	PermissionModelRead, PermissionModelWrite, PermissionModelExport,
	PermissionUISidebar, PermissionUIToolbar, PermissionUIDialog,
	PermissionUINotifications, PermissionUIStatusBar, PermissionUIContextMenu,
	PermissionStorageLocal, PermissionStorageCloud,
	PermissionNetworkFetch, PermissionNetworkCrossOrigin,
	PermissionFileRead, PermissionFileWrite, PermissionFileDialog,
	PermissionCAMRead, PermissionCAMWrite, PermissionCAMSimulate,
	PermissionClipboardRead, PermissionClipboardWrite,
	PermissionProcessSpawn,
}

var knownPermissions = func() map[Permission]bool {
	m := make(map[Permission]bool, len(AllPermissions))
	for _, p := range AllPermissions {
		m[p] = true
	}
	return m
}()

// IsKnown reports whether the host recognizes the permission
func (p Permission) IsKnown() bool {
	return knownPermissions[p]
}

// Marketplace categories
var Categories = []string{
	"modeling",
	"cam",
	"simulation",
	"analysis",
	"import-export",
	"visualization",
	"utilities",
	"productivity",
	"education",
	"other",
}

// MenuLocations are the menus a plugin may add items to
var MenuLocations = []string{"file", "edit", "view", "tools", "help", "context"}

// ConfigTypes are the value types a configuration property may declare
var ConfigTypes = []string{"string", "number", "integer", "boolean", "array", "object"}

var (
	statusBarAlignments = []string{"left", "right"}
	viewLocations       = []string{"sidebar", "panel", "dialog"}
	pricingModels       = []string{"free", "paid", "freemium", "subscription"}
)

// Activation event forms. Exact events stand alone; prefixed events carry a
// non-empty argument after the colon.
var (
	exactActivationEvents    = []string{"*", "onStartup", "onModelLoad"}
	prefixedActivationEvents = []string{"onCommand:", "onView:", "onFileOpen:", "onLanguage:", "onSelection:", "onCAMOperation:"}
)

// IsValidActivationEvent reports whether event is a recognized activation event
func IsValidActivationEvent(event string) bool {
	for _, exact := range exactActivationEvents {
		if event == exact {
			return true
		}
	}
	for _, prefix := range prefixedActivationEvents {
		if strings.HasPrefix(event, prefix) && len(event) > len(prefix) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
