package plugins

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	pluginIDPattern = regexp.MustCompile(`^[a-z0-9-_.]+(\.[a-z0-9-_.]+)+$`)
	versionPattern  = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// rootPath names the manifest itself in error messages
const rootPath = "<root>"

var requiredStringFields = []string{"id", "name", "version", "description", "author", "main"}

// checker accumulates violations for a single validation pass. A new checker
// is created per call so concurrent validations share nothing.
type checker struct {
	errs []string
	seen map[string]bool

	// configuration property schemas on the current descent, by map identity
	onPath map[uintptr]bool
	nodes  int
}

func newChecker() *checker {
	return &checker{seen: map[string]bool{}, onPath: map[uintptr]bool{}}
}

func (c *checker) addf(fieldPath, format string, args ...any) {
	if fieldPath == "" {
		fieldPath = rootPath
	}
	msg := fieldPath + ": " + fmt.Sprintf(format, args...)
	if c.seen[msg] {
		return
	}
	c.seen[msg] = true
	c.errs = append(c.errs, msg)
}

func (c *checker) result() ValidationResult {
	if len(c.errs) == 0 {
		return ValidationResult{Valid: true, Errors: []string{}}
	}
	return ValidationResult{Valid: false, Errors: c.errs}
}

// ValidateManifest checks a plugin manifest against the manifest schema and
// returns every violation found. input may be raw JSON ([]byte,
// json.RawMessage), an object built in Go (map[string]any, with nested
// values as decoded JSON or as plain Go slices and string-keyed maps) or a
// *Manifest. Malformed content never panics; unparseable JSON is reported as
// a single error.
func ValidateManifest(input any) ValidationResult {
	c := newChecker()

	doc, err := normalizeManifestInput(input)
	if err != nil {
		var parseErr *ManifestParseError
		if errors.As(err, &parseErr) {
			return ValidationResult{Valid: false, Errors: []string{parseErr.Error()}}
		}
		c.addf(rootPath, "%v", err)
		return c.result()
	}

	obj, ok := asObject(doc)
	if !ok {
		c.addf(rootPath, "manifest must be an object")
		return c.result()
	}

	c.checkManifest(obj)
	return c.result()
}

// MustValidateManifest is ValidateManifest for callers that treat a nil
// manifest as a programming error.
func MustValidateManifest(input any) ValidationResult {
	if input == nil {
		panic("plugins: MustValidateManifest called with nil manifest")
	}
	return ValidateManifest(input)
}

func normalizeManifestInput(input any) (any, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeJSON(v)
	case json.RawMessage:
		return decodeJSON(v)
	case *Manifest:
		if v == nil {
			return nil, nil
		}
		return roundTrip(v)
	case Manifest:
		return roundTrip(&v)
	default:
		return input, nil
	}
}

func decodeJSON(data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestParseError{Err: err}
	}
	return doc, nil
}

func roundTrip(m *Manifest) (any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest cannot be encoded: %w", err)
	}
	return decodeJSON(data)
}

// asList accepts decoded JSON arrays and any other Go slice or array such
// as []string. Byte slices are not lists.
func asList(raw any) ([]any, bool) {
	if list, ok := raw.([]any); ok {
		return list, true
	}
	v := reflect.ValueOf(raw)
	if !v.IsValid() {
		return nil, false
	}
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() || v.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
	case reflect.Array:
	default:
		return nil, false
	}
	list := make([]any, v.Len())
	for i := range list {
		list[i] = v.Index(i).Interface()
	}
	return list, true
}

// asObject accepts decoded JSON objects and any other map with string keys
// such as map[string]string.
func asObject(raw any) (map[string]any, bool) {
	if obj, ok := raw.(map[string]any); ok {
		return obj, obj != nil
	}
	v := reflect.ValueOf(raw)
	if !v.IsValid() || v.Kind() != reflect.Map || v.IsNil() || v.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	obj := make(map[string]any, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		obj[iter.Key().String()] = iter.Value().Interface()
	}
	return obj, true
}

func (c *checker) checkManifest(obj map[string]any) {
	for _, field := range requiredStringFields {
		c.requireString(obj, "", field)
	}

	if id, ok := obj["id"].(string); ok && id != "" && !pluginIDPattern.MatchString(id) {
		c.addf("id", "must be a namespaced identifier of lowercase letters, digits, '-', '_' and '.' with at least one dot (e.g. com.example.tool)")
	}
	if version, ok := obj["version"].(string); ok && version != "" && !versionPattern.MatchString(version) {
		c.addf("version", "must be a semantic version MAJOR.MINOR.PATCH, got %q", version)
	}
	if main, ok := obj["main"].(string); ok && main != "" {
		c.checkRelativePath("main", main)
	}

	c.checkEngines(obj)
	c.checkPermissions(obj)

	for _, field := range []string{"license", "homepage", "repository", "icon"} {
		c.optionalString(obj, "", field)
	}

	if raw, ok := obj["contributes"]; ok {
		c.checkContributes(raw)
	}
	if raw, ok := obj["dependencies"]; ok {
		c.checkDependencies(raw)
	}
	if raw, ok := obj["configuration"]; ok {
		c.checkConfiguration(raw)
	}
	if raw, ok := obj["marketplace"]; ok {
		c.checkMarketplace(raw)
	}
	if raw, ok := obj["activationEvents"]; ok {
		c.checkActivationEvents(raw)
	}
}

func (c *checker) checkEngines(obj map[string]any) {
	raw, ok := obj["engines"]
	if !ok {
		c.addf("engines.cadcam", "is required")
		return
	}
	engines, ok := asObject(raw)
	if !ok {
		c.addf("engines", "must be an object")
		return
	}
	if r, ok := c.requireString(engines, "engines", "cadcam"); ok {
		if err := ValidateVersionRange(r); err != nil {
			c.addf("engines.cadcam", "must be a semver range: %v", err)
		}
	}
}

func (c *checker) checkPermissions(obj map[string]any) {
	raw, ok := obj["permissions"]
	if !ok {
		c.addf("permissions", "is required")
		return
	}
	list, ok := asList(raw)
	if !ok {
		c.addf("permissions", "must be an array")
		return
	}
	granted := map[string]bool{}
	for i, item := range list {
		p := indexPath("permissions", i)
		s, ok := item.(string)
		if !ok {
			c.addf(p, "must be a string")
			continue
		}
		if !Permission(s).IsKnown() {
			c.addf(p, "unknown permission %q", s)
			continue
		}
		if granted[s] {
			c.addf(p, "duplicate permission %q", s)
		}
		granted[s] = true
	}
}

func (c *checker) checkDependencies(raw any) {
	deps, ok := asObject(raw)
	if !ok {
		c.addf("dependencies", "must be an object")
		return
	}
	for _, id := range sortedKeys(deps) {
		p := "dependencies." + id
		if !pluginIDPattern.MatchString(id) {
			c.addf(p, "dependency key must be a namespaced plugin identifier")
		}
		r, ok := deps[id].(string)
		if !ok {
			c.addf(p, "must be a string")
			continue
		}
		if err := ValidateVersionRange(r); err != nil {
			c.addf(p, "must be a semver range: %v", err)
		}
	}
}

func (c *checker) checkMarketplace(raw any) {
	mp, ok := asObject(raw)
	if !ok {
		c.addf("marketplace", "must be an object")
		return
	}
	if cats, ok := c.optionalStringArray(mp, "marketplace", "categories"); ok {
		for i, cat := range cats {
			if cat.ok && !contains(Categories, cat.value) {
				c.addf(indexPath("marketplace.categories", i), "unknown category %q", cat.value)
			}
		}
	}
	c.optionalStringArray(mp, "marketplace", "tags")
	c.optionalStringArray(mp, "marketplace", "screenshots")
	if pricing, ok := c.optionalString(mp, "marketplace", "pricing"); ok && !contains(pricingModels, pricing) {
		c.addf("marketplace.pricing", "must be one of %s", strings.Join(pricingModels, ", "))
	}
}

func (c *checker) checkActivationEvents(raw any) {
	list, ok := asList(raw)
	if !ok {
		c.addf("activationEvents", "must be an array")
		return
	}
	for i, item := range list {
		p := indexPath("activationEvents", i)
		s, ok := item.(string)
		if !ok {
			c.addf(p, "must be a string")
			continue
		}
		if !IsValidActivationEvent(s) {
			c.addf(p, "unknown activation event %q", s)
		}
	}
}

// checkRelativePath rejects absolute paths and paths that escape the package root
func (c *checker) checkRelativePath(fieldPath, value string) {
	if strings.HasPrefix(value, "/") || strings.HasPrefix(value, `\`) || (len(value) > 1 && value[1] == ':') {
		c.addf(fieldPath, "must be a relative path")
		return
	}
	cleaned := path.Clean(strings.ReplaceAll(value, `\`, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		c.addf(fieldPath, "must not escape the package root")
	}
}

// requireString reports a missing, mistyped or empty field and returns the value when usable
func (c *checker) requireString(obj map[string]any, parent, field string) (string, bool) {
	p := joinPath(parent, field)
	raw, ok := obj[field]
	if !ok {
		c.addf(p, "is required")
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		c.addf(p, "must be a string")
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		c.addf(p, "must not be empty")
		return "", false
	}
	return s, true
}

func (c *checker) optionalString(obj map[string]any, parent, field string) (string, bool) {
	raw, ok := obj[field]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		c.addf(joinPath(parent, field), "must be a string")
		return "", false
	}
	return s, true
}

type stringItem struct {
	value string
	ok    bool
}

func (c *checker) optionalStringArray(obj map[string]any, parent, field string) ([]stringItem, bool) {
	raw, ok := obj[field]
	if !ok {
		return nil, false
	}
	p := joinPath(parent, field)
	list, ok := asList(raw)
	if !ok {
		c.addf(p, "must be an array")
		return nil, false
	}
	items := make([]stringItem, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			c.addf(indexPath(p, i), "must be a string")
			continue
		}
		items[i] = stringItem{value: s, ok: true}
	}
	return items, true
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

func indexPath(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}
