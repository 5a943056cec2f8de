package plugins

import (
	"reflect"
	"sort"
	"strings"
)

// MaxConfigDepth bounds how deeply configuration properties may nest through
// items and properties.
const MaxConfigDepth = 32

// MaxConfigProperties bounds the total number of property schemas checked in
// one manifest. Documents built in Go can share a schema between branches,
// which multiplies the walk at every level.
const MaxConfigProperties = 10000

func (c *checker) checkConfiguration(raw any) {
	cfg, ok := asObject(raw)
	if !ok {
		c.addf("configuration", "must be an object")
		return
	}
	c.optionalString(cfg, "configuration", "title")

	rawProps, ok := cfg["properties"]
	if !ok {
		c.addf("configuration.properties", "is required")
		return
	}
	c.checkPropertyMap(rawProps, "configuration.properties", 1)
}

func (c *checker) checkPropertyMap(raw any, fieldPath string, depth int) {
	props, ok := asObject(raw)
	if !ok {
		c.addf(fieldPath, "must be an object")
		return
	}
	for _, name := range sortedKeys(props) {
		c.checkConfigProperty(props[name], joinPath(fieldPath, name), depth)
	}
}

// checkConfigProperty validates one property schema and descends into its
// items and properties. Nesting deeper than MaxConfigDepth is reported once
// for the branch and not descended further. A schema that contains itself is
// reported where it repeats.
func (c *checker) checkConfigProperty(raw any, fieldPath string, depth int) {
	if depth > MaxConfigDepth {
		c.addf(fieldPath, "configuration nesting exceeds maximum depth of %d", MaxConfigDepth)
		return
	}
	prop, ok := asObject(raw)
	if !ok {
		c.addf(fieldPath, "must be an object")
		return
	}

	id := reflect.ValueOf(prop).Pointer()
	if c.onPath[id] {
		c.addf(fieldPath, "configuration contains a cycle")
		return
	}
	c.nodes++
	if c.nodes > MaxConfigProperties {
		c.addf("configuration", "exceeds maximum of %d property schemas", MaxConfigProperties)
		return
	}
	c.onPath[id] = true
	defer delete(c.onPath, id)

	typ, typeOK := c.requireString(prop, fieldPath, "type")
	if typeOK && !contains(ConfigTypes, typ) {
		c.addf(joinPath(fieldPath, "type"), "must be one of %s", strings.Join(ConfigTypes, ", "))
		typeOK = false
	}
	c.optionalString(prop, fieldPath, "description")

	if def, ok := prop["default"]; ok && typeOK && !valueMatchesType(def, typ) {
		c.addf(joinPath(fieldPath, "default"), "must be of type %s", typ)
	}

	if rawEnum, ok := prop["enum"]; ok {
		enum, isList := asList(rawEnum)
		switch {
		case !isList:
			c.addf(joinPath(fieldPath, "enum"), "must be an array")
		case len(enum) == 0:
			c.addf(joinPath(fieldPath, "enum"), "must not be empty")
		case typeOK:
			for i, v := range enum {
				if !valueMatchesType(v, typ) {
					c.addf(indexPath(joinPath(fieldPath, "enum"), i), "must be of type %s", typ)
				}
			}
		}
	}

	minimum, hasMin := c.optionalNumber(prop, fieldPath, "minimum")
	maximum, hasMax := c.optionalNumber(prop, fieldPath, "maximum")
	if (hasMin || hasMax) && typeOK && typ != "number" && typ != "integer" {
		c.addf(fieldPath, "minimum and maximum only apply to number and integer properties")
	}
	if hasMin && hasMax && minimum > maximum {
		c.addf(joinPath(fieldPath, "minimum"), "must not exceed maximum")
	}

	if items, ok := prop["items"]; ok {
		if typeOK && typ != "array" {
			c.addf(joinPath(fieldPath, "items"), "only allowed on array properties")
		}
		c.checkConfigProperty(items, joinPath(fieldPath, "items"), depth+1)
	}
	if nested, ok := prop["properties"]; ok {
		if typeOK && typ != "object" {
			c.addf(joinPath(fieldPath, "properties"), "only allowed on object properties")
		}
		if depth+1 > MaxConfigDepth {
			c.addf(joinPath(fieldPath, "properties"), "configuration nesting exceeds maximum depth of %d", MaxConfigDepth)
			return
		}
		c.checkPropertyMap(nested, joinPath(fieldPath, "properties"), depth+1)
	}
}

func (c *checker) optionalNumber(obj map[string]any, parent, field string) (float64, bool) {
	raw, ok := obj[field]
	if !ok {
		return 0, false
	}
	n, ok := toNumber(raw)
	if !ok {
		c.addf(joinPath(parent, field), "must be a number")
		return 0, false
	}
	return n, true
}

func valueMatchesType(v any, typ string) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := toNumber(v)
		return ok
	case "integer":
		n, ok := toNumber(v)
		return ok && n == float64(int64(n))
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := asList(v)
		return ok
	case "object":
		_, ok := asObject(v)
		return ok
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
