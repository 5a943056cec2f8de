package plugins

import "strings"

func (c *checker) checkContributes(raw any) {
	contrib, ok := asObject(raw)
	if !ok {
		c.addf("contributes", "must be an object")
		return
	}

	if sidebar, ok := contrib["sidebar"]; ok {
		if obj, ok := c.object(sidebar, "contributes.sidebar"); ok {
			c.requireString(obj, "contributes.sidebar", "id")
			c.requireString(obj, "contributes.sidebar", "title")
			c.optionalString(obj, "contributes.sidebar", "icon")
			c.optionalString(obj, "contributes.sidebar", "position")
			if entry, ok := c.requireString(obj, "contributes.sidebar", "entry"); ok {
				c.checkRelativePath("contributes.sidebar.entry", entry)
			}
		}
	}

	c.eachObject(contrib, "commands", func(obj map[string]any, p string) {
		c.requireString(obj, p, "id")
		c.requireString(obj, p, "title")
		c.optionalString(obj, p, "category")
		c.optionalString(obj, p, "icon")
	})

	if menus, ok := contrib["menus"]; ok {
		c.checkMenus(menus)
	}

	c.eachObject(contrib, "keybindings", func(obj map[string]any, p string) {
		c.requireString(obj, p, "command")
		c.requireString(obj, p, "key")
		c.optionalString(obj, p, "mac")
		c.optionalString(obj, p, "when")
	})

	c.eachObject(contrib, "toolbar", func(obj map[string]any, p string) {
		c.requireString(obj, p, "id")
		c.requireString(obj, p, "command")
		c.optionalString(obj, p, "title")
		c.optionalString(obj, p, "icon")
		c.optionalString(obj, p, "group")
	})

	c.eachObject(contrib, "statusBar", func(obj map[string]any, p string) {
		c.requireString(obj, p, "id")
		c.requireString(obj, p, "text")
		c.optionalString(obj, p, "tooltip")
		c.optionalString(obj, p, "command")
		if align, ok := c.optionalString(obj, p, "alignment"); ok && !contains(statusBarAlignments, align) {
			c.addf(joinPath(p, "alignment"), "must be one of %s", strings.Join(statusBarAlignments, ", "))
		}
		if prio, ok := c.optionalNumber(obj, p, "priority"); ok && prio != float64(int64(prio)) {
			c.addf(joinPath(p, "priority"), "must be an integer")
		}
	})

	c.eachObject(contrib, "views", func(obj map[string]any, p string) {
		c.requireString(obj, p, "id")
		c.requireString(obj, p, "title")
		if entry, ok := c.requireString(obj, p, "entry"); ok {
			c.checkRelativePath(joinPath(p, "entry"), entry)
		}
		if loc, ok := c.optionalString(obj, p, "location"); ok && !contains(viewLocations, loc) {
			c.addf(joinPath(p, "location"), "must be one of %s", strings.Join(viewLocations, ", "))
		}
	})

	c.eachObject(contrib, "fileHandlers", func(obj map[string]any, p string) {
		c.requireString(obj, p, "id")
		if entry, ok := c.requireString(obj, p, "entry"); ok {
			c.checkRelativePath(joinPath(p, "entry"), entry)
		}
		c.optionalString(obj, p, "description")
		exts, ok := obj["extensions"]
		if !ok {
			c.addf(joinPath(p, "extensions"), "is required")
			return
		}
		list, ok := asList(exts)
		if !ok {
			c.addf(joinPath(p, "extensions"), "must be an array")
			return
		}
		if len(list) == 0 {
			c.addf(joinPath(p, "extensions"), "must not be empty")
		}
		for i, ext := range list {
			if s, ok := ext.(string); !ok || s == "" {
				c.addf(indexPath(joinPath(p, "extensions"), i), "must be a non-empty string")
			}
		}
	})
}

func (c *checker) checkMenus(raw any) {
	menus, ok := c.object(raw, "contributes.menus")
	if !ok {
		return
	}
	for _, location := range sortedKeys(menus) {
		p := "contributes.menus." + location
		if !contains(MenuLocations, location) {
			c.addf(p, "unknown menu location, must be one of %s", strings.Join(MenuLocations, ", "))
			continue
		}
		items, ok := asList(menus[location])
		if !ok {
			c.addf(p, "must be an array")
			continue
		}
		for i, item := range items {
			ip := indexPath(p, i)
			obj, ok := c.object(item, ip)
			if !ok {
				continue
			}
			c.requireString(obj, ip, "command")
			c.optionalString(obj, ip, "group")
			c.optionalString(obj, ip, "when")
		}
	}
}

// eachObject validates contrib[field] as an array of objects, calling fn for each
func (c *checker) eachObject(contrib map[string]any, field string, fn func(obj map[string]any, fieldPath string)) {
	raw, ok := contrib[field]
	if !ok {
		return
	}
	p := "contributes." + field
	list, ok := asList(raw)
	if !ok {
		c.addf(p, "must be an array")
		return
	}
	for i, item := range list {
		ip := indexPath(p, i)
		if obj, ok := c.object(item, ip); ok {
			fn(obj, ip)
		}
	}
}

func (c *checker) object(raw any, fieldPath string) (map[string]any, bool) {
	obj, ok := asObject(raw)
	if !ok {
		c.addf(fieldPath, "must be an object")
	}
	return obj, ok
}
