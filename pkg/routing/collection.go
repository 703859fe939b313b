package routing

// Route maps a synthetic route name to a path.
type Route struct {
	Name string `msgpack:"name" json:"name"`
	Path string `msgpack:"path" json:"path"`
}

// RouteCollection is an ordered set of routes. Adding a route with an
// existing name replaces its path in place.
type RouteCollection struct {
	Routes []Route `msgpack:"routes" json:"routes"`

	// index maps a route name to its position in Routes. It is rebuilt by
	// Add when missing or stale, e.g. after decoding.
	index map[string]int
}

// RouteName returns the route name of an entry.
// Format: contentful_<contentTypeID>_<entryID>
func RouteName(contentTypeID, entryID string) string {
	return "contentful_" + contentTypeID + "_" + entryID
}

// Add appends a route.
func (c *RouteCollection) Add(name, path string) {
	if !c.indexed() {
		c.reindex()
	}
	if i, ok := c.lookup(name); ok {
		c.Routes[i].Path = path
		return
	}
	c.index[name] = len(c.Routes)
	c.Routes = append(c.Routes, Route{Name: name, Path: path})
}

// Get returns the route with the given name.
func (c *RouteCollection) Get(name string) (Route, bool) {
	if c.indexed() {
		if i, ok := c.lookup(name); ok {
			return c.Routes[i], true
		}
		return Route{}, false
	}
	for _, r := range c.Routes {
		if r.Name == name {
			return r, true
		}
	}
	return Route{}, false
}

func (c *RouteCollection) indexed() bool {
	return c.index != nil && len(c.index) == len(c.Routes)
}

func (c *RouteCollection) lookup(name string) (int, bool) {
	i, ok := c.index[name]
	if !ok || i >= len(c.Routes) || c.Routes[i].Name != name {
		return 0, false
	}
	return i, true
}

// reindex rebuilds the index, folding duplicate names into their first
// position with the last path.
func (c *RouteCollection) reindex() {
	c.index = make(map[string]int, len(c.Routes))
	routes := c.Routes[:0]
	for _, r := range c.Routes {
		if i, ok := c.index[r.Name]; ok {
			routes[i].Path = r.Path
			continue
		}
		c.index[r.Name] = len(routes)
		routes = append(routes, r)
	}
	c.Routes = routes
}

// Len returns the number of routes.
func (c *RouteCollection) Len() int {
	return len(c.Routes)
}
