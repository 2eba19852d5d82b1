package executor

// Context holds identifiers discovered while executing one plan. It is the
// only trusted source for injected arguments and never outlives the run.
type Context struct {
	values map[string]string
}

// NewContext returns an empty execution context.
func NewContext() *Context {
	return &Context{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key, replacing any earlier value.
func (c *Context) Set(key, value string) {
	c.values[key] = value
}

// Snapshot returns a copy of the current values.
func (c *Context) Snapshot() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}
