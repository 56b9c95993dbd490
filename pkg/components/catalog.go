package components

// Factory builds a unit for one run.
type Factory func(env Env) (Unit, error)

// Registration binds a unit name to its factory.
type Registration struct {
	Name    string
	Factory Factory
}

// Catalog returns the built-in units in a stable order.
func Catalog() []Registration {
	return []Registration{
		{Name: "core", Factory: NewCore},
		{Name: "modes", Factory: NewModes},
		{Name: "mcp", Factory: NewMCP},
		{Name: "mcp_docs", Factory: NewMCPDocs},
	}
}
