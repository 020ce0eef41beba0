package core

// ModuleLoader resolves and fetches ES module sources for the engine.
//
// Normalize turns an import specifier into a canonical module name, relative
// to the name of the importing module. Load returns the source text for a
// canonical name. Both run on the engine thread while a module graph is
// being linked; an error aborts the import with a ReferenceError.
type ModuleLoader interface {
	Normalize(base, name string) (string, error)
	Load(name string) (string, error)
}
