package templates

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
)

// Environment is an immutable, fully compiled snapshot of every template
// under a root directory. It is never modified after Compile returns.
type Environment struct {
	root       string
	generation uint64
	builtAt    time.Time
	templates  map[string]*pongo2.Template
}

// Compile parses every template file below root into a new Environment.
// Templates are named by their slash-separated path relative to root.
// All parse failures are reported together.
func Compile(root string, generation uint64) (*Environment, error) {
	loader, err := pongo2.NewLocalFileSystemLoader(root)
	if err != nil {
		return nil, fmt.Errorf("failed to create template loader for %s: %w", root, err)
	}
	set := pongo2.NewSet("generation-"+strconv.FormatUint(generation, 10), loader)

	env := &Environment{
		root:       root,
		generation: generation,
		templates:  make(map[string]*pongo2.Template),
	}

	var errs []error
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && isScratchFile(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if isScratchFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		tpl, err := set.FromFile(name)
		if err != nil {
			errs = append(errs, &CompileError{Name: name, Err: err})
			return nil
		}
		env.templates[name] = tpl
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk template root %s: %w", root, walkErr)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	env.builtAt = time.Now()
	return env, nil
}

// isScratchFile reports editor swap, backup and hidden files that are never templates.
func isScratchFile(name string) bool {
	return strings.HasPrefix(name, ".") ||
		strings.HasPrefix(name, "~") ||
		strings.HasSuffix(name, "~") ||
		filepath.Ext(name) == ".swp" ||
		filepath.Ext(name) == ".tmp"
}

// Lookup returns the compiled template called name.
func (e *Environment) Lookup(name string) (*pongo2.Template, error) {
	tpl, ok := e.templates[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return tpl, nil
}

// Has reports whether a template called name exists.
func (e *Environment) Has(name string) bool {
	_, ok := e.templates[name]
	return ok
}

// Render executes the named template with data.
func (e *Environment) Render(name string, data pongo2.Context) (string, error) {
	tpl, err := e.Lookup(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(data)
	if err != nil {
		return "", &RenderError{Name: name, Err: err}
	}
	return out, nil
}

// Names returns every template name in lexical order.
func (e *Environment) Names() []string {
	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of compiled templates.
func (e *Environment) Len() int { return len(e.templates) }

func (e *Environment) Root() string { return e.root }

// Generation identifies the rebuild that produced this snapshot.
func (e *Environment) Generation() uint64 { return e.generation }

func (e *Environment) BuiltAt() time.Time { return e.builtAt }
