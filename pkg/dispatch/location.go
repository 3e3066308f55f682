package dispatch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/modserve/pkg/config"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

// DefaultObject is called when a handler name has no "::object" part.
const DefaultObject = "handler"

// Location binds a URL pattern to a handler chain.
type Location struct {
	// Path is a chi route pattern, e.g. "/app" or "/app/*".
	Path string `yaml:"path"`

	// Methods restricts the route; empty accepts every method.
	Methods []string `yaml:"methods"`

	// Handlers are "module[::object]" names run in order. Module names are
	// dotted names or file paths, resolved against Dir and then SearchPath.
	Handlers   []string `yaml:"handlers"`
	Dir        string   `yaml:"dir"`
	SearchPath []string `yaml:"search_path"`

	// AutoReload defaults to true.
	AutoReload bool `yaml:"autoreload"`
	ImportLog  bool `yaml:"import_log"`

	// Debug renders script errors as a traceback page.
	Debug bool `yaml:"debug"`

	// Options are visible to handlers through req:option(name).
	Options map[string]string `yaml:"options"`
}

// UnmarshalYAML applies defaults for keys the document leaves out.
func (l *Location) UnmarshalYAML(node *yaml.Node) error {
	type plain Location
	p := plain{AutoReload: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Location(p)
	return nil
}

// Validate checks the route pattern and handler names.
func (l Location) Validate() error {
	if !strings.HasPrefix(l.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidLocation, l.Path)
	}
	if len(l.Handlers) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandlers, l.Path)
	}
	for _, h := range l.Handlers {
		if mod, obj := splitHandler(h); mod == "" || obj == "" {
			return fmt.Errorf("%w: bad handler %q in %s", ErrInvalidLocation, h, l.Path)
		}
	}
	return nil
}

func (l Location) resolveOptions() modcache.ResolveOptions {
	return modcache.ResolveOptions{
		AutoReload: l.AutoReload,
		Log:        l.ImportLog,
		SearchPath: l.dirs(),
	}
}

// dirs returns the directories consulted for module names.
func (l Location) dirs() []string {
	var dirs []string
	if l.Dir != "" {
		dirs = append(dirs, l.Dir)
	}
	return append(dirs, l.SearchPath...)
}

// splitHandler splits "module::object".
func splitHandler(name string) (module, object string) {
	module, object, found := strings.Cut(strings.TrimSpace(name), "::")
	if !found {
		object = DefaultObject
	}
	return strings.TrimSpace(module), strings.TrimSpace(object)
}

// File is the layout of a locations file.
type File struct {
	Debug     bool       `yaml:"debug" env:"MODSERVE_DEBUG" envDefault:"false"`
	Locations []Location `yaml:"locations"`
}

// LoadLocations reads a YAML locations file. Relative directories are
// taken relative to the file. The file-level debug flag turns on Debug for
// every location.
func LoadLocations(path string) ([]Location, error) {
	var f File
	if err := config.LoadFile(path, &f); err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	errs := make([]error, 0, len(f.Locations))
	for i := range f.Locations {
		loc := &f.Locations[i]
		if loc.Dir == "" {
			loc.Dir = base
		} else if !filepath.IsAbs(loc.Dir) {
			loc.Dir = filepath.Join(base, loc.Dir)
		}
		for j, dir := range loc.SearchPath {
			if !filepath.IsAbs(dir) {
				loc.SearchPath[j] = filepath.Join(base, dir)
			}
		}
		loc.Debug = loc.Debug || f.Debug
		errs = append(errs, loc.Validate())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Locations, nil
}
