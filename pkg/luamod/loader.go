package luamod

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/dmitrymomot/modserve/pkg/logger"
	"github.com/dmitrymomot/modserve/pkg/modcache"
)

// Importer resolves import names for the module executing in ctx.
// *modcache.Cache implements it.
type Importer interface {
	Import(ctx context.Context, name string) (modcache.Module, error)
}

// Config is the environment configuration of the loader.
type Config struct {
	Libraries     []string `env:"LUA_LIBRARIES" envSeparator:"," envDefault:"base,table,string,math,coroutine"`
	CallStackSize int      `env:"LUA_CALL_STACK_SIZE" envDefault:"256"`
	GoStackTrace  bool     `env:"LUA_GO_STACK_TRACE" envDefault:"false"`
}

type typeDef struct {
	name    string
	goType  reflect.Type
	methods map[string]lua.LGFunction
}

// Loader creates Lua module instances. It implements modcache.Loader.
type Loader struct {
	importer      Importer
	logger        *slog.Logger
	libraries     []string
	callStackSize int
	goStackTrace  bool
	types         []typeDef
	globals       map[string]any
}

type Option func(*Loader)

func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithLibraries selects the standard libraries opened in every state.
// Known names: base, table, string, math, os, io, coroutine, channel,
// debug, package.
func WithLibraries(names ...string) Option {
	return func(ld *Loader) { ld.libraries = names }
}

func WithCallStackSize(n int) Option {
	return func(ld *Loader) {
		if n > 0 {
			ld.callStackSize = n
		}
	}
}

// WithType registers a Go type. Values of the same dynamic type as sample
// enter Lua as userdata with the given methods.
func WithType(name string, sample any, methods map[string]lua.LGFunction) Option {
	return func(ld *Loader) {
		ld.types = append(ld.types, typeDef{
			name:    name,
			goType:  reflect.TypeOf(sample),
			methods: methods,
		})
	}
}

// WithGlobal defines a global in every module. Go values are converted
// with the same rules as handler arguments.
func WithGlobal(name string, value any) Option {
	return func(ld *Loader) { ld.globals[name] = value }
}

// WithImporter sets the resolver behind import().
func WithImporter(imp Importer) Option {
	return func(ld *Loader) { ld.importer = imp }
}

func NewLoader(opts ...Option) *Loader {
	ld := &Loader{
		logger:        slog.Default(),
		libraries:     []string{"base", "table", "string", "math", "coroutine"},
		callStackSize: 256,
		globals:       make(map[string]any),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// NewLoaderFromConfig creates a loader from cfg.
func NewLoaderFromConfig(cfg Config, opts ...Option) *Loader {
	base := []Option{WithCallStackSize(cfg.CallStackSize)}
	if len(cfg.Libraries) > 0 {
		base = append(base, WithLibraries(cfg.Libraries...))
	}
	ld := NewLoader(append(base, opts...)...)
	ld.goStackTrace = cfg.GoStackTrace
	return ld
}

// SetImporter sets the resolver behind import(). Use it when the importer
// is created after the loader, as a modcache.Cache is.
func (ld *Loader) SetImporter(imp Importer) { ld.importer = imp }

// NewCache creates a module cache backed by a new loader and wires the
// loader's imports to it.
func NewCache(loaderOpts []Option, cacheOpts ...modcache.Option) (*modcache.Cache, *Loader) {
	ld := NewLoader(loaderOpts...)
	c := modcache.New(ld, cacheOpts...)
	ld.SetImporter(c)
	return c, ld
}

var libraries = map[string]lua.LGFunction{
	lua.BaseLibName:      lua.OpenBase,
	lua.TabLibName:       lua.OpenTable,
	lua.StringLibName:    lua.OpenString,
	lua.MathLibName:      lua.OpenMath,
	lua.OsLibName:        lua.OpenOs,
	lua.IoLibName:        lua.OpenIo,
	lua.CoroutineLibName: lua.OpenCoroutine,
	lua.ChannelLibName:   lua.OpenChannel,
	lua.DebugLibName:     lua.OpenDebug,
	lua.LoadLibName:      lua.OpenPackage,
}

func libraryName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "base", "_g":
		return lua.BaseLibName
	case "package":
		return lua.LoadLibName
	default:
		return strings.ToLower(strings.TrimSpace(name))
	}
}

// NewModule implements modcache.Loader.
func (ld *Loader) NewModule(label, path string) (modcache.Module, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		CallStackSize:       ld.callStackSize,
		IncludeGoStackTrace: ld.goStackTrace,
	})
	for _, name := range ld.libraries {
		name = libraryName(name)
		open, ok := libraries[name]
		if !ok {
			L.Close()
			return nil, fmt.Errorf("luamod: unknown library %q", name)
		}
		L.Push(L.NewFunction(open))
		L.Push(lua.LString(name))
		L.Call(1, 0)
	}

	m := &Module{
		label:  label,
		path:   path,
		loader: ld,
		L:      L,
		sem:    make(chan struct{}, 1),
		logger: ld.logger.With(logger.Module(label, path)),
	}
	self := L.NewUserData()
	self.Value = m
	L.G.Registry.RawSetString(registryKey, self)
	for _, t := range ld.types {
		mt := L.NewTypeMetatable(t.name)
		L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), t.methods))
		L.SetField(mt, "__name", lua.LString(t.name))
	}
	m.installBuiltins()
	for name, v := range ld.globals {
		L.SetGlobal(name, m.ToLua(v))
	}
	return m, nil
}

// typeName returns the registered Lua type name for v's dynamic type.
func (ld *Loader) typeName(v any) (string, bool) {
	t := reflect.TypeOf(v)
	for _, def := range ld.types {
		if def.goType == t {
			return def.name, true
		}
	}
	return "", false
}
