package modcache

import (
	"context"
	"slices"
	"sync"
)

type scopeKey struct{}

// Scope is the per-request view of resolved modules. It is created by the
// first Resolve on a context that lacks one, or explicitly with NewScope,
// and must not be shared between requests.
type Scope struct {
	mu      sync.Mutex
	modules map[string]scopedModule
	stack   []*frame
	opts    ResolveOptions
	hasOpts bool
}

type scopedModule struct {
	module     Module
	inProgress bool
}

// frame tracks one module whose source is executing.
type frame struct {
	label    string
	path     string
	children []string
}

func (f *frame) addChild(label string) {
	if label == f.label || slices.Contains(f.children, label) {
		return
	}
	f.children = append(f.children, label)
}

func NewScope() *Scope {
	return &Scope{modules: make(map[string]scopedModule)}
}

// WithScope returns ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope carried by ctx, or nil.
func ScopeFrom(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Len returns the number of modules recorded in the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.modules)
}

// Module returns the module recorded for label, if any.
func (s *Scope) Module(label string) (Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[label]
	return m.module, ok
}

func (s *Scope) setOptions(opts ResolveOptions) {
	s.mu.Lock()
	if !s.hasOpts {
		s.opts, s.hasOpts = opts, true
	}
	s.mu.Unlock()
}

func (s *Scope) options(fallback ResolveOptions) ResolveOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasOpts {
		return s.opts
	}
	return fallback
}

// lookup returns the recorded module and whether it is still loading. It
// also records label as a child of the executing module.
func (s *Scope) lookup(label string) (scopedModule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[label]
	if ok && !m.inProgress {
		s.recordChildLocked(label)
	}
	return m, ok
}

// executing returns the label of the module currently running its source.
func (s *Scope) executing() (label, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.stack); n > 0 {
		return s.stack[n-1].label, s.stack[n-1].path
	}
	return "", ""
}

func (s *Scope) recordChild(label string) {
	s.mu.Lock()
	s.recordChildLocked(label)
	s.mu.Unlock()
}

func (s *Scope) recordChildLocked(label string) {
	if n := len(s.stack); n > 0 {
		s.stack[n-1].addChild(label)
	}
}

func (s *Scope) put(label string, m Module) {
	s.mu.Lock()
	s.modules[label] = scopedModule{module: m}
	s.mu.Unlock()
}

// begin marks label in progress and makes it the executing module.
func (s *Scope) begin(label, path string, m Module) {
	s.mu.Lock()
	s.modules[label] = scopedModule{module: m, inProgress: true}
	s.stack = append(s.stack, &frame{label: label, path: path})
	s.mu.Unlock()
}

// end pops the executing frame and returns the children it recorded. On
// failure the label is dropped so a later import in the request retries.
func (s *Scope) end(label string, m Module, ok bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []string
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].label == label {
			children = s.stack[i].children
			s.stack = slices.Delete(s.stack, i, i+1)
			break
		}
	}
	if ok {
		s.modules[label] = scopedModule{module: m}
	} else {
		delete(s.modules, label)
	}
	return children
}
