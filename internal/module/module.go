// Package module loads and tracks dynamically-loaded plugins built with
// Go's plugin package, working around two gaps in Go's plugin API
// documented alongside the affected functions: there is no exposed
// base address, and there is no real unload.
package module

import (
	"errors"
	"fmt"
	"plugin"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"weak"

	"github.com/rs/zerolog"

	"github.com/arcflux/cbppcore/internal/obslog"
)

// InitFunc is the symbol every loadable plugin must export under the
// name "CbppModuleInit". It receives the Module the caller can use to
// hang its own state off the returned Contexts value.
type InitFunc func(m *Module) (Contexts, error)

// Contexts is an opaque per-module state bag; the module manager never
// inspects it beyond keeping it alive for the module's lifetime.
type Contexts any

const initSymbolName = "CbppModuleInit"

var (
	ErrAlreadyLoaded  = errors.New("module: duplicate module")
	ErrInitSymbol     = errors.New("module: missing CbppModuleInit symbol")
	ErrInitSignature  = errors.New("module: CbppModuleInit has the wrong signature")
	ErrNotRegistered  = errors.New("module: module was not loaded via this manager")
)

// Module is one successfully loaded plugin.
type Module struct {
	RealPath string
	// BaseAddr stands in for the shared object's load address, which
	// Go's plugin package does not expose. It is the program counter of
	// the module's init function, stable for the process lifetime and
	// unique per loaded plugin the way a base address would be.
	BaseAddr uintptr

	handle   *plugin.Plugin
	contexts Contexts

	mu       sync.Mutex
	refCount int
}

// SnapshotItem is one row of Manager.Snapshot.
type SnapshotItem struct {
	RealPath string
	BaseAddr uintptr
	RefCount int
}

// Manager tracks every module loaded through it, indexed two ways: by
// real path (many loads of the same .so share one Module) and by base
// address (unique).
type Manager struct {
	mu sync.RWMutex

	byPath map[string]*Module
	byAddr map[uintptr]*Module

	// reverseByFuncPrefix lets AssertCurrent work: Go has no dladdr, so
	// instead of mapping a return address to a base address directly,
	// it maps the package-path prefix of the init function's symbol to
	// the Module, then matches the caller's own function name against
	// that prefix.
	reverseByFuncPrefix map[string]weak.Pointer[Module]

	log zerolog.Logger
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		byPath:              make(map[string]*Module),
		byAddr:              make(map[uintptr]*Module),
		reverseByFuncPrefix: make(map[string]weak.Pointer[Module]),
		log:                 obslog.With("module"),
	}
}

// Load opens the plugin at path, calling its CbppModuleInit exactly once.
// A second Load of the same path returns the already-loaded Module
// without re-initializing it.
func (mgr *Manager) Load(path string) (*Module, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if m, ok := mgr.byPath[path]; ok {
		mgr.log.Debug().Str("real_path", path).Msg("module already loaded, returning existing handle")
		return m, nil
	}

	mgr.log.Info().Str("real_path", path).Msg("loading new module")
	handle, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("module: opening %s: %w", path, err)
	}

	sym, err := handle.Lookup(initSymbolName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInitSymbol, path, err)
	}
	initFn, ok := sym.(func(m *Module) (Contexts, error))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInitSignature, path)
	}

	baseAddr := reflect.ValueOf(initFn).Pointer()
	if _, dup := mgr.byAddr[baseAddr]; dup {
		return nil, fmt.Errorf("%w: base address %#x", ErrAlreadyLoaded, baseAddr)
	}

	m := &Module{RealPath: path, BaseAddr: baseAddr, handle: handle, refCount: 1}

	mgr.log.Info().Str("real_path", path).Uint64("base_addr", uint64(baseAddr)).Msg("initializing module")
	contexts, err := initFn(m)
	if err != nil {
		return nil, fmt.Errorf("module: initializing %s: %w", path, err)
	}
	m.contexts = contexts
	mgr.log.Info().Str("real_path", path).Msg("done initializing module")

	mgr.byPath[path] = m
	mgr.byAddr[baseAddr] = m
	mgr.reverseByFuncPrefix[funcPackagePrefix(baseAddr)] = weak.Make(m)

	return m, nil
}

// LoadNoThrow is Load with the error swallowed, for call sites that only
// want a nil Module on failure.
func (mgr *Manager) LoadNoThrow(path string) *Module {
	m, err := mgr.Load(path)
	if err != nil {
		mgr.log.Info().Err(err).Str("real_path", path).Msg("module failed to load")
		return nil
	}
	return m
}

// UnloadByModule drops the manager's reference to m. The underlying OS
// image is not unmapped — Go's plugin package exposes no equivalent of
// dlclose — but subsequent lookups by path or base address stop finding
// it, and the Module becomes unreachable once callers drop their own
// references too. The refCount that Snapshot reports is not decremented.
func (mgr *Manager) UnloadByModule(m *Module) bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.unloadLocked(m)
}

// UnloadByPath unloads whichever module was loaded from realPath, if any.
func (mgr *Manager) UnloadByPath(realPath string) bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.byPath[realPath]
	if !ok {
		return false
	}
	return mgr.unloadLocked(m)
}

// UnloadByBaseAddr unloads whichever module has this base-address proxy.
func (mgr *Manager) UnloadByBaseAddr(addr uintptr) bool {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.byAddr[addr]
	if !ok {
		return false
	}
	return mgr.unloadLocked(m)
}

func (mgr *Manager) unloadLocked(m *Module) bool {
	if _, ok := mgr.byAddr[m.BaseAddr]; !ok {
		return false
	}
	mgr.log.Info().Str("real_path", m.RealPath).Uint64("base_addr", uint64(m.BaseAddr)).Msg("unloading module")
	delete(mgr.byPath, m.RealPath)
	delete(mgr.byAddr, m.BaseAddr)
	delete(mgr.reverseByFuncPrefix, funcPackagePrefix(m.BaseAddr))
	return true
}

// AssertCurrent resolves the Module whose package the immediate caller
// belongs to, approximating a return-address-to-module lookup by
// matching the caller's fully-qualified function name against each
// loaded module's init function's package prefix.
func (mgr *Manager) AssertCurrent() (*Module, error) {
	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return nil, fmt.Errorf("module: could not resolve caller")
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return nil, fmt.Errorf("module: could not resolve caller function")
	}
	callerName := fn.Name()

	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	for prefix, wp := range mgr.reverseByFuncPrefix {
		if strings.HasPrefix(callerName, prefix) {
			if m := wp.Value(); m != nil {
				return m, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: caller=%s", ErrNotRegistered, callerName)
}

// Snapshot lists every currently-loaded module.
func (mgr *Manager) Snapshot() []SnapshotItem {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()
	out := make([]SnapshotItem, 0, len(mgr.byAddr))
	for _, m := range mgr.byAddr {
		m.mu.Lock()
		out = append(out, SnapshotItem{RealPath: m.RealPath, BaseAddr: m.BaseAddr, RefCount: m.refCount})
		m.mu.Unlock()
	}
	return out
}

// Stop unloads every module, polling until each one's last reference is
// dropped.
func (mgr *Manager) Stop(poll func()) {
	mgr.log.Info().Msg("unloading all modules")

	mgr.mu.Lock()
	weaks := make([]weak.Pointer[Module], 0, len(mgr.byAddr))
	for _, wp := range mgr.reverseByFuncPrefix {
		weaks = append(weaks, wp)
	}
	mgr.byPath = make(map[string]*Module)
	mgr.byAddr = make(map[uintptr]*Module)
	mgr.reverseByFuncPrefix = make(map[string]weak.Pointer[Module])
	mgr.mu.Unlock()

	for _, wp := range weaks {
		for wp.Value() != nil {
			mgr.log.Info().Msg("waiting for module to unload")
			if poll != nil {
				poll()
			} else {
				runtime.Gosched()
			}
		}
	}
}

func funcPackagePrefix(addr uintptr) string {
	fn := runtime.FuncForPC(addr)
	if fn == nil {
		return fmt.Sprintf("unknown@%#x", addr)
	}
	name := fn.Name()
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[:idx+1]
	}
	return name
}
