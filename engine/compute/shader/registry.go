package shader

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
)

// ErrRegistryClosed is returned by Lookup before InitRegistry or after TeardownRegistry.
var ErrRegistryClosed = errors.New("shader registry is not initialized")

// ErrUnknownKernel is returned by Lookup for a key with no registered kernel.
var ErrUnknownKernel = errors.New("unknown kernel")

// the registry is process-wide: kernels are parsed once and shared by every compute backend
var (
	registryMu sync.RWMutex
	registry   map[kernels.Key]Shader
)

// InitRegistry parses every kernel and checks its group 0 bindings against the shared slot
// numbering. Calling it again while the registry is live is a no-op.
//
// Returns:
//   - error: the first kernel that fails to parse or declares a slot at the wrong binding
func InitRegistry() error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if registry != nil {
		return nil
	}

	built := make(map[kernels.Key]Shader, len(kernels.All()))
	for _, key := range kernels.All() {
		src, _ := kernels.Source(key)
		s, err := NewShaderFromSource(string(key), src)
		if err != nil {
			return err
		}
		if err := validateSlots(s); err != nil {
			return fmt.Errorf("shader: %s: %w", key, err)
		}
		built[key] = s
	}
	registry = built
	return nil
}

// TeardownRegistry drops every registered kernel. A later InitRegistry rebuilds them.
func TeardownRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = nil
}

// Lookup returns the parsed kernel registered under key.
//
// Parameters:
//   - key: the kernel key
//
// Returns:
//   - Shader: the parsed kernel
//   - error: ErrRegistryClosed or ErrUnknownKernel
func Lookup(key kernels.Key) (Shader, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if registry == nil {
		return nil, ErrRegistryClosed
	}
	s, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, key)
	}
	return s, nil
}

// SlotBindings returns the slots a kernel binds in group 0, keyed by binding index.
//
// Parameters:
//   - s: a kernel that passed registry validation
//
// Returns:
//   - map[int]kernels.Slot: the bound slots
func SlotBindings(s Shader) map[int]kernels.Slot {
	out := make(map[int]kernels.Slot)
	for _, decl := range s.Declarations() {
		if decl.Type != AnnotationTypeProvider || *decl.Group != 0 {
			continue
		}
		if slot, ok := kernels.SlotByIdentity(string(decl.Args[0])); ok {
			out[*decl.Binding] = slot
		}
	}
	return out
}

// validateSlots checks that every group 0 provider sits at its slot's binding index and that
// every group 0 binding has a provider.
func validateSlots(s Shader) error {
	provided := make(map[int]bool)
	for _, decl := range s.Declarations() {
		if decl.Type != AnnotationTypeProvider {
			continue
		}
		if *decl.Group != 0 {
			return fmt.Errorf("line %d: slot providers must be declared in group 0", decl.Line)
		}
		slot, ok := kernels.SlotByIdentity(string(decl.Args[0]))
		if !ok {
			return fmt.Errorf("line %d: unknown slot %q", decl.Line, decl.Args[0])
		}
		if int(slot) != *decl.Binding {
			return fmt.Errorf("line %d: slot %s declared at binding %d, want %d", decl.Line, slot, *decl.Binding, int(slot))
		}
		provided[*decl.Binding] = true
	}
	for binding, name := range s.BindGroupVarNames()[0] {
		if !provided[binding] {
			return fmt.Errorf("group 0 binding %d (%s) has no slot provider", binding, name)
		}
	}
	return nil
}
