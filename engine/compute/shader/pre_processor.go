// pre_processor.go implements the Oxy WGSL kernel pre-processor. It scans kernel
// source code for @oxy: annotations, replaces them with generated WGSL declarations
// or injected struct source, and collects a declarations list that the shader registry
// uses to check every kernel against the shared buffer slot numbering.
//
// The pre-processor maintains two registries:
//   - structRegistry: maps AnnotationArg keys to embedded WGSL struct sources and their
//     resolved type names. Used by @oxy:include (to inject the source) and @oxy:group
//     (to resolve the WGSL type name in the generated declaration). Snippets carry no type.
//   - addressSpaceRegistry: maps address space argument keys to WGSL var<> syntax strings.
package shader

import (
	"fmt"
	"strings"

	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// registryEntry pairs a WGSL source string (embedded from a .wgsl asset file) with the
// resolved WGSL type name used in generated @group/@binding declarations.
type registryEntry struct {
	// Source is the raw WGSL text injected by @oxy:include.
	Source string

	// Type is the WGSL type name emitted in @oxy:group declarations (e.g. "Particle").
	// Empty for include-only snippets.
	Type string
}

// preProcessor is the implementation of the PreProcessor interface.
type preProcessor struct {
	// structRegistry maps include and struct type argument keys to their embedded WGSL source and type name.
	structRegistry map[AnnotationArg]registryEntry

	// addressSpaceRegistry maps address space argument keys to WGSL var<> syntax strings.
	addressSpaceRegistry map[AnnotationArg]string

	// declarations accumulates annotations of type AnnotationTypeBindingGroup and
	// AnnotationTypeProvider during a Process call. Reset at the start of each Process invocation.
	declarations []Annotation
}

// PreProcessor processes raw WGSL kernel source code containing @oxy: annotations,
// replacing them with generated declarations or injected sources while collecting
// a declarations list for downstream slot validation.
type PreProcessor interface {
	// Process takes raw WGSL source code and pre-processes it by replacing @oxy: annotations
	// with their corresponding WGSL output. @oxy:include annotations are replaced with embedded
	// source text. @oxy:group annotations are replaced with generated @group/@binding variable
	// declarations. @oxy:provider annotations produce no WGSL output but are recorded in the
	// declarations list.
	//
	// Parameters:
	//   - source: the raw WGSL source code containing annotations to be processed
	//
	// Returns:
	//   - string: the processed WGSL source code with annotations replaced
	//   - error: an error if any annotation is malformed or references an unknown type
	Process(source string) (string, error)

	// Declarations returns the list of AnnotationTypeBindingGroup and AnnotationTypeProvider
	// annotations collected during the most recent call to Process, in source-order.
	//
	// Returns:
	//   - []Annotation: the declarations collected during the last Process call
	Declarations() []Annotation
}

var _ PreProcessor = &preProcessor{}

// NewPreProcessor creates a new PreProcessor with all registered struct types, snippets and
// address space mappings pre-populated.
//
// Returns:
//   - PreProcessor: a ready-to-use pre-processor instance
func NewPreProcessor() PreProcessor {
	return &preProcessor{
		structRegistry: map[AnnotationArg]registryEntry{
			AnnotationArgParticle:         {Source: particle.GPUParticleSource, Type: "Particle"},
			AnnotationArgUpdateParams:     {Source: particle.GPUUpdateParamsSource, Type: "UpdateParams"},
			AnnotationArgResetParams:      {Source: particle.GPUResetParamsSource, Type: "ResetParams"},
			AnnotationArgKeyParams:        {Source: particle.GPUKeyParamsSource, Type: "KeyParams"},
			AnnotationArgCollideParams:    {Source: particle.GPUCollideParamsSource, Type: "CollideParams"},
			AnnotationArgIntermediateData: {Source: kernels.GPUIntermediateDataSource, Type: "IntermediateData"},
			AnnotationArgSortParams:       {Source: kernels.GPUSortParamsSource, Type: "SortParams"},
			AnnotationArgScanParams:       {Source: kernels.GPUScanParamsSource, Type: "ScanParams"},
			annotationArgSortConstants:    {Source: kernels.SortConstantsSource},
			annotationArgRandom:           {Source: kernels.RandomSource},
		},
		addressSpaceRegistry: map[AnnotationArg]string{
			annotationArgStorageTypeUniform:   "var<uniform>",
			annotationArgStorageTypeRead:      "var<storage, read>",
			annotationArgStorageTypeReadWrite: "var<storage, read_write>",
		},
	}
}

func (p *preProcessor) Process(source string) (string, error) {
	p.declarations = p.declarations[:0]

	lines := strings.Split(source, "\n")
	out := make([]string, 0, len(lines))
	included := make(map[AnnotationArg]bool)

	for i, line := range lines {
		a, err := parseAnnotation(line, i+1)
		if err != nil {
			return "", err
		}
		if a == nil {
			out = append(out, line)
			continue
		}

		switch a.Type {
		case annotationTypeInclude:
			entry, ok := p.structRegistry[a.Args[0]]
			if !ok {
				return "", fmt.Errorf("line %d: unknown @oxy:include argument %q", i+1, a.Args[0])
			}
			// a second include of the same source would redeclare it
			if included[a.Args[0]] {
				continue
			}
			included[a.Args[0]] = true
			out = append(out, entry.Source)
		case AnnotationTypeBindingGroup:
			addrSpace := p.addressSpaceRegistry[a.Args[0]]
			varName := string(a.Args[1])
			var wgslType string
			if inner, ok := strings.CutPrefix(string(a.Args[2]), "array<"); ok {
				inner = strings.TrimSuffix(inner, ">")
				wgslType = fmt.Sprintf("array<%s>", p.structRegistry[AnnotationArg(inner)].Type)
			} else {
				wgslType = p.structRegistry[a.Args[2]].Type
			}

			out = append(out, fmt.Sprintf("@group(%d) @binding(%d) %s %s: %s;", *a.Group, *a.Binding, addrSpace, varName, wgslType))
			p.declarations = append(p.declarations, *a)
		case AnnotationTypeProvider:
			p.declarations = append(p.declarations, *a)
		default:
			return "", fmt.Errorf("line %d: unknown annotation type %q", i+1, a.Type)
		}
	}
	return strings.Join(out, "\n"), nil
}

func (p *preProcessor) Declarations() []Annotation {
	return p.declarations
}
