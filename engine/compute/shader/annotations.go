// annotations.go defines the annotation types, argument constants, and parser for the
// Oxy WGSL kernel pre-processor. Annotations are single-line WGSL comments prefixed
// with @oxy: that drive struct and snippet injection, bind group declaration, and buffer
// slot registration. The parsed results are stored as Annotation values and consumed by
// the PreProcessor and the shader registry to check every kernel against the shared slot
// numbering before any pipeline is built.
package shader

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// annotationPrefix is the marker that identifies an Oxy annotation within a WGSL comment line.
// Every annotation must appear on a line beginning with "//" followed by this prefix.
const annotationPrefix = "@oxy:"

// AnnotationType identifies the kind of annotation parsed from a WGSL comment line.
type AnnotationType string

const (
	// annotationTypeInclude injects the WGSL source of a registered struct or snippet at the
	// annotation site. It does not produce a declaration and is consumed entirely during
	// pre-processing.
	//
	// Syntax: //@oxy:include <include_type>
	//
	// Example: //@oxy:include particle
	annotationTypeInclude AnnotationType = "include"

	// AnnotationTypeBindingGroup generates a WGSL @group/@binding variable declaration
	// and appends an Annotation to the PreProcessor's declarations list.
	//
	// Syntax: //@oxy:group <group> <binding> <address_space> <var_name> <type>
	//
	// Example: //@oxy:group 1 0 storage_uniform params sort_params
	AnnotationTypeBindingGroup AnnotationType = "group"

	// AnnotationTypeProvider binds a group/binding pair to a shared buffer slot identity
	// without generating any WGSL output. Raw declarations (flat u32 arrays, atomics) stay
	// hand-written directly below the annotation.
	//
	// Syntax: //@oxy:provider <group> <binding> <slot_identity>
	//
	// Example: //@oxy:provider 0 3 prefix_sums
	AnnotationTypeProvider AnnotationType = "provider"
)

// Annotation represents a single parsed @oxy: annotation from a WGSL shader source line.
type Annotation struct {
	// Type identifies which annotation was parsed (include, group, or provider).
	Type AnnotationType

	// Args holds the annotation's arguments. The contents depend on Type:
	//   - include:  [0] = include type key (e.g. "particle")
	//   - group:    [0] = address space, [1] = var name, [2] = WGSL type key
	//   - provider: [0] = slot identity (e.g. "prefix_sums")
	Args []AnnotationArg

	// Line is the 1-based line number in the original WGSL source where this annotation
	// was found. Used for error reporting.
	Line int

	// Group is the @group index for group and provider annotations. Nil for include annotations.
	Group *int

	// Binding is the @binding index for group and provider annotations. Nil for include annotations.
	Binding *int
}

// AnnotationArg is a typed string constant used as an argument in annotations.
type AnnotationArg string

// ── Struct type arguments ──────────────────────────────────────────────────────
// These identify registered WGSL struct types. They can appear in @oxy:include annotations
// and as the type field of @oxy:group annotations, optionally wrapped in array<>.

const (
	// AnnotationArgParticle identifies the Particle struct.
	// Source: engine/particle/assets/particle.wgsl
	AnnotationArgParticle AnnotationArg = "particle"

	// AnnotationArgIntermediateData identifies the IntermediateData key-index pair.
	// Source: engine/kernels/assets/intermediate_data.wgsl
	AnnotationArgIntermediateData AnnotationArg = "intermediate_data"

	// AnnotationArgSortParams identifies the SortParams uniform block.
	// Source: engine/kernels/assets/sort_params.wgsl
	AnnotationArgSortParams AnnotationArg = "sort_params"

	// AnnotationArgScanParams identifies the ScanParams uniform block.
	// Source: engine/kernels/assets/scan_params.wgsl
	AnnotationArgScanParams AnnotationArg = "scan_params"

	// AnnotationArgUpdateParams identifies the UpdateParams uniform block.
	// Source: engine/particle/assets/update_params.wgsl
	AnnotationArgUpdateParams AnnotationArg = "update_params"

	// AnnotationArgResetParams identifies the ResetParams uniform block.
	// Source: engine/particle/assets/reset_params.wgsl
	AnnotationArgResetParams AnnotationArg = "reset_params"

	// AnnotationArgKeyParams identifies the KeyParams uniform block.
	// Source: engine/particle/assets/key_params.wgsl
	AnnotationArgKeyParams AnnotationArg = "key_params"

	// AnnotationArgCollideParams identifies the CollideParams uniform block.
	// Source: engine/particle/assets/collide_params.wgsl
	AnnotationArgCollideParams AnnotationArg = "collide_params"
)

// ── Snippet arguments ──────────────────────────────────────────────────────────
// These identify WGSL snippets that are only valid in @oxy:include annotations.

const (
	// annotationArgSortConstants injects ITEMS_PER_WORK_GROUP and UNUSED_SORT_KEY.
	annotationArgSortConstants AnnotationArg = "sort_constants"

	// annotationArgRandom injects the pcg_hash based random helpers.
	annotationArgRandom AnnotationArg = "random"
)

// ── Address space arguments ────────────────────────────────────────────────────

const (
	// annotationArgStorageTypeUniform maps to var<uniform> in WGSL.
	annotationArgStorageTypeUniform AnnotationArg = "storage_uniform"

	// annotationArgStorageTypeRead maps to var<storage, read> in WGSL.
	annotationArgStorageTypeRead AnnotationArg = "storage_read"

	// annotationArgStorageTypeReadWrite maps to var<storage, read_write> in WGSL.
	annotationArgStorageTypeReadWrite AnnotationArg = "storage_read_write"
)

// ── Slot identity arguments ────────────────────────────────────────────────────
// These name the shared device buffers. The registry checks that each identity is
// declared at its stable binding index in group 0.

const (
	AnnotationArgParticles    AnnotationArg = "particles"
	AnnotationArgIntermediate AnnotationArg = "intermediate"
	AnnotationArgGroupSums    AnnotationArg = "group_sums"
	AnnotationArgPrefixSums   AnnotationArg = "prefix_sums"
	AnnotationArgScratch      AnnotationArg = "scratch"
	AnnotationArgCounter      AnnotationArg = "counter"
)

// validStructTypes lists all AnnotationArg values that are accepted as struct type
// arguments in @oxy:include and @oxy:group annotations. Each entry must have a
// corresponding registryEntry in the PreProcessor's structRegistry.
var validStructTypes = []AnnotationArg{
	AnnotationArgParticle,
	AnnotationArgIntermediateData,
	AnnotationArgSortParams,
	AnnotationArgScanParams,
	AnnotationArgUpdateParams,
	AnnotationArgResetParams,
	AnnotationArgKeyParams,
	AnnotationArgCollideParams,
}

// validSnippets lists the include-only arguments.
var validSnippets = []AnnotationArg{
	annotationArgSortConstants,
	annotationArgRandom,
}

// validAddressSpaces lists all AnnotationArg values that are accepted as address
// space arguments in @oxy:group annotations. Each maps to a WGSL var<> declaration.
var validAddressSpaces = []AnnotationArg{
	annotationArgStorageTypeUniform,
	annotationArgStorageTypeRead,
	annotationArgStorageTypeReadWrite,
}

// validProviderIdentities lists all AnnotationArg values that are accepted as
// slot identities in @oxy:provider annotations.
var validProviderIdentities = []AnnotationArg{
	AnnotationArgParticles,
	AnnotationArgIntermediate,
	AnnotationArgGroupSums,
	AnnotationArgPrefixSums,
	AnnotationArgScratch,
	AnnotationArgCounter,
}

// parseAnnotation attempts to parse a single line of WGSL source as an @oxy: annotation.
// Returns nil with no error for lines that do not contain the annotation prefix. Returns
// a populated Annotation for valid annotations, or an error describing the problem for
// malformed annotations with correct prefix but invalid syntax or unknown arguments.
//
// Parameters:
//   - line: the raw WGSL source line to parse
//   - lineNum: the 1-based line number for error reporting
//
// Returns:
//   - *Annotation: the parsed annotation, or nil if the line is not an annotation
//   - error: a descriptive error if the annotation is malformed
func parseAnnotation(line string, lineNum int) (*Annotation, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "//") {
		return nil, nil
	}
	_, after, ok := strings.Cut(trimmed, annotationPrefix)
	if !ok {
		return nil, nil
	}

	args := strings.Fields(after)
	if len(args) == 0 {
		return nil, fmt.Errorf("line %d: empty @oxy annotation", lineNum)
	}

	switch args[0] {
	case string(annotationTypeInclude):
		if len(args) != 2 {
			return nil, fmt.Errorf("line %d: @oxy include annotation requires exactly one argument", lineNum)
		}
		arg := AnnotationArg(args[1])
		if !slices.Contains(validStructTypes, arg) && !slices.Contains(validSnippets, arg) {
			return nil, fmt.Errorf("line %d: unknown include type %q in @oxy include annotation", lineNum, args[1])
		}
		return &Annotation{
			Type: annotationTypeInclude,
			Args: []AnnotationArg{arg},
			Line: lineNum,
		}, nil
	case string(AnnotationTypeBindingGroup):
		if len(args) != 6 {
			return nil, fmt.Errorf("line %d: @oxy group annotation requires exactly five arguments (group number, binding number, address space, var name, struct type)", lineNum)
		}
		groupInt, bindingInt, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validAddressSpaces, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown address space %q in @oxy group annotation", lineNum, args[3])
		}
		typeArg := args[5]
		if inner, ok := strings.CutPrefix(typeArg, "array<"); ok {
			inner = strings.TrimSuffix(inner, ">")
			if !slices.Contains(validStructTypes, AnnotationArg(inner)) {
				return nil, fmt.Errorf("line %d: unknown array element type %q in @oxy group annotation", lineNum, inner)
			}
		} else if !slices.Contains(validStructTypes, AnnotationArg(typeArg)) {
			return nil, fmt.Errorf("line %d: unknown struct type %q in @oxy group annotation", lineNum, typeArg)
		}
		return &Annotation{
			Type:    AnnotationTypeBindingGroup,
			Args:    []AnnotationArg{AnnotationArg(args[3]), AnnotationArg(args[4]), AnnotationArg(args[5])},
			Line:    lineNum,
			Group:   &groupInt,
			Binding: &bindingInt,
		}, nil
	case string(AnnotationTypeProvider):
		if len(args) != 4 {
			return nil, fmt.Errorf("line %d: @oxy provider annotation requires exactly three arguments (group, binding, slot identity)", lineNum)
		}
		groupInt, bindingInt, err := parseGroupBinding(args[1], args[2], lineNum)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(validProviderIdentities, AnnotationArg(args[3])) {
			return nil, fmt.Errorf("line %d: unknown slot identity %q in @oxy provider annotation", lineNum, args[3])
		}
		return &Annotation{
			Type:    AnnotationTypeProvider,
			Args:    []AnnotationArg{AnnotationArg(args[3])},
			Line:    lineNum,
			Group:   &groupInt,
			Binding: &bindingInt,
		}, nil
	default:
		return nil, fmt.Errorf("line %d: unknown @oxy annotation type %q", lineNum, args[0])
	}
}

func parseGroupBinding(group, binding string, lineNum int) (int, int, error) {
	groupInt, err := strconv.Atoi(group)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid group number %q: %v", lineNum, group, err)
	}
	bindingInt, err := strconv.Atoi(binding)
	if err != nil {
		return 0, 0, fmt.Errorf("line %d: invalid binding number %q: %v", lineNum, binding, err)
	}
	return groupInt, bindingInt, nil
}
