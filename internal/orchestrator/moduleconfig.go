package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// ModuleClass distinguishes a binding's Wasm module class, mirroring
// wasmhost.Class without importing it (the config layer stays decoupled
// from the runtime it configures).
type ModuleClass string

const (
	ModuleClassWAF          ModuleClass = "waf"
	ModuleClassEdgeFunction ModuleClass = "edge_function"
)

// SourceKind is where a module binding's bytes come from (spec.md §6
// "module config file ... source (local path or CID)").
type SourceKind string

const (
	SourceLocal SourceKind = "local"
	SourceIPFS  SourceKind = "ipfs"
	SourceGRPC  SourceKind = "grpc_registry"
)

// ModuleBinding binds a route (method + path prefix) to a module id with
// a priority used to break ties when more than one binding matches the
// same request (lower value wins).
type ModuleBinding struct {
	ModuleID string      `yaml:"module_id"`
	Method   string      `yaml:"method"`
	Prefix   string      `yaml:"path_prefix"`
	Class    ModuleClass `yaml:"class"`
	Priority uint16      `yaml:"priority"`
	Source   SourceKind  `yaml:"source"`
	// Location is a filesystem path when Source is local, or a
	// `sha256:<hex>` content address when Source is ipfs (the daemon checks
	// the cached module bytes against it with wasmhost.VerifyContentAddress
	// before calling wasmhost.Load).
	Location  string `yaml:"location"`
	Issuer    string `yaml:"issuer"` // hex-encoded Ed25519 public key
	Signature string `yaml:"signature"`
}

// moduleConfigFile is the on-disk YAML shape of spec.md §6's "module
// config file": routes, module classes, bindings, priorities,
// signature/issuer, and source.
type moduleConfigFile struct {
	Bindings []ModuleBinding `yaml:"bindings"`
}

const maxPriority = 10_000

// LoadModuleConfig reads and validates a module config file at path,
// rejecting unknown fields and out-of-bounds priorities (spec.md §6:
// "Parser enforces bounds; unknown fields are rejected"). An empty path
// yields an empty RouteTable.
func LoadModuleConfig(path string) (*RouteTable, error) {
	rt := NewRouteTable()
	if path == "" {
		return rt, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open module config: %w", err)
	}
	defer f.Close()

	var mcf moduleConfigFile
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&mcf); err != nil {
		return nil, fmt.Errorf("orchestrator: decode module config: %w", err)
	}

	for _, b := range mcf.Bindings {
		if err := validateBinding(b); err != nil {
			return nil, err
		}
		rt.Add(b)
	}
	return rt, nil
}

func validateBinding(b ModuleBinding) error {
	if b.ModuleID == "" {
		return fmt.Errorf("orchestrator: binding missing module_id")
	}
	if b.Prefix == "" {
		return fmt.Errorf("orchestrator: binding %s missing path_prefix", b.ModuleID)
	}
	if b.Priority > maxPriority {
		return fmt.Errorf("orchestrator: binding %s priority %d exceeds max %d", b.ModuleID, b.Priority, maxPriority)
	}
	if b.Class != ModuleClassWAF && b.Class != ModuleClassEdgeFunction {
		return fmt.Errorf("orchestrator: binding %s has unknown class %q", b.ModuleID, b.Class)
	}
	switch b.Source {
	case SourceLocal, SourceIPFS, SourceGRPC:
	default:
		return fmt.Errorf("orchestrator: binding %s has unknown source %q", b.ModuleID, b.Source)
	}
	return nil
}

// matches reports whether b binds method+uri: method is matched
// case-insensitively and exactly, uri by prefix.
func (b ModuleBinding) matches(method, uri string) bool {
	if !strings.EqualFold(b.Method, method) {
		return false
	}
	return strings.HasPrefix(uri, b.Prefix)
}
