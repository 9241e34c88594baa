package plugins

// DependencyType classifies how strongly a plugin depends on another.
type DependencyType string

const (
	// DependencyRequired blocks resolution when the target is absent.
	DependencyRequired DependencyType = "required"
	// DependencyPeer expects the target to be provided alongside the
	// dependent; it is resolved like a required dependency for ordering.
	DependencyPeer DependencyType = "peer"
	// DependencyOptional never blocks resolution; absence or version
	// mismatch only produces warnings.
	DependencyOptional DependencyType = "optional"
)

// Dependency describes a single declared dependency of a plugin.
type Dependency struct {
	// Name of the target plugin.
	Name string
	// Type of the dependency edge.
	Type DependencyType
	// Requirement optionally constrains the target plugin's version.
	Requirement *VersionRequirement
	// Condition, when non-nil, gates the dependency: a false result means
	// the dependency is ignored during resolution.
	Condition func() bool
}

// Required reports whether the dependency blocks resolution when unmet.
// Peer dependencies are treated like required ones for ordering and
// compatibility purposes.
func (d Dependency) Required() bool {
	return d.Type == DependencyRequired || d.Type == DependencyPeer
}

// active reports whether the dependency currently applies.
func (d Dependency) active() bool {
	return d.Condition == nil || d.Condition()
}

// Require declares a required dependency on the named plugin.
func Require(name string) Dependency {
	return Dependency{Name: name, Type: DependencyRequired}
}

// RequireVersion declares a required dependency with a version requirement
// ("1.2.3", "^1.2.3" or "~1.2.3").
func RequireVersion(name, requirement string) Dependency {
	return Dependency{Name: name, Type: DependencyRequired, Requirement: ParseRequirement(requirement)}
}

// Peer declares a peer dependency with an optional version requirement.
// Pass an empty requirement to only constrain presence.
func Peer(name, requirement string) Dependency {
	d := Dependency{Name: name, Type: DependencyPeer}
	if requirement != "" {
		d.Requirement = ParseRequirement(requirement)
	}
	return d
}

// Optional declares an optional dependency on the named plugin.
func Optional(name string) Dependency {
	return Dependency{Name: name, Type: DependencyOptional}
}

// NormalizeDeps flattens separate required/peer/optional name lists into
// Dependency values, in declaration order. Plugins that keep plain string
// lists use this to satisfy DependencyAware.
func NormalizeDeps(required, peer, optional []string) []Dependency {
	out := make([]Dependency, 0, len(required)+len(peer)+len(optional))
	for _, n := range required {
		out = append(out, Dependency{Name: n, Type: DependencyRequired})
	}
	for _, n := range peer {
		out = append(out, Dependency{Name: n, Type: DependencyPeer})
	}
	for _, n := range optional {
		out = append(out, Dependency{Name: n, Type: DependencyOptional})
	}
	return out
}
