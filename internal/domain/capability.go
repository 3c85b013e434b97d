package domain

import (
	"sort"
	"strings"
)

// =====================================================
// Chatflow Capabilities
// =====================================================

// Capability is an action a user may perform on a chatflow.
type Capability string

const (
	CapabilityView  Capability = "view"
	CapabilityChat  Capability = "chat"
	CapabilityEdit  Capability = "edit"
	CapabilityAdmin Capability = "admin"
)

// DefaultAction is the capability checked when a caller does not name one.
const DefaultAction = CapabilityChat

// IsValid reports whether c belongs to the fixed chatflow capability vocabulary.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityView, CapabilityChat, CapabilityEdit, CapabilityAdmin:
		return true
	default:
		return false
	}
}

func (c Capability) String() string {
	return string(c)
}

// ParseCapability lower-cases and validates a capability name.
// An empty string resolves to DefaultAction.
func ParseCapability(s string) (Capability, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultAction, true
	}
	c := Capability(s)
	return c, c.IsValid()
}

// Capabilities is a set of chatflow capabilities kept sorted and deduplicated.
type Capabilities []Capability

// NewCapabilities builds a normalized set from the given members.
func NewCapabilities(caps ...Capability) Capabilities {
	return Capabilities(caps).Normalize()
}

// CapabilitiesFromStrings converts a stored text[] column into a normalized set.
// Unknown entries are dropped.
func CapabilitiesFromStrings(values []string) Capabilities {
	out := make(Capabilities, 0, len(values))
	for _, v := range values {
		c := Capability(strings.ToLower(strings.TrimSpace(v)))
		if c.IsValid() {
			out = append(out, c)
		}
	}
	return out.Normalize()
}

// Has reports whether c is a member of the set.
func (cs Capabilities) Has(c Capability) bool {
	for _, member := range cs {
		if member == c {
			return true
		}
	}
	return false
}

// Union returns a new set holding every member of cs and other.
// The result never loses a member of either operand.
func (cs Capabilities) Union(other Capabilities) Capabilities {
	merged := make(Capabilities, 0, len(cs)+len(other))
	merged = append(merged, cs...)
	merged = append(merged, other...)
	return merged.Normalize()
}

// Without returns a new set with c removed.
func (cs Capabilities) Without(c Capability) Capabilities {
	out := make(Capabilities, 0, len(cs))
	for _, member := range cs {
		if member != c {
			out = append(out, member)
		}
	}
	return out
}

// Normalize sorts and deduplicates the set.
func (cs Capabilities) Normalize() Capabilities {
	seen := make(map[Capability]struct{}, len(cs))
	out := make(Capabilities, 0, len(cs))
	for _, c := range cs {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the set as plain strings for text[] columns.
func (cs Capabilities) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
