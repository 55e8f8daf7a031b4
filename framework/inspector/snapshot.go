package inspector

import (
	"github.com/km-arc/go-registry/framework/container"
)

// ContainerInfo describes one container of the tree.
type ContainerInfo struct {
	ID               string `json:"id" yaml:"id"`
	Parent           string `json:"parent,omitempty" yaml:"parent,omitempty"`
	Level            int    `json:"level" yaml:"level"`
	Version          uint32 `json:"version" yaml:"version"`
	Registrations    int    `json:"registrations" yaml:"registrations"`
	Names            int    `json:"names" yaml:"names"`
	RegistryCapacity int    `json:"registryCapacity" yaml:"registryCapacity"`
	ContractCapacity int    `json:"contractCapacity" yaml:"contractCapacity"`
	Resizes          uint32 `json:"resizes" yaml:"resizes"`
}

// RegistrationInfo is one enumerated binding.
type RegistrationInfo struct {
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Lifetime string `json:"lifetime" yaml:"lifetime"`
}

// ContainerDump pairs a container with the bindings visible from it.
type ContainerDump struct {
	Container     ContainerInfo      `json:"container" yaml:"container"`
	Registrations []RegistrationInfo `json:"registrations" yaml:"registrations"`
}

// Describe returns the occupancy of c.
func Describe(c *container.Container) ContainerInfo {
	s := c.Scope().Stats()
	info := ContainerInfo{
		ID:               c.ID().String(),
		Level:            s.Level,
		Version:          s.Version,
		Registrations:    s.Registrations,
		Names:            s.Names,
		RegistryCapacity: s.RegistryCapacity,
		ContractCapacity: s.ContractCapacity,
		Resizes:          s.Resizes,
	}
	if p := c.Parent(); p != nil {
		info.Parent = p.ID().String()
	}
	return info
}

// Registrations lists the bindings visible from c, nearest first.
func Registrations(c *container.Container) []RegistrationInfo {
	out := []RegistrationInfo{}
	for r := range c.Registrations() {
		out = append(out, RegistrationInfo{
			Type:     r.Type.String(),
			Name:     r.Name,
			Lifetime: container.Lifetime(r.Manager),
		})
	}
	return out
}

// Dump walks the tree rooted at root.
func Dump(root *container.Container) []ContainerDump {
	var out []ContainerDump
	root.Walk(func(c *container.Container) {
		out = append(out, ContainerDump{Container: Describe(c), Registrations: Registrations(c)})
	})
	return out
}
