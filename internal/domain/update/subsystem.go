package update

// Subsystem identifies one independently versioned component of the appliance.
// The value doubles as the record key in the persisted version store.
type Subsystem string

const (
	// SubsystemPanel is the primary web panel whose update replaces
	// the whole working directory tree.
	SubsystemPanel Subsystem = "system_version"
	// SubsystemRouter is the routing auxiliary service.
	SubsystemRouter Subsystem = "router_version"
	// SubsystemFirewall is the firewall auxiliary service.
	SubsystemFirewall Subsystem = "firewall_version"
	// SubsystemStartup is the startup manager auxiliary service.
	SubsystemStartup Subsystem = "startup_version"
)

// AuxiliaryOrder is the fixed order in which auxiliary subsystems are updated.
// Router first, then firewall, then startup.
func AuxiliaryOrder() []Subsystem {
	return []Subsystem{SubsystemRouter, SubsystemFirewall, SubsystemStartup}
}

// String returns the store key of the subsystem.
func (s Subsystem) String() string {
	return string(s)
}

// DisplayName returns a short human-readable name for operator output.
func (s Subsystem) DisplayName() string {
	switch s {
	case SubsystemPanel:
		return "panel"
	case SubsystemRouter:
		return "router"
	case SubsystemFirewall:
		return "firewall"
	case SubsystemStartup:
		return "startup"
	default:
		return string(s)
	}
}
