package lifecycle

import "github.com/nerrad567/kaiser-edge/internal/hal"

// State is the device lifecycle state.
type State uint8

const (
	Boot State = iota
	WifiSetup
	WifiConnected
	BusConnecting
	BusConnected
	AwaitingConfig
	ZoneConfigured
	SensorsConfigured
	Operational
	PendingApproval
	SafeMode
	SafeModeProvisioning
	Error
)

var stateNames = [...]string{
	Boot:                 "boot",
	WifiSetup:            "wifi_setup",
	WifiConnected:        "wifi_connected",
	BusConnecting:        "bus_connecting",
	BusConnected:         "bus_connected",
	AwaitingConfig:       "awaiting_config",
	ZoneConfigured:       "zone_configured",
	SensorsConfigured:    "sensors_configured",
	Operational:          "operational",
	PendingApproval:      "pending_approval",
	SafeMode:             "safe_mode",
	SafeModeProvisioning: "safe_mode_provisioning",
	Error:                "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	*s = Boot
	return nil
}

// Reasons attached to SafeMode, SafeModeProvisioning and Error.
const (
	ReasonBootLoop            = "boot_loop"
	ReasonLinkTimeout         = "link_timeout"
	ReasonProvisioningTimeout = "provisioning_timeout"
	ReasonApprovalRejected    = "approval_rejected"
	ReasonCriticalFault       = "critical_fault"
	ReasonStorage             = "storage_failure"
	ReasonManual              = "manual"
)

// transitions lists the ordinary edges. SafeMode, SafeModeProvisioning,
// Error and Boot are reachable from any state through the dedicated methods.
var transitions = map[State][]State{
	Boot:              {WifiSetup, WifiConnected},
	WifiSetup:         {Boot},
	WifiConnected:     {BusConnecting},
	BusConnecting:     {BusConnected},
	BusConnected:      {AwaitingConfig, ZoneConfigured, PendingApproval},
	AwaitingConfig:    {ZoneConfigured, PendingApproval},
	ZoneConfigured:    {SensorsConfigured, AwaitingConfig, PendingApproval},
	SensorsConfigured: {Operational, ZoneConfigured, AwaitingConfig, PendingApproval},
	Operational:       {SensorsConfigured, ZoneConfigured, AwaitingConfig, PendingApproval},
	PendingApproval:   {BusConnected},
}

// CanTransition reports whether from to to is an ordinary edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllowsActuation reports whether actuator commands are accepted.
func (s State) AllowsActuation() bool {
	switch s {
	case AwaitingConfig, ZoneConfigured, SensorsConfigured, Operational:
		return true
	}
	return false
}

// AllowsConfiguration reports whether configuration messages are accepted.
func (s State) AllowsConfiguration() bool {
	return s == BusConnected || s.AllowsActuation()
}

// AllowsHeartbeat reports whether heartbeats are published.
func (s State) AllowsHeartbeat() bool {
	return s == PendingApproval || s.AllowsConfiguration()
}

// PortalActive reports whether the provisioning portal should be served.
func (s State) PortalActive() bool {
	return s == WifiSetup || s == SafeModeProvisioning
}

// Pattern returns the indicator pattern for the state.
func Pattern(s State, reason string) hal.Pattern {
	switch s {
	case WifiSetup, SafeModeProvisioning:
		return hal.PatternProvisioning
	case SafeMode:
		return hal.PatternSafeMode
	case Error:
		switch reason {
		case ReasonApprovalRejected:
			return hal.PatternApprovalRejected
		case ReasonStorage:
			return hal.PatternStorageFailure
		case ReasonLinkTimeout:
			return hal.PatternLinkFailure
		default:
			return hal.PatternHardwareFailure
		}
	}
	return hal.PatternOff
}
