package router

import (
	"encoding/json"

	"github.com/nerrad567/kaiser-edge/internal/faults"
	"github.com/nerrad567/kaiser-edge/internal/safety"
)

// Response statuses.
const (
	StatusOK             = "ok"
	StatusError          = "error"
	StatusUnauthorized   = "unauthorized"
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusFailed         = "failed"
	StatusZoneAssigned   = "zone_assigned"
	StatusSubzoneAdded   = "subzone_assigned"
	StatusSubzoneRemoved = "subzone_removed"
)

// Emergency commands.
const (
	EmergencyStopAll = "stop_all"
	EmergencyClear   = "clear"
	EmergencyResume  = "resume"
)

// System commands.
const (
	SystemReboot            = "reboot"
	SystemFactoryReset      = "factory_reset"
	SystemExitSafeMode      = "exit_safe_mode"
	SystemDiagnostics       = "diagnostics"
	SystemSetEmergencyToken = "set_emergency_token"
)

// maxConfigFailures bounds the failures listed in a config response.
const maxConfigFailures = 20

// ErrorInfo is embedded in every response that can fail.
type ErrorInfo struct {
	ErrorCode faults.Code `json:"error_code,omitempty"`
	ErrorName string      `json:"error_name,omitempty"`
	Message   string      `json:"message,omitempty"`
}

func errorInfo(code faults.Code, msg string) ErrorInfo {
	return ErrorInfo{ErrorCode: code, ErrorName: code.Name(), Message: msg}
}

// CommandRequest is the payload of actuator and sensor commands.
type CommandRequest struct {
	Command       string   `json:"command"`
	Value         *float64 `json:"value,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	// Senders stamp epoch seconds (fractional) or epoch milliseconds.
	// The value is informational only.
	Timestamp     float64  `json:"timestamp,omitempty"`
}

// CommandResponse is published on actuator/{gpio}/response.
type CommandResponse struct {
	GPIO          int     `json:"gpio"`
	Command       string  `json:"command"`
	Value         float64 `json:"value"`
	Success       bool    `json:"success"`
	State         bool    `json:"state"`
	PWM           uint8   `json:"pwm"`
	CorrelationID string  `json:"correlation_id"`
	ErrorInfo
	Timestamp uint32 `json:"timestamp"`
}

// ConfigRequest carries a batch of component configurations. Items are
// decoded one by one so that a malformed item fails alone.
type ConfigRequest struct {
	Sensors   []json.RawMessage `json:"sensors"`
	Actuators []json.RawMessage `json:"actuators"`
}

// ConfigFailureItem describes one rejected configuration item.
type ConfigFailureItem struct {
	Type      string      `json:"type"`
	GPIO      int         `json:"gpio"`
	ErrorCode faults.Code `json:"error_code"`
	ErrorName string      `json:"error_name"`
	Detail    string      `json:"detail"`
}

// ConfigResponse is published on config_response.
type ConfigResponse struct {
	Status       string              `json:"status"`
	SuccessCount int                 `json:"success_count"`
	FailCount    int                 `json:"fail_count"`
	Failures     []ConfigFailureItem `json:"failures"`
	Timestamp    uint32              `json:"timestamp"`
}

// EmergencyRequest is the payload of actuator/emergency and the broadcast
// emergency topic.
type EmergencyRequest struct {
	Command   string `json:"command"`
	AuthToken string `json:"auth_token"`
	Reason    string `json:"reason,omitempty"`
	GPIO      *int   `json:"gpio,omitempty"`
}

// SystemRequest is the payload of system/command.
type SystemRequest struct {
	Command   string `json:"command"`
	Confirm   bool   `json:"confirm,omitempty"`
	Reason    string `json:"reason,omitempty"`
	AuthToken string `json:"auth_token,omitempty"`
	Token     string `json:"token,omitempty"`
}

// CommandResult is published on system/response for emergency and system
// commands.
type CommandResult struct {
	Command string `json:"command"`
	Status  string `json:"status"`
	ErrorInfo
	Failed    []int  `json:"failed,omitempty"`
	Timestamp uint32 `json:"timestamp"`
}

// ZoneAssignment places the device in the coordinator's zone hierarchy.
type ZoneAssignment struct {
	ZoneID       string `json:"zone_id"`
	MasterZoneID string `json:"master_zone_id,omitempty"`
	ZoneName     string `json:"zone_name,omitempty"`
	KaiserID     string `json:"kaiser_id,omitempty"`
}

// ZoneAck is published on zone/ack.
type ZoneAck struct {
	Status string `json:"status"`
	ZoneAssignment
	ErrorInfo
	Timestamp uint32 `json:"timestamp"`
}

// SubzoneRequest is the payload of subzone/assign and subzone/remove.
type SubzoneRequest struct {
	SubzoneID      string `json:"subzone_id"`
	ParentZoneID   string `json:"parent_zone_id,omitempty"`
	SubzoneName    string `json:"subzone_name,omitempty"`
	GPIOs          []int  `json:"assigned_gpios"`
	SafeModeActive *bool  `json:"safe_mode_active,omitempty"`
}

// SubzoneRecord is the persisted form of an accepted subzone.
type SubzoneRecord struct {
	SubzoneID      string `json:"subzone_id"`
	ParentZoneID   string `json:"parent_zone_id"`
	SubzoneName    string `json:"subzone_name,omitempty"`
	GPIOs          []int  `json:"assigned_gpios"`
	SafeModeActive bool   `json:"safe_mode_active"`
}

// SubzoneAck is published on subzone/ack.
type SubzoneAck struct {
	Status           string `json:"status"`
	SubzoneID        string `json:"subzone_id"`
	GPIOs            []int  `json:"assigned_gpios,omitempty"`
	SafeModeDegraded bool   `json:"safe_mode_degraded,omitempty"`
	ErrorInfo
	Timestamp uint32 `json:"timestamp"`
}

// HeartbeatAckPayload is the coordinator's answer to a heartbeat.
type HeartbeatAckPayload struct {
	Status string `json:"status"`
}

// EmergencyEventPayload wraps a safety event for system/emergency.
type EmergencyEventPayload struct {
	safety.Event
	DeviceState string `json:"device_state"`
}
