package faults

// Code is a stable, wire-facing fault identifier.
//
// Codes are grouped in four bands that mirror the device's severity bands:
//
//	1000-1999 Hardware       (pins, PWM, drivers)
//	2000-2999 Service        (storage, configuration)
//	3000-3999 Communication  (network link, message bus, requests)
//	4000-4999 Application    (state machine, payloads, memory)
type Code uint16

// Category is the band a Code belongs to.
type Category string

const (
	CategoryHardware      Category = "hardware"
	CategoryService       Category = "service"
	CategoryCommunication Category = "communication"
	CategoryApplication   Category = "application"
	CategoryUnknown       Category = "unknown"
)

// Hardware faults.
const (
	GPIOReserved      Code = 1001
	GPIOConflict      Code = 1002
	GPIOInitFailed    Code = 1003
	GPIOInvalidMode   Code = 1004
	GPIOOutOfRange    Code = 1005
	PWMInitFailed     Code = 1010
	PWMChannelInvalid Code = 1011
	ActuatorInit      Code = 1020
	ActuatorWrite     Code = 1021
	SensorInit        Code = 1030
	SensorRead        Code = 1031
	SafeModeLock      Code = 1040
	WatchdogInit      Code = 1050
)

// Service faults.
const (
	StorageInit   Code = 2001
	StorageRead   Code = 2002
	StorageWrite  Code = 2003
	ConfigInvalid Code = 2010
	ConfigMissing Code = 2011
	ConfigLoad    Code = 2012
	ConfigSave    Code = 2013
)

// Communication faults.
const (
	LinkConnect       Code = 3001
	LinkLost          Code = 3002
	LinkTimeout       Code = 3003
	BusConnect        Code = 3010
	BusPublish        Code = 3011
	BusSubscribe      Code = 3012
	BusLost           Code = 3013
	BreakerOpen       Code = 3020
	PortalUnavailable Code = 3030
)

// Application faults.
const (
	StateInvalid        Code = 4001
	TransitionRejected  Code = 4002
	OutOfMemory         Code = 4010
	PayloadParse        Code = 4020
	PayloadInvalid      Code = 4021
	UnknownActuatorType Code = 4030
	UnknownSensorType   Code = 4031
	CommandInvalid      Code = 4040
	CommandRejected     Code = 4041
	EmergencyActive     Code = 4042
	ProtectionTripped   Code = 4043
	NotConfigured       Code = 4044
	Unauthorized        Code = 4050
	ZoneNotAssigned     Code = 4060
	ZoneMismatch        Code = 4061
	SubzoneInvalid      Code = 4062
	BootLoop            Code = 4070
	WatchdogTimeout     Code = 4080
	ApprovalRejected    Code = 4090
)

var codeNames = map[Code]string{
	GPIOReserved:        "GPIO_RESERVED",
	GPIOConflict:        "GPIO_CONFLICT",
	GPIOInitFailed:      "GPIO_INIT_FAILED",
	GPIOInvalidMode:     "GPIO_INVALID_MODE",
	GPIOOutOfRange:      "GPIO_OUT_OF_RANGE",
	PWMInitFailed:       "PWM_INIT_FAILED",
	PWMChannelInvalid:   "PWM_CHANNEL_INVALID",
	ActuatorInit:        "ACTUATOR_INIT_FAILED",
	ActuatorWrite:       "ACTUATOR_WRITE_FAILED",
	SensorInit:          "SENSOR_INIT_FAILED",
	SensorRead:          "SENSOR_READ_FAILED",
	SafeModeLock:        "SAFE_MODE_LOCK_FAILED",
	WatchdogInit:        "WATCHDOG_INIT_FAILED",
	StorageInit:         "STORAGE_INIT_FAILED",
	StorageRead:         "STORAGE_READ_FAILED",
	StorageWrite:        "STORAGE_WRITE_FAILED",
	ConfigInvalid:       "CONFIG_INVALID",
	ConfigMissing:       "CONFIG_MISSING",
	ConfigLoad:          "CONFIG_LOAD_FAILED",
	ConfigSave:          "CONFIG_SAVE_FAILED",
	LinkConnect:         "LINK_CONNECT_FAILED",
	LinkLost:            "LINK_LOST",
	LinkTimeout:         "LINK_TIMEOUT",
	BusConnect:          "BUS_CONNECT_FAILED",
	BusPublish:          "BUS_PUBLISH_FAILED",
	BusSubscribe:        "BUS_SUBSCRIBE_FAILED",
	BusLost:             "BUS_LOST",
	BreakerOpen:         "CIRCUIT_BREAKER_OPEN",
	PortalUnavailable:   "PORTAL_UNAVAILABLE",
	StateInvalid:        "STATE_INVALID",
	TransitionRejected:  "STATE_TRANSITION_REJECTED",
	OutOfMemory:         "OUT_OF_MEMORY",
	PayloadParse:        "JSON_PARSE_ERROR",
	PayloadInvalid:      "PAYLOAD_INVALID",
	UnknownActuatorType: "UNKNOWN_ACTUATOR_TYPE",
	UnknownSensorType:   "UNKNOWN_SENSOR_TYPE",
	CommandInvalid:      "COMMAND_INVALID",
	CommandRejected:     "COMMAND_REJECTED",
	EmergencyActive:     "EMERGENCY_ACTIVE",
	ProtectionTripped:   "RUNTIME_PROTECTION_TRIPPED",
	NotConfigured:       "NOT_CONFIGURED",
	Unauthorized:        "UNAUTHORIZED",
	ZoneNotAssigned:     "ZONE_NOT_ASSIGNED",
	ZoneMismatch:        "ZONE_MISMATCH",
	SubzoneInvalid:      "SUBZONE_INVALID",
	BootLoop:            "BOOT_LOOP_DETECTED",
	WatchdogTimeout:     "WATCHDOG_TIMEOUT",
	ApprovalRejected:    "APPROVAL_REJECTED",
}

// Name returns the symbolic name of the code, or "UNKNOWN_ERROR".
func (c Code) Name() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN_ERROR"
}

// Category returns the band the code falls into.
func (c Code) Category() Category {
	switch {
	case c >= 1000 && c < 2000:
		return CategoryHardware
	case c >= 2000 && c < 3000:
		return CategoryService
	case c >= 3000 && c < 4000:
		return CategoryCommunication
	case c >= 4000 && c < 5000:
		return CategoryApplication
	default:
		return CategoryUnknown
	}
}

// Error makes a bare Code usable as an error value.
func (c Code) Error() string { return c.Name() }
