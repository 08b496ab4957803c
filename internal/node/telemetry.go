package node

// Telemetry receives time-series points. *influxdb.Client implements it;
// writes are buffered there, so none of these calls block the loop.
type Telemetry interface {
	WriteActuatorStatus(gpio int, kind string, on bool, pwm uint8, runtimeMs uint64, emergency string)
	WriteSensorReading(gpio int, kind string, raw uint16)
	WriteAlert(gpio int, alertType, message string)
	WriteBreakerTransition(service, from, to string, failures int)
	WriteSafetyEvent(kind, reason string, affected, failed int)
	WriteWatchdogTimeout(mode, reason, lastComponent string, feedCount uint64)
	WriteHealth(fields map[string]interface{})
}

type noopTelemetry struct{}

func (noopTelemetry) WriteActuatorStatus(int, string, bool, uint8, uint64, string) {}
func (noopTelemetry) WriteSensorReading(int, string, uint16)                       {}
func (noopTelemetry) WriteAlert(int, string, string)                               {}
func (noopTelemetry) WriteBreakerTransition(string, string, string, int)           {}
func (noopTelemetry) WriteSafetyEvent(string, string, int, int)                    {}
func (noopTelemetry) WriteWatchdogTimeout(string, string, string, uint64)          {}
func (noopTelemetry) WriteHealth(map[string]interface{})                           {}
