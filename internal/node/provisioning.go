package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

// ErrInvalidProvisioning is returned by Validate.
var ErrInvalidProvisioning = errors.New("node: invalid provisioning")

const (
	defaultBrokerPort = 1883
	maxSSIDLength     = 32
)

// Provisioning is the node configuration submitted through the portal and
// persisted at config/provisioned. The network credentials are kept for the
// platform's network manager; the node itself only uses the broker and
// naming settings.
type Provisioning struct {
	SSID          string `json:"ssid"`
	Password      string `json:"password,omitempty"`
	BrokerHost    string `json:"broker_host"`
	BrokerPort    int    `json:"broker_port,omitempty"`
	CoordinatorID string `json:"kaiser_id,omitempty"`
	DeviceName    string `json:"device_name,omitempty"`
}

// Validate checks every field and reports all problems at once.
func (p Provisioning) Validate() error {
	var problems []string
	if p.SSID == "" {
		problems = append(problems, "ssid is required")
	} else if len(p.SSID) > maxSSIDLength {
		problems = append(problems, fmt.Sprintf("ssid longer than %d bytes", maxSSIDLength))
	}
	if p.BrokerHost == "" {
		problems = append(problems, "broker_host is required")
	}
	if p.BrokerPort < 0 || p.BrokerPort > 65535 {
		problems = append(problems, "broker_port must be between 1 and 65535")
	}
	if strings.ContainsAny(p.CoordinatorID, "/+#") {
		problems = append(problems, "kaiser_id must not contain '/', '+' or '#'")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidProvisioning, strings.Join(problems, "; "))
	}
	return nil
}

func (p Provisioning) port() int {
	if p.BrokerPort == 0 {
		return defaultBrokerPort
	}
	return p.BrokerPort
}

// Apply overlays the provisioned settings on cfg.
func (p Provisioning) Apply(cfg *config.Config) {
	cfg.MQTT.Broker.Host = p.BrokerHost
	cfg.MQTT.Broker.Port = p.port()
	if p.CoordinatorID != "" {
		cfg.Device.CoordinatorID = p.CoordinatorID
	}
	if p.DeviceName != "" {
		cfg.Device.Name = p.DeviceName
	}
}

// SaveProvisioning persists p.
func SaveProvisioning(ctx context.Context, store storage.Store, p Provisioning) error {
	if err := storage.PutJSON(ctx, store, storage.NSConfig, storage.KeyProvisioned, p); err != nil {
		return fmt.Errorf("saving provisioning: %w", err)
	}
	return nil
}

// LoadProvisioning returns the stored provisioning. ok is false when none
// has been stored.
func LoadProvisioning(ctx context.Context, store storage.Store) (p Provisioning, ok bool, err error) {
	err = storage.GetJSON(ctx, store, storage.NSConfig, storage.KeyProvisioned, &p)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return Provisioning{}, false, nil
	case err != nil:
		return Provisioning{}, false, fmt.Errorf("loading provisioning: %w", err)
	}
	return p, true, nil
}
