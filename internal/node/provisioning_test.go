package node

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/config"
	"github.com/nerrad567/kaiser-edge/internal/storage"
)

func TestProvisioning_Validate(t *testing.T) {
	tests := []struct {
		name    string
		p       Provisioning
		wantErr string
	}{
		{
			name: "valid",
			p:    Provisioning{SSID: "farm", BrokerHost: "10.0.0.2"},
		},
		{
			name:    "missing ssid",
			p:       Provisioning{BrokerHost: "10.0.0.2"},
			wantErr: "ssid is required",
		},
		{
			name:    "ssid too long",
			p:       Provisioning{SSID: strings.Repeat("a", 33), BrokerHost: "10.0.0.2"},
			wantErr: "ssid longer than 32 bytes",
		},
		{
			name:    "missing broker",
			p:       Provisioning{SSID: "farm"},
			wantErr: "broker_host is required",
		},
		{
			name:    "port out of range",
			p:       Provisioning{SSID: "farm", BrokerHost: "h", BrokerPort: 70000},
			wantErr: "broker_port",
		},
		{
			name:    "wildcard in coordinator",
			p:       Provisioning{SSID: "farm", BrokerHost: "h", CoordinatorID: "god/+"},
			wantErr: "kaiser_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidProvisioning) {
				t.Fatalf("Validate() error = %v, want ErrInvalidProvisioning", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestProvisioning_ReportsAllProblems(t *testing.T) {
	err := Provisioning{}.Validate()
	if err == nil {
		t.Fatal("Validate() accepted empty settings")
	}
	for _, want := range []string{"ssid", "broker_host"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestProvisioning_Apply(t *testing.T) {
	cfg := &config.Config{}
	cfg.Device.CoordinatorID = "god"
	cfg.Device.Name = "esp-a1"

	Provisioning{SSID: "farm", BrokerHost: "broker.local"}.Apply(cfg)
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != defaultBrokerPort {
		t.Errorf("broker = %s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port)
	}
	if cfg.Device.CoordinatorID != "god" || cfg.Device.Name != "esp-a1" {
		t.Error("empty fields overwrote the configured device identity")
	}

	Provisioning{SSID: "farm", BrokerHost: "b", BrokerPort: 8883, CoordinatorID: "north", DeviceName: "esp-b2"}.Apply(cfg)
	if cfg.MQTT.Broker.Port != 8883 || cfg.Device.CoordinatorID != "north" || cfg.Device.Name != "esp-b2" {
		t.Errorf("Apply() = %+v %+v", cfg.MQTT.Broker, cfg.Device)
	}
}

func TestProvisioning_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	if _, ok, err := LoadProvisioning(ctx, store); ok || err != nil {
		t.Fatalf("LoadProvisioning() on empty store = %v, %v", ok, err)
	}

	want := Provisioning{SSID: "farm", Password: "pw", BrokerHost: "b", BrokerPort: 1884}
	if err := SaveProvisioning(ctx, store, want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := LoadProvisioning(ctx, store)
	if err != nil || !ok {
		t.Fatalf("LoadProvisioning() = %v, %v", ok, err)
	}
	if got != want {
		t.Errorf("LoadProvisioning() = %+v, want %+v", got, want)
	}
}

func TestNetLink_UnknownInterface(t *testing.T) {
	up, err := NetLink{Interface: "kaiser-does-not-exist0"}.Up()
	if err == nil || up {
		t.Errorf("Up() = %v, %v, want an error", up, err)
	}
}
