package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/kaiser-edge/internal/infrastructure/database"
	"github.com/nerrad567/kaiser-edge/internal/storage"
	_ "github.com/nerrad567/kaiser-edge/migrations"
)

type backend interface {
	storage.Store
	storage.EventLog
}

func backends(t *testing.T) map[string]backend {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "node.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return map[string]backend{
		"memory": storage.NewMemoryStore(),
		"sqlite": storage.NewSQLiteStore(db),
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(ctx, "system", "state"); !errors.Is(err, storage.ErrNotFound) {
				t.Fatalf("Get() missing key error = %v, want ErrNotFound", err)
			}

			if err := s.Put(ctx, "system", "state", []byte("boot")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Put(ctx, "system", "state", []byte("operational")); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}
			got, err := s.Get(ctx, "system", "state")
			if err != nil || string(got) != "operational" {
				t.Errorf("Get() = (%q, %v), want operational", got, err)
			}

			// Same key in another namespace is independent.
			if err := s.Put(ctx, "zone", "state", []byte("x")); err != nil {
				t.Fatal(err)
			}

			if err := s.Delete(ctx, "system", "state"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if _, err := s.Get(ctx, "system", "state"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("Get() after Delete error = %v", err)
			}
			if _, err := s.Get(ctx, "zone", "state"); err != nil {
				t.Errorf("other namespace affected by Delete: %v", err)
			}
		})
	}
}

func TestStore_KeysAndClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"zone-b", "zone-a", "zone-c"} {
				if err := s.Put(ctx, storage.NSSubzone, k, []byte("{}")); err != nil {
					t.Fatal(err)
				}
			}
			keys, err := s.Keys(ctx, storage.NSSubzone)
			if err != nil {
				t.Fatalf("Keys() error = %v", err)
			}
			if fmt.Sprint(keys) != "[zone-a zone-b zone-c]" {
				t.Errorf("Keys() = %v", keys)
			}

			if err := s.Clear(ctx, storage.NSSubzone); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			keys, _ = s.Keys(ctx, storage.NSSubzone)
			if len(keys) != 0 {
				t.Errorf("Keys() after Clear = %v", keys)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	type zone struct {
		ZoneID string `json:"zone_id"`
	}
	if err := storage.PutJSON(ctx, s, storage.NSZone, storage.KeyAssignment, zone{ZoneID: "greenhouse"}); err != nil {
		t.Fatalf("PutJSON() error = %v", err)
	}
	var got zone
	if err := storage.GetJSON(ctx, s, storage.NSZone, storage.KeyAssignment, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got.ZoneID != "greenhouse" {
		t.Errorf("ZoneID = %q", got.ZoneID)
	}

	_ = s.Put(ctx, storage.NSZone, "broken", []byte("{"))
	if err := storage.GetJSON(ctx, s, storage.NSZone, "broken", &got); err == nil {
		t.Error("GetJSON() expected decode error")
	}
}

func TestEventLog(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < storage.MaxEvents+5; i++ {
				if err := s.AppendEvent(ctx, storage.Event{
					ID:        fmt.Sprintf("ev-%04d", i),
					Kind:      "emergency_stop",
					GPIO:      i % 40,
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}); err != nil {
					t.Fatalf("AppendEvent() error = %v", err)
				}
			}

			recent, err := s.RecentEvents(ctx, 3)
			if err != nil {
				t.Fatalf("RecentEvents() error = %v", err)
			}
			if len(recent) != 3 || recent[0].ID != fmt.Sprintf("ev-%04d", storage.MaxEvents+4) {
				t.Errorf("RecentEvents() = %+v", recent)
			}

			all, _ := s.RecentEvents(ctx, storage.MaxEvents*2)
			if len(all) != storage.MaxEvents {
				t.Errorf("event log holds %d events, want %d", len(all), storage.MaxEvents)
			}
		})
	}
}

func TestMemoryStore_FailWrites(t *testing.T) {
	s := storage.NewMemoryStore()
	s.FailWrites = errors.New("flash worn out")
	if err := s.Put(context.Background(), "system", "state", nil); err == nil {
		t.Error("Put() expected injected error")
	}
}
