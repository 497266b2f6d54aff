package deltacache

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid", Settings{Namespace: "orders", SlidingExpiration: time.Hour, RefreshEvery: time.Minute}, false},
		{"no expiration", Settings{Namespace: "orders", RefreshEvery: time.Minute}, false},
		{"empty namespace", Settings{RefreshEvery: time.Minute}, true},
		{"colon in namespace", Settings{Namespace: "a:b", RefreshEvery: time.Minute}, true},
		{"zero refresh", Settings{Namespace: "orders"}, true},
		{"negative expiration", Settings{Namespace: "orders", SlidingExpiration: -1, RefreshEvery: time.Minute}, true},
		{"expires before refresh", Settings{Namespace: "orders", SlidingExpiration: time.Second, RefreshEvery: time.Minute}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsFromJSON(t *testing.T) {
	var s Settings
	raw := `{"namespace":"orders","sliding_expiration":1800000000000,"refresh_every":60000000000}`
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(); err != nil {
		t.Fatal(err)
	}
	exp := s.RemoteExpiration()
	if !exp.IsSliding() || exp.Sliding != 30*time.Minute {
		t.Fatalf("RemoteExpiration: %+v", exp)
	}
	if !(Settings{Namespace: "x", RefreshEvery: time.Minute}).RemoteExpiration().IsZero() {
		t.Fatalf("no sliding expiration should mean none")
	}

	now := time.Unix(0, 0)
	fp := s.IntervalFingerprint(func() time.Time { return now })
	a, _ := fp(context.Background(), "k")
	now = now.Add(59 * time.Second)
	b, _ := fp(context.Background(), "k")
	now = now.Add(time.Second)
	c, _ := fp(context.Background(), "k")
	if a != b || b == c {
		t.Fatalf("interval buckets: %q %q %q", a, b, c)
	}
}
