package callback

import (
	"errors"
	"sort"
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		callback string
		wantErr  bool
	}{
		{name: "simplestats", callback: "simplestats"},
		{name: "csvdump", callback: "csvdump"},
		{name: "clickhousedump", callback: "clickhousedump"},
		{name: "unknown name", callback: "nope", wantErr: true},
		{name: "empty name", callback: "", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cb, err := New(tt.callback, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArguments) {
					t.Fatalf("New() error = %v, want ErrInvalidArguments", err)
				}
				return
			}
			if cb == nil {
				t.Fatal("New() returned a nil callback")
			}
		})
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if !sort.StringsAreSorted(names) {
		t.Fatalf("Names() = %v is not sorted", names)
	}
	if len(names) != len(registry) {
		t.Fatalf("Names() returned %d names, registry has %d", len(names), len(registry))
	}
	for _, name := range names {
		if Describe(name) == "" {
			t.Errorf("Describe(%q) is empty", name)
		}
	}
}
