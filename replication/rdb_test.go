package replication

import (
	"errors"
	"testing"
)

func TestInspectEmptySnapshot(t *testing.T) {
	info, err := InspectSnapshot(EmptySnapshot())
	if err != nil {
		t.Fatalf("InspectSnapshot() error = %v", err)
	}

	if info.Version != 11 {
		t.Errorf("Version = %d, want 11", info.Version)
	}

	want := map[string]string{
		"redis-ver":  "7.2.0",
		"redis-bits": "64",
		"ctime":      "1706821741",
		"used-mem":   "1099952",
		"aof-base":   "0",
	}
	for key, value := range want {
		if info.Aux[key] != value {
			t.Errorf("Aux[%s] = %q, want %q", key, info.Aux[key], value)
		}
	}
}

func TestEmptySnapshotIsCopied(t *testing.T) {
	a := EmptySnapshot()
	a[0] = 'X'

	if b := EmptySnapshot(); b[0] != 'R' {
		t.Error("EmptySnapshot() returned shared storage")
	}
}

func TestInspectSnapshotErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		keys    bool
	}{
		{"short header", []byte("REDIS"), false},
		{"bad magic", []byte("RODIS0011\xff"), false},
		{"bad version", []byte("REDIS00x1\xff"), false},
		{"future version", []byte("REDIS0099\xff"), false},
		{"database selector", []byte("REDIS0011\xfe\x00"), true},
		{"key entry", []byte("REDIS0011\x00\x01k\x01v\xff"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InspectSnapshot(tt.payload)
			if err == nil {
				t.Fatal("InspectSnapshot() succeeded")
			}
			if got := errors.Is(err, ErrSnapshotHasKeys); got != tt.keys {
				t.Errorf("errors.Is(ErrSnapshotHasKeys) = %v, want %v (err = %v)", got, tt.keys, err)
			}
		})
	}
}
