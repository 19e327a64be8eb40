// ABOUTME: Tests for CVD header parsing
// ABOUTME: Validates version extraction from bytes and files on disk

package types_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

func cvdHeader(version int) []byte {
	header := make([]byte, 512)
	copy(header, fmt.Sprintf("ClamAV-VDB:01 Jan 2024 00-00 +0000:%d:100000:77:abc123:def456:builder:1704067200", version))
	return header
}

func TestParseVersionHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr bool
	}{
		{name: "padded header", data: cvdHeader(27000), want: 27000},
		{name: "probe sized", data: cvdHeader(62)[:types.HeaderProbeSize], want: 62},
		{name: "two fields", data: []byte("ClamAV-VDB:date"), wantErr: true},
		{name: "non numeric", data: []byte("ClamAV-VDB:date:abc:1"), wantErr: true},
		{name: "zero version", data: []byte("ClamAV-VDB:date:0:1"), wantErr: true},
		{name: "empty", data: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := types.ParseVersionHeader(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseVersionHeader() = %d, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVersionHeader() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseVersionHeader() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReadFileVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	good := filepath.Join(dir, "daily.cvd")
	if err := os.WriteFile(good, cvdHeader(123), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	v, err := types.ReadFileVersion(good)
	if err != nil {
		t.Fatalf("ReadFileVersion() error = %v", err)
	}
	if v != 123 {
		t.Errorf("ReadFileVersion() = %d, want 123", v)
	}

	short := filepath.Join(dir, "short.cvd")
	if err := os.WriteFile(short, []byte("ClamAV-VDB:x:5"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := types.ReadFileVersion(short); !errors.Is(err, types.ErrShortHeader) {
		t.Errorf("ReadFileVersion(short) error = %v, want ErrShortHeader", err)
	}

	if _, err := types.ReadFileVersion(filepath.Join(dir, "missing.cvd")); err == nil {
		t.Error("ReadFileVersion(missing) expected error")
	}
}
