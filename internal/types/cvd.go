// ABOUTME: CVD header parsing for versioned ClamAV databases
// ABOUTME: Reads the colon-delimited header and extracts the version field

package types

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// HeaderProbeSize is the number of leading bytes that carry the version.
const HeaderProbeSize = 96

// versionField is the index of the version in the colon-delimited header.
const versionField = 2

// ErrShortHeader is returned when fewer than HeaderProbeSize bytes are available.
var ErrShortHeader = errors.New("cvd header too short")

// ParseVersionHeader extracts the version from the leading bytes of a CVD.
// Only the first HeaderProbeSize bytes are considered.
func ParseVersionHeader(data []byte) (int, error) {
	if len(data) > HeaderProbeSize {
		data = data[:HeaderProbeSize]
	}

	header := strings.TrimSpace(string(bytes.TrimRight(data, "\x00")))
	fields := strings.Split(header, ":")
	if len(fields) <= versionField {
		return 0, fmt.Errorf("invalid cvd header: %d fields", len(fields))
	}

	version, err := strconv.Atoi(strings.TrimSpace(fields[versionField]))
	if err != nil {
		return 0, fmt.Errorf("invalid cvd version %q: %w", fields[versionField], err)
	}
	if version <= 0 {
		return 0, fmt.Errorf("invalid cvd version %d", version)
	}

	return version, nil
}

// ReadFileVersion reads the version from a CVD file on disk.
// Returns ErrShortHeader if the file is smaller than the header.
func ReadFileVersion(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening database file: %w", err)
	}
	defer f.Close()

	header := make([]byte, HeaderProbeSize)
	n, err := io.ReadFull(f, header)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortHeader, n)
	}
	if err != nil {
		return 0, fmt.Errorf("reading header: %w", err)
	}

	return ParseVersionHeader(header)
}
