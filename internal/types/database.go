// ABOUTME: DatabaseRecord type tracking one mirrored signature database
// ABOUTME: Derives patch and snapshot URLs and enforces version monotonicity

package types

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// File extensions with special meaning to the mirror.
const (
	// VersionedExt marks signed, versioned database snapshots (CVD).
	VersionedExt = ".cvd"

	// PatchExt is the extension of incremental patch files (CDIFF).
	PatchExt = ".cdiff"

	// DNSSnapshotFile records the DNS TXT tokens of the last successful cycle.
	DNSSnapshotFile = "dns.txt"
)

// URLNotAvailable is stored for databases discovered on disk without a known origin.
const URLNotAvailable = "n/a"

// DatabaseRecord is the persisted state of one tracked database.
type DatabaseRecord struct {
	// Name is the unique identifier and the on-disk filename.
	Name string `yaml:"name" json:"name"`

	// URL is the origin of the full snapshot.
	URL string `yaml:"url" json:"url"`

	// DNSField is the position of this database's version in the DNS TXT answer.
	// Zero means the version cannot be resolved via DNS.
	DNSField int `yaml:"dns_field" json:"dns_field"`

	// RetryAfter blocks network attempts until it passes. Zero means no cooldown.
	RetryAfter time.Time `yaml:"retry_after" json:"retry_after"`

	// LastModified is when the content last changed locally.
	LastModified time.Time `yaml:"last_modified" json:"last_modified"`

	// LastChecked is when the remote version was last queried.
	LastChecked time.Time `yaml:"last_checked" json:"last_checked"`

	// LocalVersion is the version of the local copy. Zero if never downloaded.
	LocalVersion int `yaml:"local_version" json:"local_version"`

	// Patches lists retained patch filenames, oldest first.
	Patches []string `yaml:"patches" json:"patches"`
}

// NewDatabaseRecord creates a record for a database that was never downloaded.
func NewDatabaseRecord(name, rawURL string) *DatabaseRecord {
	return &DatabaseRecord{
		Name:    name,
		URL:     rawURL,
		Patches: []string{},
	}
}

// Versioned reports whether the database carries a version header.
// Non-versioned files only use modification-time semantics.
func (r *DatabaseRecord) Versioned() bool {
	return strings.HasSuffix(r.Name, VersionedExt)
}

// BaseName returns the name without its extension ("daily.cvd" -> "daily").
func (r *DatabaseRecord) BaseName() string {
	return strings.TrimSuffix(r.Name, path.Ext(r.Name))
}

// PatchFilename returns the patch filename for the given version.
func (r *DatabaseRecord) PatchFilename(version int) string {
	return fmt.Sprintf("%s-%d%s", r.BaseName(), version, PatchExt)
}

// HasRemote reports whether the record has a usable HTTP origin.
func (r *DatabaseRecord) HasRemote() bool {
	return strings.HasPrefix(r.URL, "http")
}

// PatchURL derives the URL of a patch: same base path as the database URL with
// the final path segment replaced by the patch filename.
func (r *DatabaseRecord) PatchURL(version int) (string, error) {
	u, err := r.parseURL()
	if err != nil {
		return "", err
	}
	dir, _ := path.Split(u.Path)
	u.Path = dir + r.PatchFilename(version)
	u.RawQuery = ""
	return u.String(), nil
}

// SnapshotURL returns the database URL pinned to an explicit version so the
// server returns exactly that version even if it has advanced further.
func (r *DatabaseRecord) SnapshotURL(version int) (string, error) {
	u, err := r.parseURL()
	if err != nil {
		return "", err
	}
	if version > 0 {
		q := u.Query()
		q.Set("version", strconv.Itoa(version))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *DatabaseRecord) parseURL() (*url.URL, error) {
	if !r.HasRemote() {
		return nil, fmt.Errorf("database %s has no usable url %q", r.Name, r.URL)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing url for %s: %w", r.Name, err)
	}
	return u, nil
}

// RaiseLocalVersion sets LocalVersion to v if v is newer.
// Returns false when v would move the version backwards.
func (r *DatabaseRecord) RaiseLocalVersion(v int) bool {
	if v < r.LocalVersion {
		return false
	}
	r.LocalVersion = v
	return true
}

// OnCooldown reports whether network attempts are blocked at now.
func (r *DatabaseRecord) OnCooldown(now time.Time) bool {
	return !r.RetryAfter.IsZero() && r.RetryAfter.After(now)
}

// AddPatch records a patch filename keeping the list ordered by embedded
// version. Duplicates are ignored. Returns true if the list changed.
func (r *DatabaseRecord) AddPatch(filename string) bool {
	for _, p := range r.Patches {
		if p == filename {
			return false
		}
	}
	r.Patches = append(r.Patches, filename)
	sort.SliceStable(r.Patches, func(i, j int) bool {
		vi, _ := PatchVersion(r.Patches[i])
		vj, _ := PatchVersion(r.Patches[j])
		return vi < vj
	})
	return true
}

// PrunePatches drops the oldest patches until at most keep remain and
// returns the dropped filenames, oldest first.
func (r *DatabaseRecord) PrunePatches(keep int) []string {
	if keep < 0 || len(r.Patches) <= keep {
		return nil
	}
	n := len(r.Patches) - keep
	dropped := append([]string(nil), r.Patches[:n]...)
	r.Patches = append([]string{}, r.Patches[n:]...)
	return dropped
}

// ErrInvalidPatchName is returned when a filename does not follow <base>-<version>.cdiff.
var ErrInvalidPatchName = errors.New("invalid patch filename")

// PatchVersion extracts the version embedded in a patch filename.
func PatchVersion(filename string) (int, error) {
	stem, ok := strings.CutSuffix(filename, PatchExt)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPatchName, filename)
	}
	i := strings.LastIndexByte(stem, '-')
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPatchName, filename)
	}
	v, err := strconv.Atoi(stem[i+1:])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPatchName, filename)
	}
	return v, nil
}
