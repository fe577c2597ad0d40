package local

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Repository layout.
const (
	VersionFile    = "version.txt"
	CurrentVersion = "1"

	blobsDir    = "blobs"
	sessionsDir = "sessions"
	tmpDir      = "tmp"

	sessionFile  = "session.json"
	bloblistFile = "bloblist.json"

	fingerprintSeparator = "!SEPARATOR!"
)

// store reads and writes the on-disk repository. It holds no state beyond
// the path; the lock and any in-progress snapshot live on the handle.
type store struct {
	path string
}

// snapshotProperties is the content of session.json.
type snapshotProperties struct {
	ClientData  map[string]any `json:"client_data"`
	Fingerprint string         `json:"fingerprint"`
	BaseSession *int           `json:"base_session"`
}

// checkLayout reports why path is not a usable repository, or nil if it is.
func checkLayout(path string) error {
	data, err := os.ReadFile(filepath.Join(path, VersionFile))
	if err != nil {
		return fmt.Errorf("missing %s", VersionFile)
	}
	if v := strings.TrimSpace(string(data)); v != CurrentVersion {
		return fmt.Errorf("unsupported repository version %q", v)
	}
	for _, dir := range []string{blobsDir, sessionsDir, tmpDir} {
		info, err := os.Stat(filepath.Join(path, dir))
		if err != nil || !info.IsDir() {
			return fmt.Errorf("missing %s directory", dir)
		}
	}
	return nil
}

// initLayout writes an empty repository into path, which must be absent or
// an empty directory.
func initLayout(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	for _, dir := range []string{blobsDir, sessionsDir, tmpDir} {
		if err := os.Mkdir(filepath.Join(path, dir), 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(filepath.Join(path, VersionFile), []byte(CurrentVersion+"\n"), 0644)
}

func (s *store) blobPath(md5sum string) string {
	return filepath.Join(s.path, blobsDir, md5sum[:2], md5sum)
}

func (s *store) tmpPath(name string) string {
	return filepath.Join(s.path, tmpDir, name)
}

func validMD5(sum string) bool {
	if len(sum) != 32 {
		return false
	}
	_, err := hex.DecodeString(sum)
	return err == nil && strings.ToLower(sum) == sum
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (s *store) hasBlob(md5sum string) bool {
	if !validMD5(md5sum) {
		return false
	}
	info, err := os.Stat(s.blobPath(md5sum))
	return err == nil && info.Mode().IsRegular()
}

func (s *store) blobSize(md5sum string) (int64, error) {
	if !validMD5(md5sum) {
		return 0, fmt.Errorf("no such blob: %s", md5sum)
	}
	info, err := os.Stat(s.blobPath(md5sum))
	if err != nil {
		return 0, fmt.Errorf("no such blob: %s", md5sum)
	}
	return info.Size(), nil
}

// readBlob returns size bytes of the blob starting at offset. A negative
// size reads to the end.
func (s *store) readBlob(md5sum string, offset, size int64) ([]byte, error) {
	if !validMD5(md5sum) {
		return nil, fmt.Errorf("no such blob: %s", md5sum)
	}
	f, err := os.Open(s.blobPath(md5sum))
	if err != nil {
		return nil, fmt.Errorf("no such blob: %s", md5sum)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}
	}
	if size < 0 {
		return io.ReadAll(f)
	}
	return io.ReadAll(io.LimitReader(f, size))
}

// installBlob moves a verified temporary file into the blob tree.
func (s *store) installBlob(tmpFile, md5sum string) error {
	dest := s.blobPath(md5sum)
	if s.hasBlob(md5sum) {
		return os.Remove(tmpFile)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return os.Rename(tmpFile, dest)
}

// blobNames lists every stored blob checksum in sorted order.
func (s *store) blobNames() ([]string, error) {
	var names []string
	root := filepath.Join(s.path, blobsDir)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && validMD5(d.Name()) {
			names = append(names, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// verifyBlob recomputes the checksum of a stored blob.
func (s *store) verifyBlob(md5sum string) (bool, error) {
	f, err := os.Open(s.blobPath(md5sum))
	if err != nil {
		return false, err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, err
	}
	return hex.EncodeToString(h.Sum(nil)) == md5sum, nil
}

// snapshotIDs lists committed snapshot ids in ascending order.
func (s *store) snapshotIDs() ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.path, sessionsDir))
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *store) snapshotDir(id int) string {
	return filepath.Join(s.path, sessionsDir, strconv.Itoa(id))
}

func (s *store) hasSnapshot(id int) bool {
	_, err := os.Stat(filepath.Join(s.snapshotDir(id), sessionFile))
	return err == nil
}

func (s *store) readProperties(id int) (*snapshotProperties, error) {
	data, err := os.ReadFile(filepath.Join(s.snapshotDir(id), sessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no such snapshot: %d", id)
		}
		return nil, err
	}
	var props snapshotProperties
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("snapshot %d: corrupt %s: %w", id, sessionFile, err)
	}
	return &props, nil
}

func (s *store) readBloblist(id int) ([]map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(s.snapshotDir(id), bloblistFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no such snapshot: %d", id)
		}
		return nil, err
	}
	var blobs []map[string]any
	if err := json.Unmarshal(data, &blobs); err != nil {
		return nil, fmt.Errorf("snapshot %d: corrupt %s: %w", id, bloblistFile, err)
	}
	seen := make(map[string]bool, len(blobs))
	for _, b := range blobs {
		name, _ := b["filename"].(string)
		if seen[name] {
			return nil, fmt.Errorf("snapshot %d: duplicate file %q in bloblist", id, name)
		}
		seen[name] = true
	}
	return blobs, nil
}

// lastRevision returns the newest snapshot id of the named session, or 0.
func (s *store) lastRevision(name string) (int, error) {
	ids, err := s.snapshotIDs()
	if err != nil {
		return 0, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		props, err := s.readProperties(ids[i])
		if err != nil {
			return 0, err
		}
		if n, _ := props.ClientData["name"].(string); n == name {
			return ids[i], nil
		}
	}
	return 0, nil
}

// writeSnapshot stores a new snapshot under the next free id and returns it.
// The directory is assembled in tmp and renamed into place.
func (s *store) writeSnapshot(props snapshotProperties, blobs []map[string]any) (int, error) {
	ids, err := s.snapshotIDs()
	if err != nil {
		return 0, err
	}
	id := 1
	if len(ids) > 0 {
		id = ids[len(ids)-1] + 1
	}

	staging, err := os.MkdirTemp(filepath.Join(s.path, tmpDir), "snapshot-")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(staging)

	propData, err := json.MarshalIndent(props, "", "    ")
	if err != nil {
		return 0, err
	}
	listData, err := json.MarshalIndent(blobs, "", "    ")
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(staging, sessionFile), propData, 0644); err != nil {
		return 0, err
	}
	if err := os.WriteFile(filepath.Join(staging, bloblistFile), listData, 0644); err != nil {
		return 0, err
	}
	if err := os.Rename(staging, s.snapshotDir(id)); err != nil {
		return 0, err
	}
	return id, nil
}

// fingerprint is the md5 over the sorted file names and their checksums.
func fingerprint(blobs []map[string]any) string {
	entries := make([]map[string]any, len(blobs))
	copy(entries, blobs)
	sort.Slice(entries, func(i, j int) bool {
		a, _ := entries[i]["filename"].(string)
		b, _ := entries[j]["filename"].(string)
		return a < b
	})

	h := md5.New()
	for _, b := range entries {
		name, _ := b["filename"].(string)
		sum, _ := b["md5sum"].(string)
		io.WriteString(h, name)
		io.WriteString(h, fingerprintSeparator)
		io.WriteString(h, sum)
		io.WriteString(h, fingerprintSeparator)
	}
	return hex.EncodeToString(h.Sum(nil))
}
