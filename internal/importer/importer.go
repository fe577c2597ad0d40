// Package importer records the contents of a working directory as a new
// snapshot of a repository session. Only blobs the repository does not
// already hold are uploaded, and files that disappeared since the base
// snapshot are removed.
package importer

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
)

// Invoker runs one repository operation. *session.Session satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, args ...any) (any, error)
}

// Options tunes an import.
type Options struct {
	// Ignore holds glob patterns matched against slash-separated paths
	// relative to the imported directory. Patterns without a slash also
	// match the base name at any depth.
	Ignore []string
	// DryRun computes the changes without touching the repository.
	DryRun bool
	Logger *logging.Logger
	Now    func() time.Time
}

// Result summarizes an import.
type Result struct {
	SessionName string   `json:"session_name"`
	BaseID      int      `json:"base_id"`
	SnapshotID  int      `json:"snapshot_id"`
	Added       []string `json:"added"`
	Modified    []string `json:"modified"`
	Removed     []string `json:"removed"`
	Unchanged   int      `json:"unchanged"`
	Ignored     int      `json:"ignored"`
	Uploaded    int      `json:"uploaded"`
	DryRun      bool     `json:"dry_run,omitempty"`
}

// Changed reports whether the directory differs from the base snapshot.
func (r Result) Changed() bool {
	return len(r.Added)+len(r.Modified)+len(r.Removed) > 0
}

// fileEntry mirrors one bloblist item.
type fileEntry struct {
	Filename string `json:"filename"`
	MD5Sum   string `json:"md5sum"`
	Size     int64  `json:"size"`
	Mtime    int64  `json:"mtime,omitempty"`
	Ctime    int64  `json:"ctime,omitempty"`
}

type localFile struct {
	entry fileEntry
	path  string
}

// Import snapshots dir into sessionName. The session is created when it
// does not exist yet. When nothing changed no snapshot is written and the
// result carries the base snapshot id. A failure after the snapshot was
// started leaves it pending on the repository handle; closing the session
// discards it.
func Import(ctx context.Context, repo Invoker, sessionName, dir string, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger = logger.With("session_name", sessionName, "dir", dir)

	res := Result{SessionName: sessionName, DryRun: opts.DryRun}

	info, err := os.Stat(dir)
	if err != nil {
		return res, errors.NewValidationError("cannot read import source").
			WithField("dir").WithValue(dir).WithCause(err)
	}
	if !info.IsDir() {
		return res, errors.NewValidationError("import source is not a directory").WithField("dir").WithValue(dir)
	}

	base, err := lastRevision(ctx, repo, sessionName)
	if err != nil {
		return res, err
	}
	if base == 0 && !opts.DryRun {
		if err := call(ctx, repo, &base, "mksession", sessionName); err != nil {
			return res, err
		}
	}
	res.BaseID = base

	patterns := append([]string{}, opts.Ignore...)
	var remote []string
	if err := call(ctx, repo, &remote, "get_session_ignore_list", sessionName); err != nil {
		return res, err
	}
	patterns = append(patterns, remote...)
	ignore, err := CompileIgnore(patterns)
	if err != nil {
		return res, err
	}

	baseFiles := map[string]fileEntry{}
	if base != 0 {
		var list []fileEntry
		if err := call(ctx, repo, &list, "get_session_bloblist", base); err != nil {
			return res, err
		}
		for _, e := range list {
			baseFiles[e.Filename] = e
		}
	}

	files, ignored, err := scan(dir, ignore)
	if err != nil {
		return res, err
	}
	res.Ignored = ignored

	var upload []localFile
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.entry.Filename] = true
		old, existed := baseFiles[f.entry.Filename]
		switch {
		case !existed:
			res.Added = append(res.Added, f.entry.Filename)
			upload = append(upload, f)
		case old.MD5Sum != f.entry.MD5Sum:
			res.Modified = append(res.Modified, f.entry.Filename)
			upload = append(upload, f)
		default:
			res.Unchanged++
		}
	}
	for name := range baseFiles {
		if seen[name] || ignore.Match(name) {
			continue
		}
		res.Removed = append(res.Removed, name)
	}
	sort.Strings(res.Removed)

	if opts.DryRun || !res.Changed() {
		res.SnapshotID = base
		logger.Info("import skipped",
			"dry_run", opts.DryRun,
			"added", len(res.Added),
			"modified", len(res.Modified),
			"removed", len(res.Removed))
		return res, nil
	}

	if err := call(ctx, repo, nil, "create_session", sessionName, base); err != nil {
		return res, err
	}
	uploaded := map[string]bool{}
	for _, f := range upload {
		sum := f.entry.MD5Sum
		if !uploaded[sum] {
			var present bool
			if err := call(ctx, repo, &present, "has_blob", sum); err != nil {
				return res, err
			}
			if !present {
				data, err := os.ReadFile(f.path)
				if err != nil {
					return res, fmt.Errorf("read %s: %w", f.entry.Filename, err)
				}
				if md5Hex(data) != sum {
					return res, fmt.Errorf("%s changed during import", f.entry.Filename)
				}
				if err := call(ctx, repo, nil, "add_blob_data", sum, base64.StdEncoding.EncodeToString(data)); err != nil {
					return res, err
				}
				res.Uploaded++
			}
			uploaded[sum] = true
		}
		if err := call(ctx, repo, nil, "add", metadata(f.entry)); err != nil {
			return res, err
		}
	}
	for _, name := range res.Removed {
		if err := call(ctx, repo, nil, "remove", name); err != nil {
			return res, err
		}
	}

	t := now()
	commitInfo := map[string]any{
		"name":      sessionName,
		"date":      t.Format(time.ANSIC),
		"timestamp": t.Unix(),
	}
	if err := call(ctx, repo, &res.SnapshotID, "commit", commitInfo); err != nil {
		return res, err
	}

	logger.Info("import committed",
		"snapshot_id", res.SnapshotID,
		"base_id", base,
		"added", len(res.Added),
		"modified", len(res.Modified),
		"removed", len(res.Removed),
		"uploaded", res.Uploaded)
	return res, nil
}

func lastRevision(ctx context.Context, repo Invoker, sessionName string) (int, error) {
	var rev *int
	if err := call(ctx, repo, &rev, "find_last_revision", sessionName); err != nil {
		return 0, err
	}
	if rev == nil {
		return 0, nil
	}
	return *rev, nil
}

// call invokes name and decodes the result into out. Engines return loosely
// typed values (json.Number over rpc, native ints locally), so the result
// is normalized through JSON.
func call(ctx context.Context, repo Invoker, out any, name string, args ...any) error {
	result, err := repo.Invoke(ctx, name, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%s: encode result: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: unexpected result %s: %w", name, data, err)
	}
	return nil
}

func metadata(e fileEntry) map[string]any {
	return map[string]any{
		"filename": e.Filename,
		"md5sum":   e.MD5Sum,
		"size":     e.Size,
		"mtime":    e.Mtime,
		"ctime":    e.Ctime,
	}
}

// scan hashes every regular file below dir that no ignore pattern matches.
func scan(dir string, ignore *Matcher) ([]localFile, int, error) {
	var files []localFile
	ignored := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if ignore.MatchDir(rel) {
				ignored++
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if ignore.Match(rel) {
			ignored++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			path: path,
			entry: fileEntry{
				Filename: rel,
				MD5Sum:   sum,
				Size:     info.Size(),
				Mtime:    info.ModTime().Unix(),
				Ctime:    changeTime(info),
			},
		})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].entry.Filename < files[j].entry.Filename })
	return files, ignored, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return md5Hex(data), nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Matcher decides which slash-separated relative paths are ignored.
type Matcher struct {
	full []glob.Glob
	base []glob.Glob
}

// CompileIgnore compiles glob patterns. Blank patterns are skipped.
func CompileIgnore(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid ignore pattern").
				WithField("ignore").
				WithValue(pattern).
				WithCause(err)
		}
		if strings.Contains(pattern, "/") {
			m.full = append(m.full, g)
		} else {
			m.base = append(m.base, g)
		}
	}
	return m, nil
}

// Match reports whether the file rel is ignored.
func (m *Matcher) Match(rel string) bool {
	for _, g := range m.full {
		if g.Match(rel) {
			return true
		}
	}
	base := rel
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		base = rel[i+1:]
	}
	for _, g := range m.base {
		if g.Match(base) {
			return true
		}
	}
	return false
}

// MatchDir reports whether everything below the directory rel is ignored,
// either because the directory itself matches or a "dir/**" pattern covers it.
func (m *Matcher) MatchDir(rel string) bool {
	return m.Match(rel) || m.Match(rel+"/**")
}
