package local

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sneaker-boar/sneaker/internal/engine"
)

// metaSessionPrefix names the hidden sessions that hold session properties.
const metaSessionPrefix = "__meta_"

// verifyBatchSize is how many blobs one verify_some_blobs call checks.
const verifyBatchSize = 100

var sessionProperties = map[string]bool{"ignore": true, "include": true}

// operation is one named entry of the handle's public surface.
type operation func(h *handle, args []any) (any, error)

var operations map[string]operation

func init() {
	operations = map[string]operation{
		"get_repo_path":            opGetRepoPath,
		"get_session_ids":          opGetSessionIDs,
		"get_session_info":         opGetSessionInfo,
		"get_session_fingerprint":  opGetSessionFingerprint,
		"get_session_bloblist":     opGetSessionBloblist,
		"create_session":           opCreateSession,
		"add_blob_data":            opAddBlobData,
		"add":                      opAdd,
		"remove":                   opRemove,
		"commit":                   opCommit,
		"mksession":                opMksession,
		"find_last_revision":       opFindLastRevision,
		"has_snapshot":             opHasSnapshot,
		"has_blob":                 opHasBlob,
		"get_blob":                 opGetBlob,
		"get_blob_size":            opGetBlobSize,
		"set_session_ignore_list":  opSetPropertyList("ignore"),
		"get_session_ignore_list":  opGetPropertyList("ignore"),
		"set_session_include_list": opSetPropertyList("include"),
		"get_session_include_list": opGetPropertyList("include"),
		"init_verify_blobs":        opInitVerifyBlobs,
		"verify_some_blobs":        opVerifySomeBlobs,
	}
}

// Operations returns the names the local engine understands, sorted.
func Operations() []string {
	names := make([]string, 0, len(operations))
	for name := range operations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pendingSnapshot collects changes between create_session and commit.
type pendingSnapshot struct {
	name  string
	base  int
	files map[string]map[string]any
	blobs map[string]string // md5 -> file in tmp/
}

func (p *pendingSnapshot) discard() {
	for _, f := range p.blobs {
		os.Remove(f)
	}
}

func userErr(op, format string, args ...any) error {
	return engine.Errorf(engine.KindUser, op, format, args...)
}

func internalErr(op string, err error) error {
	return engine.Errorf(engine.KindInternal, op, "%s: %v", op, err)
}

func opGetRepoPath(h *handle, args []any) (any, error) {
	if err := wantArgs("get_repo_path", args, 0, 0); err != nil {
		return nil, err
	}
	return h.store.path, nil
}

func opGetSessionIDs(h *handle, args []any) (any, error) {
	const op = "get_session_ids"
	if err := wantArgs(op, args, 0, 1); err != nil {
		return nil, err
	}
	name := ""
	if present(args, 0) {
		var err error
		if name, err = argString(op, args, 0, "session_name"); err != nil {
			return nil, err
		}
	}
	ids, err := h.store.snapshotIDs()
	if err != nil {
		return nil, internalErr(op, err)
	}
	if name == "" {
		return ids, nil
	}
	result := []int{}
	for _, id := range ids {
		props, err := h.store.readProperties(id)
		if err != nil {
			return nil, internalErr(op, err)
		}
		if n, _ := props.ClientData["name"].(string); n == name {
			result = append(result, id)
		}
	}
	return result, nil
}

func opGetSessionInfo(h *handle, args []any) (any, error) {
	const op = "get_session_info"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	id, err := argInt(op, args, 0, "id")
	if err != nil {
		return nil, err
	}
	if !h.store.hasSnapshot(id) {
		return nil, nil
	}
	props, err := h.store.readProperties(id)
	if err != nil {
		return nil, internalErr(op, err)
	}
	return props.ClientData, nil
}

func opGetSessionFingerprint(h *handle, args []any) (any, error) {
	const op = "get_session_fingerprint"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	id, err := argInt(op, args, 0, "id")
	if err != nil {
		return nil, err
	}
	if !h.store.hasSnapshot(id) {
		return nil, userErr(op, "no such snapshot: %d", id)
	}
	props, err := h.store.readProperties(id)
	if err != nil {
		return nil, internalErr(op, err)
	}
	return props.Fingerprint, nil
}

func opGetSessionBloblist(h *handle, args []any) (any, error) {
	const op = "get_session_bloblist"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	id, err := argInt(op, args, 0, "id")
	if err != nil {
		return nil, err
	}
	if !h.store.hasSnapshot(id) {
		return nil, userErr(op, "no such snapshot: %d", id)
	}
	blobs, err := h.store.readBloblist(id)
	if err != nil {
		return nil, internalErr(op, err)
	}
	return blobs, nil
}

func opCreateSession(h *handle, args []any) (any, error) {
	const op = "create_session"
	if err := wantArgs(op, args, 1, 2); err != nil {
		return nil, err
	}
	name, err := argString(op, args, 0, "session_name")
	if err != nil {
		return nil, err
	}
	base, err := argOptInt(op, args, 1, "base_session", 0)
	if err != nil {
		return nil, err
	}
	return nil, h.createSession(op, name, base)
}

func (h *handle) createSession(op, name string, base int) error {
	if h.pending != nil {
		return userErr(op, "There already exists an active new snapshot")
	}
	if name == "" {
		return engine.Errorf(engine.KindInvalidArguments, op, "session name must not be empty")
	}

	files := make(map[string]map[string]any)
	if base != 0 {
		if !h.store.hasSnapshot(base) {
			return userErr(op, "no such base snapshot: %d", base)
		}
		blobs, err := h.store.readBloblist(base)
		if err != nil {
			return internalErr(op, err)
		}
		for _, b := range blobs {
			name, _ := b["filename"].(string)
			files[name] = b
		}
	}

	h.pending = &pendingSnapshot{
		name:  name,
		base:  base,
		files: files,
		blobs: make(map[string]string),
	}
	return nil
}

func opAddBlobData(h *handle, args []any) (any, error) {
	const op = "add_blob_data"
	if err := wantArgs(op, args, 2, 2); err != nil {
		return nil, err
	}
	sum, err := argString(op, args, 0, "blob_md5")
	if err != nil {
		return nil, err
	}
	b64, err := argString(op, args, 1, "b64data")
	if err != nil {
		return nil, err
	}
	return nil, h.addBlobData(op, sum, b64)
}

func (h *handle) addBlobData(op, sum, b64 string) error {
	if h.pending == nil {
		return userErr(op, "There is no active snapshot")
	}
	if !validMD5(sum) {
		return engine.Errorf(engine.KindInvalidArguments, op, "invalid blob checksum %q", sum)
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return engine.Errorf(engine.KindInvalidArguments, op, "blob data is not valid base64: %v", err)
	}
	if got := md5Hex(data); got != sum {
		return userErr(op, "blob checksum mismatch: expected %s, got %s", sum, got)
	}
	if h.store.hasBlob(sum) {
		return nil
	}
	if _, ok := h.pending.blobs[sum]; ok {
		return nil
	}

	tmp := h.store.tmpPath(sum + ".pending")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return internalErr(op, err)
	}
	h.pending.blobs[sum] = tmp
	return nil
}

func opAdd(h *handle, args []any) (any, error) {
	const op = "add"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	metadata, err := argMap(op, args, 0, "metadata")
	if err != nil {
		return nil, err
	}
	if h.pending == nil {
		return nil, userErr(op, "There is no active snapshot")
	}
	filename, ok := metadata["filename"].(string)
	if !ok || filename == "" {
		return nil, engine.Errorf(engine.KindInvalidArguments, op, "metadata requires a filename")
	}
	sum, ok := metadata["md5sum"].(string)
	if !ok {
		return nil, engine.Errorf(engine.KindInvalidArguments, op, "metadata requires an md5sum")
	}
	if _, pending := h.pending.blobs[sum]; !pending && !h.store.hasBlob(sum) {
		return nil, userErr(op, "no such blob: %s", sum)
	}

	entry := make(map[string]any, len(metadata))
	for k, v := range metadata {
		entry[k] = v
	}
	h.pending.files[filename] = entry
	return nil, nil
}

func opRemove(h *handle, args []any) (any, error) {
	const op = "remove"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	filename, err := argString(op, args, 0, "filename")
	if err != nil {
		return nil, err
	}
	if h.pending == nil {
		return nil, userErr(op, "There is no active snapshot")
	}
	if h.pending.base == 0 {
		return nil, userErr(op, "remove requires a snapshot with a base session")
	}
	if _, ok := h.pending.files[filename]; !ok {
		return nil, userErr(op, "no such file in session: %s", filename)
	}
	delete(h.pending.files, filename)
	return nil, nil
}

func opCommit(h *handle, args []any) (any, error) {
	const op = "commit"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	info, err := argMap(op, args, 0, "sessioninfo")
	if err != nil {
		return nil, err
	}
	return h.commit(op, info)
}

func (h *handle) commit(op string, info map[string]any) (int, error) {
	if h.pending == nil {
		return 0, userErr(op, "There is no active snapshot to commit")
	}
	name, ok := info["name"].(string)
	if !ok {
		return 0, engine.Errorf(engine.KindInvalidArguments, op, "sessioninfo requires a name")
	}
	if name != h.pending.name {
		return 0, userErr(op, "sessioninfo name %q does not match active snapshot %q", name, h.pending.name)
	}

	for sum, tmp := range h.pending.blobs {
		if err := h.store.installBlob(tmp, sum); err != nil {
			return 0, internalErr(op, err)
		}
	}

	names := make([]string, 0, len(h.pending.files))
	for n := range h.pending.files {
		names = append(names, n)
	}
	sort.Strings(names)
	blobs := make([]map[string]any, 0, len(names))
	for _, n := range names {
		blobs = append(blobs, h.pending.files[n])
	}

	props := snapshotProperties{
		ClientData:  info,
		Fingerprint: fingerprint(blobs),
	}
	if h.pending.base != 0 {
		base := h.pending.base
		props.BaseSession = &base
	}

	id, err := h.store.writeSnapshot(props, blobs)
	if err != nil {
		return 0, internalErr(op, err)
	}
	h.pending = nil
	h.logger.Debug("snapshot committed", "session_name", name, "snapshot_id", id, "files", len(blobs))
	return id, nil
}

func opMksession(h *handle, args []any) (any, error) {
	const op = "mksession"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	name, err := argString(op, args, 0, "session_name")
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, "__") {
		return nil, userErr(op, "Session names must not begin with double underscores.")
	}
	return h.mksession(op, name)
}

func (h *handle) mksession(op, name string) (int, error) {
	rev, err := h.store.lastRevision(name)
	if err != nil {
		return 0, internalErr(op, err)
	}
	if rev != 0 {
		return 0, userErr(op, "There already exists a session named '%s'", name)
	}
	if err := h.createSession(op, name, 0); err != nil {
		return 0, err
	}
	now := time.Now()
	return h.commit(op, map[string]any{
		"name":      name,
		"timestamp": now.Unix(),
		"date":      now.Format(time.ANSIC),
	})
}

func opFindLastRevision(h *handle, args []any) (any, error) {
	const op = "find_last_revision"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	name, err := argString(op, args, 0, "session_name")
	if err != nil {
		return nil, err
	}
	rev, err := h.store.lastRevision(name)
	if err != nil {
		return nil, internalErr(op, err)
	}
	if rev == 0 {
		return nil, nil
	}
	return rev, nil
}

func opHasSnapshot(h *handle, args []any) (any, error) {
	const op = "has_snapshot"
	if err := wantArgs(op, args, 2, 2); err != nil {
		return nil, err
	}
	name, err := argString(op, args, 0, "session_name")
	if err != nil {
		return nil, err
	}
	id, err := argInt(op, args, 1, "snapshot_id")
	if err != nil {
		return nil, err
	}
	if !h.store.hasSnapshot(id) {
		return false, nil
	}
	props, err := h.store.readProperties(id)
	if err != nil {
		return nil, internalErr(op, err)
	}
	n, _ := props.ClientData["name"].(string)
	return n == name, nil
}

func opHasBlob(h *handle, args []any) (any, error) {
	const op = "has_blob"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	sum, err := argString(op, args, 0, "sum")
	if err != nil {
		return nil, err
	}
	if h.pending != nil {
		if _, ok := h.pending.blobs[sum]; ok {
			return true, nil
		}
	}
	return h.store.hasBlob(sum), nil
}

func opGetBlob(h *handle, args []any) (any, error) {
	const op = "get_blob"
	if err := wantArgs(op, args, 1, 3); err != nil {
		return nil, err
	}
	sum, err := argString(op, args, 0, "sum")
	if err != nil {
		return nil, err
	}
	offset, err := argOptInt(op, args, 1, "offset", 0)
	if err != nil {
		return nil, err
	}
	size, err := argOptInt(op, args, 2, "size", -1)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, engine.Errorf(engine.KindInvalidArguments, op, "offset must not be negative")
	}
	if !h.store.hasBlob(sum) {
		return nil, userErr(op, "no such blob: %s", sum)
	}
	data, err := h.store.readBlob(sum, int64(offset), int64(size))
	if err != nil {
		return nil, internalErr(op, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func opGetBlobSize(h *handle, args []any) (any, error) {
	const op = "get_blob_size"
	if err := wantArgs(op, args, 1, 1); err != nil {
		return nil, err
	}
	sum, err := argString(op, args, 0, "sum")
	if err != nil {
		return nil, err
	}
	size, err := h.store.blobSize(sum)
	if err != nil {
		return nil, userErr(op, "%v", err)
	}
	return size, nil
}

func opSetPropertyList(prop string) operation {
	op := "set_session_" + prop + "_list"
	return func(h *handle, args []any) (any, error) {
		if err := wantArgs(op, args, 2, 2); err != nil {
			return nil, err
		}
		name, err := argString(op, args, 0, "session_name")
		if err != nil {
			return nil, err
		}
		list, err := argStringList(op, args, 1, "new_list")
		if err != nil {
			return nil, err
		}
		return nil, h.setSessionProperty(op, name, prop, list)
	}
}

func opGetPropertyList(prop string) operation {
	op := "get_session_" + prop + "_list"
	return func(h *handle, args []any) (any, error) {
		if err := wantArgs(op, args, 1, 1); err != nil {
			return nil, err
		}
		name, err := argString(op, args, 0, "session_name")
		if err != nil {
			return nil, err
		}
		list, err := h.sessionPropertyList(op, name, prop)
		if err != nil {
			return nil, err
		}
		if list == nil {
			return []string{}, nil
		}
		return list, nil
	}
}

func (h *handle) setSessionProperty(op, sessionName, prop string, value []string) error {
	if !sessionProperties[prop] {
		return engine.Errorf(engine.KindInvalidArguments, op, "unknown session property %q", prop)
	}
	if value == nil {
		value = []string{}
	}
	meta := metaSessionPrefix + sessionName

	rev, err := h.store.lastRevision(meta)
	if err != nil {
		return internalErr(op, err)
	}
	if rev == 0 {
		if rev, err = h.mksession(op, meta); err != nil {
			return err
		}
	}

	contents, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return internalErr(op, err)
	}
	filename := prop + ".json"

	current, err := h.fileContents(op, rev, filename)
	if err != nil {
		return err
	}
	if current != nil && string(current) == string(contents) {
		return nil
	}

	if err := h.createSession(op, meta, rev); err != nil {
		return err
	}
	sum := md5Hex(contents)
	if err := h.addBlobData(op, sum, base64.StdEncoding.EncodeToString(contents)); err != nil {
		h.abandon()
		return err
	}
	now := time.Now()
	h.pending.files[filename] = map[string]any{
		"filename": filename,
		"md5sum":   sum,
		"ctime":    now.Unix(),
		"mtime":    now.Unix(),
		"size":     len(contents),
	}
	_, err = h.commit(op, map[string]any{"name": meta, "date": now.Format(time.ANSIC)})
	if err != nil {
		h.abandon()
	}
	return err
}

func (h *handle) sessionPropertyList(op, sessionName, prop string) ([]string, error) {
	rev, err := h.store.lastRevision(metaSessionPrefix + sessionName)
	if err != nil {
		return nil, internalErr(op, err)
	}
	if rev == 0 {
		return nil, nil
	}
	contents, err := h.fileContents(op, rev, prop+".json")
	if err != nil || contents == nil {
		return nil, err
	}
	var list []string
	if err := json.Unmarshal(contents, &list); err != nil {
		return nil, internalErr(op, fmt.Errorf("corrupt %s property: %w", prop, err))
	}
	return list, nil
}

// fileContents reads a whole file from a snapshot, or nil if it has none.
func (h *handle) fileContents(op string, rev int, filename string) ([]byte, error) {
	blobs, err := h.store.readBloblist(rev)
	if err != nil {
		return nil, internalErr(op, err)
	}
	for _, b := range blobs {
		if b["filename"] != filename {
			continue
		}
		sum, _ := b["md5sum"].(string)
		data, err := h.store.readBlob(sum, 0, -1)
		if err != nil {
			return nil, internalErr(op, err)
		}
		return data, nil
	}
	return nil, nil
}

func opInitVerifyBlobs(h *handle, args []any) (any, error) {
	const op = "init_verify_blobs"
	if err := wantArgs(op, args, 0, 0); err != nil {
		return nil, err
	}
	if len(h.toVerify) > 0 {
		return nil, userErr(op, "blob verification already in progress")
	}
	names, err := h.store.blobNames()
	if err != nil {
		return nil, internalErr(op, err)
	}
	h.toVerify = names
	return len(names), nil
}

func opVerifySomeBlobs(h *handle, args []any) (any, error) {
	const op = "verify_some_blobs"
	if err := wantArgs(op, args, 0, 0); err != nil {
		return nil, err
	}
	count := min(verifyBatchSize, len(h.toVerify))
	succeeded := make([]string, 0, count)
	for i := 0; i < count; i++ {
		last := len(h.toVerify) - 1
		sum := h.toVerify[last]
		h.toVerify = h.toVerify[:last]

		ok, err := h.store.verifyBlob(sum)
		if err != nil {
			return nil, internalErr(op, err)
		}
		if !ok {
			return nil, internalErr(op, fmt.Errorf("blob failed verification: %s", sum))
		}
		succeeded = append(succeeded, sum)
	}
	return succeeded, nil
}
