package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sneaker-boar/sneaker/internal/engine"
	"github.com/sneaker-boar/sneaker/internal/errors"
	"github.com/sneaker-boar/sneaker/internal/logging"
	"github.com/sneaker-boar/sneaker/internal/testutil"
)

func openFake(t *testing.T, eng *fakeEngine) *Session {
	t.Helper()
	sess, err := NewManager(eng).Open(context.Background(), "/srv/repo")
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	return sess
}

func TestInvokeForwardsArgumentsUnchanged(t *testing.T) {
	eng := &fakeEngine{}
	sess := openFake(t, eng)
	defer sess.Close()

	nested := map[string]any{"filename": "a", "size": 3}
	args := []any{"first", 2, nil, nested, []any{1.5, "x"}, true}

	result, err := sess.Invoke(context.Background(), "anything_at_all", args...)
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}

	calls := eng.handles[0].calls
	if len(calls) != 1 || calls[0].name != "anything_at_all" {
		t.Fatalf("calls = %+v", calls)
	}
	if !reflect.DeepEqual(calls[0].args, args) {
		t.Errorf("engine args = %#v, want %#v", calls[0].args, args)
	}
	if !reflect.DeepEqual(result, args) {
		t.Errorf("result = %#v, want engine value unchanged", result)
	}
}

func TestInvokeNoArguments(t *testing.T) {
	eng := &fakeEngine{}
	sess := openFake(t, eng)
	defer sess.Close()

	if _, err := sess.Invoke(context.Background(), "log"); err != nil {
		t.Fatal(err)
	}
	if n := len(eng.handles[0].calls[0].args); n != 0 {
		t.Errorf("forwarded %d args, want 0", n)
	}
}

func TestInvokeEngineFailure(t *testing.T) {
	cause := engine.Errorf(engine.KindUser, "commit", "There is no active snapshot to commit")
	eng := &fakeEngine{invokeFn: func(string, []any) (any, error) { return nil, cause }}
	sess := openFake(t, eng)
	defer sess.Close()

	_, err := sess.Invoke(context.Background(), "commit", map[string]any{"name": "x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != cause.Message {
		t.Errorf("Error() = %q, want engine text %q", err.Error(), cause.Message)
	}
	if !errors.Is(err, errors.ErrEngineOperationFailed) {
		t.Error("errors.Is(err, ErrEngineOperationFailed) = false")
	}
	var opErr *errors.EngineOperationError
	if !errors.As(err, &opErr) || opErr.Operation != "commit" {
		t.Errorf("EngineOperationError = %+v", opErr)
	}
	if engine.KindOf(err) != engine.KindUser {
		t.Errorf("engine kind lost: %v", engine.KindOf(err))
	}
}

func TestInvokeUnknownOperationFromEngine(t *testing.T) {
	ctx := context.Background()
	sess, err := newLocalManager(t).Open(ctx, testutil.SetupRepository(t))
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	_, err = sess.Invoke(ctx, "teleport", "somewhere")
	if engine.KindOf(err) != engine.KindUnknownOperation {
		t.Fatalf("kind = %v (%v), want unknown_operation", engine.KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir() + "/repo"
	mgr := newLocalManager(t)

	sess, err := mgr.Create(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	contents := []byte("round trip payload")
	sum := testutil.MD5Hex(contents)

	steps := []struct {
		name string
		args []any
	}{
		{"mksession", []any{"docs"}},
		{"create_session", []any{"docs", 1}},
		{"add_blob_data", []any{sum, base64.StdEncoding.EncodeToString(contents)}},
		{"add", []any{map[string]any{"filename": "doc.txt", "md5sum": sum, "size": len(contents)}}},
		{"commit", []any{map[string]any{"name": "docs"}}},
	}
	for _, step := range steps {
		if _, err := sess.Invoke(ctx, step.name, step.args...); err != nil {
			t.Fatalf("%s = %v", step.name, err)
		}
	}

	rev, err := sess.Invoke(ctx, "find_last_revision", "docs")
	if err != nil || rev != 2 {
		t.Fatalf("find_last_revision = %v, %v", rev, err)
	}
	list, err := sess.Invoke(ctx, "get_session_bloblist", rev)
	if err != nil {
		t.Fatal(err)
	}
	blobs := list.([]map[string]any)
	if len(blobs) != 1 || blobs[0]["filename"] != "doc.txt" || blobs[0]["md5sum"] != sum {
		t.Errorf("bloblist = %v", blobs)
	}

	b64, err := sess.Invoke(ctx, "get_blob", sum)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := base64.StdEncoding.DecodeString(b64.(string))
	if !bytes.Equal(data, contents) {
		t.Errorf("get_blob = %q, want %q", data, contents)
	}
}

func TestSessionClose(t *testing.T) {
	eng := &fakeEngine{}
	sess := openFake(t, eng)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}
	if eng.handles[0].closes != 1 {
		t.Errorf("handle closed %d times, want 1", eng.handles[0].closes)
	}
	if !sess.Closed() {
		t.Error("Closed() = false")
	}

	_, err := sess.Invoke(context.Background(), "log")
	if !errors.Is(err, errors.ErrSessionClosed) {
		t.Errorf("Invoke after Close = %v, want ErrSessionClosed", err)
	}
	if len(eng.handles[0].calls) != 0 {
		t.Error("closed session reached the engine")
	}
}

func TestInvokeSerialized(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	eng := &fakeEngine{invokeFn: func(string, []any) (any, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	}}
	sess := openFake(t, eng)
	defer sess.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.Invoke(context.Background(), "op")
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent engine calls = %d, want 1", maxActive)
	}
	if got := len(eng.handles[0].calls); got != 20 {
		t.Errorf("calls = %d, want 20", got)
	}
}

func TestInvokeLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, logging.LevelDebug)
	eng := &fakeEngine{invokeFn: func(name string, _ []any) (any, error) {
		if name == "bad" {
			return nil, engine.Errorf(engine.KindUser, name, "nope")
		}
		return nil, nil
	}}
	sess, err := NewManager(eng, WithLogger(logger)).Open(context.Background(), "/srv/repo")
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	sess.Invoke(context.Background(), "good", 1, 2)
	sess.Invoke(context.Background(), "bad")

	out := buf.String()
	for _, want := range []string{
		`"msg":"operation completed"`,
		`"op":"good"`,
		`"args":2`,
		`"msg":"operation failed"`,
		`"kind":"user"`,
		`"session_id":"` + sess.ID() + `"`,
		`"repository":"/srv/repo"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s\n%s", want, out)
		}
	}
}

func TestInvokeFailureSeverity(t *testing.T) {
	tests := []struct {
		name           string
		kind           engine.Kind
		wantLevel      string
		wantUserFacing bool
	}{
		{name: "user mistake", kind: engine.KindUser, wantLevel: `"level":"WARN"`, wantUserFacing: true},
		{name: "unknown operation", kind: engine.KindUnknownOperation, wantLevel: `"level":"WARN"`, wantUserFacing: true},
		{name: "internal", kind: engine.KindInternal, wantLevel: `"level":"ERROR"`, wantUserFacing: false},
		{name: "transport", kind: engine.KindTransport, wantLevel: `"level":"ERROR"`, wantUserFacing: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			eng := &fakeEngine{invokeFn: func(name string, _ []any) (any, error) {
				return nil, engine.Errorf(tt.kind, name, "failed")
			}}
			sess, err := NewManager(eng, WithLogger(logging.New(&buf, logging.LevelDebug))).
				Open(context.Background(), "/srv/repo")
			if err != nil {
				t.Fatal(err)
			}
			defer sess.Close()

			_, err = sess.Invoke(context.Background(), "commit")
			if !errors.Is(err, errors.ErrEngineOperationFailed) {
				t.Fatalf("Invoke() = %v, want EngineOperationError", err)
			}
			if got := errors.IsUserFacing(err); got != tt.wantUserFacing {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.wantUserFacing)
			}
			if !strings.Contains(buf.String(), tt.wantLevel) {
				t.Errorf("log output missing %s\n%s", tt.wantLevel, buf.String())
			}
		})
	}
}

func TestInvokeClosedSessionLogsWarning(t *testing.T) {
	var buf bytes.Buffer
	sess, err := NewManager(&fakeEngine{}, WithLogger(logging.New(&buf, logging.LevelDebug))).
		Open(context.Background(), "/srv/repo")
	if err != nil {
		t.Fatal(err)
	}
	sess.Close()

	_, err = sess.Invoke(context.Background(), "get_session_ids")
	if !errors.Is(err, errors.ErrSessionClosed) {
		t.Fatalf("Invoke() = %v, want ErrSessionClosed", err)
	}
	if errors.GetSeverity(err) != errors.SeverityWarning {
		t.Errorf("severity = %v, want warning", errors.GetSeverity(err))
	}
	if !strings.Contains(buf.String(), `"msg":"operation on closed session"`) ||
		!strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Errorf("missing closed-session warning\n%s", buf.String())
	}
}
