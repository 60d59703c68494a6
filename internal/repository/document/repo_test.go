package document

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rfpdesk/docvault/internal/db"
	"github.com/rfpdesk/docvault/internal/db/memory"
	"github.com/rfpdesk/docvault/internal/domain"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "annual budget figures")

	created, err := r.Create(ctx, &doc, &v1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Head() != 1 {
		t.Errorf("Head() = %d", created.Head())
	}

	got, err := r.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RFPID() != "rfp-1" || got.Type() != "pricing" || got.Head() != 1 || !got.CreatedAt().Equal(testNow) {
		t.Errorf("unexpected document %+v", got)
	}

	v, err := r.Version(ctx, "d1", 1)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v.Text() != "annual budget figures" {
		t.Errorf("Text() = %q, compression round trip failed", v.Text())
	}
	if v.Content().Digest != "sha256:abc" || v.Notes() != "notes" {
		t.Errorf("unexpected version %+v", v)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	if _, err := r.Create(ctx, &doc, &v1); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(ctx, &doc, &v1); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestAppend(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	doc, _ = r.Create(ctx, &doc, &v1)
	stale := doc

	v2 := testVersion(t, "d1", 2, "second")
	doc, err := r.Append(ctx, &doc, &v2)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if doc.Head() != 2 {
		t.Errorf("Head() = %d", doc.Head())
	}

	t.Run("skipping a number conflicts", func(t *testing.T) {
		v4 := testVersion(t, "d1", 4, "")
		_, err := r.Append(ctx, &doc, &v4)
		var vc *domain.VersionConflictError
		if !errors.As(err, &vc) || vc.Number != 4 {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("stale head conflicts", func(t *testing.T) {
		again := testVersion(t, "d1", 2, "racing writer")
		_, err := r.Append(ctx, &stale, &again)
		if !errors.Is(err, domain.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
		v, _ := r.Version(ctx, "d1", 2)
		if v.Text() != "second" {
			t.Error("existing version must not be overwritten")
		}
	})

	t.Run("tombstone marks deleted", func(t *testing.T) {
		ts := domdoc.NewTombstone("d1", 3, "bob", testNow)
		next, err := r.Append(ctx, &doc, &ts)
		if err != nil {
			t.Fatal(err)
		}
		got, _ := r.Get(ctx, "d1")
		if !got.Deleted() || got.DeletedBy() != "bob" || got.Head() != 3 || !next.Deleted() {
			t.Errorf("unexpected document %+v", got)
		}
	})
}

func TestVersions(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	doc, _ = r.Create(ctx, &doc, &v1)
	for n := 2; n <= 4; n++ {
		v := testVersion(t, "d1", n, "")
		doc, _ = r.Append(ctx, &doc, &v)
	}

	vs, err := r.Versions(ctx, "d1", 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(vs) != 3 || vs[0].Number() != 2 || vs[2].Number() != 4 {
		t.Errorf("Versions() = %d items", len(vs))
	}

	if _, err := r.Versions(ctx, "d1", 4, 6); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("gap err = %v", err)
	}
	if vs, _ := r.Versions(ctx, "d1", 3, 2); vs != nil {
		t.Error("empty range must return nil")
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	if _, err := r.Get(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
	if _, err := r.Version(ctx, "nope", 1); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("Version err = %v", err)
	}
}

func TestIDs(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	for _, id := range []string{"b", "a"} {
		doc := testDocument(t, id)
		v := testVersion(t, id, 1, "")
		if _, err := r.Create(ctx, &doc, &v); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := r.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	boom := &db.Error{Op: db.OpHGetAll, Err: errors.New("connection reset")}

	t.Run("get", func(t *testing.T) {
		r := New(&mockStore{hgetAllFn: func(context.Context, string) (map[string]string, error) {
			return nil, boom
		}}, "p:")
		if _, err := r.Get(ctx, "d1"); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("create keeps head when version write fails", func(t *testing.T) {
		hsetCalled := false
		r := New(&mockStore{
			setNXFn: func(context.Context, string, []byte) error { return boom },
			hsetFn: func(context.Context, string, map[string]string) error {
				hsetCalled = true
				return nil
			},
		}, "p:")
		doc := testDocument(t, "d1")
		v1 := testVersion(t, "d1", 1, "")
		if _, err := r.Create(ctx, &doc, &v1); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
		if hsetCalled {
			t.Error("document hash must not be written after a failed version write")
		}
	})

	t.Run("corrupt head", func(t *testing.T) {
		r := New(&mockStore{hgetAllFn: func(context.Context, string) (map[string]string, error) {
			return map[string]string{fieldID: "d1", fieldHead: "x"}, nil
		}}, "p:")
		if _, err := r.Get(ctx, "d1"); err == nil || !strings.Contains(err.Error(), "parse head") {
			t.Errorf("err = %v", err)
		}
	})
}

func TestCreate_DiscardsKeysWhenHashWriteFails(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	r := New(&hashFailStore{Store: mem, fail: true}, "test:")
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")

	if _, err := r.Create(ctx, &doc, &v1); err == nil {
		t.Fatal("expected hash write error")
	}
	for _, k := range []string{"test:version:d1:1", "test:head:d1", "test:document:d1"} {
		if ok, _ := mem.Exists(ctx, k); ok {
			t.Errorf("key %s left behind", k)
		}
	}
}

func TestGet_CatchesUpLostHeadWrite(t *testing.T) {
	ctx := context.Background()
	s := &hashFailStore{Store: memory.NewStore()}
	r := New(s, "test:")
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	if _, err := r.Create(ctx, &doc, &v1); err != nil {
		t.Fatal(err)
	}

	s.fail = true
	ts := domdoc.NewTombstone("d1", 2, "bob", testNow)
	if _, err := r.Append(ctx, &doc, &ts); err == nil {
		t.Fatal("expected hash write error")
	}
	s.fail = false

	got, err := r.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Head() != 2 || !got.Deleted() || got.DeletedBy() != "bob" {
		t.Errorf("document = head %d deleted %v", got.Head(), got.Deleted())
	}
}

func TestAppend_MovesLaggingCounter(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	r := New(mem, "test:")
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	doc, _ = r.Create(ctx, &doc, &v1)
	v2 := testVersion(t, "d1", 2, "")
	doc, _ = r.Append(ctx, &doc, &v2)

	if err := mem.Del(ctx, "test:head:d1"); err != nil {
		t.Fatal(err)
	}
	v3 := testVersion(t, "d1", 3, "")
	if _, err := r.Append(ctx, &doc, &v3); err != nil {
		t.Fatalf("Append: %v", err)
	}
	raw, err := mem.Get(ctx, "test:head:d1")
	if err != nil || string(raw) != "3" {
		t.Errorf("head counter = %q, %v", raw, err)
	}
}

func TestAppend_CounterAheadConflicts(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	r := New(mem, "test:")
	doc := testDocument(t, "d1")
	v1 := testVersion(t, "d1", 1, "")
	doc, _ = r.Create(ctx, &doc, &v1)

	if _, err := mem.IncrBy(ctx, "test:head:d1", 5); err != nil {
		t.Fatal(err)
	}
	v2 := testVersion(t, "d1", 2, "")
	if _, err := r.Append(ctx, &doc, &v2); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	r := newMemoryRepo(t)
	for _, id := range []string{"a", "b"} {
		d := testDocument(t, id)
		v := testVersion(t, id, 1, "")
		if _, err := r.Create(ctx, &d, &v); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := r.GetMany(ctx, []string{"b", "missing", "a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID() != "b" || docs[1].ID() != "a" {
		t.Errorf("GetMany = %+v", docs)
	}

	boom := errors.New("connection reset")
	failing := New(&mockStore{multiFn: func(context.Context, []string) ([]map[string]string, error) {
		return nil, boom
	}}, "p:")
	if _, err := failing.GetMany(ctx, []string{"a"}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
