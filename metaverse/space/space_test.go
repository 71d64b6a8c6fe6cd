package space

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
)

func writeSpaceFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		space   Space
		wantErr bool
	}{
		{"valid", Space{ID: "lobby", Width: 10, Height: 10}, false},
		{"zero width", Space{ID: "lobby", Width: 0, Height: 10}, true},
		{"negative height", Space{ID: "lobby", Width: 10, Height: -1}, true},
		{"too large", Space{ID: "lobby", Width: MaxDimension + 1, Height: 10}, true},
		{"bad id", Space{ID: "../etc", Width: 10, Height: 10}, true},
		{"empty id", Space{Width: 10, Height: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.space.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSpace) {
				t.Errorf("Expected ErrInvalidSpace, got %v", err)
			}
		})
	}
}

func TestNewFileCatalogMissingDir(t *testing.T) {
	if _, err := NewFileCatalog(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

func TestFileCatalogLookup(t *testing.T) {
	dir := t.TempDir()
	writeSpaceFile(t, dir, "lobby.json", `{"id":"lobby","name":"Lobby","width":20,"height":12}`)
	writeSpaceFile(t, dir, "implicit.json", `{"name":"Implicit","width":5,"height":5}`)
	writeSpaceFile(t, dir, "broken.json", `{"id":`)
	writeSpaceFile(t, dir, "flat.json", `{"id":"flat","width":0,"height":3}`)
	writeSpaceFile(t, dir, "liar.json", `{"id":"other","width":3,"height":3}`)

	catalog, err := NewFileCatalog(dir)
	if err != nil {
		t.Fatalf("NewFileCatalog failed: %v", err)
	}
	ctx := context.Background()

	s, err := catalog.LookupSpace(ctx, "lobby")
	if err != nil {
		t.Fatalf("LookupSpace(lobby) failed: %v", err)
	}
	if s.Width != 20 || s.Height != 12 || s.Name != "Lobby" {
		t.Errorf("Unexpected space: %+v", s)
	}

	s, err = catalog.LookupSpace(ctx, "implicit")
	if err != nil {
		t.Fatalf("LookupSpace(implicit) failed: %v", err)
	}
	if s.ID != "implicit" {
		t.Errorf("Expected id from file name, got %q", s.ID)
	}

	cases := map[string]error{
		"missing":  ErrSpaceNotFound,
		"../lobby": ErrSpaceNotFound,
		"broken":   ErrInvalidSpace,
		"flat":     ErrInvalidSpace,
		"liar":     ErrInvalidSpace,
	}
	for id, want := range cases {
		if _, err := catalog.LookupSpace(ctx, id); !errors.Is(err, want) {
			t.Errorf("LookupSpace(%q) error = %v, want %v", id, err, want)
		}
	}
}

func TestFileCatalogCacheAndRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSpaceFile(t, dir, "room.json", `{"id":"room","width":4,"height":4}`)

	catalog, _ := NewFileCatalog(dir)
	ctx := context.Background()

	if _, err := catalog.LookupSpace(ctx, "room"); err != nil {
		t.Fatalf("LookupSpace failed: %v", err)
	}

	writeSpaceFile(t, dir, "room.json", `{"id":"room","width":9,"height":9}`)
	s, _ := catalog.LookupSpace(ctx, "room")
	if s.Width != 4 {
		t.Errorf("Expected cached width 4, got %d", s.Width)
	}

	catalog.Refresh()
	s, _ = catalog.LookupSpace(ctx, "room")
	if s.Width != 9 {
		t.Errorf("Expected refreshed width 9, got %d", s.Width)
	}
}

func TestFileCatalogListAndSave(t *testing.T) {
	dir := t.TempDir()
	writeSpaceFile(t, dir, "b.json", `{"id":"b","width":2,"height":2}`)
	writeSpaceFile(t, dir, "bad.json", `nope`)
	writeSpaceFile(t, dir, "notes.txt", `ignored`)

	catalog, _ := NewFileCatalog(dir)
	if err := catalog.Save(Space{ID: "a", Name: "A", Width: 3, Height: 3}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := catalog.Save(Space{ID: "c", Width: 0, Height: 3}); !errors.Is(err, ErrInvalidSpace) {
		t.Errorf("Expected ErrInvalidSpace saving invalid space, got %v", err)
	}

	spaces, err := catalog.ListSpaces(context.Background())
	if err != nil {
		t.Fatalf("ListSpaces failed: %v", err)
	}
	if len(spaces) != 2 || spaces[0].ID != "a" || spaces[1].ID != "b" {
		t.Errorf("Unexpected listing: %+v", spaces)
	}

	if _, err := os.Stat(filepath.Join(dir, "a.json")); err != nil {
		t.Errorf("Expected a.json on disk: %v", err)
	}
}

func TestFileCatalogConcurrentLookups(t *testing.T) {
	dir := t.TempDir()
	writeSpaceFile(t, dir, "room.json", `{"id":"room","width":4,"height":4}`)
	catalog, _ := NewFileCatalog(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := catalog.LookupSpace(context.Background(), "room"); err != nil {
				t.Errorf("LookupSpace failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

type stubLookup struct {
	spaces map[string]Space
	err    error
	calls  int
}

func (s *stubLookup) LookupSpace(ctx context.Context, id string) (Space, error) {
	s.calls++
	if s.err != nil {
		return Space{}, s.err
	}
	if sp, ok := s.spaces[id]; ok {
		return sp, nil
	}
	return Space{}, ErrSpaceNotFound
}

func (s *stubLookup) ListSpaces(ctx context.Context) ([]Space, error) {
	var out []Space
	for _, sp := range s.spaces {
		out = append(out, sp)
	}
	return out, nil
}

func TestChain(t *testing.T) {
	first := &stubLookup{spaces: map[string]Space{"a": {ID: "a", Width: 1, Height: 1}}}
	second := &stubLookup{spaces: map[string]Space{
		"a": {ID: "a", Width: 2, Height: 2},
		"b": {ID: "b", Width: 3, Height: 3},
	}}
	chain := Chain{first, second}
	ctx := context.Background()

	s, err := chain.LookupSpace(ctx, "a")
	if err != nil || s.Width != 1 {
		t.Errorf("Expected first lookup to win, got %+v, %v", s, err)
	}

	s, err = chain.LookupSpace(ctx, "b")
	if err != nil || s.Width != 3 {
		t.Errorf("Expected fall through to second lookup, got %+v, %v", s, err)
	}

	if _, err := chain.LookupSpace(ctx, "c"); !errors.Is(err, ErrSpaceNotFound) {
		t.Errorf("Expected ErrSpaceNotFound, got %v", err)
	}

	spaces, err := chain.ListSpaces(ctx)
	if err != nil {
		t.Fatalf("ListSpaces failed: %v", err)
	}
	if len(spaces) != 2 {
		t.Errorf("Expected 2 merged spaces, got %+v", spaces)
	}
}

func TestChainStopsOnError(t *testing.T) {
	boom := errors.New("db down")
	first := &stubLookup{err: boom}
	second := &stubLookup{spaces: map[string]Space{"a": {ID: "a", Width: 1, Height: 1}}}

	if _, err := (Chain{first, second}).LookupSpace(context.Background(), "a"); !errors.Is(err, boom) {
		t.Errorf("Expected db error, got %v", err)
	}
	if second.calls != 0 {
		t.Error("Second lookup should not be consulted after a hard error")
	}
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		}
	}
	return nil
}

type fakeQuerier struct {
	row   fakeRow
	query string
	args  []any
}

func (f *fakeQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.query = sql
	f.args = args
	return f.row
}

func TestPostgresStoreLookup(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{values: []any{"s1", "Office", 30, 20}}}
	store := &PostgresStore{db: q}

	s, err := store.LookupSpace(context.Background(), "s1")
	if err != nil {
		t.Fatalf("LookupSpace failed: %v", err)
	}
	if s != (Space{ID: "s1", Name: "Office", Width: 30, Height: 20}) {
		t.Errorf("Unexpected space: %+v", s)
	}
	if q.query != lookupQuery || len(q.args) != 1 || q.args[0] != "s1" {
		t.Errorf("Unexpected query %q with %v", q.query, q.args)
	}
}

func TestPostgresStoreNotFound(t *testing.T) {
	store := &PostgresStore{db: &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}}
	if _, err := store.LookupSpace(context.Background(), "nope"); !errors.Is(err, ErrSpaceNotFound) {
		t.Errorf("Expected ErrSpaceNotFound, got %v", err)
	}
}

func TestPostgresStoreRejectsInvalidRow(t *testing.T) {
	store := &PostgresStore{db: &fakeQuerier{row: fakeRow{values: []any{"s1", "Flat", 30, 0}}}}
	if _, err := store.LookupSpace(context.Background(), "s1"); !errors.Is(err, ErrInvalidSpace) {
		t.Errorf("Expected ErrInvalidSpace, got %v", err)
	}
}

func TestNewPostgresStoreBadURL(t *testing.T) {
	if _, err := NewPostgresStore(context.Background(), "postgres://%zz"); err == nil {
		t.Error("Expected parse error for malformed url")
	}
}
