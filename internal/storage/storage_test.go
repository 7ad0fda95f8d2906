package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/deusflow/crisiswatch/internal/news"
)

type store interface {
	InsertSent(ctx context.Context, rec news.SentRecord) (bool, error)
	SentURL(ctx context.Context, url string) (bool, error)
	TitleHashSeen(ctx context.Context, hash string, since time.Time) (bool, error)
	CountSent(ctx context.Context, from, to time.Time) (int, error)
	RecentTitles(ctx context.Context, since time.Time, limit int) ([]string, error)
	Scalar(ctx context.Context, name string) (string, bool, error)
	SetScalar(ctx context.Context, name, value string) error
	Close() error
}

func openStores(t *testing.T) map[string]store {
	t.Helper()
	ctx := context.Background()

	lite, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := OpenFileStore("")
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	disk, err := OpenFileStore(filepath.Join(t.TempDir(), "sent.json"))
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	stores := map[string]store{"sqlite": lite, "memory": mem, "file": disk}

	if dsn := os.Getenv("CRISISWATCH_TEST_DATABASE_URL"); dsn != "" {
		pg, err := OpenPostgres(ctx, dsn)
		if err != nil {
			t.Fatalf("open postgres: %v", err)
		}
		if _, err := pg.db.ExecContext(ctx, "TRUNCATE sent_log, kv"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		stores["postgres"] = pg
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func rec(url, title string, at time.Time) news.SentRecord {
	return news.SentRecord{URL: url, SentAt: at, Title: title, TitleHash: news.TitleHash(title), Region: "GLOBAL", Source: "example.com", Severity: 6}
}

func TestStores_SentRecords(t *testing.T) {
	base := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			inserted, err := s.InsertSent(ctx, rec("https://a.example/1", "Old story", base.Add(-4*24*time.Hour)))
			if err != nil || !inserted {
				t.Fatalf("first insert = %v, %v", inserted, err)
			}
			for i, title := range []string{"Story one", "Story two", "Story three"} {
				url := "https://a.example/" + string(rune('a'+i))
				if _, err := s.InsertSent(ctx, rec(url, title, base.Add(time.Duration(i)*time.Hour))); err != nil {
					t.Fatalf("insert: %v", err)
				}
			}

			again, err := s.InsertSent(ctx, rec("https://a.example/1", "Duplicate", base))
			if err != nil || again {
				t.Fatalf("repeated URL insert = %v, %v; want silent no-op", again, err)
			}

			if ok, _ := s.SentURL(ctx, "https://a.example/1"); !ok {
				t.Fatalf("SentURL missed stored url")
			}
			if ok, _ := s.SentURL(ctx, "https://a.example/none"); ok {
				t.Fatalf("SentURL found unknown url")
			}

			windowStart := base.Add(-3 * 24 * time.Hour)
			if ok, _ := s.TitleHashSeen(ctx, news.TitleHash("story ONE | Wire"), windowStart); !ok {
				t.Fatalf("title hash inside window not found")
			}
			if ok, _ := s.TitleHashSeen(ctx, news.TitleHash("Old story"), windowStart); ok {
				t.Fatalf("title hash outside window reported")
			}

			n, err := s.CountSent(ctx, base, base.Add(2*time.Hour))
			if err != nil || n != 2 {
				t.Fatalf("CountSent = %d, %v; want 2", n, err)
			}

			titles, err := s.RecentTitles(ctx, windowStart, 2)
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"Story three", "Story two"}; !reflect.DeepEqual(titles, want) {
				t.Fatalf("RecentTitles = %v, want %v", titles, want)
			}
		})
	}
}

func TestStores_Scalars(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Scalar(ctx, "last_noncritical_send"); ok || err != nil {
				t.Fatalf("unset scalar = %v, %v", ok, err)
			}
			if err := s.SetScalar(ctx, "last_noncritical_send", "100"); err != nil {
				t.Fatal(err)
			}
			if err := s.SetScalar(ctx, "last_noncritical_send", "200"); err != nil {
				t.Fatal(err)
			}
			v, ok, err := s.Scalar(ctx, "last_noncritical_send")
			if err != nil || !ok || v != "200" {
				t.Fatalf("Scalar = %q, %v, %v", v, ok, err)
			}
		})
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sent.json")
	at := time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.InsertSent(ctx, rec("https://x.example/1", "Persisted", at)); err != nil {
		t.Fatal(err)
	}
	if err := fs.SetScalar(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := reopened.SentURL(ctx, "https://x.example/1"); !ok {
		t.Fatalf("record lost after reopen")
	}
	if v, ok, _ := reopened.Scalar(ctx, "k"); !ok || v != "v" {
		t.Fatalf("scalar lost after reopen")
	}
}

func TestFileStore_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sent.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(path); err == nil {
		t.Fatalf("expected error for corrupt file")
	}
}

func TestBuilderFor_PlaceholdersPerDialect(t *testing.T) {
	cases := []struct {
		d    Dialect
		want string
	}{
		{SQLite, "SELECT url FROM sent WHERE url = ?"},
		{Postgres, "SELECT url FROM sent WHERE url = $1"},
	}
	for _, c := range cases {
		query, _, err := builderFor(c.d).Select("url").From("sent").Where("url = ?", "x").ToSql()
		if err != nil {
			t.Fatalf("%s: %v", c.d, err)
		}
		if query != c.want {
			t.Fatalf("%s: got %q, want %q", c.d, query, c.want)
		}
	}
}
