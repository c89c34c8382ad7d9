package postgres

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chorus-llm/chorus/pkg/credential"
)

func init() {
	// Configure testcontainers to use podman.
	// Detect the podman socket from `podman machine inspect`.
	if os.Getenv("DOCKER_HOST") == "" {
		out, err := exec.Command("podman", "machine", "inspect", "--format", "{{.ConnectionInfo.PodmanSocket.Path}}").Output()
		if err == nil {
			sock := strings.TrimSpace(string(out))
			if sock != "" {
				os.Setenv("DOCKER_HOST", "unix://"+sock)
			}
		}
	}
	// Ryuk needs privileged mode with podman.
	if os.Getenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_CONTAINER_PRIVILEGED", "true")
	}
}

// setupTestDB starts a PostgreSQL container and returns a connected Store.
// Tests are skipped if no container runtime is available.
func setupTestDB(t *testing.T) *Store {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("SKIP_INTEGRATION=true, skipping PostgreSQL integration tests")
	}

	if _, err := exec.LookPath("podman"); err != nil {
		if _, err := exec.LookPath("docker"); err != nil {
			t.Skip("no container runtime found, skipping integration tests")
		}
	}

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("chorus_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}

	t.Cleanup(func() {
		container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	store, err := New(ctx, Config{
		DSN:            connStr,
		MigrateOnStart: true,
	})
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	rec := credential.Record{
		UserID:     "alice",
		ProviderID: "openai",
		Envelope:   "v1:bm9uY2U=:Y2lwaGVydGV4dA==",
		KeyVersion: 1,
		UpdatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Envelope != rec.Envelope || got.KeyVersion != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestPutUpserts(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	base := credential.Record{
		UserID: "alice", ProviderID: "openai",
		Envelope: "v1:a:b", KeyVersion: 1, UpdatedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("Put: %v", err)
	}

	base.Envelope = "v2:c:d"
	base.KeyVersion = 2
	if err := store.Put(ctx, base); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}

	got, err := store.Get(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Envelope != "v2:c:d" || got.KeyVersion != 2 {
		t.Errorf("got %+v, want replaced record", got)
	}
}

func TestGetAbsent(t *testing.T) {
	store := setupTestDB(t)

	_, err := store.Get(context.Background(), "nobody", "openai")
	if !errors.Is(err, credential.ErrAbsent) {
		t.Errorf("err = %v, want ErrAbsent", err)
	}
}

func TestDeleteAndList(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, p := range []string{"openai", "anthropic"} {
		err := store.Put(ctx, credential.Record{
			UserID: "alice", ProviderID: p,
			Envelope: "v1:a:b", KeyVersion: 1, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("Put(%s): %v", p, err)
		}
	}

	recs, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].ProviderID != "anthropic" {
		t.Errorf("recs = %+v", recs)
	}

	if err := store.Delete(ctx, "alice", "openai"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "alice", "openai"); !errors.Is(err, credential.ErrAbsent) {
		t.Errorf("second Delete = %v, want ErrAbsent", err)
	}

	recs, err = store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("recs = %+v", recs)
	}
}

func TestResolverAgainstPostgres(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	keychain, err := credential.NewKeychain([]credential.KeyConfig{
		{Version: 1, Passphrase: "pg-test-passphrase-1", Salt: "pg-salt", Iterations: credential.MinIterations},
		{Version: 2, Passphrase: "pg-test-passphrase-2", Salt: "pg-salt", Iterations: credential.MinIterations},
	})
	if err != nil {
		t.Fatalf("NewKeychain: %v", err)
	}
	resolver := credential.NewResolver(store, keychain, nil)

	if err := resolver.Save(ctx, "alice", "openai", "sk-live-key"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	secret, err := resolver.Resolve(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if secret != "sk-live-key" {
		t.Errorf("secret = %q", secret)
	}

	// The row at rest must not contain the plaintext.
	rec, err := store.Get(ctx, "alice", "openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if strings.Contains(rec.Envelope, "sk-live-key") {
		t.Error("stored envelope leaks the plaintext secret")
	}
	if rec.KeyVersion != 2 {
		t.Errorf("key version = %d, want active version 2", rec.KeyVersion)
	}
}
