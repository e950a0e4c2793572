package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/credshare/credpool/internal/domain/model"
)

// setupTestDB opens a migrated in-memory database with the same dual
// reader/writer layout as NewDB. cache=shared lets both handles see one
// database; keying the URI on t.Name() keeps parallel tests apart.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Escape the test name: subtest names contain "/" and would otherwise
	// break the file: URI.
	safeName := url.PathEscape(t.Name())
	// No WAL pragma here, journal modes don't apply in-memory.
	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		safeName,
	)

	open := func(role string, maxConns int) *sql.DB {
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			t.Fatalf("open test db %s: %v", role, err)
		}
		conn.SetMaxOpenConns(maxConns)
		if err := conn.PingContext(context.Background()); err != nil {
			_ = conn.Close()
			t.Fatalf("ping test db %s: %v", role, err)
		}
		return conn
	}

	writer := open("writer", 1)
	reader := open("reader", 4)

	db := &DB{Writer: writer, Reader: reader, path: dsn}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })

	return db
}

// testKey is a deterministic 32-byte encryption key for repo tests.
func testKey() []byte {
	sum := sha256.Sum256([]byte("test-secret"))
	return sum[:]
}

func setupCredentialRepo(t *testing.T) *CredentialRepo {
	t.Helper()
	return NewCredentialRepo(setupTestDB(t), testKey())
}

// newTestCredential builds a provisioned, active oauth credential; tests
// tweak fields before inserting.
func newTestCredential(email string) *model.Credential {
	return &model.Credential{
		Mode:         model.ModeGeminiCLI,
		Kind:         model.KindOAuth,
		Email:        email,
		Tier:         model.Tier25,
		AccountClass: model.ClassFree,
		IsActive:     true,
		AccessToken:  "at-" + email,
		RefreshToken: "rt-" + email,
		ClientID:     "cid",
		ClientSecret: "csecret",
		TenantID:     "tenant-" + email,
	}
}

// mustCreateUser inserts a user row with an explicit id so credential
// fixtures referencing it satisfy the user_id foreign key.
func mustCreateUser(t *testing.T, repo *CredentialRepo, id int64) {
	t.Helper()
	_, err := repo.db.Writer.ExecContext(context.Background(),
		`INSERT INTO users (id, username) VALUES (?, ?)`,
		id, fmt.Sprintf("user-%d", id),
	)
	if err != nil {
		t.Fatalf("create user %d: %v", id, err)
	}
}

func mustCreate(t *testing.T, repo *CredentialRepo, c *model.Credential) int64 {
	t.Helper()
	id, err := repo.Create(context.Background(), c)
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	return id
}

func timePtr(t time.Time) *time.Time { return &t }

func int64Ptr(v int64) *int64 { return &v }
