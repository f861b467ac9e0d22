package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsegram/backend/internal/auth"
	"github.com/pulsegram/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	if os.Getenv("PULSEGRAM_INTEGRATION") != "1" {
		fmt.Fprintln(os.Stderr, "skipping repository integration tests; set PULSEGRAM_INTEGRATION=1 to run them")
		os.Exit(0)
	}

	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresAccountRepository_CreateFindAndPrivacy(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, repo, "alice")

	dup := alice
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate handle got %v", err)
	}

	byHandle, err := repo.FindByHandle(ctx, "alice")
	if err != nil {
		t.Fatalf("find by handle: %v", err)
	}
	if byHandle.ID != alice.ID {
		t.Fatalf("expected id %s got %s", alice.ID, byHandle.ID)
	}

	if err := repo.SetPrivate(ctx, alice.ID, true, time.Now().UTC()); err != nil {
		t.Fatalf("set private: %v", err)
	}
	byID, err := repo.FindByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !byID.Private {
		t.Fatal("expected account to be private")
	}

	if _, err := repo.FindByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found got %v", err)
	}
	if err := repo.SetPrivate(ctx, uuid.NewString(), true, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown account got %v", err)
	}
}

func TestPostgresFollowRepository_ToggleAcceptAndList(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")

	repo := NewPostgresFollowRepository(testPool)
	edge := models.FollowEdge{FollowerID: alice.ID, FolloweeID: bob.ID, Status: models.FollowPending, CreatedAt: time.Now().UTC()}

	created, err := repo.Toggle(ctx, edge)
	if err != nil || !created {
		t.Fatalf("expected edge to be created got created=%v err=%v", created, err)
	}

	pending, err := repo.ListPending(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].FollowerID != alice.ID {
		t.Fatalf("unexpected pending edges: %+v", pending)
	}

	changed, err := repo.Accept(ctx, alice.ID, bob.ID, time.Now().UTC())
	if err != nil || !changed {
		t.Fatalf("expected accept to change edge got changed=%v err=%v", changed, err)
	}
	changed, err = repo.Accept(ctx, alice.ID, bob.ID, time.Now().UTC())
	if err != nil || changed {
		t.Fatalf("expected second accept to be a no-op got changed=%v err=%v", changed, err)
	}

	got, err := repo.Get(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("get edge: %v", err)
	}
	if got.Status != models.FollowAccepted || got.RespondedAt == nil {
		t.Fatalf("expected accepted edge with response time got %+v", got)
	}

	followers, err := repo.ListFollowers(ctx, bob.ID)
	if err != nil {
		t.Fatalf("list followers: %v", err)
	}
	if len(followers) != 1 {
		t.Fatalf("expected one follower got %d", len(followers))
	}

	removed, err := repo.DeletePending(ctx, alice.ID, bob.ID)
	if err != nil || removed {
		t.Fatalf("delete pending must ignore accepted edges got removed=%v err=%v", removed, err)
	}

	created, err = repo.Toggle(ctx, edge)
	if err != nil || created {
		t.Fatalf("expected toggle to remove edge got created=%v err=%v", created, err)
	}
	if _, err := repo.Get(ctx, alice.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after toggle got %v", err)
	}

	ghost := models.FollowEdge{FollowerID: alice.ID, FolloweeID: uuid.NewString(), Status: models.FollowAccepted, CreatedAt: time.Now().UTC()}
	if _, err := repo.Toggle(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown followee got %v", err)
	}
}

func TestPostgresFollowRepository_ConcurrentTogglesKeepOneEdge(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")
	repo := NewPostgresFollowRepository(testPool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Toggle(ctx, models.FollowEdge{FollowerID: alice.ID, FolloweeID: bob.ID, Status: models.FollowAccepted, CreatedAt: time.Now().UTC()})
			if err != nil && !errors.Is(err, ErrConflict) {
				t.Errorf("toggle: %v", err)
			}
		}()
	}
	wg.Wait()

	var count int
	if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id = $1 AND followee_id = $2`, alice.ID, bob.ID).Scan(&count); err != nil {
		t.Fatalf("count edges: %v", err)
	}
	if count > 1 {
		t.Fatalf("expected at most one edge got %d", count)
	}
}

func TestPostgresNotificationRepository_ListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")

	repo := NewPostgresNotificationRepository(testPool)
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, kind := range []models.NotificationKind{models.NotificationLike, models.NotificationComment} {
		n := models.Notification{
			ID:          uuid.NewString(),
			RecipientID: alice.ID,
			ActorID:     bob.ID,
			Kind:        kind,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("create notification: %v", err)
		}
	}

	missing := models.Notification{ID: uuid.NewString(), RecipientID: uuid.NewString(), ActorID: bob.ID, Kind: models.NotificationFollow, CreatedAt: base}
	if err := repo.Create(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown recipient got %v", err)
	}

	list, err := repo.ListForRecipient(ctx, alice.ID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(list) != 2 || list[0].Kind != models.NotificationComment {
		t.Fatalf("expected newest first got %+v", list)
	}

	updated, err := repo.MarkAllRead(ctx, alice.ID)
	if err != nil || updated != 2 {
		t.Fatalf("expected 2 updated got %d err=%v", updated, err)
	}
	updated, err = repo.MarkAllRead(ctx, alice.ID)
	if err != nil || updated != 0 {
		t.Fatalf("expected idempotent mark read got %d err=%v", updated, err)
	}

	unread, err := repo.CountUnread(ctx, alice.ID)
	if err != nil || unread != 0 {
		t.Fatalf("expected no unread got %d err=%v", unread, err)
	}
}

func TestPostgresNotificationRepository_SameInstantListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")

	repo := NewPostgresNotificationRepository(testPool)
	at := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 5; i++ {
		n := models.Notification{
			ID:          uuid.NewString(),
			RecipientID: alice.ID,
			ActorID:     bob.ID,
			Kind:        models.NotificationLike,
			CreatedAt:   at,
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("create notification: %v", err)
		}
		ids = append(ids, n.ID)
	}

	list, err := repo.ListForRecipient(ctx, alice.ID, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(list) != len(ids) {
		t.Fatalf("expected %d notifications got %d", len(ids), len(list))
	}
	for i, n := range list {
		if want := ids[len(ids)-1-i]; n.ID != want {
			t.Fatalf("position %d: expected %s got %s", i, want, n.ID)
		}
	}
}

func TestPostgresMessageRepository_ConversationOrdering(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")

	repo := NewPostgresMessageRepository(testPool)
	sameInstant := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := repo.Create(ctx, models.Message{
			ID:          uuid.NewString(),
			SenderID:    alice.ID,
			RecipientID: bob.ID,
			Content:     fmt.Sprintf("message %d", i),
			CreatedAt:   sameInstant,
		})
		if err != nil {
			t.Fatalf("create message: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	history, err := repo.ListConversation(ctx, bob.ID, alice.ID, 10)
	if err != nil {
		t.Fatalf("list conversation: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages got %d", len(history))
	}
	for i, msg := range history {
		if msg.ID != ids[i] {
			t.Fatalf("expected insertion order for equal timestamps at %d", i)
		}
	}

	updated, err := repo.MarkConversationRead(ctx, bob.ID, alice.ID)
	if err != nil || updated != 3 {
		t.Fatalf("expected 3 messages marked read got %d err=%v", updated, err)
	}
}

func TestPostgresLikeRepository_Toggle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")
	bob := createTestAccount(t, accounts, "bob")

	posts := NewPostgresPostRepository(testPool)
	post := models.Post{ID: uuid.NewString(), AuthorID: alice.ID, Content: "hello", CreatedAt: time.Now().UTC()}
	if err := posts.Create(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	likes := NewPostgresLikeRepository(testPool)
	for i, want := range []bool{true, false, true} {
		liked, err := likes.Toggle(ctx, post.ID, bob.ID, time.Now().UTC())
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if liked != want {
			t.Fatalf("toggle %d: expected liked=%v got %v", i, want, liked)
		}
	}

	comments := NewPostgresCommentRepository(testPool)
	if err := comments.Create(ctx, models.Comment{ID: uuid.NewString(), PostID: post.ID, AuthorID: bob.ID, Content: "nice", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("create comment: %v", err)
	}
	list, err := comments.ListForPost(ctx, post.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one comment got %d err=%v", len(list), err)
	}

	if _, err := posts.Get(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown post got %v", err)
	}
}

func TestPostgresSessionStore_SaveTakePurge(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accounts := NewPostgresAccountRepository(testPool)
	alice := createTestAccount(t, accounts, "alice")

	store := NewPostgresSessionStore(testPool)
	now := time.Now().UTC()

	sessions := []auth.Session{
		{RefreshToken: "live", AccountID: alice.ID, ExpiresAt: now.Add(time.Hour)},
		{RefreshToken: "stale", AccountID: alice.ID, ExpiresAt: now.Add(-time.Hour)},
		{RefreshToken: "revoked", AccountID: alice.ID, ExpiresAt: now.Add(time.Hour)},
	}
	for _, s := range sessions {
		if err := store.Save(ctx, s); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	purged, err := store.PurgeExpired(ctx, now)
	if err != nil || purged != 1 {
		t.Fatalf("expected 1 purged got %d err=%v", purged, err)
	}
	if _, err := store.Take(ctx, "stale"); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected stale session gone got %v", err)
	}

	taken, err := store.Take(ctx, "live")
	if err != nil {
		t.Fatalf("take session: %v", err)
	}
	if taken.AccountID != alice.ID || !timesClose(taken.ExpiresAt, sessions[0].ExpiresAt, time.Millisecond) {
		t.Fatalf("unexpected session %+v", taken)
	}
	if _, err := store.Take(ctx, "live"); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected second take to fail got %v", err)
	}

	if err := store.Delete(ctx, "revoked"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := store.Delete(ctx, "revoked"); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected not found on second delete got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE messages, comments, likes, posts, notifications, follows, sessions, accounts CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestAccount(t *testing.T, repo *PostgresAccountRepository, handle string) models.Account {
	t.Helper()
	now := time.Now().UTC()
	account := models.Account{
		ID:           uuid.NewString(),
		Handle:       handle,
		Email:        handle + "@example.com",
		DisplayName:  handle,
		PasswordHash: "password-hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("create test account: %v", err)
	}
	return account
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
