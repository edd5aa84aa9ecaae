package upload

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inspection-export/internal/common/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ==========================
// Mock Uploader
// ==========================

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) Upload(ctx context.Context, filename string, data []byte, contentType string) error {
	args := m.Called(ctx, filename, data, contentType)
	return args.Error(0)
}

const testJPEG = "\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01"

func createTestDataURL(payload string) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte(payload))
}

func createTestReconciler(t *testing.T, u Uploader, ledger Ledger, gens Generations) *Reconciler {
	return NewReconciler(u, ledger, gens, t.TempDir(), logger.NewTestLogger(t))
}

// ==========================
// Filenames
// ==========================

func TestFilename(t *testing.T) {
	at := time.Date(2025, 1, 1, 12, 0, 5, 0, time.UTC)

	tests := []struct {
		prefix, ext, want string
	}{
		{prefix: "cover", ext: "jpg", want: "cover_20250101_120005.jpg"},
		{prefix: "structural 2/defect", ext: ".PNG", want: "structural-2-defect_20250101_120005.png"},
		{prefix: "", ext: "", want: "photo_20250101_120005.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Filename(tt.prefix, at, tt.ext))
	}

	// second resolution: captures within the same second collide
	assert.Equal(t, Filename("cover", at, "jpg"), Filename("cover", at.Add(900*time.Millisecond), "jpg"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "jpg", ExtensionFor("image/jpeg", ""))
	assert.Equal(t, "png", ExtensionFor("image/png; charset=binary", ""))
	assert.Equal(t, "heic", ExtensionFor("application/octet-stream", "/tmp/IMG_0001.HEIC"))
	assert.Equal(t, "jpg", ExtensionFor("", ""))
}

// ==========================
// Persist
// ==========================

func TestPersist_DurableIsNoOp(t *testing.T) {
	u := new(MockUploader)
	r := createTestReconciler(t, u, nil, nil)

	for _, ref := range []string{"https://files.example.com/a.jpg", "cover_20250101_120000.jpg"} {
		res, err := r.Persist(context.Background(), ref, "ignored.jpg")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDurable, res.Outcome)
		assert.Equal(t, ref, res.Ref)
		assert.True(t, r.Reconcile(context.Background(), ref, "ignored.jpg"))
	}
	u.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPersist_UploadsOncePerFilenameAndContent(t *testing.T) {
	u := new(MockUploader)
	u.On("Upload", mock.Anything, "cover_20250101_120000.jpg", []byte(testJPEG), "image/jpeg").Return(nil).Once()
	r := createTestReconciler(t, u, NewMemoryLedger(), nil)
	ref := createTestDataURL(testJPEG)

	first, err := r.Persist(context.Background(), ref, "cover_20250101_120000.jpg")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUploaded, first.Outcome)
	assert.Equal(t, "cover_20250101_120000.jpg", first.Ref)

	second, err := r.Persist(context.Background(), ref, "cover_20250101_120000.jpg")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Outcome)

	u.AssertNumberOfCalls(t, "Upload", 1)
}

func TestPersist_ChangedBytesUploadAgain(t *testing.T) {
	u := new(MockUploader)
	u.On("Upload", mock.Anything, "a.jpg", mock.Anything, mock.Anything).Return(nil)
	r := createTestReconciler(t, u, NewMemoryLedger(), nil)

	require.True(t, r.Reconcile(context.Background(), createTestDataURL("one"), "a.jpg"))
	require.True(t, r.Reconcile(context.Background(), createTestDataURL("two"), "a.jpg"))

	u.AssertNumberOfCalls(t, "Upload", 2)
}

func TestPersist_Failures(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		filename string
		setup    func(u *MockUploader)
	}{
		{name: "empty ref", ref: "", filename: "a.jpg"},
		{name: "blob ref", ref: "blob:https://app/123", filename: "a.jpg"},
		{name: "bad base64", ref: "data:image/png;base64,@@@", filename: "a.jpg"},
		{name: "path in filename", ref: createTestDataURL("x"), filename: "../a.jpg"},
		{name: "file outside staging", ref: "file:///etc/hosts", filename: "a.jpg"},
		{
			name: "upload rejected", ref: createTestDataURL("x"), filename: "a.jpg",
			setup: func(u *MockUploader) {
				u.On("Upload", mock.Anything, "a.jpg", mock.Anything, mock.Anything).Return(errors.New("status 500"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := new(MockUploader)
			if tt.setup != nil {
				tt.setup(u)
			}
			ledger := NewMemoryLedger()
			r := createTestReconciler(t, u, ledger, nil)

			res, err := r.Persist(context.Background(), tt.ref, tt.filename)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrReconciliation))
			assert.Equal(t, OutcomeFailed, res.Outcome)
			assert.Empty(t, res.Ref, "a failed reconciliation never offers a replacement reference")
			assert.False(t, res.OK())

			_, seen, _ := ledger.Digest(context.Background(), tt.filename)
			assert.False(t, seen)
		})
	}
}

func TestPersist_StagedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.jpg")
	require.NoError(t, os.WriteFile(path, []byte(testJPEG), 0o600))

	u := new(MockUploader)
	u.On("Upload", mock.Anything, "layout_20250101_120000.jpg", []byte(testJPEG), "image/jpeg").Return(nil)
	r := NewReconciler(u, nil, nil, dir, logger.NewNoOpLogger())

	assert.True(t, r.Reconcile(context.Background(), "file://"+filepath.ToSlash(path), "layout_20250101_120000.jpg"))
	u.AssertExpectations(t)
}

// ==========================
// Redis-backed ledger
// ==========================

func TestPersist_RedisLedgerSurvivesReconcilerRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	u := new(MockUploader)
	u.On("Upload", mock.Anything, "sign_20250101_120000.jpg", mock.Anything, mock.Anything).Return(nil).Once()
	ref := createTestDataURL(testJPEG)

	first := createTestReconciler(t, u, NewRedisLedger(rdb, "", time.Hour), nil)
	require.True(t, first.Reconcile(context.Background(), ref, "sign_20250101_120000.jpg"))

	second := createTestReconciler(t, u, NewRedisLedger(rdb, "", time.Hour), nil)
	require.True(t, second.Reconcile(context.Background(), ref, "sign_20250101_120000.jpg"))

	u.AssertNumberOfCalls(t, "Upload", 1)
	assert.True(t, mr.Exists("upload:ledger:sign_20250101_120000.jpg"))
	assert.Equal(t, time.Hour, mr.TTL("upload:ledger:sign_20250101_120000.jpg"))
}

func TestRedisLedger_Commands(t *testing.T) {
	db, rmock := redismock.NewClientMock()
	ledger := NewRedisLedger(db, "l:", time.Minute)
	ctx := context.Background()

	rmock.ExpectGet("l:a.jpg").RedisNil()
	_, seen, err := ledger.Digest(ctx, "a.jpg")
	require.NoError(t, err)
	assert.False(t, seen)

	rmock.ExpectSet("l:a.jpg", "abc", time.Minute).SetVal("OK")
	require.NoError(t, ledger.Record(ctx, "a.jpg", "abc"))

	rmock.ExpectGet("l:a.jpg").SetErr(errors.New("connection refused"))
	_, _, err = ledger.Digest(ctx, "a.jpg")
	assert.Error(t, err)

	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestPersist_LedgerOutageStillUploads(t *testing.T) {
	sum := sha256.Sum256([]byte("x"))
	db, rmock := redismock.NewClientMock()
	rmock.ExpectGet("upload:ledger:a.jpg").SetErr(errors.New("connection refused"))
	rmock.ExpectSet("upload:ledger:a.jpg", hex.EncodeToString(sum[:]), 0).SetErr(errors.New("connection refused"))

	u := new(MockUploader)
	u.On("Upload", mock.Anything, "a.jpg", mock.Anything, mock.Anything).Return(nil)
	r := createTestReconciler(t, u, NewRedisLedger(db, "", 0), nil)

	assert.True(t, r.Reconcile(context.Background(), createTestDataURL("x"), "a.jpg"))
	u.AssertNumberOfCalls(t, "Upload", 1)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

// ==========================
// Field concurrency
// ==========================

func TestReconcileFields_Concurrent(t *testing.T) {
	u := new(MockUploader)
	u.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	r := createTestReconciler(t, u, NewMemoryLedger(), NewMemoryGenerations())

	reqs := []FieldRequest{
		{Field: "photos.cover", Ref: createTestDataURL("c"), TargetFilename: "cover_20250101_120000.jpg"},
		{Field: "photos.mainSign", Ref: "sign_20250101_115900.jpg", TargetFilename: "unused.jpg"},
		{Field: "photos.map", Ref: "blob:x", TargetFilename: "map_20250101_120000.jpg"},
	}

	results := r.ReconcileFields(context.Background(), "rpt-1", reqs)

	require.Len(t, results, 3)
	assert.Equal(t, "photos.cover", results[0].Field)
	assert.Equal(t, OutcomeUploaded, results[0].Outcome)
	assert.Equal(t, OutcomeDurable, results[1].Outcome)
	assert.Equal(t, OutcomeFailed, results[2].Outcome)
	u.AssertNumberOfCalls(t, "Upload", 1)
}

// blockingUploader holds uploads until released so that a newer trigger can
// overtake an older one for the same field.
type blockingUploader struct {
	mu      sync.Mutex
	started chan string
	release map[string]chan struct{}
}

func (b *blockingUploader) Upload(ctx context.Context, filename string, _ []byte, _ string) error {
	b.mu.Lock()
	ch := b.release[filename]
	b.mu.Unlock()
	b.started <- filename
	if ch != nil {
		<-ch
	}
	return nil
}

func TestReconcileFields_LastWriteWins(t *testing.T) {
	slow := make(chan struct{})
	u := &blockingUploader{
		started: make(chan string, 2),
		release: map[string]chan struct{}{"cover_20250101_120000.jpg": slow},
	}
	gens := NewMemoryGenerations()
	r := createTestReconciler(t, u, NewMemoryLedger(), gens)
	ctx := context.Background()

	older := make(chan []Result, 1)
	go func() {
		older <- r.ReconcileFields(ctx, "rpt-1", []FieldRequest{
			{Field: "photos.cover", Ref: createTestDataURL("old"), TargetFilename: "cover_20250101_120000.jpg"},
		})
	}()
	require.Equal(t, "cover_20250101_120000.jpg", <-u.started)

	newer := r.ReconcileFields(ctx, "rpt-1", []FieldRequest{
		{Field: "photos.cover", Ref: createTestDataURL("new"), TargetFilename: "cover_20250101_120001.jpg"},
	})
	<-u.started
	close(slow)
	stale := <-older

	require.Len(t, newer, 1)
	assert.Equal(t, OutcomeUploaded, newer[0].Outcome)
	assert.Equal(t, "cover_20250101_120001.jpg", newer[0].Ref)
	assert.Equal(t, int64(2), newer[0].Generation)

	require.Len(t, stale, 1)
	assert.Equal(t, OutcomeSuperseded, stale[0].Outcome)
	assert.Empty(t, stale[0].Ref)

	cur, err := gens.Current(ctx, "rpt-1:photos.cover")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cur)
}

func TestRedisGenerations(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	g := NewRedisGenerations(rdb, "", time.Minute)
	g.now = func() time.Time { return time.UnixMicro(100) }
	ctx := context.Background()

	cur, err := g.Current(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur)

	n, err := g.Next(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	n, err = g.Next(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(101), n)

	cur, err = g.Current(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, int64(101), cur)
	assert.Equal(t, time.Minute, mr.TTL("upload:gen:f"))
}

func TestRedisGenerations_KeepIncreasingAfterExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	clock := time.UnixMicro(1_000)
	g := NewRedisGenerations(rdb, "", time.Minute)
	g.now = func() time.Time { return clock }
	ctx := context.Background()

	first, err := g.Next(ctx, "f")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("upload:gen:f"))

	clock = clock.Add(time.Second)
	second, err := g.Next(ctx, "f")
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestReconcileFields_GenerationUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	u := new(MockUploader)
	r := createTestReconciler(t, u, NewMemoryLedger(), NewRedisGenerations(rdb, "", time.Minute))

	results := r.ReconcileFields(context.Background(), "rpt-1", []FieldRequest{
		{Field: "photos.cover", Ref: createTestDataURL("c"), TargetFilename: "cover_20250101_120000.jpg"},
	})

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Error, "generation unavailable")
	u.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
