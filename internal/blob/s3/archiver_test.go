package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/store/memstore"
)

type memWriter struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files == nil {
		w.files = map[string][]byte{}
	}
	w.files[path] = b
	return nil
}

func seedFailed(t *testing.T, db *memstore.DB, at time.Time) domain.Opportunity {
	t.Helper()
	ctx := context.Background()
	db.SetClock(func() time.Time { return at })
	opp, err := db.Opportunities().Create(ctx, domain.Opportunity{
		TokenID: 1, BuyVenueID: 1, SellVenueID: 2,
		BuyPrice: decimal.NewFromInt(1), SellPrice: decimal.NewFromInt(2),
	})
	require.NoError(t, err)
	require.NoError(t, db.Opportunities().TransitionStatus(ctx, opp.ID, domain.OpportunityActive, domain.OpportunityExecuting))
	require.NoError(t, db.Opportunities().MarkFailed(ctx, opp.ID, "boom"))
	return opp
}

func TestArchiveOpportunitiesWritesJSONL(t *testing.T) {
	db := memstore.New()
	old := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	first := seedFailed(t, db, old)
	second := seedFailed(t, db, old.Add(time.Hour))
	seedFailed(t, db, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	w := &memWriter{}
	a := NewArchiver(w, db.Opportunities(), db.Trades(), db.AuditLog())
	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveOpportunities(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := w.files["archive/opportunities/2025-02.jsonl"]
	require.True(t, ok)
	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		var o domain.Opportunity
		require.NoError(t, json.Unmarshal(sc.Bytes(), &o))
		assert.Equal(t, domain.OpportunityFailed, o.Status)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{first.ID, second.ID}, ids)

	audit := db.Audit()
	require.Len(t, audit, 1)
	assert.Equal(t, "archive.opportunities", audit[0].Event)
	assert.Equal(t, int64(2), audit[0].Detail["count"])
}

func TestArchiveNothingSkipsUpload(t *testing.T) {
	db := memstore.New()
	w := &memWriter{}
	a := NewArchiver(w, db.Opportunities(), db.Trades(), db.AuditLog())

	n, err := a.ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.files)
	assert.Empty(t, db.Audit())
}

func TestArchiveUploadFailure(t *testing.T) {
	db := memstore.New()
	seedFailed(t, db, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	a := NewArchiver(&memWriter{err: errors.New("denied")}, db.Opportunities(), db.Trades(), db.AuditLog())

	_, err := a.ArchiveOpportunities(context.Background(), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorContains(t, err, "denied")
	assert.Empty(t, db.Audit())
}

func TestWriterPutsObject(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, b
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archive-bucket",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	w := NewWriter(c, 0)
	require.NoError(t, w.Put(context.Background(), "archive/trades/2025-01.jsonl", strings.NewReader("{}\n"), "application/x-ndjson"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/archive-bucket/archive/trades/2025-01.jsonl", path)
	assert.Contains(t, string(body), "{}")
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestWithScheme(t *testing.T) {
	assert.Equal(t, "http://minio:9000", withScheme("minio:9000", false))
	assert.Equal(t, "https://r2.example.com", withScheme("r2.example.com", true))
	assert.Equal(t, "http://localhost:9000", withScheme("http://localhost:9000", true))
}
