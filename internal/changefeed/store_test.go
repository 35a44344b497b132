package changefeed

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/disaster-live-feed/internal/metrics"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

// openShared returns two handles on one database file, the way the service
// and an external writer see it.
func openShared(t *testing.T) (reader, writer *repository.SQLiteDB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.db")

	reader, err := repository.NewSQLiteDB(path, 2*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { reader.Close() })

	writer, err = repository.NewSQLiteDB(path, 2*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { writer.Close() })
	return reader, writer
}

func TestWatcher_SQLiteBurstFromSecondWriter(t *testing.T) {
	reader, writer := openShared(t)
	m := metrics.NewForTesting()

	src := &openedSource{Source: reader, opened: make(chan struct{})}

	w, cancel, errCh := startWatcher(t, src, m)
	defer func() {
		cancel()
		require.NoError(t, <-errCh)
	}()

	select {
	case <-src.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never subscribed")
	}

	const total = 200
	ctx := context.Background()
	go func() {
		for i := 0; i < total; i++ {
			writer.Insert(ctx, &models.Report{ID: fmt.Sprintf("burst-%d", i), DisasterType: "Flood", Timestamp: time.Now()})
		}
	}()

	got := make([]models.RawRecord, 0, total)
	timeout := time.After(10 * time.Second)
	for len(got) < total {
		select {
		case rec := <-w.Records():
			got = append(got, rec)
		case <-timeout:
			t.Fatalf("delivered %d of %d inserts", len(got), total)
		}
	}
	for i, rec := range got {
		assert.Equal(t, fmt.Sprintf("burst-%d", i), rec.ID)
	}
}

// openedSource closes opened after the first successful subscription.
type openedSource struct {
	Source
	opened chan struct{}
	once   sync.Once
}

func (o *openedSource) SubscribeInserts(ctx context.Context, resumeToken string) (repository.InsertStream, error) {
	stream, err := o.Source.SubscribeInserts(ctx, resumeToken)
	if err == nil {
		o.once.Do(func() { close(o.opened) })
	}
	return stream, err
}

// failFirstSource breaks the first stream right after a row lands, before
// the stream has returned anything.
type failFirstSource struct {
	store  *repository.SQLiteDB
	writer *repository.SQLiteDB

	mu    sync.Mutex
	calls int
}

func (f *failFirstSource) SubscribeInserts(ctx context.Context, resumeToken string) (repository.InsertStream, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()

	stream, err := f.store.SubscribeInserts(ctx, resumeToken)
	if err != nil || !first {
		return stream, err
	}
	if err := f.writer.Insert(ctx, &models.Report{ID: "r1", DisasterType: "Fire", Timestamp: time.Now()}); err != nil {
		stream.Close()
		return nil, err
	}
	return &brokenAfterOpen{InsertStream: stream}, nil
}

func (f *failFirstSource) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type brokenAfterOpen struct {
	repository.InsertStream
}

func (b *brokenAfterOpen) Next(context.Context) (models.RawRecord, error) {
	return models.RawRecord{}, errors.New("connection reset")
}

func TestWatcher_RowDuringFailedSubscription(t *testing.T) {
	reader, writer := openShared(t)
	src := &failFirstSource{store: reader, writer: writer}

	w, cancel, errCh := startWatcher(t, src, metrics.NewForTesting())
	got := receive(t, w, 1)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, "r1", got[0].ID)
	assert.GreaterOrEqual(t, src.subscribeCalls(), 2)
}
