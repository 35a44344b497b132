package repository

import (
	"context"
	"errors"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

var (
	ErrNotFound     = errors.New("report not found")
	ErrStreamClosed = errors.New("insert stream closed")
)

// InsertStream yields one raw record per report inserted after the point the
// stream was opened at. Streams are not safe for concurrent use.
type InsertStream interface {
	Next(ctx context.Context) (models.RawRecord, error)
	// Position is the resume token of the last record returned, or of the
	// point the stream started from if none has been. Empty if unknown.
	Position() string
	Close() error
}

// ReportStore is the persisted report collection. Insert is used by external
// writers only; the live feed reads through SubscribeInserts.
type ReportStore interface {
	Insert(ctx context.Context, r *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	ListRecent(ctx context.Context, limit int) ([]models.Report, error)
	Delete(ctx context.Context, id string) error

	// SubscribeInserts opens a stream positioned after resumeToken, or after
	// the newest stored report when the token is empty.
	SubscribeInserts(ctx context.Context, resumeToken string) (InsertStream, error)

	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit is the page size used when callers ask for no limit.
const DefaultListLimit = 50

const fetchBatch = 100
