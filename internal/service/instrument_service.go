package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paa-listas/primary-go/internal/domain"
)

// DefaultInstrumentCacheKey is the blob name of the instrument cache.
const DefaultInstrumentCacheKey = "instruments.json"

// InstrumentFetcher retrieves the instrument catalog from the exchange.
type InstrumentFetcher interface {
	Instruments(ctx context.Context) ([]domain.Instrument, error)
}

// instrumentCache is the persisted blob.
type instrumentCache struct {
	CacheDate   time.Time           `json:"cacheDate"`
	Instruments []domain.Instrument `json:"instrumentList"`
}

// InstrumentService serves the instrument catalog through a read-through
// blob cache that stays fresh for ttlDays calendar days.
type InstrumentService struct {
	fetcher InstrumentFetcher
	reader  domain.BlobReader
	writer  domain.BlobWriter
	key     string
	ttlDays int
	now     func() time.Time
	logger  *slog.Logger

	mu sync.Mutex
}

// NewInstrumentService creates the service. reader and writer may be nil,
// in which case every call fetches.
func NewInstrumentService(
	fetcher InstrumentFetcher,
	reader domain.BlobReader,
	writer domain.BlobWriter,
	ttlDays int,
	logger *slog.Logger,
) *InstrumentService {
	if ttlDays <= 0 {
		ttlDays = 1
	}
	return &InstrumentService{
		fetcher: fetcher,
		reader:  reader,
		writer:  writer,
		key:     DefaultInstrumentCacheKey,
		ttlDays: ttlDays,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "instrument_service")),
	}
}

// WithKey overrides the cache blob name.
func (s *InstrumentService) WithKey(key string) *InstrumentService {
	if key != "" {
		s.key = key
	}
	return s
}

// WithClock overrides the clock used for freshness checks.
func (s *InstrumentService) WithClock(now func() time.Time) *InstrumentService {
	s.now = now
	return s
}

// List returns the catalog, from the cache when it is fresh.
func (s *InstrumentService) List(ctx context.Context) ([]domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.readCache(ctx); ok {
		return cached, nil
	}
	return s.refreshLocked(ctx)
}

// Get returns one instrument of the catalog.
func (s *InstrumentService) Get(ctx context.Context, id domain.InstrumentID) (domain.Instrument, error) {
	all, err := s.List(ctx)
	if err != nil {
		return domain.Instrument{}, err
	}
	for _, inst := range all {
		if inst.ID == id {
			return inst, nil
		}
	}
	return domain.Instrument{}, fmt.Errorf("instrument %s: %w", id, domain.ErrNotFound)
}

// Refresh fetches the catalog and overwrites the cache regardless of age.
func (s *InstrumentService) Refresh(ctx context.Context) ([]domain.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *InstrumentService) refreshLocked(ctx context.Context) ([]domain.Instrument, error) {
	insts, err := s.fetcher.Instruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("instrument_service: fetch: %w", err)
	}

	if s.writer != nil {
		body, err := json.Marshal(instrumentCache{CacheDate: s.now(), Instruments: insts})
		if err == nil {
			err = s.writer.Put(ctx, s.key, bytes.NewReader(body), "application/json")
		}
		if err != nil {
			s.logger.WarnContext(ctx, "write instrument cache failed",
				slog.String("key", s.key),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "instrument catalog fetched", slog.Int("instruments", len(insts)))
	return insts, nil
}

// readCache returns the cached catalog when present, readable and fresh.
func (s *InstrumentService) readCache(ctx context.Context) ([]domain.Instrument, bool) {
	if s.reader == nil {
		return nil, false
	}
	rc, err := s.reader.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "read instrument cache failed", slog.String("error", err.Error()))
		}
		return nil, false
	}
	defer rc.Close()

	var cache instrumentCache
	if err := json.NewDecoder(rc).Decode(&cache); err != nil {
		s.logger.WarnContext(ctx, "corrupt instrument cache", slog.String("error", err.Error()))
		return nil, false
	}
	if !isFresh(cache.CacheDate, s.now(), s.ttlDays) {
		s.logger.DebugContext(ctx, "instrument cache expired",
			slog.Time("cache_date", cache.CacheDate),
			slog.Int("ttl_days", s.ttlDays),
		)
		return nil, false
	}
	return cache.Instruments, true
}

// isFresh reports whether fewer than ttlDays calendar days separate the
// cache date from now, both taken in now's location. A cache dated after
// now is stale.
func isFresh(cacheDate, now time.Time, ttlDays int) bool {
	if cacheDate.IsZero() {
		return false
	}
	days := calendarDays(cacheDate.In(now.Location()), now)
	return days >= 0 && days < ttlDays
}

func calendarDays(from, to time.Time) int {
	y1, m1, d1 := from.Date()
	y2, m2, d2 := to.Date()
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
