package logstore

import (
	"context"
	"time"

	"github.com/ocx/backend/internal/metrics"
)

// Instrument wraps a LogStore so every Append/Read call reports its
// duration to m under the given backend label. Used to measure
// production backends (Redis, Postgres) without touching their
// implementations.
func Instrument(backend string, store LogStore, m *metrics.Metrics) LogStore {
	if m == nil {
		return store
	}
	return &instrumentedStore{backend: backend, inner: store, metrics: m}
}

type instrumentedStore struct {
	backend string
	inner   LogStore
	metrics *metrics.Metrics
}

func (s *instrumentedStore) Append(ctx context.Context, data []byte) (LogRef, error) {
	start := time.Now()
	ref, err := s.inner.Append(ctx, data)
	s.metrics.ObserveLogStoreAppend(s.backend, time.Since(start))
	return ref, err
}

func (s *instrumentedStore) Read(ctx context.Context, ref LogRef) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Read(ctx, ref)
	s.metrics.ObserveLogStoreRead(s.backend, time.Since(start))
	return data, err
}

func (s *instrumentedStore) Close() error {
	return s.inner.Close()
}
