package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-engine/council/pkg/council"
)

type fakeFetcher struct {
	calls   int32
	models  []council.ModelDescriptor
	fetchErr error
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]council.ModelDescriptor, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.models, nil
}

func TestDynamic_RefreshesOnFirstCallWhenTTLElapsed(t *testing.T) {
	fetcher := &fakeFetcher{models: []council.ModelDescriptor{{ModelID: "remote-model", Tier: council.TierHigh}}}
	d := NewDynamic(fetcher, sampleModels(), 0) // ttl<=0 falls back to default, but lastFetch is zero so it's stale

	models, err := d.Models(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "remote-model", models[0].ModelID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetcher.calls))
}

func TestDynamic_FallsBackOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{fetchErr: errors.New("upstream unavailable")}
	fallback := sampleModels()
	d := NewDynamic(fetcher, fallback, 300)

	models, err := d.Models(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, len(fallback))
	assert.Equal(t, fallback[0].ModelID, models[0].ModelID)
	assert.Error(t, d.LastError())
}

func TestDynamic_GetUnknownModel(t *testing.T) {
	fetcher := &fakeFetcher{models: sampleModels()}
	d := NewDynamic(fetcher, nil, 300)

	_, err := d.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrModelNotFound)
}
