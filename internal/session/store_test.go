package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-bff/internal/lock"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Store{
		Client: client,
		Locker: &lock.Locker{Client: client, Prefix: "lock"},
		TTL:    time.Hour,
	}, mr
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "u-1", []LineItem{
		{ProductID: "101", VariantID: "7", Name: "Clear Case", Quantity: 2, UnitPrice: "200.00"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, PaymentIdle, created.PaymentState)

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "u-1", loaded.UserID)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "200.00", loaded.Items[0].UnitPrice)
}

func TestGetMissingSession(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionExpiresWithTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "u-1", nil)
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)
	_, err = store.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateMutatesAtomically(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "u-1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, created.ID, func(s *Session) error {
				s.Items = append(s.Items, LineItem{ProductID: "101", Quantity: 1, UnitPrice: "10.00"})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 10, "concurrent updates must not lose writes")
}

func TestUpdateErrorLeavesSessionUnchanged(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "u-1", nil)
	require.NoError(t, err)

	wantErr := assert.AnError
	err = store.Update(ctx, created.ID, func(s *Session) error {
		s.PaymentState = PaymentSuccess
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentIdle, loaded.PaymentState)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, PaymentSuccess.Terminal())
	assert.True(t, PaymentFailed.Terminal())
	assert.True(t, PaymentCancelled.Terminal())
	assert.False(t, PaymentIdle.Terminal())
	assert.False(t, PaymentProcessing.Terminal())
	assert.False(t, PaymentVerifying.Terminal())
}
