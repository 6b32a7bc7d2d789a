package settings

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/brennholz-api/internal/cache"
	"github.com/noah-isme/brennholz-api/internal/pricing"
)

type countingStore struct {
	snap  Snapshot
	loads int
}

func (s *countingStore) Load(context.Context) (Snapshot, error) {
	s.loads++
	return s.snap, nil
}

func TestApplyDecodesSettings(t *testing.T) {
	snap := Snapshot{ShippingCosts: map[string]pricing.Money{}, MinOrderQuantity: DefaultMinOrderQuantity}

	require.NoError(t, apply(&snap, KeyShippingCosts, []byte(`{"delivery":"43.5","pickup":0}`)))
	require.NoError(t, apply(&snap, KeyMinOrderQuantity, []byte(`5`)))

	cost, ok := snap.ShippingCost("delivery")
	require.True(t, ok)
	require.Equal(t, "43.50", cost.StringFixed(2))
	_, ok = snap.ShippingCost("drone")
	require.False(t, ok)
	require.Equal(t, []string{"delivery", "pickup"}, snap.DeliveryMethods())
	require.Equal(t, 5, snap.MinOrderQuantity)
}

func TestApplyRejectsMalformedJSON(t *testing.T) {
	snap := Snapshot{ShippingCosts: map[string]pricing.Money{}}
	require.Error(t, apply(&snap, KeyShippingCosts, []byte(`[1,2]`)))
}

func TestSnapshotIsCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &countingStore{snap: Snapshot{
		VATRate:          pricing.MustParse("19"),
		PricesIncludeTax: true,
		ShippingCosts:    map[string]pricing.Money{"delivery": pricing.MustParse("43.50")},
		MinOrderQuantity: 3,
	}}
	svc := &Service{Store: store, Cache: cache.NewJSON(client, "settings", time.Minute)}
	ctx := context.Background()

	first, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	second, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, store.loads)
	require.True(t, first.VATRate.Equal(second.VATRate))
	require.True(t, second.Tax().PricesIncludeTax)

	require.NoError(t, svc.Invalidate(ctx))
	_, err = svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, store.loads)
}

func TestAdminInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := &countingStore{snap: Snapshot{MinOrderQuantity: 3}}
	h := &AdminHandler{Svc: &Service{Store: store, Cache: cache.NewJSON(client, "settings", time.Minute)}}

	rr := httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/admin/settings", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"minOrderQuantity":3`)

	rr = httptest.NewRecorder()
	h.Invalidate(rr, httptest.NewRequest(http.MethodPost, "/admin/settings/invalidate", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	h.Get(rr, httptest.NewRequest(http.MethodGet, "/admin/settings", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 2, store.loads)
}
