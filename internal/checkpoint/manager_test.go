package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"paper_go/internal/domain"
	"paper_go/internal/execution"
	"paper_go/internal/latency"
	"paper_go/internal/storage"
	"paper_go/pkg/quant"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dec = quant.MustDecimal

func ms(n int64) quant.TimeStamp { return quant.TimeStamp(n * 1000) }

func newEngine(t *testing.T, identity string) *execution.PaperEngine {
	t.Helper()
	e, err := execution.New(execution.Config{
		Identity:    identity,
		InitialCash: dec("100000"),
		Symbols:     []string{"X"},
		Latency:     latency.Zero(),
		Seed:        7,
	})
	require.NoError(t, err)
	return e
}

func submit(t *testing.T, e *execution.PaperEngine, req execution.OrderRequest, now quant.TimeStamp) string {
	t.Helper()
	res, err := e.Submit(req, now)
	require.NoError(t, err)
	require.True(t, res.Accepted, "rejected: %s", res.Reason)
	return res.OrderID
}

func buy(qty string) execution.OrderRequest {
	return execution.OrderRequest{Symbol: "X", Side: domain.SideBuy, Quantity: dec(qty), Type: domain.Market()}
}

func stateJSON(t *testing.T, e *execution.PaperEngine) string {
	t.Helper()
	st, err := e.Snapshot()
	require.NoError(t, err)
	b, err := json.Marshal(st)
	require.NoError(t, err)
	return string(b)
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time { return c.t }

func TestCheckpoint_RoundTripEquivalence(t *testing.T) {
	stores := map[string]func(t *testing.T) storage.CheckpointStore{
		"memory": func(t *testing.T) storage.CheckpointStore { return storage.NewMemoryStore() },
		"file": func(t *testing.T) storage.CheckpointStore {
			s, err := storage.NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(open(t))

			build := func() (*execution.PaperEngine, string) {
				e := newEngine(t, "sim-1")
				submit(t, e, buy("10"), 0)
				resting := submit(t, e, execution.OrderRequest{
					Symbol: "X", Side: domain.SideBuy, Quantity: dec("2"), Type: domain.Limit(dec("90")),
				}, 0)
				_, err := e.OnTick("X", dec("100.00"), ms(1))
				require.NoError(t, err)
				return e, resting
			}
			original, resting := build()
			control, _ := build()

			cp, err := m.Save(ctx, original, 3)
			require.NoError(t, err)

			loaded, err := m.LoadLatest(ctx, "sim-1")
			require.NoError(t, err)
			assert.Equal(t, uint64(3), loaded.JournalSeq)
			assert.Equal(t, cp.Key(), loaded.Key())
			assert.Equal(t, ms(1), loaded.EngineTime)

			restored, err := Restore(loaded)
			require.NoError(t, err)

			tail := func(e *execution.PaperEngine) {
				_, err := e.Cancel(resting, ms(2))
				require.NoError(t, err)
				submit(t, e, buy("5"), ms(2))
				_, err = e.OnTick("X", dec("100.00"), ms(3))
				require.NoError(t, err)
			}
			tail(restored)
			tail(control)

			assert.Equal(t, stateJSON(t, control), stateJSON(t, restored))
			acct := restored.Account()
			assert.True(t, acct.PositionQty("X").Equal(dec("15")), "position %s", acct.PositionQty("X"))
			assert.True(t, acct.Cash.Equal(dec("98500")), "cash %s", acct.Cash)
		})
	}
}

func TestCheckpoint_IsCopyOut(t *testing.T) {
	m := NewManager(storage.NewMemoryStore())
	e := newEngine(t, "sim")
	submit(t, e, buy("1"), 0)

	cp, err := m.Create(e, 0)
	require.NoError(t, err)
	before, err := Encode(cp)
	require.NoError(t, err)

	_, err = e.OnTick("X", dec("50"), ms(1))
	require.NoError(t, err)
	submit(t, e, buy("2"), ms(1))

	after, err := Encode(cp)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestDecode_RejectsIncompatibleVersions(t *testing.T) {
	m := NewManager(storage.NewMemoryStore())
	cp, err := m.Create(newEngine(t, "sim"), 0)
	require.NoError(t, err)

	for _, v := range []int{0, 2, 99} {
		cp.SchemaVersion = v
		data, err := Encode(cp)
		require.NoError(t, err)

		_, err = Decode(data)
		var ie *domain.IncompatibleCheckpointError
		require.ErrorAs(t, err, &ie, "version %d", v)
		assert.Equal(t, v, ie.Version)
		assert.Equal(t, SupportedVersions, ie.Supported)

		_, err = Restore(cp)
		assert.ErrorIs(t, err, domain.ErrIncompatibleCheckpoint)
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"schema_version":1,"surprise":true}`))
	assert.Error(t, err)
}

func TestCheckpoint_NumbersAreDecimalStrings(t *testing.T) {
	m := NewManager(storage.NewMemoryStore())
	e := newEngine(t, "sim")
	submit(t, e, buy("0.1"), 0)
	_, err := e.OnTick("X", dec("0.3"), ms(1))
	require.NoError(t, err)

	cp, err := m.Create(e, 0)
	require.NoError(t, err)
	data, err := Encode(cp)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"cash": "99999.97"`)
	assert.Contains(t, string(data), `"schema_version": 1`)
}

func TestManager_NotFound(t *testing.T) {
	m := NewManager(storage.NewMemoryStore())
	_, err := m.LoadLatest(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)

	_, err = m.Load(context.Background(), "nobody", 42)
	var nf *domain.CheckpointNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "42", nf.Key)
}

func TestManager_KeysStrictlyIncrease(t *testing.T) {
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(storage.NewMemoryStore(), WithClock(clk.now))
	e := newEngine(t, "sim")

	a, err := m.Create(e, 0)
	require.NoError(t, err)
	b, err := m.Create(e, 0)
	require.NoError(t, err)
	clk.t = clk.t.Add(-time.Hour)
	c, err := m.Create(e, 0)
	require.NoError(t, err)

	assert.Less(t, a.Key(), b.Key())
	assert.Less(t, b.Key(), c.Key())
}

func TestManager_IdentityIsolation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := NewManager(store)

	_, err := m.Save(ctx, newEngine(t, "a"), 0)
	require.NoError(t, err)
	cpB, err := m.Save(ctx, newEngine(t, "b"), 0)
	require.NoError(t, err)

	// A document stored under the wrong identity is refused.
	data, err := Encode(cpB)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "a", 1, data))
	_, err = m.LoadLatest(ctx, "a")
	assert.Error(t, err)

	got, err := m.LoadLatest(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Identity)
}

func TestManager_Prune(t *testing.T) {
	ctx := context.Background()
	clk := &stepClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(storage.NewMemoryStore(), WithClock(clk.now))
	e := newEngine(t, "sim")

	var keys []int64
	for i := 0; i < 5; i++ {
		clk.t = clk.t.Add(time.Second)
		cp, err := m.Save(ctx, e, uint64(i))
		require.NoError(t, err)
		keys = append(keys, cp.Key())
	}

	removed, err := m.Prune(ctx, "sim", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := m.List(ctx, "sim")
	require.NoError(t, err)
	assert.Equal(t, keys[3:], left)

	_, err = m.Prune(ctx, "sim", 0)
	assert.Error(t, err)
}

type countingObserver struct {
	ok, failed int
}

func (c *countingObserver) CheckpointPersisted(string, int, time.Duration) { c.ok++ }
func (c *countingObserver) CheckpointFailed(string, error)                 { c.failed++ }

type brokenStore struct{ *storage.MemoryStore }

func (brokenStore) Put(context.Context, string, int64, []byte) error { return errors.New("disk full") }

func TestManager_ObserverHooks(t *testing.T) {
	obs := &countingObserver{}
	e := newEngine(t, "sim")

	_, err := NewManager(storage.NewMemoryStore(), WithObserver(obs)).Save(context.Background(), e, 0)
	require.NoError(t, err)
	_, err = NewManager(brokenStore{storage.NewMemoryStore()}, WithObserver(obs)).Save(context.Background(), e, 0)
	require.Error(t, err)

	assert.Equal(t, 1, obs.ok)
	assert.Equal(t, 1, obs.failed)
}

func TestRestore_RejectsIdentityMismatch(t *testing.T) {
	cp, err := NewManager(storage.NewMemoryStore()).Create(newEngine(t, "sim"), 0)
	require.NoError(t, err)
	cp.Identity = "other"
	_, err = Restore(cp)
	assert.Error(t, err)
}
