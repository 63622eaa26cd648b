package history

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/bitesense/api/schemas"
	"github.com/xkilldash9x/bitesense/internal/config"
)

func sampleRecord(insect string) schemas.BiteRecord {
	return schemas.BiteRecord{
		ImageRef: "images/" + insect + ".jpg",
		Analysis: schemas.BiteAnalysis{
			InsectType:       insect,
			Severity:         "Moderate",
			ExpectedDuration: "5-7 days",
			Characteristics:  []string{"firm red bump"},
			Treatments:       []string{"clean area"},
			Timeline: schemas.Timeline{
				{Phase: "Day 1-2", Description: "bump appears"},
				{Phase: "Day 3-4", Description: "rash fades"},
			},
		},
	}
}

// storeFactories builds every backend that can run without external services.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore(zaptest.NewLogger(t))
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), config.RedisConfig{Addr: mr.Addr(), Key: "bite_history"}, zaptest.NewLogger(t))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "bitesense.db"), zaptest.NewLogger(t))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("should start empty", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				list, err := s.List(ctx)
				require.NoError(t, err)
				assert.NotNil(t, list)
				assert.Empty(t, list)
			})

			t.Run("should assign id and timestamp and round-trip the analysis", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				in := sampleRecord("Tick")
				saved, err := s.Append(ctx, in)
				require.NoError(t, err)
				assert.NotEmpty(t, saved.ID)
				assert.False(t, saved.CreatedAt.IsZero())

				got, err := s.Get(ctx, saved.ID)
				require.NoError(t, err)
				assert.Equal(t, saved.ID, got.ID)
				assert.Equal(t, in.ImageRef, got.ImageRef)
				assert.True(t, saved.CreatedAt.Equal(got.CreatedAt))
				if diff := cmp.Diff(in.Analysis, got.Analysis); diff != "" {
					t.Errorf("analysis mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("should list newest first and keep only the most recent records", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				var ids []string
				for i := 0; i < Capacity+3; i++ {
					rec, err := s.Append(ctx, sampleRecord(fmt.Sprintf("bug-%02d", i)))
					require.NoError(t, err)
					ids = append(ids, rec.ID)
				}

				list, err := s.List(ctx)
				require.NoError(t, err)
				require.Len(t, list, Capacity)
				for i, rec := range list {
					assert.Equal(t, ids[len(ids)-1-i], rec.ID, "position %d", i)
				}

				_, err = s.Get(ctx, ids[0])
				assert.ErrorIs(t, err, ErrNotFound, "evicted records are gone")
			})

			t.Run("should clear everything", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				rec, err := s.Append(ctx, sampleRecord("Fleas"))
				require.NoError(t, err)
				require.NoError(t, s.Clear(ctx))
				require.NoError(t, s.Clear(ctx), "clearing an empty history is fine")

				list, err := s.List(ctx)
				require.NoError(t, err)
				assert.Empty(t, list)
				_, err = s.Get(ctx, rec.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("should report a missing id", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()
				_, err := s.Get(ctx, "does-not-exist")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("should not lose concurrent appends", func(t *testing.T) {
				s := newStore(t)
				defer s.Close()

				var wg sync.WaitGroup
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := s.Append(ctx, sampleRecord(fmt.Sprintf("bug-%d", i)))
						assert.NoError(t, err)
					}(i)
				}
				wg.Wait()

				list, err := s.List(ctx)
				require.NoError(t, err)
				assert.Len(t, list, 5)
			})
		})
	}
}

func TestPrepend(t *testing.T) {
	var list []schemas.BiteRecord
	for i := 0; i < Capacity+2; i++ {
		list = prepend(list, schemas.BiteRecord{ID: fmt.Sprint(i)})
	}
	require.Len(t, list, Capacity)
	assert.Equal(t, fmt.Sprint(Capacity+1), list[0].ID)
	assert.Equal(t, "2", list[Capacity-1].ID)
}

func TestDecodeList_Corruption(t *testing.T) {
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"garbage", "not json at all"},
		{"wrong shape", `{"id":"x"}`},
		{"null", "null"},
		{"truncated", `[{"id":"a","analysis":{"insectType":"Tick"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := decodeList([]byte(tt.data), logger)
			assert.NotNil(t, list)
			assert.Empty(t, list)
		})
	}
}
