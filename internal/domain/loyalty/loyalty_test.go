package loyalty

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAccrualRepo struct {
	created []*Accrual
	err     error
}

func (m *mockAccrualRepo) Create(_ context.Context, a *Accrual) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, a)
	return nil
}

func (m *mockAccrualRepo) BalanceFor(_ context.Context, _ uuid.UUID) (int64, error) {
	var sum int64
	for _, a := range m.created {
		sum += a.Points
	}
	return sum, nil
}

func TestPointsFor(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		want  int64
	}{
		{"ten thousand earns one thousand", 10000, 1000},
		{"truncates partial hundreds", 10150, 1010},
		{"below one hundred earns nothing", 99, 0},
		{"zero earns nothing", 0, 0},
		{"exactly one hundred", 100, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PointsFor(decimal.NewFromInt(tt.total)))
		})
	}
}

func TestAwarder_Award(t *testing.T) {
	repo := &mockAccrualRepo{}
	aw := NewAwarder(repo)
	owner := uuid.New()
	resID := uuid.New()

	err := aw.Award(context.Background(), owner, decimal.NewFromInt(10000), "rental settled", resID)

	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	got := repo.created[0]
	assert.Equal(t, int64(1000), got.Points)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, resID, got.ReservationID)
	assert.Equal(t, SourceRental, got.SourceKind)
}

func TestAwarder_SkipsZeroPoints(t *testing.T) {
	repo := &mockAccrualRepo{}
	aw := NewAwarder(repo)

	err := aw.Award(context.Background(), uuid.New(), decimal.NewFromInt(50), "tiny rental", uuid.New())

	require.NoError(t, err)
	assert.Empty(t, repo.created, "zero-point awards must not write a record")
}
