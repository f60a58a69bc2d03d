package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeCalculator_Split(t *testing.T) {
	tests := []struct {
		name       string
		rateBps    int64
		amount     int64
		wantFee    int64
		wantPayout int64
	}{
		{name: "default rate", rateBps: 250, amount: 12000, wantFee: 300, wantPayout: 11700},
		{name: "half rounds up", rateBps: 250, amount: 20, wantFee: 1, wantPayout: 19},
		{name: "below half rounds down", rateBps: 250, amount: 19, wantFee: 0, wantPayout: 19},
		{name: "zero rate", rateBps: 0, amount: 5000, wantFee: 0, wantPayout: 5000},
		{name: "full rate", rateBps: 10000, amount: 5000, wantFee: 5000, wantPayout: 0},
		{name: "one minor unit", rateBps: 250, amount: 1, wantFee: 0, wantPayout: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc, err := NewFeeCalculator(tt.rateBps)
			require.NoError(t, err)

			fee, payout := fc.Split(tt.amount)
			assert.Equal(t, tt.wantFee, fee)
			assert.Equal(t, tt.wantPayout, payout)
			assert.Equal(t, tt.amount, fee+payout)
		})
	}
}

func TestFeeCalculator_SumsToAmount(t *testing.T) {
	fc, err := NewFeeCalculator(333)
	require.NoError(t, err)

	for amount := int64(1); amount <= 5000; amount += 7 {
		fee, payout := fc.Split(amount)
		assert.Equal(t, amount, fee+payout)
		assert.GreaterOrEqual(t, fee, int64(0))
		assert.GreaterOrEqual(t, payout, int64(0))
	}
}

func TestNewFeeCalculator_RejectsOutOfRange(t *testing.T) {
	_, err := NewFeeCalculator(-1)
	assert.Error(t, err)

	_, err = NewFeeCalculator(10001)
	assert.Error(t, err)
}
