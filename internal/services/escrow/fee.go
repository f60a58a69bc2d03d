package escrow

import "fmt"

const bpsDenominator = 10_000

// FeeCalculator splits a purchase amount into platform fee and seller payout.
type FeeCalculator struct {
	rateBps int64
}

func NewFeeCalculator(rateBps int64) (*FeeCalculator, error) {
	if rateBps < 0 || rateBps > bpsDenominator {
		return nil, fmt.Errorf("fee rate %d bps out of range [0, %d]", rateBps, bpsDenominator)
	}
	return &FeeCalculator{rateBps: rateBps}, nil
}

func (fc *FeeCalculator) RateBps() int64 { return fc.rateBps }

// Split returns fee = round(amount * rate) with halves rounded up, and
// payout = amount - fee. The two always sum to amount.
func (fc *FeeCalculator) Split(amount int64) (fee, payout int64) {
	fee = (amount*fc.rateBps + bpsDenominator/2) / bpsDenominator
	return fee, amount - fee
}
