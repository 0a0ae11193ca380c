package sim

import (
	"math"
	"testing"
)

func TestComputeProfit(t *testing.T) {
	tests := []struct {
		name      string
		in        ProfitInput
		wantGross float64
		wantFees  float64
		wantNet   float64
	}{
		{
			name: "one percent spread",
			in: ProfitInput{
				LongFillPrice:  100,
				ShortFillPrice: 101,
				Notional:       300,
				LongFeeRate:    0.0006,
				ShortFeeRate:   0.0006,
			},
			wantGross: 3,
			wantFees:  0.72,
			wantNet:   2.28,
		},
		{
			name: "funding cost reduces net",
			in: ProfitInput{
				LongFillPrice:  100,
				ShortFillPrice: 101,
				Notional:       300,
				LongFeeRate:    0.0006,
				ShortFeeRate:   0.0006,
				Funding:        0.5,
			},
			wantGross: 3,
			wantFees:  0.72,
			wantNet:   1.78,
		},
		{
			name: "spread below fees is negative",
			in: ProfitInput{
				LongFillPrice:  100,
				ShortFillPrice: 100.1,
				Notional:       300,
				LongFeeRate:    0.0006,
				ShortFeeRate:   0.0006,
			},
			wantGross: 0.3,
			wantFees:  0.72,
			wantNet:   -0.42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeProfit(tt.in)
			if math.Abs(got.GrossProfit-tt.wantGross) > 1e-9 {
				t.Errorf("GrossProfit = %v, want %v", got.GrossProfit, tt.wantGross)
			}
			if math.Abs(got.TotalFees-tt.wantFees) > 1e-9 {
				t.Errorf("TotalFees = %v, want %v", got.TotalFees, tt.wantFees)
			}
			if math.Abs(got.NetProfit-tt.wantNet) > 1e-9 {
				t.Errorf("NetProfit = %v, want %v", got.NetProfit, tt.wantNet)
			}
			wantPct := tt.wantNet / tt.in.Notional * 100
			if math.Abs(got.ProfitPercent-wantPct) > 1e-9 {
				t.Errorf("ProfitPercent = %v, want %v", got.ProfitPercent, wantPct)
			}
		})
	}
}

func TestEstimateFunding(t *testing.T) {
	// Long pays 0.01%, short receives 0.03%, 300 notional, held one period:
	// net income of 0.06.
	got := EstimateFunding(0.0001, 0.0003, 300, 8)
	if math.Abs(got-(-0.06)) > 1e-9 {
		t.Errorf("EstimateFunding = %v, want -0.06", got)
	}

	// Half a period scales linearly.
	got = EstimateFunding(0.0003, 0.0001, 300, 4)
	if math.Abs(got-0.03) > 1e-9 {
		t.Errorf("EstimateFunding = %v, want 0.03", got)
	}
}
