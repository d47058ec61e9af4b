package waterfall

import "testing"

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		required   int64
		protection int64
		cash       int64
		want       Split
	}{
		{
			name:       "protection covers everything",
			required:   30000,
			protection: 50000,
			cash:       10000,
			want:       Split{ProtectionUsed: 30000, CashUsed: 0, External: 0},
		},
		{
			name:       "protection then cash",
			required:   50000,
			protection: 30000,
			cash:       30000,
			want:       Split{ProtectionUsed: 30000, CashUsed: 20000, External: 0},
		},
		{
			name:       "protection credit only then external, no cash",
			required:   50000,
			protection: 30000,
			cash:       0,
			want:       Split{ProtectionUsed: 30000, CashUsed: 0, External: 20000},
		},
		{
			name:       "all three pools",
			required:   100000,
			protection: 30000,
			cash:       25000,
			want:       Split{ProtectionUsed: 30000, CashUsed: 25000, External: 45000},
		},
		{
			name:       "empty wallet goes fully external",
			required:   12345,
			protection: 0,
			cash:       0,
			want:       Split{ProtectionUsed: 0, CashUsed: 0, External: 12345},
		},
		{
			name:       "zero required uses nothing",
			required:   0,
			protection: 10000,
			cash:       10000,
			want:       Split{},
		},
		{
			name:       "exact protection boundary",
			required:   30000,
			protection: 30000,
			cash:       5000,
			want:       Split{ProtectionUsed: 30000, CashUsed: 0, External: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.required, tt.protection, tt.cash)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Compute(%d, %d, %d) = %+v, want %+v",
					tt.required, tt.protection, tt.cash, got, tt.want)
			}
			if got.Total() != tt.required {
				t.Errorf("split components sum to %d, want %d", got.Total(), tt.required)
			}
		})
	}
}

func TestCompute_RejectsNegativeInputs(t *testing.T) {
	cases := [][3]int64{
		{-1, 0, 0},
		{100, -1, 0},
		{100, 0, -1},
	}
	for _, c := range cases {
		if _, err := Compute(c[0], c[1], c[2]); err == nil {
			t.Errorf("Compute(%d, %d, %d): expected error for negative input", c[0], c[1], c[2])
		}
	}
}

func TestCompute_ExactnessAcrossRange(t *testing.T) {
	// The three components must always sum to the requirement, for any
	// combination of pool availability around the requirement.
	for required := int64(0); required <= 300; required += 50 {
		for protection := int64(0); protection <= 300; protection += 75 {
			for cash := int64(0); cash <= 300; cash += 75 {
				s, err := Compute(required, protection, cash)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s.Total() != required {
					t.Fatalf("Compute(%d, %d, %d): components sum to %d",
						required, protection, cash, s.Total())
				}
				if s.ProtectionUsed > protection || s.CashUsed > cash {
					t.Fatalf("Compute(%d, %d, %d): overdrew a pool: %+v",
						required, protection, cash, s)
				}
			}
		}
	}
}
