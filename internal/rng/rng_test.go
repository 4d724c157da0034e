package rng

import (
	"math"
	"testing"
)

func TestGenerateInt(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		for _, max := range []int64{2, 10, 100, 1000, 10000} {
			for i := 0; i < 1000; i++ {
				n, err := s.GenerateInt(max)
				if err != nil {
					t.Fatalf("Failed to generate int: %v", err)
				}
				if n < 0 || n >= max {
					t.Errorf("Generated value %d out of range [0, %d)", n, max)
				}
			}
		}
	})

	t.Run("RejectsZeroOrNegative", func(t *testing.T) {
		_, err := s.GenerateInt(0)
		if err == nil {
			t.Error("Expected error for max=0")
		}

		_, err = s.GenerateInt(-1)
		if err == nil {
			t.Error("Expected error for max=-1")
		}
	})

	t.Run("UniformDistribution", func(t *testing.T) {
		const max = 10
		const samples = 100000
		counts := make([]int, max)

		for i := 0; i < samples; i++ {
			n, err := s.GenerateInt(max)
			if err != nil {
				t.Fatalf("Failed to generate int: %v", err)
			}
			counts[n]++
		}

		expected := float64(samples) / float64(max)
		var chiSquare float64
		for _, count := range counts {
			diff := float64(count) - expected
			chiSquare += (diff * diff) / expected
		}

		// Critical value for 9 DOF at 99% confidence is ~21.67
		if chiSquare > 25 {
			t.Errorf("Chi-square test failed: %f (expected < 25)", chiSquare)
		}
	})
}

func TestGenerateFloat(t *testing.T) {
	s := New()

	t.Run("GeneratesWithinRange", func(t *testing.T) {
		for i := 0; i < 10000; i++ {
			f, err := s.GenerateFloat()
			if err != nil {
				t.Fatalf("Failed to generate float: %v", err)
			}
			if f < 0.0 || f >= 1.0 {
				t.Errorf("Generated value %f out of range [0.0, 1.0)", f)
			}
		}
	})

	t.Run("HasGoodPrecision", func(t *testing.T) {
		seen := make(map[float64]bool)
		for i := 0; i < 1000; i++ {
			f, _ := s.GenerateFloat()
			seen[f] = true
		}

		if len(seen) < 990 {
			t.Errorf("Expected near-unique values, got %d unique out of 1000", len(seen))
		}
	})
}

func TestHealthCheck(t *testing.T) {
	s := New()

	result, err := s.HealthCheck()
	if err != nil {
		t.Fatalf("Health check error: %v", err)
	}

	if !result.Healthy {
		t.Error("RNG reported unhealthy")
	}

	if !result.ChiSquarePassed {
		t.Errorf("Chi-square test failed with value %f", result.ChiSquare)
	}

	if result.ChiSquare < 20 || result.ChiSquare > 200 {
		t.Logf("Warning: Chi-square value %f is unusual (expected 20-200 range)", result.ChiSquare)
	}
}

func TestChiSquareTest(t *testing.T) {
	s := New()

	t.Run("PassesForUniformData", func(t *testing.T) {
		samples := make([]int64, 10000)
		for i := 0; i < len(samples); i++ {
			samples[i], _ = s.GenerateInt(100)
		}

		chiSquare, passed := s.chiSquareTest(samples, 100)
		if !passed {
			t.Errorf("Chi-square test failed for uniform RNG data: %f", chiSquare)
		}
	})

	t.Run("FailsForBiasedData", func(t *testing.T) {
		samples := make([]int64, 10000)
		for i := 0; i < len(samples); i++ {
			samples[i] = 0
		}

		_, passed := s.chiSquareTest(samples, 100)
		if passed {
			t.Error("Chi-square test should fail for heavily biased data")
		}
	})
}

func BenchmarkGenerateInt(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.GenerateInt(1000)
	}
}

func BenchmarkGenerateFloat(b *testing.B) {
	s := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.GenerateFloat()
	}
}

// TestStatisticalQuality is a longer-running check of the CSPRNG's
// uniformity and independence; skipped in short mode.
func TestStatisticalQuality(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping statistical tests in short mode")
	}

	s := New()

	t.Run("MeanAndVariance", func(t *testing.T) {
		const samples = 100000
		const max = 100
		var sum, sumSq float64

		for i := 0; i < samples; i++ {
			n, _ := s.GenerateInt(max)
			sum += float64(n)
			sumSq += float64(n * n)
		}

		mean := sum / float64(samples)
		variance := (sumSq / float64(samples)) - (mean * mean)

		expectedMean := float64(max-1) / 2.0
		if math.Abs(mean-expectedMean) > 0.5 {
			t.Errorf("Mean deviation too large: got %f, expected ~%f", mean, expectedMean)
		}

		expectedVariance := float64(max*max-1) / 12.0
		if math.Abs(variance-expectedVariance) > 20 {
			t.Errorf("Variance deviation too large: got %f, expected ~%f", variance, expectedVariance)
		}
	})

	t.Run("SerialCorrelation", func(t *testing.T) {
		const samples = 100000
		values := make([]float64, samples)

		for i := 0; i < samples; i++ {
			values[i], _ = s.GenerateFloat()
		}

		var sumXY, sumX, sumY, sumX2, sumY2 float64
		n := float64(samples - 1)

		for i := 0; i < samples-1; i++ {
			x, y := values[i], values[i+1]
			sumXY += x * y
			sumX += x
			sumY += y
			sumX2 += x * x
			sumY2 += y * y
		}

		correlation := (n*sumXY - sumX*sumY) /
			(math.Sqrt(n*sumX2-sumX*sumX) * math.Sqrt(n*sumY2-sumY*sumY))

		if math.Abs(correlation) > 0.01 {
			t.Errorf("Serial correlation too high: %f (expected near 0)", correlation)
		}
	})
}
