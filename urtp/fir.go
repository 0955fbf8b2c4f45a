package urtp

// firTapCount is the length of the pre-emphasis filter.
const firTapCount = 13

// firCoefficients is the pre-emphasis response, designed by least squares
// at a 16 kHz sampling rate against these bands:
//
//	0 Hz - 150 Hz      gain 0    (about -20 dB or better)
//	1000 Hz - 2000 Hz  gain 0.5
//	3000 Hz - 5000 Hz  gain 0.9
//	6000 Hz - 8000 Hz  gain 1.0
//
// Keep this as a table; the spectrum above is the contract with the
// decoder end.
var firCoefficients = [firTapCount]float64{
	-0.034807616,
	-0.007197787,
	-0.012297102,
	-0.056624276,
	-0.080274399,
	-0.173929386,
	0.742378070,
	-0.173929386,
	-0.080274399,
	-0.056624276,
	-0.012297102,
	-0.007197787,
	-0.034807616,
}

// fir is a fixed coefficient FIR filter with a circular sample history.
// State is per encoder instance, not shared.
type fir struct {
	history   [firTapCount]float64
	lastIndex int
}

// Put pushes one input sample into the filter history.
func (f *fir) Put(input float64) {
	f.history[f.lastIndex] = input
	f.lastIndex++
	if f.lastIndex == firTapCount {
		f.lastIndex = 0
	}
}

// Get returns the filter output for the current history: the dot product
// of the circular history with the coefficient table.
func (f *fir) Get() float64 {
	var acc float64
	index := f.lastIndex
	for i := 0; i < firTapCount; i++ {
		if index == 0 {
			index = firTapCount
		}
		index--
		acc += f.history[index] * firCoefficients[i]
	}
	return acc
}
