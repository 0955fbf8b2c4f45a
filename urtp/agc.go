package urtp

import (
	"math/bits"

	"github.com/sirupsen/logrus"
)

// gainController applies an adaptive left shift to each mono sample so the
// signal sits close to full scale while keeping DesiredUnusedBits of
// headroom. Gain increases are smoothed over UpShiftsForAShift blocks;
// gain reductions happen immediately to avoid clipping.
type gainController struct {
	shift           int
	shiftMax        int
	unusedBitsMin   int
	sampleCount     int
	samplesPerBlock int
	upShiftCount    int

	desiredUnusedBits int
	hysteresisBits    int
	upShiftsForShift  int
}

// newGainController builds the controller in its default state: the shift
// starts hysteresisBits below the maximum so early loud input has room.
func newGainController(cfg Config) *gainController {
	return &gainController{
		shift:             cfg.AudioMaxShiftBits - cfg.ShiftHysteresisBits,
		shiftMax:          cfg.AudioMaxShiftBits,
		unusedBitsMin:     int(^uint(0) >> 1),
		samplesPerBlock:   cfg.SamplesPerBlock(),
		desiredUnusedBits: cfg.DesiredUnusedBits,
		hysteresisBits:    cfg.ShiftHysteresisBits,
		upShiftsForShift:  cfg.UpShiftsForAShift,
	}
}

// unusedBits counts how many of the 31 magnitude bits of a 32 bit signed
// sample are unused, never counting the sign bit itself.
func unusedBits(sample int) int {
	abs := sample
	if abs < 0 {
		abs = -abs
	}
	return 31 - bits.Len(uint(abs))
}

// Process gain shifts one mono sample and accounts it towards the
// per-block shift decision taken at each block boundary.
func (g *gainController) Process(sample int) int {
	unused := unusedBits(sample)

	abs := sample
	if abs < 0 {
		abs = -abs
	}
	if abs > AudioShiftThreshold {
		sample <<= g.shift
	}

	if unused < g.unusedBitsMin {
		g.unusedBitsMin = unused
	}
	g.sampleCount++
	if g.sampleCount >= g.samplesPerBlock {
		g.sampleCount = 0
		g.blockBoundary()
	}

	return sample
}

// blockBoundary applies the shift adjustment rules once per block.
func (g *gainController) blockBoundary() {
	switch {
	case g.shift > g.unusedBitsMin:
		// Emergency clip avoidance: never shift past the headroom
		// actually observed.
		g.shift = g.unusedBitsMin
		logrus.WithFields(logrus.Fields{
			"shift":           g.shift,
			"unused_bits_min": g.unusedBitsMin,
		}).Debug("audio gain shift clamped")
	case g.unusedBitsMin-g.shift > g.desiredUnusedBits+g.hysteresisBits && g.shift < g.shiftMax:
		// A gain increase is noted but not applied immediately; only a
		// persistent run of quiet blocks raises the shift.
		g.upShiftCount++
		if g.upShiftCount >= g.upShiftsForShift {
			g.shift++
			g.upShiftCount = 0
			logrus.WithField("shift", g.shift).Debug("audio gain shift up")
		}
	case g.unusedBitsMin-g.shift < g.desiredUnusedBits && g.shift > 0:
		// A reduction must happen at once to avoid clipping.
		g.shift--
		g.upShiftCount = 0
		logrus.WithField("shift", g.shift).Debug("audio gain shift down")
	}

	// Let the minimum relax so headroom can grow back.
	g.unusedBitsMin++
}

// Shift returns the currently applied gain shift in bits.
func (g *gainController) Shift() int {
	return g.shift
}
