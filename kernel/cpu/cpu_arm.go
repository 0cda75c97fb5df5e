package cpu

// Halt stops instruction execution. Implemented in cpu_arm.s; it never
// returns.
func Halt()

// currentPSRFn and savedPSRFn read the live CPSR/SPSR. They are
// implemented in cpu_arm.s; tests substitute them to avoid real register
// access.
var (
	currentPSRFn = readCPSR
	savedPSRFn   = readSPSR
	readBankedFn = readBanked
)

// readCPSR and readSPSR are implemented in cpu_arm.s.
func readCPSR() uint32
func readSPSR() uint32

// readBanked is implemented in cpu_arm.s. It reads the banked SP, LR or
// SPSR for an arbitrary mode, switching modes and back as needed (the
// exception reporter dumps LR/SP/SPSR for every privileged mode).
func readBanked(mode Mode, reg Register) uint32

// Current returns the live CPSR as a PSR snapshot.
func Current() PSR { return NewPSR(currentPSRFn()) }

// Saved returns the live SPSR (the mode the CPU trapped from) as a PSR
// snapshot.
func Saved() PSR { return NewPSR(savedPSRFn()) }

// ReadBanked returns the banked SP, LR or SPSR of the given mode. Reading
// RegSPSR for ModeUser or ModeSystem always returns 0 since neither mode has
// an SPSR.
func ReadBanked(mode Mode, reg Register) uint32 {
	return readBankedFn(mode, reg)
}
