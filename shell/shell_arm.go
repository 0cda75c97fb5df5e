package shell

// triggerUndefinedInstruction, triggerBreakpoint, triggerSyscall and
// triggerUnalignedAccess are implemented in shell_arm.s. Each executes the
// named faulting instruction directly so the "trap"/"breakpoint"/"syscall"/
// "unaligned" demo commands exercise the real exception path end to end.
func triggerUndefinedInstruction()
func triggerBreakpoint()
func triggerSyscall()
func triggerUnalignedAccess()
