package module

// Architecture identifies the instruction set a Module's code sections were compiled for, which the block sweeper
// needs in order to select a disassembler.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchX86_64
	ArchARM64
)

func (a Architecture) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchARM64:
		return "arm64"
	default:
		return "unknown"
	}
}
