package module

import "github.com/pkg/errors"

// Address is an absolute virtual address within a running tracee.
type Address uint64

// Offset is a module-relative byte offset, i.e. an address minus a module's base.
type Offset uint64

// OffsetBy returns a+off, failing if the addition overflows a uint64.
func (a Address) OffsetBy(off Offset) (Address, error) {
	sum := uint64(a) + uint64(off)
	if sum < uint64(a) {
		return 0, errors.Errorf("address 0x%x + offset 0x%x overflows", uint64(a), uint64(off))
	}
	return Address(sum), nil
}

// OffsetFrom returns a-base as an Offset, failing if a is less than base (i.e. the subtraction would underflow).
func (a Address) OffsetFrom(base Address) (Offset, error) {
	if a < base {
		return 0, errors.Errorf("address 0x%x is below base 0x%x", uint64(a), uint64(base))
	}
	return Offset(uint64(a) - uint64(base)), nil
}
