package dhcpsniff

import "github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"

// option93Arch maps the IANA option-93 codes this system can act on to a
// tentative architecture. The x86 codes listed here collapse to one of
// bios64/ia32/amd64 (the x86 HTTP-boot codes are not listed); BIOS proper
// (code 0x0000) has no reliable way to
// distinguish 32- from 64-bit capability from option 93 alone, so it
// defaults to bios64 (§9 "arch ambiguity" open question — corrected later
// via the admin arch-override endpoint). Codes absent from this table
// resolve to unsupported.
var option93Arch = map[uint16]clientstore.Arch{
	0x0000: clientstore.ArchBIOS64, // x86 BIOS, ambiguous bitness, default 64
	0x0006: clientstore.ArchIA32,   // EFI IA32
	0x0007: clientstore.ArchAMD64,  // EFI BC (x86-64 UEFI)
	0x0009: clientstore.ArchAMD64,  // EFI x86-64
	0x000a: clientstore.ArchARM32,  // EFI ARM32
	0x000b: clientstore.ArchARM64,  // EFI ARM64
	0x0012: clientstore.ArchARM32,  // ARM32 UBoot
	0x0013: clientstore.ArchARM64,  // ARM64 UBoot
}

// option60Override maps the iPXE vendor-class decimal arch code (option 60
// position 2) to an architecture, restricted to the two platforms the
// specification says "reliably report there": arm32 and arm64.
var option60Override = map[string]clientstore.Arch{
	"00010": clientstore.ArchARM32,
	"00011": clientstore.ArchARM64,
}

// Classification is the result of classifying a DHCP Discover packet.
type Classification struct {
	MAC  string
	Arch clientstore.Arch
	// Option93Name is the IANA option-93 table name, for logging.
	Option93Name string
	// VendorClass is the raw option-60 value, for logging.
	VendorClass string
	// Option60ArchName is the iPXE vendor-class arch name for the decimal
	// code at VendorClass position 2, for logging (empty if VendorClass
	// isn't a PXEClient vendor class or names an unrecognized code).
	Option60ArchName string
}

// Classify implements §4.4's algorithm for a Discover packet (option 53 = 1):
//  1. Extract option 93 and map it via the IANA table to a tentative arch.
//  2. Extract option 60, validate it's a PXEClient vendor class, and pull
//     the decimal arch code at position 2.
//  3. Override the tentative arch with the option-60 arch only when it
//     resolves to arm32 or arm64.
func Classify(pkt *Packet) (Classification, error) {
	c := Classification{
		MAC:  pkt.CHAddr.String(),
		Arch: clientstore.ArchUnsupported,
	}

	if code, ok := pkt.Options.Uint16(OptClientSystem); ok {
		c.Option93Name = ianaArchName(code)
		if arch, known := option93Arch[code]; known {
			c.Arch = arch
		}
	}

	c.VendorClass = pkt.Options.String(OptVendorClassID)
	if decimalCode, ok := vendorClassArch(c.VendorClass); ok {
		c.Option60ArchName = ipxeVendorArch[decimalCode]
		if arch, override := option60Override[decimalCode]; override {
			c.Arch = arch
		}
	}

	return c, nil
}
