package dhcpsniff

import "strings"

// Option numbers of interest (§6.1).
const (
	OptMessageType     = 53
	OptVendorClassID   = 60
	OptTFTPServerName  = 66
	OptClientSystem    = 93
)

// ianaArch is the fixed IANA "Client System Architecture Type" table
// referenced by option 93, from 0x0000 "x86 BIOS" through 0x0024 "Sunway
// 64-bit UEFI" (§6.1), used for the human-readable name only. Every code is
// named here; classify.go's option93Arch maps only a subset of them to an
// arch, and codes absent from that map classify as "unsupported".
var ianaArch = map[uint16]string{
	0x0000: "x86 BIOS",
	0x0001: "NEC/PC98 (DEPRECATED)",
	0x0002: "EFI Itanium (DEPRECATED)",
	0x0003: "DEC Alpha (DEPRECATED)",
	0x0004: "Arc x86 (DEPRECATED)",
	0x0005: "Intel Lean Client (DEPRECATED)",
	0x0006: "EFI IA32",
	0x0007: "EFI BC", // x86-64 UEFI
	0x0008: "EFI Xscale (DEPRECATED)",
	0x0009: "EFI x86-64",
	0x000a: "EFI ARM32",
	0x000b: "EFI ARM64",
	0x000c: "PowerPC Open Firmware",
	0x000d: "PowerPC ePAPR",
	0x000e: "POWER OPAL v3",
	0x000f: "EFI x86 HTTP",
	0x0010: "EFI x86-64 HTTP",
	0x0011: "EFI Itanium HTTP (DEPRECATED)",
	0x0012: "ARM32 UBoot",
	0x0013: "ARM64 UBoot",
	0x0014: "ARM32 UBoot HTTP",
	0x0015: "ARM64 UBoot HTTP",
	0x0016: "RISC-V 32 UEFI",
	0x0017: "RISC-V 32 HTTP",
	0x0018: "RISC-V 32 UBoot",
	0x0019: "RISC-V 64 UEFI",
	0x001a: "RISC-V 64 HTTP",
	0x001b: "RISC-V 64 UBoot",
	0x001c: "RISC-V 128 UEFI",
	0x001d: "RISC-V 128 HTTP",
	0x001e: "RISC-V 128 UBoot",
	0x001f: "s390 Basic",
	0x0020: "s390 Extended",
	0x0021: "MIPS32 UBoot",
	0x0022: "MIPS64 UBoot",
	0x0023: "Sunway 32-bit UEFI",
	0x0024: "Sunway 64-bit UEFI",
}

// ianaArchName returns the table entry for code, or "" if unknown.
func ianaArchName(code uint16) string {
	return ianaArch[code]
}

// vendorClassArch parses an option-60 value of the iPXE/PXE vendor-class
// form "PXEClient:Arch:NNNNN:...", returning the decimal arch code at
// position 2 and true, or ("", false) if the value isn't of that shape.
func vendorClassArch(vendorClass string) (string, bool) {
	parts := strings.Split(vendorClass, ":")
	if len(parts) < 3 || parts[0] != "PXEClient" {
		return "", false
	}
	return parts[2], true
}

// ipxeVendorArch maps the decimal arch code found at option-60 position 2
// to an arch name, following the iPXE vendor-class convention (§6.1):
// 00000=X86, 00007=X86_64, 00010=ARM32, 00011=ARM64, and related codes
// iPXE itself recognizes.
var ipxeVendorArch = map[string]string{
	"00000": "arch_x86",
	"00001": "arch_pc98",
	"00002": "arch_ia64",
	"00006": "arch_ia32_efi",
	"00007": "arch_x86_64_efi",
	"00009": "arch_x86_64_efi",
	"00010": "arch_arm32",
	"00011": "arch_arm64",
}
