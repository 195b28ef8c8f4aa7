package dispatcher

// BuiltinFile describes one entry of a file-category's built-ins table
// (§8 Testable Property 6), grounded verbatim on NSMessageProcessor's
// class-level `builtin_files` dict: name/description pairs that are never
// eligible for delete, get_file, or save_file, regardless of what's on
// disk under that category.
type BuiltinFile struct {
	Name        string
	Description string
}

// builtinFiles is the static built-ins table, one slice per file category.
// "boot_images" keys its entries by boot_image_name rather than filename,
// since a boot image may be a bare `<name>.ipxe` file or a `<name>/`
// directory; every other category keys by filename.
var builtinFiles = map[string][]BuiltinFile{
	"stage1_files": {
		{Name: "default", Description: "builtin: default behavior (chain stage2.ipxe with parameters)"},
		{Name: "none", Description: "builtin: no stage1 (shim for broken netboot ROMs)"},
	},
	"uboot_scripts": {
		{Name: "default", Description: "builtin: default behavior (empty, does nothing)"},
	},
	"unattended_configs": {
		{Name: "blank.cfg", Description: "builtin: an empty .cfg file"},
		{Name: "blank.xml", Description: "builtin: an empty .xml file"},
	},
	"boot_images": {
		{Name: "standby_loop", Description: "builtin: loop on a 10s cycle until a different boot image is selected"},
		{Name: "menu", Description: "builtin: interactive menu listing all boot images"},
	},
	"tftp_root": {
		{Name: "ipxe.bin", Description: "builtin: endpoint for the configured iPXE build"},
		{Name: "boot.scr.uimg", Description: "builtin: endpoint for the configured U-Boot script"},
	},
	"stage4": {
		{Name: "none", Description: "builtin: no script"},
		{Name: "stage4-entry-unix.sh", Description: "builtin: entrypoint for unix-style systems"},
		{Name: "stage4-entry-windows.bat", Description: "builtin: entrypoint for windows systems"},
	},
}

// isBuiltin implements the builtin-immunity check (§8 Testable Property
// 6): a category with no built-ins table (ipxe_builds, wimboot_builds,
// iso) never blocks the call, matching the original's
// `check_if_builtin`'s "category not in builtin_files -> False".
func isBuiltin(category, name string) bool {
	for _, entry := range builtinFiles[category] {
		if entry.Name == name {
			return true
		}
	}
	return false
}
