package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileRoots maps every file category the dispatcher serves to its
// filesystem root (§6.5), mirroring the original's `self.paths` dict.
type FileRoots struct {
	Stage1Files       string
	UbootScripts      string
	UnattendedConfigs string
	BootImages        string
	TFTPRoot          string
	Stage4            string
	IPXEBuilds        string
	WimbootBuilds     string
	ISO               string
}

func (r FileRoots) root(category string) (string, bool) {
	switch category {
	case "stage1_files":
		return r.Stage1Files, true
	case "uboot_scripts":
		return r.UbootScripts, true
	case "unattended_configs":
		return r.UnattendedConfigs, true
	case "boot_images":
		return r.BootImages, true
	case "tftp_root":
		return r.TFTPRoot, true
	case "stage4":
		return r.Stage4, true
	case "ipxe_builds":
		return r.IPXEBuilds, true
	case "wimboot_builds":
		return r.WimbootBuilds, true
	case "iso":
		return r.ISO, true
	default:
		return "", false
	}
}

// FileEntry is one row of a file-inventory listing. Different categories
// populate different subsets of fields, matching the original's
// per-category dict shapes (a stage1_file has filename/modified/
// description; a boot image has boot_image_name/created/image_type/arch).
type FileEntry struct {
	Filename      string `json:"filename,omitempty"`
	BootImageName string `json:"boot_image_name,omitempty"`
	Modified      string `json:"modified,omitempty"`
	Created       string `json:"created,omitempty"`
	ImageType     string `json:"image_type,omitempty"`
	Description   string `json:"description,omitempty"`
	Arch          string `json:"arch,omitempty"`
	Builtin       bool   `json:"builtin"`
}

// bootImageMeta mirrors the yaml tags internal/tasks writes to
// metadata.yaml, so the dispatcher can read back what a builder wrote.
type bootImageMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Arch        string `yaml:"arch"`
	CreatedAt   string `yaml:"created_at"`
}

const timeLayout = "2006-01-02_15:04:05"

// listFiles builds the merged builtin+on-disk inventory for category
// (the get_<kind> endpoint family, §4.7).
func (d *Dispatcher) listFiles(category string) ([]FileEntry, error) {
	root, ok := d.files.root(category)
	if !ok {
		return nil, fmt.Errorf("unknown file category: %s", category)
	}

	entries := make([]FileEntry, 0, len(builtinFiles[category]))
	for _, b := range builtinFiles[category] {
		fe := FileEntry{Description: b.Description, Builtin: true, Modified: "1970-01-01_00:00:00"}
		if category == "boot_images" {
			fe.BootImageName = b.Name
			fe.Created = fe.Modified
			fe.ImageType = "builtin"
			fe.Arch = "all"
		} else {
			fe.Filename = b.Name
		}
		entries = append(entries, fe)
	}

	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("list %s: %w", category, err)
	}

	for _, de := range dirEntries {
		name := de.Name()
		if category == "boot_images" {
			entries = append(entries, d.describeBootImage(root, de))
			continue
		}
		info, err := de.Info()
		modified := ""
		if err == nil {
			modified = info.ModTime().UTC().Format(timeLayout)
		}
		entries = append(entries, FileEntry{Filename: name, Modified: modified})
	}
	return entries, nil
}

// describeBootImage inspects one boot_images entry: either a bare
// `<name>.ipxe` file, or a `<name>/` directory with metadata.yaml (§6.5).
func (d *Dispatcher) describeBootImage(root string, de os.DirEntry) FileEntry {
	name := de.Name()
	if !de.IsDir() {
		info, _ := de.Info()
		modified := ""
		if info != nil {
			modified = info.ModTime().UTC().Format(timeLayout)
		}
		return FileEntry{
			BootImageName: name,
			Created:       modified,
			ImageType:     "ipxe_script",
			Arch:          "all",
			Description:   strings.TrimSuffix(name, filepath.Ext(name)),
		}
	}

	fe := FileEntry{BootImageName: name, ImageType: "unknown", Arch: "unknown"}
	data, err := os.ReadFile(filepath.Join(root, name, "metadata.yaml"))
	if err != nil {
		return fe
	}
	var meta bootImageMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return fe
	}
	fe.Description = meta.Description
	fe.Arch = meta.Arch
	fe.Created = meta.CreatedAt
	fe.ImageType = "built"
	return fe
}

// ListFiles exposes the merged builtin+on-disk inventory for category to
// callers outside the dispatcher package (the DataSource Fabric's file
// category providers sample through this rather than duplicating the
// builtin-merge/metadata-read logic).
func (d *Dispatcher) ListFiles(category string) ([]FileEntry, error) {
	return d.listFiles(category)
}

// getFiles returns a get_<kind> Handler for the given file category, the
// generalization of the original's five near-identical
// get_stage1_files/get_uboot_scripts/... endpoint methods.
func (d *Dispatcher) getFiles(category string) Handler {
	return func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
		return d.listFiles(category)
	}
}

// handleGetFile implements get_file: read the content of a named file
// under a category's root, refusing builtins by name (§8 Property 6).
func (d *Dispatcher) handleGetFile(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	name, err := payloadString(payload, "file_name")
	if err != nil {
		return nil, err
	}
	category, err := payloadString(payload, "file_category")
	if err != nil {
		return nil, err
	}
	root, ok := d.files.root(category)
	if !ok {
		return nil, fmt.Errorf("unknown file_category: %s", category)
	}
	if isBuiltin(category, name) {
		return nil, fmt.Errorf("cannot get file %q: is builtin", name)
	}
	path := filepath.Join(root, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return map[string]interface{}{
		"file_name":     name,
		"file_category": category,
		"file_path":     path,
		"file_content":  string(content),
	}, nil
}

// handleSaveFile implements save_file: overwrite the content of a named
// (pre-existing, non-builtin) file under a category's root.
func (d *Dispatcher) handleSaveFile(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	name, err := payloadString(payload, "file_name")
	if err != nil {
		return nil, err
	}
	category, err := payloadString(payload, "file_category")
	if err != nil {
		return nil, err
	}
	content, err := payloadString(payload, "file_content")
	if err != nil {
		return nil, err
	}
	root, ok := d.files.root(category)
	if !ok {
		return nil, fmt.Errorf("unknown file_category: %s", category)
	}
	if isBuiltin(category, name) {
		return nil, fmt.Errorf("cannot save file %q: is builtin", name)
	}
	path := filepath.Join(root, name)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return "Success", nil
}

// deleteByFilename is the shared body of every delete_<category> handler
// keyed by a "filename" payload field with builtin immunity.
func (d *Dispatcher) deleteByFilename(category, filenameKey string) Handler {
	return func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
		name, err := payloadString(payload, filenameKey)
		if err != nil {
			return nil, err
		}
		if isBuiltin(category, name) {
			return nil, fmt.Errorf("cannot delete %s %q: is builtin", category, name)
		}
		root, ok := d.files.root(category)
		if !ok {
			return nil, fmt.Errorf("unknown file category: %s", category)
		}
		path := filepath.Join(root, name)
		if err := removeFileOrDir(path); err != nil {
			return nil, err
		}
		return "Success", nil
	}
}

// removeFileOrDir deletes path whether it is a plain file or a directory,
// refusing to remove anything that does not already exist (matching the
// original's is_file()/is_dir() preconditions on delete_file/delete_folder).
func removeFileOrDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("not found: %s", path)
	}
	if info.IsDir() {
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

// handleDeleteBootImage implements delete_boot_image: a boot image is
// either a bare `<name>.ipxe` file or a `<name>/` directory, keyed by
// "name" rather than "filename" (§6.5, concrete scenario 6).
func (d *Dispatcher) handleDeleteBootImage(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	name, err := payloadString(payload, "name")
	if err != nil {
		return nil, err
	}
	if isBuiltin("boot_images", name) {
		return nil, fmt.Errorf("cannot delete boot image %q: is builtin", name)
	}
	path := filepath.Join(d.files.BootImages, name)
	if err := removeFileOrDir(path); err != nil {
		return nil, err
	}
	return "Success", nil
}

// handleDeleteByBuildID deletes a `<build_id>/` directory under root,
// for categories with no builtin table (ipxe_builds, wimboot_builds).
func handleDeleteByBuildID(root string) Handler {
	return func(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
		buildID, err := payloadString(payload, "build_id")
		if err != nil {
			return nil, err
		}
		if err := removeFileOrDir(filepath.Join(root, buildID)); err != nil {
			return nil, err
		}
		return "Success", nil
	}
}
