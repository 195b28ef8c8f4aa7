package tasks

import (
	"fmt"
	"os"
	"path/filepath"
)

// bootImageMetadata is the common metadata.yaml shape every image-builder
// task writes, mirroring the original's bootimage_metadata dict.
type bootImageMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Arch        string `yaml:"arch"`
	CreatedAt   string `yaml:"created_at"`
}

// imageBuild is the mutable state shared by every ISO/network image-builder
// task type, in place of the original NSTask_Image_Builder base class.
type imageBuild struct {
	env     BuilderEnv
	payload map[string]interface{}
	ws      *Workspace
	meta    bootImageMetadata
}

func (b *imageBuild) createWorkspace(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	ws, err := NewWorkspace(b.env.ScratchRoot, name)
	if err != nil {
		return false, err
	}
	b.ws = ws
	return true, nil
}

// updateMetadata fills in b.meta's description, defaulting to an
// auto-generated note when the request left comment empty, per every
// image builder's update_metadata subtask.
func (b *imageBuild) updateMetadata(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	arch, _ := b.payload["arch"].(string)
	comment, _ := b.payload["comment"].(string)
	b.meta.Name = name
	b.meta.Arch = arch
	if comment == "" {
		b.meta.Description = "Auto-generated image"
	} else {
		b.meta.Description = comment
	}
	return true, nil
}

func (b *imageBuild) writeMetadata(rc *RunContext) (bool, error) {
	return true, b.ws.WriteMetadata("metadata.yaml", b.meta)
}

func (b *imageBuild) publish(destRoot string) func(rc *RunContext) (bool, error) {
	return func(rc *RunContext) (bool, error) {
		name, _ := b.payload["name"].(string)
		if err := b.ws.Publish(destRoot, name); err != nil {
			return false, err
		}
		return true, os.RemoveAll(b.ws.Scratch)
	}
}

func (b *imageBuild) cleanup() error {
	if b.ws == nil {
		return nil
	}
	return b.ws.Cleanup()
}

// writeIPXEMenu writes a boot/menu.ipxe fragment into the workspace,
// generalizing every image builder's generate_ipxe subtask.
func writeIPXEMenu(ws *Workspace, name, body string) error {
	dir := filepath.Join(ws.Dir, "boot")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("#!ipxe\n# %s\n%s\n", name, body)
	return os.WriteFile(filepath.Join(dir, "menu.ipxe"), []byte(content), 0o644)
}

// extractISO mounts-or-extracts an ISO's contents into dir using 7z, the
// tool every ISO-based image builder in the original shells out to rather
// than the kernel loop-mount device it would need root for.
func extractISO(rc *RunContext, isoPath, destDir string, logf func(string, ...interface{})) (bool, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return false, err
	}
	return runExternal(rc, destDir, logf, "7z", "x", "-y", "-o"+destDir, isoPath)
}
