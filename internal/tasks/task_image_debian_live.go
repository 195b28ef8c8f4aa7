package tasks

import (
	"fmt"
	"os"
	"path/filepath"
)

// TaskTypeDebianLive builds a netboot Debian/Ubuntu live image with
// live-build (§4.6, grounded on the original NSTask_Image_DebianLive).
const TaskTypeDebianLive = "image_debian_live"

// NewDebianLiveTask builds the Task for TaskTypeDebianLive.
func NewDebianLiveTask(env BuilderEnv) func(payload map[string]interface{}) Task {
	return func(payload map[string]interface{}) Task {
		b := &imageBuild{env: env, payload: payload}
		return SimpleTask{
			Required: []string{"name", "comment", "debian_release", "arch", "kernel_args", "include_xfce", "packages", "mirror"},
			Steps: []Subtask{
				{Description: "Checking build dependencies", Progress: 1, Function: debianCheckDeps},
				{Description: "Creating workspace", Progress: 5, Function: b.createWorkspace},
				{Description: "Preparing live-build config", Progress: 20, Function: b.debianPrepareConfig},
				{Description: "Building live image", Progress: 60, Function: b.debianBuildImage},
				{Description: "Collecting files", Progress: 75, Function: b.debianCollectFiles},
				{Description: "Generating iPXE scripts", Progress: 80, Function: b.debianGenerateIPXE},
				{Description: "Updating metadata", Progress: 85, Function: b.updateMetadata},
				{Description: "Writing metadata", Progress: 90, Function: b.writeMetadata},
				{Description: "Finalizing", Progress: 100, Function: b.publish(env.BootImagesRoot)},
			},
			CleanupFunc: b.cleanup,
		}
	}
}

func debianCheckDeps(rc *RunContext) (bool, error) {
	return true, VerifyCommands("lb", "debootstrap")
}

func (b *imageBuild) debianPrepareConfig(rc *RunContext) (bool, error) {
	mirror, _ := b.payload["mirror"].(string)
	release, _ := b.payload["debian_release"].(string)
	arch, _ := b.payload["arch"].(string)
	if err := os.MkdirAll(filepath.Join(b.ws.Scratch, "config", "package-lists"), 0o755); err != nil {
		return false, err
	}
	packages := "htop fdisk parted u-boot-tools nfs-common xfsprogs lm-sensors iotop iftop pv wget curl file"
	if xfce, _ := b.payload["include_xfce"].(bool); xfce {
		packages += " task-xfce-desktop firefox-esr gparted"
	}
	if extra, _ := b.payload["packages"].(string); extra != "" {
		packages += " " + extra
	}
	pkgFile := filepath.Join(b.ws.Scratch, "config", "package-lists", "netbootstudio.list.chroot")
	if err := os.WriteFile(pkgFile, []byte(packages+"\n"), 0o644); err != nil {
		return false, err
	}
	ok, err := runExternal(rc, b.ws.Scratch, func(string, ...interface{}) {}, "lb", "config",
		"--mode", "debian",
		"--distribution", release,
		"--architectures", arch,
		"--binary-images", "netboot",
		"--mirror-binary", mirror,
		"--chroot-filesystem", "squashfs",
	)
	return ok, err
}

func (b *imageBuild) debianBuildImage(rc *RunContext) (bool, error) {
	return runExternal(rc, b.ws.Scratch, func(string, ...interface{}) {}, "lb", "build")
}

func (b *imageBuild) debianCollectFiles(rc *RunContext) (bool, error) {
	copies := map[string]string{
		filepath.Join(b.ws.Scratch, "binary", "live", "filesystem.squashfs"): "filesystem.squashfs",
		filepath.Join(b.ws.Scratch, "tftpboot", "live", "vmlinuz"):           "vmlinuz",
		filepath.Join(b.ws.Scratch, "tftpboot", "live", "initrd.img"):        "initrd.img",
	}
	for src, dest := range copies {
		data, err := os.ReadFile(src)
		if err != nil {
			return false, fmt.Errorf("collect %s: %w", dest, err)
		}
		if err := os.WriteFile(filepath.Join(b.ws.Dir, dest), data, 0o644); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (b *imageBuild) debianGenerateIPXE(rc *RunContext) (bool, error) {
	kernelArgs, _ := b.payload["kernel_args"].(string)
	name, _ := b.payload["name"].(string)
	body := fmt.Sprintf("kernel vmlinuz initrd=initrd.img boot=live fetch=http://${next-server}/boot_images/%s/filesystem.squashfs %s\ninitrd initrd.img\nboot\n", name, kernelArgs)
	return true, writeIPXEMenu(b.ws, name, body)
}
