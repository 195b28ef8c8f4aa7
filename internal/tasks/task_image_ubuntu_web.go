package tasks

import (
	"fmt"
	"os"
	"path/filepath"
)

// TaskTypeUbuntuWeb generates the iPXE scripts for network-installing
// Ubuntu via its web/netboot installer — no local artifacts are built,
// only pointers into the upstream mirror (§4.6, grounded on the original
// NSTask_Image_UbuntuWeb).
const TaskTypeUbuntuWeb = "image_ubuntu_web"

// NewUbuntuWebTask builds the Task for TaskTypeUbuntuWeb.
func NewUbuntuWebTask(env BuilderEnv) func(payload map[string]interface{}) Task {
	return func(payload map[string]interface{}) Task {
		b := &imageBuild{env: env, payload: payload}
		return SimpleTask{
			Required: []string{"name", "comment", "ubuntu_release", "kernel_args", "create_unattended"},
			Steps: []Subtask{
				{Description: "Creating workspace", Progress: 10, Function: b.createWorkspace},
				{Description: "Generating iPXE scripts", Progress: 80, Function: b.ubuntuGenerateIPXE},
				{Description: "Updating metadata", Progress: 85, Function: b.updateMetadata},
				{Description: "Writing metadata", Progress: 90, Function: b.writeMetadata},
				{Description: "Finalizing", Progress: 100, Function: b.publish(env.BootImagesRoot)},
			},
			CleanupFunc: b.cleanup,
		}
	}
}

func ubuntuStage2(release, kernelArgs, extraArgs string) string {
	return fmt.Sprintf(`set ubuntu-release %s
set boot-image-path ${ubuntu-mirror}/dists/${ubuntu-release}/main/installer-${arch}/current/images/netboot/ubuntu-installer/${arch}
set this-image-args initrd=initrd.gz vga=788 debian-installer/locale=en_US keymap=us hw-detect/load_firmware=false%s --- %s
imgfree
imgfetch ${boot-image-path}/linux || goto failed
imgfetch ${boot-image-path}/initrd.gz || goto failed
imgload linux || goto failed
imgargs linux ${this-image-args} || goto failed
imgexec || goto failed
`, release, extraArgs, kernelArgs)
}

func (b *imageBuild) ubuntuGenerateIPXE(rc *RunContext) (bool, error) {
	release, _ := b.payload["ubuntu_release"].(string)
	kernelArgs, _ := b.payload["kernel_args"].(string)

	stage2 := ubuntuStage2(release, kernelArgs, "")
	if err := os.WriteFile(filepath.Join(b.ws.Dir, "stage2.ipxe"), []byte(stage2), 0o644); err != nil {
		return false, err
	}

	if unattended, _ := b.payload["create_unattended"].(bool); unattended {
		stage2u := ubuntuStage2(release, kernelArgs, " hostname=unassigned-hostname domain=unassigned-domain auto url=${unattended-url-linux}")
		if err := os.WriteFile(filepath.Join(b.ws.Dir, "stage2-unattended.ipxe"), []byte(stage2u), 0o644); err != nil {
			return false, err
		}
	}
	return true, nil
}
