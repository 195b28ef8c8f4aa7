package tasks

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TaskTypeIPXEBuild is the static task_map key for building an ipxe.bin /
// ipxe.iso pair for one target architecture (§4.6, grounded on the
// original NSTask_BuildiPXE).
const TaskTypeIPXEBuild = "build_ipxe"

// builtinStage1 is the content of the built-in stage1 script returned when
// the request's stage1_file payload value is "default", mirroring the
// original's bundled netboot-studio-stage1.ipxe.
const builtinStage1 = `#!ipxe
dhcp
chain http://${next-server}/boot/menu.ipxe || shell
`

// IPXERepoURL is the upstream iPXE source repository every build task
// clones from; exported so the DataSource Fabric's ipxe_commit_ids
// provider can enumerate the same repository's tags without duplicating
// the URL.
const IPXERepoURL = "https://github.com/ipxe/ipxe"

const ipxeRepoURL = IPXERepoURL

// ipxeBuildTarget is one (source artifact inside the built tree) -> (name
// inside the published workspace) mapping for one architecture.
type ipxeBuildTarget struct {
	src  string
	dest string
}

var ipxeBuildTargets = map[string][]ipxeBuildTarget{
	"bios32": {
		{"bin-i386-pcbios/ipxe.pxe", "ipxe.bin"},
		{"bin-i386-pcbios/ipxe.usb", "ipxe.iso"},
	},
	"bios64": {
		{"bin-x86_64-pcbios/ipxe.pxe", "ipxe.bin"},
		{"bin-x86_64-pcbios/ipxe.usb", "ipxe.iso"},
	},
	"amd64": {
		{"bin-x86_64-efi/ipxe.efi", "ipxe.bin"},
		{"bin-x86_64-efi/ipxe.usb", "ipxe.iso"},
	},
	"arm64": {
		{"bin-arm64-efi/ipxe.efi", "ipxe.bin"},
		{"bin-arm64-efi/ipxe.usb", "ipxe.iso"},
	},
}

type ipxeBuildOption struct {
	name string
	file string
}

var ipxeCommonEnable = []ipxeBuildOption{
	{"DOWNLOAD_PROTO_HTTPS", "general.h"},
	{"DOWNLOAD_PROTO_NFS", "general.h"},
	{"PCI_CMD", "general.h"},
	{"CONSOLE_CMD", "general.h"},
	{"PING_CMD", "general.h"},
	{"NSLOOKUP_CMD", "general.h"},
	{"TIME_CMD", "general.h"},
	{"REBOOT_CMD", "general.h"},
	{"POWEROFF_CMD", "general.h"},
	{"VLAN_CMD", "general.h"},
	{"IMAGE_GZIP", "general.h"},
	{"PARAM_CMD", "general.h"},
	{"IMAGE_ARCHIVE_CMD", "general.h"},
	{"CONSOLE_FRAMEBUFFER", "console.h"},
}

var ipxeCommonDisable = []ipxeBuildOption{
	{"NET_PROTO_IPV6", "general.h"},
}

var ipxeArchEnable = map[string][]ipxeBuildOption{
	"amd64": {{"CONSOLE_EFI", "console.h"}, {"IMAGE_EFI", "general.h"}},
	"arm64": {{"NAP_NULL", "nap.h"}, {"CONSOLE_EFI", "console.h"}, {"IMAGE_EFI", "general.h"}},
}

var ipxeArchDisable = map[string][]ipxeBuildOption{
	"arm64": {{"NAP_PCBIOS", "nap.h"}, {"NAP_EFIX86", "nap.h"}, {"NAP_EFIARM", "nap.h"}, {"USB_HCD_XHCI", "usb.h"}},
}

// ipxeBuild holds the mutable state threaded between an iPXE build task's
// subtasks, in place of the original's instance attributes.
type ipxeBuild struct {
	env     BuilderEnv
	payload map[string]interface{}
	ws      *Workspace
	repoDir string
}

// NewIPXEBuildTask builds the Task for TaskTypeIPXEBuild.
func NewIPXEBuildTask(env BuilderEnv) func(payload map[string]interface{}) Task {
	return func(payload map[string]interface{}) Task {
		b := &ipxeBuild{env: env, payload: payload}
		return SimpleTask{
			Required: []string{"name", "comment", "commit_id", "arch", "stage1_file"},
			Steps: []Subtask{
				{Description: "Checking build dependencies", Progress: 1, Function: b.checkDependencies},
				{Description: "Creating workspace", Progress: 5, Function: b.createWorkspace},
				{Description: "Cloning ipxe repo", Progress: 15, Function: b.cloneRepo},
				{Description: "Applying build options", Progress: 25, Function: b.applyBuildOptions},
				{Description: "Building all targets", Progress: 75, Function: b.buildAllTargets},
				{Description: "Writing metadata", Progress: 80, Function: b.writeMetadata},
				{Description: "Calculating checksums", Progress: 90, Function: b.calculateChecksums},
				{Description: "Publishing build", Progress: 100, Function: b.publish},
			},
			CleanupFunc: b.cleanup,
		}
	}
}

func (b *ipxeBuild) checkDependencies(rc *RunContext) (bool, error) {
	if err := VerifyCommands("git", "make"); err != nil {
		return false, err
	}
	arch, _ := b.payload["arch"].(string)
	if _, ok := ipxeBuildTargets[arch]; !ok {
		return false, fmt.Errorf("ipxe build: unknown target arch %q", arch)
	}
	return true, nil
}

func (b *ipxeBuild) createWorkspace(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	ws, err := NewWorkspace(b.env.ScratchRoot, name)
	if err != nil {
		return false, err
	}
	b.ws = ws
	return true, nil
}

func (b *ipxeBuild) stage1Source() (string, error) {
	filename, _ := b.payload["stage1_file"].(string)
	if filename == "default" || filename == "" {
		path := filepath.Join(b.ws.Scratch, "stage1.ipxe")
		if err := os.WriteFile(path, []byte(builtinStage1), 0o644); err != nil {
			return "", err
		}
		return path, nil
	}
	return filepath.Join(b.env.Stage1FilesRoot, filename), nil
}

func (b *ipxeBuild) cloneRepo(rc *RunContext) (bool, error) {
	commitID, _ := b.payload["commit_id"].(string)
	if ok, err := runExternal(rc, b.ws.Scratch, func(string, ...interface{}) {}, "git", "clone", ipxeRepoURL, "ipxe"); !ok {
		return false, err
	}
	b.repoDir = filepath.Join(b.ws.Scratch, "ipxe", "src")
	if ok, err := runExternal(rc, filepath.Join(b.ws.Scratch, "ipxe"), func(string, ...interface{}) {}, "git", "checkout", commitID); !ok {
		return false, fmt.Errorf("checkout commit %s: %w", commitID, err)
	}
	return true, nil
}

func (b *ipxeBuild) applyBuildOptions(rc *RunContext) (bool, error) {
	arch, _ := b.payload["arch"].(string)
	apply := func(opt ipxeBuildOption, enable bool) (bool, error) {
		directive := "#undef " + opt.name
		if enable {
			directive = "#define " + opt.name
		}
		f, err := os.OpenFile(filepath.Join(b.repoDir, "config", "local", opt.file), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return false, err
		}
		defer f.Close()
		_, err = fmt.Fprintln(f, directive)
		return err == nil, err
	}
	for _, opt := range ipxeCommonEnable {
		if ok, err := apply(opt, true); !ok {
			return false, err
		}
	}
	for _, opt := range ipxeCommonDisable {
		if ok, err := apply(opt, false); !ok {
			return false, err
		}
	}
	for _, opt := range ipxeArchEnable[arch] {
		if ok, err := apply(opt, true); !ok {
			return false, err
		}
	}
	for _, opt := range ipxeArchDisable[arch] {
		if ok, err := apply(opt, false); !ok {
			return false, err
		}
	}
	return true, nil
}

func (b *ipxeBuild) buildAllTargets(rc *RunContext) (bool, error) {
	arch, _ := b.payload["arch"].(string)
	stage1, err := b.stage1Source()
	if err != nil {
		return false, err
	}
	args := []string{"-j4"}
	if arch == "arm64" {
		args = append(args, "CROSS_COMPILE=aarch64-linux-gnu-", "ARCH=arm64")
	}
	for _, target := range ipxeBuildTargets[arch] {
		buildArgs := append(append([]string{}, args...), target.src, "EMBED="+stage1)
		if ok, err := runExternal(rc, b.repoDir, func(string, ...interface{}) {}, "make", append([]string{"-k"}, buildArgs...)...); !ok {
			return false, fmt.Errorf("build target %s: %w", target.src, err)
		}
		built := filepath.Join(b.repoDir, target.src)
		data, err := os.ReadFile(built)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(filepath.Join(b.ws.Dir, target.dest), data, 0o644); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (b *ipxeBuild) writeMetadata(rc *RunContext) (bool, error) {
	meta := map[string]interface{}{
		"commit_id": b.payload["commit_id"],
		"name":      b.payload["name"],
		"comment":   b.payload["comment"],
		"arch":      b.payload["arch"],
		"stage1":    b.payload["stage1_file"],
	}
	if err := b.ws.WriteMetadata("metadata.yaml", meta); err != nil {
		return false, err
	}
	return true, nil
}

func (b *ipxeBuild) calculateChecksums(rc *RunContext) (bool, error) {
	entries, err := os.ReadDir(b.ws.Dir)
	if err != nil {
		return false, err
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() || e.Name() == "checksums.txt" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.ws.Dir, e.Name()))
		if err != nil {
			return false, err
		}
		sum := md5.Sum(data)
		fmt.Fprintf(&sb, "%s %x\n", e.Name(), sum)
	}
	return true, os.WriteFile(filepath.Join(b.ws.Dir, "checksums.txt"), []byte(sb.String()), 0o644)
}

func (b *ipxeBuild) publish(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	if err := b.ws.Publish(b.env.IPXEBuildsRoot, name); err != nil {
		return false, err
	}
	return true, os.RemoveAll(b.ws.Scratch)
}

func (b *ipxeBuild) cleanup() error {
	if b.ws == nil {
		return nil
	}
	return b.ws.Cleanup()
}
