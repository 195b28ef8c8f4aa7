package tasks

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// TaskTypeESXFromISO builds a netboot-installable VMware ESXi image from an
// installer ISO (§4.6, grounded on the original NSTask_Image_ESXFromISO).
const TaskTypeESXFromISO = "image_esx_from_iso"

// NewESXFromISOTask builds the Task for TaskTypeESXFromISO.
func NewESXFromISOTask(env BuilderEnv) func(payload map[string]interface{}) Task {
	return func(payload map[string]interface{}) Task {
		b := &imageBuild{env: env, payload: payload}
		return SimpleTask{
			Required: []string{"name", "comment", "arch", "iso_file", "create_unattended"},
			Steps: []Subtask{
				{Description: "Checking build dependencies", Progress: 1, Function: windowsCheckDeps},
				{Description: "Creating workspace", Progress: 10, Function: b.createWorkspace},
				{Description: "Extracting ISO contents", Progress: 20, Function: b.esxExtractISO},
				{Description: "Converting filenames to lowercase", Progress: 40, Function: b.esxLowercaseFiles},
				{Description: "Generating iPXE scripts", Progress: 80, Function: b.esxGenerateIPXE},
				{Description: "Updating metadata", Progress: 85, Function: b.esxUpdateMetadata},
				{Description: "Writing metadata", Progress: 90, Function: b.writeMetadata},
				{Description: "Finalizing", Progress: 100, Function: b.publish(env.BootImagesRoot)},
			},
			CleanupFunc: b.cleanup,
		}
	}
}

func (b *imageBuild) esxExtractISO(rc *RunContext) (bool, error) {
	return extractISO(rc, b.isoSourcePath(), b.ws.Dir, func(string, ...interface{}) {})
}

// esxLowercaseFiles renames every extracted entry to lowercase: ESXi's boot
// loader expects a case-insensitive layout that 7z's extraction does not
// guarantee. Deepest paths are renamed first so a directory rename never
// invalidates a child's still-pending path.
func (b *imageBuild) esxLowercaseFiles(rc *RunContext) (bool, error) {
	var paths []string
	err := filepath.WalkDir(b.ws.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != b.ws.Dir {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	sort.Slice(paths, func(i, j int) bool { return len(paths[i]) > len(paths[j]) })
	for _, p := range paths {
		dir, base := filepath.Split(p)
		lower := filepath.Join(dir, strings.ToLower(base))
		if lower == p {
			continue
		}
		if err := os.Rename(p, lower); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (b *imageBuild) esxGenerateIPXE(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	body := "kernel mboot.c32\nimgargs mboot.c32 -c boot.cfg\nboot\n"
	if err := writeIPXEMenu(b.ws, name, body); err != nil {
		return false, err
	}
	if unattended, _ := b.payload["create_unattended"].(bool); unattended {
		return true, writeIPXEMenu(b.ws, name+"-unattended", body+"# ks=${unattended-url-linux}\n")
	}
	return true, nil
}

// esxUpdateMetadata scrapes the release string out of the extracted ISO's
// own metadata files, the same two files the original inspects.
func (b *imageBuild) esxUpdateMetadata(rc *RunContext) (bool, error) {
	release := firstMatchingLine(filepath.Join(b.ws.Dir, "vmware-esx-base-osl.txt"), "ESXi", 5)
	build := firstMatchingLine(filepath.Join(b.ws.Dir, "boot.cfg"), "build=", 15)
	build = strings.TrimPrefix(build, "build=")

	arch, _ := b.payload["arch"].(string)
	isoFile, _ := b.payload["iso_file"].(string)
	comment, _ := b.payload["comment"].(string)
	b.meta.Arch = arch
	b.meta.Name, _ = b.payload["name"].(string)
	if comment == "" {
		comment = fmt.Sprintf("Auto-generated from iso: %s", isoFile)
	}
	b.meta.Description = fmt.Sprintf("%s %s - %s", strings.TrimSpace(release), strings.TrimSpace(build), comment)
	return true, nil
}

func firstMatchingLine(path, substr string, maxLines int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for i := 0; i < maxLines && scanner.Scan(); i++ {
		line := scanner.Text()
		if strings.Contains(line, substr) {
			return line
		}
	}
	return ""
}
