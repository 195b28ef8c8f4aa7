package tasks

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// TaskTypeWindowsFromISO builds a WinPE-based netboot image from a Windows
// installer ISO (§4.6, grounded on the original NSTask_Image_WindowsFromISO).
const TaskTypeWindowsFromISO = "image_windows_from_iso"

// NewWindowsFromISOTask builds the Task for TaskTypeWindowsFromISO.
func NewWindowsFromISOTask(env BuilderEnv) func(payload map[string]interface{}) Task {
	return func(payload map[string]interface{}) Task {
		b := &imageBuild{env: env, payload: payload}
		return SimpleTask{
			Required: []string{"name", "comment", "arch", "iso_file", "create_unattended"},
			Steps: []Subtask{
				{Description: "Checking build dependencies", Progress: 1, Function: windowsCheckDeps},
				{Description: "Creating workspace", Progress: 10, Function: b.createWorkspace},
				{Description: "Extracting ISO contents", Progress: 20, Function: b.windowsExtractISO},
				{Description: "Creating boot files", Progress: 50, Function: b.windowsCreateFiles},
				{Description: "Correcting file permissions", Progress: 70, Function: b.windowsCorrectPerms},
				{Description: "Generating iPXE scripts", Progress: 80, Function: b.windowsGenerateIPXE},
				{Description: "Updating metadata", Progress: 85, Function: b.updateMetadata},
				{Description: "Writing metadata", Progress: 90, Function: b.writeMetadata},
				{Description: "Finalizing", Progress: 100, Function: b.publish(env.BootImagesRoot)},
			},
			CleanupFunc: b.cleanup,
		}
	}
}

func windowsCheckDeps(rc *RunContext) (bool, error) {
	return true, VerifyCommands("7z")
}

func (b *imageBuild) isoSourcePath() string {
	isoFile, _ := b.payload["iso_file"].(string)
	return filepath.Join(b.env.ISORoot, isoFile)
}

func (b *imageBuild) windowsExtractISO(rc *RunContext) (bool, error) {
	return extractISO(rc, b.isoSourcePath(), b.ws.Dir, func(string, ...interface{}) {})
}

// windowsCreateFiles writes winpeshl.ini and startnet.cmd, the two extra
// files the in-memory WinPE boot environment needs beyond what the ISO
// itself provides. CRLF line endings match what Windows expects.
func (b *imageBuild) windowsCreateFiles(rc *RunContext) (bool, error) {
	winpeshl := "[LaunchApps]\r\n\"startnet.cmd\"\r\n\"mount.cmd\"\r\n\"cmd.exe\"\r\n"
	startnet := "@echo off\r\necho if wpeinit fails, you will be dropped to a command prompt\r\n@echo on\r\nwpeinit\r\n"
	if err := os.WriteFile(filepath.Join(b.ws.Dir, "winpeshl.ini"), []byte(winpeshl), 0o644); err != nil {
		return false, err
	}
	return true, os.WriteFile(filepath.Join(b.ws.Dir, "startnet.cmd"), []byte(startnet), 0o644)
}

// windowsCorrectPerms lowercases no filenames (that's the ESX variant) but
// does need every extracted file world-readable, since it's served over
// TFTP/HTTP to an unauthenticated netboot client.
func (b *imageBuild) windowsCorrectPerms(rc *RunContext) (bool, error) {
	ok, err := runExternal(rc, b.ws.Dir, func(string, ...interface{}) {}, "chmod", "-R", "a+rX", b.ws.Dir)
	if !ok && isExecNotFound(err) {
		return true, nil
	}
	return ok, err
}

func (b *imageBuild) windowsGenerateIPXE(rc *RunContext) (bool, error) {
	name, _ := b.payload["name"].(string)
	body := fmt.Sprintf("kernel boot.wim\nimgargs boot.wim wimboot\nboot\n")
	if err := writeIPXEMenu(b.ws, name, body); err != nil {
		return false, err
	}
	if unattended, _ := b.payload["create_unattended"].(bool); unattended {
		unattendedBody := body + "# unattend.xml fetched from ${unattended-url-linux}\n"
		return true, writeIPXEMenu(b.ws, name+"-unattended", unattendedBody)
	}
	return true, nil
}

func isExecNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}
