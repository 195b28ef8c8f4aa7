package tasks

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

// terminationGrace is how long a subprocess gets to exit after SIGTERM
// before runExternal escalates to SIGKILL (§3 supplemented feature
// "subprocess-tracking cancellation").
const terminationGrace = 5 * time.Second

// runExternal runs name with args in dir, tracking the spawned process
// with rc so a task stop request can signal it even while it blocks on
// a syscall the cooperative flag check alone could never interrupt.
// Output is appended to logf.
func runExternal(rc *RunContext, dir string, logf func(string, ...interface{}), name string, args ...string) (bool, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.StdoutPipe()
	if err == nil {
		cmd.Stderr = cmd.Stdout
	}

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start %s: %w", name, err)
	}

	rc.TrackProcess(func() {
		if cmd.Process == nil {
			return
		}
		_ = cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			timer := time.NewTimer(terminationGrace)
			defer timer.Stop()
			<-timer.C
			_ = cmd.Process.Kill()
		}()
	})

	if out != nil {
		buf := make([]byte, 4096)
		go func() {
			for {
				n, readErr := out.Read(buf)
				if n > 0 {
					logf("%s", string(buf[:n]))
				}
				if readErr != nil {
					return
				}
			}
		}()
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		return false, fmt.Errorf("%s: %w", name, waitErr)
	}
	return true, nil
}

// BuilderEnv is the filesystem context every image-builder task type
// shares (§4.6 "Image-builder base class behaviors"): a scratch directory
// for disposable intermediates and a destination root each concrete
// builder moves its finished artifact into.
type BuilderEnv struct {
	ScratchRoot      string
	BootImagesRoot   string
	IPXEBuildsRoot   string
	WimbootRoot      string
	ISORoot          string
	Stage1FilesRoot  string
}

// VerifyCommands checks that every named external command is on PATH,
// failing fast before any subtask runs (§4.6 "Verify external commands
// present (7z, mkimage, platform-specific tools) before running").
func VerifyCommands(names ...string) error {
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required external command %q not found: %w", name, err)
		}
	}
	return nil
}

// sanitizeName restricts an artifact name to the safe subset used for
// building filesystem paths, mirroring the original's sanitized-name
// move-into-place step.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Workspace is one builder run's pair of directories: workspace (the
// final-artifact staging area, moved into place on success) and scratch
// (disposable intermediates, always removed).
type Workspace struct {
	Dir     string // workspace
	Scratch string // scratch
}

// NewWorkspace creates both directories under root/<name>-<timestamp>.
func NewWorkspace(root, name string) (*Workspace, error) {
	base := filepath.Join(root, sanitizeName(name)+"-"+time.Now().UTC().Format("20060102T150405"))
	ws := &Workspace{Dir: filepath.Join(base, "workspace"), Scratch: filepath.Join(base, "scratch")}
	if err := os.MkdirAll(ws.Dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(ws.Scratch, 0o755); err != nil {
		return nil, err
	}
	return ws, nil
}

// Cleanup removes both directories; concrete builders wire this as their
// Task.Cleanup, which the runner calls as soon as a subtask fails and an
// admin "clear" calls again (removing an already-removed tree is a no-op).
func (ws *Workspace) Cleanup() error {
	base := filepath.Dir(ws.Dir)
	return os.RemoveAll(base)
}

// WriteMetadata writes a YAML-ish metadata file into the workspace. A
// real YAML encoder (gopkg.in/yaml.v3, already in use elsewhere in this
// tree) keeps this consistent with the rest of the codebase's metadata
// handling rather than hand-formatting the file.
func (ws *Workspace) WriteMetadata(filename string, data interface{}) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ws.Dir, filename), out, 0o644)
}

// Publish atomically moves the workspace directory into destRoot under a
// sanitized name, per §4.6's "atomically move workspace into the
// boot-images root under a sanitized name".
func (ws *Workspace) Publish(destRoot, name string) error {
	dest := filepath.Join(destRoot, sanitizeName(name))
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return err
	}
	return os.Rename(ws.Dir, dest)
}
