package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/config"
	"github.com/bishopdynamics/NetbootStudioV2/internal/tasks"
)

type fakeTaskSubmitter struct {
	submitted []tasks.Envelope
	stopped   []string
	cleared   []string
	logs      map[string]string
}

func (f *fakeTaskSubmitter) Submit(ctx context.Context, env tasks.Envelope) error {
	f.submitted = append(f.submitted, env)
	return nil
}

func (f *fakeTaskSubmitter) StopTask(taskID string) error {
	f.stopped = append(f.stopped, taskID)
	return nil
}

func (f *fakeTaskSubmitter) Clear(taskID string) error {
	f.cleared = append(f.cleared, taskID)
	return nil
}

func (f *fakeTaskSubmitter) Log(taskID string) (string, error) {
	return f.logs[taskID], nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTaskSubmitter) {
	t.Helper()
	dir := t.TempDir()

	roots := FileRoots{
		Stage1Files:       filepath.Join(dir, "stage1_files"),
		UbootScripts:      filepath.Join(dir, "uboot_scripts"),
		UnattendedConfigs: filepath.Join(dir, "unattended_configs"),
		BootImages:        filepath.Join(dir, "boot_images"),
		TFTPRoot:          filepath.Join(dir, "tftp_root"),
		Stage4:            filepath.Join(dir, "stage4"),
		IPXEBuilds:        filepath.Join(dir, "ipxe_builds"),
		WimbootBuilds:     filepath.Join(dir, "wimboot_builds"),
		ISO:               filepath.Join(dir, "iso"),
	}
	for _, root := range []string{
		roots.Stage1Files, roots.UbootScripts, roots.UnattendedConfigs,
		roots.BootImages, roots.TFTPRoot, roots.Stage4, roots.IPXEBuilds,
		roots.WimbootBuilds, roots.ISO,
	} {
		require.NoError(t, os.MkdirAll(root, 0o755))
	}

	taskSub := &fakeTaskSubmitter{logs: map[string]string{}}

	d := New(Deps{
		Clients:      clientstore.NewMemory(),
		Tasks:        taskSub,
		SettingsFile: filepath.Join(dir, "settings.json"),
		Files:        roots,
	})
	return d, taskSub
}

func TestDispatchUnrecognizedEndpoint(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{ID: "1", Endpoint: "not_a_real_endpoint"})
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, resp.APIPayload["error"], "unrecognized")
}

func TestDeleteBootImageRefusesBuiltin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "delete_boot_image",
		APIPayload: map[string]interface{}{
			"name": "standby_loop",
		},
	})
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, resp.APIPayload["error"], "builtin")
}

func TestDeleteBootImageRemovesNonBuiltin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	imgPath := filepath.Join(d.files.BootImages, "custom.ipxe")
	require.NoError(t, os.WriteFile(imgPath, []byte("#!ipxe\n"), 0o644))

	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "delete_boot_image",
		APIPayload: map[string]interface{}{
			"name": "custom.ipxe",
		},
	})
	assert.Equal(t, 200, resp.Status)
	_, err := os.Stat(imgPath)
	assert.True(t, os.IsNotExist(err))
}

func TestGetFileRefusesBuiltin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "get_file",
		APIPayload: map[string]interface{}{
			"file_name":     "blank.cfg",
			"file_category": "unattended_configs",
		},
	})
	assert.Equal(t, 500, resp.Status)
	assert.Contains(t, resp.APIPayload["error"], "builtin")
}

func TestSaveFileThenGetFileRoundTrips(t *testing.T) {
	d, _ := newTestDispatcher(t)
	path := filepath.Join(d.files.UnattendedConfigs, "custom.cfg")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	saveResp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "save_file",
		APIPayload: map[string]interface{}{
			"file_name":     "custom.cfg",
			"file_category": "unattended_configs",
			"file_content":  "d-i debconf/priority select critical",
		},
	})
	require.Equal(t, 200, saveResp.Status)

	getResp := d.Dispatch(context.Background(), Request{
		ID:       "2",
		Endpoint: "get_file",
		APIPayload: map[string]interface{}{
			"file_name":     "custom.cfg",
			"file_category": "unattended_configs",
		},
	})
	require.Equal(t, 200, getResp.Status)
	result := getResp.APIPayload["result"].(map[string]interface{})
	assert.Equal(t, "d-i debconf/priority select critical", result["file_content"])
}

func TestSetSettingsThenGetSettingsRoundTrips(t *testing.T) {
	d, _ := newTestDispatcher(t)

	next := config.DefaultSettings()
	next.BootImage = "menu"
	next.DoUnattended = true

	raw := map[string]interface{}{}
	require.NoError(t, remarshal(next, &raw))

	setResp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "set_settings",
		APIPayload: map[string]interface{}{
			"settings": raw,
		},
	})
	require.Equal(t, 200, setResp.Status, setResp.APIPayload)

	getResp := d.Dispatch(context.Background(), Request{ID: "2", Endpoint: "get_settings"})
	require.Equal(t, 200, getResp.Status)

	var got config.Settings
	require.NoError(t, remarshal(getResp.APIPayload["result"], &got))
	assert.Equal(t, "menu", got.BootImage)
	assert.True(t, got.DoUnattended)
}

func TestSetSettingsRejectsIncompleteKeySet(t *testing.T) {
	d, _ := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "set_settings",
		APIPayload: map[string]interface{}{
			"settings": map[string]interface{}{"boot_image": "menu"},
		},
	})
	assert.Equal(t, 500, resp.Status)
}

func TestClientLifecycleEndpoints(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()
	mac := "aa:bb:cc:dd:ee:ff"
	_, err := d.clients.Create(ctx, mac, clientstore.ArchAMD64, map[string]string{"vendor": "PXEClient"}, clientstore.Config{})
	require.NoError(t, err)

	setResp := d.Dispatch(ctx, Request{
		ID:       "1",
		Endpoint: "set_client_info",
		APIPayload: map[string]interface{}{
			"mac": mac,
			"info": map[string]interface{}{
				"hostname": "test-host",
			},
		},
	})
	assert.Equal(t, 200, setResp.Status, setResp.APIPayload)

	getResp := d.Dispatch(ctx, Request{ID: "2", Endpoint: "get_client", APIPayload: map[string]interface{}{"mac": mac}})
	require.Equal(t, 200, getResp.Status)

	deleteResp := d.Dispatch(ctx, Request{ID: "3", Endpoint: "delete_client", APIPayload: map[string]interface{}{"mac": mac}})
	assert.Equal(t, 200, deleteResp.Status)

	missingResp := d.Dispatch(ctx, Request{ID: "4", Endpoint: "get_client", APIPayload: map[string]interface{}{"mac": mac}})
	assert.Equal(t, 500, missingResp.Status)
}

func TestCreateTaskSubmitsEnvelope(t *testing.T) {
	d, taskSub := newTestDispatcher(t)
	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "create_task",
		APIPayload: map[string]interface{}{
			"task_type": "build_iso",
			"arch":      "amd64",
		},
	})
	require.Equal(t, 200, resp.Status)
	require.Len(t, taskSub.submitted, 1)
	assert.Equal(t, "build_iso", taskSub.submitted[0].TaskType)
}

func TestTaskActionLog(t *testing.T) {
	d, taskSub := newTestDispatcher(t)
	taskSub.logs["task-1"] = "line one\nline two\n"

	resp := d.Dispatch(context.Background(), Request{
		ID:       "1",
		Endpoint: "task_action",
		APIPayload: map[string]interface{}{
			"task_id": "task-1",
			"action":  "log",
		},
	})
	require.Equal(t, 200, resp.Status)
	assert.Equal(t, "line one\nline two\n", resp.APIPayload["result"])
}
