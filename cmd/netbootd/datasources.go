package main

import (
	"context"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/datasource"
	"github.com/bishopdynamics/NetbootStudioV2/internal/dispatcher"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/internal/tasks"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// fileCategoryDataSources maps a subset of datasource.Names to the
// dispatcher file category they mirror (§4.3's thirteen names minus the
// four non-file sources wired separately in registerDataSources).
var fileCategoryDataSources = map[string]string{
	"stage1_files":       "stage1_files",
	"uboot_scripts":      "uboot_scripts",
	"unattended_configs": "unattended_configs",
	"boot_images":        "boot_images",
	"ipxe_builds":        "ipxe_builds",
	"wimboot_builds":     "wimboot_builds",
	"iso":                "iso",
	"tftp_root":          "tftp_root",
	"stage4":             "stage4",
}

// architectureNames is the static value the "architectures" data source
// publishes: the full client arch enum minus the sentinel "unsupported"
// value, which is a classification failure rather than a real platform.
var architectureNames = []string{
	string(clientstore.ArchBIOS32),
	string(clientstore.ArchBIOS64),
	string(clientstore.ArchAMD64),
	string(clientstore.ArchARM64),
	string(clientstore.ArchARM32),
	string(clientstore.ArchIA32),
}

// registerDataSources builds the thirteen named Providers of the
// DataSource Fabric (§4.3) and returns them as lifecycle.Services ready
// for Manager.Register. Each provider samples a collaborator this binary
// already constructed rather than duplicating its logic.
func registerDataSources(store clientstore.Store, taskManager *tasks.Manager, d *dispatcher.Dispatcher, bus datasource.Bus, log *logger.Logger) []lifecycle.Service {
	providers := make([]lifecycle.Service, 0, len(datasource.Names))

	providers = append(providers, datasource.NewProvider("clients", 2*time.Second, func(ctx context.Context) (interface{}, error) {
		return store.List(ctx)
	}, bus, log))

	providers = append(providers, datasource.NewProvider("tasks", 2*time.Second, func(ctx context.Context) (interface{}, error) {
		return taskManager.Status(), nil
	}, bus, log))

	providers = append(providers, datasource.NewProvider("architectures", time.Minute, func(ctx context.Context) (interface{}, error) {
		return architectureNames, nil
	}, bus, log))

	providers = append(providers, datasource.NewProvider("ipxe_commit_ids", 5*time.Minute, sampleIPXECommitIDs, bus, log))

	for name, category := range fileCategoryDataSources {
		cat := category
		providers = append(providers, datasource.NewProvider(name, 5*time.Second, func(ctx context.Context) (interface{}, error) {
			return d.ListFiles(cat)
		}, bus, log))
	}

	return providers
}

// sampleIPXECommitIDs lists the tags of the upstream iPXE repository every
// build_ipxe task clones from, so the admin UI can offer a commit_id
// picker without shelling out itself.
func sampleIPXECommitIDs(ctx context.Context) (interface{}, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-remote", "--tags", "--refs", tasks.IPXERepoURL)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	tags := make([]string, 0)
	for _, line := range strings.Split(string(out), "\n") {
		const prefix = "refs/tags/"
		idx := strings.Index(line, prefix)
		if idx < 0 {
			continue
		}
		tags = append(tags, strings.TrimSpace(line[idx+len(prefix):]))
	}
	sort.Strings(tags)
	return tags, nil
}
