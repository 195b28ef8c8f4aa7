package dispatcher

import (
	"context"
	"strconv"
	"time"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
	"github.com/bishopdynamics/NetbootStudioV2/internal/metrics"
	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/lifecycle"
	"github.com/bishopdynamics/NetbootStudioV2/pkg/logger"
)

// Dispatcher owns the static endpoint->handler table (§4.7) and the
// dependencies its handlers close over: the client store, the task
// manager, the settings file path, and the file category roots.
// Grounded on NSMessageProcessor's __init__ (which wires the same five
// collaborators: config, paths, q_staging, client_manager, task_manager)
// and its endpoint_methods dict.
type Dispatcher struct {
	clients      clientstore.Store
	tasks        TaskSubmitter
	settingsFile string
	files        FileRoots
	audit        SettingsAuditRecorder
	lifecycle    *lifecycle.Manager
	log          *logger.Logger
	metrics      *metrics.Metrics

	handlers map[string]Handler
}

// Deps bundles Dispatcher's collaborators, one struct rather than a long
// constructor argument list.
type Deps struct {
	Clients      clientstore.Store
	Tasks        TaskSubmitter
	SettingsFile string
	Files        FileRoots
	Audit        SettingsAuditRecorder
	Lifecycle    *lifecycle.Manager
	Log          *logger.Logger
	Metrics      *metrics.Metrics
}

// New builds a Dispatcher with the full endpoint table wired (§4.7's
// "file-inventory getters, client mutators, task mutators, settings,
// file content", superset per SPEC's divergent-copies note).
func New(deps Deps) *Dispatcher {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("dispatcher")
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Global()
	}
	d := &Dispatcher{
		clients:      deps.Clients,
		tasks:        deps.Tasks,
		settingsFile: deps.SettingsFile,
		files:        deps.Files,
		audit:        deps.Audit,
		lifecycle:    deps.Lifecycle,
		log:          log,
		metrics:      m,
	}

	d.handlers = map[string]Handler{
		"get_stage1_files":       d.getFiles("stage1_files"),
		"get_uboot_scripts":      d.getFiles("uboot_scripts"),
		"get_unattended_configs": d.getFiles("unattended_configs"),
		"get_boot_images":        d.getFiles("boot_images"),
		"get_ipxe_builds":        d.getFiles("ipxe_builds"),
		"get_wimboot_builds":     d.getFiles("wimboot_builds"),
		"get_iso":                d.getFiles("iso"),
		"get_stage4":             d.getFiles("stage4"),

		"get_client":       d.handleGetClient,
		"get_clients":      d.handleGetClients,
		"get_client_field": d.handleGetClientField,
		"set_client_config": d.handleSetClientConfig,
		"set_client_info":   d.handleSetClientInfo,
		"set_client_arch":   d.handleSetClientArch,
		"delete_client":     d.handleDeleteClient,

		"create_task": d.handleCreateTask,
		"task_action": d.handleTaskAction,

		"get_settings": d.handleGetSettings,
		"set_settings": d.handleSetSettings,

		"get_system_status": d.handleGetSystemStatus,

		"get_file":  d.handleGetFile,
		"save_file": d.handleSaveFile,

		"delete_boot_image":        d.handleDeleteBootImage,
		"delete_unattended_config": d.deleteByFilename("unattended_configs", "filename"),
		"delete_stage1_file":       d.deleteByFilename("stage1_files", "filename"),
		"delete_uboot_script":      d.deleteByFilename("uboot_scripts", "filename"),
		"delete_stage4":            d.deleteByFilename("stage4", "filename"),
		"delete_iso":               d.deleteByFilename("iso", "filename"),
		"delete_ipxe_build":        handleDeleteByBuildID(deps.Files.IPXEBuilds),
		"delete_wimboot_build":     handleDeleteByBuildID(deps.Files.WimbootBuilds),
	}

	return d
}

// Dispatch routes one decoded Request to its handler and builds the
// decorated Response (§4.7's handle_api). origin only affects how the
// caller transports the result; Dispatch itself is origin-agnostic.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	return d.dispatchOrigin(ctx, req, OriginWebserver)
}

// DispatchFrom is Dispatch with an explicit origin tag, used by the broker
// transport so request metrics distinguish "webserver" from "broker".
func (d *Dispatcher) DispatchFrom(ctx context.Context, req Request, origin Origin) Response {
	return d.dispatchOrigin(ctx, req, origin)
}

func (d *Dispatcher) dispatchOrigin(ctx context.Context, req Request, origin Origin) Response {
	start := time.Now()

	handler, ok := d.handlers[req.Endpoint]
	if !ok {
		d.log.WithField("endpoint", req.Endpoint).Warn("dispatcher: unrecognized endpoint")
		resp := buildError(req, errUnrecognizedEndpoint(req.Endpoint))
		d.metrics.RecordAPIRequest(req.Endpoint, string(origin), strconv.Itoa(resp.Status), time.Since(start))
		return resp
	}

	result, err := handler(ctx, req.APIPayload)
	var resp Response
	if err != nil {
		d.log.WithField("endpoint", req.Endpoint).WithField("error", err).Warn("dispatcher: handler failed")
		resp = buildError(req, err)
	} else {
		resp = buildSuccess(req, result)
	}
	d.metrics.RecordAPIRequest(req.Endpoint, string(origin), strconv.Itoa(resp.Status), time.Since(start))
	return resp
}
