package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/bishopdynamics/NetbootStudioV2/internal/clientstore"
)

// handleGetClient implements get_client: return the full record for one
// MAC (§4.7 "client mutators").
func (d *Dispatcher) handleGetClient(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	c, err := d.clients.Get(ctx, mac)
	if err != nil {
		return nil, fmt.Errorf("get_client: %w", err)
	}
	return c, nil
}

// handleGetClients implements get_clients: return every record, no
// payload keys required.
func (d *Dispatcher) handleGetClients(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	clients, err := d.clients.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_clients: %w", err)
	}
	return clients, nil
}

// handleGetClientField implements the supplemented get_client_field
// endpoint: ad-hoc inspection of one dotted path inside a client's
// info/config blob (e.g. "config.ipxe_build" or "info.cpu_cores"),
// without needing a dedicated Go accessor per nested field admin tooling
// wants to poke at. Grounded on the teacher's gjson.GetBytes(body, path)
// use in its data-feed JSONPath extraction.
func (d *Dispatcher) handleGetClientField(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	path, err := payloadString(payload, "json_path")
	if err != nil {
		return nil, err
	}
	c, err := d.clients.Get(ctx, mac)
	if err != nil {
		return nil, fmt.Errorf("get_client_field: %w", err)
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("get_client_field: encode client: %w", err)
	}
	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return nil, fmt.Errorf("get_client_field: no field at path %q", path)
	}
	return result.Value(), nil
}

// handleSetClientConfig implements set_client_config.
func (d *Dispatcher) handleSetClientConfig(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	rawCfg, err := payloadMap(payload, "config")
	if err != nil {
		return nil, err
	}
	var cfg clientstore.Config
	if err := remarshal(rawCfg, &cfg); err != nil {
		return nil, fmt.Errorf("set_client_config: decode config: %w", err)
	}
	if err := d.clients.SetConfig(ctx, mac, cfg); err != nil {
		return nil, fmt.Errorf("set_client_config: %w", err)
	}
	return "Success", nil
}

// handleSetClientInfo implements set_client_info.
func (d *Dispatcher) handleSetClientInfo(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	rawInfo, err := payloadMap(payload, "info")
	if err != nil {
		return nil, err
	}
	var info clientstore.Info
	if err := remarshal(rawInfo, &info); err != nil {
		return nil, fmt.Errorf("set_client_info: decode info: %w", err)
	}
	if err := d.clients.SetInfo(ctx, mac, info); err != nil {
		return nil, fmt.Errorf("set_client_info: %w", err)
	}
	return "Success", nil
}

// handleSetClientArch implements the supplemented set_client_arch
// endpoint (§9 "Open question — arch ambiguity"): lets an operator
// correct a client the sniffer classified wrong, independent of the
// bulk set_client_config call.
func (d *Dispatcher) handleSetClientArch(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	archStr, err := payloadString(payload, "arch")
	if err != nil {
		return nil, err
	}
	if err := d.clients.SetArch(ctx, mac, clientstore.Arch(archStr)); err != nil {
		return nil, fmt.Errorf("set_client_arch: %w", err)
	}
	return "Success", nil
}

// handleDeleteClient implements delete_client.
func (d *Dispatcher) handleDeleteClient(ctx context.Context, payload map[string]interface{}) (interface{}, error) {
	mac, err := payloadString(payload, "mac")
	if err != nil {
		return nil, err
	}
	if err := d.clients.Delete(ctx, mac); err != nil {
		return nil, fmt.Errorf("delete_client: %w", err)
	}
	return "Success", nil
}

// remarshal round-trips v through JSON into out, the Go equivalent of the
// original's `dict(payload)` duck-typing: payload sub-objects arrive as
// map[string]interface{} from the envelope's JSON decode and need to land
// in a concrete struct.
func remarshal(v interface{}, out interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
