// Package datasource implements the DataSource Fabric (C3, §4.3): named
// providers periodically sample a value, diff against the last published
// encoding, and publish only on change; consumers mirror the last seen
// value and never poll. Each provider's ticker loop is grounded on the
// same `automation.Scheduler` shape used for the Client Store's expiry
// ticker (internal/clientstore/ticker.go) — this codebase has exactly one
// idiom for "periodic background work published over the bus."
package datasource

import (
	"context"
	"encoding/json"

	"github.com/bishopdynamics/NetbootStudioV2/internal/platform/pubsub"
)

// Bus is the subset of pubsub.Client a Provider/Consumer needs.
type Bus interface {
	Publish(ctx context.Context, topic string, content interface{}) error
	Subscribe(topic string, handler pubsub.Handler) error
}

// Names lists the thirteen data sources the core wires (§4.3).
var Names = []string{
	"clients",
	"tasks",
	"architectures",
	"ipxe_commit_ids",
	"stage1_files",
	"uboot_scripts",
	"unattended_configs",
	"boot_images",
	"ipxe_builds",
	"wimboot_builds",
	"iso",
	"tftp_root",
	"stage4",
}

// messageKind distinguishes the two things that can arrive/leave on a
// data source's topic.
type messageKind string

const (
	kindRequest      messageKind = "request"
	kindNewValue     messageKind = "new_value"
	kindCurrentValue messageKind = "current_value"
)

// wireMessage is the content body carried inside a pubsub.Envelope on a
// data source topic.
type wireMessage struct {
	Kind  messageKind     `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

func sameEncoding(a, b []byte) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return string(a) == string(b)
}
