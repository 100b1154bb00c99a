package assetrequest

import (
	"fmt"

	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/pkg/model"
)

// RequestType names a kind of request on the wire.
type RequestType string

const (
	// AssetStatus asks for the status of an asset, or for it to be compiled now.
	AssetStatus RequestType = "asset_status"
	// EscalateAsset raises the urgency of the jobs matching an asset. It gets no response.
	EscalateAsset RequestType = "escalate_asset"
	// JobsInfo lists the live and finished jobs of a source or job key.
	JobsInfo RequestType = "jobs_info"
)

// RequestID identifies a request: the connection it arrived on and the serial the client gave
// it. Responses carry the same serial.
type RequestID struct {
	ConnectionID string
	Serial       uint64
}

func (id RequestID) String() string {
	return fmt.Sprintf("%s#%d", id.ConnectionID, id.Serial)
}

// Request is an inbound request, already decoded by the transport.
type Request struct {
	ID       RequestID   `json:"-"`
	Type     RequestType `json:"-"`
	Platform string      `json:"-"`

	SearchTerm      string `json:"search_term"`
	IsStatusRequest bool   `json:"is_status_request"`
	// RequireFencing orders the request after every file event that preceded it.
	RequireFencing bool `json:"require_fencing"`

	// IsJobKey makes a jobs-info request match job keys instead of source paths.
	IsJobKey bool `json:"is_job_key"`
	// Escalate makes a jobs-info request escalate the pending jobs it finds.
	Escalate bool `json:"escalate"`

	// FencingFailed is set when the request is dispatched without the fencing guarantee.
	FencingFailed bool `json:"-"`
}

// StatusResponse answers an asset-status request.
type StatusResponse struct {
	Status        model.AssetStatus `json:"status"`
	FencingFailed bool              `json:"fencing_failed"`
}

// JobsInfoResponse answers a jobs-info request.
type JobsInfoResponse struct {
	Jobs          []jobs.Info        `json:"jobs"`
	History       []model.JobHistory `json:"history"`
	FencingFailed bool               `json:"fencing_failed"`
}
