package jobs

// Escalation values; larger is more urgent. A status request only asks how an asset is doing, so
// it boosts matching jobs less than a request that blocks until the asset is built.
const (
	// AssetJobRequestEscalation is applied by escalate and jobs-info requests.
	AssetJobRequestEscalation = 100
	// ProcessAssetRequestStatusEscalation is applied by status requests.
	ProcessAssetRequestStatusEscalation = 150
	// ProcessAssetRequestSyncEscalation is applied by compile requests.
	ProcessAssetRequestSyncEscalation = 200
)

// Escalation asks that the job with the given run key be raised to Amount.
type Escalation struct {
	RunKey uint64 `json:"run_key"`
	Amount int    `json:"amount"`
}

// EscalationFor returns the escalation a request of the given kind applies.
func EscalationFor(isStatusRequest bool) int {
	if isStatusRequest {
		return ProcessAssetRequestStatusEscalation
	}
	return ProcessAssetRequestSyncEscalation
}
