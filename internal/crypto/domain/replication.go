package domain

// Replication states reported by the secret store, matching the values AWS
// Secrets Manager uses for replica status.
const (
	ReplicationInSync     = "InSync"
	ReplicationInProgress = "InProgress"
	ReplicationFailed     = "Failed"
)

// RegionStatus describes the replication state of one key version in one
// region. The rotation service inspects these before declaring a rotation
// complete.
type RegionStatus struct {
	Region  string `json:"region"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// InSync reports whether the replica has caught up with the primary.
func (s RegionStatus) InSync() bool {
	return s.Status == ReplicationInSync
}
