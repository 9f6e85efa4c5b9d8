package types

import "time"

// Project is a PostgreSQL "instance group": a shared container image,
// shared credentials, a shared SSL certificate directory, and an ordered
// collection of branches rooted at exactly one primary branch.
type Project struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	DockerImage   string      `json:"dockerImage"`
	SSLCertDir    string      `json:"sslCertDir"`
	CreatedAt     time.Time   `json:"createdAt"`
	Credentials   Credentials `json:"credentials"`
	Branches      []*Branch   `json:"branches"`
}

// Credentials are the PostgreSQL login credentials shared by every branch
// of a project. Persisted in cleartext in the local state store — secrets
// encryption is out of scope.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Database string `json:"database"`
}

// BranchStatus is the lifecycle state of a branch's container.
type BranchStatus string

const (
	BranchStatusRunning BranchStatus = "running"
	BranchStatusStopped BranchStatus = "stopped"
)

// Branch is an independent PostgreSQL instance cloned from a parent
// branch's filesystem snapshot, sharing unchanged blocks via copy-on-write.
type Branch struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"` // "<project>/<branch>"
	ProjectName    string       `json:"projectName"`
	ParentBranchID string       `json:"parentBranchId,omitempty"`
	IsPrimary      bool         `json:"isPrimary"`
	SnapshotName   string       `json:"snapshotName,omitempty"` // fully-qualified zfs snapshot it was cloned from
	ZFSDataset     string       `json:"zfsDataset"`              // "<project>-<branch>"
	Port           int          `json:"port"`
	CreatedAt      time.Time    `json:"createdAt"`
	SizeBytes      int64        `json:"sizeBytes"`
	Status         BranchStatus `json:"status"`
}

// Snapshot is a named, durable capture of a branch at a point in time.
type Snapshot struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branchId"`
	BranchName  string    `json:"branchName"`
	ProjectName string    `json:"projectName"`
	ZFSSnapshot string    `json:"zfsSnapshot"` // fully-qualified: pool/base/ds@stamp[-label]
	CreatedAt   time.Time `json:"createdAt"`
	Label       string    `json:"label,omitempty"`
	SizeBytes   int64     `json:"sizeBytes"`
}

// State is the single persisted JSON document holding all cluster-local
// state: pool/base configuration plus every project, branch, and snapshot.
type State struct {
	Version         string      `json:"version"`
	InitializedAt   time.Time   `json:"initializedAt"`
	ZFSPool         string      `json:"zfsPool"`
	ZFSDatasetBase  string      `json:"zfsDatasetBase"`
	Projects        []*Project  `json:"projects"`
	Snapshots       []*Snapshot `json:"snapshots"`
}

// ContainerNamePrefix is the fixed product prefix used for every PostgreSQL
// container and for recognizing orphans in pkg/orphan.
const ContainerNamePrefix = "pgbranch"

// ContainerName returns the "<prefix>-<project>-<branch>" container name
// for a branch.
func ContainerName(projectName, branchName string) string {
	return ContainerNamePrefix + "-" + projectName + "-" + branchName
}

// DatasetName returns the "<project>-<branch>" dataset name for a branch.
func DatasetName(projectName, branchName string) string {
	return projectName + "-" + branchName
}

// ParseBranchName splits a "<project>/<branch>" namespaced name. Returns
// ok=false if name does not contain exactly one "/".
func ParseBranchName(name string) (project, branch string, ok bool) {
	idx := -1
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			if idx != -1 {
				return "", "", false
			}
			idx = i
		}
	}
	if idx <= 0 || idx == len(name)-1 {
		return "", "", false
	}
	return name[:idx], name[idx+1:], true
}
