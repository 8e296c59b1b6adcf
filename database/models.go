package database

import "time"

// AcqType is a kind of acquisition (corr, hk, weather, ...).
type AcqType struct {
	ID    int64
	Name  string
	Notes string
}

// FileType is a kind of archive file (corr, log, hk, ...).
type FileType struct {
	ID    int64
	Name  string
	Notes string
}

// ArchiveInst is an instrument that produces acquisitions.
type ArchiveInst struct {
	ID    int64
	Name  string
	Notes string
}

// ArchiveAcq is one data-taking session. Name is the canonical
// "<timestamp>_<inst>_<type>" acquisition name.
type ArchiveAcq struct {
	ID      int64
	Name    string
	InstID  int64
	TypeID  int64
	Comment string
}

// ArchiveFile is a logical file belonging to one acquisition. Size and
// checksum are unknown until a copy has been examined.
type ArchiveFile struct {
	ID         int64
	AcqID      int64
	TypeID     int64
	Name       string
	SizeBytes  *int64
	MD5Sum     string
	Registered time.Time
}

// StorageGroup is a logical collection of storage nodes.
type StorageGroup struct {
	ID           int64
	Name         string
	SmallSize    int64
	SmallGroupID *int64
	Notes        string
}

// StorageNode is a location (disk, tape, transport drive) holding copies.
type StorageNode struct {
	ID                 int64
	Name               string
	Root               string
	Host               string
	Username           string
	Address            string
	GroupID            int64
	Active             bool
	AutoImport         bool
	Suspect            bool
	StorageType        string
	MaxTotalGB         float64
	MinAvailGB         float64
	AvailGB            *float64
	AvailGBLastChecked *time.Time
	MinDeleteAgeDays   float64
	Notes              string
}

// StorageTransferAction is the policy applied when a file arrives on
// NodeFromID, relative to the group GroupToID.
type StorageTransferAction struct {
	ID         int64
	NodeFromID int64
	GroupToID  int64
	AutoSync   bool
	AutoClean  bool
}

// ArchiveFileCopy records the state of one file on one node.
type ArchiveFileCopy struct {
	ID         int64
	FileID     int64
	NodeID     int64
	HasFile    FileState
	WantsFile  WantState
	Ready      bool
	SizeBytes  *int64
	Registered time.Time
	LastUpdate time.Time
}

// ArchiveFileCopyRequest asks for FileID to be copied to NodeToID, optionally
// from NodeFromID.
type ArchiveFileCopyRequest struct {
	ID                int64
	FileID            int64
	NodeToID          int64
	NodeFromID        *int64
	Nice              int
	Completed         bool
	Cancelled         bool
	NRequests         int
	Timestamp         time.Time
	TransferStarted   *time.Time
	TransferCompleted *time.Time
	CancelledAt       *time.Time
}

// RequestState is the derived lifecycle state of a copy request.
type RequestState string

// RequestState constants
const (
	RequestPending   RequestState = "pending"
	RequestCompleted RequestState = "completed"
	RequestCancelled RequestState = "cancelled"
)

// State derives the request's state from its flags. A request that is both
// completed and cancelled reports cancelled.
func (r *ArchiveFileCopyRequest) State() RequestState {
	switch {
	case r.Cancelled:
		return RequestCancelled
	case r.Completed:
		return RequestCompleted
	default:
		return RequestPending
	}
}

// FileState is the has_file value of a copy.
type FileState string

// FileState constants
const (
	FilePresent FileState = "Y"
	FileCorrupt FileState = "X"
	FileRemoved FileState = "N"
	FileSuspect FileState = "M"
)

// Valid reports whether s is one of the four legal has_file values.
func (s FileState) Valid() bool {
	switch s {
	case FilePresent, FileCorrupt, FileRemoved, FileSuspect:
		return true
	}
	return false
}

func (s FileState) String() string {
	switch s {
	case FilePresent:
		return "present"
	case FileCorrupt:
		return "corrupt"
	case FileRemoved:
		return "removed"
	case FileSuspect:
		return "suspect"
	}
	return "invalid(" + string(s) + ")"
}

// WantState is the wants_file value of a copy.
type WantState string

// WantState constants
const (
	WantKeep    WantState = "Y"
	WantMaybe   WantState = "M"
	WantRelease WantState = "N"
)

// Valid reports whether s is one of the three legal wants_file values.
func (s WantState) Valid() bool {
	switch s {
	case WantKeep, WantMaybe, WantRelease:
		return true
	}
	return false
}

func (s WantState) String() string {
	switch s {
	case WantKeep:
		return "keep"
	case WantMaybe:
		return "maybe"
	case WantRelease:
		return "release"
	}
	return "invalid(" + string(s) + ")"
}

// StorageType constants for StorageNode.StorageType
const (
	StorageArchive   = "A"
	StorageTransport = "T"
	StorageField     = "F"
)

// ValidStorageType reports whether t is a known storage_type code.
func ValidStorageType(t string) bool {
	return t == StorageArchive || t == StorageTransport || t == StorageField
}
