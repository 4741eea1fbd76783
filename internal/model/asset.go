package model

import "time"

// Asset は社員に貸与・支給される会社資産を表す。
type Asset struct {
	ID         string
	Name       string
	Kind       string
	Quantity   int
	Returnable bool
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AssetRequestStatus は資産申請の状態を表す。
type AssetRequestStatus string

const (
	AssetRequestPending  AssetRequestStatus = "pending"
	AssetRequestApproved AssetRequestStatus = "approved"
	AssetRequestRejected AssetRequestStatus = "rejected"
	AssetRequestReturned AssetRequestStatus = "returned"
)

// AssetRequest は社員による資産の申請を表す。
type AssetRequest struct {
	ID             string
	AssetID        string
	AssetName      string
	RequesterEmail string
	RequesterName  string
	Quantity       int
	Note           string
	Status         AssetRequestStatus
	RequestedAt    time.Time
	DecidedAt      *time.Time
	ReturnedAt     *time.Time
}
