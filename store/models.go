package store

import "time"

// Collection names. They match the document collections of the
// label-printing front end so data can be moved between the two.
const (
	CollectionQRCodes      = "qrCodes"
	CollectionMasterRolls  = "masterRolls"
	CollectionChildRolls   = "childRolls"
	CollectionScanEvents   = "scanEvents"
	CollectionDeletedStock = "deletedStock"
)

const (
	MasterRegistered = "registered"
	MasterSlit       = "slit"
)

const (
	ChildAvailable = "AVAILABLE"
	ChildUsed      = "USED"
)

const (
	ActionRegistration = "registration"
	ActionSlitting     = "slitting"
	ActionRollSelected = "roll_selected"
)

// QRCode is one printed label. Only BatchID changes after creation.
type QRCode struct {
	ID          string    `json:"id"`
	QRValue     string    `json:"qrValue"`
	LotNumber   string    `json:"lotNumber"`
	StockNumber string    `json:"stockNumber"`
	QRURL       string    `json:"qrUrl,omitempty"`
	BatchID     string    `json:"batchId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type MasterRoll struct {
	ID           string     `json:"id"`
	QRValue      string     `json:"qrValue"`
	StockNumber  string     `json:"stockNumber"`
	LotNumber    string     `json:"lotNumber"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	RegisteredAt time.Time  `json:"registeredAt"`
	SlitAt       *time.Time `json:"slitAt,omitempty"`
}

type ChildRoll struct {
	ID           string     `json:"id"`
	MasterRollQR string     `json:"masterRollQR"`
	Width        int        `json:"width"`
	Status       string     `json:"status"`
	JobID        string     `json:"jobId"`
	UsedJobID    string     `json:"usedJobId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UsedAt       *time.Time `json:"usedAt,omitempty"`
}

// ScanEvent is an append-only audit entry. It is never consulted for status.
type ScanEvent struct {
	ID          string    `json:"id"`
	QRValue     string    `json:"qrValue"`
	Action      string    `json:"action"`
	ChildRollID string    `json:"childRollId,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	UserAgent   string    `json:"userAgent"`
	Actor       string    `json:"actor,omitempty"`
}

// StockData is every active row belonging to one stock number.
type StockData struct {
	MasterRolls []MasterRoll `json:"masterRolls"`
	QRCodes     []QRCode     `json:"qrCodes"`
	ChildRolls  []ChildRoll  `json:"childRolls"`
}

func (d StockData) Empty() bool {
	return len(d.MasterRolls) == 0 && len(d.QRCodes) == 0 && len(d.ChildRolls) == 0
}

type DeletedStockRecord struct {
	StockNumber  string    `json:"stockNumber"`
	OriginalData StockData `json:"originalData"`
	DeletedAt    time.Time `json:"deletedAt"`
}
