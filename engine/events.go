package engine

const (
	EventLabelCreated EventType = iota + 1
	EventMasterRegistered
	EventMasterSlit
	EventChildConsumed
	EventStockDeleted
	EventStockRestored
	EventStockPurged
	EventInconsistentState
)

var eventNames = map[EventType]string{
	EventLabelCreated:      "label_created",
	EventMasterRegistered:  "master_registered",
	EventMasterSlit:        "master_slit",
	EventChildConsumed:     "child_consumed",
	EventStockDeleted:      "stock_deleted",
	EventStockRestored:     "stock_restored",
	EventStockPurged:       "stock_purged",
	EventInconsistentState: "inconsistent_state",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type LabelCreatedEvent struct {
	QRValue     string `json:"qrValue"`
	LotNumber   string `json:"lotNumber"`
	StockNumber string `json:"stockNumber"`
	BatchID     string `json:"batchId"`
}

type MasterRegisteredEvent struct {
	QRValue     string `json:"qrValue"`
	LotNumber   string `json:"lotNumber"`
	StockNumber string `json:"stockNumber"`
	Actor       string `json:"actor,omitempty"`
}

type MasterSlitEvent struct {
	QRValue      string   `json:"qrValue"`
	JobID        string   `json:"jobId"`
	Widths       []int    `json:"widths"`
	ChildRollIDs []string `json:"childRollIds"`
	Recovered    bool     `json:"recovered,omitempty"`
	Actor        string   `json:"actor,omitempty"`
}

type ChildConsumedEvent struct {
	ChildRollID  string `json:"childRollId"`
	MasterRollQR string `json:"masterRollQR"`
	Width        int    `json:"width"`
	JobID        string `json:"jobId"`
	Actor        string `json:"actor,omitempty"`
}

type StockEvent struct {
	StockNumber string `json:"stockNumber"`
	MasterRolls int    `json:"masterRolls"`
	QRCodes     int    `json:"qrCodes"`
	ChildRolls  int    `json:"childRolls"`
	Actor       string `json:"actor,omitempty"`
}

type InconsistentStateEvent struct {
	Op      string `json:"op"`
	QRValue string `json:"qrValue"`
	Step    string `json:"step"`
	Detail  string `json:"detail"`
}
