package report

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"rolltrack/engine"
	"rolltrack/store"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func fixture() ([]store.QRCode, []store.MasterRoll, []store.ChildRoll) {
	qrs := []store.QRCode{
		{QRValue: "A1-S1", LotNumber: "A1", StockNumber: "S1"},
		{QRValue: "A2-S1", LotNumber: "A2", StockNumber: " S1 "},
		{QRValue: "A3-S1", LotNumber: "A3", StockNumber: "S1"},
		{QRValue: "B1-S2", LotNumber: "B1", StockNumber: "S2"},
	}
	masters := []store.MasterRoll{
		{QRValue: "A1-S1", LotNumber: "A1", StockNumber: "S1", Status: store.MasterSlit},
		{QRValue: "A2-S1", LotNumber: "A2", StockNumber: "S1", Status: store.MasterRegistered},
		// registered with no label left behind
		{QRValue: "C1-S3", LotNumber: "C1", StockNumber: "S3", Status: store.MasterRegistered},
	}
	children := []store.ChildRoll{
		{ID: "100-10", MasterRollQR: "A1-S1", Width: 241, Status: store.ChildAvailable, JobID: "J1", CreatedAt: at(1)},
		{ID: "100-2", MasterRollQR: "A1-S1", Width: 225, Status: store.ChildUsed, JobID: "J1", CreatedAt: at(1)},
		{ID: "200-0", MasterRollQR: "A1-S1", Width: 225, Status: store.ChildAvailable, JobID: "", CreatedAt: at(5)},
		{ID: "300-0", MasterRollQR: "A1-S1", Width: 325, Status: store.ChildAvailable, JobID: "J1", CreatedAt: at(9)},
		{ID: "400-0", MasterRollQR: "B1-S2", Width: 100, Status: store.ChildAvailable, JobID: "J7", CreatedAt: at(2)},
	}
	return qrs, masters, children
}

func TestGroupByStock(t *testing.T) {
	qrs, masters, _ := fixture()
	got := GroupByStock(qrs, masters)
	want := []StockSummary{
		{StockNumber: "S1", Registered: 2, Slit: 1, Pending: 1, Total: 3},
		{StockNumber: "S2", Pending: 1, Total: 1},
		{StockNumber: "S3", Registered: 1, Total: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupByStock =\n%+v\nwant\n%+v", got, want)
	}
}

func TestGroupByLot(t *testing.T) {
	qrs, masters, children := fixture()
	got := GroupByLot(" S1", qrs, masters, children)
	want := []LotRow{
		{LotNumber: "A1", QRValue: "A1-S1", Status: LotSlit, Registered: true, Available: 3, Used: 1, Total: 4, Label: "SLIT"},
		{LotNumber: "A2", QRValue: "A2-S1", Status: LotRegistered, Registered: true, Label: "REGISTERED"},
		{LotNumber: "A3", QRValue: "A3-S1", Status: LotUnregistered, Label: "NOT REGISTERED"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupByLot =\n%+v\nwant\n%+v", got, want)
	}
	if rows := GroupByLot("S9", qrs, masters, children); len(rows) != 0 {
		t.Fatalf("unknown stock rows = %+v", rows)
	}
}

func TestGroupByJob(t *testing.T) {
	_, _, children := fixture()
	jobs := GroupByJob("A1-S1", children)
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	j1, j2 := jobs[0], jobs[1]
	if j1.Number != "JOB-1" || j1.JobID != "J1" || j1.Available != 2 || j1.Used != 1 {
		t.Fatalf("job 1 = %+v", j1)
	}
	var ids []string
	var nums []int
	for _, r := range j1.Rolls {
		ids = append(ids, r.ID)
		nums = append(nums, r.Number)
	}
	if !reflect.DeepEqual(ids, []string{"100-2", "100-10", "300-0"}) || !reflect.DeepEqual(nums, []int{1, 2, 4}) {
		t.Fatalf("job 1 rolls = %v numbers = %v", ids, nums)
	}
	if j2.Number != "JOB-2" || j2.JobID != "unknown" || len(j2.Rolls) != 1 || j2.Rolls[0].Number != 3 {
		t.Fatalf("job 2 = %+v", j2)
	}
}

func TestGroupByWidth(t *testing.T) {
	_, _, children := fixture()
	got := GroupByWidth("A1-S1", children)
	want := []WidthRow{
		{Width: 225, Available: 1, Used: 1, Total: 2},
		{Width: 241, Available: 1, Total: 1},
		{Width: 325, Available: 1, Total: 1},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("GroupByWidth = %+v", got)
	}
}

func TestRollNumbers(t *testing.T) {
	_, _, children := fixture()
	got := RollNumbers(children)
	want := map[string]int{"100-2": 1, "100-10": 2, "400-0": 3, "200-0": 4, "300-0": 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("RollNumbers = %v", got)
	}
	if children[0].ID != "100-10" {
		t.Fatal("RollNumbers must not reorder its input")
	}
}

func TestWriteXLSX(t *testing.T) {
	qrs, masters, children := fixture()
	snap := &engine.Snapshot{
		StorageType: "memory",
		QRCodes:     qrs,
		MasterRolls: masters,
		ChildRolls:  children,
		ScanEvents: []store.ScanEvent{
			{QRValue: "A1-S1", Action: store.ActionSlitting, JobID: "J1", Timestamp: at(1)},
		},
	}
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, snap); err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if got := f.GetSheetList(); !reflect.DeepEqual(got, []string{SheetStocks, SheetChildRolls, SheetScanEvents}) {
		t.Fatalf("sheets = %v", got)
	}
	stocks, err := f.GetRows(SheetStocks)
	if err != nil {
		t.Fatal(err)
	}
	if len(stocks) != 4 || stocks[1][0] != "S1" || stocks[1][1] != "3" {
		t.Fatalf("stocks sheet = %v", stocks)
	}
	rolls, _ := f.GetRows(SheetChildRolls)
	if len(rolls) != len(children)+1 {
		t.Fatalf("child roll rows = %d", len(rolls))
	}
	events, _ := f.GetRows(SheetScanEvents)
	if len(events) != 2 || events[1][2] != store.ActionSlitting {
		t.Fatalf("events sheet = %v", events)
	}
}
