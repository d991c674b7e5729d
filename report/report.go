// Package report builds the read-only inventory views shown to operators.
// Every function works on records already loaded by the caller and never
// touches storage.
package report

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"rolltrack/store"
)

const (
	LotUnregistered = "unregistered"
	LotRegistered   = "registered"
	LotSlit         = "slit"
)

type StockSummary struct {
	StockNumber string `json:"stockNumber"`
	Registered  int    `json:"registered"`
	Slit        int    `json:"slit"`
	Pending     int    `json:"pending"`
	Total       int    `json:"total"`
}

// item is one lot seen either as a master roll or as a bare label.
type item struct {
	qrValue    string
	stock      string
	lot        string
	status     string
	registered bool
}

// merge keys rows by qrValue. A master roll wins over the label it was
// registered from.
func merge(qrs []store.QRCode, masters []store.MasterRoll) []item {
	byQR := make(map[string]item, len(qrs)+len(masters))
	for _, m := range masters {
		byQR[m.QRValue] = item{
			qrValue:    m.QRValue,
			stock:      strings.TrimSpace(m.StockNumber),
			lot:        strings.TrimSpace(m.LotNumber),
			status:     m.Status,
			registered: true,
		}
	}
	for _, q := range qrs {
		if _, ok := byQR[q.QRValue]; ok {
			continue
		}
		byQR[q.QRValue] = item{
			qrValue: q.QRValue,
			stock:   strings.TrimSpace(q.StockNumber),
			lot:     strings.TrimSpace(q.LotNumber),
			status:  LotUnregistered,
		}
	}
	out := make([]item, 0, len(byQR))
	for _, it := range byQR {
		if it.stock == "" {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].qrValue < out[j].qrValue })
	return out
}

// GroupByStock counts lots per trimmed stock number, sorted by stock.
func GroupByStock(qrs []store.QRCode, masters []store.MasterRoll) []StockSummary {
	idx := map[string]*StockSummary{}
	for _, it := range merge(qrs, masters) {
		s, ok := idx[it.stock]
		if !ok {
			s = &StockSummary{StockNumber: it.stock}
			idx[it.stock] = s
		}
		s.Total++
		switch {
		case !it.registered:
			s.Pending++
		case it.status == store.MasterSlit:
			s.Registered++
			s.Slit++
		default:
			s.Registered++
		}
	}
	out := make([]StockSummary, 0, len(idx))
	for _, s := range idx {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockNumber < out[j].StockNumber })
	return out
}

type LotRow struct {
	LotNumber  string `json:"lotNumber"`
	QRValue    string `json:"qrValue"`
	Status     string `json:"status"`
	Registered bool   `json:"registered"`
	Available  int    `json:"available"`
	Used       int    `json:"used"`
	Total      int    `json:"total"`
	Label      string `json:"label"`
}

// GroupByLot lists the lots of one stock number with their child roll
// counts. A registered roll that already has child rolls is reported as
// slit even if the mark never landed.
func GroupByLot(stock string, qrs []store.QRCode, masters []store.MasterRoll, children []store.ChildRoll) []LotRow {
	stock = strings.TrimSpace(stock)
	byMaster := map[string][]store.ChildRoll{}
	for _, c := range children {
		byMaster[c.MasterRollQR] = append(byMaster[c.MasterRollQR], c)
	}

	var out []LotRow
	for _, it := range merge(qrs, masters) {
		if it.stock != stock {
			continue
		}
		row := LotRow{LotNumber: it.lot, QRValue: it.qrValue, Status: it.status, Registered: it.registered}
		if it.registered {
			for _, c := range byMaster[it.qrValue] {
				row.Total++
				if c.Status == store.ChildAvailable {
					row.Available++
				} else {
					row.Used++
				}
			}
			if row.Total > 0 {
				row.Status = LotSlit
			}
		}
		row.Label = lotLabel(row.Status)
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LotNumber < out[j].LotNumber })
	return out
}

func lotLabel(status string) string {
	switch status {
	case LotUnregistered:
		return "NOT REGISTERED"
	case LotSlit:
		return "SLIT"
	default:
		return "REGISTERED"
	}
}

type NumberedRoll struct {
	Number int `json:"number"`
	store.ChildRoll
}

type Job struct {
	Number    string         `json:"jobNumber"`
	JobID     string         `json:"jobId"`
	CreatedAt time.Time      `json:"createdAt"`
	Rolls     []NumberedRoll `json:"rolls"`
	Available int            `json:"available"`
	Used      int            `json:"used"`
}

// GroupByJob groups the child rolls of one master by slitting job in
// creation order and labels them JOB-1, JOB-2 and so on.
func GroupByJob(masterQR string, children []store.ChildRoll) []Job {
	rolls := forMaster(masterQR, children)
	numbers := RollNumbers(rolls)

	var jobs []Job
	idx := map[string]int{}
	for _, c := range rolls {
		jobID := c.JobID
		if jobID == "" {
			jobID = "unknown"
		}
		i, ok := idx[jobID]
		if !ok {
			i = len(jobs)
			idx[jobID] = i
			jobs = append(jobs, Job{
				Number:    "JOB-" + strconv.Itoa(i+1),
				JobID:     jobID,
				CreatedAt: c.CreatedAt,
			})
		}
		j := &jobs[i]
		j.Rolls = append(j.Rolls, NumberedRoll{Number: numbers[c.ID], ChildRoll: c})
		if c.Status == store.ChildAvailable {
			j.Available++
		} else {
			j.Used++
		}
	}
	return jobs
}

type WidthRow struct {
	Width     int `json:"width"`
	Available int `json:"available"`
	Used      int `json:"used"`
	Total     int `json:"total"`
}

func GroupByWidth(masterQR string, children []store.ChildRoll) []WidthRow {
	idx := map[int]*WidthRow{}
	for _, c := range forMaster(masterQR, children) {
		w, ok := idx[c.Width]
		if !ok {
			w = &WidthRow{Width: c.Width}
			idx[c.Width] = w
		}
		w.Total++
		if c.Status == store.ChildAvailable {
			w.Available++
		} else {
			w.Used++
		}
	}
	out := make([]WidthRow, 0, len(idx))
	for _, w := range idx {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Width < out[j].Width })
	return out
}

// RollNumbers assigns 1-based display numbers ordered by creation time,
// then ID.
func RollNumbers(children []store.ChildRoll) map[string]int {
	sorted := append([]store.ChildRoll(nil), children...)
	store.SortChildRolls(sorted)
	out := make(map[string]int, len(sorted))
	for i, c := range sorted {
		out[c.ID] = i + 1
	}
	return out
}

func forMaster(masterQR string, children []store.ChildRoll) []store.ChildRoll {
	var out []store.ChildRoll
	for _, c := range children {
		if c.MasterRollQR == masterQR {
			out = append(out, c)
		}
	}
	store.SortChildRolls(out)
	return out
}
