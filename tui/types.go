package tui

import (
	"fmt"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/hermesproxy/stats"
	"github.com/rivo/tview"
)

// CounterTableData shows the loss and traffic counters.
type CounterTableData struct {
	tview.TableContentReadOnly
	mu   sync.Mutex
	snap stats.Snapshot
}

// TelemetryTableData shows the latest board status.
type TelemetryTableData struct {
	tview.TableContentReadOnly
	mu   sync.Mutex
	snap stats.TelemetrySnapshot
}

type counterRow struct {
	name  string
	value func(s stats.Snapshot) uint64
	bad   bool // non-zero is highlighted
}

var counterRows = []counterRow{
	{"Rx frames", func(s stats.Snapshot) uint64 { return s.TotalRxFrames }, false},
	{"Tx frames", func(s stats.Snapshot) uint64 { return s.TotalTxFrames }, false},
	{"Control-only frames", func(s stats.Snapshot) uint64 { return s.IdleFrames }, false},
	{"Rx blocks", func(s stats.Snapshot) uint64 { return s.TotalRxBuf }, false},
	{"Tx buffers", func(s stats.Snapshot) uint64 { return s.TotalTxBuf }, false},
	{"Lost ethernet frames", func(s stats.Snapshot) uint64 { return s.LostEthernetRx }, true},
	{"Corrupt frames", func(s stats.Snapshot) uint64 { return s.CorruptRx }, true},
	{"Lost Rx blocks", func(s stats.Snapshot) uint64 { return s.LostRxBuf }, true},
	{"Lost Tx submissions", func(s stats.Snapshot) uint64 { return s.LostTxBuf }, true},
	{"Sequence number", func(s stats.Snapshot) uint64 { return uint64(s.CurrentSeqNum) }, false},
}

func (c *CounterTableData) set(s stats.Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

func (c *CounterTableData) GetRowCount() int { return len(counterRows) }

func (c *CounterTableData) GetColumnCount() int { return 2 }

func (c *CounterTableData) GetCell(row, column int) *tview.TableCell {
	if row < 0 || row >= len(counterRows) {
		return nil
	}
	r := counterRows[row]
	if column == 0 {
		return tview.NewTableCell(fmt.Sprintf("[lightskyblue]%s:", r.name))
	}
	c.mu.Lock()
	v := r.value(c.snap)
	c.mu.Unlock()
	color := tcell.ColorWhite
	if r.bad {
		color = tcell.ColorGreen
		if v > 0 {
			color = tcell.ColorRed
		}
	}
	return tview.NewTableCell(fmt.Sprintf("%d", v)).SetTextColor(color)
}

func (t *TelemetryTableData) set(s stats.TelemetrySnapshot) {
	t.mu.Lock()
	t.snap = s
	t.mu.Unlock()
}

func (t *TelemetryTableData) GetRowCount() int { return 4 + len(t.snap.AIN) }

func (t *TelemetryTableData) GetColumnCount() int { return 2 }

func (t *TelemetryTableData) GetCell(row, column int) *tview.TableCell {
	t.mu.Lock()
	s := t.snap
	t.mu.Unlock()

	label := func(text string) *tview.TableCell {
		return tview.NewTableCell("[lightskyblue]" + text)
	}
	flag := func(on bool, onColor tcell.Color) *tview.TableCell {
		color := tcell.ColorGreen
		if on {
			color = onColor
		}
		return tview.NewTableCell(fmt.Sprintf("%v", on)).SetTextColor(color)
	}

	switch row {
	case 0:
		if column == 0 {
			return label("Firmware:")
		}
		return tview.NewTableCell(fmt.Sprintf("%d.%d", s.HermesVersion/10, s.HermesVersion%10))
	case 1:
		if column == 0 {
			return label("ADC overload:")
		}
		return flag(s.ADCOverload, tcell.ColorRed)
	case 2:
		if column == 0 {
			return label("PTT:")
		}
		return flag(s.PTT, tcell.ColorYellow)
	case 3:
		if column == 0 {
			return label("Dot / Dash:")
		}
		return tview.NewTableCell(fmt.Sprintf("%v / %v", s.Dot, s.Dash))
	}
	i := row - 4
	if i < 0 || i >= len(s.AIN) {
		return nil
	}
	if column == 0 {
		return label(fmt.Sprintf("AIN%d:", i+1))
	}
	return tview.NewTableCell(fmt.Sprintf("%d", s.AIN[i]))
}
