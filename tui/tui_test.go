package tui

import (
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/hermesproxy/stats"
)

func TestPushKeepsWindow(t *testing.T) {
	var h []float64
	for i := 0; i < historyLen+5; i++ {
		h = push(h, float64(i))
	}
	if len(h) != historyLen || h[0] != 5 || h[len(h)-1] != float64(historyLen+4) {
		t.Errorf("len %d first %v last %v", len(h), h[0], h[len(h)-1])
	}
}

func TestPct(t *testing.T) {
	if got := pct(32, 128); got != 25 {
		t.Errorf("got %v", got)
	}
	if got := pct(1, 0); got != 0 {
		t.Errorf("zero capacity: %v", got)
	}
}

func TestCounterCells(t *testing.T) {
	d := &CounterTableData{}
	d.set(stats.Snapshot{CorruptRx: 3, TotalRxFrames: 10})
	for row, r := range counterRows {
		if !strings.Contains(d.GetCell(row, 0).Text, r.name) {
			t.Errorf("row %d label %q", row, d.GetCell(row, 0).Text)
		}
		if r.name == "Corrupt frames" {
			c := d.GetCell(row, 1)
			if c.Text != "3" || c.Color != tcell.ColorRed {
				t.Errorf("corrupt cell %q color %v", c.Text, c.Color)
			}
		}
	}
	if d.GetCell(len(counterRows), 0) != nil {
		t.Error("cell past the last row")
	}
}

func TestTelemetryCells(t *testing.T) {
	d := &TelemetryTableData{}
	s := stats.TelemetrySnapshot{HermesVersion: 31, ADCOverload: true}
	s.AIN[5] = 1234
	d.set(s)
	if got := d.GetCell(0, 1).Text; got != "3.1" {
		t.Errorf("firmware %q", got)
	}
	if d.GetCell(1, 1).Color != tcell.ColorRed {
		t.Error("overload not highlighted")
	}
	if got := d.GetCell(d.GetRowCount()-1, 1).Text; got != "1234" {
		t.Errorf("AIN6 %q", got)
	}
}
