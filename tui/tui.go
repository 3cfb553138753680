// Package tui is a terminal dashboard for a running proxy.
package tui

import (
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gdamore/tcell/v2"
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/monitor"
	"github.com/jrwynneiii/hermesproxy/stats"
	"github.com/navidys/tvxwidgets"
	"github.com/rivo/tview"
)

// Full scale of the board's 12-bit analog inputs.
const ainFullScale = 4095

const historyLen = 120

// Source is what the dashboard polls. *proxy.Proxy satisfies it.
type Source interface {
	stats.Source
	Config() config.Proxy
}

var LogOut *tview.TextView

func newGauge(label string, warn, crit float64) *tvxwidgets.UtilModeGauge {
	g := tvxwidgets.NewUtilModeGauge()
	g.SetLabel(label)
	g.SetLabelColor(tcell.ColorLightSkyBlue)
	g.SetWarnPercentage(warn)
	g.SetCritPercentage(crit)
	g.SetEmptyColor(tcell.ColorBlack)
	g.SetBorder(false)
	return g
}

func pct(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

// push appends v to a fixed-length history.
func push(h []float64, v float64) []float64 {
	if len(h) == historyLen {
		copy(h, h[1:])
		h[len(h)-1] = v
		return h
	}
	return append(h, v)
}

// StartUI blocks until the user quits, then calls onQuit. mon may be nil.
func StartUI(src Source, mon *monitor.Monitor, tuiConf config.TuiConf, onQuit func()) {
	app := tview.NewApplication()
	cfg := src.Config()

	LogOut = tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(true).
		SetWordWrap(true)

	counterData := &CounterTableData{}
	telemetryData := &TelemetryTableData{}
	counterTable := tview.NewTable().SetContent(counterData)
	telemetryTable := tview.NewTable().SetContent(telemetryData)

	rxGauge := newGauge("Rx ring fill:         ", 75, 95)
	txGauge := newGauge("Tx ring fill:         ", 95, 100)
	revGauge := newGauge("Reverse power:        ", tuiConf.RevPwrWarnPct, tuiConf.RevPwrCritPct)
	snrGauge := newGauge("RX1 SNR:              ", 99, 100)

	gaugeBox := tview.NewFlex()
	gaugeBox.SetDirection(tview.FlexRow)
	gaugeBox.AddItem(rxGauge, 0, 1, false)
	gaugeBox.AddItem(txGauge, 0, 1, false)
	gaugeBox.AddItem(revGauge, 0, 1, false)
	if mon != nil {
		gaugeBox.AddItem(snrGauge, 0, 1, false)
	}
	gaugeBox.SetTitle("Levels")
	gaugeBox.SetBorder(true)

	revPlot := tvxwidgets.NewPlot()
	revPlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue, tcell.ColorOrange})
	revPlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	revPlot.SetBorder(true)
	revPlot.SetTitle("Reverse power / Rx ring fill (%)")

	spectrumPlot := tvxwidgets.NewPlot()
	spectrumPlot.SetLineColor([]tcell.Color{tcell.ColorLightSkyBlue})
	spectrumPlot.SetMarker(tvxwidgets.PlotMarkerBraille)
	spectrumPlot.SetBorder(true)
	spectrumPlot.SetTitle("RX1 spectrum")

	LogOut.SetChangedFunc(func() {
		LogOut.ScrollToEnd()
		app.Draw()
	})
	LogOut.SetBorder(true).SetTitle("Log Output")
	if tuiConf.EnableLogOutput {
		log.SetOutput(LogOut)
	}

	counterTable.SetSelectable(false, false).SetBorder(true).SetTitle("Stream")
	telemetryTable.SetSelectable(false, false).SetBorder(true).SetTitle("Board")

	leftCol := tview.NewFlex().SetDirection(tview.FlexRow)
	leftCol.AddItem(counterTable, 0, 3, false)
	leftCol.AddItem(telemetryTable, 0, 3, false)

	rightCol := tview.NewFlex().SetDirection(tview.FlexRow)
	rightCol.AddItem(gaugeBox, 0, 2, false)
	rightCol.AddItem(revPlot, 0, 3, false)
	if mon != nil {
		rightCol.AddItem(spectrumPlot, 0, 3, false)
	}
	if tuiConf.EnableLogOutput {
		rightCol.AddItem(LogOut, 0, 3, false)
	}

	page := tview.NewFlex().SetDirection(tview.FlexColumn)
	page.AddItem(leftCol, 0, 2, false)
	page.AddItem(rightCol, 0, 5, false)

	refresh := time.Duration(tuiConf.RefreshMs) * time.Millisecond
	if refresh <= 0 {
		refresh = 500 * time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		var revHist, rxHist []float64
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			s := src.Stats()
			t := src.Telemetry()
			rx, tx := src.RingLevels()

			counterData.set(s)
			telemetryData.set(t)

			rev := pct(int(t.AlexRevPwr), ainFullScale)
			rxFill := pct(rx, cfg.NumRxBufs)
			rxGauge.SetValue(rxFill)
			txGauge.SetValue(pct(tx, cfg.NumTxBufs))
			revGauge.SetValue(rev)

			revHist = push(revHist, rev)
			rxHist = push(rxHist, rxFill)
			revPlot.SetData([][]float64{revHist, rxHist})

			if mon != nil {
				// gauge is 0..100, SNR is clamped to 0..99 dB
				snrGauge.SetValue(mon.SNR(0))
				if power := mon.Spectrum(); power != nil {
					spectrumPlot.SetData([][]float64{power})
				}
			}

			app.Draw()
		}
	}()

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	if err := app.SetRoot(page, true).EnableMouse(true).Run(); err != nil {
		log.Errorf("Could not start UI: %v", err)
	}
	close(done)
	if tuiConf.EnableLogOutput {
		log.SetOutput(os.Stderr)
	}
	if onQuit != nil {
		onQuit()
	}
}
