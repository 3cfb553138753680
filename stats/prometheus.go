package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Source is what the collector reads on every scrape.
type Source interface {
	Stats() Snapshot
	Telemetry() TelemetrySnapshot
	RingLevels() (rx, tx int)
}

// Collector exports one proxy's counters. It reads atomics at scrape time
// so the receive path never touches prometheus.
type Collector struct {
	src Source

	counters  map[string]*prometheus.Desc
	seq       *prometheus.Desc
	overload  *prometheus.Desc
	ain       *prometheus.Desc
	ringLevel *prometheus.Desc
}

// NewCollector labels every metric with proxy_id. The scraper owns the
// instance label.
func NewCollector(src Source, proxyID string) *Collector {
	labels := prometheus.Labels{"proxy_id": proxyID}
	desc := func(name, help string, varLabels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("hermes", "", name), help, varLabels, labels)
	}
	return &Collector{
		src: src,
		counters: map[string]*prometheus.Desc{
			"lost_rx_buf":      desc("lost_rx_buffers_total", "Rx blocks overwritten before they were read."),
			"total_rx_buf":     desc("rx_buffers_total", "Rx blocks completed."),
			"lost_tx_buf":      desc("lost_tx_buffers_total", "Tx submissions rejected by a full ring."),
			"total_tx_buf":     desc("tx_buffers_total", "Tx buffers sent to the board."),
			"corrupt_rx":       desc("corrupt_rx_frames_total", "Inbound frames discarded as malformed."),
			"lost_ethernet_rx": desc("lost_ethernet_rx_frames_total", "Inbound frames missing from the sequence."),
			"rx_frames":        desc("rx_frames_total", "Inbound frames accepted."),
			"tx_frames":        desc("tx_frames_total", "Outbound frames sent."),
			"idle_frames":      desc("idle_frames_total", "Control-only frames sent."),
		},
		seq:       desc("current_sequence_number", "Last inbound Metis sequence number."),
		overload:  desc("adc_overload", "1 while the board reports ADC overload."),
		ain:       desc("analog_input", "Latest analog input reading.", "input"),
		ringLevel: desc("ring_fill", "Unread blocks in a ring.", "ring"),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	ch <- c.seq
	ch <- c.overload
	ch <- c.ain
	ch <- c.ringLevel
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	values := map[string]uint64{
		"lost_rx_buf":      s.LostRxBuf,
		"total_rx_buf":     s.TotalRxBuf,
		"lost_tx_buf":      s.LostTxBuf,
		"total_tx_buf":     s.TotalTxBuf,
		"corrupt_rx":       s.CorruptRx,
		"lost_ethernet_rx": s.LostEthernetRx,
		"rx_frames":        s.TotalRxFrames,
		"tx_frames":        s.TotalTxFrames,
		"idle_frames":      s.IdleFrames,
	}
	for key, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(values[key]))
	}
	ch <- prometheus.MustNewConstMetric(c.seq, prometheus.GaugeValue, float64(s.CurrentSeqNum))

	t := c.src.Telemetry()
	overload := 0.0
	if t.ADCOverload {
		overload = 1
	}
	ch <- prometheus.MustNewConstMetric(c.overload, prometheus.GaugeValue, overload)
	for i, v := range t.AIN {
		ch <- prometheus.MustNewConstMetric(c.ain, prometheus.GaugeValue, float64(v), ainNames[i])
	}

	rx, tx := c.src.RingLevels()
	ch <- prometheus.MustNewConstMetric(c.ringLevel, prometheus.GaugeValue, float64(rx), "rx")
	ch <- prometheus.MustNewConstMetric(c.ringLevel, prometheus.GaugeValue, float64(tx), "tx")
}

var ainNames = [6]string{"ain1", "ain2", "ain3", "ain4", "ain5", "ain6"}
