package main

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jrwynneiii/hermesproxy/config"
	"github.com/jrwynneiii/hermesproxy/metis"
	"github.com/jrwynneiii/hermesproxy/monitor"
	"github.com/jrwynneiii/hermesproxy/proxy"
	"github.com/jrwynneiii/hermesproxy/rtpsink"
	"github.com/jrwynneiii/hermesproxy/stats"
	"github.com/jrwynneiii/hermesproxy/tui"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var configFile = koanf.New(".")

func getConfigPath() string {
	if cli.Config != "" {
		return cli.Config
	}
	home, _ := os.UserHomeDir()
	paths := []string{"/etc/hermesproxy/config.hcl", home + "/.config/hermesproxy/config.hcl", "./config.hcl"}
	for _, path := range paths {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			log.Infof("Found config file: %s", path)
			return path
		}
	}
	log.Info("Config file not found!")
	return ""
}

func loadConfig() {
	if err := configFile.Load(file.Provider(getConfigPath()), hcl.Parser(true)); err != nil {
		log.Errorf("Could not read config file: %v", err)
		log.Error("Attempting to use environment variables")
		configFile.Load(env.Provider(".", env.Opt{
			Prefix: "HERMESPROXY_",
			TransformFunc: func(k, v string) (string, any) {
				key := strings.ToLower(strings.TrimPrefix(k, "HERMESPROXY_"))
				k = strings.Replace(key, "_", ".", 1)
				log.Debugf("Found config env var: %s=%v", k, v)
				return k, v
			},
		}), nil)
	}
}

func main() {
	flags := kong.Parse(&cli)
	if cli.Verbose >= 2 {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("Starting hermesproxy")

	if cli.Profile {
		prof, err := os.Create("./cpu.pprof")
		if err != nil {
			log.Fatalf("Could not create profile: %v", err)
		}
		pprof.StartCPUProfile(prof)
		defer pprof.StopCPUProfile()
	}

	loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch flags.Command() {
	case "probe":
		if err := metis.LogAllBoards(ctx, cli.Probe.Interface); err != nil {
			log.Fatalf("Probe failed: %v", err)
		}
	case "run":
		if err := run(ctx, stop); err != nil {
			log.Fatalf("%v", err)
		}
	default:
		log.Info("Command not recognized")
	}
}

func run(ctx context.Context, stop context.CancelFunc) error {
	cfg, err := config.FromKoanf(configFile)
	if err != nil {
		return err
	}
	if cli.Verbose > cfg.Verbose {
		cfg.Verbose = cli.Verbose
	}
	if cfg.Verbose >= 2 {
		log.SetLevel(log.DebugLevel)
	}
	metricsConf, sinkConf, tuiConf, err := config.Sections(configFile)
	if err != nil {
		return err
	}

	var mac net.HardwareAddr
	if cfg.MACTarget != "" {
		if mac, err = config.ParseMAC(cfg.MACTarget); err != nil {
			return err
		}
	}

	log.Debug("Discovering board")
	board, err := metis.Discover(ctx, cfg.Interface, mac)
	if err != nil {
		return err
	}
	log.Infof("Using %s", board)

	link, err := metis.Dial(ctx, board)
	if err != nil {
		return err
	}
	defer link.Close()

	p, err := proxy.New(cfg, link)
	if err != nil {
		return err
	}
	defer p.Close()

	if metricsConf.Listen != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(stats.NewCollector(p, p.ID), collectors.NewGoCollector())
		mux := http.NewServeMux()
		mux.Handle(metricsConf.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsConf.Listen, Handler: mux}
		go func() {
			log.Infof("Serving metrics on %s%s", metricsConf.Listen, metricsConf.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	// one consumer drains the Rx ring: the RTP sink when configured,
	// otherwise the monitor on its own
	mon := monitor.New(1024, 128)
	if sinkConf.Destination != "" {
		sink, conn, err := rtpsink.Dial(sinkConf)
		if err != nil {
			return err
		}
		defer conn.Close()
		sink.Tap = mon.Observe
		log.Infof("Forwarding Rx blocks as RTP to %s", sinkConf.Destination)
		go sink.Run(ctx, p)
	} else {
		go mon.Run(ctx, p)
	}

	go func() {
		if err := link.Run(ctx, p); err != nil {
			log.Errorf("Receive loop: %v", err)
			stop()
		}
	}()

	if err := p.Start(); err != nil {
		return err
	}
	if cli.Run.TxTone != 0 {
		go txTone(ctx, p, cli.Run.TxTone)
	}

	if cli.Run.Tui {
		tui.StartUI(p, mon, tuiConf, stop)
	} else {
		<-ctx.Done()
	}
	log.Info("Shutting down")
	return p.Stop()
}

// txTone feeds a complex tone into the Tx ring at the board's 48 kHz rate.
func txTone(ctx context.Context, p *proxy.Proxy, offset float64) {
	const (
		rate = 48000
		tick = 5 * time.Millisecond
		amp  = 0.5
	)
	n := int(rate * tick / time.Second)
	iq := make([]complex64, n)
	var phase float64
	step := 2 * math.Pi * offset / rate

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range iq {
			iq[i] = complex64(complex(amp*math.Cos(phase), amp*math.Sin(phase)))
			phase = math.Mod(phase+step, 2*math.Pi)
		}
		if got := p.PutTxIQ(iq, n); got < n {
			log.Debugf("Tx ring full, %d of %d samples accepted", got, n)
		}
	}
}
