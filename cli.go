package main

var cli struct {
	Verbose int    `short:"v" type:"counter" help:"Repeat for more output: -v periodic stream summaries, -vv debug"`
	Config  string `help:"Path to a config file, overrides the search path" type:"path"`
	Profile bool   `help:"Output a pprof profile"`
	Probe   struct {
		Interface string `help:"Only broadcast on this interface"`
	} `cmd:"" help:"Discover the Hermes boards on the network"`
	Run struct {
		Tui    bool    `help:"Show the dashboard instead of plain log output"`
		TxTone float64 `help:"Transmit a test tone at this offset in Hz (needs ptt_mode on or vox)"`
	} `cmd:"" help:"Connect to a board and start proxying"`
}
