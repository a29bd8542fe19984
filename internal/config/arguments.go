package config

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/tkjaer/pathq/internal/control"
	"github.com/tkjaer/pathq/internal/packet"
	"github.com/tkjaer/pathq/internal/shared"
)

const (
	DefaultPort   = 4981
	maxSequenceID = 0xFFFF
)

// LogArgs are the logging options shared by both binaries.
type LogArgs struct {
	Log       string // log file path, empty means stderr only
	LogLevel  string // log level: debug, info, warn, error
	LogFormat string // auto, text or json
}

type ClientArgs struct {
	StartMessage string
	EndMessage   string
	Packets      int
	ServerIP     string
	ServerPort   uint16
	Size         int
	Delay        int // milliseconds between packets
	EchoTimeout  time.Duration
	TOS          int
	Transport    string

	Config      string
	ShowVersion bool
	LogArgs
}

type ServerArgs struct {
	Port        uint16
	Expect      int
	Drain       time.Duration
	ReportFile  string
	JSONFile    string
	NATSURL     string
	NATSSubject string
	HTTPListen  string
	NoResolve   bool
	Transport   string

	Config      string
	ShowVersion bool
	LogArgs
}

func addLogFlags(fs *flag.FlagSet, l *LogArgs, level string) {
	fs.StringVarP(&l.Log, "log", "l", "", "Also write diagnostic logs to this file")
	fs.StringVar(&l.LogLevel, "log-level", level, "Log level: debug, info, warn, error")
	fs.StringVar(&l.LogFormat, "log-format", "auto", "Log format: auto, text or json (auto = text on a terminal)")
}

// ParseClientArgs parses the client command line. argv excludes the program name.
func ParseClientArgs(argv []string) (ClientArgs, error) {
	var args ClientArgs
	fs := flag.NewFlagSet("pathq-client", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "pathq-client - UDP path quality probe client")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Sends a numbered stream of UDP packets to a pathq-server, which reports")
		fmt.Fprintln(os.Stderr, "how many arrived, how many were lost and how many arrived out of order.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  pathq-client --server-ip ADDRESS [OPTIONS]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  pathq-client -s 192.0.2.10                  # 100 packets, 50ms apart")
		fmt.Fprintln(os.Stderr, "  pathq-client -s 192.0.2.10 -n 1000 -d 0     # 1000 packets, no pacing")
		fmt.Fprintln(os.Stderr, "  pathq-client -s 192.0.2.10 --transport kcp  # control channel over KCP")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}

	fs.BoolVarP(&args.ShowVersion, "version", "v", false, "Show version information")
	fs.StringVarP(&args.Config, "config", "c", "", "YAML config file (client section)")
	fs.StringVarP(&args.StartMessage, "start", "m", "START", "Message that starts a run on the server")
	fs.StringVar(&args.EndMessage, "end", "END", "Message that ends a run on the server")
	fs.IntVarP(&args.Packets, "packets", "n", 100, "Number of probe packets to send")
	fs.StringVarP(&args.ServerIP, "server-ip", "s", "", "Server address (required)")
	fs.Uint16VarP(&args.ServerPort, "server-port", "p", DefaultPort, "Server probe port")
	fs.IntVar(&args.Size, "size", 100, "Probe payload size in bytes")
	fs.IntVarP(&args.Delay, "delay", "d", 50, "Delay between packets in milliseconds")
	fs.DurationVar(&args.EchoTimeout, "echo-timeout", 200*time.Millisecond, "How long to wait for a probe echo (0 disables echoes)")
	fs.IntVar(&args.TOS, "tos", 0, "IP TOS / traffic class for probe packets")
	fs.StringVar(&args.Transport, "transport", control.TransportTCP, "Control channel transport: tcp or kcp")
	addLogFlags(fs, &args.LogArgs, "warn")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}
	if args.ShowVersion {
		return args, nil
	}
	if err := applyOverrides(fs, args.Config, "client"); err != nil {
		return args, err
	}
	if fs.NArg() > 0 {
		return args, fmt.Errorf("%w: unexpected argument %q", shared.ErrConfig, fs.Arg(0))
	}
	return args, args.validate()
}

func (a ClientArgs) validate() error {
	switch {
	case a.ServerIP == "":
		return invalid("server-ip is required")
	case a.Packets < 1 || a.Packets > maxSequenceID:
		return invalid("packets must be between 1 and %d", maxSequenceID)
	case a.Size < 0 || a.Size > packet.MaxProbePayload:
		return invalid("size must be between 0 and %d", packet.MaxProbePayload)
	case a.Delay < 0:
		return invalid("delay must not be negative")
	case a.EchoTimeout < 0:
		return invalid("echo-timeout must not be negative")
	case a.TOS < 0 || a.TOS > 255:
		return invalid("tos must be between 0 and 255")
	case !control.ValidTransport(a.Transport):
		return invalid("transport must be either 'tcp' or 'kcp'")
	case a.Transport == control.TransportKCP && a.ServerPort == 0xFFFF:
		return invalid("server-port must be below 65535 with the kcp transport")
	case len(a.StartMessage) > control.MaxMessageLen || len(a.EndMessage) > control.MaxMessageLen:
		return invalid("start and end messages must be at most %d bytes", control.MaxMessageLen)
	}
	return a.LogArgs.validate()
}

// RunConfig converts the arguments into the settings for one run.
func (a ClientArgs) RunConfig() shared.RunConfig {
	return shared.RunConfig{
		StartMessage:     a.StartMessage,
		EndMessage:       a.EndMessage,
		PacketCount:      a.Packets,
		ServerAddress:    a.ServerIP,
		ServerPort:       a.ServerPort,
		PayloadSize:      a.Size,
		InterPacketDelay: time.Duration(a.Delay) * time.Millisecond,
		EchoTimeout:      a.EchoTimeout,
		TOS:              a.TOS,
		Transport:        a.Transport,
	}
}

// ParseServerArgs parses the server command line. argv excludes the program name.
func ParseServerArgs(argv []string) (ServerArgs, error) {
	var args ServerArgs
	fs := flag.NewFlagSet("pathq-server", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "pathq-server - UDP path quality probe server")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Waits for pathq-client runs, echoes their probes and appends a report")
		fmt.Fprintln(os.Stderr, "of received, lost and out of order packets for every run.")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  pathq-server [OPTIONS]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  pathq-server                                # listen on 4981, report to output.txt")
		fmt.Fprintln(os.Stderr, "  pathq-server --http-listen :9481            # also serve /metrics and /runs/latest")
		fmt.Fprintln(os.Stderr, "  pathq-server --nats-url nats://127.0.0.1:4222")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
	}

	fs.BoolVarP(&args.ShowVersion, "version", "v", false, "Show version information")
	fs.StringVarP(&args.Config, "config", "c", "", "YAML config file (server section)")
	fs.Uint16VarP(&args.Port, "port", "p", DefaultPort, "UDP probe port (the TCP control port is the same, KCP uses port+1)")
	fs.IntVarP(&args.Expect, "expect", "n", 100, "Number of packets expected per run")
	fs.DurationVar(&args.Drain, "drain", 500*time.Millisecond, "How long to keep reading probes after the client ends a run")
	fs.StringVarP(&args.ReportFile, "report", "o", "output.txt", "Report file, appended to after every run")
	fs.StringVarP(&args.JSONFile, "json-file", "j", "", "Also append JSON reports to this file")
	fs.StringVar(&args.NATSURL, "nats-url", "", "Also publish JSON reports to this NATS server")
	fs.StringVar(&args.NATSSubject, "nats-subject", "pathq.reports", "NATS subject for published reports")
	fs.StringVar(&args.HTTPListen, "http-listen", "", "Serve /metrics, /runs/latest and /healthz on this address")
	fs.BoolVar(&args.NoResolve, "no-resolve", false, "Do not resolve client addresses to hostnames")
	fs.StringVar(&args.Transport, "transport", control.TransportTCP, "Control channel transport: tcp or kcp")
	addLogFlags(fs, &args.LogArgs, "info")

	if err := fs.Parse(argv); err != nil {
		return args, err
	}
	if args.ShowVersion {
		return args, nil
	}
	if err := applyOverrides(fs, args.Config, "server"); err != nil {
		return args, err
	}
	if fs.NArg() > 0 {
		return args, fmt.Errorf("%w: unexpected argument %q", shared.ErrConfig, fs.Arg(0))
	}
	return args, args.validate()
}

func (a ServerArgs) validate() error {
	switch {
	case a.Expect < 1 || a.Expect > maxSequenceID:
		return invalid("expect must be between 1 and %d", maxSequenceID)
	case a.Drain < 0:
		return invalid("drain must not be negative")
	case a.ReportFile == "":
		return invalid("report file is required")
	case !control.ValidTransport(a.Transport):
		return invalid("transport must be either 'tcp' or 'kcp'")
	case a.Transport == control.TransportKCP && a.Port == 0xFFFF:
		return invalid("port must be below 65535 with the kcp transport")
	case a.NATSURL != "" && a.NATSSubject == "":
		return invalid("nats-subject is required with --nats-url")
	}
	return a.LogArgs.validate()
}

func (l LogArgs) validate() error {
	switch l.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log level must be one of debug, info, warn, error")
	}
	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		return invalid("log format must be one of auto, text, json")
	}
	return nil
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{shared.ErrConfig}, a...)...)
}
