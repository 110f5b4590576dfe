package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	rearview "github.com/folbricht/rearview"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	tls      bool
	config   string
	syslog   bool
	logLevel uint32
}

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "rearview [--tls] <udp-listen-address> <remote-server-address>",
		Short: "TCP-only DNS forwarder with PTR superpowers",
		Long: `TCP-only DNS forwarder with PTR superpowers.

Listens for DNS requests on UDP port 53 of the given local address
and rewrites PTR answers from local data sources according to the
rules in superpowers.yaml. Everything else, including fallbacks when
the local sources have no answer, is resolved over a TCP connection
to the given recursive resolver.

Run it as root and use it as the (only) nameserver in your network
configuration. Tools that reverse-resolve by default (arp, route,
netstat, iptables, ...) then show meaningful local names.
`,
		Example: `  rearview 127.0.0.1 192.168.1.1
  rearview --tls 127.0.0.1 9.9.9.9`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&opt.tls, "tls", false, "Use DoT and contact the DNS server on port 853")
	cmd.Flags().StringVarP(&opt.config, "config", "c", "", "Configuration file, defaults to superpowers.yaml next to the executable")
	cmd.Flags().BoolVar(&opt.syslog, "syslog", false, "Mirror logs to the local syslog daemon")
	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=None .. 6=Trace")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func start(opt options, args []string) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	rearview.Log.SetLevel(logrus.Level(opt.logLevel))
	if opt.syslog {
		hook, err := rearview.NewSyslogHook(rearview.SyslogOptions{Tag: "rearview"})
		if err != nil {
			// Log the error but keep going without syslog
			rearview.Log.WithError(err).Error("failed to initialize syslog")
		} else {
			rearview.Log.AddHook(hook)
		}
	}
	listenAddress, remoteAddress := args[0], args[1]

	configFile := opt.config
	if configFile == "" {
		executable, err := os.Executable()
		if err != nil {
			return err
		}
		configFile = filepath.Join(filepath.Dir(executable), rearview.ConfigFile)
	}
	config, err := rearview.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	nets, err := config.Build()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	upstream := rearview.NewTCPClient(remoteAddress, rearview.TCPClientOptions{UseTLS: opt.tls})
	listener := rearview.NewUDPListener(
		net.JoinHostPort(listenAddress, rearview.PlainDNSPort),
		rearview.NewPipeline(nets, upstream),
	)

	failed := make(chan error, 1)
	go func() {
		failed <- listener.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-failed:
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("permission denied binding port 53, are you root? (%w)", err)
		}
		return err
	case <-sig:
		rearview.Log.Info("stopping")
	}
	return nil
}
