package config

import "github.com/spf13/cobra"

func (c *Config) BindFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.ConfigPath, "config", c.ConfigPath, "Path to config file (.json, .yaml or .yml)")

	// Interception
	cmd.Flags().BoolVar(&c.NoSpoofing, "no_spoofing", c.NoSpoofing, "Do not start ARP spoofing (passive capture only)")

	// Server
	cmd.Flags().StringVar(&c.Server.BaseURL, "base-url", c.Server.BaseURL, "Base URL of the hosted report")
	cmd.Flags().StringVar(&c.Server.NewUserURL, "new-user-url", c.Server.NewUserURL, "URL used to provision a new user key (empty generates locally)")
	cmd.Flags().StringVar(&c.Server.SubmitURL, "submit-url", c.Server.SubmitURL, "Upload URL template, {user_key} is substituted")
	cmd.Flags().IntVar(&c.Server.TimeoutSec, "server-timeout", c.Server.TimeoutSec, "Timeout for server requests in seconds")

	// Identity
	cmd.Flags().StringVar(&c.Identity.Dir, "identity-dir", c.Identity.Dir, "Directory holding the user identity (default ~/princeton-iot-inspector)")

	// Network
	cmd.Flags().StringVar(&c.Network.Interface, "iface", c.Network.Interface, "Network interface (default: owner of the default route)")

	// Session
	cmd.Flags().BoolVar(&c.Session.Persistent, "persistent", c.Session.Persistent, "Use a durable report link derived from the user key")
	cmd.Flags().BoolVar(&c.Session.OpenBrowser, "open-browser", c.Session.OpenBrowser, "Try to open the report in a local browser")

	// Workers
	cmd.Flags().IntVar(&c.Workers.ArpScan.IntervalSec, "arp-scan-interval", c.Workers.ArpScan.IntervalSec, "Seconds between ARP sweeps")
	cmd.Flags().IntVar(&c.Workers.SynScan.IntervalSec, "syn-scan-interval", c.Workers.SynScan.IntervalSec, "Seconds between SYN scan rounds")
	cmd.Flags().IntSliceVar(&c.Workers.SynScan.Ports, "syn-scan-ports", c.Workers.SynScan.Ports, "TCP ports probed on each device")
	cmd.Flags().IntVar(&c.Workers.SSDP.IntervalSec, "ssdp-interval", c.Workers.SSDP.IntervalSec, "Seconds between SSDP searches")
	cmd.Flags().IntVar(&c.Workers.Capture.SnapLen, "snaplen", c.Workers.Capture.SnapLen, "Capture snapshot length")
	cmd.Flags().StringVar(&c.Workers.Capture.Filter, "bpf", c.Workers.Capture.Filter, "Additional BPF filter for packet capture")
	cmd.Flags().IntVar(&c.Workers.ArpSpoof.IntervalSec, "arp-spoof-interval", c.Workers.ArpSpoof.IntervalSec, "Seconds between spoofed ARP rounds")
	cmd.Flags().IntVar(&c.Workers.ArpSpoof.MaxTargets, "arp-spoof-max", c.Workers.ArpSpoof.MaxTargets, "Maximum number of spoofed devices")
	cmd.Flags().IntVar(&c.Workers.Upload.IntervalSec, "upload-interval", c.Workers.Upload.IntervalSec, "Seconds between uploads")
	cmd.Flags().BoolVar(&c.Workers.Upload.Compress, "upload-gzip", c.Workers.Upload.Compress, "Gzip upload bodies")

	// Logging
	cmd.Flags().BoolVarP(&c.Logging.Instaflush, "instaflush", "i", c.Logging.Instaflush, "Flush logs immediately")
	cmd.Flags().BoolVar(&c.Logging.Syslog, "syslog", c.Logging.Syslog, "Enable syslog output")
	cmd.Flags().StringVar(&c.Logging.ErrorFile, "error-file", c.Logging.ErrorFile, "Also write errors to this file")
}
