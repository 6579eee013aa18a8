package config

// ConfigDiff describes what changed between two configs.
// Fields that can be applied to a running session are tracked individually;
// everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LocalPortChanged bool
	NewLocalPort     int

	TargetChanged bool
	NewTargetHost string
	NewTargetPort int

	// RestartRequired names changed keys that only take effect on restart.
	RestartRequired []string
}

// HasChanges reports whether anything changed at all.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.LocalPortChanged || d.TargetChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Link.LocalPort != new.Link.LocalPort {
		d.LocalPortChanged = true
		d.NewLocalPort = new.Link.LocalPort
	}

	if old.Link.TargetHost != new.Link.TargetHost || old.Link.TargetPort != new.Link.TargetPort {
		d.TargetChanged = true
		d.NewTargetHost = new.Link.TargetHost
		d.NewTargetPort = new.Link.TargetPort
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Link.MaxPacketBytes != new.Link.MaxPacketBytes {
		d.RestartRequired = append(d.RestartRequired, "link.max_packet_bytes")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}

	return d
}
