package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied without a restart are tracked; they take
// effect on the next session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is true if the prompt, providers or handshake settings
	// changed.
	AgentChanged        bool
	InstructionsChanged bool
	ProvidersChanged    bool

	// SessionTimingChanged is true if connect timeout, keepalive or grace
	// delay changed.
	SessionTimingChanged bool

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Agent, new.Agent
	d.InstructionsChanged = oa.Instructions != na.Instructions || oa.InstructionsFile != na.InstructionsFile
	d.ProvidersChanged = oa.Listen != na.Listen || oa.Think != na.Think || oa.Speak != na.Speak
	d.AgentChanged = d.InstructionsChanged || d.ProvidersChanged || oa.URL != na.URL || oa.Auth != na.Auth

	oldS, newS := old.Session, new.Session
	d.SessionTimingChanged = oldS.ConnectTimeout != newS.ConnectTimeout ||
		oldS.KeepAliveInterval != newS.KeepAliveInterval ||
		oldS.AudioDoneGrace != newS.AudioDoneGrace

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Credential != new.Credential {
		d.RestartRequired = append(d.RestartRequired, "credential")
	}
	if old.Transcript != new.Transcript {
		d.RestartRequired = append(d.RestartRequired, "transcript")
	}
	if oldS.Reconnect != newS.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "session.reconnect")
	}
	return d
}

// HasChanges reports whether anything in d differs.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.AgentChanged || d.SessionTimingChanged || len(d.RestartRequired) > 0
}
