package config

// Diff describes what changed between two configs, split into changes that
// can be applied to a running pipeline and changes that need a restart.
type Diff struct {
	// LogLevelChanged is set when server.log_level changed; the new level can
	// be applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VolumeChanged is set when playback.volume changed; the new gain can be
	// applied live.
	VolumeChanged bool
	NewVolume     float64

	// TransportChanged is set when any transport field changed. Applying it
	// requires restarting the session.
	TransportChanged bool

	// AudioChanged is set when the capture format changed. Applying it
	// requires reopening the devices.
	AudioChanged bool
}

// Any reports whether the diff contains any change at all.
func (d Diff) Any() bool {
	return d.LogLevelChanged || d.VolumeChanged || d.TransportChanged || d.AudioChanged
}

// Compare returns what changed between old and updated.
func Compare(old, updated *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != updated.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = updated.Server.LogLevel
	}
	if old.Playback.Volume != updated.Playback.Volume {
		d.VolumeChanged = true
		d.NewVolume = updated.Playback.Volume
	}
	if old.Transport != updated.Transport {
		d.TransportChanged = true
	}
	if old.Audio != updated.Audio {
		d.AudioChanged = true
	}
	return d
}
