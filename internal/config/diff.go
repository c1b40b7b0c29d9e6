package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Fields that can be
// applied without restarting are tracked individually; any other change
// lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FallbacksChanged reports a change to gen.fallbacks, the canned
	// sentences looked up fresh every turn.
	FallbacksChanged bool

	// AcknowledgementsChanged reports a change to wake.acknowledgements,
	// read at the start of every session.
	AcknowledgementsChanged bool

	// CommandsChanged reports a change to the asr.commands vocabulary.
	CommandsChanged bool

	// RestartRequired names config sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged ||
		d.FallbacksChanged ||
		d.AcknowledgementsChanged ||
		d.CommandsChanged ||
		len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	if !maps.Equal(old.Gen.Fallbacks, new.Gen.Fallbacks) {
		d.FallbacksChanged = true
	}
	if !maps.Equal(old.Wake.Acknowledgements, new.Wake.Acknowledgements) {
		d.AcknowledgementsChanged = true
	}
	if !slices.Equal(old.ASR.Commands, new.ASR.Commands) {
		d.CommandsChanged = true
	}

	// Strip the hot-reloadable fields from section copies, then compare
	// the sections wholesale.
	oldLog, newLog := old.Log, new.Log
	oldLog.Level, newLog.Level = "", ""
	oldWake, newWake := old.Wake, new.Wake
	oldWake.Acknowledgements, newWake.Acknowledgements = nil, nil
	oldGen, newGen := old.Gen, new.Gen
	oldGen.Fallbacks, newGen.Fallbacks = nil, nil
	oldASR, newASR := old.ASR, new.ASR
	oldASR.Commands, newASR.Commands = nil, nil

	sections := []struct {
		name     string
		old, new any
	}{
		{"log", oldLog, newLog},
		{"audio", old.Audio, new.Audio},
		{"wake", oldWake, newWake},
		{"asr", oldASR, newASR},
		{"gen", oldGen, newGen},
		{"tts", old.TTS, new.TTS},
		{"session", old.Session, new.Session},
		{"barge", old.Barge, new.Barge},
		{"stop", old.Stop, new.Stop},
		{"exit", old.Exit, new.Exit},
		{"actions", old.Actions, new.Actions},
		{"history", old.History, new.History},
		{"monitor", old.Monitor, new.Monitor},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}

	return d
}
