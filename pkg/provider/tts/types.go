package tts

// Voice selects the synthesis model for one language.
type Voice struct {
	// Lang is the short language code this voice serves ("en", "ro").
	Lang string

	// ModelPath is the path to the voice model on disk.
	ModelPath string

	// ConfigPath is the path to the model's config file. Backends that
	// derive it from ModelPath may leave it empty.
	ConfigPath string

	// Speaker selects a speaker in multi-speaker models. Zero picks the
	// model default.
	Speaker int

	// LengthScale adjusts speaking rate. 1.0 is the model default;
	// larger is slower. Zero means default.
	LengthScale float64
}
