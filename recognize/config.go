package recognize

// AudioEncoding names the wire format of inbound audio frames. The bridge
// passes it through to the service without interpreting it.
type AudioEncoding string

const (
	EncodingLinear16PCM AudioEncoding = "LINEAR16_PCM"
	EncodingOggOpus     AudioEncoding = "OGG_OPUS"
)

// Config is sent exactly once, as the first message of a session, and is
// immutable afterwards.
type Config struct {
	Encoding        AudioEncoding `json:"encoding"`
	SampleRateHertz int           `json:"sample_rate_hertz"`
	LanguageCode    string        `json:"language_code"`
	ChannelCount    int           `json:"audio_channel_count"`
	Model           string        `json:"model"`
	PartialResults  bool          `json:"partial_results"`
	ProfanityFilter bool          `json:"profanity_filter,omitempty"`
	SingleUtterance bool          `json:"single_utterance,omitempty"`
	RawResults      bool          `json:"raw_results,omitempty"`
	FolderID        string        `json:"folder_id,omitempty"`
}

// DefaultConfig is the telephony profile the recognizer is normally fed with:
// 8 kHz mono PCM, Russian, partial results on.
func DefaultConfig(folderID string) Config {
	return Config{
		Encoding:        EncodingLinear16PCM,
		SampleRateHertz: 8000,
		LanguageCode:    "ru-RU",
		ChannelCount:    1,
		Model:           "general:rc",
		PartialResults:  true,
		RawResults:      true,
		FolderID:        folderID,
	}
}
