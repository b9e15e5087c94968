package domain

// TrackKind classifies probed media streams.
type TrackKind string

const (
	TrackKindVideo    TrackKind = "video"
	TrackKindAudio    TrackKind = "audio"
	TrackKindSubtitle TrackKind = "subtitle"
)

// MediaTrack is one probed stream. Immutable once produced.
type MediaTrack struct {
	// Index is 0-based within the track's kind, in file order.
	Index       int       `json:"index"`
	Kind        TrackKind `json:"kind"`
	Codec       string    `json:"codec"`
	Language    string    `json:"language,omitempty"`
	Title       string    `json:"title,omitempty"`
	Channels    int       `json:"channels,omitempty"`
	BitrateKbps int       `json:"bitrateKbps,omitempty"`
}

// MediaInfo is the flat probe result for one media file.
type MediaInfo struct {
	Path            string       `json:"path"`
	DurationSeconds float64      `json:"durationSeconds"`
	SizeBytes       int64        `json:"sizeBytes"`
	Tracks          []MediaTrack `json:"tracks"`
}

// AudioTracks returns the audio streams in file order.
func (m MediaInfo) AudioTracks() []MediaTrack {
	var out []MediaTrack
	for _, t := range m.Tracks {
		if t.Kind == TrackKindAudio {
			out = append(out, t)
		}
	}
	return out
}

// TotalAudioBitrateKbps sums the known audio track bitrates.
func (m MediaInfo) TotalAudioBitrateKbps() int {
	total := 0
	for _, t := range m.Tracks {
		if t.Kind == TrackKindAudio {
			total += t.BitrateKbps
		}
	}
	return total
}

// MissingBitrates reports whether any video or audio track lacks
// bitrate metadata, in which case a statistics refresh may help.
func (m MediaInfo) MissingBitrates() bool {
	for _, t := range m.Tracks {
		if t.Kind == TrackKindSubtitle {
			continue
		}
		if t.BitrateKbps <= 0 {
			return true
		}
	}
	return false
}

// Preset is one externally defined HandBrake preset document.
type Preset struct {
	// Name is the preset name declared inside the document; it must
	// match the file's base name.
	Name string `json:"name"`
	// Path is the JSON file passed to --preset-import-file.
	Path string `json:"path"`
	// Raw is the document body, kept opaque beyond the name field.
	Raw []byte `json:"-"`
}
