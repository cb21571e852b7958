package avatar

// Viseme is a mouth shape keyed to an offset inside its audio sub-chunk.
type Viseme struct {
	ID       string  `json:"id"`
	OffsetMs int     `json:"offset_ms"`
	Weight   float64 `json:"weight"`
}

// Frame is the facial animation data paired with one audio sub-chunk.
type Frame struct {
	BlendShapes map[string]float64 `json:"blend_shapes"`
	Visemes     []Viseme           `json:"visemes"`
}
