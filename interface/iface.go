package iface

// RetData is what transports hand back to callers: Data is a Detection on
// success and an error message otherwise.
type RetData struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type EngineConfig struct {
	ModelPath   string  `json:"modelPath" yaml:"modelPath"`
	Threshold   float32 `json:"threshold" yaml:"threshold"`
	PersonIndex int     `json:"personIndex" yaml:"personIndex"`
	ArenaSize   int     `json:"arenaSize" yaml:"arenaSize"`
	NumThreads  int     `json:"numThreads" yaml:"numThreads"`
	UseEdgeTPU  bool    `json:"useEdgeTPU" yaml:"useEdgeTPU"`
}

// InputSpec describes the tensor a caller must fill.
type InputSpec struct {
	Type     string `json:"type"`
	Shape    []int  `json:"shape"`
	ByteSize int    `json:"byteSize"`
}

type Detection struct {
	Person bool    `json:"person"`
	Score  float32 `json:"score"`
	Raw    int32   `json:"raw"`
	// LatencyMs covers the copy, the invoke and the output decode.
	LatencyMs float64 `json:"latencyMs"`
}

type Backend interface {
	Initialize() error
	Classify(image []byte, size int) (Detection, error)
	Input() (InputSpec, error)
	Destroy()
	CheckConfig() EngineConfig
	Status() string
}
