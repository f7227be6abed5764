package proto

import "google.golang.org/protobuf/types/known/timestamppb"

type InitEngineRequest struct {
	ModelPath string `json:"modelPath"`
	// Threshold and PersonIndex take the person model's defaults when nil;
	// zero is a valid value for both.
	Threshold   *float32 `json:"threshold,omitempty"`
	PersonIndex *int32   `json:"personIndex,omitempty"`
	ArenaSize   int32    `json:"arenaSize"`
	NumThreads  int32    `json:"numThreads"`
	UseEdgeTPU  bool     `json:"useEdgeTPU"`
	Description string   `json:"description"`
	SetDefault  bool     `json:"setDefault"`
}

type InitEngineResponse struct {
	Success bool   `json:"success"`
	Id      string `json:"id"`
	Message string `json:"message"`
}

type DetectRequest struct {
	// Id may be empty to use the default engine.
	Id      string `json:"id"`
	ImgData []byte `json:"imgData"`
	// Size defaults to len(ImgData).
	Size int32 `json:"size"`
}

type DetectResponse struct {
	Success   bool    `json:"success"`
	Person    bool    `json:"person"`
	Score     float32 `json:"score"`
	Raw       int32   `json:"raw"`
	LatencyMs float64 `json:"latencyMs"`

	DetectedAt *timestamppb.Timestamp `json:"detectedAt"`
}

type EngineInfo struct {
	Id          string  `json:"id"`
	Description string  `json:"description"`
	ModelPath   string  `json:"modelPath"`
	Threshold   float32 `json:"threshold"`
	PersonIndex int32   `json:"personIndex"`
	ArenaSize   int32   `json:"arenaSize"`
	NumThreads  int32   `json:"numThreads"`
	UseEdgeTPU  bool    `json:"useEdgeTPU"`
	State       string  `json:"state"`
	IsDefault   bool    `json:"isDefault"`

	Created *timestamppb.Timestamp `json:"created"`
}

type CheckEngineRequest struct {
	Id string `json:"id"`
}

type CheckEngineResponse struct {
	Success    bool        `json:"success"`
	EngineInfo *EngineInfo `json:"engineInfo"`
	Message    string      `json:"message"`
}

type CheckAllEngineResponse struct {
	Success bool          `json:"success"`
	Engines []*EngineInfo `json:"engines"`
	Message string        `json:"message"`
}

type DestroyEngineRequest struct {
	Id string `json:"id"`
}

type DestroyEngineResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
