package gpu

// Info describes a single NVIDIA GPU.
type Info struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	UUID     string `json:"uuid"`
	MemoryMB uint64 `json:"memory_mb"`
}

// Report is the result of probing the host for NVIDIA GPUs.
type Report struct {
	Available     bool   `json:"available"`
	DriverVersion string `json:"driver_version,omitempty"`
	// CUDAVersion is the highest CUDA runtime the driver supports, e.g. "12.4".
	CUDAVersion  string `json:"cuda_version,omitempty"`
	GPUs         []Info `json:"gpus"`
	ErrorMessage string `json:"error_message,omitempty"`
}
