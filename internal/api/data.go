package api

type TableInfo struct {
	Name           string `json:"name"`
	SegmentsCount  int    `json:"segments_count"`
	EndpointsCount int    `json:"endpoints_count"`
}

type EndpointInfo struct {
	Addr    string `json:"addr"`
	Idle    int    `json:"idle"`
	Used    int    `json:"used"`
	Backlog int    `json:"backlog"`
}
