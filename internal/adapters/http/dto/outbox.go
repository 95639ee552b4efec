package dto

// OutboxStatsResponse reports fan-out queue depth by status.
type OutboxStatsResponse struct {
	Counts map[string]int `json:"counts" msgpack:"counts"`
	Total  int            `json:"total" msgpack:"total"`
}

// RequeueResponse confirms a DLQ or pending_review rescue.
type RequeueResponse struct {
	ID     string `json:"id" msgpack:"id"`
	Status string `json:"status" msgpack:"status"`
}
