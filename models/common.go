package models

import "time"

// Websocket message types
const (
	WSRunStarted    = "run_started"
	WSFlowStarted   = "flow_started"
	WSStepCompleted = "step_completed"
	WSRunCompleted  = "run_completed"
	WSConnect       = "connect"
	WSDisconnect    = "disconnect"
	WSHeartbeat     = "heartbeat"
)

// HealthStatus represents the health of the service and its collaborators
type HealthStatus struct {
	Status      string `json:"status"`
	AIEnabled   bool   `json:"aiEnabled"`
	E2EEnabled  bool   `json:"e2eEnabled"`
	ModuleCount int    `json:"moduleCount"`
	ActiveRuns  int    `json:"activeRuns"`
	WSClients   int    `json:"wsClients"`
}

// WSMessage represents a WebSocket message structure
type WSMessage struct {
	Type      string      `json:"type" validate:"required,oneof=run_started flow_started step_completed run_completed connect disconnect heartbeat"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
	ClientID  string      `json:"client_id" validate:"required"`
}

// RunProgress is the payload of progress websocket messages
type RunProgress struct {
	RunID      string     `json:"runId"`
	FlowID     string     `json:"flowId,omitempty"`
	FlowName   string     `json:"flowName,omitempty"`
	StepNumber int        `json:"stepNumber,omitempty"`
	Action     Action     `json:"action,omitempty"`
	StepStatus StepStatus `json:"stepStatus,omitempty"`
	Status     RunStatus  `json:"status"`
	Message    string     `json:"message,omitempty"`
}
