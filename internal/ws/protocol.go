package ws

import (
	"encoding/json"
	"errors"
	"strings"
)

// Client-to-server message types.
const (
	MsgSubscribeHealth           = "subscribe-health"
	MsgUnsubscribeHealth         = "unsubscribe-health"
	MsgRequestHealth             = "request-health"
	MsgSubscribeDeploymentLogs   = "subscribe-deployment-logs"
	MsgUnsubscribeDeploymentLogs = "unsubscribe-deployment-logs"
)

// Server-to-client event types.
const (
	EventHealthData       = "health-data"
	EventDeploymentLog    = "deployment-log"
	EventDeploymentStatus = "deployment-status"
)

// ClientMessage is the tagged union every inbound frame must decode into.
type ClientMessage struct {
	Type         string `json:"type"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

// ServerMessage wraps every outbound frame.
type ServerMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

var (
	errUnknownMessageType = errors.New("unknown message type")
	errMissingDeployment  = errors.New("deployment_id required")
)

// ParseClientMessage decodes and validates an inbound frame. Room messages
// without a deployment id are rejected here so handlers never see them.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, err
	}
	msg.DeploymentID = strings.TrimSpace(msg.DeploymentID)
	switch msg.Type {
	case MsgSubscribeHealth, MsgUnsubscribeHealth, MsgRequestHealth:
		return msg, nil
	case MsgSubscribeDeploymentLogs, MsgUnsubscribeDeploymentLogs:
		if msg.DeploymentID == "" {
			return ClientMessage{}, errMissingDeployment
		}
		return msg, nil
	default:
		return ClientMessage{}, errUnknownMessageType
	}
}
