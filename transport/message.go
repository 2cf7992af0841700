package transport

import (
	"encoding/json"
	"strings"
)

// ServerMessage is the closed union of everything the server can send.
type ServerMessage interface {
	isServerMessage()
}

// Transcript carries the recognized text of the user's turn.
type Transcript struct {
	Text string
}

// AssistantAudio carries the synthesized reply audio.
type AssistantAudio struct {
	Data []byte
}

// ServerError carries a human-readable failure reported by the server, or a
// generic protocol-failure message when an inbound frame could not be
// understood. Protocol marks the latter case.
type ServerError struct {
	Message  string
	Protocol bool
}

func (Transcript) isServerMessage()     {}
func (AssistantAudio) isServerMessage() {}
func (ServerError) isServerMessage()    {}

// envelope is the JSON shape of text frames. The discriminant is "type";
// older server revisions used "status" for error frames, which is accepted
// as a fallback.
type envelope struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Text    string `json:"text"`
	Message string `json:"message"`
}

const protocolFailure = "unrecognized message from server"

// Classify maps one inbound frame to a ServerMessage. Binary payloads are
// always assistant audio. Text payloads are JSON with a discriminant field;
// anything malformed or unrecognized becomes a ServerError rather than a
// parse fault, so no inbound frame is ever silently dropped.
func Classify(binary bool, data []byte) ServerMessage {
	if binary {
		return AssistantAudio{Data: data}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ServerError{Message: protocolFailure, Protocol: true}
	}

	discriminant := env.Type
	if discriminant == "" {
		discriminant = env.Status
	}

	switch strings.ToLower(discriminant) {
	case "transcript":
		return Transcript{Text: env.Text}
	case "error":
		msg := env.Message
		if msg == "" {
			msg = protocolFailure
		}
		return ServerError{Message: msg}
	default:
		return ServerError{Message: protocolFailure, Protocol: true}
	}
}
