// Package types holds the data shared between translators, the ingress server
// and the commit pipeline.
package types

import (
	"strings"
	"time"
)

// InboundMessage is a raw notification as delivered to the ingress endpoint.
// Translators must treat it as read-only.
type InboundMessage struct {
	Body    string
	Headers map[string][]string
}

// NewInboundMessage creates an InboundMessage from a body and a header map.
func NewInboundMessage(body string, headers map[string][]string) InboundMessage {
	return InboundMessage{Body: body, Headers: headers}
}

// HeaderValues returns the values stored for name. An exact key match wins;
// otherwise the lookup falls back to a case-insensitive comparison.
func (m InboundMessage) HeaderValues(name string) []string {
	if m.Headers == nil {
		return nil
	}
	if values, ok := m.Headers[name]; ok {
		return values
	}
	for key, values := range m.Headers {
		if strings.EqualFold(key, name) {
			return values
		}
	}
	return nil
}

// Author identifies who made a commit.
type Author struct {
	Name string `json:"name"`
}

// Repo identifies the repository or project a commit belongs to.
type Repo struct {
	Name string `json:"name"`
}

// CommitID is the source system's identifier for a commit.
type CommitID struct {
	Name string `json:"name"`
}

// CommitMessage is the normalized commit record produced by a translator.
type CommitMessage struct {
	Author   Author    `json:"author"`
	Date     time.Time `json:"date"`
	Message  string    `json:"message"`
	Repo     Repo      `json:"repo"`
	Source   string    `json:"source"`
	CommitID CommitID  `json:"commitId"`
	// Changes lists touched files when the source reports them.
	Changes []string `json:"changes,omitempty"`
}

// Key identifies a commit across deliveries, e.g. "TFS/MyProj/42".
func (c CommitMessage) Key() string {
	return c.Source + "/" + c.Repo.Name + "/" + c.CommitID.Name
}
