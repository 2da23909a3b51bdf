package model

import (
	"time"

	"github.com/capitalize-ai/canvas-chat/pkg/artifact"
)

// Artifact is one version of a generated document. Versions share an ID and
// are ordered by CreatedAt; the latest is current.
type Artifact struct {
	ID        string        `json:"id" bson:"id"`
	Title     string        `json:"title" bson:"title"`
	Kind      artifact.Kind `json:"kind" bson:"kind"`
	Content   string        `json:"content" bson:"content"`
	UserID    string        `json:"userId" bson:"user_id"`
	CreatedAt time.Time     `json:"createdAt" bson:"created_at"`
}

// ArtifactSummary is the tool result payload of artifact-producing tools.
type ArtifactSummary struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Kind    artifact.Kind `json:"kind"`
	Message string        `json:"message,omitempty"`
}
