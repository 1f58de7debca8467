package model

import "time"

// Identity is a signed-in user as asserted by the identity provider.
// Login is immutable once assigned; Name and Email may be refreshed on a
// later sign-in.
type Identity struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Repository is a named collection of files.
type Repository struct {
	Slug      string    `json:"slug"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Shared    bool      `json:"shared"` // delegated by the content tracker, listed for everyone
	CreatedAt time.Time `json:"createdAt"`
}

// FileRecord is the content of one file together with its change marker.
// A path that was never written reads as an empty record with marker 0.
type FileRecord struct {
	Repo       string `json:"repo"`
	Path       string `json:"path"`
	Content    string `json:"content"`
	LastChange int64  `json:"lastChange"`
}

// PollResult answers "has this file changed since marker M".
type PollResult struct {
	IsModified bool    `json:"isModified"`
	LastChange int64   `json:"lastChange"`
	Contents   *string `json:"contents,omitempty"`
}

// Workspace is the persisted free-form state of one identity.
type Workspace struct {
	Login     string    `json:"login" dynamodbav:"login"`
	Content   string    `json:"content" dynamodbav:"content"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}
