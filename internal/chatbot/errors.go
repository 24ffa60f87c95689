package chatbot

import "fmt"

// CollaboratorError wraps a failure from an external collaborator (language
// model, knowledge store, maintenance ledger, persistence). Generators catch
// it at the boundary, log it, and convert it to a user-facing apology; it
// never reaches the chat transcript raw.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}
