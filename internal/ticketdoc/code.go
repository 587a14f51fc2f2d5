package ticketdoc

import "github.com/google/uuid"

const codePrefix = "TICKET-"

// GenerateCode returns an opaque ticket code backed by a random 128-bit id.
func GenerateCode() string {
	return codePrefix + uuid.NewString()
}
