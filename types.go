package guidematch

import "time"

// FlowType selects how many experts a trip is matched with.
type FlowType string

const (
	// FlowSingleDestination matches one expert, or none.
	FlowSingleDestination FlowType = "single-destination"
	// FlowMultiIdea matches exactly three distinct experts.
	FlowMultiIdea FlowType = "multi-idea"
)

// Expert is the public representation of a directory entry.
// No internal package imports, so it is safe to use from outside the module.
type Expert struct {
	ID         string
	Profession string
	Bio        string
	Name       string
	AvatarURL  string
	ProfileURL string
}

// Guide is a generated travel guide as returned by a GuideWriter.
// ID and GeneratedAt are filled in when left empty.
type Guide struct {
	ID          string
	FlowType    FlowType
	Title       string
	Content     string
	GeneratedAt time.Time
	Tags        []string
}
