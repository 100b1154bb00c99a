package jobs

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// QueueElementID identifies a job independent of any particular submission of it: the source
// asset, the platform it is built for and the job descriptor (the job key). Asset names compare
// case-insensitively; platform and descriptor compare exactly.
type QueueElementID struct {
	InputAssetName string `json:"input_asset_name"`
	Platform       string `json:"platform"`
	JobDescriptor  string `json:"job_descriptor"`
}

// ElementKey is the normalized, comparable form of a QueueElementID. Two ids are equal exactly
// when their keys are equal, so it is what every index in this module is keyed by.
type ElementKey struct {
	name       string
	platform   string
	descriptor string
}

// NewQueueElementID returns the id for the given asset, platform and job descriptor.
func NewQueueElementID(inputAssetName, platform, jobDescriptor string) QueueElementID {
	return QueueElementID{
		InputAssetName: inputAssetName,
		Platform:       platform,
		JobDescriptor:  jobDescriptor,
	}
}

// Key returns the id's map key.
func (id QueueElementID) Key() ElementKey {
	return ElementKey{
		name:       strings.ToLower(id.InputAssetName),
		platform:   id.Platform,
		descriptor: id.JobDescriptor,
	}
}

// Equal reports whether the two ids name the same job.
func (id QueueElementID) Equal(other QueueElementID) bool {
	return id.Key() == other.Key()
}

// Compare orders ids by asset name (case-insensitively), then platform, then descriptor.
func (id QueueElementID) Compare(other QueueElementID) int {
	a, b := id.Key(), other.Key()
	if c := strings.Compare(a.name, b.name); c != 0 {
		return c
	}
	if c := strings.Compare(a.platform, b.platform); c != 0 {
		return c
	}
	return strings.Compare(a.descriptor, b.descriptor)
}

// Less reports whether id sorts before other.
func (id QueueElementID) Less(other QueueElementID) bool {
	return id.Compare(other) < 0
}

// Hash returns a stable hash consistent with Equal.
func (id QueueElementID) Hash() uint64 {
	k := id.Key()
	d := xxhash.New()
	// The separators keep ("ab", "c") and ("a", "bc") apart.
	_, _ = d.WriteString(k.name)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.platform)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(k.descriptor)
	return d.Sum64()
}

func (id QueueElementID) String() string {
	return fmt.Sprintf("%s [%s] (%s)", id.InputAssetName, id.Platform, id.JobDescriptor)
}
