package domain

import "fmt"

// Capability tags what a worker can do. The vocabulary is fixed;
// values are the lowercase wire form.
type Capability string

const (
	CapDataAnalysis       Capability = "data_analysis"
	CapWebScraping        Capability = "web_scraping"
	CapCodeGeneration     Capability = "code_generation"
	CapFileProcessing     Capability = "file_processing"
	CapDatabaseOperations Capability = "database_operations"
	CapAPIIntegration     Capability = "api_integration"
)

// FallbackCapability is the conservative default used when a plan step
// names no usable capability and for single-subtask fallback plans.
const FallbackCapability = CapCodeGeneration

// AllCapabilities returns the vocabulary in canonical order.
func AllCapabilities() []Capability {
	return []Capability{
		CapDataAnalysis,
		CapWebScraping,
		CapCodeGeneration,
		CapFileProcessing,
		CapDatabaseOperations,
		CapAPIIntegration,
	}
}

// Valid returns true if the capability is part of the vocabulary.
func (c Capability) Valid() bool {
	switch c {
	case CapDataAnalysis, CapWebScraping, CapCodeGeneration,
		CapFileProcessing, CapDatabaseOperations, CapAPIIntegration:
		return true
	default:
		return false
	}
}

// ParseCapability converts a wire string into a Capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCapability, s)
	}
	return c, nil
}

// CapabilityStrings returns the vocabulary as plain strings, for prompts
// and CLI help.
func CapabilityStrings() []string {
	all := AllCapabilities()
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = string(c)
	}
	return out
}
