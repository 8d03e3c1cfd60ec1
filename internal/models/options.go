package models

import "fmt"

// BatchPolicy decides what happens to the remaining inputs when one fails.
type BatchPolicy string

const (
	// PolicyAbort stops the whole run on the first fatal error.
	PolicyAbort BatchPolicy = "abort"
	// PolicyContinue processes every input and reports all failures at the end.
	PolicyContinue BatchPolicy = "continue"
)

// Set implements pflag.Value
func (p *BatchPolicy) Set(v string) error {
	switch BatchPolicy(v) {
	case PolicyAbort, PolicyContinue:
		*p = BatchPolicy(v)
		return nil
	}
	return fmt.Errorf("unknown batch policy %q (want abort or continue)", v)
}

// String implements pflag.Value
func (p *BatchPolicy) String() string { return string(*p) }

// Type implements pflag.Value
func (p *BatchPolicy) Type() string { return "policy" }

// PatchOptions contains configuration for a patch run
type PatchOptions struct {
	// Input/Output
	Inputs    []string
	OutputDir string
	Force     bool

	// Patch behaviour, mirrored into the embedded metadata
	Debuggable          bool
	SigBypassLevel      int
	UseManager          bool
	OverrideVersionCode bool
	InjectProvider      bool
	OutputLog           bool

	// Payloads
	Modules     []string
	PayloadPath string

	// APK signing credential. Empty paths select the built-in credential.
	KeystorePath     string
	KeystorePassword string
	KeyAlias         string
	KeyPassword      string
	PEMPath          string

	// Detached provenance signature of the output (optional)
	PGPKeyPath    string
	PGPPassphrase string

	// Batch
	Jobs    int
	OnError BatchPolicy
}
