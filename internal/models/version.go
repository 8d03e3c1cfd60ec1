package models

// BuilderVersion tags every patched output and its embedded metadata.
// Overridden at link time with -ldflags "-X github.com/ralt/opatch/internal/models.BuilderVersion=...".
var BuilderVersion = "7"
