package models

// Module represents a third-party add-on package embedded into the patched APK
type Module struct {
	PackageName string
	SourcePath  string

	// Handle is the opened module archive; its concrete type belongs to the loader.
	Handle any
}
