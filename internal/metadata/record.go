package metadata

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed record.schema.json
var schemaJSON []byte

const schemaID = "inmemory://loader-config"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaID, bytes.NewReader(schemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(schemaID)
	})
	return compiled, compileErr
}

// ErrInvalid is returned for records that break the field rules.
var ErrInvalid = errors.New("invalid loader configuration")

// Params are the inputs of New.
type Params struct {
	UseManager          bool
	Debuggable          bool
	OverrideVersionCode bool
	SigBypassLevel      int
	OriginalSignature   string
	// AppComponentFactory is nil when the application declares none
	AppComponentFactory *string
	InjectProvider      bool
	OutputLog           bool
	BuilderVersion      string
}

// wire is the serialized form. Field order is the encoding order.
type wire struct {
	UseManager          bool    `json:"useManager"`
	Debuggable          bool    `json:"debuggable"`
	OverrideVersionCode bool    `json:"overrideVersionCode"`
	SigBypassLevel      int     `json:"sigBypassLevel"`
	OriginalSignature   string  `json:"originalSignature,omitempty"`
	AppComponentFactory *string `json:"appComponentFactory"`
	InjectProvider      bool    `json:"injectProvider"`
	OutputLog           bool    `json:"outputLog"`
	BuilderVersion      string  `json:"builderVersion"`
}

// Record is the loader configuration embedded into a patched package.
// It is immutable; use New or Decode to get one.
type Record struct {
	w wire
}

// New validates p and returns the record.
func New(p Params) (Record, error) {
	if p.SigBypassLevel < 0 || p.SigBypassLevel > 2 {
		return Record{}, fmt.Errorf("%w: signature bypass level %d not in 0..2", ErrInvalid, p.SigBypassLevel)
	}
	if p.SigBypassLevel > 0 && p.OriginalSignature == "" {
		return Record{}, fmt.Errorf("%w: signature bypass level %d needs the original signature", ErrInvalid, p.SigBypassLevel)
	}
	if p.SigBypassLevel == 0 && p.OriginalSignature != "" {
		return Record{}, fmt.Errorf("%w: original signature set without signature bypass", ErrInvalid)
	}
	if p.BuilderVersion == "" {
		return Record{}, fmt.Errorf("%w: empty builder version", ErrInvalid)
	}

	var factory *string
	if p.AppComponentFactory != nil {
		s := *p.AppComponentFactory
		factory = &s
	}
	return Record{w: wire{
		UseManager:          p.UseManager,
		Debuggable:          p.Debuggable,
		OverrideVersionCode: p.OverrideVersionCode,
		SigBypassLevel:      p.SigBypassLevel,
		OriginalSignature:   p.OriginalSignature,
		AppComponentFactory: factory,
		InjectProvider:      p.InjectProvider,
		OutputLog:           p.OutputLog,
		BuilderVersion:      p.BuilderVersion,
	}}, nil
}

func (r Record) UseManager() bool { return r.w.UseManager }
func (r Record) Debuggable() bool { return r.w.Debuggable }
func (r Record) OverrideVersionCode() bool { return r.w.OverrideVersionCode }
func (r Record) SigBypassLevel() int { return r.w.SigBypassLevel }
func (r Record) OriginalSignature() string { return r.w.OriginalSignature }
func (r Record) InjectProvider() bool { return r.w.InjectProvider }
func (r Record) OutputLog() bool { return r.w.OutputLog }
func (r Record) BuilderVersion() string { return r.w.BuilderVersion }

// AppComponentFactory returns the application's own factory class.
func (r Record) AppComponentFactory() (string, bool) {
	if r.w.AppComponentFactory == nil {
		return "", false
	}
	return *r.w.AppComponentFactory, true
}

// Encode returns the compact JSON form.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r.w)
}

// Base64 returns the standard base64 of Encode, as stored in the manifest.
func (r Record) Base64() (string, error) {
	data, err := r.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode checks data against the record schema and returns the record.
func Decode(data []byte) (Record, error) {
	s, err := schema()
	if err != nil {
		return Record{}, fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := s.Validate(doc); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return New(Params(w))
}

// DecodeBase64 decodes the manifest form of a record.
func DecodeBase64(s string) (Record, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return Decode(data)
}
