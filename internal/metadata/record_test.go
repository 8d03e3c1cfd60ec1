package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strptr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"defaults", Params{BuilderVersion: "7"}},
		{"factory", Params{Debuggable: true, AppComponentFactory: strptr("com.example.F"), BuilderVersion: "7"}},
		{"bypass", Params{UseManager: true, SigBypassLevel: 2, OriginalSignature: "3082abcd", InjectProvider: true, OutputLog: true, OverrideVersionCode: true, BuilderVersion: "7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.p)
			require.NoError(t, err)

			data, err := r.Encode()
			require.NoError(t, err)
			back, err := Decode(data)
			require.NoError(t, err)
			again, err := back.Encode()
			require.NoError(t, err)

			assert.Equal(t, data, again)
			assert.Equal(t, r, back)
		})
	}
}

func TestEncodingShape(t *testing.T) {
	r, err := New(Params{BuilderVersion: "7"})
	require.NoError(t, err)
	data, err := r.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"useManager": false,
		"debuggable": false,
		"overrideVersionCode": false,
		"sigBypassLevel": 0,
		"appComponentFactory": null,
		"injectProvider": false,
		"outputLog": false,
		"builderVersion": "7"
	}`, string(data))

	_, ok := r.AppComponentFactory()
	assert.False(t, ok)
}

func TestBase64(t *testing.T) {
	r, err := New(Params{AppComponentFactory: strptr(""), BuilderVersion: "7"})
	require.NoError(t, err)

	s, err := r.Base64()
	require.NoError(t, err)
	back, err := DecodeBase64(s)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	f, ok := back.AppComponentFactory()
	assert.True(t, ok)
	assert.Empty(t, f)

	_, err = DecodeBase64("!!not base64")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"level too high", Params{SigBypassLevel: 3, OriginalSignature: "ab", BuilderVersion: "7"}},
		{"negative level", Params{SigBypassLevel: -1, BuilderVersion: "7"}},
		{"missing signature", Params{SigBypassLevel: 1, BuilderVersion: "7"}},
		{"stray signature", Params{OriginalSignature: "ab", BuilderVersion: "7"}},
		{"no version", Params{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	base := `"useManager":false,"debuggable":false,"overrideVersionCode":false,"appComponentFactory":null,"injectProvider":false,"outputLog":false,"builderVersion":"7"`
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"missing field", `{"useManager":false}`},
		{"unknown field", `{` + base + `,"sigBypassLevel":0,"extra":1}`},
		{"level out of range", `{` + base + `,"sigBypassLevel":5}`},
		{"wrong type", `{` + base + `,"sigBypassLevel":"0"}`},
		{"level without signature", `{` + base + `,"sigBypassLevel":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}
