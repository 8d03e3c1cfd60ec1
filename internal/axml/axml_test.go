package axml

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shogo82148/androidbinary"
	"github.com/shogo82148/androidbinary/apk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Node {
	root := NewElement("manifest",
		AndroidAttr("versionCode", IntValue(3)),
		Attribute{Name: "package", Raw: ptr("com.example"), Value: StringValue("com.example")},
	)
	root.Namespaces = []Namespace{{Prefix: "android", URI: AndroidNS, Line: 1}}
	root.Line, root.EndLine = 1, 9

	sdk := NewElement("uses-sdk",
		AndroidAttr("minSdkVersion", IntValue(21)),
		AndroidAttr("targetSdkVersion", IntValue(33)),
	)
	app := NewElement("application",
		AndroidAttr("debuggable", BoolValue(false)),
		AndroidAttr("appComponentFactory", StringValue("com.example.F")),
	)
	activity := NewElement("activity", AndroidAttr("name", StringValue(".Main")))
	activity.Comment = "entry point"
	app.Children = []*Node{activity}
	root.Children = []*Node{sdk, app}
	return root
}

func ptr(s string) *string { return &s }

func encodeSample(t *testing.T) []byte {
	t.Helper()
	data, err := NewDocument(sampleManifest()).Encode()
	require.NoError(t, err)
	return data
}

func TestEncodeParseRoundTrip(t *testing.T) {
	data := encodeSample(t)

	doc, err := Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleManifest(), doc.Root); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	again, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestQueries(t *testing.T) {
	doc, err := Parse(encodeSample(t))
	require.NoError(t, err)

	pkg, err := doc.PackageName()
	require.NoError(t, err)
	assert.Equal(t, "com.example", pkg)

	sdk, err := doc.MinSDKVersion()
	require.NoError(t, err)
	assert.Equal(t, 21, sdk)

	assert.Equal(t, "com.example.F", doc.ComponentFactory())
}

func TestQueryDefaults(t *testing.T) {
	root := NewElement("manifest", Attribute{Name: "package", Value: StringValue("a.b")})
	doc := NewDocument(root)

	sdk, err := doc.MinSDKVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, sdk)
	assert.Empty(t, doc.ComponentFactory())

	root.Children = []*Node{NewElement("uses-sdk", AndroidAttr("minSdkVersion", StringValue("19")))}
	sdk, err = doc.MinSDKVersion()
	require.NoError(t, err)
	assert.Equal(t, 19, sdk)

	root.Children[0].Attrs[0].Value = StringValue("P")
	_, err = doc.MinSDKVersion()
	var pe *ParseError
	require.ErrorAs(t, err, &pe)

	root.Children[0].Attrs[0].Value = ReferenceValue(0x7f0b0001)
	_, err = doc.MinSDKVersion()
	require.ErrorIs(t, err, ErrUnresolvedReference)

	_, err = NewDocument(NewElement("resources")).PackageName()
	require.ErrorAs(t, err, &pe)

	_, err = NewDocument(NewElement("manifest")).PackageName()
	require.ErrorAs(t, err, &pe)
}

func TestParseMalformed(t *testing.T) {
	good := encodeSample(t)

	unclosed := bytes.Clone(good[:len(good)-48])
	le.PutUint32(unclosed[4:], uint32(len(unclosed)))

	badChunk := bytes.Clone(good)
	le.PutUint32(badChunk[12:], 0xfffffff0) // string pool size

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not xml", []byte{0x02, 0x00, 0x0c, 0x00, 0x10, 0, 0, 0}},
		{"truncated", good[:len(good)-10]},
		{"unclosed element", unclosed},
		{"bad chunk size", badChunk},
		{"no root", []byte{0x03, 0x00, 0x08, 0x00, 0x08, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
		})
	}
}

func poolChunk(data []byte) []byte {
	size := le.Uint32(data[chunkHeaderLen+4:])
	return data[chunkHeaderLen : chunkHeaderLen+size]
}

func TestEncodeKeepsPoolWithoutNewStrings(t *testing.T) {
	data := encodeSample(t)
	doc, err := Parse(data)
	require.NoError(t, err)

	root := doc.Root.Clone()
	root.SetAttr(AndroidAttr("versionCode", IntValue(1)))
	// drop a subtree, its strings stay in the pool
	root.Children[1].Children = nil

	out, err := doc.WithRoot(root).Encode()
	require.NoError(t, err)
	assert.Equal(t, poolChunk(data), poolChunk(out))

	back, err := Parse(out)
	require.NoError(t, err)
	a, ok := back.Root.Attr(AndroidNS, "versionCode")
	require.True(t, ok)
	assert.Equal(t, IntValue(1), a.Value)
}

func TestEncodeGrowsPool(t *testing.T) {
	doc, err := Parse(encodeSample(t))
	require.NoError(t, err)

	root := doc.Root.Clone()
	app := root.Child("application")
	provider := NewElement("provider",
		AndroidAttr("authorities", StringValue("com.example.Files")),
		AndroidAttr("exported", BoolValue(true)),
		Attribute{Name: "tools-free", Raw: ptr("x"), Value: StringValue("x")},
	)
	app.Children = append(app.Children, provider)

	out, err := doc.WithRoot(root).Encode()
	require.NoError(t, err)

	back, err := Parse(out)
	require.NoError(t, err)
	if diff := cmp.Diff(root, back.Root); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	got := back.Root.Child("application").Child("provider")
	require.NotNil(t, got)
	a, ok := got.Attr(AndroidNS, "authorities")
	require.True(t, ok)
	assert.Equal(t, uint32(AttrAuthorities), a.ResourceID)
	plain, ok := got.Attr("", "tools-free")
	require.True(t, ok)
	assert.Zero(t, plain.ResourceID)

	// untouched attributes keep their resource ids
	sdk := back.Root.Child("uses-sdk")
	a, ok = sdk.Attr(AndroidNS, "minSdkVersion")
	require.True(t, ok)
	assert.Equal(t, uint32(AttrMinSdkVersion), a.ResourceID)
	assert.Equal(t, IntValue(21), a.Value)
}

func TestStyledPoolGrowth(t *testing.T) {
	doc, err := Parse(encodeSample(t))
	require.NoError(t, err)
	doc.pool.styleCount = 1
	doc.pool.styleOffsets = make([]byte, 4)
	doc.pool.styleData = bytes.Repeat([]byte{0xff}, 8)

	plain := doc.Root.Clone()
	plain.Children = append(plain.Children, NewElement("queries"))
	_, err = doc.WithRoot(plain).Encode()
	require.NoError(t, err)

	mapped := doc.Root.Clone()
	mapped.Child("application").SetAttr(AndroidAttr("permission", StringValue("p")))
	_, err = doc.WithRoot(mapped).Encode()
	require.ErrorIs(t, err, ErrPoolGrowthUnsupported)
}

func TestUTF8Pool(t *testing.T) {
	root := sampleManifest()
	root.Child("application").SetAttr(AndroidAttr("name", StringValue("com.example.Appé")))
	doc := NewDocument(root)
	doc.pool = &stringPool{utf8: true}

	data, err := doc.Encode()
	require.NoError(t, err)
	assert.NotZero(t, le.Uint32(poolChunk(data)[16:])&poolUTF8)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, back.pool.utf8)
	name, ok := back.Root.Child("application").AndroidString("name")
	require.True(t, ok)
	assert.Equal(t, "com.example.Appé", name)
}

func TestSetAttrOrdering(t *testing.T) {
	n := NewElement("provider", Attribute{Name: "plain", Value: IntValue(1)})
	n.SetAttr(AndroidAttr("exported", BoolValue(true)))
	n.SetAttr(AndroidAttr("name", StringValue("x")))
	n.SetAttr(AndroidAttr("authorities", StringValue("a")))
	n.SetAttr(AndroidAttr("name", StringValue("y")))

	var names []string
	for _, a := range n.Attrs {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"name", "exported", "authorities", "plain"}, names)
	v, _ := n.AndroidString("name")
	assert.Equal(t, "y", v)
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleManifest()
	c := orig.Clone()
	*c.Attrs[1].Raw = "changed"
	c.Children[1].Children[0].Name = "service"
	c.Namespaces[0].Prefix = "a"

	assert.Empty(t, cmp.Diff(sampleManifest(), orig))
}

func TestIndependentDecoder(t *testing.T) {
	data := encodeSample(t)

	f, err := androidbinary.NewXMLFile(bytes.NewReader(data))
	require.NoError(t, err)

	var m apk.Manifest
	require.NoError(t, f.Decode(&m, nil, nil))

	pkg, err := m.Package.String()
	require.NoError(t, err)
	assert.Equal(t, "com.example", pkg)

	minSDK, err := m.SDK.Min.Int32()
	require.NoError(t, err)
	assert.EqualValues(t, 21, minSDK)
}

// readAapt loads a manifest compiled by aapt rather than by this package.
func readAapt(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/AndroidManifest.xml")
	require.NoError(t, err)
	return data
}

func TestAaptManifestRoundTrip(t *testing.T) {
	data := readAapt(t)

	doc, err := Parse(data)
	require.NoError(t, err)

	pkg, err := doc.PackageName()
	require.NoError(t, err)
	assert.Equal(t, "net.sorablue.shogo.FWMeasure", pkg)

	sdk, err := doc.MinSDKVersion()
	require.NoError(t, err)
	assert.Equal(t, 1, sdk)

	perms := 0
	for _, c := range doc.Root.Children {
		if c.Name == "uses-permission" {
			perms++
		}
	}
	assert.Equal(t, 6, perms)
	require.NotNil(t, doc.Root.Child("application"))

	out, err := doc.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestAaptManifestEdit(t *testing.T) {
	doc, err := Parse(readAapt(t))
	require.NoError(t, err)

	root := doc.Root.Clone()
	root.SetAttr(AndroidAttr("versionCode", IntValue(42)))
	sdk := NewElement("uses-sdk", AndroidAttr("minSdkVersion", IntValue(21)))
	root.Children = append([]*Node{sdk}, root.Children...)

	out, err := doc.WithRoot(root).Encode()
	require.NoError(t, err)

	back, err := Parse(out)
	require.NoError(t, err)
	if diff := cmp.Diff(root, back.Root); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	f, err := androidbinary.NewXMLFile(bytes.NewReader(out))
	require.NoError(t, err)
	var m apk.Manifest
	require.NoError(t, f.Decode(&m, nil, nil))

	name, err := m.Package.String()
	require.NoError(t, err)
	assert.Equal(t, "net.sorablue.shogo.FWMeasure", name)
	code, err := m.VersionCode.Int32()
	require.NoError(t, err)
	assert.EqualValues(t, 42, code)
	minSDK, err := m.SDK.Min.Int32()
	require.NoError(t, err)
	assert.EqualValues(t, 21, minSDK)
}
