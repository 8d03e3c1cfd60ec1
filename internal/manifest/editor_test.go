package manifest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralt/opatch/internal/axml"
	"github.com/ralt/opatch/internal/models"
)

func sampleManifest() *axml.Node {
	pkg := "com.example"
	root := axml.NewElement("manifest",
		axml.AndroidAttr("versionCode", axml.IntValue(42)),
		axml.Attribute{Name: "package", Raw: &pkg, Value: axml.StringValue(pkg)},
	)
	root.Namespaces = []axml.Namespace{{Prefix: "android", URI: axml.AndroidNS, Line: 2}}

	sdk := axml.NewElement("uses-sdk",
		axml.AndroidAttr("minSdkVersion", axml.IntValue(21)),
		axml.AndroidAttr("targetSdkVersion", axml.IntValue(33)),
	)
	perm := axml.NewElement("uses-permission", axml.AndroidAttr("name", axml.StringValue("android.permission.INTERNET")))
	app := axml.NewElement("application",
		axml.AndroidAttr("appComponentFactory", axml.StringValue("com.example.F")),
	)
	app.Children = []*axml.Node{
		axml.NewElement("activity", axml.AndroidAttr("name", axml.StringValue(".Main"))),
		axml.NewElement("meta-data",
			axml.AndroidAttr("name", axml.StringValue("other")),
			axml.AndroidAttr("value", axml.StringValue("kept")),
		),
	}
	root.Children = []*axml.Node{sdk, perm, app}
	return root
}

func sampleDocument(t *testing.T) *axml.Document {
	t.Helper()
	data, err := axml.NewDocument(sampleManifest()).Encode()
	require.NoError(t, err)
	doc, err := axml.Parse(data)
	require.NoError(t, err)
	return doc
}

func metaValues(root *axml.Node, key string) []string {
	var values []string
	for _, c := range root.Child("application").Children {
		if ByName("meta-data", key)(c) {
			v, _ := c.AndroidString("value")
			values = append(values, v)
		}
	}
	return values
}

func TestRewritePreservesUntouched(t *testing.T) {
	doc := sampleDocument(t)
	layout := models.DefaultLayout()
	opts := &models.PatchOptions{}

	out, err := NewEditor(Plan(opts, layout, "com.example", "bWV0YQ==")...).Rewrite(doc)
	require.NoError(t, err)

	want := doc.Root.Clone()
	app := want.Child("application")
	app.SetAttr(axml.AndroidAttr("debuggable", axml.BoolValue(false)))
	app.SetAttr(axml.AndroidAttr("appComponentFactory", axml.StringValue(layout.ProxyComponentFactory)))
	app.Children = append(app.Children, axml.NewElement("meta-data",
		axml.AndroidAttr("name", axml.StringValue(layout.MetadataKey)),
		axml.AndroidAttr("value", axml.StringValue("bWV0YQ==")),
	))
	want.Child("uses-sdk").SetAttr(axml.AndroidAttr("minSdkVersion", axml.IntValue(28)))

	if diff := cmp.Diff(want, out.Root); diff != "" {
		t.Errorf("rewritten tree mismatch (-want +got):\n%s", diff)
	}

	// the input document is untouched
	if diff := cmp.Diff(sampleManifest(), doc.Root); diff != "" {
		t.Errorf("input tree modified (-want +got):\n%s", diff)
	}

	data, err := out.Encode()
	require.NoError(t, err)
	back, err := axml.Parse(data)
	require.NoError(t, err)
	if diff := cmp.Diff(out.Root, back.Root); diff != "" {
		t.Errorf("encoded tree mismatch (-want +got):\n%s", diff)
	}
	assert.NotEqual(t, "com.example.F", back.ComponentFactory())
	sdk, err := back.MinSDKVersion()
	require.NoError(t, err)
	assert.Equal(t, 28, sdk)
}

func TestEditOrder(t *testing.T) {
	layout := models.DefaultLayout()
	insert := InsertChild(pathApplication, axml.NewElement("meta-data",
		axml.AndroidAttr("name", axml.StringValue(layout.MetadataKey)),
		axml.AndroidAttr("value", axml.StringValue("new")),
	))
	del := DeleteChildren(pathApplication, ByName("meta-data", layout.MetadataKey))
	floor := RaiseMinSDK(28)
	set := SetAttribute(pathManifest, axml.AndroidAttr("versionCode", axml.IntValue(1)))

	e := NewEditor(floor, insert)
	e.Add(del, set)

	var kinds []Kind
	for _, edit := range e.Edits() {
		kinds = append(kinds, edit.Kind)
	}
	assert.Equal(t, []Kind{KindOverride, KindDeletion, KindInsertion, KindSDKFloor}, kinds)

	out, err := e.Rewrite(sampleDocument(t))
	require.NoError(t, err)
	// deletion ran before insertion, so the new entry survives
	assert.Equal(t, []string{"new"}, metaValues(out.Root, layout.MetadataKey))
}

func TestRepatchReplacesMetadata(t *testing.T) {
	layout := models.DefaultLayout()
	opts := &models.PatchOptions{UseManager: true}

	first, err := NewEditor(Plan(opts, layout, "com.example", "first")...).Rewrite(sampleDocument(t))
	require.NoError(t, err)
	second, err := NewEditor(Plan(opts, layout, "com.example", "second")...).Rewrite(first)
	require.NoError(t, err)

	assert.Equal(t, []string{"second"}, metaValues(second.Root, layout.MetadataKey))
	assert.Equal(t, []string{"kept"}, metaValues(second.Root, "other"))

	count := 0
	for _, c := range second.Root.Children {
		if ByName("uses-permission", layout.ManagerPermission)(c) {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestPlanProvider(t *testing.T) {
	layout := models.DefaultLayout()
	opts := &models.PatchOptions{InjectProvider: true, OverrideVersionCode: true, Debuggable: true}

	out, err := NewEditor(Plan(opts, layout, "com.example", "x")...).Rewrite(sampleDocument(t))
	require.NoError(t, err)

	v, ok := out.Root.Attr(axml.AndroidNS, "versionCode")
	require.True(t, ok)
	assert.Equal(t, axml.IntValue(1), v.Value)

	app := out.Root.Child("application")
	dbg, ok := app.Attr(axml.AndroidNS, "debuggable")
	require.True(t, ok)
	assert.Equal(t, axml.BoolValue(true), dbg.Value)

	provider := app.Child("provider")
	require.NotNil(t, provider)
	auth, _ := provider.AndroidString("authorities")
	assert.Equal(t, "com.example.MTDataFilesProvider", auth)
	perm, _ := provider.AndroidString("permission")
	assert.Equal(t, layout.ProviderPermission, perm)

	action := provider.Child("intent-filter").Child("action")
	require.NotNil(t, action)
	name, _ := action.AndroidString("name")
	assert.Equal(t, layout.ProviderAction, name)

	// the new attribute names must survive an encode round trip with their ids
	data, err := out.Encode()
	require.NoError(t, err)
	back, err := axml.Parse(data)
	require.NoError(t, err)
	a, ok := back.Root.Child("application").Child("provider").Attr(axml.AndroidNS, "grantUriPermissions")
	require.True(t, ok)
	assert.Equal(t, uint32(axml.AttrGrantURIPermissions), a.ResourceID)
}

func TestRaiseMinSDK(t *testing.T) {
	tests := []struct {
		name string
		sdk  *axml.Node
		want int
	}{
		{"below floor", axml.NewElement("uses-sdk", axml.AndroidAttr("minSdkVersion", axml.IntValue(21))), 28},
		{"above floor", axml.NewElement("uses-sdk", axml.AndroidAttr("minSdkVersion", axml.IntValue(30))), 30},
		{"string value", axml.NewElement("uses-sdk", axml.AndroidAttr("minSdkVersion", axml.StringValue("19"))), 28},
		{"reference value", axml.NewElement("uses-sdk", axml.AndroidAttr("minSdkVersion", axml.ReferenceValue(0x7f0b0001))), 28},
		{"no attribute", axml.NewElement("uses-sdk", axml.AndroidAttr("targetSdkVersion", axml.IntValue(33))), 28},
		{"no uses-sdk", nil, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := axml.NewElement("manifest")
			if tt.sdk != nil {
				root.Children = []*axml.Node{tt.sdk}
			}
			out, err := RaiseMinSDK(28).Apply(root)
			require.NoError(t, err)

			got, err := axml.NewDocument(out).MinSDKVersion()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "uses-sdk", out.Children[0].Name)
		})
	}
}

func TestRewriteErrors(t *testing.T) {
	root := axml.NewElement("manifest")
	doc := axml.NewDocument(root)

	_, err := NewEditor(SetAttribute(pathApplication, axml.AndroidAttr("debuggable", axml.BoolValue(true)))).Rewrite(doc)
	var re *RewriteError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Edit, "application")

	bad := axml.NewElement("manifest", axml.AndroidAttr("x", axml.IntValue(1)))
	bad.Children = []*axml.Node{axml.NewElement("uses-sdk", axml.AndroidAttr("minSdkVersion", axml.StringValue("Q")))}
	_, err = NewEditor(RaiseMinSDK(28)).Rewrite(axml.NewDocument(bad))
	require.ErrorAs(t, err, &re)
	var pe *axml.ParseError
	assert.ErrorAs(t, err, &pe)
}
