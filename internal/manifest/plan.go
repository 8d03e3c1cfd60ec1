package manifest

import (
	"github.com/ralt/opatch/internal/axml"
	"github.com/ralt/opatch/internal/models"
)

const (
	pathManifest    = "manifest"
	pathApplication = "manifest/application"
)

// Plan returns the edits that turn an application manifest into a patched
// one. metadata is the base64 encoded loader configuration.
func Plan(opts *models.PatchOptions, layout models.Layout, packageName, metadata string) []Edit {
	var edits []Edit

	if opts.OverrideVersionCode {
		edits = append(edits, SetAttribute(pathManifest, axml.AndroidAttr("versionCode", axml.IntValue(1))))
	}
	edits = append(edits,
		SetAttribute(pathApplication, axml.AndroidAttr("debuggable", axml.BoolValue(opts.Debuggable))),
		SetAttribute(pathApplication, axml.AndroidAttr("appComponentFactory", axml.StringValue(layout.ProxyComponentFactory))),
	)
	if opts.UseManager {
		perm := axml.NewElement("uses-permission", axml.AndroidAttr("name", axml.StringValue(layout.ManagerPermission)))
		edits = append(edits, EnsureChild(pathManifest, perm, ByName("uses-permission", layout.ManagerPermission)))
	}

	meta := axml.NewElement("meta-data",
		axml.AndroidAttr("name", axml.StringValue(layout.MetadataKey)),
		axml.AndroidAttr("value", axml.StringValue(metadata)),
	)
	edits = append(edits,
		DeleteChildren(pathApplication, ByName("meta-data", layout.MetadataKey)),
		InsertChild(pathApplication, meta),
	)

	if opts.InjectProvider {
		edits = append(edits,
			DeleteChildren(pathApplication, ByName("provider", layout.ProviderClass)),
			InsertChild(pathApplication, providerNode(layout, packageName)),
		)
	}

	return append(edits, RaiseMinSDK(layout.SDKFloor))
}

func providerNode(layout models.Layout, packageName string) *axml.Node {
	action := axml.NewElement("action", axml.AndroidAttr("name", axml.StringValue(layout.ProviderAction)))
	filter := axml.NewElement("intent-filter")
	filter.Children = []*axml.Node{action}

	provider := axml.NewElement("provider",
		axml.AndroidAttr("name", axml.StringValue(layout.ProviderClass)),
		axml.AndroidAttr("permission", axml.StringValue(layout.ProviderPermission)),
		axml.AndroidAttr("exported", axml.BoolValue(true)),
		axml.AndroidAttr("authorities", axml.StringValue(layout.ProviderAuthority(packageName))),
		axml.AndroidAttr("grantUriPermissions", axml.BoolValue(true)),
	)
	provider.Children = []*axml.Node{filter}
	return provider
}
