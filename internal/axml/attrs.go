package axml

// Framework attribute resource ids (android.R.attr) used by the patcher.
const (
	AttrName                = 0x01010003
	AttrPermission          = 0x01010006
	AttrDebuggable          = 0x0101000f
	AttrExported            = 0x01010010
	AttrAuthorities         = 0x01010018
	AttrGrantURIPermissions = 0x0101001b
	AttrValue               = 0x01010024
	AttrMinSdkVersion       = 0x0101020c
	AttrVersionCode         = 0x0101021b
	AttrTargetSdkVersion    = 0x01010270
	AttrAppComponentFactory = 0x0101057a
)

var attrIDs = map[string]uint32{
	"name":                AttrName,
	"permission":          AttrPermission,
	"debuggable":          AttrDebuggable,
	"exported":            AttrExported,
	"authorities":         AttrAuthorities,
	"grantUriPermissions": AttrGrantURIPermissions,
	"value":               AttrValue,
	"minSdkVersion":       AttrMinSdkVersion,
	"versionCode":         AttrVersionCode,
	"targetSdkVersion":    AttrTargetSdkVersion,
	"appComponentFactory": AttrAppComponentFactory,
}

// AttrID returns the resource id of a known android attribute, or 0.
func AttrID(name string) uint32 {
	return attrIDs[name]
}
