package models

import (
	"fmt"
	"strings"
)

// Layout carries the fixed names and limits shared by the patcher and the runtime bootstrap.
// It is passed explicitly through the pipeline instead of living in package globals.
type Layout struct {
	ManifestPath     string
	ConfigAssetPath  string
	LoaderDexPath    string
	ProviderDexPath  string
	OriginalAPKPath  string
	ModulesDir       string
	NativeLibPattern string // fmt pattern taking the arch name
	Arches           []string

	MetadataKey           string
	ProxyComponentFactory string
	ProviderClass         string
	ProviderPermission    string
	ProviderAction        string
	ManagerPermission     string

	SDKFloor       int
	PageAlignment  int
	SlotFirst      int
	SlotLast       int
	OriginCacheDir string
}

// DefaultLayout returns the layout the runtime bootstrap expects.
func DefaultLayout() Layout {
	return Layout{
		ManifestPath:     "AndroidManifest.xml",
		ConfigAssetPath:  "assets/opatch/config.json",
		LoaderDexPath:    "assets/opatch/loader.dex",
		ProviderDexPath:  "assets/opatch/provider.dex",
		OriginalAPKPath:  "assets/opatch/origin.apk",
		ModulesDir:       "assets/opatch/modules/",
		NativeLibPattern: "assets/opatch/so/%s/libopatch.so",
		Arches:           []string{"armeabi-v7a", "arm64-v8a", "x86", "x86_64"},

		MetadataKey:           "loader-config",
		ProxyComponentFactory: "org.opatch.metaloader.AppComponentFactoryStub",
		ProviderClass:         "bin.mt.file.content.MTDataFilesProvider",
		ProviderPermission:    "android.permission.MANAGE_DOCUMENTS",
		ProviderAction:        "android.content.action.DOCUMENTS_PROVIDER",
		ManagerPermission:     "android.permission.QUERY_ALL_PACKAGES",

		SDKFloor:       28,
		PageAlignment:  4096,
		SlotFirst:      2,
		SlotLast:       98,
		OriginCacheDir: "cache/opatch/origin/",
	}
}

// NativeLibPath returns the entry name of the loader library for arch.
func (l Layout) NativeLibPath(arch string) string {
	return fmt.Sprintf(l.NativeLibPattern, arch)
}

// ModulePath returns the entry name of an embedded module.
func (l Layout) ModulePath(packageName string) string {
	return l.ModulesDir + packageName + ".apk"
}

// SlotName returns the dex segment name for a slot index.
func (l Layout) SlotName(i int) string {
	return fmt.Sprintf("classes%d.dex", i)
}

// ProviderAuthority returns the authority the injected provider is registered under.
func (l Layout) ProviderAuthority(packageName string) string {
	simple := l.ProviderClass
	if i := strings.LastIndexByte(simple, '.'); i >= 0 {
		simple = simple[i+1:]
	}
	return packageName + "." + simple
}

// OriginCachePath is where the runtime keeps its extracted copy of the original APK.
func (l Layout) OriginCachePath(sha256hex string) string {
	return l.OriginCacheDir + sha256hex + ".apk"
}

// IsSignatureFile reports whether name is a JAR signature file that must not survive re-signing.
func IsSignatureFile(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	for _, ext := range []string{".SF", ".MF", ".RSA", ".DSA", ".EC"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
